package codex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Method is an instance method declared in a manifest and dispatched through
// Record.Call.
type Method func(ctx context.Context, r *Record, args ...any) (any, error)

// StaticMethod is a type-level method declared in a manifest and dispatched
// through Type.CallStatic.
type StaticMethod func(ctx context.Context, t *Type, args ...any) (any, error)

// Manifest declares a record type: its table, schema, revision opt-in,
// relations, and extension methods. Initialize resolves it into a registered
// *Type.
type Manifest struct {
	// TableName is the physical table. Required.
	TableName string

	// LogicalKey is the registry key; defaults to TableName.
	LogicalKey string

	// HasRevisions merges the revision fields into the schema and binds the
	// revision handlers.
	HasRevisions bool

	// Schema maps logical field names to descriptors. Required. An "id"
	// field is added automatically when absent: a required uuid string with
	// a generated default.
	Schema Schema

	Relations []Relation

	Methods       map[string]Method
	StaticMethods map[string]StaticMethod
}

// Initialize composes a manifest into a registered record type. It is called
// once per connection per type; registering the same table or logical key
// again with a different definition is a configuration error, never a silent
// fallback to the earlier registration.
func Initialize(db *DB, m Manifest) (*Type, error) {
	return initialize(db, m)
}

func initialize(c conn, m Manifest) (*Type, error) {
	if m.TableName == "" {
		return nil, &RegistrationError{Table: m.TableName, Reason: "manifest requires a table name"}
	}
	if len(m.Schema) == 0 {
		return nil, &RegistrationError{Table: m.TableName, Reason: "manifest requires a schema"}
	}

	schema := m.Schema.clone()
	if _, ok := schema["id"]; !ok {
		schema["id"] = Field{
			Kind:        String,
			Format:      FormatUUID,
			Required:    true,
			DefaultFunc: func() any { return uuid.NewString() },
		}
	}

	if m.HasRevisions {
		for name, f := range revisionSchema() {
			if _, taken := schema[name]; taken {
				return nil, &RegistrationError{
					Table:  m.TableName,
					Reason: fmt.Sprintf("field %q collides with the revision schema", name),
				}
			}
			schema[name] = f
		}
	}

	// The logical-to-physical mapping is fixed here and never mutated after
	// construction. The reverse map exists only to catch column collisions.
	toPhysical := map[string]string{}
	claimed := map[string]string{}
	for name, f := range schema {
		phys := f.Column
		if phys == "" {
			phys = name
		}
		if prior, dup := claimed[phys]; dup {
			return nil, &RegistrationError{
				Table:  m.TableName,
				Reason: fmt.Sprintf("fields %q and %q map to the same column %q", prior, name, phys),
			}
		}
		toPhysical[name] = phys
		claimed[phys] = name
	}

	relations := map[string]Relation{}
	for _, rel := range m.Relations {
		if rel.Name == "" || rel.Target == "" {
			return nil, &RegistrationError{Table: m.TableName, Reason: "relations require a name and a target"}
		}
		if _, dup := relations[rel.Name]; dup {
			return nil, &RegistrationError{Table: m.TableName, Reason: fmt.Sprintf("relation %q declared twice", rel.Name)}
		}
		if _, ok := schema[rel.sourceField()]; !ok {
			return nil, &RegistrationError{
				Table:  m.TableName,
				Reason: fmt.Sprintf("relation %q joins on undeclared field %q", rel.Name, rel.sourceField()),
			}
		}
		if rel.Cardinality == "" {
			if rel.Through != "" {
				rel.Cardinality = Many
			} else {
				rel.Cardinality = One
			}
		}
		if rel.Through != "" && (rel.ThroughSource == "" || rel.ThroughTarget == "") {
			return nil, &RegistrationError{
				Table:  m.TableName,
				Reason: fmt.Sprintf("through relation %q requires both through columns", rel.Name),
			}
		}
		relations[rel.Name] = rel
	}

	key := m.LogicalKey
	if key == "" {
		key = m.TableName
	}

	methods := map[string]Method{}
	for name, fn := range m.Methods {
		methods[name] = fn
	}
	statics := map[string]StaticMethod{}
	for name, fn := range m.StaticMethods {
		statics[name] = fn
	}

	t := &Type{
		c:            c,
		name:         key,
		table:        m.TableName,
		schema:       schema,
		toPhysical:   toPhysical,
		relations:    relations,
		hasRevisions: m.HasRevisions,
		methods:      methods,
		statics:      statics,
	}
	if err := c.registry().register(t); err != nil {
		return nil, err
	}
	return t, nil
}
