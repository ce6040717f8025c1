package codex

import (
	"bytes"
	"context"
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Type is the registered constructor for one logical table: its schema, the
// physical table name, the logical-to-physical name mapping (fixed at
// construction, never mutated afterwards), its relations, and the revision
// handlers when the type opted in. Build one via Initialize.
type Type struct {
	c            conn
	name         string // logical registry key
	table        string // physical table name
	schema       Schema
	toPhysical   map[string]string
	relations    map[string]Relation
	hasRevisions bool
	methods      map[string]Method
	statics      map[string]StaticMethod
}

// Name returns the logical registry key.
func (t *Type) Name() string { return t.name }

// Table returns the physical table name.
func (t *Type) Table() string { return t.table }

// HasRevisions reports whether the type maintains a revision chain.
func (t *Type) HasRevisions() bool { return t.hasRevisions }

func (t *Type) physical(logical string) string {
	if phys, ok := t.toPhysical[logical]; ok {
		return phys
	}
	return logical
}

// projection returns the logical fields (and their physical columns) that a
// SELECT for this type reads, in deterministic order.
func (t *Type) projection(includeSensitive bool) ([]string, []string) {
	logicals := t.schema.storableNames(includeSensitive)
	cols := make([]string, len(logicals))
	for i, l := range logicals {
		cols[i] = t.physical(l)
	}
	return logicals, cols
}

// condMapper rewrites logical field names in caller predicates to physical
// columns. Pre-qualified ("table.column") references pass through untouched.
func (t *Type) condMapper() func(string) string {
	return func(column string) string {
		if _, ok := t.schema[column]; ok {
			return t.physical(column)
		}
		return column
	}
}

// Record is one in-memory instance of a record type: raw persisted values
// keyed by physical column name, virtual-field values, the changed-field
// set, and snapshots of composite originals for in-place-mutation detection.
type Record struct {
	t         *Type
	values    map[string]any
	virtuals  map[string]any
	changed   map[string]struct{}
	isNew     bool
	snapshots map[string][]byte
	joined    map[string]any
}

// New builds an unsaved record, applying field defaults for anything values
// does not provide. Defaults with generators are evaluated here, per
// instance, never shared.
func (t *Type) New(values map[string]any) (*Record, error) {
	r := &Record{
		t:         t,
		values:    map[string]any{},
		virtuals:  map[string]any{},
		changed:   map[string]struct{}{},
		isNew:     true,
		snapshots: map[string][]byte{},
		joined:    map[string]any{},
	}
	for name, v := range values {
		if err := r.SetValue(name, v); err != nil {
			return nil, err
		}
	}
	for name, f := range t.schema {
		if f.virtual() || !f.HasDefault() {
			continue
		}
		phys := t.physical(name)
		if _, ok := r.values[phys]; ok {
			continue
		}
		r.values[phys] = f.DefaultValue()
		r.changed[name] = struct{}{}
	}
	r.regenerateVirtuals()
	return r, nil
}

// Type returns the record's constructor.
func (r *Record) Type() *Type { return r.t }

// IsNew reports whether the record has never been persisted. Once it flips
// false it never reverts.
func (r *Record) IsNew() bool { return r.isNew }

// ID returns the record's primary key, or "" before one is assigned.
func (r *Record) ID() string {
	id, _ := r.Value("id").(string)
	return id
}

// Changed returns the logical names currently marked as modified.
func (r *Record) Changed() []string {
	out := make([]string, 0, len(r.changed))
	for name := range r.changed {
		out = append(out, name)
	}
	return out
}

// Value reads a field by logical name, routing virtual fields to their
// in-memory values and everything else through the physical name map.
// Unknown fields read as nil.
func (r *Record) Value(name string) any {
	f, ok := r.t.schema[name]
	if !ok {
		return nil
	}
	if f.virtual() {
		return r.virtuals[name]
	}
	return r.values[r.t.physical(name)]
}

// SetValue writes a field by logical name. The field is marked changed only
// when the new value differs from what the instance currently holds.
// Validation runs at save time, not here.
func (r *Record) SetValue(name string, value any) error {
	f, ok := r.t.schema[name]
	if !ok {
		return &ValidationError{Field: name, Reason: "field is not declared in the schema"}
	}
	if f.virtual() {
		r.virtuals[name] = value
		return nil
	}
	phys := r.t.physical(name)
	if cur, ok := r.values[phys]; ok && reflect.DeepEqual(cur, value) {
		return nil
	}
	r.values[phys] = value
	r.changed[name] = struct{}{}
	return nil
}

// setStored writes a persisted value without touching the changed set, for
// values that are already on disk (hydration, revision stamps).
func (r *Record) setStored(name string, value any) {
	r.values[r.t.physical(name)] = value
}

// Join returns a hydrated relation: *Record for to-one, []*Record for
// to-many, nil when the relation was not requested or had no match.
func (r *Record) Join(name string) any { return r.joined[name] }

// SetJoin attaches related records in memory so SaveAll can persist them.
func (r *Record) SetJoin(name string, value any) error {
	rel, err := r.t.relation(name)
	if err != nil {
		return err
	}
	switch rel.Cardinality {
	case One:
		if _, ok := value.(*Record); !ok && value != nil {
			return &ValidationError{Field: name, Reason: "to-one relation takes a single record"}
		}
	case Many:
		if _, ok := value.([]*Record); !ok && value != nil {
			return &ValidationError{Field: name, Reason: "to-many relation takes a record slice"}
		}
	}
	r.joined[name] = value
	return nil
}

// SaveOption configures Save.
type SaveOption func(*saveOptions)

type saveOptions struct {
	writeSensitive bool
}

// WriteSensitive permits an update to write changed sensitive fields, which
// are otherwise skipped.
func WriteSensitive() SaveOption {
	return func(o *saveOptions) { o.writeSensitive = true }
}

// Save persists the record: new records insert every defined field and merge
// generated columns back in; existing records update only changed,
// storage-permitted fields and issue no statement at all when nothing
// changed. Composite fields mutated in place (not via SetValue) are detected
// against their snapshots and saved too.
func (r *Record) Save(ctx context.Context, opts ...SaveOption) error {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.detectCompositeMutations()
	if err := r.validateAll(); err != nil {
		return err
	}

	if r.isNew {
		if err := r.insert(ctx, r.t.c); err != nil {
			return err
		}
		r.isNew = false
	} else if err := r.update(ctx, r.t.c, o.writeSensitive); err != nil {
		return err
	}

	r.changed = map[string]struct{}{}
	r.snapshotComposites()
	r.regenerateVirtuals()
	return nil
}

// detectCompositeMutations deep-compares array and object fields against
// their tracked snapshots and re-marks the mutated ones as changed.
func (r *Record) detectCompositeMutations() {
	for name, f := range r.t.schema {
		if f.virtual() || (f.Kind != Array && f.Kind != Object) {
			continue
		}
		cur, ok := r.values[r.t.physical(name)]
		if !ok {
			continue
		}
		raw, err := json.Marshal(cur)
		if err != nil {
			continue
		}
		if snap, ok := r.snapshots[name]; !ok || !bytes.Equal(snap, raw) {
			r.changed[name] = struct{}{}
		}
	}
}

// validateAll validates every non-virtual field, re-marking a field as
// changed when validation transformed its value.
func (r *Record) validateAll() error {
	for _, name := range r.t.schema.fieldNames() {
		f := r.t.schema[name]
		if f.virtual() {
			continue
		}
		phys := r.t.physical(name)
		cur := r.values[phys]
		validated, err := f.Validate(cur, name)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(cur, validated) {
			r.values[phys] = validated
			r.changed[name] = struct{}{}
		}
	}
	return nil
}

func (r *Record) insert(ctx context.Context, e Executor) error {
	logicals, returning := r.t.projection(true)
	// Insert only the defined fields; undefined columns keep their storage
	// defaults and come back through RETURNING.
	var cols []string
	var values []any
	for _, col := range returning {
		if v, ok := r.values[col]; ok {
			cols = append(cols, col)
			values = append(values, v)
		}
	}
	st := renderInsert(r.t.table, cols, values, returning)
	rows, err := e.Query(ctx, st.sql, st.args...)
	if err != nil {
		return err
	}
	returned, err := collectRows(rows)
	if err != nil {
		return err
	}
	if len(returned) == 1 {
		// Merge the stored row so generated and default columns round-trip.
		r.mergeRow(logicals, returned[0])
	}
	return nil
}

func (r *Record) update(ctx context.Context, e Executor, writeSensitive bool) error {
	var cols []string
	var values []any
	for _, name := range r.t.schema.fieldNames() {
		if _, ok := r.changed[name]; !ok {
			continue
		}
		f := r.t.schema[name]
		if f.virtual() {
			continue
		}
		if f.Sensitive && !writeSensitive {
			continue
		}
		phys := r.t.physical(name)
		cols = append(cols, phys)
		values = append(values, r.values[phys])
	}
	if len(cols) == 0 {
		return nil // nothing changed, zero write statements
	}
	id := r.ID()
	if id == "" {
		return ErrUnsavedRecord
	}
	st := renderUpdate(r.t.table, cols, values, []Cond{Eq(r.t.physical("id"), id)})
	affected, err := e.Exec(ctx, st.sql, st.args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return &NotFoundError{Table: r.t.table, ID: id}
	}
	return nil
}

// Delete removes the record's current row.
func (r *Record) Delete(ctx context.Context) error {
	if r.isNew {
		return ErrUnsavedRecord
	}
	return r.t.Delete(ctx, r.ID())
}

// SaveAll saves the record and then persists the named relations: related
// records are saved, direct children get their foreign key stamped, and
// many-to-many relations get their through-table rows written.
func (r *Record) SaveAll(ctx context.Context, relationNames ...string) error {
	if err := r.Save(ctx); err != nil {
		return err
	}
	for _, name := range relationNames {
		rel, err := r.t.relation(name)
		if err != nil {
			return err
		}
		if err := r.saveRelation(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}

func (r *Record) saveRelation(ctx context.Context, rel Relation) error {
	attached := r.joined[rel.Name]
	if attached == nil {
		return nil
	}
	var children []*Record
	switch v := attached.(type) {
	case *Record:
		children = []*Record{v}
	case []*Record:
		children = v
	}
	sourceValue := r.Value(rel.sourceField())

	for _, child := range children {
		if rel.Through == "" {
			// Direct relation: the child's target field is the foreign key.
			if err := child.SetValue(rel.targetField(), sourceValue); err != nil {
				return err
			}
		}
		if err := child.Save(ctx); err != nil {
			return err
		}
	}

	if rel.Through == "" {
		return nil
	}
	// Through rows are idempotent: replaying a SaveAll must not duplicate
	// links.
	for _, child := range children {
		w := &sqlWriter{}
		w.WriteString("INSERT INTO ")
		w.WriteString(quoteIdent(rel.Through))
		w.WriteString(" (" + quoteIdent(rel.ThroughSource) + ", " + quoteIdent(rel.ThroughTarget) + ")")
		w.WriteString(" VALUES (" + w.arg(sourceValue) + ", " + w.arg(child.Value(rel.targetField())) + ")")
		w.WriteString(" ON CONFLICT DO NOTHING")
		st := w.statement()
		if _, err := r.t.c.Exec(ctx, st.sql, st.args...); err != nil {
			return err
		}
	}
	return nil
}

// Call dispatches an instance method declared in the manifest.
func (r *Record) Call(ctx context.Context, name string, args ...any) (any, error) {
	m, ok := r.t.methods[name]
	if !ok {
		return nil, &RegistrationError{Table: r.t.name, Reason: fmt.Sprintf("instance method %q not declared", name)}
	}
	return m(ctx, r, args...)
}

// CallStatic dispatches a static method declared in the manifest.
func (t *Type) CallStatic(ctx context.Context, name string, args ...any) (any, error) {
	m, ok := t.statics[name]
	if !ok {
		return nil, &RegistrationError{Table: t.name, Reason: fmt.Sprintf("static method %q not declared", name)}
	}
	return m(ctx, t, args...)
}

// snapshotField refreshes one composite snapshot after a stored write, so
// the value is not re-detected as an in-place mutation.
func (r *Record) snapshotField(name string) {
	if raw, err := json.Marshal(r.values[r.t.physical(name)]); err == nil {
		r.snapshots[name] = raw
	}
}

func (r *Record) snapshotComposites() {
	for name, f := range r.t.schema {
		if f.virtual() || (f.Kind != Array && f.Kind != Object) {
			continue
		}
		cur, ok := r.values[r.t.physical(name)]
		if !ok {
			delete(r.snapshots, name)
			continue
		}
		if raw, err := json.Marshal(cur); err == nil {
			r.snapshots[name] = raw
		}
	}
}

func (r *Record) regenerateVirtuals() {
	for name, f := range r.t.schema {
		if f.Compute != nil && f.virtual() {
			r.virtuals[name] = f.Compute(r)
		}
	}
}

// mergeRow folds a stored row (in projection order) back into the instance
// without marking anything changed.
func (r *Record) mergeRow(logicals []string, row []any) {
	for i, name := range logicals {
		if i >= len(row) {
			break
		}
		r.setStored(name, normalizeStored(r.t.schema[name], row[i]))
	}
}

// hydrate builds a persisted record from one result row, snapshotting
// composites and regenerating virtual fields.
func (t *Type) hydrate(logicals []string, row []any) *Record {
	r := &Record{
		t:         t,
		values:    map[string]any{},
		virtuals:  map[string]any{},
		changed:   map[string]struct{}{},
		isNew:     false,
		snapshots: map[string][]byte{},
		joined:    map[string]any{},
	}
	r.mergeRow(logicals, row)
	r.snapshotComposites()
	r.regenerateVirtuals()
	return r
}

// normalizeStored converts driver-native values into the type system's
// representation: uuid bytes become strings, integer numerics become
// float64.
func normalizeStored(f Field, v any) any {
	if v == nil {
		return nil
	}
	switch f.Kind {
	case String:
		if b, ok := v.([16]byte); ok {
			return uuid.UUID(b).String()
		}
	case Number:
		if n, ok := toFloat(v); ok {
			return n
		}
	}
	return v
}
