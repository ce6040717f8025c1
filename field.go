package codex

import (
	"fmt"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Kind is the abstract storage kind of a field.
type Kind int

const (
	String Kind = iota
	Number
	Bool
	Date
	Array
	Object
	// Virtual fields live only on the in-memory instance and are never
	// written to storage.
	Virtual
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Date:
		return "date"
	case Array:
		return "array"
	case Object:
		return "object"
	case Virtual:
		return "virtual"
	}
	return "unknown"
}

// Format names a built-in string format check.
type Format string

const (
	FormatNone  Format = ""
	FormatUUID  Format = "uuid"
	FormatEmail Format = "email"
	FormatURL   Format = "url"
)

// Validator is a custom field predicate run after the kind-specific checks.
// It may return a transformed value; returning the input unchanged is fine.
type Validator func(value any) (any, error)

// Field describes one logical field of a record type: its kind, constraints,
// default, and projection flags.
type Field struct {
	Kind Kind

	// Column is the physical column name. Empty means the logical name is
	// also the physical name.
	Column string

	Required bool

	// Sensitive fields are excluded from default projections and joins
	// unless explicitly requested.
	Sensitive bool

	// String constraints.
	MinLength int
	MaxLength int // 0 = unbounded
	Pattern   *regexp.Regexp
	Format    Format

	// Number constraints. Nil = unbounded.
	Min *float64
	Max *float64

	// Enum restricts the value to one of the listed values.
	Enum []any

	// Default is a literal default. DefaultFunc is a lazy generator invoked
	// once per instance; it wins over Default when both are set. Generators
	// must never be evaluated once and shared across instances.
	Default     any
	DefaultFunc func() any

	// Validators run in order after the kind checks, short-circuiting on the
	// first failure.
	Validators []Validator

	// Compute regenerates a virtual field from the record after each save
	// and hydration.
	Compute func(r *Record) any
}

// Float64 is a convenience for Field.Min / Field.Max literals.
func Float64(v float64) *float64 { return &v }

// HasDefault reports whether the field declares a literal or computed default.
func (f Field) HasDefault() bool {
	return f.DefaultFunc != nil || f.Default != nil
}

// DefaultValue resolves the field default. Generators are invoked lazily so
// values like timestamps and generated ids are fresh per instance.
func (f Field) DefaultValue() any {
	if f.DefaultFunc != nil {
		return f.DefaultFunc()
	}
	return f.Default
}

func (f Field) virtual() bool { return f.Kind == Virtual }

// Validate checks value against the field's kind and constraints and returns
// the (possibly coerced) value. Nil passes through unless the field is
// required. Validation is idempotent: validating an already-validated value
// returns it unchanged.
func (f Field) Validate(value any, fieldName string) (any, error) {
	if value == nil {
		if f.Required {
			return nil, &ValidationError{Field: fieldName, Reason: "value is required"}
		}
		return nil, nil
	}
	if f.virtual() {
		return value, nil
	}

	v, err := f.checkKind(value, fieldName)
	if err != nil {
		return nil, err
	}
	if err := f.checkEnum(v, fieldName); err != nil {
		return nil, err
	}
	for _, validate := range f.Validators {
		v, err = validate(v)
		if err != nil {
			if taxonomy(err) {
				return nil, err
			}
			return nil, &ValidationError{Field: fieldName, Reason: err.Error()}
		}
	}
	return v, nil
}

func (f Field) checkKind(value any, fieldName string) (any, error) {
	switch f.Kind {
	case String:
		s, ok := value.(string)
		if !ok {
			return nil, &ValidationError{Field: fieldName, Reason: fmt.Sprintf("expected string, got %T", value)}
		}
		return s, f.checkString(s, fieldName)
	case Number:
		n, ok := toFloat(value)
		if !ok {
			return nil, &ValidationError{Field: fieldName, Reason: fmt.Sprintf("expected number, got %T", value)}
		}
		if f.Min != nil && n < *f.Min {
			return nil, &ValidationError{Field: fieldName, Reason: fmt.Sprintf("%v is below minimum %v", n, *f.Min)}
		}
		if f.Max != nil && n > *f.Max {
			return nil, &ValidationError{Field: fieldName, Reason: fmt.Sprintf("%v is above maximum %v", n, *f.Max)}
		}
		return n, nil
	case Bool:
		b, ok := value.(bool)
		if !ok {
			return nil, &ValidationError{Field: fieldName, Reason: fmt.Sprintf("expected bool, got %T", value)}
		}
		return b, nil
	case Date:
		switch t := value.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err != nil {
				return nil, &ValidationError{Field: fieldName, Reason: "expected RFC 3339 timestamp"}
			}
			return parsed, nil
		}
		return nil, &ValidationError{Field: fieldName, Reason: fmt.Sprintf("expected date, got %T", value)}
	case Array:
		arr, err := normalizeArray(value)
		if err != nil {
			return nil, &ValidationError{Field: fieldName, Reason: err.Error()}
		}
		if f.MinLength > 0 && len(arr) < f.MinLength {
			return nil, &ValidationError{Field: fieldName, Reason: fmt.Sprintf("needs at least %d elements", f.MinLength)}
		}
		if f.MaxLength > 0 && len(arr) > f.MaxLength {
			return nil, &ValidationError{Field: fieldName, Reason: fmt.Sprintf("allows at most %d elements", f.MaxLength)}
		}
		return arr, nil
	case Object:
		obj, err := normalizeObject(value)
		if err != nil {
			return nil, &ValidationError{Field: fieldName, Reason: err.Error()}
		}
		return obj, nil
	}
	return value, nil
}

func (f Field) checkString(s, fieldName string) error {
	if f.MinLength > 0 && len(s) < f.MinLength {
		return &ValidationError{Field: fieldName, Reason: fmt.Sprintf("shorter than minimum length %d", f.MinLength)}
	}
	if f.MaxLength > 0 && len(s) > f.MaxLength {
		return &ValidationError{Field: fieldName, Reason: fmt.Sprintf("longer than maximum length %d", f.MaxLength)}
	}
	if f.Pattern != nil && !f.Pattern.MatchString(s) {
		return &ValidationError{Field: fieldName, Reason: fmt.Sprintf("does not match pattern %s", f.Pattern)}
	}
	switch f.Format {
	case FormatUUID:
		if _, err := uuid.Parse(s); err != nil {
			return &ValidationError{Field: fieldName, Reason: "not a valid uuid"}
		}
	case FormatEmail:
		if _, err := mail.ParseAddress(s); err != nil {
			return &ValidationError{Field: fieldName, Reason: "not a valid email address"}
		}
	case FormatURL:
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ValidationError{Field: fieldName, Reason: "not a valid url"}
		}
	}
	return nil
}

func (f Field) checkEnum(value any, fieldName string) error {
	if len(f.Enum) == 0 {
		return nil
	}
	for _, allowed := range f.Enum {
		if reflect.DeepEqual(value, allowed) {
			return nil
		}
		// Numbers coerce to float64 before the enum check runs.
		if n, ok := toFloat(allowed); ok && reflect.DeepEqual(value, n) {
			return nil
		}
	}
	return &ValidationError{Field: fieldName, Reason: fmt.Sprintf("%v is not one of the allowed values", value)}
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// normalizeArray coerces any slice into []any via a JSON round trip so
// composite values compare and persist uniformly. []any passes through.
func normalizeArray(value any) ([]any, error) {
	if arr, ok := value.([]any); ok {
		return arr, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected array, got %T", value)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("expected array, got %T", value)
	}
	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("expected array, got %T", value)
	}
	return arr, nil
}

// normalizeObject coerces maps and structs into map[string]any the same way.
func normalizeObject(value any) (map[string]any, error) {
	if obj, ok := value.(map[string]any); ok {
		return obj, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("expected object, got %T", value)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("expected object, got %T", value)
	}
	return obj, nil
}
