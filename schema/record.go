package schema

import (
	"fmt"

	"github.com/blazeorm/blaze"
)

// Record is one instance of a declared type: current field values, the
// snapshot taken at last load or save, and a side cache of resolved
// related instances. Identity is (type, pk); a record without a pk
// value is transient.
type Record struct {
	typ     *Type
	values  map[string]any
	initial map[string]any
	related map[string]any
}

// NewRecord creates a transient record, applying field defaults.
func NewRecord(t *Type) *Record {
	r := &Record{
		typ:     t,
		values:  make(map[string]any, len(t.Fields)),
		initial: make(map[string]any, len(t.Fields)),
		related: make(map[string]any),
	}
	for _, f := range t.Fields {
		if f.Column == "" {
			continue
		}
		if f.Default != nil {
			r.values[f.Name] = f.Default()
		} else {
			r.values[f.Name] = nil
		}
	}
	return r
}

// Hydrate builds a record from database values keyed by field name and
// marks it clean. No constraint checks run; the row is trusted.
func Hydrate(t *Type, values map[string]any) *Record {
	r := &Record{
		typ:     t,
		values:  make(map[string]any, len(values)),
		initial: make(map[string]any, len(values)),
		related: make(map[string]any),
	}
	for k, v := range values {
		r.values[k] = v
		r.initial[k] = v
	}
	return r
}

// Type returns the record's type metadata.
func (r *Record) Type() *Type { return r.typ }

// Get returns the current value of the named field.
func (r *Record) Get(name string) any { return r.values[name] }

// Set writes a field value after enforcing nullability, choices, and
// max length. Violations are errors, never silent coercions. Assigning
// a related Record to a foreign-key field stores its primary key and
// caches the instance.
func (r *Record) Set(name string, value any) error {
	f := r.typ.Field(name)
	if f == nil {
		return blaze.NewConfigurationError(fmt.Sprintf("%s has no field %q", r.typ.Name, name), nil)
	}
	if f.Rel != nil && f.Rel.Kind == RelManyToMany {
		return blaze.NewConfigurationError(fmt.Sprintf(
			"%s.%s is many-to-many; use the relation manager", r.typ.Name, name), nil)
	}
	if rel, ok := value.(*Record); ok && f.Rel != nil {
		if rel.Transient() {
			verr := blaze.ValidationError{}
			verr.Add(name, "related record has no primary key; flush it first")
			return &verr
		}
		r.related[name] = rel
		value = rel.PK()
	}
	if err := checkValue(f, value); err != nil {
		return err
	}
	r.values[name] = value
	return nil
}

func checkValue(f *Field, value any) error {
	if value == nil {
		if f.Nullable || f.AutoIncrement {
			return nil
		}
		verr := blaze.ValidationError{}
		verr.Add(f.Name, "value may not be null")
		return &verr
	}
	if f.MaxLen > 0 {
		if s, ok := value.(string); ok && len(s) > f.MaxLen {
			verr := blaze.ValidationError{}
			verr.Add(f.Name, fmt.Sprintf("length %d exceeds maximum %d", len(s), f.MaxLen))
			return &verr
		}
	}
	if len(f.Choices) > 0 {
		for _, c := range f.Choices {
			if c == value {
				return nil
			}
		}
		verr := blaze.ValidationError{}
		verr.Add(f.Name, fmt.Sprintf("%v is not a valid choice", value))
		return &verr
	}
	return nil
}

// PK returns the primary-key value, nil when transient.
func (r *Record) PK() any { return r.values[r.typ.PK.Name] }

// SetPK assigns a generated key and folds it into the snapshot.
func (r *Record) SetPK(v any) {
	r.values[r.typ.PK.Name] = v
	r.initial[r.typ.PK.Name] = v
}

// Transient reports whether the record has not been persisted yet.
func (r *Record) Transient() bool { return r.PK() == nil }

// IsDirty reports whether any tracked field differs from the snapshot.
func (r *Record) IsDirty() bool { return len(r.Changed()) > 0 }

// Changed returns field name to current value for every field that
// differs from the initial snapshot.
func (r *Record) Changed() map[string]any {
	changed := make(map[string]any)
	for name, v := range r.values {
		if initial, ok := r.initial[name]; !ok || initial != v {
			changed[name] = v
		}
	}
	return changed
}

// Snapshot marks the current values as the new baseline, typically
// after a successful insert or update.
func (r *Record) Snapshot() {
	for name, v := range r.values {
		r.initial[name] = v
	}
}

// Values returns a copy of the current field values.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Related returns the cached related instance(s) for a relation name.
func (r *Record) Related(name string) (any, bool) {
	v, ok := r.related[name]
	return v, ok
}

// SetRelated stores a resolved relation result in the side cache.
func (r *Record) SetRelated(name string, v any) { r.related[name] = v }

// InvalidateRelated drops a cached relation result, forcing the next
// access to reload.
func (r *Record) InvalidateRelated(name string) { delete(r.related, name) }
