package schema

import (
	"github.com/go-openapi/inflect"
)

// Type is the immutable metadata of one declared record type: table
// name, ordered fields, designated primary key, and the relation table
// installed at resolve time.
type Type struct {
	Name  string
	Table string

	Fields []*Field
	PK     *Field

	fieldIndex map[string]*Field
	relations  map[string]*Relation // forward and reverse, by accessor name
	m2m        []*Field
}

// New declares a type. The table name defaults to the underscored type
// name; override it with SetTable before registering.
func New(name string, fields ...*Field) *Type {
	t := &Type{
		Name:       name,
		Table:      inflect.Underscore(name),
		Fields:     fields,
		fieldIndex: make(map[string]*Field, len(fields)),
		relations:  make(map[string]*Relation),
	}
	for _, f := range fields {
		t.fieldIndex[f.Name] = f
		if f.PrimaryKey {
			t.PK = f
		}
		if f.Rel != nil {
			f.Rel.Name = f.Name
			f.Rel.Owner = t
			t.relations[f.Name] = f.Rel
			if f.Rel.Kind == RelManyToMany {
				t.m2m = append(t.m2m, f)
			}
		}
	}
	return t
}

// SetTable overrides the database table name. Returns t for chaining at
// declaration sites.
func (t *Type) SetTable(table string) *Type {
	t.Table = table
	return t
}

// Field returns the named field, or nil.
func (t *Type) Field(name string) *Field { return t.fieldIndex[name] }

// Relation returns the named relation endpoint (forward or reverse).
func (t *Type) Relation(name string) (*Relation, bool) {
	r, ok := t.relations[name]
	return r, ok
}

// Relations returns every navigable endpoint on the type.
func (t *Type) Relations() map[string]*Relation { return t.relations }

// ManyToManyFields returns the m2m fields declared on this type.
func (t *Type) ManyToManyFields() []*Field { return t.m2m }

// Columns returns the database columns in declaration order. Fields
// without a column (m2m) are skipped.
func (t *Type) Columns() []string {
	cols := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Column == "" {
			continue
		}
		cols = append(cols, f.Column)
	}
	return cols
}

// ColumnFields returns the fields backed by a column, in order.
func (t *Type) ColumnFields() []*Field {
	fields := make([]*Field, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Column == "" {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// FieldByColumn resolves a database column back to its field.
func (t *Type) FieldByColumn(column string) *Field {
	for _, f := range t.Fields {
		if f.Column == column {
			return f
		}
	}
	return nil
}

func (t *Type) addRelation(name string, r *Relation) bool {
	if _, exists := t.relations[name]; exists {
		return false
	}
	t.relations[name] = r
	return true
}
