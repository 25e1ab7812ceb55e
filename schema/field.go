// Package schema holds the per-type field-descriptor tables the engine
// runs on. Types are declared once, registered, and resolved in a
// second phase that binds relation targets and installs reverse
// accessors. No reflection is involved; every type carries an explicit
// ordered field list.
package schema

import "time"

// Kind enumerates field storage kinds.
type Kind int

const (
	KindAuto Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindText
	KindTime
)

// String returns the DDL-facing name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAuto:
		return "auto"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "boolean"
	case KindString:
		return "varchar"
	case KindText:
		return "text"
	case KindTime:
		return "timestamp"
	}
	return "unknown"
}

// Field describes one column (or relation endpoint) of a declared type.
type Field struct {
	Name          string
	Column        string
	Kind          Kind
	PrimaryKey    bool
	AutoIncrement bool
	Nullable      bool
	Unique        bool
	MaxLen        int
	Default       func() any
	StaticDefault bool
	Choices       []any
	Validators    []func(any) error

	// Rel is non-nil for foreign-key and many-to-many fields.
	Rel *Relation
}

// FieldOption mutates a field at declaration time.
type FieldOption func(*Field)

// NotNull marks the field as required.
func NotNull() FieldOption { return func(f *Field) { f.Nullable = false } }

// Column overrides the database column name.
func Column(name string) FieldOption { return func(f *Field) { f.Column = name } }

// MaxLen bounds string length. Violations raise, they never truncate.
func MaxLen(n int) FieldOption { return func(f *Field) { f.MaxLen = n } }

// UniqueKey adds a UNIQUE constraint.
func UniqueKey() FieldOption { return func(f *Field) { f.Unique = true } }

// Default sets a static default value. Static defaults also appear as
// DEFAULT clauses in generated DDL.
func Default(v any) FieldOption {
	return func(f *Field) {
		f.Default = func() any { return v }
		f.StaticDefault = true
	}
}

// DefaultFunc sets a default-value provider, evaluated per instance.
func DefaultFunc(fn func() any) FieldOption {
	return func(f *Field) { f.Default = fn }
}

// Choices restricts the field to an enumerated value set.
func Choices(values ...any) FieldOption {
	return func(f *Field) { f.Choices = values }
}

// Validate appends a custom validator run during the validation pass.
func Validate(fn func(any) error) FieldOption {
	return func(f *Field) { f.Validators = append(f.Validators, fn) }
}

// RelatedName names the reverse accessor installed on the target type.
// Defaults to "<typename>_set".
func RelatedName(name string) FieldOption {
	return func(f *Field) { f.Rel.RelatedName = name }
}

// OnDelete sets the referential delete policy for a foreign key.
func OnDelete(policy DeletePolicy) FieldOption {
	return func(f *Field) { f.Rel.OnDelete = policy }
}

func newField(name string, kind Kind, opts ...FieldOption) *Field {
	f := &Field{
		Name:     name,
		Column:   name,
		Kind:     kind,
		Nullable: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Auto declares an auto-incrementing integer primary key.
func Auto(name string) *Field {
	f := newField(name, KindAuto)
	f.PrimaryKey = true
	f.AutoIncrement = true
	f.Nullable = false
	return f
}

// Int declares an integer field.
func Int(name string, opts ...FieldOption) *Field { return newField(name, KindInt, opts...) }

// Float declares a floating-point field.
func Float(name string, opts ...FieldOption) *Field { return newField(name, KindFloat, opts...) }

// Bool declares a boolean field.
func Bool(name string, opts ...FieldOption) *Field { return newField(name, KindBool, opts...) }

// String declares a bounded character field.
func String(name string, opts ...FieldOption) *Field { return newField(name, KindString, opts...) }

// Text declares an unbounded character field.
func Text(name string, opts ...FieldOption) *Field { return newField(name, KindText, opts...) }

// Time declares a timestamp field.
func Time(name string, opts ...FieldOption) *Field { return newField(name, KindTime, opts...) }

// Now is a convenience default provider for Time fields.
func Now() any { return time.Now().UTC() }

// ForeignKey declares a to-one relation to the named target type. The
// database column is "<name>_id" and stores the target's primary key.
func ForeignKey(name, target string, opts ...FieldOption) *Field {
	f := newField(name, KindInt)
	f.Column = name + "_id"
	f.Rel = &Relation{Kind: RelToOne, TargetName: target, OnDelete: Cascade}
	for _, opt := range opts {
		opt(f)
	}
	f.Rel.Field = f
	return f
}

// ManyToMany declares a many-to-many relation through an implicit
// junction table named "<source_table>_<target_table>".
func ManyToMany(name, target string, opts ...FieldOption) *Field {
	f := newField(name, KindInt)
	f.Column = "" // no column on the declaring table
	f.Rel = &Relation{Kind: RelManyToMany, TargetName: target}
	for _, opt := range opts {
		opt(f)
	}
	f.Rel.Field = f
	return f
}
