package schema

// RelKind is the closed set of relation shapes. Loaders switch on the
// tag rather than on open-ended field subtypes.
type RelKind int

const (
	// RelToOne is a foreign key: the owning row stores the target's
	// primary key.
	RelToOne RelKind = iota

	// RelToManyReverse is the installed back-reference of a foreign
	// key: all target rows whose fk column equals the owner's pk.
	RelToManyReverse

	// RelManyToMany links both sides through a junction table keyed by
	// the two primary keys.
	RelManyToMany
)

func (k RelKind) String() string {
	switch k {
	case RelToOne:
		return "to_one"
	case RelToManyReverse:
		return "to_many_reverse"
	case RelManyToMany:
		return "many_to_many"
	}
	return "unknown"
}

// DeletePolicy is the referential action taken when the target row of a
// foreign key is deleted.
type DeletePolicy string

const (
	Cascade  DeletePolicy = "CASCADE"
	SetNull  DeletePolicy = "SET NULL"
	Restrict DeletePolicy = "RESTRICT"
)

// Relation describes one navigable relation endpoint. Forward endpoints
// (RelToOne, RelManyToMany) are declared on fields; reverse endpoints
// are installed on the target type during Registry.Resolve.
type Relation struct {
	Kind RelKind

	// Name is the accessor name on Owner. For forward relations it is
	// the field name; for reverse relations the related name.
	Name string

	// TargetName is the declared target type name, bound to Target
	// during Resolve.
	TargetName string
	Target     *Type

	// Owner is the type the relation is navigated from.
	Owner *Type

	// Field is the foreign-key or m2m field driving the relation. For
	// reverse relations it lives on Target, not Owner.
	Field *Field

	RelatedName string
	OnDelete    DeletePolicy

	// Junction metadata, populated for RelManyToMany during Resolve.
	// OwnerColumn references Owner's pk, TargetColumn the target's.
	JunctionTable string
	OwnerColumn   string
	TargetColumn  string
}

// ToOne reports whether the relation can be eager-joined.
func (r *Relation) ToOne() bool { return r.Kind == RelToOne }
