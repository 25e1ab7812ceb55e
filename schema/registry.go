package schema

import (
	"fmt"
	"strings"

	"github.com/blazeorm/blaze"
)

// Registry collects declared types and resolves their relation graph in
// a single explicit pass. Registration and resolution are separate
// phases so forward references by name are legal until Resolve runs;
// after that, anything still unresolved is a configuration error.
type Registry struct {
	types    map[string]*Type
	order    []string
	resolved bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// Register adds types to the registry. Re-registering a name is a
// configuration error.
func (r *Registry) Register(types ...*Type) error {
	if r.resolved {
		return blaze.NewConfigurationError("registry already resolved", nil)
	}
	for _, t := range types {
		if _, dup := r.types[t.Name]; dup {
			return blaze.NewConfigurationError(fmt.Sprintf("type %q registered twice", t.Name), nil)
		}
		if t.PK == nil {
			return blaze.NewConfigurationError(fmt.Sprintf("type %q has no primary key", t.Name), nil)
		}
		r.types[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return nil
}

// Type returns the named type, or nil before registration.
func (r *Registry) Type(name string) *Type { return r.types[name] }

// Types returns all registered types in registration order.
func (r *Registry) Types() []*Type {
	out := make([]*Type, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

// Resolve binds every relation field to its concrete target type and
// installs the reverse accessors. Idempotent once successful.
func (r *Registry) Resolve() error {
	if r.resolved {
		return nil
	}
	for _, name := range r.order {
		t := r.types[name]
		for _, f := range t.Fields {
			if f.Rel == nil {
				continue
			}
			target, ok := r.types[f.Rel.TargetName]
			if !ok {
				return blaze.NewConfigurationError(fmt.Sprintf(
					"type %q field %q references unregistered type %q",
					t.Name, f.Name, f.Rel.TargetName), nil)
			}
			f.Rel.Target = target
			switch f.Rel.Kind {
			case RelToOne:
				if err := installReverse(t, target, f, RelToManyReverse); err != nil {
					return err
				}
			case RelManyToMany:
				f.Rel.JunctionTable = JunctionTable(t, target)
				f.Rel.OwnerColumn = t.Table + "_id"
				f.Rel.TargetColumn = target.Table + "_id"
				if err := installReverse(t, target, f, RelManyToMany); err != nil {
					return err
				}
			}
		}
	}
	r.resolved = true
	return nil
}

func installReverse(owner, target *Type, f *Field, kind RelKind) error {
	name := f.Rel.RelatedName
	if name == "" {
		name = strings.ToLower(owner.Name) + "_set"
	}
	rev := &Relation{
		Kind:        kind,
		Name:        name,
		TargetName:  owner.Name,
		Target:      owner,
		Owner:       target,
		Field:       f,
		RelatedName: f.Name,
	}
	if kind == RelManyToMany {
		// The reverse side walks the same junction from the other end.
		rev.JunctionTable = f.Rel.JunctionTable
		rev.OwnerColumn = f.Rel.TargetColumn
		rev.TargetColumn = f.Rel.OwnerColumn
	}
	if !target.addRelation(name, rev) {
		return blaze.NewConfigurationError(fmt.Sprintf(
			"reverse accessor %q on %q collides; set RelatedName on %s.%s",
			name, target.Name, owner.Name, f.Name), nil)
	}
	return nil
}

// JunctionTable names the implicit m2m table for a source/target pair.
func JunctionTable(source, target *Type) string {
	return source.Table + "_" + target.Table
}
