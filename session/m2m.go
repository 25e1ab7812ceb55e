package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/query"
	"github.com/blazeorm/blaze/schema"
)

// RelationManager mutates and reads one many-to-many relation of one
// record through the junction table. Obtained from Session.ManyToMany.
type RelationManager struct {
	s   *Session
	rec *schema.Record
	rel *schema.Relation
}

// ManyToMany returns the relation manager for a record's m2m accessor,
// forward or reverse.
func (s *Session) ManyToMany(rec *schema.Record, name string) (*RelationManager, error) {
	rel, ok := rec.Type().Relation(name)
	if !ok {
		return nil, blaze.NewConfigurationError(fmt.Sprintf(
			"%s has no relation %q", rec.Type().Name, name), nil)
	}
	if rel.Kind != schema.RelManyToMany {
		return nil, blaze.NewConfigurationError(fmt.Sprintf(
			"%s.%s is %s, not many-to-many", rec.Type().Name, name, rel.Kind), nil)
	}
	if rec.Transient() {
		verr := &blaze.ValidationError{}
		verr.Add(name, "record has no primary key; flush it before using the relation")
		return nil, verr
	}
	return &RelationManager{s: s, rec: rec, rel: rel}, nil
}

// Add links the targets to the record, inserting one junction row per
// pair. Both sides' cached relation lists are invalidated.
func (m *RelationManager) Add(ctx context.Context, targets ...*schema.Record) error {
	argSets, err := m.pairs(targets)
	if err != nil {
		return err
	}
	d := m.s.adapter.Dialect()
	stmt := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
		d.FormatTable(m.rel.JunctionTable),
		d.QuoteIdentifier(m.rel.OwnerColumn), d.QuoteIdentifier(m.rel.TargetColumn),
		d.Placeholder(1), d.Placeholder(2))
	if err := m.s.runExecMany(ctx, stmt, argSets); err != nil {
		return err
	}
	m.invalidate(targets)
	return nil
}

// Remove unlinks the targets, deleting their junction rows.
func (m *RelationManager) Remove(ctx context.Context, targets ...*schema.Record) error {
	argSets, err := m.pairs(targets)
	if err != nil {
		return err
	}
	d := m.s.adapter.Dialect()
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
		d.FormatTable(m.rel.JunctionTable),
		d.QuoteIdentifier(m.rel.OwnerColumn), d.Placeholder(1),
		d.QuoteIdentifier(m.rel.TargetColumn), d.Placeholder(2))
	if err := m.s.runExecMany(ctx, stmt, argSets); err != nil {
		return err
	}
	m.invalidate(targets)
	return nil
}

// Clear unlinks everything on this side of the relation.
func (m *RelationManager) Clear(ctx context.Context) error {
	d := m.s.adapter.Dialect()
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		d.FormatTable(m.rel.JunctionTable),
		d.QuoteIdentifier(m.rel.OwnerColumn), d.Placeholder(1))
	if _, err := m.s.runExec(ctx, stmt, []any{m.rec.PK()}); err != nil {
		return err
	}
	m.rec.InvalidateRelated(m.rel.Name)
	return nil
}

// All returns the related records, reading the side cache when prefetch
// already resolved it and issuing the two-step junction lookup lazily
// otherwise.
func (m *RelationManager) All(ctx context.Context) ([]*schema.Record, error) {
	if cached, ok := m.rec.Related(m.rel.Name); ok {
		if records, ok := cached.([]*schema.Record); ok {
			return records, nil
		}
	}
	if err := query.Prefetch(ctx, m.s.executor(), m.rec.Type(), []*schema.Record{m.rec}, m.rel.Name); err != nil {
		return nil, err
	}
	cached, _ := m.rec.Related(m.rel.Name)
	records, _ := cached.([]*schema.Record)
	return records, nil
}

func (m *RelationManager) pairs(targets []*schema.Record) ([][]any, error) {
	argSets := make([][]any, 0, len(targets))
	for _, target := range targets {
		if target.Transient() {
			verr := &blaze.ValidationError{}
			verr.Add(m.rel.Name, "related record has no primary key; flush it first")
			return nil, verr
		}
		argSets = append(argSets, []any{m.rec.PK(), target.PK()})
	}
	return argSets, nil
}

func (m *RelationManager) invalidate(targets []*schema.Record) {
	m.rec.InvalidateRelated(m.rel.Name)
	counterpart := m.counterpartName()
	for _, target := range targets {
		target.InvalidateRelated(counterpart)
	}
}

// counterpartName is the accessor under which the other side caches
// this relation.
func (m *RelationManager) counterpartName() string {
	if m.rel.RelatedName != "" {
		return m.rel.RelatedName
	}
	return strings.ToLower(m.rel.Owner.Name) + "_set"
}
