package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/dialect"
	"github.com/blazeorm/blaze/schema"
)

// Executor runs compiled SQL and materializes rows into identity-aware
// records. The session implements it.
type Executor interface {
	// Query executes a SELECT and returns rows as column→value maps.
	Query(ctx context.Context, sql string, args []any) ([]map[string]any, error)

	// Materialize turns field-keyed values into a record, reusing the
	// identity-map instance when one exists for the row's key.
	Materialize(ctx context.Context, t *schema.Type, fields map[string]any) (*schema.Record, error)

	// Dialect returns the dialect queries are compiled for.
	Dialect() dialect.Dialect
}

// QuerySet is an immutable query specification bound to a type and an
// executor. Chain methods clone; no two chained calls share state.
type QuerySet struct {
	typ      *schema.Type
	exec     Executor
	where    []Q
	order    []string
	limit    *int
	offset   *int
	joins    []string
	prefetch []string
}

// NewQuerySet returns the unrestricted set over a type.
func NewQuerySet(t *schema.Type, exec Executor) *QuerySet {
	return &QuerySet{typ: t, exec: exec}
}

// Type returns the record type the set ranges over.
func (qs *QuerySet) Type() *schema.Type { return qs.typ }

func (qs *QuerySet) clone() *QuerySet {
	dup := *qs
	dup.where = append([]Q(nil), qs.where...)
	dup.order = append([]string(nil), qs.order...)
	dup.joins = append([]string(nil), qs.joins...)
	dup.prefetch = append([]string(nil), qs.prefetch...)
	return &dup
}

// Filter restricts the set to rows matching all lookups.
func (qs *QuerySet) Filter(lookups L) *QuerySet {
	return qs.Where(Where(lookups))
}

// Exclude restricts the set to rows matching none of the lookups.
func (qs *QuerySet) Exclude(lookups L) *QuerySet {
	return qs.Where(Not(Where(lookups)))
}

// Where adds an arbitrary filter expression.
func (qs *QuerySet) Where(q Q) *QuerySet {
	dup := qs.clone()
	if !q.empty() {
		dup.where = append(dup.where, q)
	}
	return dup
}

// OrderBy replaces the ordering; a "-" prefix sorts descending.
func (qs *QuerySet) OrderBy(fields ...string) *QuerySet {
	dup := qs.clone()
	dup.order = append([]string(nil), fields...)
	return dup
}

// Limit bounds the result size.
func (qs *QuerySet) Limit(n int) *QuerySet {
	dup := qs.clone()
	dup.limit = &n
	return dup
}

// Offset skips the first n rows.
func (qs *QuerySet) Offset(n int) *QuerySet {
	dup := qs.clone()
	dup.offset = &n
	return dup
}

// SelectRelated eager-joins to-one paths into the main query.
func (qs *QuerySet) SelectRelated(paths ...string) *QuerySet {
	dup := qs.clone()
	dup.joins = append(dup.joins, paths...)
	return dup
}

// PrefetchRelated batches follow-up queries for to-many (and to-one)
// paths after the main query runs.
func (qs *QuerySet) PrefetchRelated(paths ...string) *QuerySet {
	dup := qs.clone()
	dup.prefetch = append(dup.prefetch, paths...)
	return dup
}

func (qs *QuerySet) spec() selectSpec {
	return selectSpec{
		typ:    qs.typ,
		where:  And(qs.where...),
		order:  qs.order,
		limit:  qs.limit,
		offset: qs.offset,
		joins:  qs.joins,
	}
}

// SQL compiles the specification without executing it.
func (qs *QuerySet) SQL() (string, []any, error) {
	return NewCompiler(qs.exec.Dialect()).CompileSelect(qs.spec())
}

// All executes the query, materializes records, attaches eager-joined
// relations, then runs the batched prefetches.
func (qs *QuerySet) All(ctx context.Context) ([]*schema.Record, error) {
	compiler := NewCompiler(qs.exec.Dialect())
	sql, args, err := compiler.CompileSelect(qs.spec())
	if err != nil {
		return nil, err
	}
	rows, err := qs.exec.Query(ctx, sql, args)
	if err != nil {
		return nil, err
	}

	hops, err := compiler.resolveJoins(qs.typ, qs.joins)
	if err != nil {
		return nil, err
	}
	records := make([]*schema.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := qs.materializeRow(ctx, row, hops)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	for _, path := range qs.prefetch {
		if err := Prefetch(ctx, qs.exec, qs.typ, records, path); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// First returns the first matching record, or a NotFoundError.
func (qs *QuerySet) First(ctx context.Context) (*schema.Record, error) {
	records, err := qs.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, blaze.NewNotFoundError(qs.typ.Name, nil)
	}
	return records[0], nil
}

// Count executes a COUNT(*) over the filtered set, ignoring ordering
// and pagination.
func (qs *QuerySet) Count(ctx context.Context) (int64, error) {
	spec := qs.spec()
	spec.countOnly = true
	spec.joins = nil
	sql, args, err := NewCompiler(qs.exec.Dialect()).CompileSelect(spec)
	if err != nil {
		return 0, err
	}
	rows, err := qs.exec.Query(ctx, sql, args)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		return countValue(v)
	}
	return 0, nil
}

func (qs *QuerySet) materializeRow(ctx context.Context, row map[string]any, hops []joinHop) (*schema.Record, error) {
	base := make(map[string]any, len(qs.typ.Fields))
	for _, f := range qs.typ.ColumnFields() {
		base[f.Name] = row[f.Column]
	}
	rec, err := qs.exec.Materialize(ctx, qs.typ, base)
	if err != nil {
		return nil, err
	}

	// Hops are ordered parents-first, so the holder for a nested path
	// is always resolved before its children.
	holders := map[string]*schema.Record{"": rec}
	for _, hop := range hops {
		parentKey := ""
		if i := strings.LastIndex(hop.path, PathSeparator); i >= 0 {
			parentKey = hop.path[:i]
		}
		parent := holders[parentKey]
		if parent == nil {
			continue
		}
		target := hop.rel.Target
		fields := make(map[string]any, len(target.Fields))
		allNull := true
		for _, f := range target.ColumnFields() {
			v := row[hop.path+PathSeparator+f.Column]
			if v != nil {
				allNull = false
			}
			fields[f.Name] = v
		}
		if allNull {
			parent.SetRelated(hop.rel.Name, nil)
			continue
		}
		related, err := qs.exec.Materialize(ctx, target, fields)
		if err != nil {
			return nil, err
		}
		parent.SetRelated(hop.rel.Name, related)
		holders[hop.path] = related
	}
	return rec, nil
}

func countValue(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		var n int64
		_, err := fmt.Sscan(t, &n)
		return n, err
	default:
		return 0, blaze.NewExecutionError(fmt.Sprintf("unexpected COUNT type %T", v), nil)
	}
}
