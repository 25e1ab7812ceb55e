package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/schema"
)

// Prefetch loads one relation path for a batch of parent records with
// a constant number of follow-up queries, then recurses into the
// remaining dotted segments rooted at the resolved instances. The
// session's relation manager reuses it for lazy loads.
func Prefetch(ctx context.Context, exec Executor, t *schema.Type, records []*schema.Record, path string) error {
	if len(records) == 0 {
		return nil
	}
	head, tail := path, ""
	if i := strings.Index(path, PathSeparator); i >= 0 {
		head, tail = path[:i], path[i+len(PathSeparator):]
	}
	rel, ok := t.Relation(head)
	if !ok {
		return blaze.NewConfigurationError(fmt.Sprintf(
			"%s has no relation %q in prefetch path %q", t.Name, head, path), nil)
	}

	var (
		resolved []*schema.Record
		err      error
	)
	switch rel.Kind {
	case schema.RelToOne:
		resolved, err = prefetchToOne(ctx, exec, rel, records)
	case schema.RelToManyReverse:
		resolved, err = prefetchReverse(ctx, exec, rel, records)
	case schema.RelManyToMany:
		resolved, err = prefetchManyToMany(ctx, exec, rel, records)
	}
	if err != nil {
		return err
	}
	if tail != "" {
		return Prefetch(ctx, exec, rel.Target, resolved, tail)
	}
	return nil
}

func prefetchToOne(ctx context.Context, exec Executor, rel *schema.Relation, records []*schema.Record) ([]*schema.Record, error) {
	var keys []any
	seen := make(map[string]bool)
	for _, r := range records {
		fk := r.Get(rel.Field.Name)
		if fk == nil {
			continue
		}
		if k := normKey(fk); !seen[k] {
			seen[k] = true
			keys = append(keys, fk)
		}
	}
	if len(keys) == 0 {
		for _, r := range records {
			r.SetRelated(rel.Name, nil)
		}
		return nil, nil
	}

	target := rel.Target
	related, err := queryBatch(ctx, exec, target, target.PK.Column, keys)
	if err != nil {
		return nil, err
	}
	byPK := make(map[string]*schema.Record, len(related))
	for _, rec := range related {
		byPK[normKey(rec.PK())] = rec
	}
	for _, r := range records {
		fk := r.Get(rel.Field.Name)
		if fk == nil {
			r.SetRelated(rel.Name, nil)
			continue
		}
		if match, ok := byPK[normKey(fk)]; ok {
			r.SetRelated(rel.Name, match)
		} else {
			r.SetRelated(rel.Name, nil)
		}
	}
	return related, nil
}

func prefetchReverse(ctx context.Context, exec Executor, rel *schema.Relation, records []*schema.Record) ([]*schema.Record, error) {
	parents, keys := parentKeys(records)
	if len(keys) == 0 {
		return nil, nil
	}

	children, err := queryBatch(ctx, exec, rel.Target, rel.Field.Column, keys)
	if err != nil {
		return nil, err
	}
	buckets := make(map[string][]*schema.Record)
	for _, child := range children {
		k := normKey(child.Get(rel.Field.Name))
		buckets[k] = append(buckets[k], child)
	}
	for k, parent := range parents {
		bucket := buckets[k]
		if bucket == nil {
			bucket = []*schema.Record{}
		}
		parent.SetRelated(rel.Name, bucket)
	}
	return children, nil
}

func prefetchManyToMany(ctx context.Context, exec Executor, rel *schema.Relation, records []*schema.Record) ([]*schema.Record, error) {
	parents, keys := parentKeys(records)
	if len(keys) == 0 {
		return nil, nil
	}

	junctionSQL, junctionArgs := NewCompiler(exec.Dialect()).CompileJunctionSelect(rel, keys)
	junctionRows, err := exec.Query(ctx, junctionSQL, junctionArgs)
	if err != nil {
		return nil, err
	}

	// Bucket target keys per owner, deduplicated, preserving junction
	// row order.
	owners := make(map[string][]string)
	ownerSeen := make(map[string]map[string]bool)
	var targetKeys []any
	targetSeen := make(map[string]bool)
	for _, row := range junctionRows {
		ownerKey := normKey(row[rel.OwnerColumn])
		targetVal := row[rel.TargetColumn]
		targetKey := normKey(targetVal)
		if ownerSeen[ownerKey] == nil {
			ownerSeen[ownerKey] = make(map[string]bool)
		}
		if !ownerSeen[ownerKey][targetKey] {
			ownerSeen[ownerKey][targetKey] = true
			owners[ownerKey] = append(owners[ownerKey], targetKey)
		}
		if !targetSeen[targetKey] {
			targetSeen[targetKey] = true
			targetKeys = append(targetKeys, targetVal)
		}
	}

	byPK := make(map[string]*schema.Record)
	var related []*schema.Record
	if len(targetKeys) > 0 {
		related, err = queryBatch(ctx, exec, rel.Target, rel.Target.PK.Column, targetKeys)
		if err != nil {
			return nil, err
		}
		for _, rec := range related {
			byPK[normKey(rec.PK())] = rec
		}
	}

	for k, parent := range parents {
		bucket := []*schema.Record{}
		for _, targetKey := range owners[k] {
			if rec, ok := byPK[targetKey]; ok {
				bucket = append(bucket, rec)
			}
		}
		parent.SetRelated(rel.Name, bucket)
	}
	return related, nil
}

// queryBatch runs an IN query and materializes each row.
func queryBatch(ctx context.Context, exec Executor, t *schema.Type, column string, values []any) ([]*schema.Record, error) {
	sql, args := NewCompiler(exec.Dialect()).CompileIn(t, column, values)
	rows, err := exec.Query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.Record, 0, len(rows))
	for _, row := range rows {
		fields := make(map[string]any, len(t.Fields))
		for _, f := range t.ColumnFields() {
			fields[f.Name] = row[f.Column]
		}
		rec, err := exec.Materialize(ctx, t, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// parentKeys maps normalized pk to parent record and returns the
// distinct pk batch in input order. Transient parents are skipped.
func parentKeys(records []*schema.Record) (map[string]*schema.Record, []any) {
	parents := make(map[string]*schema.Record, len(records))
	var keys []any
	for _, r := range records {
		pk := r.PK()
		if pk == nil {
			continue
		}
		k := normKey(pk)
		if _, dup := parents[k]; !dup {
			parents[k] = r
			keys = append(keys, pk)
		}
	}
	return parents, keys
}

// normKey normalizes driver-dependent numeric types so int64 keys from
// the database bucket with int keys set by callers.
func normKey(v any) string { return fmt.Sprint(v) }
