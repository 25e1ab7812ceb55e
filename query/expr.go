// Package query holds the filter-expression tree, the SQL compiler,
// and the chainable QuerySet. Specifications are value-like: every
// chain method returns a new QuerySet, so partially built queries are
// safe to share and reuse.
package query

import "sort"

// L is a lookup map: field name with optional "__<suffix>" lookup to
// bound value. Compilation order is by sorted key, so the generated
// SQL is deterministic regardless of map iteration order.
type L map[string]any

type leaf struct {
	lookup string
	value  any
}

const (
	connAnd = "AND"
	connOr  = "OR"
)

// Q is a boolean filter tree: leaf comparisons combined with AND/OR
// and optional negation. Leaves stay uncompiled until the whole
// specification is rendered.
type Q struct {
	conn     string
	negated  bool
	leaves   []leaf
	children []Q
}

// Where builds a leaf group from a lookup map; entries are ANDed.
func Where(lookups L) Q {
	keys := make([]string, 0, len(lookups))
	for k := range lookups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	q := Q{conn: connAnd}
	for _, k := range keys {
		q.leaves = append(q.leaves, leaf{lookup: k, value: lookups[k]})
	}
	return q
}

// And combines sub-expressions conjunctively.
func And(qs ...Q) Q { return combine(connAnd, qs) }

// Or combines sub-expressions disjunctively.
func Or(qs ...Q) Q { return combine(connOr, qs) }

// Not negates an expression.
func Not(q Q) Q {
	q.negated = !q.negated
	return q
}

func combine(conn string, qs []Q) Q {
	kept := make([]Q, 0, len(qs))
	for _, q := range qs {
		if !q.empty() {
			kept = append(kept, q)
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return Q{conn: conn, children: kept}
}

func (q Q) empty() bool {
	return len(q.leaves) == 0 && len(q.children) == 0
}
