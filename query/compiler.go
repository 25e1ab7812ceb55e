package query

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/dialect"
	"github.com/blazeorm/blaze/schema"
)

// PathSeparator splits relation paths and aliases related columns in
// eager joins ("author__id").
const PathSeparator = "__"

var lowerCaser = cases.Lower(language.Und)

// Compiler renders query specifications and write statements for one
// dialect. It is stateless and safe to share.
type Compiler struct {
	d dialect.Dialect
}

// NewCompiler returns a compiler for the dialect.
func NewCompiler(d dialect.Dialect) *Compiler { return &Compiler{d: d} }

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() dialect.Dialect { return c.d }

type selectSpec struct {
	typ       *schema.Type
	where     Q
	order     []string
	limit     *int
	offset    *int
	joins     []string // eager-join paths
	countOnly bool
}

type compileState struct {
	c       *Compiler
	typ     *schema.Type
	qualify bool
	args    []any
}

func (st *compileState) placeholder() string {
	return st.c.d.Placeholder(len(st.args))
}

func (st *compileState) bind(v any) string {
	st.args = append(st.args, v)
	return st.placeholder()
}

func (st *compileState) columnRef(table, column string) string {
	if st.qualify {
		return st.c.d.QuoteIdentifier(table) + "." + st.c.d.QuoteIdentifier(column)
	}
	return st.c.d.QuoteIdentifier(column)
}

// joinHop is one resolved segment of an eager-join path.
type joinHop struct {
	path   string // full path up to and including this hop
	parent string // parent alias (base table for the first hop)
	rel    *schema.Relation
}

// resolveJoinPath walks a select_related path, requiring every segment
// to be a to-one relation.
func resolveJoinPath(t *schema.Type, path string) ([]joinHop, error) {
	segments := strings.Split(path, PathSeparator)
	hops := make([]joinHop, 0, len(segments))
	current := t
	parent := t.Table
	prefix := ""
	for _, seg := range segments {
		rel, ok := current.Relation(seg)
		if !ok {
			return nil, blaze.NewConfigurationError(fmt.Sprintf(
				"%s has no relation %q in path %q", current.Name, seg, path), nil)
		}
		if !rel.ToOne() {
			return nil, blaze.NewConfigurationError(fmt.Sprintf(
				"select_related path %q traverses %s relation %q; only to-one relations can be joined",
				path, rel.Kind, seg), nil)
		}
		if prefix == "" {
			prefix = seg
		} else {
			prefix = prefix + PathSeparator + seg
		}
		hops = append(hops, joinHop{path: prefix, parent: parent, rel: rel})
		parent = prefix
		current = rel.Target
	}
	return hops, nil
}

// CompileSelect renders a SELECT for the specification. Columns are
// unqualified when no join is present, and table-qualified otherwise.
func (c *Compiler) CompileSelect(spec selectSpec) (string, []any, error) {
	st := &compileState{c: c, typ: spec.typ, qualify: len(spec.joins) > 0}

	hops, err := c.resolveJoins(spec.typ, spec.joins)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if spec.countOnly {
		b.WriteString("COUNT(*)")
	} else {
		b.WriteString(strings.Join(c.selectColumns(st, spec.typ, hops), ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(c.d.FormatTable(spec.typ.Table))

	for _, hop := range hops {
		target := hop.rel.Target
		b.WriteString(" LEFT JOIN ")
		b.WriteString(c.d.FormatTable(target.Table))
		alias := hop.path
		if alias != target.Table {
			b.WriteString(" AS ")
			b.WriteString(c.d.QuoteIdentifier(alias))
		}
		fmt.Fprintf(&b, " ON %s.%s = %s.%s",
			c.d.QuoteIdentifier(hop.parent), c.d.QuoteIdentifier(hop.rel.Field.Column),
			c.d.QuoteIdentifier(alias), c.d.QuoteIdentifier(target.PK.Column))
	}

	if !spec.where.empty() {
		clause, err := c.compileQ(st, spec.where)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" WHERE ")
		b.WriteString(clause)
	}

	if !spec.countOnly && len(spec.order) > 0 {
		terms, err := c.orderTerms(st, spec.order)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	if !spec.countOnly {
		if tail := c.d.LimitClause(spec.limit, spec.offset); tail != "" {
			b.WriteString(" ")
			b.WriteString(tail)
		}
	}
	return b.String(), st.args, nil
}

func (c *Compiler) resolveJoins(t *schema.Type, paths []string) ([]joinHop, error) {
	// Deduplicate hops: "author" and "author__publisher" share the
	// first join. Paths are sorted so parents always precede children.
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	var hops []joinHop
	seen := make(map[string]bool)
	for _, path := range sorted {
		resolved, err := resolveJoinPath(t, path)
		if err != nil {
			return nil, err
		}
		for _, hop := range resolved {
			if !seen[hop.path] {
				seen[hop.path] = true
				hops = append(hops, hop)
			}
		}
	}
	return hops, nil
}

func (c *Compiler) selectColumns(st *compileState, t *schema.Type, hops []joinHop) []string {
	var cols []string
	for _, col := range t.Columns() {
		cols = append(cols, st.columnRef(t.Table, col))
	}
	for _, hop := range hops {
		target := hop.rel.Target
		for _, col := range target.Columns() {
			cols = append(cols, fmt.Sprintf("%s.%s AS %s",
				c.d.QuoteIdentifier(hop.path), c.d.QuoteIdentifier(col),
				c.d.QuoteIdentifier(hop.path+PathSeparator+col)))
		}
	}
	return cols
}

func (c *Compiler) compileQ(st *compileState, q Q) (string, error) {
	parts := make([]string, 0, len(q.leaves)+len(q.children))
	for _, lf := range q.leaves {
		rendered, err := c.compileLeaf(st, lf)
		if err != nil {
			return "", err
		}
		parts = append(parts, rendered)
	}
	for _, child := range q.children {
		rendered, err := c.compileQ(st, child)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+rendered+")")
	}
	clause := strings.Join(parts, " "+q.conn+" ")
	if q.negated {
		clause = "NOT (" + clause + ")"
	}
	return clause, nil
}

var lookupSuffixes = map[string]string{
	"exact":    "=",
	"iexact":   "LIKE",
	"gt":       ">",
	"gte":      ">=",
	"lt":       "<",
	"lte":      "<=",
	"contains": "LIKE",
}

func (c *Compiler) compileLeaf(st *compileState, lf leaf) (string, error) {
	field, lookup, err := splitLookup(st.typ, lf.lookup)
	if err != nil {
		return "", err
	}
	ref := st.columnRef(st.typ.Table, field.Column)

	if lf.value == nil {
		if lookup != "exact" {
			return "", blaze.NewConfigurationError(fmt.Sprintf(
				"lookup %q on %q does not accept NULL; only exact does", lookup, field.Name), nil)
		}
		return ref + " IS NULL", nil
	}

	op := lookupSuffixes[lookup]
	value := lf.value
	switch lookup {
	case "iexact":
		// Lower-cases the parameter only; whether LIKE itself compares
		// case-insensitively is left to the backend collation.
		value = lowerCaser.String(fmt.Sprint(value))
	case "contains":
		value = "%" + fmt.Sprint(value) + "%"
	}
	return fmt.Sprintf("%s %s %s", ref, op, st.bind(value)), nil
}

func splitLookup(t *schema.Type, raw string) (*schema.Field, string, error) {
	name, lookup := raw, "exact"
	if i := strings.LastIndex(raw, PathSeparator); i >= 0 {
		suffix := raw[i+len(PathSeparator):]
		if _, known := lookupSuffixes[suffix]; known {
			name, lookup = raw[:i], suffix
		} else {
			return nil, "", blaze.NewConfigurationError(fmt.Sprintf("unsupported lookup %q", suffix), nil)
		}
	}
	field := t.Field(name)
	if field == nil {
		return nil, "", blaze.NewConfigurationError(fmt.Sprintf("%s has no field %q", t.Name, name), nil)
	}
	return field, lookup, nil
}

func (c *Compiler) orderTerms(st *compileState, order []string) ([]string, error) {
	terms := make([]string, 0, len(order))
	for _, term := range order {
		desc := strings.HasPrefix(term, "-")
		name := strings.TrimPrefix(term, "-")
		field := st.typ.Field(name)
		if field == nil {
			return nil, blaze.NewConfigurationError(fmt.Sprintf("%s has no field %q", st.typ.Name, name), nil)
		}
		ref := st.columnRef(st.typ.Table, field.Column)
		if desc {
			ref += " DESC"
		}
		terms = append(terms, ref)
	}
	return terms, nil
}

// CompileInsert renders an INSERT over the non-nil columns of the
// record in field order. withReturning appends a RETURNING clause for
// the primary key on capable backends.
func (c *Compiler) CompileInsert(t *schema.Type, values map[string]any, withReturning bool) (string, []any) {
	var cols, marks []string
	var args []any
	for _, f := range t.ColumnFields() {
		if f.AutoIncrement && values[f.Name] == nil {
			continue
		}
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, c.d.QuoteIdentifier(f.Column))
		args = append(args, v)
		marks = append(marks, c.d.Placeholder(len(args)))
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.d.FormatTable(t.Table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if withReturning {
		sql += " RETURNING " + c.d.QuoteIdentifier(t.PK.Column)
	}
	return sql, args
}

// CompileUpdate renders an UPDATE over exactly the changed columns,
// keyed by primary key. Returns ok=false when nothing changed.
func (c *Compiler) CompileUpdate(t *schema.Type, changed map[string]any, pk any) (string, []any, bool) {
	var sets []string
	var args []any
	for _, f := range t.ColumnFields() {
		if f.PrimaryKey {
			continue
		}
		v, ok := changed[f.Name]
		if !ok {
			continue
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = %s", c.d.QuoteIdentifier(f.Column), c.d.Placeholder(len(args))))
	}
	if len(sets) == 0 {
		return "", nil, false
	}
	args = append(args, pk)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		c.d.FormatTable(t.Table), strings.Join(sets, ", "),
		c.d.QuoteIdentifier(t.PK.Column), c.d.Placeholder(len(args)))
	return sql, args, true
}

// CompileDelete renders a single-row DELETE by primary key.
func (c *Compiler) CompileDelete(t *schema.Type, pk any) (string, []any) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		c.d.FormatTable(t.Table), c.d.QuoteIdentifier(t.PK.Column), c.d.Placeholder(1))
	return sql, []any{pk}
}

// CompileIn renders a SELECT of all columns where column is in a batch
// of values. Used by the prefetch loader.
func (c *Compiler) CompileIn(t *schema.Type, column string, values []any) (string, []any) {
	marks := make([]string, len(values))
	for i := range values {
		marks[i] = c.d.Placeholder(i + 1)
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		strings.Join(c.quoteAll(t.Columns()), ", "), c.d.FormatTable(t.Table),
		c.d.QuoteIdentifier(column), strings.Join(marks, ", "))
	return sql, values
}

// CompileJunctionSelect renders the first step of an m2m prefetch: the
// junction rows whose owner column is in the batch.
func (c *Compiler) CompileJunctionSelect(rel *schema.Relation, owners []any) (string, []any) {
	marks := make([]string, len(owners))
	for i := range owners {
		marks[i] = c.d.Placeholder(i + 1)
	}
	sql := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s)",
		c.d.QuoteIdentifier(rel.OwnerColumn), c.d.QuoteIdentifier(rel.TargetColumn),
		c.d.FormatTable(rel.JunctionTable),
		c.d.QuoteIdentifier(rel.OwnerColumn), strings.Join(marks, ", "))
	return sql, owners
}

func (c *Compiler) quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = c.d.QuoteIdentifier(n)
	}
	return out
}
