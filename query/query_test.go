package query_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/dialect"
	"github.com/blazeorm/blaze/query"
	"github.com/blazeorm/blaze/schema"
)

// fakeExec is a scripted Executor: queued row sets are returned in
// order, and materialized records are identity-mapped so repeated rows
// yield the same instance.
type fakeExec struct {
	d         dialect.Dialect
	responses [][]map[string]any
	queries   []string
	args      [][]any
	identity  map[string]*schema.Record
}

func newFakeExec(responses ...[]map[string]any) *fakeExec {
	return &fakeExec{
		d:         dialect.SQLiteDialect{},
		responses: responses,
		identity:  make(map[string]*schema.Record),
	}
}

func (f *fakeExec) Query(_ context.Context, sql string, args []any) ([]map[string]any, error) {
	f.queries = append(f.queries, sql)
	f.args = append(f.args, args)
	if len(f.responses) == 0 {
		return nil, nil
	}
	rows := f.responses[0]
	f.responses = f.responses[1:]
	return rows, nil
}

func (f *fakeExec) Materialize(_ context.Context, t *schema.Type, fields map[string]any) (*schema.Record, error) {
	pk := fields[t.PK.Name]
	key := fmt.Sprintf("%s/%v", t.Name, pk)
	if existing, ok := f.identity[key]; ok {
		return existing, nil
	}
	rec := schema.Hydrate(t, fields)
	f.identity[key] = rec
	return rec, nil
}

func (f *fakeExec) Dialect() dialect.Dialect { return f.d }

func personType(t testing.TB) *schema.Type {
	t.Helper()
	person := schema.New("Person",
		schema.Auto("id"),
		schema.String("name"),
		schema.Int("age"),
	)
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(person))
	require.NoError(t, reg.Resolve())
	return person
}

func libraryTypes(t testing.TB) (author, book, tag *schema.Type) {
	t.Helper()
	author = schema.New("Author",
		schema.Auto("id"),
		schema.String("name"),
	)
	book = schema.New("Book",
		schema.Auto("id"),
		schema.String("title"),
		schema.ForeignKey("author", "Author", schema.RelatedName("books")),
		schema.ManyToMany("tags", "Tag", schema.RelatedName("books")),
	)
	tag = schema.New("Tag",
		schema.Auto("id"),
		schema.String("name"),
	)
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(author, book, tag))
	require.NoError(t, reg.Resolve())
	return author, book, tag
}

func TestCompileSimpleFilter(t *testing.T) {
	t.Parallel()
	qs := query.NewQuerySet(personType(t), newFakeExec()).Filter(query.L{"name": "Alice"})
	sql, args, err := qs.SQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "name", "age" FROM "person" WHERE "name" = ?`, sql)
	assert.Equal(t, []any{"Alice"}, args)
}

func TestCompileOrderLimit(t *testing.T) {
	t.Parallel()
	qs := query.NewQuerySet(personType(t), newFakeExec()).
		Filter(query.L{"age__gte": 18}).
		OrderBy("-age").
		Limit(5)
	sql, args, err := qs.SQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "name", "age" FROM "person" WHERE "age" >= ? ORDER BY "age" DESC LIMIT 5`, sql)
	assert.Equal(t, []any{18}, args)
}

func TestCompileOffsetWithoutLimit(t *testing.T) {
	t.Parallel()
	qs := query.NewQuerySet(personType(t), newFakeExec()).Offset(10)
	sql, _, err := qs.SQL()
	require.NoError(t, err)
	assert.Contains(t, sql, "LIMIT -1 OFFSET 10")
}

func TestCompileLookups(t *testing.T) {
	t.Parallel()
	person := personType(t)

	t.Run("null exact is IS NULL", func(t *testing.T) {
		t.Parallel()
		sql, args, err := query.NewQuerySet(person, newFakeExec()).Filter(query.L{"age": nil}).SQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `"age" IS NULL`)
		assert.Empty(t, args)
	})

	t.Run("null with ordering lookup fails", func(t *testing.T) {
		t.Parallel()
		_, _, err := query.NewQuerySet(person, newFakeExec()).Filter(query.L{"age__gt": nil}).SQL()
		require.Error(t, err)
		assert.True(t, blaze.IsConfiguration(err))
	})

	t.Run("unknown suffix fails", func(t *testing.T) {
		t.Parallel()
		_, _, err := query.NewQuerySet(person, newFakeExec()).Filter(query.L{"age__between": 5}).SQL()
		require.Error(t, err)
		assert.ErrorContains(t, err, "unsupported lookup")
	})

	t.Run("unknown field fails", func(t *testing.T) {
		t.Parallel()
		_, _, err := query.NewQuerySet(person, newFakeExec()).Filter(query.L{"height": 180}).SQL()
		require.Error(t, err)
		assert.True(t, blaze.IsConfiguration(err))
	})

	t.Run("iexact lowers the parameter", func(t *testing.T) {
		t.Parallel()
		sql, args, err := query.NewQuerySet(person, newFakeExec()).Filter(query.L{"name__iexact": "ALICE"}).SQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `"name" LIKE ?`)
		assert.Equal(t, []any{"alice"}, args)
	})

	t.Run("contains wraps in wildcards", func(t *testing.T) {
		t.Parallel()
		sql, args, err := query.NewQuerySet(person, newFakeExec()).Filter(query.L{"name__contains": "lic"}).SQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `"name" LIKE ?`)
		assert.Equal(t, []any{"%lic%"}, args)
	})

	t.Run("sorted keys give deterministic SQL", func(t *testing.T) {
		t.Parallel()
		sql, args, err := query.NewQuerySet(person, newFakeExec()).
			Filter(query.L{"name": "Alice", "age__gte": 18}).SQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `WHERE "age" >= ? AND "name" = ?`)
		assert.Equal(t, []any{18, "Alice"}, args)
	})
}

func TestCompileBooleanTree(t *testing.T) {
	t.Parallel()
	person := personType(t)

	t.Run("exclude negates", func(t *testing.T) {
		t.Parallel()
		sql, _, err := query.NewQuerySet(person, newFakeExec()).Exclude(query.L{"name": "Bob"}).SQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `WHERE NOT ("name" = ?)`)
	})

	t.Run("or groups parenthesize", func(t *testing.T) {
		t.Parallel()
		q := query.Or(query.Where(query.L{"name": "Alice"}), query.Where(query.L{"age__lt": 10}))
		sql, args, err := query.NewQuerySet(person, newFakeExec()).Where(q).SQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `WHERE ("name" = ?) OR ("age" < ?)`)
		assert.Equal(t, []any{"Alice", 10}, args)
	})

	t.Run("chained filters are conjoined", func(t *testing.T) {
		t.Parallel()
		sql, _, err := query.NewQuerySet(person, newFakeExec()).
			Filter(query.L{"age__gte": 18}).
			Filter(query.L{"name__contains": "a"}).SQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `WHERE ("age" >= ?) AND ("name" LIKE ?)`)
	})
}

func TestQuerySetImmutability(t *testing.T) {
	t.Parallel()
	base := query.NewQuerySet(personType(t), newFakeExec())
	filtered := base.Filter(query.L{"name": "Alice"})
	limited := filtered.Limit(3)

	baseSQL, _, err := base.SQL()
	require.NoError(t, err)
	assert.NotContains(t, baseSQL, "WHERE")
	assert.NotContains(t, baseSQL, "LIMIT")

	filteredSQL, _, err := filtered.SQL()
	require.NoError(t, err)
	assert.Contains(t, filteredSQL, "WHERE")
	assert.NotContains(t, filteredSQL, "LIMIT")

	limitedSQL, _, err := limited.SQL()
	require.NoError(t, err)
	assert.Contains(t, limitedSQL, "LIMIT 3")
}

func TestSelectRelatedCompile(t *testing.T) {
	t.Parallel()
	_, book, _ := libraryTypes(t)
	sql, _, err := query.NewQuerySet(book, newFakeExec()).SelectRelated("author").SQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "book"."id", "book"."title", "book"."author_id", `+
		`"author"."id" AS "author__id", "author"."name" AS "author__name" `+
		`FROM "book" LEFT JOIN "author" ON "book"."author_id" = "author"."id"`, sql)
}

func TestSelectRelatedRejectsManyToMany(t *testing.T) {
	t.Parallel()
	_, book, _ := libraryTypes(t)
	_, _, err := query.NewQuerySet(book, newFakeExec()).SelectRelated("tags").SQL()
	require.Error(t, err)
	assert.True(t, blaze.IsConfiguration(err))
	assert.ErrorContains(t, err, "only to-one relations")
}

func TestAllHydratesEagerJoin(t *testing.T) {
	t.Parallel()
	_, book, _ := libraryTypes(t)
	exec := newFakeExec([]map[string]any{
		{"id": int64(1), "title": "Dune", "author_id": int64(7),
			"author__id": int64(7), "author__name": "Herbert"},
		{"id": int64(2), "title": "Anon", "author_id": nil,
			"author__id": nil, "author__name": nil},
	})

	records, err := query.NewQuerySet(book, exec).SelectRelated("author").All(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	related, ok := records[0].Related("author")
	require.True(t, ok)
	author := related.(*schema.Record)
	assert.Equal(t, "Herbert", author.Get("name"))

	// All joined columns NULL means no related row.
	related, ok = records[1].Related("author")
	require.True(t, ok)
	assert.Nil(t, related)
}

func TestPrefetchForwardToOne(t *testing.T) {
	t.Parallel()
	_, book, _ := libraryTypes(t)
	exec := newFakeExec(
		[]map[string]any{
			{"id": int64(1), "title": "Dune", "author_id": int64(7)},
			{"id": int64(2), "title": "Messiah", "author_id": int64(7)},
		},
		[]map[string]any{
			{"id": int64(7), "name": "Herbert"},
		},
	)

	records, err := query.NewQuerySet(book, exec).PrefetchRelated("author").All(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, exec.queries, 2)
	assert.Contains(t, exec.queries[1], `WHERE "id" IN (?)`)
	assert.Equal(t, []any{int64(7)}, exec.args[1])

	first, _ := records[0].Related("author")
	second, _ := records[1].Related("author")
	assert.Same(t, first, second)
}

func TestPrefetchReverse(t *testing.T) {
	t.Parallel()
	author, _, _ := libraryTypes(t)
	exec := newFakeExec(
		[]map[string]any{
			{"id": int64(1), "name": "Herbert"},
			{"id": int64(2), "name": "Simmons"},
		},
		[]map[string]any{
			{"id": int64(10), "title": "Dune", "author_id": int64(1)},
			{"id": int64(11), "title": "Messiah", "author_id": int64(1)},
			{"id": int64(12), "title": "Hyperion", "author_id": int64(2)},
		},
	)

	records, err := query.NewQuerySet(author, exec).PrefetchRelated("books").All(context.Background())
	require.NoError(t, err)
	require.Len(t, exec.queries, 2)
	assert.Contains(t, exec.queries[1], `WHERE "author_id" IN (?, ?)`)

	herbert, _ := records[0].Related("books")
	assert.Len(t, herbert.([]*schema.Record), 2)
	simmons, _ := records[1].Related("books")
	assert.Len(t, simmons.([]*schema.Record), 1)
	assert.Equal(t, "Hyperion", simmons.([]*schema.Record)[0].Get("title"))
}

func TestPrefetchManyToMany(t *testing.T) {
	t.Parallel()
	_, book, _ := libraryTypes(t)
	exec := newFakeExec(
		[]map[string]any{
			{"id": int64(1), "title": "Dune", "author_id": int64(7)},
			{"id": int64(2), "title": "Hyperion", "author_id": int64(8)},
		},
		[]map[string]any{
			{"book_id": int64(1), "tag_id": int64(100)},
			{"book_id": int64(1), "tag_id": int64(101)},
			{"book_id": int64(2), "tag_id": int64(100)},
		},
		[]map[string]any{
			{"id": int64(100), "name": "sf"},
			{"id": int64(101), "name": "classic"},
		},
	)

	records, err := query.NewQuerySet(book, exec).PrefetchRelated("tags").All(context.Background())
	require.NoError(t, err)
	require.Len(t, exec.queries, 3)
	assert.Contains(t, exec.queries[1], `FROM "book_tag" WHERE "book_id" IN (?, ?)`)
	assert.Contains(t, exec.queries[2], `WHERE "id" IN (?, ?)`)

	dune, _ := records[0].Related("tags")
	require.Len(t, dune.([]*schema.Record), 2)
	hyperion, _ := records[1].Related("tags")
	require.Len(t, hyperion.([]*schema.Record), 1)

	// Shared tag rows materialize once and are shared across parents.
	assert.Same(t, dune.([]*schema.Record)[0], hyperion.([]*schema.Record)[0])
}

func TestPrefetchDottedPath(t *testing.T) {
	t.Parallel()
	author, _, _ := libraryTypes(t)
	exec := newFakeExec(
		[]map[string]any{
			{"id": int64(1), "name": "Herbert"},
		},
		[]map[string]any{
			{"id": int64(10), "title": "Dune", "author_id": int64(1)},
		},
		[]map[string]any{
			{"book_id": int64(10), "tag_id": int64(100)},
		},
		[]map[string]any{
			{"id": int64(100), "name": "sf"},
		},
	)

	records, err := query.NewQuerySet(author, exec).PrefetchRelated("books__tags").All(context.Background())
	require.NoError(t, err)
	require.Len(t, exec.queries, 4)

	booksAny, _ := records[0].Related("books")
	books := booksAny.([]*schema.Record)
	require.Len(t, books, 1)
	tagsAny, ok := books[0].Related("tags")
	require.True(t, ok)
	require.Len(t, tagsAny.([]*schema.Record), 1)
	assert.Equal(t, "sf", tagsAny.([]*schema.Record)[0].Get("name"))
}

func TestFirstAndCount(t *testing.T) {
	t.Parallel()
	person := personType(t)

	t.Run("first returns not found on empty set", func(t *testing.T) {
		t.Parallel()
		exec := newFakeExec(nil)
		_, err := query.NewQuerySet(person, exec).Filter(query.L{"name": "Nobody"}).First(context.Background())
		require.Error(t, err)
		assert.True(t, blaze.IsNotFound(err))
		assert.Contains(t, exec.queries[0], "LIMIT 1")
	})

	t.Run("count compiles COUNT(*)", func(t *testing.T) {
		t.Parallel()
		exec := newFakeExec([]map[string]any{{"COUNT(*)": int64(3)}})
		n, err := query.NewQuerySet(person, exec).Filter(query.L{"age__gte": 18}).Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.Equal(t, `SELECT COUNT(*) FROM "person" WHERE "age" >= ?`, exec.queries[0])
	})
}
