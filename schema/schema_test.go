package schema_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/schema"
)

func libraryRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	author := schema.New("Author",
		schema.Auto("id"),
		schema.String("name", schema.NotNull(), schema.MaxLen(120)),
	)
	book := schema.New("Book",
		schema.Auto("id"),
		schema.String("title", schema.NotNull()),
		schema.Int("year"),
		schema.ForeignKey("author", "Author", schema.RelatedName("books")),
		schema.ManyToMany("tags", "Tag", schema.RelatedName("books")),
	)
	tag := schema.New("Tag",
		schema.Auto("id"),
		schema.String("name", schema.NotNull(), schema.UniqueKey()),
	)
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(author, book, tag))
	require.NoError(t, reg.Resolve())
	return reg
}

func TestDeclaration(t *testing.T) {
	t.Parallel()
	reg := libraryRegistry(t)

	book := reg.Type("Book")
	require.NotNil(t, book)
	assert.Equal(t, "book", book.Table)
	assert.Equal(t, "id", book.PK.Name)
	assert.True(t, book.PK.AutoIncrement)

	// FK fields get a <name>_id column; m2m fields have none.
	assert.Equal(t, "author_id", book.Field("author").Column)
	assert.Equal(t, []string{"id", "title", "year", "author_id"}, book.Columns())
}

func TestResolveInstallsReverseRelations(t *testing.T) {
	t.Parallel()
	reg := libraryRegistry(t)
	author := reg.Type("Author")
	tag := reg.Type("Tag")
	book := reg.Type("Book")

	books, ok := author.Relation("books")
	require.True(t, ok)
	assert.Equal(t, schema.RelToManyReverse, books.Kind)
	assert.Same(t, book, books.Target)
	assert.Equal(t, "author_id", books.Field.Column)

	forward, ok := book.Relation("tags")
	require.True(t, ok)
	assert.Equal(t, schema.RelManyToMany, forward.Kind)
	assert.Equal(t, "book_tag", forward.JunctionTable)
	assert.Equal(t, "book_id", forward.OwnerColumn)
	assert.Equal(t, "tag_id", forward.TargetColumn)

	reverse, ok := tag.Relation("books")
	require.True(t, ok)
	assert.Equal(t, schema.RelManyToMany, reverse.Kind)
	assert.Equal(t, "book_tag", reverse.JunctionTable)
	assert.Equal(t, "tag_id", reverse.OwnerColumn)
	assert.Equal(t, "book_id", reverse.TargetColumn)
}

func TestResolveFailures(t *testing.T) {
	t.Parallel()

	t.Run("unresolved target", func(t *testing.T) {
		t.Parallel()
		reg := schema.NewRegistry()
		require.NoError(t, reg.Register(schema.New("Book",
			schema.Auto("id"),
			schema.ForeignKey("author", "Author"),
		)))
		err := reg.Resolve()
		require.Error(t, err)
		assert.True(t, blaze.IsConfiguration(err))
		assert.ErrorContains(t, err, `unregistered type "Author"`)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		t.Parallel()
		reg := schema.NewRegistry()
		tag := schema.New("Tag", schema.Auto("id"))
		require.NoError(t, reg.Register(tag))
		err := reg.Register(schema.New("Tag", schema.Auto("id")))
		require.Error(t, err)
		assert.True(t, blaze.IsConfiguration(err))
	})

	t.Run("missing primary key", func(t *testing.T) {
		t.Parallel()
		reg := schema.NewRegistry()
		err := reg.Register(schema.New("Note", schema.Text("body")))
		require.Error(t, err)
		assert.ErrorContains(t, err, "no primary key")
	})
}

func TestRecordSet(t *testing.T) {
	t.Parallel()
	reg := libraryRegistry(t)
	book := reg.Type("Book")
	author := reg.Type("Author")

	t.Run("tracks changes against the snapshot", func(t *testing.T) {
		t.Parallel()
		r := schema.Hydrate(book, map[string]any{"id": int64(1), "title": "Dune", "year": 1965, "author": int64(2)})
		assert.False(t, r.IsDirty())

		require.NoError(t, r.Set("title", "Dune Messiah"))
		assert.True(t, r.IsDirty())
		assert.Equal(t, map[string]any{"title": "Dune Messiah"}, r.Changed())

		r.Snapshot()
		assert.False(t, r.IsDirty())
	})

	t.Run("unwraps related record to its pk", func(t *testing.T) {
		t.Parallel()
		a := schema.Hydrate(author, map[string]any{"id": int64(7), "name": "Herbert"})
		r := schema.NewRecord(book)
		require.NoError(t, r.Set("author", a))
		assert.Equal(t, int64(7), r.Get("author"))
		cached, ok := r.Related("author")
		require.True(t, ok)
		assert.Same(t, a, cached)
	})

	t.Run("rejects transient related record", func(t *testing.T) {
		t.Parallel()
		r := schema.NewRecord(book)
		err := r.Set("author", schema.NewRecord(author))
		require.Error(t, err)
		assert.True(t, blaze.IsValidation(err))
	})

	t.Run("raises on overlong string instead of truncating", func(t *testing.T) {
		t.Parallel()
		r := schema.NewRecord(author)
		long := make([]byte, 121)
		for i := range long {
			long[i] = 'a'
		}
		err := r.Set("name", string(long))
		require.Error(t, err)
		assert.True(t, blaze.IsValidation(err))
		assert.Equal(t, nil, r.Get("name"))
	})

	t.Run("rejects null on not-null field", func(t *testing.T) {
		t.Parallel()
		r := schema.Hydrate(book, map[string]any{"id": int64(1), "title": "Dune"})
		err := r.Set("title", nil)
		require.Error(t, err)
		assert.True(t, blaze.IsValidation(err))
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		r := schema.NewRecord(book)
		err := r.Set("publisher", "Ace")
		require.Error(t, err)
		assert.True(t, blaze.IsConfiguration(err))
	})

	t.Run("m2m field has no scalar slot", func(t *testing.T) {
		t.Parallel()
		r := schema.NewRecord(book)
		err := r.Set("tags", 1)
		require.Error(t, err)
		assert.True(t, blaze.IsConfiguration(err))
	})
}

func TestDefaultsAndChoices(t *testing.T) {
	t.Parallel()
	job := schema.New("Job",
		schema.Auto("id"),
		schema.String("state", schema.NotNull(), schema.Default("queued"), schema.Choices("queued", "running", "done")),
	)
	r := schema.NewRecord(job)
	assert.Equal(t, "queued", r.Get("state"))

	err := r.Set("state", "paused")
	require.Error(t, err)
	assert.True(t, blaze.IsValidation(err))
	require.NoError(t, r.Set("state", "running"))
}

func TestValidateRecord(t *testing.T) {
	t.Parallel()
	person := schema.New("Person",
		schema.Auto("id"),
		schema.String("name", schema.NotNull(), schema.MaxLen(10)),
		schema.Int("age", schema.Validate(func(v any) error {
			if n, ok := v.(int); ok && n < 0 {
				return errors.New("must not be negative")
			}
			return nil
		})),
	)

	r := schema.Hydrate(person, map[string]any{"name": nil, "age": -3})
	err := schema.ValidateRecord(r)
	require.Error(t, err)
	var verr *blaze.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields["name"], "value may not be null")
	assert.Contains(t, verr.Fields["age"], "must not be negative")

	ok := schema.Hydrate(person, map[string]any{"name": "Ada", "age": 36})
	assert.NoError(t, schema.ValidateRecord(ok))
}
