package migrate_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/adapter"
	"github.com/blazeorm/blaze/dialect"
	"github.com/blazeorm/blaze/migrate"
	"github.com/blazeorm/blaze/schema"
)

const ensureLedgerSQL = `CREATE TABLE IF NOT EXISTS "blaze_migrations" ("grp" TEXT NOT NULL, "name" TEXT NOT NULL, "applied_at" TEXT NOT NULL, PRIMARY KEY ("grp", "name"))`

func libraryRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	author := schema.New("Author",
		schema.Auto("id"),
		schema.String("name", schema.NotNull()),
	)
	book := schema.New("Book",
		schema.Auto("id"),
		schema.String("title", schema.NotNull(), schema.MaxLen(200)),
		schema.String("status", schema.Default("draft")),
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

func newEngine(t *testing.T) (*migrate.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return migrate.NewEngine(adapter.OpenDB(dialect.SQLiteDialect{}, db)), mock
}

func TestBuilderCreateTable(t *testing.T) {
	t.Parallel()
	reg := libraryRegistry(t)
	b := migrate.NewBuilder(dialect.SQLiteDialect{})

	t.Run("simple type", func(t *testing.T) {
		sql, err := b.CreateTable(reg.Type("Author"))
		require.NoError(t, err)
		assert.Equal(t,
			`CREATE TABLE IF NOT EXISTS "author" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "name" TEXT NOT NULL)`,
			sql)
	})

	t.Run("constraints and foreign key", func(t *testing.T) {
		sql, err := b.CreateTable(reg.Type("Book"))
		require.NoError(t, err)
		assert.Equal(t,
			`CREATE TABLE IF NOT EXISTS "book" (`+
				`"id" INTEGER PRIMARY KEY AUTOINCREMENT, `+
				`"title" VARCHAR(200) NOT NULL, `+
				`"status" TEXT DEFAULT 'draft', `+
				`"author_id" INTEGER, `+
				`FOREIGN KEY ("author_id") REFERENCES "author" ("id") ON DELETE CASCADE)`,
			sql)
	})

	t.Run("unique column", func(t *testing.T) {
		sql, err := b.CreateTable(reg.Type("Tag"))
		require.NoError(t, err)
		assert.Contains(t, sql, `"name" TEXT NOT NULL UNIQUE`)
	})
}

func TestBuilderJunctionTables(t *testing.T) {
	t.Parallel()
	reg := libraryRegistry(t)
	b := migrate.NewBuilder(dialect.SQLiteDialect{})

	stmts, err := b.CreateJunctionTables(reg.Type("Book"))
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "book_tag" (`+
			`"book_id" INTEGER NOT NULL, "tag_id" INTEGER NOT NULL, `+
			`PRIMARY KEY ("book_id", "tag_id"), `+
			`FOREIGN KEY ("book_id") REFERENCES "book" ("id") ON DELETE CASCADE, `+
			`FOREIGN KEY ("tag_id") REFERENCES "tag" ("id") ON DELETE CASCADE)`,
		stmts[0])

	// Nothing declared on the reverse side.
	stmts, err = b.CreateJunctionTables(reg.Type("Tag"))
	require.NoError(t, err)
	assert.Empty(t, stmts)
}

func TestBuilderDropAndIndex(t *testing.T) {
	t.Parallel()
	reg := libraryRegistry(t)
	b := migrate.NewBuilder(dialect.SQLiteDialect{})

	assert.Equal(t, `DROP TABLE IF EXISTS "book"`, b.DropTable(reg.Type("Book")))

	sql, err := b.CreateIndex(reg.Type("Book"), false, "title")
	require.NoError(t, err)
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_book_title" ON "book" ("title")`, sql)

	sql, err = b.CreateIndex(reg.Type("Book"), true, "author", "title")
	require.NoError(t, err)
	assert.Equal(t,
		`CREATE UNIQUE INDEX IF NOT EXISTS "idx_book_author_id_title" ON "book" ("author_id", "title")`,
		sql)

	_, err = b.CreateIndex(reg.Type("Book"), false, "missing")
	require.Error(t, err)
	assert.True(t, blaze.IsConfiguration(err))
}

func TestEngineApplyRecordsLedger(t *testing.T) {
	e, mock := newEngine(t)
	ctx := context.Background()

	mock.ExpectExec(ensureLedgerSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("BEGIN").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "author" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "name" TEXT NOT NULL)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "blaze_migrations" ("grp", "name", "applied_at") VALUES (?, ?, ?)`).
		WithArgs("library", "0001_initial", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

	reg := libraryRegistry(t)
	sql, err := e.Builder().CreateTable(reg.Type("Author"))
	require.NoError(t, err)

	err = e.Apply(ctx, "library", "0001_initial", []migrate.Operation{{SQL: sql}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineRefusesDestructiveWithoutForce(t *testing.T) {
	e, mock := newEngine(t)
	ctx := context.Background()

	mock.ExpectExec(ensureLedgerSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("BEGIN").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))

	err := e.Apply(ctx, "library", "0002_drop", []migrate.Operation{
		{SQL: `DROP TABLE IF EXISTS "book"`, Destructive: true, Description: "drop book"},
	})
	require.Error(t, err)
	assert.True(t, blaze.IsDestructive(err))
	assert.ErrorIs(t, err, blaze.ErrDestructiveNotConfirmed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineAppliesDestructiveWhenForced(t *testing.T) {
	e, mock := newEngine(t)
	ctx := context.Background()

	mock.ExpectExec(ensureLedgerSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("BEGIN").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP TABLE IF EXISTS "book"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "blaze_migrations" ("grp", "name", "applied_at") VALUES (?, ?, ?)`).
		WithArgs("library", "0002_drop", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

	err := e.Apply(ctx, "library", "0002_drop", []migrate.Operation{
		{SQL: `DROP TABLE IF EXISTS "book"`, Destructive: true, Force: true},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineApplied(t *testing.T) {
	e, mock := newEngine(t)
	ctx := context.Background()

	mock.ExpectExec(ensureLedgerSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "grp", "name", "applied_at" FROM "blaze_migrations" ORDER BY "applied_at"`).
		WillReturnRows(sqlmock.NewRows([]string{"grp", "name", "applied_at"}).
			AddRow("library", "0001_initial", "2026-08-30T00:00:00Z").
			AddRow("library", "0002_indexes", "2026-08-30T00:01:00Z"))

	rows, err := e.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, migrate.Applied{Group: "library", Name: "0001_initial", AppliedAt: "2026-08-30T00:00:00Z"}, rows[0])
	assert.Equal(t, "0002_indexes", rows[1].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}
