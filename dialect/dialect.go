// Package dialect provides database dialect abstraction for Blaze.
//
// A Dialect is a pure strategy object: it knows how to quote identifiers,
// render placeholders and LIMIT/OFFSET clauses, and which optional SQL
// features the backend supports. It never touches a connection.
package dialect

import "strconv"

// Dialect name constants.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
	MySQL    = "mysql"
)

// Capabilities describes optional features of a backend.
type Capabilities struct {
	SupportsReturning        bool
	SupportsSavepoints       bool
	SupportsPartialIndexes   bool
	SupportsSchemaNamespaces bool
}

// Dialect is the strategy interface consumed by the compiler, the
// transaction manager, and the schema builder.
type Dialect interface {
	// Name returns the dialect constant.
	Name() string

	// QuoteIdentifier quotes a column or table identifier.
	QuoteIdentifier(name string) string

	// FormatTable quotes a possibly schema-qualified table name.
	FormatTable(name string) string

	// LimitClause renders the LIMIT/OFFSET tail, or "" when both are nil.
	LimitClause(limit, offset *int) string

	// Placeholder renders the positional parameter marker. pos is 1-based;
	// dialects with uniform markers ignore it.
	Placeholder(pos int) string

	// Capabilities returns the backend feature flags.
	Capabilities() Capabilities
}

// ByName returns the dialect for a known name, or nil.
func ByName(name string) Dialect {
	switch name {
	case SQLite:
		return SQLiteDialect{}
	case Postgres:
		return PostgresDialect{}
	case MySQL:
		return MySQLDialect{}
	}
	return nil
}

func itoa(v int) string { return strconv.Itoa(v) }
