package dialect

import "strings"

// SQLiteDialect uses qmark placeholders and double-quoted identifiers.
type SQLiteDialect struct{}

// Name implements Dialect.
func (SQLiteDialect) Name() string { return SQLite }

// QuoteIdentifier implements Dialect.
func (SQLiteDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// FormatTable implements Dialect. SQLite has no schema namespaces, so the
// whole name is quoted as one identifier.
func (d SQLiteDialect) FormatTable(name string) string {
	return d.QuoteIdentifier(name)
}

// LimitClause implements Dialect. SQLite requires a LIMIT before OFFSET;
// -1 means unbounded.
func (SQLiteDialect) LimitClause(limit, offset *int) string {
	var parts []string
	if limit != nil {
		parts = append(parts, "LIMIT "+itoa(*limit))
	}
	if offset != nil {
		if limit == nil {
			parts = append(parts, "LIMIT -1")
		}
		parts = append(parts, "OFFSET "+itoa(*offset))
	}
	return strings.Join(parts, " ")
}

// Placeholder implements Dialect.
func (SQLiteDialect) Placeholder(int) string { return "?" }

// Capabilities implements Dialect.
func (SQLiteDialect) Capabilities() Capabilities {
	return Capabilities{
		SupportsReturning:        false,
		SupportsSavepoints:       true,
		SupportsPartialIndexes:   false,
		SupportsSchemaNamespaces: false,
	}
}
