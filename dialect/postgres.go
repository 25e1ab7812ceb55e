package dialect

import "strings"

// PostgresDialect uses $n placeholders and double-quoted identifiers.
type PostgresDialect struct{}

// Name implements Dialect.
func (PostgresDialect) Name() string { return Postgres }

// QuoteIdentifier implements Dialect.
func (PostgresDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// FormatTable implements Dialect. Schema-qualified names quote each part.
func (d PostgresDialect) FormatTable(name string) string {
	if schema, table, ok := strings.Cut(name, "."); ok {
		return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(name)
}

// LimitClause implements Dialect.
func (PostgresDialect) LimitClause(limit, offset *int) string {
	var parts []string
	if limit != nil {
		parts = append(parts, "LIMIT "+itoa(*limit))
	}
	if offset != nil {
		parts = append(parts, "OFFSET "+itoa(*offset))
	}
	return strings.Join(parts, " ")
}

// Placeholder implements Dialect.
func (PostgresDialect) Placeholder(pos int) string { return "$" + itoa(pos) }

// Capabilities implements Dialect.
func (PostgresDialect) Capabilities() Capabilities {
	return Capabilities{
		SupportsReturning:        true,
		SupportsSavepoints:       true,
		SupportsPartialIndexes:   true,
		SupportsSchemaNamespaces: true,
	}
}
