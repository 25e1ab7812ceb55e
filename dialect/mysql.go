package dialect

import "strings"

// MySQLDialect uses qmark placeholders and backtick-quoted identifiers.
type MySQLDialect struct{}

// Name implements Dialect.
func (MySQLDialect) Name() string { return MySQL }

// QuoteIdentifier implements Dialect.
func (MySQLDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// FormatTable implements Dialect. Schema-qualified names quote each part.
func (d MySQLDialect) FormatTable(name string) string {
	if schema, table, ok := strings.Cut(name, "."); ok {
		return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(name)
}

// LimitClause implements Dialect. MySQL has no bare OFFSET; the documented
// idiom for offset-without-limit is an effectively unbounded LIMIT.
func (MySQLDialect) LimitClause(limit, offset *int) string {
	var parts []string
	if limit != nil {
		parts = append(parts, "LIMIT "+itoa(*limit))
	}
	if offset != nil {
		if limit == nil {
			parts = append(parts, "LIMIT 18446744073709551615")
		}
		parts = append(parts, "OFFSET "+itoa(*offset))
	}
	return strings.Join(parts, " ")
}

// Placeholder implements Dialect.
func (MySQLDialect) Placeholder(int) string { return "?" }

// Capabilities implements Dialect.
func (MySQLDialect) Capabilities() Capabilities {
	return Capabilities{
		SupportsReturning:        false,
		SupportsSavepoints:       true,
		SupportsPartialIndexes:   false,
		SupportsSchemaNamespaces: true,
	}
}
