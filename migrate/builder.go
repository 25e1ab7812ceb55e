// Package migrate turns registered type metadata into DDL and applies
// it through the adapter, recording applied migrations in a ledger
// table. Destructive operations are refused unless explicitly forced.
package migrate

import (
	"fmt"
	"strings"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/dialect"
	"github.com/blazeorm/blaze/schema"
)

// Builder renders dialect-specific DDL for registered types.
type Builder struct {
	d dialect.Dialect
}

// NewBuilder returns a Builder for the given dialect.
func NewBuilder(d dialect.Dialect) *Builder {
	return &Builder{d: d}
}

// CreateTable renders the CREATE TABLE statement for a type, including
// primary key, UNIQUE, DEFAULT, and FOREIGN KEY clauses. Many-to-many
// fields carry no column here; see CreateJunctionTables.
func (b *Builder) CreateTable(t *schema.Type) (string, error) {
	var defs []string
	for _, f := range t.ColumnFields() {
		def, err := b.columnDef(f)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	for _, f := range t.ColumnFields() {
		if f.Rel == nil || f.Rel.Kind != schema.RelToOne {
			continue
		}
		if f.Rel.Target == nil {
			return "", blaze.NewConfigurationError(fmt.Sprintf(
				"cannot render %s.%s: relation target unresolved", t.Name, f.Name), nil)
		}
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
			b.d.QuoteIdentifier(f.Column),
			b.d.FormatTable(f.Rel.Target.Table),
			b.d.QuoteIdentifier(f.Rel.Target.PK.Column),
			f.Rel.OnDelete))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		b.d.FormatTable(t.Table), strings.Join(defs, ", ")), nil
}

// CreateJunctionTables renders one CREATE TABLE per many-to-many field
// declared on the type. Each junction carries the two foreign keys and
// a composite primary key over them.
func (b *Builder) CreateJunctionTables(t *schema.Type) ([]string, error) {
	var stmts []string
	for _, f := range t.ManyToManyFields() {
		rel := f.Rel
		if rel.Target == nil {
			return nil, blaze.NewConfigurationError(fmt.Sprintf(
				"cannot render junction for %s.%s: relation target unresolved", t.Name, f.Name), nil)
		}
		owner := b.d.QuoteIdentifier(rel.OwnerColumn)
		target := b.d.QuoteIdentifier(rel.TargetColumn)
		stmts = append(stmts, fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s INTEGER NOT NULL, %s INTEGER NOT NULL, "+
				"PRIMARY KEY (%s, %s), "+
				"FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE CASCADE, "+
				"FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE CASCADE)",
			b.d.FormatTable(rel.JunctionTable),
			owner, target,
			owner, target,
			owner, b.d.FormatTable(rel.Owner.Table), b.d.QuoteIdentifier(rel.Owner.PK.Column),
			target, b.d.FormatTable(rel.Target.Table), b.d.QuoteIdentifier(rel.Target.PK.Column)))
	}
	return stmts, nil
}

// DropTable renders the DROP TABLE statement. The result is destructive
// and should be wrapped in an Operation with Destructive set.
func (b *Builder) DropTable(t *schema.Type) string {
	return "DROP TABLE IF EXISTS " + b.d.FormatTable(t.Table)
}

// CreateIndex renders a CREATE INDEX statement over the named columns.
// The index name is derived from the table and column list.
func (b *Builder) CreateIndex(t *schema.Type, unique bool, columns ...string) (string, error) {
	if len(columns) == 0 {
		return "", blaze.NewConfigurationError("index needs at least one column", nil)
	}
	quoted := make([]string, len(columns))
	for i, name := range columns {
		f := t.FieldByColumn(name)
		if f == nil {
			if f = t.Field(name); f == nil {
				return "", blaze.NewConfigurationError(fmt.Sprintf(
					"%s has no column %q", t.Name, name), nil)
			}
		}
		columns[i] = f.Column
		quoted[i] = b.d.QuoteIdentifier(f.Column)
	}
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	name := "idx_" + t.Table + "_" + strings.Join(columns, "_")
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, b.d.QuoteIdentifier(name), b.d.FormatTable(t.Table),
		strings.Join(quoted, ", ")), nil
}

func (b *Builder) columnDef(f *schema.Field) (string, error) {
	if f.AutoIncrement && f.PrimaryKey {
		return b.d.QuoteIdentifier(f.Column) + " " + b.autoPK(), nil
	}
	colType, err := b.columnType(f)
	if err != nil {
		return "", err
	}
	def := b.d.QuoteIdentifier(f.Column) + " " + colType
	if !f.Nullable || f.PrimaryKey {
		def += " NOT NULL"
	}
	if f.PrimaryKey {
		def += " PRIMARY KEY"
	} else if f.Unique {
		def += " UNIQUE"
	}
	if clause := defaultClause(f); clause != "" {
		def += " " + clause
	}
	return def, nil
}

// autoPK renders the auto-incrementing integer key column for the
// backend. The postgres form pairs with the sequence lookup the adapter
// uses to report generated keys.
func (b *Builder) autoPK() string {
	switch b.d.Name() {
	case dialect.Postgres:
		return "BIGSERIAL PRIMARY KEY"
	case dialect.MySQL:
		return "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func (b *Builder) columnType(f *schema.Field) (string, error) {
	switch f.Kind {
	case schema.KindAuto, schema.KindInt:
		return "INTEGER", nil
	case schema.KindFloat:
		return "REAL", nil
	case schema.KindBool:
		return "BOOLEAN", nil
	case schema.KindString:
		if f.MaxLen > 0 {
			return fmt.Sprintf("VARCHAR(%d)", f.MaxLen), nil
		}
		return "TEXT", nil
	case schema.KindText:
		return "TEXT", nil
	case schema.KindTime:
		return "TIMESTAMP", nil
	}
	return "", blaze.NewConfigurationError(fmt.Sprintf(
		"field %q has no column type for %s", f.Name, f.Kind), nil)
}

// defaultClause renders a literal DEFAULT for static defaults. Function
// defaults are applied at insert time, not in DDL.
func defaultClause(f *schema.Field) string {
	if f.Default == nil || !f.StaticDefault {
		return ""
	}
	switch v := f.Default().(type) {
	case nil:
		return ""
	case string:
		return "DEFAULT '" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "DEFAULT 1"
		}
		return "DEFAULT 0"
	default:
		return fmt.Sprintf("DEFAULT %v", v)
	}
}
