package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/adapter"
)

// LedgerTable records applied migrations. "grp" rather than "group"
// keeps the column out of reserved-word territory.
const LedgerTable = "blaze_migrations"

// Operation is one DDL statement within a migration. Destructive
// operations (drops, truncations) are refused unless Force is set.
type Operation struct {
	SQL         string
	Destructive bool
	Force       bool
	Description string
}

// Applied is one ledger row.
type Applied struct {
	Group     string
	Name      string
	AppliedAt string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger overrides the engine's logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// Engine applies migrations through the adapter, one adapter
// transaction per migration, and records each in the ledger.
type Engine struct {
	adapter adapter.Adapter
	builder *Builder
	log     *slog.Logger
	now     func() time.Time
}

// NewEngine returns an Engine bound to the adapter's dialect.
func NewEngine(a adapter.Adapter, opts ...EngineOption) *Engine {
	e := &Engine{
		adapter: a,
		builder: NewBuilder(a.Dialect()),
		log:     slog.Default().With("component", "migrate"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Builder returns the engine's DDL builder.
func (e *Engine) Builder() *Builder { return e.builder }

// Ensure creates the ledger table when missing. Apply and Applied call
// it implicitly.
func (e *Engine) Ensure(ctx context.Context) error {
	d := e.adapter.Dialect()
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s TEXT NOT NULL, %s TEXT NOT NULL, %s TEXT NOT NULL, PRIMARY KEY (%s, %s))",
		d.FormatTable(LedgerTable),
		d.QuoteIdentifier("grp"), d.QuoteIdentifier("name"), d.QuoteIdentifier("applied_at"),
		d.QuoteIdentifier("grp"), d.QuoteIdentifier("name"))
	_, err := e.adapter.Exec(ctx, stmt, nil)
	return err
}

// Apply runs the operations of one named migration inside a single
// adapter transaction and records it in the ledger. An unforced
// destructive operation aborts the whole migration before any of it is
// committed.
func (e *Engine) Apply(ctx context.Context, group, name string, ops []Operation) error {
	if err := e.Ensure(ctx); err != nil {
		return err
	}
	if err := e.adapter.Begin(ctx); err != nil {
		return err
	}
	if err := e.applyOps(ctx, group, name, ops); err != nil {
		if rbErr := e.adapter.Rollback(ctx); rbErr != nil {
			e.log.Error("rollback after failed migration", "group", group, "name", name, "error", rbErr)
		}
		return err
	}
	return e.adapter.Commit(ctx)
}

func (e *Engine) applyOps(ctx context.Context, group, name string, ops []Operation) error {
	for _, op := range ops {
		if op.Destructive {
			desc := op.Description
			if desc == "" {
				desc = op.SQL
			}
			e.log.Warn("destructive migration operation", "group", group, "name", name,
				"operation", desc, "force", op.Force)
			if !op.Force {
				return &blaze.DestructiveError{Operation: desc}
			}
		}
		if _, err := e.adapter.Exec(ctx, op.SQL, nil); err != nil {
			return err
		}
	}
	return e.record(ctx, group, name)
}

func (e *Engine) record(ctx context.Context, group, name string) error {
	d := e.adapter.Dialect()
	stmt := fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES (%s, %s, %s)",
		d.FormatTable(LedgerTable),
		d.QuoteIdentifier("grp"), d.QuoteIdentifier("name"), d.QuoteIdentifier("applied_at"),
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	_, err := e.adapter.Exec(ctx, stmt, []any{group, name, e.now().UTC().Format(time.RFC3339)})
	return err
}

// Applied lists ledger rows in application order.
func (e *Engine) Applied(ctx context.Context) ([]Applied, error) {
	if err := e.Ensure(ctx); err != nil {
		return nil, err
	}
	d := e.adapter.Dialect()
	stmt := fmt.Sprintf("SELECT %s, %s, %s FROM %s ORDER BY %s",
		d.QuoteIdentifier("grp"), d.QuoteIdentifier("name"), d.QuoteIdentifier("applied_at"),
		d.FormatTable(LedgerTable), d.QuoteIdentifier("applied_at"))
	rows, err := e.adapter.Query(ctx, stmt, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Applied, 0, len(rows))
	for _, row := range rows {
		out = append(out, Applied{
			Group:     str(row["grp"]),
			Name:      str(row["name"]),
			AppliedAt: str(row["applied_at"]),
		})
	}
	return out, nil
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
