// Package adapter owns the physical database connection. An Adapter
// executes SQL, manages native begin/commit/rollback, and reports
// generated keys; everything above it speaks dialect-neutral SQL plus
// positional parameters.
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/dialect"
	"github.com/blazeorm/blaze/internal/redact"
)

// Adapter is the narrow contract consumed by the session, the transaction
// manager, and the migration engine.
type Adapter interface {
	// Connect establishes the physical connection. Safe to call again
	// after Close.
	Connect(ctx context.Context) error

	// Close releases the connection. Idempotent.
	Close() error

	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args []any) (sql.Result, error)

	// Query runs a statement and returns each row as a column→value map.
	Query(ctx context.Context, query string, args []any) ([]map[string]any, error)

	// ExecMany runs one prepared statement against multiple parameter sets.
	ExecMany(ctx context.Context, query string, argSets [][]any) error

	// Begin starts a native transaction. Commit and Rollback end it.
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// LastInsertID reports the key generated by the previous insert.
	LastInsertID(ctx context.Context, res sql.Result, table, pkColumn string) (int64, error)

	// Dialect returns the adapter's dialect strategy.
	Dialect() dialect.Dialect
}

// SQLAdapter implements Adapter on top of database/sql, pinning a single
// physical connection from the pool so that textual BEGIN/SAVEPOINT
// statements observe one consistent session.
type SQLAdapter struct {
	mu         sync.Mutex
	d          dialect.Dialect
	driverName string
	dataSource string
	cfg        Config
	db         *sql.DB
	conn       *sql.Conn
	external   bool // db supplied by the caller; Close leaves it open
	closed     bool
	log        *slog.Logger
}

// Open builds an adapter from a parsed Config. The connection itself is
// established on Connect (or lazily on first use).
func Open(cfg Config) (*SQLAdapter, error) {
	d := dialect.ByName(cfg.Driver)
	if d == nil {
		return nil, blaze.NewConfigurationError(fmt.Sprintf("unknown driver %q", cfg.Driver), nil)
	}
	dataSource, err := dataSourceFor(cfg)
	if err != nil {
		return nil, err
	}
	return &SQLAdapter{
		d:          d,
		driverName: cfg.Driver,
		dataSource: dataSource,
		cfg:        cfg,
		log:        slog.Default().With("component", "adapter", "dialect", d.Name()),
	}, nil
}

// OpenDB wraps an existing *sql.DB with an adapter. Used by tests and by
// callers that manage the pool themselves.
func OpenDB(d dialect.Dialect, db *sql.DB) *SQLAdapter {
	return &SQLAdapter{
		d:        d,
		db:       db,
		external: true,
		log:      slog.Default().With("component", "adapter", "dialect", d.Name()),
	}
}

// Dialect implements Adapter.
func (a *SQLAdapter) Dialect() dialect.Dialect { return a.d }

// Connect implements Adapter.
func (a *SQLAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectLocked(ctx)
}

func (a *SQLAdapter) connectLocked(ctx context.Context) error {
	if a.conn != nil && !a.closed {
		return nil
	}
	if a.db == nil {
		db, err := sql.Open(a.driverName, a.dataSource)
		if err != nil {
			return blaze.NewConnectionError(fmt.Sprintf("opening %s", a.cfg.Redacted()), err)
		}
		a.db = db
	}
	conn, err := a.db.Conn(ctx)
	if err != nil {
		return blaze.NewConnectionError(fmt.Sprintf("acquiring connection to %s", a.label()), err)
	}
	a.conn = conn
	a.closed = false
	a.log.Debug("connected", "target", a.label())
	return nil
}

// Close implements Adapter. A closed adapter reconnects lazily on next use.
func (a *SQLAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	var err error
	if a.conn != nil {
		err = a.conn.Close()
		a.conn = nil
	}
	if a.db != nil && !a.external {
		if cerr := a.db.Close(); err == nil {
			err = cerr
		}
		a.db = nil
	}
	return err
}

func (a *SQLAdapter) ensureConn(ctx context.Context) (*sql.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.connectLocked(ctx); err != nil {
		return nil, err
	}
	return a.conn, nil
}

// Exec implements Adapter.
func (a *SQLAdapter) Exec(ctx context.Context, query string, args []any) (sql.Result, error) {
	if err := a.validateParams(query, args); err != nil {
		return nil, err
	}
	conn, err := a.ensureConn(ctx)
	if err != nil {
		return nil, err
	}
	a.log.Debug("exec", "query", query, "args", redact.Params(args))
	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, blaze.NewExecutionError(fmt.Sprintf("exec %q", abbreviate(query)), err)
	}
	return res, nil
}

// Query implements Adapter.
func (a *SQLAdapter) Query(ctx context.Context, query string, args []any) ([]map[string]any, error) {
	if err := a.validateParams(query, args); err != nil {
		return nil, err
	}
	conn, err := a.ensureConn(ctx)
	if err != nil {
		return nil, err
	}
	a.log.Debug("query", "query", query, "args", redact.Params(args))
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, blaze.NewExecutionError(fmt.Sprintf("query %q", abbreviate(query)), err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, blaze.NewExecutionError(fmt.Sprintf("scanning %q", abbreviate(query)), err)
	}
	return out, nil
}

// ExecMany implements Adapter.
func (a *SQLAdapter) ExecMany(ctx context.Context, query string, argSets [][]any) error {
	for _, args := range argSets {
		if err := a.validateParams(query, args); err != nil {
			return err
		}
	}
	conn, err := a.ensureConn(ctx)
	if err != nil {
		return err
	}
	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return blaze.NewExecutionError(fmt.Sprintf("preparing %q", abbreviate(query)), err)
	}
	defer stmt.Close()
	for _, args := range argSets {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return blaze.NewExecutionError(fmt.Sprintf("exec %q", abbreviate(query)), err)
		}
	}
	return nil
}

// Begin implements Adapter. The transaction is driven by textual
// statements on the pinned connection so savepoints issued by the
// transaction manager land in the same backend session.
func (a *SQLAdapter) Begin(ctx context.Context) error {
	conn, err := a.ensureConn(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		return blaze.NewExecutionError("begin transaction", err)
	}
	return nil
}

// Commit implements Adapter.
func (a *SQLAdapter) Commit(ctx context.Context) error {
	conn, err := a.ensureConn(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return blaze.NewExecutionError("commit transaction", err)
	}
	return nil
}

// Rollback implements Adapter.
func (a *SQLAdapter) Rollback(ctx context.Context) error {
	conn, err := a.ensureConn(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		return blaze.NewExecutionError("rollback transaction", err)
	}
	return nil
}

// LastInsertID implements Adapter. Postgres has no LastInsertId in its
// wire protocol; the sequence backing the column is consulted instead.
// Inserts compiled with RETURNING never reach this path.
func (a *SQLAdapter) LastInsertID(ctx context.Context, res sql.Result, table, pkColumn string) (int64, error) {
	if a.d.Name() == dialect.Postgres {
		q := fmt.Sprintf("SELECT currval(pg_get_serial_sequence(%s, %s))",
			quoteLiteral(table), quoteLiteral(pkColumn))
		rows, err := a.Query(ctx, q, nil)
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return 0, blaze.NewExecutionError("currval returned no rows", nil)
		}
		for _, v := range rows[0] {
			return toInt64(v)
		}
		return 0, blaze.NewExecutionError("currval returned no columns", nil)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, blaze.NewExecutionError("reading last insert id", err)
	}
	return id, nil
}

func (a *SQLAdapter) label() string {
	if a.cfg.DSN != "" {
		return a.cfg.Label()
	}
	return a.d.Name()
}

var postgresPlaceholderRe = regexp.MustCompile(`\$(\d+)`)

// validateParams catches placeholder/parameter count mismatches before the
// statement reaches the backend.
func (a *SQLAdapter) validateParams(query string, args []any) error {
	count := countPlaceholders(a.d, query)
	if len(args) == 0 {
		return nil
	}
	if count == 0 {
		return blaze.NewExecutionError("parameters provided but statement has no placeholders", nil)
	}
	if count != len(args) {
		return blaze.NewExecutionError(
			fmt.Sprintf("parameter count mismatch: expected %d, received %d", count, len(args)), nil)
	}
	return nil
}

func countPlaceholders(d dialect.Dialect, query string) int {
	if d.Name() == dialect.Postgres {
		max := 0
		for _, m := range postgresPlaceholderRe.FindAllStringSubmatch(query, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n > max {
				max = n
			}
		}
		return max
	}
	return strings.Count(query, "?")
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case []byte:
		return strconv.ParseInt(string(t), 10, 64)
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, blaze.NewExecutionError(fmt.Sprintf("unexpected id type %T", v), nil)
	}
}

func abbreviate(sql string) string {
	const max = 80
	if len(sql) <= max {
		return sql
	}
	return sql[:max-3] + "..."
}

var _ Adapter = (*SQLAdapter)(nil)
