package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/adapter"
	"github.com/blazeorm/blaze/cache"
	"github.com/blazeorm/blaze/dialect"
	"github.com/blazeorm/blaze/hook"
	"github.com/blazeorm/blaze/internal/logx"
	"github.com/blazeorm/blaze/internal/redact"
	"github.com/blazeorm/blaze/perf"
	"github.com/blazeorm/blaze/query"
	"github.com/blazeorm/blaze/schema"
)

// Option configures a Session.
type Option func(*Session)

// WithCache installs a second-level record cache.
func WithCache(c cache.Cache) Option { return func(s *Session) { s.cache = c } }

// WithCacheTTL bounds the lifetime of cached records.
func WithCacheTTL(d time.Duration) Option { return func(s *Session) { s.cacheTTL = d } }

// WithHooks installs a lifecycle-event dispatcher.
func WithHooks(d *hook.Dispatcher) Option { return func(s *Session) { s.hooks = d } }

// WithTracker installs a statement tracker for N+1 detection.
func WithTracker(t *perf.Tracker) Option { return func(s *Session) { s.tracker = t } }

// WithLogger overrides the session logger.
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }

// WithSlowThreshold sets the duration above which a statement is logged
// at warn level.
func WithSlowThreshold(d time.Duration) Option { return func(s *Session) { s.slowThreshold = d } }

// Session owns an identity map and a unit of work for its lifetime and
// orchestrates flushes, transactions, and query execution over one
// adapter. State-mutating operations are serialized behind a single
// mutex; statement execution itself runs outside it.
type Session struct {
	mu sync.Mutex

	adapter  adapter.Adapter
	registry *schema.Registry
	compiler *query.Compiler
	identity *IdentityMap
	uow      *UnitOfWork
	tx       *TransactionManager

	cache    cache.Cache
	cacheTTL time.Duration
	hooks    *hook.Dispatcher
	tracker  *perf.Tracker
	log      *slog.Logger

	slowThreshold time.Duration

	snapshots []uowSnapshot
	marks     []int
	committed []*schema.Record
}

// New returns a session over the adapter and resolved registry.
func New(a adapter.Adapter, reg *schema.Registry, opts ...Option) *Session {
	s := &Session{
		adapter:       a,
		registry:      reg,
		compiler:      query.NewCompiler(a.Dialect()),
		identity:      NewIdentityMap(),
		uow:           NewUnitOfWork(),
		tx:            NewTransactionManager(a),
		cache:         cache.NewNoOp(),
		cacheTTL:      5 * time.Minute,
		hooks:         hook.NewDispatcher(),
		tracker:       perf.NewTracker(),
		log:           slog.Default().With("component", "session"),
		slowThreshold: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the session's type registry.
func (s *Session) Registry() *schema.Registry { return s.registry }

// Tracker returns the statement tracker.
func (s *Session) Tracker() *perf.Tracker { return s.tracker }

// Add tracks a record: transient records are scheduled for insert,
// persistent ones join the identity map and are update-tracked through
// their snapshot.
func (s *Session) Add(rec *schema.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Transient() {
		s.uow.RegisterNew(rec)
		return
	}
	s.identity.Add(rec)
}

// Delete schedules a record for removal. A pending insert or update for
// the same instance is withdrawn.
func (s *Session) Delete(rec *schema.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uow.RegisterDeleted(rec)
}

// Begin opens a transaction frame and snapshots the unit of work so a
// later rollback can restore the enclosing frame's pending state.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginLocked(ctx)
}

func (s *Session) beginLocked(ctx context.Context) error {
	if err := s.tx.Begin(ctx); err != nil {
		return err
	}
	s.snapshots = append(s.snapshots, s.uow.snapshot())
	s.marks = append(s.marks, len(s.committed))
	return nil
}

// Commit flushes pending changes and closes the top frame, opening one
// first at depth 0. The unit of work is cleared and after-commit hooks
// fire only when depth returns to 0. Lifecycle hooks run with the
// session lock released, so a handler may call back into the session.
func (s *Session) Commit(ctx context.Context) error {
	plan, err := s.prepareFlush(ctx, true)
	if err != nil {
		return err
	}
	if err := s.runFlush(ctx, plan); err != nil {
		return err
	}
	committed, err := s.closeFrame(ctx)
	if err != nil {
		return err
	}
	for _, rec := range committed {
		if err := s.hooks.Fire(ctx, hook.Event{Name: hook.AfterCommit, Record: rec}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) closeFrame(ctx context.Context) ([]*schema.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.popFrameState(false)
	if s.tx.Depth() == 0 {
		s.uow.Clear()
		committed := s.committed
		s.committed = nil
		return committed, nil
	}
	return nil, nil
}

// Rollback discards the top frame and restores the unit-of-work sets
// captured at the matching Begin, so a failed nested block does not
// lose the parent's pending changes.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tx.Rollback(ctx); err != nil {
		return err
	}
	s.popFrameState(true)
	return nil
}

func (s *Session) popFrameState(rollback bool) {
	if len(s.snapshots) == 0 {
		return
	}
	snap := s.snapshots[len(s.snapshots)-1]
	mark := s.marks[len(s.marks)-1]
	s.snapshots = s.snapshots[:len(s.snapshots)-1]
	s.marks = s.marks[:len(s.marks)-1]
	if rollback {
		s.uow.restore(snap)
		s.committed = s.committed[:mark]
	}
}

// Flush writes pending changes without ending the transaction: inserts
// in registration order, then updates with only their changed columns,
// then deletes.
func (s *Session) Flush(ctx context.Context) error {
	plan, err := s.prepareFlush(ctx, false)
	if err != nil {
		return err
	}
	return s.runFlush(ctx, plan)
}

// flushPlan fixes the record sets one flush will drain, so lifecycle
// hooks can fire with the session lock released.
type flushPlan struct {
	added   []*schema.Record
	dirty   []*schema.Record
	deleted []*schema.Record
	updated []*schema.Record // dirty records that produced an UPDATE
}

func (s *Session) prepareFlush(ctx context.Context, autoBegin bool) (*flushPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if autoBegin && s.tx.Depth() == 0 {
		if err := s.beginLocked(ctx); err != nil {
			return nil, err
		}
	}
	s.uow.CollectDirty(s.identity.All())
	return &flushPlan{
		added:   s.uow.Added(),
		dirty:   s.uow.Dirty(),
		deleted: s.uow.Deleted(),
	}, nil
}

func (s *Session) runFlush(ctx context.Context, plan *flushPlan) error {
	if err := s.fireBeforeHooks(ctx, plan); err != nil {
		return err
	}
	if err := s.applyFlush(ctx, plan); err != nil {
		return err
	}
	return s.fireAfterHooks(ctx, plan)
}

func (s *Session) fireBeforeHooks(ctx context.Context, plan *flushPlan) error {
	for _, rec := range plan.added {
		if err := s.validateWithHooks(ctx, rec); err != nil {
			return err
		}
		if err := s.hooks.Fire(ctx, hook.Event{Name: hook.BeforeSave, Record: rec, Created: true}); err != nil {
			return err
		}
	}
	for _, rec := range plan.dirty {
		if err := s.validateWithHooks(ctx, rec); err != nil {
			return err
		}
		if err := s.hooks.Fire(ctx, hook.Event{Name: hook.BeforeSave, Record: rec}); err != nil {
			return err
		}
	}
	for _, rec := range plan.deleted {
		if rec.Transient() {
			continue
		}
		if err := s.hooks.Fire(ctx, hook.Event{Name: hook.BeforeDelete, Record: rec}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) applyFlush(ctx context.Context, plan *flushPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range plan.added {
		if err := s.insertLocked(ctx, rec); err != nil {
			return err
		}
	}
	for _, rec := range plan.dirty {
		written, err := s.updateLocked(ctx, rec)
		if err != nil {
			return err
		}
		if written {
			plan.updated = append(plan.updated, rec)
		}
	}
	for _, rec := range plan.deleted {
		if err := s.deleteLocked(ctx, rec); err != nil {
			return err
		}
	}
	s.uow.Clear()
	return nil
}

func (s *Session) fireAfterHooks(ctx context.Context, plan *flushPlan) error {
	for _, rec := range plan.added {
		if err := s.hooks.Fire(ctx, hook.Event{Name: hook.AfterSave, Record: rec, Created: true}); err != nil {
			return err
		}
	}
	for _, rec := range plan.updated {
		if err := s.hooks.Fire(ctx, hook.Event{Name: hook.AfterSave, Record: rec}); err != nil {
			return err
		}
	}
	for _, rec := range plan.deleted {
		if rec.Transient() {
			continue
		}
		if err := s.hooks.Fire(ctx, hook.Event{Name: hook.AfterDelete, Record: rec}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) insertLocked(ctx context.Context, rec *schema.Record) error {
	typ := rec.Type()
	withReturning := typ.PK.AutoIncrement && rec.PK() == nil &&
		s.adapter.Dialect().Capabilities().SupportsReturning
	stmt, args := s.compiler.CompileInsert(typ, rec.Values(), withReturning)

	if withReturning {
		rows, err := s.runQuery(ctx, stmt, args)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return blaze.NewExecutionError("insert returned no generated key", nil)
		}
		rec.SetPK(rows[0][typ.PK.Column])
	} else {
		res, err := s.runExec(ctx, stmt, args)
		if err != nil {
			return err
		}
		if rec.PK() == nil {
			id, err := s.adapter.LastInsertID(ctx, res, typ.Table, typ.PK.Column)
			if err != nil {
				return err
			}
			rec.SetPK(id)
		}
	}

	rec.Snapshot()
	s.identity.Add(rec)
	s.cacheStore(ctx, rec)
	s.committed = append(s.committed, rec)
	return nil
}

func (s *Session) updateLocked(ctx context.Context, rec *schema.Record) (bool, error) {
	if !rec.IsDirty() {
		return false, nil
	}
	stmt, args, ok := s.compiler.CompileUpdate(rec.Type(), rec.Changed(), rec.PK())
	if !ok {
		return false, nil
	}
	if _, err := s.runExec(ctx, stmt, args); err != nil {
		return false, err
	}

	rec.Snapshot()
	s.cacheStore(ctx, rec)
	s.committed = append(s.committed, rec)
	return true, nil
}

func (s *Session) deleteLocked(ctx context.Context, rec *schema.Record) error {
	if rec.Transient() {
		// Never persisted; withdrawing the pending insert was enough.
		return nil
	}
	stmt, args := s.compiler.CompileDelete(rec.Type(), rec.PK())
	if _, err := s.runExec(ctx, stmt, args); err != nil {
		return err
	}

	s.identity.Remove(rec)
	if err := s.cache.Delete(ctx, cacheKey(rec.Type(), rec.PK())); err != nil {
		s.log.Debug("cache delete failed", "error", err)
	}
	s.committed = append(s.committed, rec)
	return nil
}

func (s *Session) validateWithHooks(ctx context.Context, rec *schema.Record) error {
	if err := s.hooks.Fire(ctx, hook.Event{Name: hook.BeforeValidate, Record: rec}); err != nil {
		return err
	}
	if err := schema.ValidateRecord(rec); err != nil {
		return err
	}
	return s.hooks.Fire(ctx, hook.Event{Name: hook.AfterValidate, Record: rec})
}

// Query returns a QuerySet over the named type, bound to this session.
func (s *Session) Query(typeName string) (*query.QuerySet, error) {
	typ := s.registry.Type(typeName)
	if typ == nil {
		return nil, blaze.NewConfigurationError(fmt.Sprintf("unknown type %q", typeName), nil)
	}
	return query.NewQuerySet(typ, s.executor()), nil
}

// executor adapts the session to query.Executor without colliding with
// the user-facing Query method.
func (s *Session) executor() query.Executor { return (*sessionExecutor)(s) }

type sessionExecutor Session

func (e *sessionExecutor) Query(ctx context.Context, stmt string, args []any) ([]map[string]any, error) {
	return (*Session)(e).runQuery(ctx, stmt, args)
}

func (e *sessionExecutor) Materialize(ctx context.Context, t *schema.Type, fields map[string]any) (*schema.Record, error) {
	return (*Session)(e).materialize(ctx, t, fields)
}

func (e *sessionExecutor) Dialect() dialect.Dialect {
	return (*Session)(e).adapter.Dialect()
}

// Get fetches a single record. A primary-key lookup is answered from
// the identity map, then the second-level cache, before touching the
// database; anything else compiles a single-row SELECT.
func (s *Session) Get(ctx context.Context, typeName string, lookups query.L) (*schema.Record, error) {
	typ := s.registry.Type(typeName)
	if typ == nil {
		return nil, blaze.NewConfigurationError(fmt.Sprintf("unknown type %q", typeName), nil)
	}
	if pk, ok := pkLookup(typ, lookups); ok {
		if rec := s.identity.Get(typ, pk); rec != nil {
			return rec, nil
		}
		if rec := s.cacheFetch(ctx, typ, pk); rec != nil {
			return rec, nil
		}
	}
	qs, err := s.Query(typeName)
	if err != nil {
		return nil, err
	}
	return qs.Filter(lookups).First(ctx)
}

func pkLookup(t *schema.Type, lookups query.L) (any, bool) {
	if len(lookups) != 1 {
		return nil, false
	}
	for key, value := range lookups {
		if value == nil {
			return nil, false
		}
		if key == t.PK.Name || key == t.PK.Name+query.PathSeparator+"exact" {
			return value, true
		}
	}
	return nil, false
}

func (s *Session) cacheFetch(ctx context.Context, t *schema.Type, pk any) *schema.Record {
	data, err := s.cache.Get(ctx, cacheKey(t, pk))
	if err != nil || data == nil {
		return nil
	}
	var fields map[string]any
	if err := msgpack.Unmarshal(data, &fields); err != nil {
		s.log.Debug("cache decode failed", "type", t.Name, "error", err)
		return nil
	}
	rec, err := s.materialize(ctx, t, fields)
	if err != nil {
		return nil
	}
	s.log.Debug("second-level cache hit", "type", t.Name, "pk", pk, logx.Attr(ctx))
	return rec
}

func (s *Session) cacheStore(ctx context.Context, rec *schema.Record) {
	data, err := msgpack.Marshal(rec.Values())
	if err != nil {
		s.log.Debug("cache encode failed", "type", rec.Type().Name, "error", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(rec.Type(), rec.PK()), data, s.cacheTTL); err != nil {
		s.log.Debug("cache store failed", "type", rec.Type().Name, "error", err)
	}
}

func cacheKey(t *schema.Type, pk any) string {
	return fmt.Sprintf("%s:%v", t.Name, pk)
}

// Close clears the identity map and unit of work without touching the
// database, then releases the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity.Clear()
	s.uow.Clear()
	s.snapshots = nil
	s.marks = nil
	s.committed = nil
	return s.adapter.Close()
}

// materialize backs query.Executor: rows with a known key reuse the
// identity-map instance, so repeated fetches return the same record
// and local mutations survive re-query. Freshly hydrated rows also
// enter the second-level cache, the same as flushed writes.
func (s *Session) materialize(ctx context.Context, t *schema.Type, fields map[string]any) (*schema.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pk := fields[t.PK.Name]; pk != nil {
		if existing := s.identity.Get(t, pk); existing != nil {
			return existing, nil
		}
	}
	rec := schema.Hydrate(t, fields)
	s.identity.Add(rec)
	s.cacheStore(ctx, rec)
	return rec, nil
}

func (s *Session) runQuery(ctx context.Context, stmt string, args []any) ([]map[string]any, error) {
	start := time.Now()
	rows, err := s.adapter.Query(ctx, stmt, args)
	s.observe(ctx, stmt, args, time.Since(start), err)
	return rows, err
}

// runExecMany observes the prepared statement once for the whole batch;
// feeding each parameter set to the tracker would flag the batch itself
// as an N+1 pattern.
func (s *Session) runExecMany(ctx context.Context, stmt string, argSets [][]any) error {
	start := time.Now()
	err := s.adapter.ExecMany(ctx, stmt, argSets)
	s.observe(ctx, stmt, nil, time.Since(start), err)
	return err
}

func (s *Session) runExec(ctx context.Context, stmt string, args []any) (sql.Result, error) {
	start := time.Now()
	res, err := s.adapter.Exec(ctx, stmt, args)
	s.observe(ctx, stmt, args, time.Since(start), err)
	return res, err
}

func (s *Session) observe(ctx context.Context, stmt string, args []any, elapsed time.Duration, err error) {
	s.tracker.Record(stmt, args, elapsed)
	switch {
	case err != nil:
		s.log.Error("statement failed", "sql", stmt, "args", redact.Params(args), "error", err, logx.Attr(ctx))
	case elapsed >= s.slowThreshold:
		s.log.Warn("slow statement", "sql", stmt, "elapsed", elapsed, logx.Attr(ctx))
	default:
		s.log.Debug("statement", "sql", stmt, "elapsed", elapsed, logx.Attr(ctx))
	}
}
