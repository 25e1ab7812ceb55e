// Package perf tracks executed statements and flags probable N+1 query
// patterns. The heuristic is deliberately loose: a statement repeated
// past a threshold with varying parameters is exactly what a relation
// loaded row-by-row looks like.
package perf

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

type stmtStat struct {
	count        int
	total        time.Duration
	fingerprints map[uint64]struct{}
	reported     bool
}

// Stat is one row of the tracker's summary.
type Stat struct {
	SQL          string
	Count        int
	Total        time.Duration
	Fingerprints int
	Reported     bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithThreshold sets the repeat count required before a statement is
// eligible for an N+1 report.
func WithThreshold(n int) Option {
	return func(t *Tracker) { t.threshold = n }
}

// WithLogger overrides the logger reports are written to.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// Tracker aggregates per-statement execution counts keyed by
// whitespace-normalized SQL text. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	threshold int
	log       *slog.Logger
	stats     map[string]*stmtStat
	reports   []string
}

// NewTracker returns a tracker with the default threshold of 5.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		threshold: 5,
		log:       slog.Default().With("component", "perf"),
		stats:     make(map[string]*stmtStat),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record adds one execution. A statement is reported once, when its
// count reaches the threshold and it has been seen with at least two
// distinct parameter sets.
func (t *Tracker) Record(sql string, params []any, elapsed time.Duration) {
	key := Normalize(sql)
	fp := fingerprint(params)

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[key]
	if !ok {
		s = &stmtStat{fingerprints: make(map[uint64]struct{})}
		t.stats[key] = s
	}
	s.count++
	s.total += elapsed
	s.fingerprints[fp] = struct{}{}

	if !s.reported && s.count >= t.threshold && len(s.fingerprints) >= 2 {
		s.reported = true
		t.reports = append(t.reports, key)
		t.log.Warn("potential N+1 query pattern",
			"sql", key,
			"count", s.count,
			"distinct_params", len(s.fingerprints),
		)
	}
}

// Reports returns the statements flagged so far, in report order.
func (t *Tracker) Reports() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.reports...)
}

// Summary returns a stable snapshot of every tracked statement.
func (t *Tracker) Summary() []Stat {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stat, 0, len(t.stats))
	for sql, s := range t.stats {
		out = append(out, Stat{
			SQL:          sql,
			Count:        s.count,
			Total:        s.total,
			Fingerprints: len(s.fingerprints),
			Reported:     s.reported,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SQL < out[j].SQL })
	return out
}

// Reset clears all counters and report state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = make(map[string]*stmtStat)
	t.reports = nil
}

// Normalize collapses runs of whitespace so formatting differences do
// not split a statement's counters.
func Normalize(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

func fingerprint(params []any) uint64 {
	if len(params) == 0 {
		return 0
	}
	encoded, err := msgpack.Marshal(params)
	if err != nil {
		// Unencodable params still need a stable-ish bucket.
		return xxhash.Sum64String(err.Error())
	}
	return xxhash.Sum64(encoded)
}
