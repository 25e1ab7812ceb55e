// Package session orchestrates persistence: the identity map, the unit
// of work, the transaction manager, and the flush pipeline that turns
// pending changes into SQL.
package session

import (
	"fmt"
	"sync"

	"github.com/blazeorm/blaze/schema"
)

type identityKey struct {
	typeName string
	pk       string
}

func keyFor(t *schema.Type, pk any) identityKey {
	return identityKey{typeName: t.Name, pk: fmt.Sprint(pk)}
}

// IdentityMap guarantees one in-memory instance per (type, pk) within
// a session: repeated fetches of the same row return the same record,
// which is what makes snapshot-based mutation tracking sound. Guarded
// by its own mutex; safe to share across goroutines.
type IdentityMap struct {
	mu      sync.Mutex
	entries map[identityKey]*schema.Record
	order   []identityKey
}

// NewIdentityMap returns an empty map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: make(map[identityKey]*schema.Record)}
}

// Add stores the record by (type, pk). No-op for transient records.
func (m *IdentityMap) Add(rec *schema.Record) {
	pk := rec.PK()
	if pk == nil {
		return
	}
	key := keyFor(rec.Type(), pk)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists {
		m.order = append(m.order, key)
	}
	m.entries[key] = rec
}

// Get returns the cached instance for (type, pk), or nil.
func (m *IdentityMap) Get(t *schema.Type, pk any) *schema.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[keyFor(t, pk)]
}

// Remove evicts the record. No-op when absent or transient.
func (m *IdentityMap) Remove(rec *schema.Record) {
	pk := rec.PK()
	if pk == nil {
		return
	}
	key := keyFor(rec.Type(), pk)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists {
		return
	}
	delete(m.entries, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// All returns the tracked records in insertion order.
func (m *IdentityMap) All() []*schema.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*schema.Record, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.entries[key])
	}
	return out
}

// Clear drops every entry. Called when the session closes.
func (m *IdentityMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[identityKey]*schema.Record)
	m.order = nil
}
