package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// LRU is a size-bounded cache. Least recently used entries are evicted
// when the bound is hit; per-entry TTLs are checked on read.
type LRU struct {
	inner *lru.Cache[string, lruEntry]
	now   func() time.Time
}

// NewLRU returns a cache bounded to size entries.
func NewLRU(size int) (*LRU, error) {
	inner, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRU{inner: inner, now: time.Now}, nil
}

func (c *LRU) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := c.inner.Get(key)
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.inner.Remove(key)
		return nil, nil
	}
	return e.value, nil
}

func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := lruEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.inner.Add(key, e)
	return nil
}

func (c *LRU) Delete(_ context.Context, key string) error {
	c.inner.Remove(key)
	return nil
}

func (c *LRU) Clear(_ context.Context) error {
	c.inner.Purge()
	return nil
}

var _ Cache = (*LRU)(nil)
