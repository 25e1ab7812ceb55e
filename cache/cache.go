// Package cache provides the second-level record cache. Values are
// opaque byte slices; encoding is the caller's concern. A miss is
// (nil, nil), never an error.
package cache

import (
	"context"
	"time"
)

// Cache is the contract the session stores encoded records behind.
type Cache interface {
	// Get returns the value for key, or nil when absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A non-positive ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Removing an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

// NoOp is a Cache that stores nothing. Useful as a default and in
// tests that must not be cache-coupled.
type NoOp struct{}

// NewNoOp returns a Cache that always misses.
func NewNoOp() *NoOp { return &NoOp{} }

func (*NoOp) Get(context.Context, string) ([]byte, error)              { return nil, nil }
func (*NoOp) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (*NoOp) Delete(context.Context, string) error                     { return nil }
func (*NoOp) Clear(context.Context) error                              { return nil }

var _ Cache = (*NoOp)(nil)
