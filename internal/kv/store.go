package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNil is returned by Get when the key does not exist (or has expired).
var ErrNil = errors.New("kv: key not found")

// Store is the narrow surface the service layer is allowed to touch.
// It is deliberately shaped after the Redis primitives the system needs and
// nothing more: plain values with optional expiry, atomic set-if-absent,
// sets, bounded lists, TTL introspection/refresh, batched reads and pattern
// scans. Everything the service knows is reconstructed through this
// interface on every request; there is no other shared state.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set writes key=value. ttl == 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only if the key is absent and reports whether it won.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// TTL returns the remaining lifetime of key; 0 when the key has no
	// expiry, ErrNil when it does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Expire refreshes the TTL only when the key currently exists and
	// reports whether it was applied.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// LRem removes up to count occurrences of value (count semantics as in
	// Redis; this codebase only uses count=1, first match from the head).
	LRem(ctx context.Context, key string, count int64, value string) error

	// MGet returns one entry per key; nil for keys that do not exist.
	MGet(ctx context.Context, keys ...string) ([]*string, error)
	// Scan returns all keys matching a glob-style pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)
}
