package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/GetMulti when a key is absent. Callers must
// treat it as a normal miss, not an outage.
var ErrNotFound = errors.New("cache: key not found")

// Entry is one key/value pair for pipelined multi-set operations.
type Entry struct {
	Key   string
	Value interface{}
	TTL   time.Duration
}

// Store is the key-value cache contract the permission services run on. It is
// satisfied by the Redis-backed store and by the in-memory fallback used when
// the external cache is unreachable. All operations must be safe to call
// behind a circuit breaker.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMulti fetches many keys in one pipelined round-trip. Missing keys are
	// simply absent from the result map.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// SetMulti writes all entries in one pipeline.
	SetMulti(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, keys ...string) error
	// Scan walks the keyspace matching pattern, returning the next cursor.
	// A returned cursor of 0 means the iteration is complete.
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	// DeletePattern removes every key matching pattern, deleting in bounded
	// batches. Returns the number of keys removed.
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	// Eval runs a server-side script atomically (used for the warm-up counter).
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
	Close() error
}
