package cache

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/platformbuilds/authz-core/pkg/logger"
)

// noopStore is an in-memory, process-local fallback that satisfies Store when
// the external cache is unavailable. It is best-effort: entries honor TTLs
// lazily, nothing is shared across replicas, and data is lost on restart.
type noopStore struct {
	mu     sync.RWMutex
	m      map[string]noopEntry
	logger logger.Logger
}

type noopEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e noopEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// NewNoopStore returns the in-memory fallback store.
func NewNoopStore(log logger.Logger) Store {
	log.Warn("external cache unavailable; using in-memory fallback store")
	return &noopStore{m: make(map[string]noopEntry), logger: log}
}

func (n *noopStore) Get(ctx context.Context, key string) ([]byte, error) {
	n.mu.RLock()
	e, ok := n.m[key]
	n.mu.RUnlock()
	if !ok || e.expired() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return e.data, nil
}

func (n *noopStore) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if b, err := n.Get(ctx, k); err == nil {
			out[k] = b
		}
	}
	return out, nil
}

func (n *noopStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	n.mu.Lock()
	n.m[key] = noopEntry{data: data, expiresAt: exp}
	n.mu.Unlock()
	return nil
}

func (n *noopStore) SetMulti(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := n.Set(ctx, e.Key, e.Value, e.TTL); err != nil {
			return err
		}
	}
	return nil
}

func (n *noopStore) Delete(ctx context.Context, keys ...string) error {
	n.mu.Lock()
	for _, k := range keys {
		delete(n.m, k)
	}
	n.mu.Unlock()
	return nil
}

func (n *noopStore) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var keys []string
	for k, e := range n.m {
		if e.expired() {
			continue
		}
		if matchPattern(match, k) {
			keys = append(keys, k)
		}
	}
	return keys, 0, nil
}

func (n *noopStore) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	keys, _, err := n.Scan(ctx, 0, pattern, 0)
	if err != nil {
		return 0, err
	}
	if err := n.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Eval emulates the warm-up increment script: INCR key, EXPIRE on first hit.
// Arbitrary scripts are not supported in fallback mode.
func (n *noopStore) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if len(keys) == 0 || !strings.Contains(script, "INCR") {
		return nil, fmt.Errorf("noop store: unsupported script")
	}
	key := keys[0]
	n.mu.Lock()
	defer n.mu.Unlock()

	var count int64 = 1
	if e, ok := n.m[key]; ok && !e.expired() {
		fmt.Sscanf(string(e.data), "%d", &count)
		count++
	}
	n.m[key] = noopEntry{data: []byte(fmt.Sprintf("%d", count))}
	return count, nil
}

func (n *noopStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	// Single process, no contention.
	return true, nil
}

func (n *noopStore) ReleaseLock(ctx context.Context, key string) error {
	return nil
}

// HealthCheck reports an error so the monitoring surface shows the external
// cache as disconnected.
func (n *noopStore) HealthCheck(ctx context.Context) error {
	return fmt.Errorf("in-memory fallback store in use (external cache not connected)")
}

func (n *noopStore) Close() error {
	return nil
}

// matchPattern supports the glob subset Redis SCAN understands well enough
// for the key families used here (prefix* patterns).
func matchPattern(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, key)
	if err != nil {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return ok
}
