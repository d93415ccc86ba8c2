package services

import (
	"context"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/breaker"
	"github.com/platformbuilds/authz-core/pkg/cache"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// memStore is a minimal in-memory Store for cache service tests.
type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	counter map[string]int64
	failing bool
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, counter: map[string]int64{}}
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, assert.AnError
	}
	b, ok := m.data[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return b, nil
}

func (m *memStore) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, assert.AnError
	}
	out := map[string][]byte{}
	for _, k := range keys {
		if b, ok := m.data[k]; ok {
			out[k] = b
		}
	}
	return out, nil
}

func (m *memStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return assert.AnError
	}
	m.data[key] = value.([]byte)
	return nil
}

func (m *memStore) SetMulti(ctx context.Context, entries []cache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return assert.AnError
	}
	for _, e := range entries {
		m.data[e.Key] = e.Value.([]byte)
	}
	return nil
}

func (m *memStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memStore) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if ok, _ := path.Match(match, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, 0, nil
}

func (m *memStore) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return 0, assert.AnError
	}
	var removed int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, assert.AnError
	}
	m.counter[keys[0]]++
	return m.counter[keys[0]], nil
}

func (m *memStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (m *memStore) ReleaseLock(ctx context.Context, key string) error { return nil }
func (m *memStore) HealthCheck(ctx context.Context) error             { return nil }
func (m *memStore) Close() error                                      { return nil }

func newTestCacheService(store cache.Store) *PermissionCacheService {
	brk := breaker.New(breaker.Settings{
		Name:             "cache",
		FailureThreshold: 5,
		ResetTimeout:     time.Second,
	})
	return NewPermissionCacheService(store, brk, config.CacheConfig{}, config.WarmupConfig{Threshold: 3}, logger.NewNop())
}

func TestCheckKeyComposition(t *testing.T) {
	key := CheckKey("u1", "document", models.ActionRead, models.ScopeOwn, "d42")
	assert.Equal(t, "perm:u1:document:READ:OWN:d42", key)

	key = CheckKey("u1", "document", models.ActionRead, "", "")
	assert.Equal(t, "perm:u1:document:READ:none:all", key)

	assert.Equal(t, "user:u1:summary", UserSummaryKey("u1"))
	assert.Equal(t, "role:r1:permissions", RolePermissionsKey("r1"))
	assert.Equal(t, "warmup:activity:u1", WarmupKey("u1"))
}

func TestTTLClasses(t *testing.T) {
	svc := newTestCacheService(newMemStore())

	assert.Equal(t, 600*time.Second, svc.TTLFor("document", models.ActionRead))
	assert.Equal(t, 60*time.Second, svc.TTLFor("user", models.ActionUpdate))
	assert.Equal(t, 60*time.Second, svc.TTLFor("role", models.ActionDelete))
	assert.Equal(t, 60*time.Second, svc.TTLFor("permission", models.ActionUpdate))
	assert.Equal(t, 300*time.Second, svc.TTLFor("user", models.ActionCreate))
	assert.Equal(t, 300*time.Second, svc.TTLFor("document", models.ActionDelete))
}

func TestCheckCacheRoundTrip(t *testing.T) {
	svc := newTestCacheService(newMemStore())
	ctx := context.Background()
	req := &models.CheckRequest{
		UserProfileID: "u1",
		Resource:      "document",
		Action:        models.ActionRead,
		Scope:         models.ScopeOwn,
	}
	key := CheckKey(req.UserProfileID, req.Resource, req.Action, req.Scope, req.ResourceID)

	_, ok := svc.GetCheck(ctx, key)
	assert.False(t, ok)

	svc.SetCheck(ctx, req, true)
	allowed, ok := svc.GetCheck(ctx, key)
	require.True(t, ok)
	assert.True(t, allowed)
}

func TestGetCheckMultiReturnsOnlyHits(t *testing.T) {
	svc := newTestCacheService(newMemStore())
	ctx := context.Background()

	reqA := &models.CheckRequest{UserProfileID: "u1", Resource: "a", Action: models.ActionRead}
	svc.SetCheck(ctx, reqA, true)
	keyA := CheckKey("u1", "a", models.ActionRead, "", "")
	keyB := CheckKey("u1", "b", models.ActionRead, "", "")

	hits := svc.GetCheckMulti(ctx, []string{keyA, keyB})
	assert.Len(t, hits, 1)
	assert.True(t, hits[keyA])
}

func TestRecordActivityCrossesThresholdOnce(t *testing.T) {
	svc := newTestCacheService(newMemStore())
	ctx := context.Background()

	assert.False(t, svc.RecordActivity(ctx, "u1"))
	assert.False(t, svc.RecordActivity(ctx, "u1"))
	assert.True(t, svc.RecordActivity(ctx, "u1"))
	assert.False(t, svc.RecordActivity(ctx, "u1"))
}

func TestInvalidateUserClearsOnlyThatUser(t *testing.T) {
	store := newMemStore()
	svc := newTestCacheService(store)
	ctx := context.Background()

	svc.SetCheck(ctx, &models.CheckRequest{UserProfileID: "u1", Resource: "a", Action: models.ActionRead}, true)
	svc.SetCheck(ctx, &models.CheckRequest{UserProfileID: "u2", Resource: "a", Action: models.ActionRead}, true)

	require.NoError(t, svc.InvalidateUser(ctx, "u1"))

	_, ok := svc.GetCheck(ctx, CheckKey("u1", "a", models.ActionRead, "", ""))
	assert.False(t, ok)
	_, ok = svc.GetCheck(ctx, CheckKey("u2", "a", models.ActionRead, "", ""))
	assert.True(t, ok)
}

func TestInvalidateUserSurfacesStoreFailure(t *testing.T) {
	store := newMemStore()
	svc := newTestCacheService(store)
	store.failing = true

	err := svc.InvalidateUser(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeCacheInvalidationFailed))
}

func TestBrokenCacheDegradesToMiss(t *testing.T) {
	store := newMemStore()
	store.failing = true
	svc := newTestCacheService(store)

	_, ok := svc.GetCheck(context.Background(), "perm:u1:a:READ:none:all")
	assert.False(t, ok)

	hits := svc.GetCheckMulti(context.Background(), []string{"perm:u1:a:READ:none:all"})
	assert.Empty(t, hits)
}

func TestPrepopulateHonorsBatchLimit(t *testing.T) {
	store := newMemStore()
	brk := breaker.New(breaker.Settings{Name: "cache", FailureThreshold: 5, ResetTimeout: time.Second})
	svc := NewPermissionCacheService(store, brk, config.CacheConfig{}, config.WarmupConfig{BatchSize: 2}, logger.NewNop())

	answers := map[string]bool{"k1": true, "k2": false, "k3": true}
	svc.Prepopulate(context.Background(), "u1", answers)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.data, 2)
}
