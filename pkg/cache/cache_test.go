package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/pkg/logger"
)

func newTestStore() Store {
	return NewNoopStore(logger.NewNop())
}

func TestNoopStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.Get(ctx, "absent")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Set(ctx, "k1", "v1", time.Minute))
	b, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(b))

	require.NoError(t, s.Delete(ctx, "k1"))
	_, err = s.Get(ctx, "k1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNoopStore_JSONEncoding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	type payload struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, s.Set(ctx, "perm:u1:document:READ:OWN:all", payload{Allowed: true}, time.Minute))

	b, err := s.Get(ctx, "perm:u1:document:READ:OWN:all")
	require.NoError(t, err)
	assert.JSONEq(t, `{"allowed":true,"reason":""}`, string(b))
}

func TestNoopStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	require.NoError(t, s.Set(ctx, "short", "v", 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	_, err := s.Get(ctx, "short")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNoopStore_GetMulti(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	require.NoError(t, s.SetMulti(ctx, []Entry{
		{Key: "a", Value: "1", TTL: time.Minute},
		{Key: "b", Value: "2", TTL: time.Minute},
	}))

	got, err := s.GetMulti(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "1", string(got["a"]))
	assert.Equal(t, "2", string(got["b"]))
	_, ok := got["missing"]
	assert.False(t, ok)
}

func TestNoopStore_DeletePattern(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	require.NoError(t, s.Set(ctx, "perm:u1:document:READ:OWN:all", "1", time.Minute))
	require.NoError(t, s.Set(ctx, "perm:u1:user:UPDATE:ALL:all", "1", time.Minute))
	require.NoError(t, s.Set(ctx, "perm:u2:document:READ:OWN:all", "1", time.Minute))

	n, err := s.DeletePattern(ctx, "perm:u1:*")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = s.Get(ctx, "perm:u1:document:READ:OWN:all")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Get(ctx, "perm:u2:document:READ:OWN:all")
	assert.NoError(t, err)
}

func TestNoopStore_EvalWarmupCounter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	script := `local v = redis.call('INCR', KEYS[1]) if v == 1 then redis.call('EXPIRE', KEYS[1], ARGV[1]) end return v`

	v, err := s.Eval(ctx, script, []string{"warmup:activity:u1"}, 3600)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	v, err = s.Eval(ctx, script, []string{"warmup:activity:u1"}, 3600)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
}

func TestNoopStore_Locks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	ok, err := s.AcquireLock(ctx, "matrix-refresh", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, s.ReleaseLock(ctx, "matrix-refresh"))
}

func TestNoopStore_HealthCheckReportsDisconnected(t *testing.T) {
	s := newTestStore()
	assert.Error(t, s.HealthCheck(context.Background()))
}
