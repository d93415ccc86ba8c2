package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotStatsRates(t *testing.T) {
	ResetStats()

	RecordCheck("database", true, 10*time.Millisecond)
	RecordCheck("database", false, 30*time.Millisecond)
	RecordCheckError("database")

	RecordCacheOperation("get", "hit")
	RecordCacheOperation("get", "hit")
	RecordCacheOperation("get", "hit")
	RecordCacheOperation("get", "miss")

	snap := SnapshotStats()

	assert.Equal(t, uint64(2), snap.ChecksTotal)
	assert.Equal(t, uint64(1), snap.ChecksAllowed)
	assert.Equal(t, uint64(1), snap.ChecksDenied)
	assert.Equal(t, uint64(1), snap.CheckErrors)
	assert.InDelta(t, 1.0/3.0, snap.ErrorRate, 1e-9)
	assert.InDelta(t, 0.75, snap.CacheHitRate, 1e-9)
	assert.Equal(t, 20*time.Millisecond, snap.AvgCheckLatency)
}

func TestSnapshotStatsEmpty(t *testing.T) {
	ResetStats()

	snap := SnapshotStats()
	assert.Zero(t, snap.ChecksTotal)
	assert.Zero(t, snap.ErrorRate)
	assert.Zero(t, snap.CacheHitRate)
	assert.Zero(t, snap.AvgCheckLatency)
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"/api/v1/permissions":    "/api/v1/permissions",
		"/api/v1/permissions/42": "/api/v1/permissions/:id",
		"/api/v1/roles/550e8400-e29b-41d4-a716-446655440000/permissions": "/api/v1/roles/:id/permissions",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeEndpoint(in), in)
	}
}
