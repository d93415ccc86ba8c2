package services

import (
	"context"
	"time"

	"github.com/platformbuilds/authz-core/internal/monitoring"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/pkg/breaker"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// Health thresholds for the degraded status.
const (
	degradedErrorRate    = 0.05
	degradedAvgLatency   = 100 * time.Millisecond
	degradedCacheHitRate = 0.70
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// SystemStatus is the monitoring surface's aggregate answer.
type SystemStatus struct {
	Status      string                   `json:"status"`
	Checks      map[string]string        `json:"checks"`
	Breakers    []breaker.Snapshot       `json:"breakers"`
	Stats       monitoring.StatsSnapshot `json:"stats"`
	GeneratedAt time.Time                `json:"generatedAt"`
}

// MonitoringService derives system health from live stats, breaker states,
// and dependency probes.
type MonitoringService struct {
	db       *postgres.DB
	cache    *PermissionCacheService
	breakers []*breaker.Breaker
	logger   logger.Logger
}

func NewMonitoringService(db *postgres.DB, cacheService *PermissionCacheService, breakers []*breaker.Breaker, log logger.Logger) *MonitoringService {
	return &MonitoringService{
		db:       db,
		cache:    cacheService,
		breakers: breakers,
		logger:   log.With("component", "monitoring"),
	}
}

// Status answers healthy, degraded, or unhealthy. Any open breaker means
// unhealthy; soft thresholds on error rate, latency, and cache hit rate
// mean degraded.
func (s *MonitoringService) Status(ctx context.Context) *SystemStatus {
	out := &SystemStatus{
		Status:      StatusHealthy,
		Checks:      map[string]string{},
		Stats:       monitoring.SnapshotStats(),
		GeneratedAt: time.Now().UTC(),
	}

	for _, brk := range s.breakers {
		snap := brk.Snapshot()
		out.Breakers = append(out.Breakers, snap)
		if snap.State == breaker.StateOpen.String() {
			out.Status = StatusUnhealthy
		}
	}

	if err := s.db.Ping(ctx); err != nil {
		out.Checks["database"] = "down"
		out.Status = StatusUnhealthy
	} else {
		out.Checks["database"] = "up"
	}
	if err := s.cache.HealthCheck(ctx); err != nil {
		out.Checks["cache"] = "down"
		if out.Status == StatusHealthy {
			out.Status = StatusDegraded
		}
	} else {
		out.Checks["cache"] = "up"
	}

	if out.Status == StatusHealthy {
		stats := out.Stats
		lookups := stats.CacheHits + stats.CacheMisses
		switch {
		case stats.ErrorRate > degradedErrorRate:
			out.Status = StatusDegraded
		case stats.AvgCheckLatency > degradedAvgLatency:
			out.Status = StatusDegraded
		case lookups > 0 && stats.CacheHitRate < degradedCacheHitRate:
			out.Status = StatusDegraded
		}
	}
	return out
}

// Liveness is the cheap probe: the process answers, the process lives.
func (s *MonitoringService) Liveness() map[string]string {
	return map[string]string{"status": "alive"}
}

// Readiness reports whether the service can answer checks at all. The
// database must respond; the cache may be down since checks degrade to DB
// resolution.
func (s *MonitoringService) Readiness(ctx context.Context) (bool, map[string]string) {
	checks := map[string]string{}
	ready := true
	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = "down"
		ready = false
	} else {
		checks["database"] = "up"
	}
	if err := s.cache.HealthCheck(ctx); err != nil {
		checks["cache"] = "down"
	} else {
		checks["cache"] = "up"
	}
	return ready, checks
}

// Stats exposes the raw aggregate for the admin surface.
func (s *MonitoringService) Stats() monitoring.StatsSnapshot {
	return monitoring.SnapshotStats()
}

// Breakers reports every circuit breaker's current state.
func (s *MonitoringService) Breakers() []breaker.Snapshot {
	out := make([]breaker.Snapshot, 0, len(s.breakers))
	for _, brk := range s.breakers {
		out = append(out, brk.Snapshot())
	}
	return out
}
