package monitoring

import (
	"sync"
	"time"
)

// processStats keeps a small in-process aggregate of check activity. The
// Prometheus registry is write-only from Go, so the health surface reads
// these counters instead of scraping itself.
type processStats struct {
	mu sync.Mutex

	checksTotal   uint64
	checksAllowed uint64
	checksDenied  uint64
	checkErrors   uint64

	cacheHits   uint64
	cacheMisses uint64

	totalCheckDuration time.Duration

	startedAt time.Time
}

var stats = &processStats{startedAt: time.Now()}

func (s *processStats) recordCheck(allowed bool, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checksTotal++
	if allowed {
		s.checksAllowed++
	} else {
		s.checksDenied++
	}
	s.totalCheckDuration += duration
}

func (s *processStats) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkErrors++
}

func (s *processStats) recordCacheHit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheHits++
}

func (s *processStats) recordCacheMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheMisses++
}

// StatsSnapshot is the aggregate the monitoring surface derives health from.
type StatsSnapshot struct {
	ChecksTotal     uint64        `json:"checksTotal"`
	ChecksAllowed   uint64        `json:"checksAllowed"`
	ChecksDenied    uint64        `json:"checksDenied"`
	CheckErrors     uint64        `json:"checkErrors"`
	CacheHits       uint64        `json:"cacheHits"`
	CacheMisses     uint64        `json:"cacheMisses"`
	ErrorRate       float64       `json:"errorRate"`
	CacheHitRate    float64       `json:"cacheHitRate"`
	AvgCheckLatency time.Duration `json:"avgCheckLatencyMs"`
	Uptime          time.Duration `json:"uptimeSeconds"`
}

// SnapshotStats returns the current process aggregate.
func SnapshotStats() StatsSnapshot {
	stats.mu.Lock()
	defer stats.mu.Unlock()

	snap := StatsSnapshot{
		ChecksTotal:   stats.checksTotal,
		ChecksAllowed: stats.checksAllowed,
		ChecksDenied:  stats.checksDenied,
		CheckErrors:   stats.checkErrors,
		CacheHits:     stats.cacheHits,
		CacheMisses:   stats.cacheMisses,
		Uptime:        time.Since(stats.startedAt),
	}
	if total := stats.checksTotal + stats.checkErrors; total > 0 {
		snap.ErrorRate = float64(stats.checkErrors) / float64(total)
	}
	if lookups := stats.cacheHits + stats.cacheMisses; lookups > 0 {
		snap.CacheHitRate = float64(stats.cacheHits) / float64(lookups)
	}
	if stats.checksTotal > 0 {
		snap.AvgCheckLatency = stats.totalCheckDuration / time.Duration(stats.checksTotal)
	}
	return snap
}

// ResetStats clears the process aggregate. Tests only.
func ResetStats() {
	stats.mu.Lock()
	defer stats.mu.Unlock()
	stats.checksTotal = 0
	stats.checksAllowed = 0
	stats.checksDenied = 0
	stats.checkErrors = 0
	stats.cacheHits = 0
	stats.cacheMisses = 0
	stats.totalCheckDuration = 0
	stats.startedAt = time.Now()
}
