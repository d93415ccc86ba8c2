package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/monitoring"
	"github.com/platformbuilds/authz-core/pkg/breaker"
	"github.com/platformbuilds/authz-core/pkg/cache"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// TTL class defaults (seconds). Config may override them.
const (
	defaultTTL         = 300
	defaultReadTTL     = 600
	defaultCriticalTTL = 60

	defaultWarmupThreshold = 100
	defaultWarmupWindow    = 3600
	defaultWarmupBatch     = 50
)

// warmupIncrScript atomically bumps the activity counter and arms the window
// expiry exactly when the counter leaves zero.
const warmupIncrScript = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return n
`

// PermissionCacheService wraps the key-value store with permission-shaped
// keys, the TTL class table, warm-up gating, and pattern invalidation. All
// store traffic runs behind the cache circuit breaker; a broken cache
// degrades to misses, never to failed checks.
type PermissionCacheService struct {
	store   cache.Store
	breaker *breaker.Breaker
	logger  logger.Logger

	ttl         time.Duration
	readTTL     time.Duration
	criticalTTL time.Duration

	warmupThreshold int64
	warmupWindow    time.Duration
	warmupBatch     int
}

// NewPermissionCacheService wires the cache service from config, applying
// the TTL class defaults where config is silent.
func NewPermissionCacheService(store cache.Store, brk *breaker.Breaker, cfg config.CacheConfig, warmup config.WarmupConfig, log logger.Logger) *PermissionCacheService {
	s := &PermissionCacheService{
		store:           store,
		breaker:         brk,
		logger:          log.With("component", "permission_cache"),
		ttl:             secondsOr(cfg.TTL, defaultTTL),
		readTTL:         secondsOr(cfg.ReadTTL, defaultReadTTL),
		criticalTTL:     secondsOr(cfg.CriticalTTL, defaultCriticalTTL),
		warmupThreshold: int64(warmup.Threshold),
		warmupWindow:    secondsOr(warmup.Window, defaultWarmupWindow),
		warmupBatch:     warmup.BatchSize,
	}
	if s.warmupThreshold <= 0 {
		s.warmupThreshold = defaultWarmupThreshold
	}
	if s.warmupBatch <= 0 {
		s.warmupBatch = defaultWarmupBatch
	}
	return s
}

func secondsOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

// --- key builders ---

// CheckKey composes the per-check cache key. Absent scope becomes "none",
// absent resource instance becomes "all".
func CheckKey(userProfileID, resource string, action models.Action, scope models.Scope, resourceID string) string {
	s := string(scope)
	if s == "" {
		s = "none"
	}
	rid := resourceID
	if rid == "" {
		rid = "all"
	}
	return fmt.Sprintf("perm:%s:%s:%s:%s:%s", userProfileID, resource, action, s, rid)
}

// UserSummaryKey holds the effective-permission summary for one user.
func UserSummaryKey(userProfileID string) string {
	return fmt.Sprintf("user:%s:summary", userProfileID)
}

// RolePermissionsKey holds the resolved permission set of one role.
func RolePermissionsKey(roleID string) string {
	return fmt.Sprintf("role:%s:permissions", roleID)
}

// WarmupKey is the rolling activity counter for one user.
func WarmupKey(userProfileID string) string {
	return fmt.Sprintf("warmup:activity:%s", userProfileID)
}

// TTLFor picks the TTL class for a check coordinate: reads are cheap to hold
// long; mutations of the authorization entities themselves go stale fast.
func (s *PermissionCacheService) TTLFor(resource string, action models.Action) time.Duration {
	if action == models.ActionRead {
		return s.readTTL
	}
	switch resource {
	case "user", "role", "permission":
		if action == models.ActionUpdate || action == models.ActionDelete {
			return s.criticalTTL
		}
	}
	return s.ttl
}

// --- check result caching ---

// GetCheck fetches a cached check answer. A miss (or any cache trouble)
// returns ok=false; errors are counted, logged, and swallowed.
func (s *PermissionCacheService) GetCheck(ctx context.Context, key string) (allowed bool, ok bool) {
	raw, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return s.store.Get(ctx, key)
	}, nil)
	if err != nil {
		monitoring.RecordCacheOperation("get", "miss")
		if !errors.Is(err, cache.ErrNotFound) && !errors.Is(err, breaker.ErrOpen) {
			s.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return false, false
	}

	var cached models.CachedCheckResult
	if err := json.Unmarshal(raw.([]byte), &cached); err != nil {
		monitoring.RecordCacheOperation("get", "miss")
		s.logger.Warn("cache entry is not a check result", "key", key, "error", err)
		return false, false
	}
	monitoring.RecordCacheOperation("get", "hit")
	return cached.IsAllowed, true
}

// GetCheckMulti fetches many check answers in one pipelined round-trip. The
// result map holds only hits.
func (s *PermissionCacheService) GetCheckMulti(ctx context.Context, keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out
	}
	raw, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return s.store.GetMulti(ctx, keys)
	}, nil)
	if err != nil {
		for range keys {
			monitoring.RecordCacheOperation("mget", "miss")
		}
		if !errors.Is(err, breaker.ErrOpen) {
			s.logger.Warn("cache multi-get failed", "keys", len(keys), "error", err)
		}
		return out
	}

	values := raw.(map[string][]byte)
	for _, key := range keys {
		b, hit := values[key]
		if !hit {
			monitoring.RecordCacheOperation("mget", "miss")
			continue
		}
		var cached models.CachedCheckResult
		if err := json.Unmarshal(b, &cached); err != nil {
			monitoring.RecordCacheOperation("mget", "miss")
			continue
		}
		monitoring.RecordCacheOperation("mget", "hit")
		out[key] = cached.IsAllowed
	}
	return out
}

// SetCheck stores a composed check answer under its TTL class. Failures are
// logged, not surfaced: the next check simply misses.
func (s *PermissionCacheService) SetCheck(ctx context.Context, req *models.CheckRequest, allowed bool) {
	ttl := s.TTLFor(req.Resource, req.Action)
	value := models.CachedCheckResult{
		IsAllowed:  allowed,
		CachedAt:   time.Now().UTC(),
		TTLSeconds: int(ttl / time.Second),
		Resource:   req.Resource,
		Action:     req.Action,
		Scope:      req.Scope,
		ResourceID: req.ResourceID,
	}
	payload, err := json.Marshal(value)
	if err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return
	}
	key := CheckKey(req.UserProfileID, req.Resource, req.Action, req.Scope, req.ResourceID)
	_, err = s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, s.store.Set(ctx, key, payload, ttl)
	}, nil)
	if err != nil {
		monitoring.RecordCacheOperation("set", "error")
		if !errors.Is(err, breaker.ErrOpen) {
			s.logger.Warn("cache set failed", "key", key, "error", err)
		}
		return
	}
	monitoring.RecordCacheOperation("set", "ok")
}

// --- warm-up ---

// RecordActivity bumps the user's warm-up counter and reports whether the
// counter just crossed the pre-population threshold.
func (s *PermissionCacheService) RecordActivity(ctx context.Context, userProfileID string) (crossed bool) {
	key := WarmupKey(userProfileID)
	raw, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return s.store.Eval(ctx, warmupIncrScript, []string{key}, int64(s.warmupWindow/time.Second))
	}, nil)
	if err != nil {
		if !errors.Is(err, breaker.ErrOpen) {
			s.logger.Warn("warmup counter increment failed", "user", userProfileID, "error", err)
		}
		return false
	}
	count, ok := raw.(int64)
	if !ok {
		return false
	}
	return count == s.warmupThreshold
}

// Prepopulate writes a batch of pre-computed check answers for a hot user in
// one pipeline. Entries beyond the warm-up batch size are dropped; the rest
// of the keyspace fills on demand.
func (s *PermissionCacheService) Prepopulate(ctx context.Context, userProfileID string, answers map[string]bool) {
	if len(answers) == 0 {
		return
	}
	entries := make([]cache.Entry, 0, s.warmupBatch)
	now := time.Now().UTC()
	for key, allowed := range answers {
		if len(entries) >= s.warmupBatch {
			break
		}
		payload, err := json.Marshal(models.CachedCheckResult{
			IsAllowed:  allowed,
			CachedAt:   now,
			TTLSeconds: int(s.ttl / time.Second),
		})
		if err != nil {
			continue
		}
		entries = append(entries, cache.Entry{Key: key, Value: payload, TTL: s.ttl})
	}

	_, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, s.store.SetMulti(ctx, entries)
	}, nil)
	if err != nil {
		monitoring.RecordCacheWarmup(false)
		if !errors.Is(err, breaker.ErrOpen) {
			s.logger.Warn("cache pre-population failed", "user", userProfileID, "error", err)
		}
		return
	}
	monitoring.RecordCacheWarmup(true)
	s.logger.Debug("cache pre-populated", "user", userProfileID, "entries", len(entries))
}

// --- invalidation ---

// InvalidateUser removes the user's summary key then every per-check key,
// scan-deleting in bounded batches.
func (s *PermissionCacheService) InvalidateUser(ctx context.Context, userProfileID string) error {
	_, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		if err := s.store.Delete(ctx, UserSummaryKey(userProfileID)); err != nil {
			return nil, err
		}
		pattern := fmt.Sprintf("perm:%s:*", userProfileID)
		return s.store.DeletePattern(ctx, pattern)
	}, nil)
	if err != nil {
		monitoring.RecordInvalidation("user", false)
		return models.ErrUnavailablef(models.CodeCacheInvalidationFailed,
			"cache invalidation failed for user %s", userProfileID).WithCause(err)
	}
	monitoring.RecordInvalidation("user", true)
	return nil
}

// InvalidateRole removes the role's permission key. Holder fan-out is the
// invalidation fabric's job; this only clears the role-shaped key.
func (s *PermissionCacheService) InvalidateRole(ctx context.Context, roleID string) error {
	_, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, s.store.Delete(ctx, RolePermissionsKey(roleID))
	}, nil)
	if err != nil {
		monitoring.RecordInvalidation("role", false)
		return models.ErrUnavailablef(models.CodeCacheInvalidationFailed,
			"cache invalidation failed for role %s", roleID).WithCause(err)
	}
	monitoring.RecordInvalidation("role", true)
	return nil
}

// InvalidateAll flushes every permission-shaped key. The nightly sweep calls
// it when expired rows were touched.
func (s *PermissionCacheService) InvalidateAll(ctx context.Context) error {
	_, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		for _, pattern := range []string{"perm:*", "user:*:summary", "role:*:permissions"} {
			if _, err := s.store.DeletePattern(ctx, pattern); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}, nil)
	if err != nil {
		monitoring.RecordInvalidation("all", false)
		return models.ErrUnavailablef(models.CodeCacheInvalidationFailed,
			"global cache invalidation failed").WithCause(err)
	}
	monitoring.RecordInvalidation("all", true)
	return nil
}

// HealthCheck pings the underlying store directly, bypassing the breaker so
// the monitoring surface sees the store's true state.
func (s *PermissionCacheService) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}
