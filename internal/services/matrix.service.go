package services

import (
	"context"
	"time"

	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/monitoring"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/pkg/breaker"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

const (
	defaultMatrixExpiryHours  = 24
	defaultMatrixBatchSize    = 100
	defaultHighPriorityChecks = 100

	// Regular refresh picks users active in the last 48h with more than
	// this many checks.
	regularRefreshMinChecks = 10

	// Trackers idle past this horizon are reset by the daily cleanup.
	trackerIdleHorizon = 48 * time.Hour
)

// MatrixService maintains the pre-computed effective-permission table for
// frequently-checked users. Lookups run behind the matrix breaker so a
// degraded table never stalls checks; recomputation reuses the resolver.
type MatrixService struct {
	matrix   postgres.MatrixStore
	resolver *PermissionResolver
	breaker  *breaker.Breaker
	logger   logger.Logger

	expiry                time.Duration
	batchSize             int
	highPriorityThreshold int64
}

func NewMatrixService(matrix postgres.MatrixStore, resolver *PermissionResolver, brk *breaker.Breaker, cfg config.MatrixConfig, log logger.Logger) *MatrixService {
	s := &MatrixService{
		matrix:                matrix,
		resolver:              resolver,
		breaker:               brk,
		logger:                log.With("component", "matrix"),
		expiry:                time.Duration(cfg.ExpiryHours) * time.Hour,
		batchSize:             cfg.BatchSize,
		highPriorityThreshold: int64(cfg.HighPriorityThreshold),
	}
	if s.expiry <= 0 {
		s.expiry = defaultMatrixExpiryHours * time.Hour
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultMatrixBatchSize
	}
	if s.highPriorityThreshold <= 0 {
		s.highPriorityThreshold = defaultHighPriorityChecks
	}
	return s
}

// Lookup answers a check from the matrix. ok=false means the row is absent,
// invalid, expired, or the matrix is unreachable; the caller falls through
// to the cache and the database.
func (s *MatrixService) Lookup(ctx context.Context, userProfileID, permissionKey string) (*Decision, bool) {
	now := time.Now().UTC()
	raw, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		entry, err := s.matrix.ValidEntry(ctx, userProfileID, permissionKey, now)
		if err != nil {
			// A plain miss is not a matrix failure.
			if postgres.IsNotFound(err) {
				return (*models.PermissionMatrixEntry)(nil), nil
			}
			return nil, err
		}
		return entry, nil
	}, nil)
	if err != nil {
		s.logger.Debug("matrix lookup unavailable", "user", userProfileID, "error", err)
		return nil, false
	}
	entry := raw.(*models.PermissionMatrixEntry)
	if entry == nil {
		return nil, false
	}
	return &Decision{
		Allowed:   entry.IsAllowed,
		GrantedBy: entry.GrantedBy,
		Source:    models.SourceMatrix,
		Reason:    "pre-computed matrix entry",
		Priority:  entry.Priority,
	}, true
}

// RecomputeUser rebuilds one user's matrix rows from the resolver's
// effective set.
func (s *MatrixService) RecomputeUser(ctx context.Context, userProfileID string) error {
	now := time.Now().UTC()
	effective, err := s.resolver.EffectiveEntries(ctx, userProfileID, now)
	if err != nil {
		return err
	}

	entries := make([]models.PermissionMatrixEntry, 0, len(effective))
	for key, d := range effective {
		entries = append(entries, models.PermissionMatrixEntry{
			UserProfileID: userProfileID,
			PermissionKey: key,
			IsAllowed:     d.Allowed,
			GrantedBy:     d.GrantedBy,
			Priority:      d.Priority,
			ExpiresAt:     now.Add(s.expiry),
			IsValid:       true,
			ComputedAt:    now,
		})
	}
	return s.matrix.ReplaceForUser(ctx, userProfileID, entries)
}

// RecordActivity feeds the rolling check counter. Failures are logged and
// dropped; activity tracking is advisory.
func (s *MatrixService) RecordActivity(ctx context.Context, userProfileID string) {
	now := time.Now().UTC()
	if err := s.matrix.RecordCheckActivity(ctx, userProfileID, now, 24*time.Hour); err != nil {
		s.logger.Debug("activity tracking write failed", "user", userProfileID, "error", err)
	}
}

// RefreshActive recomputes up to batchSize high-priority users plus
// batchSize regular active users. The hourly job and authzctl call it.
func (s *MatrixService) RefreshActive(ctx context.Context, trigger string) error {
	started := time.Now()
	now := started.UTC()

	high, err := s.matrix.MarkHighPriority(ctx, s.highPriorityThreshold, now, s.batchSize)
	if err != nil {
		monitoring.RecordMatrixRefresh(trigger, time.Since(started), false)
		return err
	}
	regular, err := s.matrix.RegularActiveUsers(ctx, regularRefreshMinChecks, now, s.batchSize)
	if err != nil {
		monitoring.RecordMatrixRefresh(trigger, time.Since(started), false)
		return err
	}

	recomputed := 0
	failed := 0
	for _, userID := range append(high, regular...) {
		if err := s.RecomputeUser(ctx, userID); err != nil {
			failed++
			s.logger.Warn("matrix recompute failed", "user", userID, "error", err)
			continue
		}
		recomputed++
	}

	monitoring.RecordMatrixRefresh(trigger, time.Since(started), failed == 0)
	s.logger.Info("matrix refresh finished",
		"trigger", trigger,
		"high_priority", len(high),
		"regular", len(regular),
		"recomputed", recomputed,
		"failed", failed,
	)
	return nil
}

// ActiveUsers lists users whose rolling check count qualifies them for
// scheduled refreshes.
func (s *MatrixService) ActiveUsers(ctx context.Context) ([]string, error) {
	return s.matrix.RegularActiveUsers(ctx, regularRefreshMinChecks, time.Now().UTC(), s.batchSize)
}

// InvalidateUser drops the user's matrix rows. High-priority users are
// recomputed synchronously so their next check stays O(1).
func (s *MatrixService) InvalidateUser(ctx context.Context, userProfileID string) error {
	if err := s.matrix.DeleteForUser(ctx, userProfileID); err != nil {
		return err
	}
	count, err := s.matrix.CheckCount(ctx, userProfileID)
	if err != nil {
		s.logger.Debug("tracking read failed after invalidation", "user", userProfileID, "error", err)
		return nil
	}
	if count >= s.highPriorityThreshold {
		if err := s.RecomputeUser(ctx, userProfileID); err != nil {
			s.logger.Warn("synchronous matrix recompute failed", "user", userProfileID, "error", err)
		}
	}
	return nil
}

// Cleanup removes expired rows and resets idle trackers. The daily job
// calls it.
func (s *MatrixService) Cleanup(ctx context.Context) error {
	now := time.Now().UTC()
	removed, err := s.matrix.DeleteExpired(ctx, now)
	if err != nil {
		return err
	}
	reset, err := s.matrix.ResetInactiveTrackers(ctx, now, trackerIdleHorizon)
	if err != nil {
		return err
	}
	s.logger.Info("matrix cleanup finished", "expired_rows", removed, "trackers_reset", reset)
	return nil
}
