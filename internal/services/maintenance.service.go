package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

const (
	checkLogRetention    = 30 * 24 * time.Hour
	expiryNoticeWindow   = 7 * 24 * time.Hour
	startupSweepDelay    = 10 * time.Second
	maintenanceJobBudget = 5 * time.Minute
)

// MaintenanceService runs the scheduled jobs: the nightly expired-grant
// sweep, the weekly check-log purge, the hourly matrix and cache
// refreshes, and the daily expiring-grant notices.
type MaintenanceService struct {
	grants       postgres.GrantStore
	roles        postgres.RoleStore
	policies     postgres.PolicyStore
	history      postgres.HistoryStore
	cache        *PermissionCacheService
	matrix       *MatrixService
	resolver     *PermissionResolver
	invalidation Invalidator
	notify       NotificationSink
	logger       logger.Logger

	cron *cron.Cron
}

func NewMaintenanceService(
	grants postgres.GrantStore,
	roles postgres.RoleStore,
	policies postgres.PolicyStore,
	history postgres.HistoryStore,
	cacheService *PermissionCacheService,
	matrixService *MatrixService,
	resolver *PermissionResolver,
	invalidation Invalidator,
	notify NotificationSink,
	log logger.Logger,
) *MaintenanceService {
	return &MaintenanceService{
		grants:       grants,
		roles:        roles,
		policies:     policies,
		history:      history,
		cache:        cacheService,
		matrix:       matrixService,
		resolver:     resolver,
		invalidation: invalidation,
		notify:       notify,
		logger:       log.With("component", "maintenance"),
	}
}

// Start registers the schedule and kicks off a delayed startup sweep so a
// restart never leaves expired grants live for a full day.
func (s *MaintenanceService) Start() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc("0 2 * * *", func() { s.runJob("expired_sweep", s.SweepExpired) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 3 * * 0", func() { s.runJob("check_log_cleanup", s.CleanupCheckLogs) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@hourly", func() { s.runJob("matrix_refresh", s.refreshMatrix) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@hourly", func() { s.runJob("cache_refresh", s.refreshCaches) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 4 * * *", func() { s.runJob("matrix_cleanup", s.matrix.Cleanup) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 9 * * *", func() { s.runJob("expiry_notices", s.NotifyExpiring) }); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("maintenance scheduler started")

	time.AfterFunc(startupSweepDelay, func() { s.runJob("startup_sweep", s.SweepExpired) })
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (s *MaintenanceService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *MaintenanceService) runJob(name string, job func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceJobBudget)
	defer cancel()
	started := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("maintenance job failed", "job", name, "error", err)
		return
	}
	s.logger.Info("maintenance job finished", "job", name, "duration", time.Since(started))
}

// SweepExpired flips expired temporary grants and role assignments, drops
// expired policy assignments, and flushes permission caches when anything
// was touched.
func (s *MaintenanceService) SweepExpired(ctx context.Context) error {
	now := time.Now().UTC()

	grantUsers, err := s.grants.ExpireGrants(ctx, now)
	if err != nil {
		return err
	}
	roleUsers, err := s.roles.ExpireAssignments(ctx, now)
	if err != nil {
		return err
	}
	droppedAssignments, err := s.policies.DeleteExpiredAssignments(ctx, now)
	if err != nil {
		return err
	}

	touched := len(grantUsers) + len(roleUsers)
	if touched > 0 || droppedAssignments > 0 {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			s.logger.Error("global invalidation after sweep failed", "error", err)
		}
		seen := map[string]bool{}
		for _, userID := range append(grantUsers, roleUsers...) {
			if seen[userID] {
				continue
			}
			seen[userID] = true
			s.invalidation.UserMutated(ctx, userID)
		}
	}

	s.logger.Info("expired sweep finished",
		"expired_grants_users", len(grantUsers),
		"expired_role_users", len(roleUsers),
		"dropped_policy_assignments", droppedAssignments,
	)
	return nil
}

// CleanupCheckLogs purges check-log rows past retention.
func (s *MaintenanceService) CleanupCheckLogs(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-checkLogRetention)
	removed, err := s.history.DeleteCheckLogsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	s.logger.Info("check log cleanup finished", "removed", removed, "cutoff", cutoff)
	return nil
}

func (s *MaintenanceService) refreshMatrix(ctx context.Context) error {
	return s.matrix.RefreshActive(ctx, "scheduled")
}

// refreshCaches re-populates check caches for currently active users so
// their hot entries roll over instead of expiring cold.
func (s *MaintenanceService) refreshCaches(ctx context.Context) error {
	users, err := s.matrix.ActiveUsers(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	refreshed := 0
	for _, userID := range users {
		effective, err := s.resolver.EffectiveEntries(ctx, userID, now)
		if err != nil {
			s.logger.Warn("cache refresh resolution failed", "user", userID, "error", err)
			continue
		}
		s.cache.Prepopulate(ctx, userID, checkAnswers(userID, effective))
		refreshed++
	}
	s.logger.Info("cache refresh finished", "users", len(users), "refreshed", refreshed)
	return nil
}

// NotifyExpiring groups temporary grants expiring within the notice window
// per user and hands each group to the notification sink.
func (s *MaintenanceService) NotifyExpiring(ctx context.Context) error {
	now := time.Now().UTC()
	expiring, err := s.grants.ExpiringTemporaryGrants(ctx, now, expiryNoticeWindow)
	if err != nil {
		return err
	}
	byUser := map[string][]models.UserPermission{}
	for i := range expiring {
		byUser[expiring[i].UserProfileID] = append(byUser[expiring[i].UserProfileID], expiring[i])
	}
	for userID, group := range byUser {
		if err := s.notify.NotifyExpiringGrants(ctx, userID, group); err != nil {
			s.logger.Error("expiry notice delivery failed", "user", userID, "error", err)
		}
	}
	s.logger.Info("expiry notices finished", "users", len(byUser), "grants", len(expiring))
	return nil
}
