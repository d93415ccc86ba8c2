package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/monitoring"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

const defaultInvalidationWorkers = 8

// Invalidator is the post-commit fan-out surface the mutating services
// depend on. InvalidationService is the production implementation.
type Invalidator interface {
	UserMutated(ctx context.Context, userProfileID string)
	RoleMutated(ctx context.Context, roleID string)
	PermissionMutated(ctx context.Context, permissionID string)
	PolicyMutated(ctx context.Context, policyID string, policies postgres.PolicyStore, users postgres.UserStore)
}

// InvalidationService keeps the cache and the matrix consistent after
// mutations. Fan-out across affected users runs on a bounded worker pool;
// a failing cache degrades to a log line, a metric, and a history marker
// rather than failing the mutation.
type InvalidationService struct {
	cache   *PermissionCacheService
	matrix  *MatrixService
	grants  postgres.GrantStore
	roles   postgres.RoleStore
	history postgres.HistoryStore
	logger  logger.Logger
	workers int
}

func NewInvalidationService(
	cacheService *PermissionCacheService,
	matrixService *MatrixService,
	grants postgres.GrantStore,
	roles postgres.RoleStore,
	history postgres.HistoryStore,
	cfg config.InvalidationConfig,
	log logger.Logger,
) *InvalidationService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultInvalidationWorkers
	}
	return &InvalidationService{
		cache:   cacheService,
		matrix:  matrixService,
		grants:  grants,
		roles:   roles,
		history: history,
		logger:  log.With("component", "invalidation"),
		workers: workers,
	}
}

// UserMutated invalidates one user's cache and matrix rows. Called after
// any grant, revoke, role assignment, or delegation change touching the
// user.
func (s *InvalidationService) UserMutated(ctx context.Context, userProfileID string) {
	s.invalidateUsers(ctx, []string{userProfileID})
}

// RoleMutated invalidates the role's cached permission set plus every
// active holder.
func (s *InvalidationService) RoleMutated(ctx context.Context, roleID string) {
	if err := s.cache.InvalidateRole(ctx, roleID); err != nil {
		s.degrade(ctx, models.EntityRole, roleID, err)
	}
	holders, err := s.roles.ActiveHoldersOf(ctx, []string{roleID})
	if err != nil {
		s.degrade(ctx, models.EntityRole, roleID, err)
		return
	}
	s.invalidateUsers(ctx, holders)
}

// PermissionMutated fans out to every user reachable from the permission:
// direct grantees plus holders of roles carrying it.
func (s *InvalidationService) PermissionMutated(ctx context.Context, permissionID string) {
	affected := map[string]bool{}

	directUsers, err := s.grants.UsersWithDirectGrant(ctx, permissionID)
	if err != nil {
		s.degrade(ctx, models.EntityPermission, permissionID, err)
		return
	}
	for _, id := range directUsers {
		affected[id] = true
	}

	roleIDs, err := s.roles.RolesCarryingPermission(ctx, permissionID)
	if err != nil {
		s.degrade(ctx, models.EntityPermission, permissionID, err)
		return
	}
	for _, roleID := range roleIDs {
		if err := s.cache.InvalidateRole(ctx, roleID); err != nil {
			s.degrade(ctx, models.EntityRole, roleID, err)
		}
	}
	holders, err := s.roles.ActiveHoldersOf(ctx, roleIDs)
	if err != nil {
		s.degrade(ctx, models.EntityPermission, permissionID, err)
		return
	}
	for _, id := range holders {
		affected[id] = true
	}

	users := make([]string, 0, len(affected))
	for id := range affected {
		users = append(users, id)
	}
	s.invalidateUsers(ctx, users)
}

// PolicyMutated invalidates every user a policy's assignments reach.
func (s *InvalidationService) PolicyMutated(ctx context.Context, policyID string, policies postgres.PolicyStore, users postgres.UserStore) {
	affected, err := policies.UsersAffectedByPolicy(ctx, policyID, s.roles, users)
	if err != nil {
		s.degrade(ctx, models.EntityPolicy, policyID, err)
		return
	}
	s.invalidateUsers(ctx, affected)
}

// invalidateUsers runs per-user cache and matrix invalidation across the
// worker pool and waits for completion.
func (s *InvalidationService) invalidateUsers(ctx context.Context, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			if err := s.cache.InvalidateUser(gctx, userID); err != nil {
				s.degrade(gctx, models.EntityUserPermission, userID, err)
			}
			if err := s.matrix.InvalidateUser(gctx, userID); err != nil {
				s.degrade(gctx, models.EntityUserPermission, userID, err)
			}
			return nil
		})
	}
	// Workers swallow their own failures; Wait only synchronizes.
	_ = g.Wait()
}

// degrade records a failed invalidation without propagating it: log, metric,
// and an invalidation_failed history marker so operators can replay.
func (s *InvalidationService) degrade(ctx context.Context, entityType, entityID string, cause error) {
	monitoring.RecordError("invalidation_failed", "invalidation")
	s.logger.Error("invalidation degraded",
		"entity_type", entityType,
		"entity_id", entityID,
		"error", cause,
	)
	entry := &models.PermissionChangeHistory{
		ID:          uuid.NewString(),
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   models.OpInvalidationFailed,
		PerformedBy: "system",
		PerformedAt: time.Now().UTC(),
		Metadata:    models.JSONMap{"error": cause.Error()},
	}
	if err := s.history.Append(ctx, entry); err != nil {
		s.logger.Error("failed to record degraded invalidation", "error", err)
	}
}
