package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/internal/utils"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// GrantService owns direct user grants, explicit denies, instance-scoped
// resource grants, and the per-user effective summary.
type GrantService struct {
	db           postgres.TxRunner
	grants       postgres.GrantStore
	permissions  postgres.PermissionStore
	roles        postgres.RoleStore
	delegations  postgres.DelegationStore
	users        postgres.UserStore
	history      postgres.HistoryStore
	invalidation Invalidator
	audit        AuditSink
	logger       logger.Logger
}

func NewGrantService(
	db postgres.TxRunner,
	grants postgres.GrantStore,
	permissions postgres.PermissionStore,
	roles postgres.RoleStore,
	delegations postgres.DelegationStore,
	users postgres.UserStore,
	history postgres.HistoryStore,
	invalidation Invalidator,
	audit AuditSink,
	log logger.Logger,
) *GrantService {
	return &GrantService{
		db:           db,
		grants:       grants,
		permissions:  permissions,
		roles:        roles,
		delegations:  delegations,
		users:        users,
		history:      history,
		invalidation: invalidation,
		audit:        audit,
		logger:       log.With("component", "grants"),
	}
}

// Grant creates a direct grant (or explicit deny). A revoked row for the
// same (user, permission) pair is reactivated in place instead of violating
// the unique index.
func (s *GrantService) Grant(ctx context.Context, req *models.GrantUserPermissionRequest, actor string) (*models.UserPermission, error) {
	if _, err := s.users.GetByID(ctx, req.UserProfileID); err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeUserNotFound, "user %s not found", req.UserProfileID)
		}
		return nil, err
	}
	perm, err := s.permissions.GetByID(ctx, req.PermissionID)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodePermissionNotFound, "permission %s not found", req.PermissionID)
		}
		return nil, err
	}
	conditions, err := utils.ValidateConditions(req.Conditions, "grant_conditions")
	if err != nil {
		return nil, err
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidFrom.Before(*req.ValidUntil) {
		return nil, models.ErrValidationf(models.CodeInvalidConditions, "validFrom must precede validUntil")
	}

	existing, err := s.grants.GetByUserAndPermission(ctx, req.UserProfileID, req.PermissionID)
	if err != nil && !postgres.IsNotFound(err) {
		return nil, err
	}
	if existing != nil && existing.IsGranted {
		return nil, models.ErrConflictf(models.CodePermissionAlreadyExists,
			"user %s already holds permission %q", req.UserProfileID, perm.Code)
	}

	now := time.Now().UTC()
	granted := true
	if req.IsGranted != nil {
		granted = *req.IsGranted
	}
	priority := models.DefaultGrantPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	up := &models.UserPermission{
		ID:            uuid.NewString(),
		UserProfileID: req.UserProfileID,
		PermissionID:  req.PermissionID,
		IsGranted:     granted,
		Conditions:    conditions,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		Priority:      priority,
		IsTemporary:   req.IsTemporary,
		GrantReason:   req.GrantReason,
		GrantedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	operation := models.OpGrant
	var previous models.JSONMap
	if existing != nil {
		// Reactivation keeps the row identity so rollback can restore the
		// revoked state.
		up.ID = existing.ID
		up.CreatedAt = existing.CreatedAt
		operation = models.OpUpdate
		previous = entityState(existing)
	}

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		grants := s.grants.WithTx(tx)
		if existing != nil {
			if err := grants.Update(ctx, up); err != nil {
				return err
			}
		} else {
			if err := grants.Create(ctx, up); err != nil {
				return err
			}
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityUserPermission, up.ID, operation, actor, previous, entityState(up)))
	})
	if err != nil {
		return nil, err
	}

	s.invalidation.UserMutated(ctx, req.UserProfileID)
	s.recordAudit(ctx, actor, operation, models.EntityUserPermission, up.ID,
		models.JSONMap{"userProfileId": req.UserProfileID, "permissionCode": perm.Code, "isGranted": granted})
	return up, nil
}

// Get fetches one grant row.
func (s *GrantService) Get(ctx context.Context, id string) (*models.UserPermission, error) {
	up, err := s.grants.GetByID(ctx, id)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodePermissionNotFound, "grant %s not found", id)
		}
		return nil, err
	}
	return up, nil
}

// Revoke flips an active grant to revoked. The row stays so the unique
// index keeps one row per (user, permission) pair.
func (s *GrantService) Revoke(ctx context.Context, grantID string, req *models.RevokeUserPermissionRequest, actor string) error {
	up, err := s.Get(ctx, grantID)
	if err != nil {
		return err
	}
	if !up.IsGranted {
		return models.ErrConflictf(models.CodeGrantNotActive, "grant %s is already revoked", grantID)
	}
	previous := entityState(up)

	up.IsGranted = false
	up.RevokeReason = req.RevokeReason
	up.RevokedBy = actor
	up.UpdatedAt = time.Now().UTC()

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.grants.WithTx(tx).Update(ctx, up); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityUserPermission, up.ID, models.OpRevoke, actor, previous, entityState(up)))
	})
	if err != nil {
		return err
	}

	s.invalidation.UserMutated(ctx, up.UserProfileID)
	s.recordAudit(ctx, actor, models.OpRevoke, models.EntityUserPermission, up.ID,
		models.JSONMap{"userProfileId": up.UserProfileID, "reason": req.RevokeReason})
	return nil
}

// GrantResource creates an instance-scoped grant.
func (s *GrantService) GrantResource(ctx context.Context, req *models.GrantResourcePermissionRequest, actor string) (*models.ResourcePermission, error) {
	if _, err := s.users.GetByID(ctx, req.UserProfileID); err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeUserNotFound, "user %s not found", req.UserProfileID)
		}
		return nil, err
	}
	if _, err := s.permissions.GetByID(ctx, req.PermissionID); err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodePermissionNotFound, "permission %s not found", req.PermissionID)
		}
		return nil, err
	}
	conditions, err := utils.ValidateConditions(req.Conditions, "grant_conditions")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rp := &models.ResourcePermission{
		ID:            uuid.NewString(),
		UserProfileID: req.UserProfileID,
		PermissionID:  req.PermissionID,
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		IsGranted:     true,
		Conditions:    conditions,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		GrantReason:   req.GrantReason,
		GrantedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.grants.WithTx(tx).CreateResourceGrant(ctx, rp); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityResourcePermission, rp.ID, models.OpGrant, actor, nil, entityState(rp)))
	})
	if err != nil {
		return nil, err
	}

	s.invalidation.UserMutated(ctx, req.UserProfileID)
	s.recordAudit(ctx, actor, models.OpGrant, models.EntityResourcePermission, rp.ID,
		models.JSONMap{"userProfileId": req.UserProfileID, "resourceType": req.ResourceType, "resourceId": req.ResourceID})
	return rp, nil
}

// RevokeResource flips an instance-scoped grant to revoked.
func (s *GrantService) RevokeResource(ctx context.Context, id, reason, actor string) error {
	rp, err := s.grants.GetResourceGrant(ctx, id)
	if err != nil {
		if postgres.IsNotFound(err) {
			return models.ErrNotFoundf(models.CodePermissionNotFound, "resource grant %s not found", id)
		}
		return err
	}
	if !rp.IsGranted {
		return models.ErrConflictf(models.CodeGrantNotActive, "resource grant %s is already revoked", id)
	}
	previous := entityState(rp)

	rp.IsGranted = false
	rp.RevokeReason = reason
	rp.UpdatedAt = time.Now().UTC()

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.grants.WithTx(tx).UpdateResourceGrant(ctx, rp); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityResourcePermission, rp.ID, models.OpRevoke, actor, previous, entityState(rp)))
	})
	if err != nil {
		return err
	}

	s.invalidation.UserMutated(ctx, rp.UserProfileID)
	s.recordAudit(ctx, actor, models.OpRevoke, models.EntityResourcePermission, rp.ID, nil)
	return nil
}

// ListUserGrants returns the user's direct grant rows.
func (s *GrantService) ListUserGrants(ctx context.Context, userProfileID string) ([]models.UserPermission, error) {
	return s.grants.DirectGrantsOf(ctx, userProfileID)
}

// ListResourceGrants returns the user's instance-scoped grants.
func (s *GrantService) ListResourceGrants(ctx context.Context, userProfileID string) ([]models.ResourcePermission, error) {
	return s.grants.ResourceGrantsOf(ctx, userProfileID)
}

// Summary assembles the effective-permission view for one user: direct
// grants, active roles with the permissions they carry, and delegated codes.
func (s *GrantService) Summary(ctx context.Context, userProfileID string) (*models.UserPermissionSummary, error) {
	if _, err := s.users.GetByID(ctx, userProfileID); err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeUserNotFound, "user %s not found", userProfileID)
		}
		return nil, err
	}
	now := time.Now().UTC()

	direct, err := s.grants.DirectGrantsOf(ctx, userProfileID)
	if err != nil {
		return nil, err
	}

	assignments, err := s.roles.ActiveRolesOf(ctx, userProfileID)
	if err != nil {
		return nil, err
	}
	var roleSet []models.Role
	closureIDs := map[string]bool{}
	for i := range assignments {
		if !assignments[i].ActiveAt(now) {
			continue
		}
		role, err := s.roles.GetByID(ctx, assignments[i].RoleID)
		if err != nil {
			if postgres.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		roleSet = append(roleSet, *role)
		closure, err := s.roles.InheritanceClosure(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range closure {
			closureIDs[id] = true
		}
	}

	var roleDerived []models.Permission
	if len(closureIDs) > 0 {
		ids := make([]string, 0, len(closureIDs))
		for id := range closureIDs {
			ids = append(ids, id)
		}
		edges, err := s.roles.RolePermissions(ctx, ids)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for i := range edges {
			if !edges[i].IsGranted || !edges[i].ActiveAt(now) || seen[edges[i].PermissionID] {
				continue
			}
			seen[edges[i].PermissionID] = true
			perm, err := s.permissions.GetByID(ctx, edges[i].PermissionID)
			if err != nil {
				if postgres.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			roleDerived = append(roleDerived, *perm)
		}
	}

	var delegated []string
	active, err := s.delegations.ActiveDelegationsTo(ctx, userProfileID, now)
	if err != nil {
		return nil, err
	}
	seenCode := map[string]bool{}
	for i := range active {
		for _, code := range active[i].Permissions {
			if !seenCode[code] {
				seenCode[code] = true
				delegated = append(delegated, code)
			}
		}
	}

	return &models.UserPermissionSummary{
		UserProfileID: userProfileID,
		Direct:        direct,
		Roles:         roleSet,
		RoleDerived:   roleDerived,
		Delegated:     delegated,
		GeneratedAt:   now,
	}, nil
}

func (s *GrantService) recordAudit(ctx context.Context, actor, action, entityType, entityID string, payload models.JSONMap) {
	if err := s.audit.Record(ctx, &models.AuditRecord{
		ActorID:    actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	}); err != nil {
		s.logger.Error("audit write failed", "entity", entityID, "error", err)
	}
}
