package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// DelegationService owns temporal permission delegations. A delegator may
// only hand over codes they hold themselves at delegation time, through
// direct grants or role-derived permissions.
type DelegationService struct {
	db           postgres.TxRunner
	delegations  postgres.DelegationStore
	grants       postgres.GrantStore
	roles        postgres.RoleStore
	permissions  postgres.PermissionStore
	users        postgres.UserStore
	history      postgres.HistoryStore
	invalidation Invalidator
	audit        AuditSink
	logger       logger.Logger
}

func NewDelegationService(
	db postgres.TxRunner,
	delegations postgres.DelegationStore,
	grants postgres.GrantStore,
	roles postgres.RoleStore,
	permissions postgres.PermissionStore,
	users postgres.UserStore,
	history postgres.HistoryStore,
	invalidation Invalidator,
	audit AuditSink,
	log logger.Logger,
) *DelegationService {
	return &DelegationService{
		db:           db,
		delegations:  delegations,
		grants:       grants,
		roles:        roles,
		permissions:  permissions,
		users:        users,
		history:      history,
		invalidation: invalidation,
		audit:        audit,
		logger:       log.With("component", "delegations"),
	}
}

// Create delegates a set of permission codes from delegatorID to the
// delegate for a bounded window.
func (s *DelegationService) Create(ctx context.Context, delegatorID string, req *models.CreateDelegationRequest) (*models.PermissionDelegation, error) {
	now := time.Now().UTC()
	validFrom := req.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	if !req.ValidUntil.After(validFrom) || !req.ValidUntil.After(now) {
		return nil, models.ErrValidationf(models.CodeDelegationInvalidWindow,
			"validUntil must lie after validFrom and in the future")
	}
	if delegatorID == req.DelegateProfileID {
		return nil, models.ErrValidationf(models.CodeDelegationInvalidWindow,
			"a delegation cannot target the delegator")
	}
	if _, err := s.users.GetByID(ctx, req.DelegateProfileID); err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeUserNotFound, "delegate %s not found", req.DelegateProfileID)
		}
		return nil, err
	}

	missing, err := s.codesNotHeld(ctx, delegatorID, req.Permissions, now)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, models.ErrForbiddenf(models.CodeDelegationNotHeld,
			"delegator does not hold %d of the requested permissions", len(missing)).
			WithDetails(missing)
	}

	d := &models.PermissionDelegation{
		ID:                 uuid.NewString(),
		DelegatorProfileID: delegatorID,
		DelegateProfileID:  req.DelegateProfileID,
		Permissions:        req.Permissions,
		ValidFrom:          validFrom,
		ValidUntil:         req.ValidUntil,
		Reason:             req.Reason,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.delegations.WithTx(tx).Create(ctx, d); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityPermissionDelegation, d.ID, models.OpGrant, delegatorID, nil, entityState(d)))
	})
	if err != nil {
		return nil, err
	}

	s.invalidation.UserMutated(ctx, req.DelegateProfileID)
	s.recordAudit(ctx, delegatorID, models.OpGrant, models.EntityPermissionDelegation, d.ID,
		models.JSONMap{"delegateProfileId": req.DelegateProfileID, "permissions": req.Permissions})
	return d, nil
}

// Get fetches one delegation.
func (s *DelegationService) Get(ctx context.Context, id string) (*models.PermissionDelegation, error) {
	d, err := s.delegations.GetByID(ctx, id)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeDelegationNotFound, "delegation %s not found", id)
		}
		return nil, err
	}
	return d, nil
}

// List returns delegations matching the filter.
func (s *DelegationService) List(ctx context.Context, f models.DelegationFilter) ([]models.PermissionDelegation, error) {
	return s.delegations.List(ctx, f)
}

// Revoke ends a delegation early. Only the delegator or a superadmin may
// revoke.
func (s *DelegationService) Revoke(ctx context.Context, id string, req *models.RevokeDelegationRequest, actorID string, actorIsSuperadmin bool) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.DelegatorProfileID != actorID && !actorIsSuperadmin {
		return models.ErrForbiddenf(models.CodeDelegationForbidden,
			"only the delegator or a superadmin may revoke delegation %s", id)
	}
	if d.IsRevoked {
		return models.ErrConflictf(models.CodeDelegationAlreadyRevoked, "delegation %s is already revoked", id)
	}
	previous := entityState(d)

	now := time.Now().UTC()
	d.IsRevoked = true
	d.RevokedBy = actorID
	d.RevokedReason = req.Reason
	d.RevokedAt = &now
	d.UpdatedAt = now

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.delegations.WithTx(tx).Update(ctx, d); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityPermissionDelegation, d.ID, models.OpRevoke, actorID, previous, entityState(d)))
	})
	if err != nil {
		return err
	}

	s.invalidation.UserMutated(ctx, d.DelegateProfileID)
	s.recordAudit(ctx, actorID, models.OpRevoke, models.EntityPermissionDelegation, d.ID,
		models.JSONMap{"reason": req.Reason})
	return nil
}

// Extend pushes the delegation window end strictly later. Only the
// delegator may extend.
func (s *DelegationService) Extend(ctx context.Context, id string, req *models.ExtendDelegationRequest, actorID string) (*models.PermissionDelegation, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.DelegatorProfileID != actorID {
		return nil, models.ErrForbiddenf(models.CodeDelegationForbidden,
			"only the delegator may extend delegation %s", id)
	}
	if d.IsRevoked {
		return nil, models.ErrConflictf(models.CodeDelegationAlreadyRevoked, "delegation %s is revoked", id)
	}
	if !req.ValidUntil.After(d.ValidUntil) {
		return nil, models.ErrValidationf(models.CodeDelegationInvalidWindow,
			"new validUntil must lie strictly after the current window end")
	}
	previous := entityState(d)

	d.ValidUntil = req.ValidUntil
	d.UpdatedAt = time.Now().UTC()

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.delegations.WithTx(tx).Update(ctx, d); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityPermissionDelegation, d.ID, models.OpUpdate, actorID, previous, entityState(d)))
	})
	if err != nil {
		return nil, err
	}

	s.invalidation.UserMutated(ctx, d.DelegateProfileID)
	s.recordAudit(ctx, actorID, models.OpUpdate, models.EntityPermissionDelegation, d.ID,
		models.JSONMap{"validUntil": req.ValidUntil})
	return d, nil
}

// codesNotHeld returns the requested codes the delegator does not hold at t,
// checking direct grants first and role-derived permissions second.
func (s *DelegationService) codesNotHeld(ctx context.Context, delegatorID string, codes []string, t time.Time) ([]string, error) {
	perms, err := s.permissions.GetByCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]*models.Permission, len(perms))
	for i := range perms {
		byCode[perms[i].Code] = &perms[i]
	}

	// Role-derived permission IDs across the full inheritance closure.
	roleHeld := map[string]bool{}
	assignments, err := s.roles.ActiveRolesOf(ctx, delegatorID)
	if err != nil {
		return nil, err
	}
	closureIDs := map[string]bool{}
	for i := range assignments {
		if !assignments[i].ActiveAt(t) {
			continue
		}
		closure, err := s.roles.InheritanceClosure(ctx, assignments[i].RoleID)
		if err != nil {
			return nil, err
		}
		for _, id := range closure {
			closureIDs[id] = true
		}
	}
	if len(closureIDs) > 0 {
		ids := make([]string, 0, len(closureIDs))
		for id := range closureIDs {
			ids = append(ids, id)
		}
		edges, err := s.roles.RolePermissions(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range edges {
			if edges[i].IsGranted && edges[i].ActiveAt(t) {
				roleHeld[edges[i].PermissionID] = true
			}
		}
	}

	var missing []string
	for _, code := range codes {
		perm, ok := byCode[code]
		if !ok {
			missing = append(missing, code)
			continue
		}
		direct, err := s.grants.GetByUserAndPermission(ctx, delegatorID, perm.ID)
		if err != nil && !postgres.IsNotFound(err) {
			return nil, err
		}
		if direct != nil && direct.IsGranted && direct.ActiveAt(t) {
			continue
		}
		if roleHeld[perm.ID] {
			continue
		}
		missing = append(missing, code)
	}
	return missing, nil
}

func (s *DelegationService) recordAudit(ctx context.Context, actor, action, entityType, entityID string, payload models.JSONMap) {
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
