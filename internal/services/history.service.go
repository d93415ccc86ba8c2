package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

const rollbackTimeout = 30 * time.Second

// HistoryService reads the change-history log and undoes rollbackable
// entries. Every mutating service appends its own entries inside its own
// transaction; this service owns listing, check logs, and rollback.
type HistoryService struct {
	db           postgres.TxRunner
	history      postgres.HistoryStore
	grants       postgres.GrantStore
	roles        postgres.RoleStore
	templates    postgres.TemplateStore
	delegations  postgres.DelegationStore
	invalidation Invalidator
	audit        AuditSink
	logger       logger.Logger
}

func NewHistoryService(
	db postgres.TxRunner,
	history postgres.HistoryStore,
	grants postgres.GrantStore,
	roles postgres.RoleStore,
	templates postgres.TemplateStore,
	delegations postgres.DelegationStore,
	invalidation Invalidator,
	audit AuditSink,
	log logger.Logger,
) *HistoryService {
	return &HistoryService{
		db:           db,
		history:      history,
		grants:       grants,
		roles:        roles,
		templates:    templates,
		delegations:  delegations,
		invalidation: invalidation,
		audit:        audit,
		logger:       log.With("component", "history"),
	}
}

// List returns history entries matching the filter.
func (s *HistoryService) List(ctx context.Context, f models.HistoryFilter) ([]models.PermissionChangeHistory, int64, error) {
	return s.history.List(ctx, f)
}

// Get fetches one entry.
func (s *HistoryService) Get(ctx context.Context, id string) (*models.PermissionChangeHistory, error) {
	h, err := s.history.GetByID(ctx, id)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeHistoryNotFound, "history entry %s not found", id)
		}
		return nil, err
	}
	return h, nil
}

// ListCheckLogs returns check-log rows matching the filter.
func (s *HistoryService) ListCheckLogs(ctx context.Context, f models.CheckLogFilter) ([]models.PermissionCheckLog, int64, error) {
	return s.history.ListCheckLogs(ctx, f)
}

// Rollback undoes one history entry, dispatching on entityType+operation.
// The undo, the rollback history entry, and the original entry's
// rolled-back stamp commit in one transaction; invalidation and audit
// follow the commit.
func (s *HistoryService) Rollback(ctx context.Context, historyID, actor string) (*models.PermissionChangeHistory, error) {
	original, err := s.Get(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(original.Operation, "rollback_") || !original.CanRollback() {
		return nil, models.ErrConflictf(models.CodeRollbackNotAllowed,
			"history entry %s cannot be rolled back", historyID)
	}

	now := time.Now().UTC()
	rollbackEntry := &models.PermissionChangeHistory{
		ID:             uuid.NewString(),
		EntityType:     original.EntityType,
		EntityID:       original.EntityID,
		Operation:      models.RollbackOperation(original.Operation),
		PreviousState:  original.NewState,
		NewState:       original.PreviousState,
		PerformedBy:    actor,
		PerformedAt:    now,
		IsRollbackable: false,
		RollbackOf:     &original.ID,
	}

	var affectedUser, affectedRole string
	err = s.db.Transaction(ctx, rollbackTimeout, func(tx *gorm.DB) error {
		affectedUser, affectedRole, err = s.applyRollback(ctx, tx, original, now)
		if err != nil {
			return err
		}
		if err := s.history.WithTx(tx).Append(ctx, rollbackEntry); err != nil {
			return err
		}
		return s.history.WithTx(tx).MarkRolledBack(ctx, original.ID, now)
	})
	if err != nil {
		return nil, err
	}

	if affectedUser != "" {
		s.invalidation.UserMutated(ctx, affectedUser)
	}
	if affectedRole != "" {
		s.invalidation.RoleMutated(ctx, affectedRole)
	}
	if auditErr := s.audit.Record(ctx, &models.AuditRecord{
		ActorID:    actor,
		Action:     rollbackEntry.Operation,
		EntityType: original.EntityType,
		EntityID:   original.EntityID,
		Payload:    models.JSONMap{"rollbackOf": original.ID},
	}); auditErr != nil {
		s.logger.Error("audit write failed after rollback", "history", original.ID, "error", auditErr)
	}

	s.logger.Info("history entry rolled back",
		"history", original.ID,
		"entity_type", original.EntityType,
		"operation", original.Operation,
		"actor", actor,
	)
	return rollbackEntry, nil
}

// applyRollback performs the entity-specific undo and reports the affected
// user and role for invalidation.
func (s *HistoryService) applyRollback(ctx context.Context, tx *gorm.DB, h *models.PermissionChangeHistory, now time.Time) (affectedUser, affectedRole string, err error) {
	switch h.EntityType {
	case models.EntityUserPermission:
		return s.rollbackUserPermission(ctx, tx, h, now)
	case models.EntityRolePermission:
		return s.rollbackRolePermission(ctx, tx, h, now)
	case models.EntityTemplateApplication:
		return s.rollbackTemplateApplication(ctx, tx, h, now)
	case models.EntityPermissionDelegation:
		return s.rollbackDelegation(ctx, tx, h, now)
	default:
		return "", "", models.ErrConflictf(models.CodeRollbackNotAllowed,
			"entity type %q does not support rollback", h.EntityType)
	}
}

func (s *HistoryService) rollbackUserPermission(ctx context.Context, tx *gorm.DB, h *models.PermissionChangeHistory, now time.Time) (string, string, error) {
	grants := s.grants.WithTx(tx)
	switch h.Operation {
	case models.OpGrant:
		// Undo a grant by removing the created row.
		var created models.UserPermission
		if err := decodeState(h.NewState, &created); err != nil {
			return "", "", err
		}
		if err := grants.Delete(ctx, h.EntityID); err != nil && !postgres.IsNotFound(err) {
			return "", "", err
		}
		return created.UserProfileID, "", nil

	case models.OpRevoke, models.OpUpdate:
		var previous models.UserPermission
		if err := decodeState(h.PreviousState, &previous); err != nil {
			return "", "", err
		}
		previous.UpdatedAt = now
		if err := grants.Update(ctx, &previous); err != nil {
			return "", "", err
		}
		return previous.UserProfileID, "", nil
	}
	return "", "", models.ErrConflictf(models.CodeRollbackNotAllowed,
		"operation %q on %s does not support rollback", h.Operation, h.EntityType)
}

func (s *HistoryService) rollbackRolePermission(ctx context.Context, tx *gorm.DB, h *models.PermissionChangeHistory, now time.Time) (string, string, error) {
	roles := s.roles.WithTx(tx)
	switch h.Operation {
	case models.OpGrant:
		var created models.RolePermission
		if err := decodeState(h.NewState, &created); err != nil {
			return "", "", err
		}
		if err := roles.DeleteRolePermission(ctx, created.RoleID, created.PermissionID); err != nil && !postgres.IsNotFound(err) {
			return "", "", err
		}
		return "", created.RoleID, nil

	case models.OpRevoke, models.OpUpdate:
		var previous models.RolePermission
		if err := decodeState(h.PreviousState, &previous); err != nil {
			return "", "", err
		}
		previous.UpdatedAt = now
		if err := roles.UpsertRolePermission(ctx, &previous); err != nil {
			return "", "", err
		}
		return "", previous.RoleID, nil
	}
	return "", "", models.ErrConflictf(models.CodeRollbackNotAllowed,
		"operation %q on %s does not support rollback", h.Operation, h.EntityType)
}

func (s *HistoryService) rollbackTemplateApplication(ctx context.Context, tx *gorm.DB, h *models.PermissionChangeHistory, now time.Time) (string, string, error) {
	templates := s.templates.WithTx(tx)
	app, err := templates.GetApplication(ctx, h.EntityID)
	if err != nil {
		if postgres.IsNotFound(err) {
			return "", "", models.ErrInternalf(models.CodeRollbackFailed,
				"template application %s no longer exists", h.EntityID)
		}
		return "", "", err
	}

	switch h.Operation {
	case models.OpGrant:
		app.IsActive = false
		t := now
		app.RevokedAt = &t
	case models.OpRevoke:
		app.IsActive = true
		app.RevokedAt = nil
	default:
		return "", "", models.ErrConflictf(models.CodeRollbackNotAllowed,
			"operation %q on %s does not support rollback", h.Operation, h.EntityType)
	}
	if err := templates.UpdateApplication(ctx, app); err != nil {
		return "", "", err
	}
	if app.TargetType == models.TemplateTargetUser {
		return app.TargetID, "", nil
	}
	return "", "", nil
}

func (s *HistoryService) rollbackDelegation(ctx context.Context, tx *gorm.DB, h *models.PermissionChangeHistory, now time.Time) (string, string, error) {
	delegations := s.delegations.WithTx(tx)
	d, err := delegations.GetByID(ctx, h.EntityID)
	if err != nil {
		if postgres.IsNotFound(err) {
			return "", "", models.ErrInternalf(models.CodeRollbackFailed,
				"delegation %s no longer exists", h.EntityID)
		}
		return "", "", err
	}

	switch h.Operation {
	case models.OpGrant:
		d.IsRevoked = true
		d.RevokedBy = "rollback"
		d.RevokedReason = "delegation creation rolled back"
		t := now
		d.RevokedAt = &t
	case models.OpRevoke:
		d.IsRevoked = false
		d.RevokedBy = ""
		d.RevokedReason = ""
		d.RevokedAt = nil
	default:
		return "", "", models.ErrConflictf(models.CodeRollbackNotAllowed,
			"operation %q on %s does not support rollback", h.Operation, h.EntityType)
	}
	d.UpdatedAt = now
	if err := delegations.Update(ctx, d); err != nil {
		return "", "", err
	}
	return d.DelegateProfileID, "", nil
}

// decodeState re-materializes a history JSON state into its entity struct.
// A missing state makes the rollback fail structurally.
func decodeState(state models.JSONMap, out interface{}) error {
	if len(state) == 0 {
		return models.ErrInternalf(models.CodeRollbackFailed,
			"history entry carries no state to restore")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return models.ErrInternalf(models.CodeRollbackFailed, "state is not serializable").WithCause(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return models.ErrInternalf(models.CodeRollbackFailed, "state does not match entity shape").WithCause(err)
	}
	return nil
}

// historyEntry builds a standard change-history row for the mutating
// services.
func historyEntry(entityType, entityID, operation, actor string, previous, next models.JSONMap) *models.PermissionChangeHistory {
	return &models.PermissionChangeHistory{
		ID:             uuid.NewString(),
		EntityType:     entityType,
		EntityID:       entityID,
		Operation:      operation,
		PreviousState:  previous,
		NewState:       next,
		PerformedBy:    actor,
		PerformedAt:    time.Now().UTC(),
		IsRollbackable: rollbackableOperation(entityType, operation),
	}
}

// rollbackableOperation encodes which (entityType, operation) pairs the
// rollback dispatcher understands.
func rollbackableOperation(entityType, operation string) bool {
	switch entityType {
	case models.EntityUserPermission, models.EntityRolePermission:
		return operation == models.OpGrant || operation == models.OpRevoke || operation == models.OpUpdate
	case models.EntityTemplateApplication, models.EntityPermissionDelegation:
		return operation == models.OpGrant || operation == models.OpRevoke
	}
	return false
}

// entityState renders an entity into the JSON map shape history stores.
func entityState(v interface{}) models.JSONMap {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m models.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
