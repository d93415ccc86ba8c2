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

const (
	// Bulk batches are capped on both axes.
	bulkMaxTargets = 100

	bulkTimeout = 30 * time.Second
)

// BulkService expands (targets x permission codes) batches into individual
// grant or revoke rows. Validation failures (unknown codes, missing users,
// critical codes without force) become per-pair errors before any write;
// the surviving pairs then commit in one transaction, so a database failure
// rolls the whole batch back.
type BulkService struct {
	db           postgres.TxRunner
	grants       postgres.GrantStore
	permissions  postgres.PermissionStore
	users        postgres.UserStore
	history      postgres.HistoryStore
	invalidation Invalidator
	audit        AuditSink
	logger       logger.Logger
}

func NewBulkService(
	db postgres.TxRunner,
	grants postgres.GrantStore,
	permissions postgres.PermissionStore,
	users postgres.UserStore,
	history postgres.HistoryStore,
	invalidation Invalidator,
	audit AuditSink,
	log logger.Logger,
) *BulkService {
	return &BulkService{
		db:           db,
		grants:       grants,
		permissions:  permissions,
		users:        users,
		history:      history,
		invalidation: invalidation,
		audit:        audit,
		logger:       log.With("component", "bulk"),
	}
}

// Grant applies every (target, code) pair in one transaction. Pairs where
// the user already holds the permission are counted as skipped.
func (s *BulkService) Grant(ctx context.Context, req *models.BulkGrantRequest, actor string) (*models.BulkOperationResult, error) {
	if err := checkBulkSize(len(req.TargetUserIDs), len(req.PermissionCodes)); err != nil {
		return nil, err
	}
	perms, pairErrs, err := s.resolveCodes(ctx, req.TargetUserIDs, req.PermissionCodes)
	if err != nil {
		return nil, err
	}
	missingUsers, err := s.missingUsers(ctx, req.TargetUserIDs)
	if err != nil {
		return nil, err
	}

	result := &models.BulkOperationResult{Errors: pairErrs}
	for _, userID := range req.TargetUserIDs {
		if missingUsers[userID] {
			for code := range perms {
				result.Errors = append(result.Errors, models.BulkOperationError{
					TargetID: userID, PermissionCode: code, Reason: "user not found",
				})
			}
		}
	}

	affected := map[string]bool{}
	err = s.db.Transaction(ctx, bulkTimeout, func(tx *gorm.DB) error {
		grants := s.grants.WithTx(tx)
		history := s.history.WithTx(tx)
		now := time.Now().UTC()

		for _, userID := range req.TargetUserIDs {
			if missingUsers[userID] {
				continue
			}
			for _, perm := range perms {
				existing, err := grants.GetByUserAndPermission(ctx, userID, perm.ID)
				if err != nil && !postgres.IsNotFound(err) {
					return err
				}
				if existing != nil && existing.IsGranted {
					result.Processed++
					result.Summary.Skipped++
					continue
				}

				up := &models.UserPermission{
					ID:            uuid.NewString(),
					UserProfileID: userID,
					PermissionID:  perm.ID,
					IsGranted:     true,
					ValidFrom:     req.ValidFrom,
					ValidUntil:    req.ValidUntil,
					Priority:      models.DefaultGrantPriority,
					IsTemporary:   req.ValidUntil != nil,
					GrantReason:   req.GrantReason,
					GrantedBy:     actor,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				operation := models.OpGrant
				var previous models.JSONMap
				if existing != nil {
					// Reactivate the revoked row in place; the unique index
					// keeps one row per (user, permission) pair.
					up.ID = existing.ID
					up.CreatedAt = existing.CreatedAt
					operation = models.OpUpdate
					previous = entityState(existing)
					if err := grants.Update(ctx, up); err != nil {
						return err
					}
				} else {
					if err := grants.Create(ctx, up); err != nil {
						return err
					}
				}
				if err := history.Append(ctx,
					historyEntry(models.EntityUserPermission, up.ID, operation, actor, previous, entityState(up))); err != nil {
					return err
				}
				result.Processed++
				result.Summary.Created++
				affected[userID] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finish(ctx, "bulk_grant", actor, req.TargetUserIDs, req.PermissionCodes, affected, result)
	return result, nil
}

// Revoke revokes every (target, code) pair in one transaction. Critical
// codes are refused without ForceRevoke; pairs with no active grant are
// skipped.
func (s *BulkService) Revoke(ctx context.Context, req *models.BulkRevokeRequest, actor string) (*models.BulkOperationResult, error) {
	if err := checkBulkSize(len(req.TargetUserIDs), len(req.PermissionCodes)); err != nil {
		return nil, err
	}
	perms, pairErrs, err := s.resolveCodes(ctx, req.TargetUserIDs, req.PermissionCodes)
	if err != nil {
		return nil, err
	}

	result := &models.BulkOperationResult{Errors: pairErrs}
	critical := map[string]bool{}
	for code := range perms {
		if models.IsCriticalPermissionCode(code) && !req.ForceRevoke {
			critical[code] = true
			for _, userID := range req.TargetUserIDs {
				result.Errors = append(result.Errors, models.BulkOperationError{
					TargetID: userID, PermissionCode: code,
					Reason: "critical permission requires forceRevoke",
				})
			}
		}
	}

	affected := map[string]bool{}
	err = s.db.Transaction(ctx, bulkTimeout, func(tx *gorm.DB) error {
		grants := s.grants.WithTx(tx)
		history := s.history.WithTx(tx)
		now := time.Now().UTC()

		for _, userID := range req.TargetUserIDs {
			for code, perm := range perms {
				if critical[code] {
					continue
				}
				up, err := grants.GetByUserAndPermission(ctx, userID, perm.ID)
				if err != nil {
					if postgres.IsNotFound(err) {
						result.Processed++
						result.Summary.Skipped++
						continue
					}
					return err
				}
				if !up.IsGranted {
					result.Processed++
					result.Summary.Skipped++
					continue
				}
				previous := entityState(up)
				up.IsGranted = false
				up.RevokeReason = req.RevokeReason
				up.RevokedBy = actor
				up.UpdatedAt = now
				if err := grants.Update(ctx, up); err != nil {
					return err
				}
				if err := history.Append(ctx,
					historyEntry(models.EntityUserPermission, up.ID, models.OpRevoke, actor, previous, entityState(up))); err != nil {
					return err
				}
				result.Processed++
				result.Summary.Created++
				affected[userID] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finish(ctx, "bulk_revoke", actor, req.TargetUserIDs, req.PermissionCodes, affected, result)
	return result, nil
}

// finish fans out invalidation for the mutated users, records the audit
// summary, and closes the result.
func (s *BulkService) finish(ctx context.Context, operation, actor string, targets, codes []string, affected map[string]bool, result *models.BulkOperationResult) {
	result.Failed = len(result.Errors)
	for userID := range affected {
		s.invalidation.UserMutated(ctx, userID)
	}
	if err := s.audit.Record(ctx, &models.AuditRecord{
		ActorID:    actor,
		Action:     operation,
		EntityType: models.EntityUserPermission,
		EntityID:   "bulk",
		Payload: models.JSONMap{
			"targets":   len(targets),
			"codes":     len(codes),
			"processed": result.Processed,
			"failed":    result.Failed,
		},
	}); err != nil {
		s.logger.Error("audit write failed", "operation", operation, "error", err)
	}
	s.logger.Info(operation+" finished",
		"targets", len(targets),
		"codes", len(codes),
		"processed", result.Processed,
		"failed", result.Failed,
	)
}

// resolveCodes maps codes to permissions; unknown codes become per-pair
// errors for every target rather than failing the batch.
func (s *BulkService) resolveCodes(ctx context.Context, targets, codes []string) (map[string]*models.Permission, []models.BulkOperationError, error) {
	found, err := s.permissions.GetByCodes(ctx, codes)
	if err != nil {
		return nil, nil, err
	}
	byCode := make(map[string]*models.Permission, len(found))
	for i := range found {
		byCode[found[i].Code] = &found[i]
	}
	var errs []models.BulkOperationError
	for _, code := range codes {
		if _, ok := byCode[code]; !ok {
			for _, target := range targets {
				errs = append(errs, models.BulkOperationError{
					TargetID: target, PermissionCode: code, Reason: "permission code not found",
				})
			}
		}
	}
	return byCode, errs, nil
}

func (s *BulkService) missingUsers(ctx context.Context, ids []string) (map[string]bool, error) {
	missing, err := s.users.Exists(ctx, ids)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(missing))
	for _, id := range missing {
		set[id] = true
	}
	return set, nil
}

func checkBulkSize(targets, codes int) error {
	if targets == 0 || codes == 0 {
		return models.ErrValidationf(models.CodeBatchSizeExceeded, "bulk request must name targets and permission codes")
	}
	if targets > bulkMaxTargets || codes > bulkMaxTargets {
		return models.ErrValidationf(models.CodeBatchSizeExceeded,
			"bulk request exceeds %d targets or %d permission codes", bulkMaxTargets, bulkMaxTargets)
	}
	return nil
}

func bulkReason(err error) string {
	if appErr, ok := models.AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
