package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// templateGrantReason tags direct grants created by a template application
// so revocation can find them again.
func templateGrantReason(applicationID string) string {
	return "template:" + applicationID
}

// TemplateService owns permission templates and their applications. Applying
// a template materializes one direct grant per permission code.
type TemplateService struct {
	db           postgres.TxRunner
	templates    postgres.TemplateStore
	permissions  postgres.PermissionStore
	grants       postgres.GrantStore
	users        postgres.UserStore
	history      postgres.HistoryStore
	invalidation Invalidator
	audit        AuditSink
	logger       logger.Logger
}

func NewTemplateService(
	db postgres.TxRunner,
	templates postgres.TemplateStore,
	permissions postgres.PermissionStore,
	grants postgres.GrantStore,
	users postgres.UserStore,
	history postgres.HistoryStore,
	invalidation Invalidator,
	audit AuditSink,
	log logger.Logger,
) *TemplateService {
	return &TemplateService{
		db:           db,
		templates:    templates,
		permissions:  permissions,
		grants:       grants,
		users:        users,
		history:      history,
		invalidation: invalidation,
		audit:        audit,
		logger:       log.With("component", "templates"),
	}
}

// Create defines a template. Every permission code must exist.
func (s *TemplateService) Create(ctx context.Context, req *models.CreateTemplateRequest, actor string) (*models.PermissionTemplate, error) {
	if !req.TargetType.IsValid() {
		return nil, models.ErrValidationf(models.CodeInvalidConditions,
			"template target type %q is not recognized", req.TargetType)
	}
	if err := s.checkCodes(ctx, req.PermissionCodes); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &models.PermissionTemplate{
		ID:              uuid.NewString(),
		Code:            req.Code,
		Name:            req.Name,
		Description:     req.Description,
		PermissionCodes: req.PermissionCodes,
		TargetType:      req.TargetType,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
		CreatedBy:       actor,
	}
	if err := s.templates.Create(ctx, t); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, models.OpCreate, "permission_template", t.ID, models.JSONMap{"code": t.Code})
	return t, nil
}

// Get fetches one template.
func (s *TemplateService) Get(ctx context.Context, id string) (*models.PermissionTemplate, error) {
	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeTemplateNotFound, "template %s not found", id)
		}
		return nil, err
	}
	return t, nil
}

// List returns templates.
func (s *TemplateService) List(ctx context.Context, activeOnly bool, limit, offset int) ([]models.PermissionTemplate, error) {
	return s.templates.List(ctx, activeOnly, limit, offset)
}

// Update mutates a template definition. Applied grants are unaffected.
func (s *TemplateService) Update(ctx context.Context, id string, req *models.UpdateTemplateRequest, actor string) (*models.PermissionTemplate, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsSystemTemplate {
		return nil, models.ErrForbiddenf(models.CodeSystemPermissionImmutable,
			"system template %q cannot be modified", t.Code)
	}
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.PermissionCodes != nil {
		if err := s.checkCodes(ctx, req.PermissionCodes); err != nil {
			return nil, err
		}
		t.PermissionCodes = req.PermissionCodes
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	t.UpdatedAt = time.Now().UTC()
	if err := s.templates.Update(ctx, t); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, models.OpUpdate, "permission_template", t.ID, models.JSONMap{"code": t.Code})
	return t, nil
}

// Apply materializes the template on one target. For user targets, each
// permission code becomes a direct grant; position targets expand to every
// user holding the position.
func (s *TemplateService) Apply(ctx context.Context, templateID string, req *models.ApplyTemplateRequest, actor string) (*models.TemplateApplication, error) {
	t, err := s.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, models.ErrConflictf(models.CodeTemplateNotFound, "template %q is inactive", t.Code)
	}

	var targets []string
	switch t.TargetType {
	case models.TemplateTargetUser:
		if _, err := s.users.GetByID(ctx, req.TargetID); err != nil {
			if postgres.IsNotFound(err) {
				return nil, models.ErrNotFoundf(models.CodeUserNotFound, "user %s not found", req.TargetID)
			}
			return nil, err
		}
		targets = []string{req.TargetID}
	case models.TemplateTargetPosition:
		targets, err = s.users.UsersInPosition(ctx, req.TargetID)
		if err != nil {
			return nil, err
		}
	}

	perms, err := s.permissions.GetByCodes(ctx, t.PermissionCodes)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	app := &models.TemplateApplication{
		ID:         uuid.NewString(),
		TemplateID: t.ID,
		TargetType: t.TargetType,
		TargetID:   req.TargetID,
		AppliedBy:  actor,
		AppliedAt:  now,
		IsActive:   true,
		Notes:      req.Notes,
	}

	err = s.db.Transaction(ctx, rollbackTimeout, func(tx *gorm.DB) error {
		templates := s.templates.WithTx(tx)
		grants := s.grants.WithTx(tx)
		if err := templates.CreateApplication(ctx, app); err != nil {
			return err
		}
		for _, userID := range targets {
			for i := range perms {
				existing, err := grants.GetByUserAndPermission(ctx, userID, perms[i].ID)
				if err != nil && !postgres.IsNotFound(err) {
					return err
				}
				if existing != nil && existing.IsGranted {
					continue
				}
				up := &models.UserPermission{
					ID:            uuid.NewString(),
					UserProfileID: userID,
					PermissionID:  perms[i].ID,
					IsGranted:     true,
					Priority:      models.DefaultGrantPriority,
					GrantReason:   templateGrantReason(app.ID),
					GrantedBy:     actor,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				if existing != nil {
					up.ID = existing.ID
					up.CreatedAt = existing.CreatedAt
					if err := grants.Update(ctx, up); err != nil {
						return err
					}
				} else if err := grants.Create(ctx, up); err != nil {
					return err
				}
			}
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityTemplateApplication, app.ID, models.OpGrant, actor, nil, entityState(app)))
	})
	if err != nil {
		return nil, err
	}

	for _, userID := range targets {
		s.invalidation.UserMutated(ctx, userID)
	}
	s.recordAudit(ctx, actor, models.OpGrant, models.EntityTemplateApplication, app.ID,
		models.JSONMap{"templateCode": t.Code, "targetId": req.TargetID, "users": len(targets)})
	return app, nil
}

// RevokeApplication deactivates an application and revokes the direct
// grants it created.
func (s *TemplateService) RevokeApplication(ctx context.Context, applicationID, reason, actor string) error {
	app, err := s.templates.GetApplication(ctx, applicationID)
	if err != nil {
		if postgres.IsNotFound(err) {
			return models.ErrNotFoundf(models.CodeTemplateNotFound, "template application %s not found", applicationID)
		}
		return err
	}
	if !app.IsActive {
		return models.ErrConflictf(models.CodeGrantNotActive, "template application %s is already revoked", applicationID)
	}
	previous := entityState(app)

	var targets []string
	switch app.TargetType {
	case models.TemplateTargetUser:
		targets = []string{app.TargetID}
	case models.TemplateTargetPosition:
		targets, err = s.users.UsersInPosition(ctx, app.TargetID)
		if err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	err = s.db.Transaction(ctx, rollbackTimeout, func(tx *gorm.DB) error {
		templates := s.templates.WithTx(tx)
		grants := s.grants.WithTx(tx)

		app.IsActive = false
		app.RevokedAt = &now
		if err := templates.UpdateApplication(ctx, app); err != nil {
			return err
		}
		tag := templateGrantReason(app.ID)
		for _, userID := range targets {
			rows, err := grants.DirectGrantsOf(ctx, userID)
			if err != nil {
				return err
			}
			for i := range rows {
				if !rows[i].IsGranted || !strings.HasPrefix(rows[i].GrantReason, tag) {
					continue
				}
				rows[i].IsGranted = false
				rows[i].RevokeReason = reason
				rows[i].RevokedBy = actor
				rows[i].UpdatedAt = now
				if err := grants.Update(ctx, &rows[i]); err != nil {
					return err
				}
			}
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityTemplateApplication, app.ID, models.OpRevoke, actor, previous, entityState(app)))
	})
	if err != nil {
		return err
	}

	for _, userID := range targets {
		s.invalidation.UserMutated(ctx, userID)
	}
	s.recordAudit(ctx, actor, models.OpRevoke, models.EntityTemplateApplication, app.ID,
		models.JSONMap{"reason": reason})
	return nil
}

// Applications lists a target's template applications.
func (s *TemplateService) Applications(ctx context.Context, targetType models.TemplateTargetType, targetID string) ([]models.TemplateApplication, error) {
	return s.templates.ApplicationsOfTarget(ctx, targetType, targetID)
}

func (s *TemplateService) checkCodes(ctx context.Context, codes []string) error {
	found, err := s.permissions.GetByCodes(ctx, codes)
	if err != nil {
		return err
	}
	if len(found) != len(codes) {
		present := map[string]bool{}
		for i := range found {
			present[found[i].Code] = true
		}
		for _, code := range codes {
			if !present[code] {
				return models.ErrValidationf(models.CodePermissionCodeNotFound,
					"permission code %q does not exist", code)
			}
		}
	}
	return nil
}

func (s *TemplateService) recordAudit(ctx context.Context, actor, action, entityType, entityID string, payload models.JSONMap) {
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
