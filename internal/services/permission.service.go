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

const mutationTimeout = 10 * time.Second

// CatalogIndexer receives permission catalog changes. The bleve-backed
// search service implements it; a nil indexer disables search updates.
type CatalogIndexer interface {
	IndexPermission(p *models.Permission) error
	RemovePermission(id string) error
}

// PermissionService owns the permission catalog: definitions, groups, and
// the immutability rules around system permissions.
type PermissionService struct {
	db           postgres.TxRunner
	permissions  postgres.PermissionStore
	history      postgres.HistoryStore
	invalidation Invalidator
	audit        AuditSink
	indexer      CatalogIndexer
	logger       logger.Logger
}

func NewPermissionService(
	db postgres.TxRunner,
	permissions postgres.PermissionStore,
	history postgres.HistoryStore,
	invalidation Invalidator,
	audit AuditSink,
	indexer CatalogIndexer,
	log logger.Logger,
) *PermissionService {
	return &PermissionService{
		db:           db,
		permissions:  permissions,
		history:      history,
		invalidation: invalidation,
		audit:        audit,
		indexer:      indexer,
		logger:       log.With("component", "permissions"),
	}
}

// Create defines a new permission. Code and the (resource, action, scope)
// combination must both be unique.
func (s *PermissionService) Create(ctx context.Context, req *models.CreatePermissionRequest, actor string) (*models.Permission, error) {
	if !req.Action.IsValid() {
		return nil, models.ErrValidationf(models.CodeInvalidAction, "action %q is not a valid verb", req.Action)
	}
	if !req.Scope.IsValid() {
		return nil, models.ErrValidationf(models.CodeInvalidScope, "scope %q is not recognized", req.Scope)
	}

	if _, err := s.permissions.GetByCode(ctx, req.Code); err == nil {
		return nil, models.ErrConflictf(models.CodePermissionAlreadyExists, "permission code %q already exists", req.Code)
	} else if !postgres.IsNotFound(err) {
		return nil, err
	}
	if existing, err := s.permissions.GetByCombination(ctx, req.Resource, req.Action, req.Scope); err == nil {
		return nil, models.ErrConflictf(models.CodePermissionCombinationExists,
			"combination %s is already defined by %q", existing.Key(), existing.Code)
	} else if !postgres.IsNotFound(err) {
		return nil, err
	}
	if err := s.checkDependencies(ctx, req.Code, req.Dependencies); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &models.Permission{
		ID:           uuid.NewString(),
		Code:         req.Code,
		Name:         req.Name,
		Description:  req.Description,
		Resource:     req.Resource,
		Action:       req.Action,
		Scope:        req.Scope,
		GroupID:      req.GroupID,
		Dependencies: req.Dependencies,
		IsActive:     true,
		Metadata:     req.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    actor,
	}

	err := s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.permissions.WithTx(tx).Create(ctx, p); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityPermission, p.ID, models.OpCreate, actor, nil, entityState(p)))
	})
	if err != nil {
		return nil, err
	}

	s.index(p)
	s.recordAudit(ctx, actor, models.OpCreate, models.EntityPermission, p.ID, models.JSONMap{"code": p.Code})
	return p, nil
}

// Get fetches a permission by ID.
func (s *PermissionService) Get(ctx context.Context, id string) (*models.Permission, error) {
	p, err := s.permissions.GetByID(ctx, id)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodePermissionNotFound, "permission %s not found", id)
		}
		return nil, err
	}
	return p, nil
}

// GetByCode fetches a permission by its stable code.
func (s *PermissionService) GetByCode(ctx context.Context, code string) (*models.Permission, error) {
	p, err := s.permissions.GetByCode(ctx, code)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodePermissionCodeNotFound, "permission code %q not found", code)
		}
		return nil, err
	}
	return p, nil
}

// List returns permissions matching the filter.
func (s *PermissionService) List(ctx context.Context, f models.PermissionFilter) ([]models.Permission, int64, error) {
	return s.permissions.List(ctx, f)
}

// Update mutates a permission's non-structural fields. System permissions
// keep their grouping, dependencies, and active flag frozen.
func (s *PermissionService) Update(ctx context.Context, id string, req *models.UpdatePermissionRequest, actor string) (*models.Permission, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := entityState(p)

	if p.IsSystemPermission {
		if req.GroupID != nil || req.Dependencies != nil || req.IsActive != nil {
			return nil, models.ErrForbiddenf(models.CodeSystemPermissionImmutable,
				"system permission %q only accepts name, description, and metadata updates", p.Code)
		}
	}

	semanticChange := false
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.GroupID != nil {
		p.GroupID = req.GroupID
	}
	if req.Dependencies != nil {
		if err := s.checkDependencies(ctx, p.Code, req.Dependencies); err != nil {
			return nil, err
		}
		p.Dependencies = req.Dependencies
		semanticChange = true
	}
	if req.Metadata != nil {
		p.Metadata = req.Metadata
	}
	if req.IsActive != nil && *req.IsActive != p.IsActive {
		p.IsActive = *req.IsActive
		semanticChange = true
	}
	p.UpdatedAt = time.Now().UTC()
	p.UpdatedBy = actor

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.permissions.WithTx(tx).Update(ctx, p); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityPermission, p.ID, models.OpUpdate, actor, previous, entityState(p)))
	})
	if err != nil {
		return nil, err
	}

	s.index(p)
	if semanticChange {
		s.invalidation.PermissionMutated(ctx, p.ID)
	}
	s.recordAudit(ctx, actor, models.OpUpdate, models.EntityPermission, p.ID, models.JSONMap{"code": p.Code})
	return p, nil
}

// Delete removes a permission. System permissions and permissions other
// definitions depend on are protected.
func (s *PermissionService) Delete(ctx context.Context, id, actor string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.IsSystemPermission {
		return models.ErrForbiddenf(models.CodeSystemPermissionDeleteForbidden,
			"system permission %q cannot be deleted", p.Code)
	}
	dependents, err := s.permissions.DependentsOf(ctx, id)
	if err != nil {
		return err
	}
	if len(dependents) > 0 {
		codes := make([]string, len(dependents))
		for i := range dependents {
			codes[i] = dependents[i].Code
		}
		return models.ErrConflictf(models.CodePermissionInUse,
			"permission %q is a dependency of %d other permissions", p.Code, len(dependents)).
			WithDetails(codes)
	}

	// Fan out before the row disappears; the reachability queries need it.
	s.invalidation.PermissionMutated(ctx, p.ID)

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.permissions.WithTx(tx).Delete(ctx, id); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityPermission, id, models.OpDelete, actor, entityState(p), nil))
	})
	if err != nil {
		return err
	}

	if s.indexer != nil {
		if idxErr := s.indexer.RemovePermission(id); idxErr != nil {
			s.logger.Warn("catalog index removal failed", "permission", id, "error", idxErr)
		}
	}
	s.recordAudit(ctx, actor, models.OpDelete, models.EntityPermission, id, models.JSONMap{"code": p.Code})
	return nil
}

// checkDependencies verifies every declared dependency code exists and the
// graph stays acyclic from the declaring code's point of view.
func (s *PermissionService) checkDependencies(ctx context.Context, code string, deps []string) error {
	if len(deps) == 0 {
		return nil
	}
	seen := map[string]bool{code: true}
	frontier := append([]string(nil), deps...)
	for len(frontier) > 0 {
		batch := make([]string, 0, len(frontier))
		for _, c := range frontier {
			if c == code {
				return models.ErrValidationf(models.CodeDependencyCycle,
					"dependency chain of %q loops back to itself", code)
			}
			if !seen[c] {
				seen[c] = true
				batch = append(batch, c)
			}
		}
		if len(batch) == 0 {
			return nil
		}
		found, err := s.permissions.GetByCodes(ctx, batch)
		if err != nil {
			return err
		}
		if len(found) != len(batch) {
			present := map[string]bool{}
			for i := range found {
				present[found[i].Code] = true
			}
			for _, c := range batch {
				if !present[c] {
					return models.ErrValidationf(models.CodeDependencyNotFound,
						"dependency %q does not exist", c)
				}
			}
		}
		frontier = frontier[:0]
		for i := range found {
			frontier = append(frontier, found[i].Dependencies...)
		}
	}
	return nil
}

// CreateGroup defines a taxonomy bucket.
func (s *PermissionService) CreateGroup(ctx context.Context, req *models.CreatePermissionGroupRequest, actor string) (*models.PermissionGroup, error) {
	now := time.Now().UTC()
	g := &models.PermissionGroup{
		ID:          uuid.NewString(),
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		SortOrder:   req.SortOrder,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.permissions.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, models.OpCreate, "permission_group", g.ID, models.JSONMap{"code": g.Code})
	return g, nil
}

// GetGroup fetches one group.
func (s *PermissionService) GetGroup(ctx context.Context, id string) (*models.PermissionGroup, error) {
	g, err := s.permissions.GetGroup(ctx, id)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeGroupNotFound, "permission group %s not found", id)
		}
		return nil, err
	}
	return g, nil
}

// ListGroups returns all groups ordered by sort order.
func (s *PermissionService) ListGroups(ctx context.Context) ([]models.PermissionGroup, error) {
	return s.permissions.ListGroups(ctx)
}

// UpdateGroup mutates a group in place.
func (s *PermissionService) UpdateGroup(ctx context.Context, g *models.PermissionGroup, actor string) error {
	g.UpdatedAt = time.Now().UTC()
	if err := s.permissions.UpdateGroup(ctx, g); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, models.OpUpdate, "permission_group", g.ID, nil)
	return nil
}

// DeleteGroup removes an empty group. Groups still holding permissions are
// protected.
func (s *PermissionService) DeleteGroup(ctx context.Context, id, actor string) error {
	if _, err := s.GetGroup(ctx, id); err != nil {
		return err
	}
	members, _, err := s.permissions.List(ctx, models.PermissionFilter{GroupID: &id, Limit: 1})
	if err != nil {
		return err
	}
	if len(members) > 0 {
		return models.ErrConflictf(models.CodePermissionInUse, "permission group %s still has members", id)
	}
	if err := s.permissions.DeleteGroup(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, models.OpDelete, "permission_group", id, nil)
	return nil
}

func (s *PermissionService) index(p *models.Permission) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexPermission(p); err != nil {
		s.logger.Warn("catalog index update failed", "permission", p.ID, "error", err)
	}
}

func (s *PermissionService) recordAudit(ctx context.Context, actor, action, entityType, entityID string, payload models.JSONMap) {
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
