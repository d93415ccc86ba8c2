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

// RoleService owns roles, the inheritance DAG, role-permission edges, and
// user-role assignments.
type RoleService struct {
	db           postgres.TxRunner
	roles        postgres.RoleStore
	permissions  postgres.PermissionStore
	users        postgres.UserStore
	history      postgres.HistoryStore
	invalidation Invalidator
	audit        AuditSink
	logger       logger.Logger
}

func NewRoleService(
	db postgres.TxRunner,
	roles postgres.RoleStore,
	permissions postgres.PermissionStore,
	users postgres.UserStore,
	history postgres.HistoryStore,
	invalidation Invalidator,
	audit AuditSink,
	log logger.Logger,
) *RoleService {
	return &RoleService{
		db:           db,
		roles:        roles,
		permissions:  permissions,
		users:        users,
		history:      history,
		invalidation: invalidation,
		audit:        audit,
		logger:       log.With("component", "roles"),
	}
}

// Create defines a role, optionally with initial permissions and parents.
func (s *RoleService) Create(ctx context.Context, req *models.CreateRoleRequest, actor string) (*models.Role, error) {
	if _, err := s.roles.GetByCode(ctx, req.Code); err == nil {
		return nil, models.ErrConflictf(models.CodeRoleAlreadyExists, "role code %q already exists", req.Code)
	} else if !postgres.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	role := &models.Role{
		ID:             uuid.NewString(),
		Code:           req.Code,
		Name:           req.Name,
		Description:    req.Description,
		HierarchyLevel: req.HierarchyLevel,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
		CreatedBy:      actor,
	}

	err := s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		roles := s.roles.WithTx(tx)
		if err := roles.Create(ctx, role); err != nil {
			return err
		}
		for _, parentID := range req.ParentRoleIDs {
			if _, err := s.roles.GetByID(ctx, parentID); err != nil {
				if postgres.IsNotFound(err) {
					return models.ErrNotFoundf(models.CodeRoleNotFound, "parent role %s not found", parentID)
				}
				return err
			}
			if err := roles.AddParent(ctx, &models.RoleParent{
				ID:                 uuid.NewString(),
				RoleID:             role.ID,
				ParentRoleID:       parentID,
				InheritPermissions: true,
				CreatedAt:          now,
			}); err != nil {
				return err
			}
		}
		for _, permissionID := range req.PermissionIDs {
			if _, err := s.permissions.GetByID(ctx, permissionID); err != nil {
				if postgres.IsNotFound(err) {
					return models.ErrNotFoundf(models.CodePermissionNotFound, "permission %s not found", permissionID)
				}
				return err
			}
			rp := &models.RolePermission{
				ID:           uuid.NewString(),
				RoleID:       role.ID,
				PermissionID: permissionID,
				IsGranted:    true,
				GrantedBy:    actor,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := roles.UpsertRolePermission(ctx, rp); err != nil {
				return err
			}
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityRole, role.ID, models.OpCreate, actor, nil, entityState(role)))
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, models.OpCreate, models.EntityRole, role.ID, models.JSONMap{"code": role.Code})
	return role, nil
}

// Get fetches one role.
func (s *RoleService) Get(ctx context.Context, id string) (*models.Role, error) {
	role, err := s.roles.GetByID(ctx, id)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeRoleNotFound, "role %s not found", id)
		}
		return nil, err
	}
	return role, nil
}

// List returns roles matching the filter.
func (s *RoleService) List(ctx context.Context, f models.RoleFilter) ([]models.Role, int64, error) {
	return s.roles.List(ctx, f)
}

// Update mutates a role's descriptive fields. System roles are frozen.
func (s *RoleService) Update(ctx context.Context, id string, req *models.UpdateRoleRequest, actor string) (*models.Role, error) {
	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystemRole {
		return nil, models.ErrForbiddenf(models.CodeSystemRoleImmutable, "system role %q cannot be modified", role.Code)
	}
	previous := entityState(role)

	semanticChange := false
	if req.Name != nil {
		role.Name = *req.Name
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.HierarchyLevel != nil {
		role.HierarchyLevel = *req.HierarchyLevel
	}
	if req.IsActive != nil && *req.IsActive != role.IsActive {
		role.IsActive = *req.IsActive
		semanticChange = true
	}
	role.UpdatedAt = time.Now().UTC()
	role.UpdatedBy = actor

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.roles.WithTx(tx).Update(ctx, role); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityRole, role.ID, models.OpUpdate, actor, previous, entityState(role)))
	})
	if err != nil {
		return nil, err
	}

	if semanticChange {
		s.invalidation.RoleMutated(ctx, role.ID)
	}
	s.recordAudit(ctx, actor, models.OpUpdate, models.EntityRole, role.ID, models.JSONMap{"code": role.Code})
	return role, nil
}

// Delete removes a role with no active assignments.
func (s *RoleService) Delete(ctx context.Context, id, actor string) error {
	role, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return models.ErrForbiddenf(models.CodeSystemRoleImmutable, "system role %q cannot be deleted", role.Code)
	}
	assignments, err := s.roles.CountActiveAssignments(ctx, id)
	if err != nil {
		return err
	}
	if assignments > 0 {
		return models.ErrConflictf(models.CodeRoleInUse,
			"role %q still has %d active assignments", role.Code, assignments)
	}

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.roles.WithTx(tx).Delete(ctx, id); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityRole, id, models.OpDelete, actor, entityState(role), nil))
	})
	if err != nil {
		return err
	}

	s.invalidation.RoleMutated(ctx, id)
	s.recordAudit(ctx, actor, models.OpDelete, models.EntityRole, id, models.JSONMap{"code": role.Code})
	return nil
}

// AddParent links roleID under parentID in the inheritance DAG. Edges that
// would close a cycle are rejected.
func (s *RoleService) AddParent(ctx context.Context, roleID, parentID string, inherit bool, actor string) error {
	role, err := s.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return models.ErrForbiddenf(models.CodeSystemRoleImmutable, "system role %q cannot gain parents", role.Code)
	}
	if _, err := s.Get(ctx, parentID); err != nil {
		return err
	}
	cycle, err := s.roles.WouldCreateCycle(ctx, roleID, parentID)
	if err != nil {
		return err
	}
	if cycle {
		return models.ErrConflictf(models.CodeRoleHierarchyCycle,
			"making %s a parent of %s would close an inheritance cycle", parentID, roleID)
	}

	edge := &models.RoleParent{
		ID:                 uuid.NewString(),
		RoleID:             roleID,
		ParentRoleID:       parentID,
		InheritPermissions: inherit,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.roles.AddParent(ctx, edge); err != nil {
		return err
	}

	s.invalidation.RoleMutated(ctx, roleID)
	s.recordAudit(ctx, actor, models.OpUpdate, models.EntityRole, roleID, models.JSONMap{"parentRoleId": parentID})
	return nil
}

// GrantPermission attaches (or updates) a role-permission edge.
func (s *RoleService) GrantPermission(ctx context.Context, roleID string, req *models.GrantRolePermissionRequest, actor string) (*models.RolePermission, error) {
	role, err := s.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystemRole {
		return nil, models.ErrForbiddenf(models.CodeSystemRoleImmutable, "system role %q permissions are frozen", role.Code)
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

	var previous models.JSONMap
	existing, err := s.roles.GetRolePermission(ctx, roleID, req.PermissionID)
	if err != nil && !postgres.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		previous = entityState(existing)
	}

	now := time.Now().UTC()
	granted := true
	if req.IsGranted != nil {
		granted = *req.IsGranted
	}
	rp := &models.RolePermission{
		ID:           uuid.NewString(),
		RoleID:       roleID,
		PermissionID: req.PermissionID,
		IsGranted:    granted,
		Conditions:   conditions,
		ValidFrom:    req.ValidFrom,
		ValidUntil:   req.ValidUntil,
		GrantReason:  req.GrantReason,
		GrantedBy:    actor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing != nil {
		rp.ID = existing.ID
		rp.CreatedAt = existing.CreatedAt
	}

	operation := models.OpGrant
	if existing != nil {
		operation = models.OpUpdate
	}
	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.roles.WithTx(tx).UpsertRolePermission(ctx, rp); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityRolePermission, rp.ID, operation, actor, previous, entityState(rp)))
	})
	if err != nil {
		return nil, err
	}

	s.invalidation.RoleMutated(ctx, roleID)
	s.recordAudit(ctx, actor, operation, models.EntityRolePermission, rp.ID,
		models.JSONMap{"roleId": roleID, "permissionId": req.PermissionID})
	return rp, nil
}

// RevokePermission removes a role-permission edge.
func (s *RoleService) RevokePermission(ctx context.Context, roleID, permissionID, actor string) error {
	role, err := s.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return models.ErrForbiddenf(models.CodeSystemRoleImmutable, "system role %q permissions are frozen", role.Code)
	}
	existing, err := s.roles.GetRolePermission(ctx, roleID, permissionID)
	if err != nil {
		if postgres.IsNotFound(err) {
			return models.ErrNotFoundf(models.CodePermissionNotFound,
				"role %s does not carry permission %s", roleID, permissionID)
		}
		return err
	}

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.roles.WithTx(tx).DeleteRolePermission(ctx, roleID, permissionID); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityRolePermission, existing.ID, models.OpRevoke, actor, entityState(existing), nil))
	})
	if err != nil {
		return err
	}

	s.invalidation.RoleMutated(ctx, roleID)
	s.recordAudit(ctx, actor, models.OpRevoke, models.EntityRolePermission, existing.ID,
		models.JSONMap{"roleId": roleID, "permissionId": permissionID})
	return nil
}

// Permissions returns the role's direct and inherited permission edges.
func (s *RoleService) Permissions(ctx context.Context, roleID string) ([]models.RolePermission, error) {
	if _, err := s.Get(ctx, roleID); err != nil {
		return nil, err
	}
	closure, err := s.roles.InheritanceClosure(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return s.roles.RolePermissions(ctx, closure)
}

// AssignToUser assigns a role to a user. An inactive prior assignment for
// the same pair is reactivated in place.
func (s *RoleService) AssignToUser(ctx context.Context, req *models.AssignRoleRequest, actor string) (*models.UserRole, error) {
	role, err := s.Get(ctx, req.RoleID)
	if err != nil {
		return nil, err
	}
	if !role.IsActive {
		return nil, models.ErrConflictf(models.CodeRoleInUse, "role %q is inactive", role.Code)
	}
	if _, err := s.users.GetByID(ctx, req.UserProfileID); err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeUserNotFound, "user %s not found", req.UserProfileID)
		}
		return nil, err
	}

	now := time.Now().UTC()
	ur := &models.UserRole{
		ID:            uuid.NewString(),
		UserProfileID: req.UserProfileID,
		RoleID:        req.RoleID,
		IsActive:      true,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		AssignedBy:    actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.roles.WithTx(tx).AssignRole(ctx, ur); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityUserRole, ur.ID, models.OpGrant, actor, nil, entityState(ur)))
	})
	if err != nil {
		return nil, err
	}

	s.invalidation.UserMutated(ctx, req.UserProfileID)
	s.recordAudit(ctx, actor, models.OpGrant, models.EntityUserRole, ur.ID,
		models.JSONMap{"userProfileId": req.UserProfileID, "roleId": req.RoleID})
	return ur, nil
}

// UnassignFromUser deactivates an assignment. The row stays for history.
func (s *RoleService) UnassignFromUser(ctx context.Context, assignmentID, actor string) error {
	ur, err := s.roles.GetUserRole(ctx, assignmentID)
	if err != nil {
		if postgres.IsNotFound(err) {
			return models.ErrNotFoundf(models.CodeRoleNotFound, "role assignment %s not found", assignmentID)
		}
		return err
	}
	previous := entityState(ur)

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.roles.WithTx(tx).DeactivateUserRole(ctx, assignmentID); err != nil {
			return err
		}
		ur.IsActive = false
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityUserRole, ur.ID, models.OpRevoke, actor, previous, entityState(ur)))
	})
	if err != nil {
		return err
	}

	s.invalidation.UserMutated(ctx, ur.UserProfileID)
	s.recordAudit(ctx, actor, models.OpRevoke, models.EntityUserRole, ur.ID,
		models.JSONMap{"userProfileId": ur.UserProfileID, "roleId": ur.RoleID})
	return nil
}

func (s *RoleService) recordAudit(ctx context.Context, actor, action, entityType, entityID string, payload models.JSONMap) {
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
