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

// SystemRoleAdministrator is the seeded role carrying every permission-domain
// right.
const SystemRoleAdministrator = "system-administrator"

// seededPermission is one row of the bootstrap catalog.
type seededPermission struct {
	code     string
	name     string
	resource string
	action   models.Action
}

// systemPermissions is the minimum catalog the engine needs to govern
// itself: every combination a route guard checks appears here.
var systemPermissions = []seededPermission{
	{models.PermSystemAdmin, "Administer the system", "system", models.ActionUpdate},

	{"permission.create", "Define permissions", "permission", models.ActionCreate},
	{"permission.read", "View the permission catalog", "permission", models.ActionRead},
	{"permission.update", "Manage the permission catalog", "permission", models.ActionUpdate},
	{models.PermPermissionGrant, "Grant permissions to users", "permission", models.ActionAssign},
	{models.PermPermissionRevoke, "Revoke permissions from users", "permission", models.ActionDelete},

	{"role.create", "Create roles", "role", models.ActionCreate},
	{"role.read", "View roles", "role", models.ActionRead},
	{"role.update", "Edit roles and their permissions", "role", models.ActionUpdate},
	{"role.delete", "Delete roles", "role", models.ActionDelete},
	{"role.assign", "Assign roles to users", "role", models.ActionAssign},

	{"policy.create", "Create permission policies", "policy", models.ActionCreate},
	{"policy.read", "View and evaluate policies", "policy", models.ActionRead},
	{"policy.update", "Edit policies", "policy", models.ActionUpdate},
	{"policy.delete", "Delete policies", "policy", models.ActionDelete},
	{"policy.assign", "Assign policies", "policy", models.ActionAssign},

	{"template.create", "Create permission templates", "template", models.ActionCreate},
	{"template.read", "View templates", "template", models.ActionRead},
	{"template.update", "Edit templates", "template", models.ActionUpdate},
	{"template.assign", "Apply and revoke templates", "template", models.ActionAssign},

	{"audit.read", "Read change history and check logs", "audit", models.ActionRead},
	{"audit.rollback", "Roll back recorded changes", "audit", models.ActionUpdate},
}

// BootstrapService seeds the system permissions, the administrator role, and
// optionally a superadmin profile. Every step is idempotent so the binary
// can run on each deploy.
type BootstrapService struct {
	db          postgres.TxRunner
	permissions postgres.PermissionStore
	roles       postgres.RoleStore
	users       postgres.UserStore
	logger      logger.Logger
}

func NewBootstrapService(
	db postgres.TxRunner,
	permissions postgres.PermissionStore,
	roles postgres.RoleStore,
	users postgres.UserStore,
	log logger.Logger,
) *BootstrapService {
	return &BootstrapService{
		db:          db,
		permissions: permissions,
		roles:       roles,
		users:       users,
		logger:      log.With("component", "bootstrap"),
	}
}

// Seed writes the system catalog and role in one transaction.
func (s *BootstrapService) Seed(ctx context.Context) error {
	return s.db.Transaction(ctx, 30*time.Second, func(tx *gorm.DB) error {
		permissions := s.permissions.WithTx(tx)
		roles := s.roles.WithTx(tx)
		now := time.Now().UTC()

		permIDs := make([]string, 0, len(systemPermissions))
		for _, sp := range systemPermissions {
			existing, err := permissions.GetByCode(ctx, sp.code)
			if err == nil {
				permIDs = append(permIDs, existing.ID)
				continue
			}
			if !postgres.IsNotFound(err) {
				return err
			}
			p := &models.Permission{
				ID:                 uuid.NewString(),
				Code:               sp.code,
				Name:               sp.name,
				Resource:           sp.resource,
				Action:             sp.action,
				Scope:              models.ScopeAll,
				IsSystemPermission: true,
				IsActive:           true,
				CreatedAt:          now,
				UpdatedAt:          now,
				CreatedBy:          "bootstrap",
			}
			if err := permissions.Create(ctx, p); err != nil {
				return err
			}
			s.logger.Info("seeded system permission", "code", sp.code)
			permIDs = append(permIDs, p.ID)
		}

		role, err := roles.GetByCode(ctx, SystemRoleAdministrator)
		if postgres.IsNotFound(err) {
			role = &models.Role{
				ID:           uuid.NewString(),
				Code:         SystemRoleAdministrator,
				Name:         "System Administrator",
				Description:  "Full control over the authorization engine",
				IsSystemRole: true,
				IsActive:     true,
				CreatedAt:    now,
				UpdatedAt:    now,
				CreatedBy:    "bootstrap",
			}
			if err := roles.Create(ctx, role); err != nil {
				return err
			}
			s.logger.Info("seeded system role", "code", SystemRoleAdministrator)
		} else if err != nil {
			return err
		}

		for _, permID := range permIDs {
			if _, err := roles.GetRolePermission(ctx, role.ID, permID); err == nil {
				continue
			} else if !postgres.IsNotFound(err) {
				return err
			}
			edge := &models.RolePermission{
				ID:           uuid.NewString(),
				RoleID:       role.ID,
				PermissionID: permID,
				IsGranted:    true,
				GrantReason:  "bootstrap",
				GrantedBy:    "bootstrap",
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := roles.UpsertRolePermission(ctx, edge); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureSuperadmin creates or flags a profile as superadmin, keyed by the
// gateway's external subject ID.
func (s *BootstrapService) EnsureSuperadmin(ctx context.Context, externalID, fullName, email string) (*models.UserProfile, error) {
	existing, err := s.users.GetByExternalID(ctx, externalID)
	if err == nil {
		if existing.IsSuperadmin {
			return existing, nil
		}
		existing.IsSuperadmin = true
		existing.UpdatedAt = time.Now().UTC()
		if err := s.users.Update(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Info("promoted profile to superadmin", "externalId", externalID)
		return existing, nil
	}
	if !postgres.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	u := &models.UserProfile{
		ID:           uuid.NewString(),
		ExternalID:   externalID,
		FullName:     fullName,
		Email:        email,
		IsSuperadmin: true,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("seeded superadmin profile", "externalId", externalID)
	return u, nil
}
