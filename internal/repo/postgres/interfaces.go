package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
)

// The store interfaces are the persistence surface the services depend on.
// The gorm repositories below implement them; tests substitute in-memory
// stubs. WithTx returns a store bound to one transaction so multi-entity
// mutations commit atomically.

// TxRunner runs a function inside one bounded database transaction.
type TxRunner interface {
	Transaction(ctx context.Context, timeout time.Duration, fn func(tx *gorm.DB) error) error
}

// PermissionStore persists the permission catalog and permission groups.
type PermissionStore interface {
	WithTx(tx *gorm.DB) PermissionStore
	Create(ctx context.Context, p *models.Permission) error
	GetByID(ctx context.Context, id string) (*models.Permission, error)
	GetByCode(ctx context.Context, code string) (*models.Permission, error)
	GetByCodes(ctx context.Context, codes []string) ([]models.Permission, error)
	GetByCombination(ctx context.Context, resource string, action models.Action, scope models.Scope) (*models.Permission, error)
	List(ctx context.Context, f models.PermissionFilter) ([]models.Permission, int64, error)
	Update(ctx context.Context, p *models.Permission) error
	Delete(ctx context.Context, id string) error
	DependentsOf(ctx context.Context, id string) ([]models.Permission, error)
	CreateGroup(ctx context.Context, g *models.PermissionGroup) error
	GetGroup(ctx context.Context, id string) (*models.PermissionGroup, error)
	ListGroups(ctx context.Context) ([]models.PermissionGroup, error)
	UpdateGroup(ctx context.Context, g *models.PermissionGroup) error
	DeleteGroup(ctx context.Context, id string) error
}

// RoleStore persists roles, inheritance edges, role-permission edges, and
// user-role assignments.
type RoleStore interface {
	WithTx(tx *gorm.DB) RoleStore
	Create(ctx context.Context, role *models.Role) error
	GetByID(ctx context.Context, id string) (*models.Role, error)
	GetByCode(ctx context.Context, code string) (*models.Role, error)
	List(ctx context.Context, f models.RoleFilter) ([]models.Role, int64, error)
	Update(ctx context.Context, role *models.Role) error
	Delete(ctx context.Context, id string) error
	CountActiveAssignments(ctx context.Context, roleID string) (int64, error)
	AddParent(ctx context.Context, edge *models.RoleParent) error
	Parents(ctx context.Context, roleID string) ([]models.RoleParent, error)
	WouldCreateCycle(ctx context.Context, roleID, candidateParentID string) (bool, error)
	InheritanceClosure(ctx context.Context, roleID string) ([]string, error)
	UpsertRolePermission(ctx context.Context, rp *models.RolePermission) error
	GetRolePermission(ctx context.Context, roleID, permissionID string) (*models.RolePermission, error)
	DeleteRolePermission(ctx context.Context, roleID, permissionID string) error
	RolePermissions(ctx context.Context, roleIDs []string) ([]models.RolePermission, error)
	RolesCarryingPermission(ctx context.Context, permissionID string) ([]string, error)
	AssignRole(ctx context.Context, ur *models.UserRole) error
	GetUserRole(ctx context.Context, id string) (*models.UserRole, error)
	DeactivateUserRole(ctx context.Context, id string) error
	ActiveRolesOf(ctx context.Context, userProfileID string) ([]models.UserRole, error)
	ActiveHoldersOf(ctx context.Context, roleIDs []string) ([]string, error)
	ExpireAssignments(ctx context.Context, now time.Time) ([]string, error)
}

// GrantStore persists direct user grants and resource-instance grants.
type GrantStore interface {
	WithTx(tx *gorm.DB) GrantStore
	Create(ctx context.Context, up *models.UserPermission) error
	GetByID(ctx context.Context, id string) (*models.UserPermission, error)
	GetByUserAndPermission(ctx context.Context, userProfileID, permissionID string) (*models.UserPermission, error)
	Update(ctx context.Context, up *models.UserPermission) error
	Delete(ctx context.Context, id string) error
	DirectGrantsOf(ctx context.Context, userProfileID string) ([]models.UserPermission, error)
	DirectRowsFor(ctx context.Context, userProfileID, permissionID string) ([]models.UserPermission, error)
	UsersWithDirectGrant(ctx context.Context, permissionID string) ([]string, error)
	ExpireGrants(ctx context.Context, now time.Time) ([]string, error)
	ExpiringTemporaryGrants(ctx context.Context, now time.Time, window time.Duration) ([]models.UserPermission, error)
	CreateResourceGrant(ctx context.Context, rp *models.ResourcePermission) error
	GetResourceGrant(ctx context.Context, id string) (*models.ResourcePermission, error)
	UpdateResourceGrant(ctx context.Context, rp *models.ResourcePermission) error
	ResourceGrantFor(ctx context.Context, userProfileID, permissionID, resourceType, resourceID string) ([]models.ResourcePermission, error)
	ResourceGrantsOf(ctx context.Context, userProfileID string) ([]models.ResourcePermission, error)
}

// DelegationStore persists permission delegations.
type DelegationStore interface {
	WithTx(tx *gorm.DB) DelegationStore
	Create(ctx context.Context, d *models.PermissionDelegation) error
	GetByID(ctx context.Context, id string) (*models.PermissionDelegation, error)
	Update(ctx context.Context, d *models.PermissionDelegation) error
	List(ctx context.Context, f models.DelegationFilter) ([]models.PermissionDelegation, error)
	ActiveDelegationsTo(ctx context.Context, delegateProfileID string, now time.Time) ([]models.PermissionDelegation, error)
}

// PolicyStore persists dynamic policies and their principal assignments.
type PolicyStore interface {
	WithTx(tx *gorm.DB) PolicyStore
	Create(ctx context.Context, p *models.PermissionPolicy) error
	GetByID(ctx context.Context, id string) (*models.PermissionPolicy, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]models.PermissionPolicy, error)
	Update(ctx context.Context, p *models.PermissionPolicy) error
	Delete(ctx context.Context, id string) error
	Assign(ctx context.Context, a *models.PolicyAssignment) error
	GetAssignment(ctx context.Context, id string) (*models.PolicyAssignment, error)
	DeleteAssignment(ctx context.Context, id string) error
	AssignmentsOfPolicy(ctx context.Context, policyID string) ([]models.PolicyAssignment, error)
	ApplicablePolicies(ctx context.Context, principals []PrincipalRef, now time.Time) ([]models.PermissionPolicy, error)
	DeleteExpiredAssignments(ctx context.Context, now time.Time) (int64, error)
	UsersAffectedByPolicy(ctx context.Context, policyID string, roles RoleStore, users UserStore) ([]string, error)
}

// UserStore reads and writes user profiles.
type UserStore interface {
	WithTx(tx *gorm.DB) UserStore
	GetByID(ctx context.Context, id string) (*models.UserProfile, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.UserProfile, error)
	Exists(ctx context.Context, ids []string) (missing []string, err error)
	Create(ctx context.Context, u *models.UserProfile) error
	Update(ctx context.Context, u *models.UserProfile) error
	UsersInDepartment(ctx context.Context, departmentID string) ([]string, error)
	UsersInPosition(ctx context.Context, positionID string) ([]string, error)
}

// HistoryStore persists change history, check logs, and audit records.
type HistoryStore interface {
	WithTx(tx *gorm.DB) HistoryStore
	Append(ctx context.Context, h *models.PermissionChangeHistory) error
	GetByID(ctx context.Context, id string) (*models.PermissionChangeHistory, error)
	MarkRolledBack(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, f models.HistoryFilter) ([]models.PermissionChangeHistory, int64, error)
	AppendCheckLog(ctx context.Context, l *models.PermissionCheckLog) error
	ListCheckLogs(ctx context.Context, f models.CheckLogFilter) ([]models.PermissionCheckLog, int64, error)
	DeleteCheckLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	AppendAudit(ctx context.Context, rec *models.AuditRecord) error
}

// TemplateStore persists permission templates and their applications.
type TemplateStore interface {
	WithTx(tx *gorm.DB) TemplateStore
	Create(ctx context.Context, t *models.PermissionTemplate) error
	GetByID(ctx context.Context, id string) (*models.PermissionTemplate, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]models.PermissionTemplate, error)
	Update(ctx context.Context, t *models.PermissionTemplate) error
	CreateApplication(ctx context.Context, a *models.TemplateApplication) error
	GetApplication(ctx context.Context, id string) (*models.TemplateApplication, error)
	UpdateApplication(ctx context.Context, a *models.TemplateApplication) error
	ApplicationsOfTarget(ctx context.Context, targetType models.TemplateTargetType, targetID string) ([]models.TemplateApplication, error)
}

// MatrixStore persists the pre-computed matrix and activity trackers.
type MatrixStore interface {
	WithTx(tx *gorm.DB) MatrixStore
	GetEntry(ctx context.Context, userProfileID, permissionKey string) (*models.PermissionMatrixEntry, error)
	ValidEntry(ctx context.Context, userProfileID, permissionKey string, now time.Time) (*models.PermissionMatrixEntry, error)
	EntriesOf(ctx context.Context, userProfileID string) ([]models.PermissionMatrixEntry, error)
	ReplaceForUser(ctx context.Context, userProfileID string, entries []models.PermissionMatrixEntry) error
	UpsertEntry(ctx context.Context, e *models.PermissionMatrixEntry) error
	InvalidateForUsers(ctx context.Context, userProfileIDs []string) (int64, error)
	DeleteForUser(ctx context.Context, userProfileID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	RecordCheckActivity(ctx context.Context, userProfileID string, now time.Time, windowSize time.Duration) error
	CheckCount(ctx context.Context, userProfileID string) (int64, error)
	MarkHighPriority(ctx context.Context, threshold int64, now time.Time, limit int) ([]string, error)
	RegularActiveUsers(ctx context.Context, minChecks int64, now time.Time, limit int) ([]string, error)
	ResetInactiveTrackers(ctx context.Context, now time.Time, maxIdle time.Duration) (int64, error)
}

var (
	_ TxRunner        = (*DB)(nil)
	_ PermissionStore = (*PermissionRepository)(nil)
	_ RoleStore       = (*RoleRepository)(nil)
	_ GrantStore      = (*GrantRepository)(nil)
	_ DelegationStore = (*DelegationRepository)(nil)
	_ PolicyStore     = (*PolicyRepository)(nil)
	_ UserStore       = (*UserRepository)(nil)
	_ HistoryStore    = (*HistoryRepository)(nil)
	_ TemplateStore   = (*TemplateRepository)(nil)
	_ MatrixStore     = (*MatrixRepository)(nil)
)
