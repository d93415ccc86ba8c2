package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
)

// In-memory store stubs for service tests. Each stub embeds its interface so
// a test only implements the methods its path touches; calling anything else
// panics on the nil embed, which is the failure we want. WithTx returns the
// stub itself, so tx-scoped writes land in the same recorder.

type txRunnerStub struct {
	calls int
	err   error
}

func (t *txRunnerStub) Transaction(ctx context.Context, timeout time.Duration, fn func(tx *gorm.DB) error) error {
	t.calls++
	if t.err != nil {
		return t.err
	}
	return fn(nil)
}

type grantStoreStub struct {
	postgres.GrantStore

	directRowsFor       func(userProfileID, permissionID string) []models.UserPermission
	resourceGrantFor    func(userProfileID, permissionID, resourceType, resourceID string) []models.ResourcePermission
	byUserAndPermission func(userProfileID, permissionID string) *models.UserPermission
	directGrantsOf      func(userProfileID string) []models.UserPermission

	created []*models.UserPermission
	updated []*models.UserPermission
	deleted []string
}

func (s *grantStoreStub) WithTx(tx *gorm.DB) postgres.GrantStore { return s }

func (s *grantStoreStub) DirectRowsFor(ctx context.Context, userProfileID, permissionID string) ([]models.UserPermission, error) {
	if s.directRowsFor == nil {
		return nil, nil
	}
	return s.directRowsFor(userProfileID, permissionID), nil
}

func (s *grantStoreStub) ResourceGrantFor(ctx context.Context, userProfileID, permissionID, resourceType, resourceID string) ([]models.ResourcePermission, error) {
	if s.resourceGrantFor == nil {
		return nil, nil
	}
	return s.resourceGrantFor(userProfileID, permissionID, resourceType, resourceID), nil
}

func (s *grantStoreStub) GetByUserAndPermission(ctx context.Context, userProfileID, permissionID string) (*models.UserPermission, error) {
	if s.byUserAndPermission == nil {
		return nil, models.ErrNotFound
	}
	up := s.byUserAndPermission(userProfileID, permissionID)
	if up == nil {
		return nil, models.ErrNotFound
	}
	return up, nil
}

func (s *grantStoreStub) DirectGrantsOf(ctx context.Context, userProfileID string) ([]models.UserPermission, error) {
	if s.directGrantsOf == nil {
		return nil, nil
	}
	return s.directGrantsOf(userProfileID), nil
}

func (s *grantStoreStub) Create(ctx context.Context, up *models.UserPermission) error {
	s.created = append(s.created, up)
	return nil
}

func (s *grantStoreStub) Update(ctx context.Context, up *models.UserPermission) error {
	s.updated = append(s.updated, up)
	return nil
}

func (s *grantStoreStub) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *grantStoreStub) ExpireGrants(ctx context.Context, now time.Time) ([]string, error) {
	return nil, nil
}

func (s *grantStoreStub) ExpiringTemporaryGrants(ctx context.Context, now time.Time, window time.Duration) ([]models.UserPermission, error) {
	return nil, nil
}

type roleStoreStub struct {
	postgres.RoleStore

	activeRolesOf      func(userProfileID string) []models.UserRole
	inheritanceClosure map[string][]string
	rolePermissions    func(roleIDs []string) []models.RolePermission
	rolesByID          map[string]*models.Role

	upsertedEdges []*models.RolePermission
	deletedEdges  []string
}

func (s *roleStoreStub) WithTx(tx *gorm.DB) postgres.RoleStore { return s }

func (s *roleStoreStub) ActiveRolesOf(ctx context.Context, userProfileID string) ([]models.UserRole, error) {
	if s.activeRolesOf == nil {
		return nil, nil
	}
	return s.activeRolesOf(userProfileID), nil
}

func (s *roleStoreStub) InheritanceClosure(ctx context.Context, roleID string) ([]string, error) {
	if closure, ok := s.inheritanceClosure[roleID]; ok {
		return closure, nil
	}
	return []string{roleID}, nil
}

func (s *roleStoreStub) RolePermissions(ctx context.Context, roleIDs []string) ([]models.RolePermission, error) {
	if s.rolePermissions == nil {
		return nil, nil
	}
	return s.rolePermissions(roleIDs), nil
}

func (s *roleStoreStub) GetByID(ctx context.Context, id string) (*models.Role, error) {
	if role, ok := s.rolesByID[id]; ok {
		return role, nil
	}
	return nil, models.ErrNotFound
}

func (s *roleStoreStub) UpsertRolePermission(ctx context.Context, rp *models.RolePermission) error {
	s.upsertedEdges = append(s.upsertedEdges, rp)
	return nil
}

func (s *roleStoreStub) DeleteRolePermission(ctx context.Context, roleID, permissionID string) error {
	s.deletedEdges = append(s.deletedEdges, roleID+"/"+permissionID)
	return nil
}

func (s *roleStoreStub) ExpireAssignments(ctx context.Context, now time.Time) ([]string, error) {
	return nil, nil
}

type delegationStoreStub struct {
	postgres.DelegationStore

	activeDelegationsTo func(delegateProfileID string) []models.PermissionDelegation
	byID                map[string]*models.PermissionDelegation

	created []*models.PermissionDelegation
	updated []*models.PermissionDelegation
}

func (s *delegationStoreStub) WithTx(tx *gorm.DB) postgres.DelegationStore { return s }

func (s *delegationStoreStub) ActiveDelegationsTo(ctx context.Context, delegateProfileID string, now time.Time) ([]models.PermissionDelegation, error) {
	if s.activeDelegationsTo == nil {
		return nil, nil
	}
	return s.activeDelegationsTo(delegateProfileID), nil
}

func (s *delegationStoreStub) GetByID(ctx context.Context, id string) (*models.PermissionDelegation, error) {
	if d, ok := s.byID[id]; ok {
		return d, nil
	}
	return nil, models.ErrNotFound
}

func (s *delegationStoreStub) Create(ctx context.Context, d *models.PermissionDelegation) error {
	s.created = append(s.created, d)
	return nil
}

func (s *delegationStoreStub) Update(ctx context.Context, d *models.PermissionDelegation) error {
	s.updated = append(s.updated, d)
	return nil
}

type policyStoreStub struct {
	postgres.PolicyStore

	applicablePolicies func(principals []postgres.PrincipalRef) []models.PermissionPolicy
}

func (s *policyStoreStub) WithTx(tx *gorm.DB) postgres.PolicyStore { return s }

func (s *policyStoreStub) ApplicablePolicies(ctx context.Context, principals []postgres.PrincipalRef, now time.Time) ([]models.PermissionPolicy, error) {
	if s.applicablePolicies == nil {
		return nil, nil
	}
	return s.applicablePolicies(principals), nil
}

func (s *policyStoreStub) DeleteExpiredAssignments(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type userStoreStub struct {
	postgres.UserStore

	profiles map[string]*models.UserProfile
}

func (s *userStoreStub) WithTx(tx *gorm.DB) postgres.UserStore { return s }

func (s *userStoreStub) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	if p, ok := s.profiles[id]; ok {
		return p, nil
	}
	return nil, models.ErrNotFound
}

func (s *userStoreStub) Exists(ctx context.Context, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		if _, ok := s.profiles[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

type permissionStoreStub struct {
	postgres.PermissionStore

	byCode map[string]*models.Permission
	byID   map[string]*models.Permission
}

func (s *permissionStoreStub) WithTx(tx *gorm.DB) postgres.PermissionStore { return s }

func (s *permissionStoreStub) GetByCodes(ctx context.Context, codes []string) ([]models.Permission, error) {
	var found []models.Permission
	for _, code := range codes {
		if p, ok := s.byCode[code]; ok {
			found = append(found, *p)
		}
	}
	return found, nil
}

func (s *permissionStoreStub) GetByID(ctx context.Context, id string) (*models.Permission, error) {
	if p, ok := s.byID[id]; ok {
		return p, nil
	}
	return nil, models.ErrNotFound
}

type historyStoreStub struct {
	postgres.HistoryStore

	entries map[string]*models.PermissionChangeHistory

	appended   []*models.PermissionChangeHistory
	rolledBack []string
	audits     []*models.AuditRecord
}

func (s *historyStoreStub) WithTx(tx *gorm.DB) postgres.HistoryStore { return s }

func (s *historyStoreStub) Append(ctx context.Context, h *models.PermissionChangeHistory) error {
	s.appended = append(s.appended, h)
	return nil
}

func (s *historyStoreStub) GetByID(ctx context.Context, id string) (*models.PermissionChangeHistory, error) {
	if h, ok := s.entries[id]; ok {
		return h, nil
	}
	return nil, models.ErrNotFound
}

func (s *historyStoreStub) MarkRolledBack(ctx context.Context, id string, at time.Time) error {
	s.rolledBack = append(s.rolledBack, id)
	return nil
}

func (s *historyStoreStub) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	s.audits = append(s.audits, rec)
	return nil
}

func (s *historyStoreStub) AppendCheckLog(ctx context.Context, l *models.PermissionCheckLog) error {
	return nil
}

func (s *historyStoreStub) DeleteCheckLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type templateStoreStub struct {
	postgres.TemplateStore

	applications map[string]*models.TemplateApplication

	updatedApplications []*models.TemplateApplication
}

func (s *templateStoreStub) WithTx(tx *gorm.DB) postgres.TemplateStore { return s }

func (s *templateStoreStub) GetApplication(ctx context.Context, id string) (*models.TemplateApplication, error) {
	if a, ok := s.applications[id]; ok {
		return a, nil
	}
	return nil, models.ErrNotFound
}

func (s *templateStoreStub) UpdateApplication(ctx context.Context, a *models.TemplateApplication) error {
	s.updatedApplications = append(s.updatedApplications, a)
	return nil
}

type matrixStoreStub struct {
	postgres.MatrixStore

	regularActiveUsers  func() []string
	validEntry          func(userProfileID, permissionKey string) *models.PermissionMatrixEntry
	recordCheckActivity func(userProfileID string)
}

func (s *matrixStoreStub) WithTx(tx *gorm.DB) postgres.MatrixStore { return s }

func (s *matrixStoreStub) RegularActiveUsers(ctx context.Context, minChecks int64, now time.Time, limit int) ([]string, error) {
	if s.regularActiveUsers == nil {
		return nil, nil
	}
	return s.regularActiveUsers(), nil
}

func (s *matrixStoreStub) ValidEntry(ctx context.Context, userProfileID, permissionKey string, now time.Time) (*models.PermissionMatrixEntry, error) {
	if s.validEntry == nil {
		return nil, models.ErrNotFound
	}
	if e := s.validEntry(userProfileID, permissionKey); e != nil {
		return e, nil
	}
	return nil, models.ErrNotFound
}

func (s *matrixStoreStub) RecordCheckActivity(ctx context.Context, userProfileID string, now time.Time, windowSize time.Duration) error {
	if s.recordCheckActivity != nil {
		s.recordCheckActivity(userProfileID)
	}
	return nil
}

type invalidatorStub struct {
	users       []string
	roles       []string
	permissions []string
}

func (s *invalidatorStub) UserMutated(ctx context.Context, userProfileID string) {
	s.users = append(s.users, userProfileID)
}

func (s *invalidatorStub) RoleMutated(ctx context.Context, roleID string) {
	s.roles = append(s.roles, roleID)
}

func (s *invalidatorStub) PermissionMutated(ctx context.Context, permissionID string) {
	s.permissions = append(s.permissions, permissionID)
}

func (s *invalidatorStub) PolicyMutated(ctx context.Context, policyID string, policies postgres.PolicyStore, users postgres.UserStore) {
}

type auditSinkStub struct {
	records []*models.AuditRecord
}

func (s *auditSinkStub) Record(ctx context.Context, rec *models.AuditRecord) error {
	s.records = append(s.records, rec)
	return nil
}
