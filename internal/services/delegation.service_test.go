package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

type delegationFixture struct {
	db          *txRunnerStub
	delegations *delegationStoreStub
	grants      *grantStoreStub
	roles       *roleStoreStub
	permissions *permissionStoreStub
	users       *userStoreStub
	history     *historyStoreStub
	invalidated *invalidatorStub
	audit       *auditSinkStub
	service     *DelegationService
}

func newDelegationFixture() *delegationFixture {
	f := &delegationFixture{
		db:          &txRunnerStub{},
		delegations: &delegationStoreStub{},
		grants:      &grantStoreStub{},
		roles:       &roleStoreStub{},
		permissions: &permissionStoreStub{},
		users:       &userStoreStub{profiles: map[string]*models.UserProfile{}},
		history:     &historyStoreStub{},
		invalidated: &invalidatorStub{},
		audit:       &auditSinkStub{},
	}
	f.service = NewDelegationService(f.db, f.delegations, f.grants, f.roles, f.permissions,
		f.users, f.history, f.invalidated, f.audit, logger.NewNop())
	return f
}

func TestDelegationCreateRejectsCodesNotHeld(t *testing.T) {
	f := newDelegationFixture()
	f.users.profiles["user-delegate"] = &models.UserProfile{ID: "user-delegate", IsActive: true}
	f.permissions.byCode = map[string]*models.Permission{
		"document.read": {ID: "perm-doc-read", Code: "document.read", IsActive: true},
	}
	// The delegator holds nothing, directly or through roles.

	req := &models.CreateDelegationRequest{
		DelegateProfileID: "user-delegate",
		Permissions:       []string{"document.read"},
		ValidUntil:        time.Now().UTC().Add(24 * time.Hour),
	}
	_, err := f.service.Create(context.Background(), "user-boss", req)
	require.Error(t, err)
	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeDelegationNotHeld, appErr.Code)
	assert.Empty(t, f.delegations.created)
	assert.Zero(t, f.db.calls)
}

func TestDelegationCreateAcceptsDirectlyHeldCodes(t *testing.T) {
	f := newDelegationFixture()
	f.users.profiles["user-delegate"] = &models.UserProfile{ID: "user-delegate", IsActive: true}
	f.permissions.byCode = map[string]*models.Permission{
		"document.read": {ID: "perm-doc-read", Code: "document.read", IsActive: true},
	}
	f.grants.byUserAndPermission = func(userID, permID string) *models.UserPermission {
		if userID == "user-boss" && permID == "perm-doc-read" {
			return &models.UserPermission{ID: "up-1", UserProfileID: userID, PermissionID: permID, IsGranted: true}
		}
		return nil
	}

	req := &models.CreateDelegationRequest{
		DelegateProfileID: "user-delegate",
		Permissions:       []string{"document.read"},
		ValidUntil:        time.Now().UTC().Add(24 * time.Hour),
	}
	d, err := f.service.Create(context.Background(), "user-boss", req)
	require.NoError(t, err)
	assert.Equal(t, "user-boss", d.DelegatorProfileID)
	assert.Equal(t, 1, f.db.calls)
	require.Len(t, f.delegations.created, 1)
	require.Len(t, f.history.appended, 1)
	assert.Equal(t, models.EntityPermissionDelegation, f.history.appended[0].EntityType)
	assert.Equal(t, []string{"user-delegate"}, f.invalidated.users)
}

func TestDelegationCreateAcceptsRoleDerivedCodes(t *testing.T) {
	f := newDelegationFixture()
	f.users.profiles["user-delegate"] = &models.UserProfile{ID: "user-delegate", IsActive: true}
	f.permissions.byCode = map[string]*models.Permission{
		"report.export": {ID: "perm-report-export", Code: "report.export", IsActive: true},
	}
	f.roles.activeRolesOf = func(userID string) []models.UserRole {
		return []models.UserRole{{ID: "ur-1", UserProfileID: userID, RoleID: "role-analyst", IsActive: true}}
	}
	f.roles.rolePermissions = func(roleIDs []string) []models.RolePermission {
		return []models.RolePermission{{ID: "rp-1", RoleID: "role-analyst", PermissionID: "perm-report-export", IsGranted: true}}
	}

	req := &models.CreateDelegationRequest{
		DelegateProfileID: "user-delegate",
		Permissions:       []string{"report.export"},
		ValidUntil:        time.Now().UTC().Add(24 * time.Hour),
	}
	_, err := f.service.Create(context.Background(), "user-boss", req)
	require.NoError(t, err)
	require.Len(t, f.delegations.created, 1)
}

func TestDelegationCreateRejectsSelfDelegation(t *testing.T) {
	f := newDelegationFixture()
	req := &models.CreateDelegationRequest{
		DelegateProfileID: "user-boss",
		Permissions:       []string{"document.read"},
		ValidUntil:        time.Now().UTC().Add(24 * time.Hour),
	}
	_, err := f.service.Create(context.Background(), "user-boss", req)
	require.Error(t, err)
	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeDelegationInvalidWindow, appErr.Code)
}

func TestDelegationCreateRejectsPastWindow(t *testing.T) {
	f := newDelegationFixture()
	req := &models.CreateDelegationRequest{
		DelegateProfileID: "user-delegate",
		Permissions:       []string{"document.read"},
		ValidUntil:        time.Now().UTC().Add(-time.Hour),
	}
	_, err := f.service.Create(context.Background(), "user-boss", req)
	require.Error(t, err)
	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeDelegationInvalidWindow, appErr.Code)
}

func TestDelegationRevokeRequiresDelegatorOrSuperadmin(t *testing.T) {
	f := newDelegationFixture()
	f.delegations.byID = map[string]*models.PermissionDelegation{
		"del-1": {ID: "del-1", DelegatorProfileID: "user-boss", DelegateProfileID: "user-delegate"},
	}

	err := f.service.Revoke(context.Background(), "del-1", &models.RevokeDelegationRequest{Reason: "cover ended"}, "user-other", false)
	require.Error(t, err)
	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeDelegationForbidden, appErr.Code)

	err = f.service.Revoke(context.Background(), "del-1", &models.RevokeDelegationRequest{Reason: "cover ended"}, "user-other", true)
	require.NoError(t, err)
	require.Len(t, f.delegations.updated, 1)
	assert.True(t, f.delegations.updated[0].IsRevoked)
	assert.Equal(t, []string{"user-delegate"}, f.invalidated.users)
}
