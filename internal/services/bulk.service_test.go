package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

func TestCheckBulkSize(t *testing.T) {
	assert.NoError(t, checkBulkSize(1, 1))
	assert.NoError(t, checkBulkSize(100, 100))

	err := checkBulkSize(0, 5)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeBatchSizeExceeded))

	err = checkBulkSize(101, 5)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeBatchSizeExceeded))

	err = checkBulkSize(5, 101)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeBatchSizeExceeded))
}

func TestBulkReasonPrefersAppErrorMessage(t *testing.T) {
	appErr := models.ErrConflictf(models.CodePermissionAlreadyExists, "already held")
	assert.Equal(t, "already held", bulkReason(appErr))
	assert.Equal(t, assert.AnError.Error(), bulkReason(assert.AnError))
}

func TestCriticalPermissionCodes(t *testing.T) {
	assert.True(t, models.IsCriticalPermissionCode("system.admin"))
	assert.True(t, models.IsCriticalPermissionCode("permission.grant"))
	assert.True(t, models.IsCriticalPermissionCode("permission.revoke"))
	assert.False(t, models.IsCriticalPermissionCode("document.read"))
}

type bulkFixture struct {
	db          *txRunnerStub
	grants      *grantStoreStub
	permissions *permissionStoreStub
	users       *userStoreStub
	history     *historyStoreStub
	invalidated *invalidatorStub
	audit       *auditSinkStub
	service     *BulkService
}

func newBulkFixture() *bulkFixture {
	f := &bulkFixture{
		db:          &txRunnerStub{},
		grants:      &grantStoreStub{},
		permissions: &permissionStoreStub{byCode: map[string]*models.Permission{}},
		users:       &userStoreStub{profiles: map[string]*models.UserProfile{}},
		history:     &historyStoreStub{},
		invalidated: &invalidatorStub{},
		audit:       &auditSinkStub{},
	}
	f.service = NewBulkService(f.db, f.grants, f.permissions, f.users, f.history,
		f.invalidated, f.audit, logger.NewNop())
	return f
}

func TestBulkGrantPartialFailure(t *testing.T) {
	f := newBulkFixture()
	f.users.profiles["user-1"] = &models.UserProfile{ID: "user-1", IsActive: true}
	f.permissions.byCode["document.read"] = &models.Permission{ID: "perm-doc-read", Code: "document.read", IsActive: true}

	req := &models.BulkGrantRequest{
		TargetUserIDs:   []string{"user-1", "user-missing"},
		PermissionCodes: []string{"document.read", "nope.code"},
	}
	result, err := f.service.Grant(context.Background(), req, "admin-1")
	require.NoError(t, err)

	// The unknown code fails for both targets, the missing user fails for
	// the known code; the one valid pair still lands.
	assert.Equal(t, 3, result.Failed)
	assert.Len(t, result.Errors, 3)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Summary.Created)
	require.Len(t, f.grants.created, 1)
	assert.Equal(t, "user-1", f.grants.created[0].UserProfileID)
	assert.Equal(t, "perm-doc-read", f.grants.created[0].PermissionID)
	assert.Equal(t, []string{"user-1"}, f.invalidated.users)
}

func TestBulkGrantRunsOneTransaction(t *testing.T) {
	f := newBulkFixture()
	f.users.profiles["user-1"] = &models.UserProfile{ID: "user-1", IsActive: true}
	f.users.profiles["user-2"] = &models.UserProfile{ID: "user-2", IsActive: true}
	f.permissions.byCode["document.read"] = &models.Permission{ID: "perm-doc-read", Code: "document.read", IsActive: true}
	f.permissions.byCode["report.export"] = &models.Permission{ID: "perm-report-export", Code: "report.export", IsActive: true}

	req := &models.BulkGrantRequest{
		TargetUserIDs:   []string{"user-1", "user-2"},
		PermissionCodes: []string{"document.read", "report.export"},
	}
	result, err := f.service.Grant(context.Background(), req, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.db.calls)
	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, 4, result.Summary.Created)
	assert.Zero(t, result.Failed)
	assert.Len(t, f.grants.created, 4)
	assert.Len(t, f.history.appended, 4)
	require.Len(t, f.audit.records, 1)
	assert.Equal(t, "bulk_grant", f.audit.records[0].Action)
}

func TestBulkGrantDBErrorAbortsWholeBatch(t *testing.T) {
	f := newBulkFixture()
	f.db.err = assert.AnError
	f.users.profiles["user-1"] = &models.UserProfile{ID: "user-1", IsActive: true}
	f.permissions.byCode["document.read"] = &models.Permission{ID: "perm-doc-read", Code: "document.read", IsActive: true}

	req := &models.BulkGrantRequest{
		TargetUserIDs:   []string{"user-1"},
		PermissionCodes: []string{"document.read"},
	}
	_, err := f.service.Grant(context.Background(), req, "admin-1")
	require.Error(t, err)
	assert.Empty(t, f.invalidated.users)
	assert.Empty(t, f.audit.records)
}

func TestBulkGrantSkipsAlreadyGranted(t *testing.T) {
	f := newBulkFixture()
	f.users.profiles["user-1"] = &models.UserProfile{ID: "user-1", IsActive: true}
	f.permissions.byCode["document.read"] = &models.Permission{ID: "perm-doc-read", Code: "document.read", IsActive: true}
	f.grants.byUserAndPermission = func(userID, permID string) *models.UserPermission {
		return &models.UserPermission{ID: "up-1", UserProfileID: userID, PermissionID: permID, IsGranted: true}
	}

	req := &models.BulkGrantRequest{
		TargetUserIDs:   []string{"user-1"},
		PermissionCodes: []string{"document.read"},
	}
	result, err := f.service.Grant(context.Background(), req, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Summary.Skipped)
	assert.Zero(t, result.Summary.Created)
	assert.Empty(t, f.grants.created)
	assert.Empty(t, f.grants.updated)
}

func TestBulkGrantReactivatesRevokedRow(t *testing.T) {
	f := newBulkFixture()
	f.users.profiles["user-1"] = &models.UserProfile{ID: "user-1", IsActive: true}
	f.permissions.byCode["document.read"] = &models.Permission{ID: "perm-doc-read", Code: "document.read", IsActive: true}
	f.grants.byUserAndPermission = func(userID, permID string) *models.UserPermission {
		return &models.UserPermission{ID: "up-existing", UserProfileID: userID, PermissionID: permID, IsGranted: false}
	}

	req := &models.BulkGrantRequest{
		TargetUserIDs:   []string{"user-1"},
		PermissionCodes: []string{"document.read"},
	}
	result, err := f.service.Grant(context.Background(), req, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.Created)
	assert.Empty(t, f.grants.created)
	require.Len(t, f.grants.updated, 1)
	assert.Equal(t, "up-existing", f.grants.updated[0].ID)
	assert.True(t, f.grants.updated[0].IsGranted)
	require.Len(t, f.history.appended, 1)
	assert.Equal(t, models.OpUpdate, f.history.appended[0].Operation)
	assert.NotEmpty(t, f.history.appended[0].PreviousState)
}

func TestBulkRevokeCriticalRequiresForce(t *testing.T) {
	f := newBulkFixture()
	f.users.profiles["user-1"] = &models.UserProfile{ID: "user-1", IsActive: true}
	f.permissions.byCode["system.admin"] = &models.Permission{ID: "perm-sys-admin", Code: "system.admin", IsActive: true}
	f.grants.byUserAndPermission = func(userID, permID string) *models.UserPermission {
		return &models.UserPermission{ID: "up-1", UserProfileID: userID, PermissionID: permID, IsGranted: true}
	}

	req := &models.BulkRevokeRequest{
		TargetUserIDs:   []string{"user-1"},
		PermissionCodes: []string{"system.admin"},
		RevokeReason:    "offboarding",
	}
	result, err := f.service.Revoke(context.Background(), req, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, f.grants.updated)

	req.ForceRevoke = true
	result, err = f.service.Revoke(context.Background(), req, "admin-1")
	require.NoError(t, err)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 1, result.Processed)
	require.Len(t, f.grants.updated, 1)
	assert.False(t, f.grants.updated[0].IsGranted)
	assert.Equal(t, "offboarding", f.grants.updated[0].RevokeReason)
	require.Len(t, f.history.appended, 1)
	assert.Equal(t, models.OpRevoke, f.history.appended[0].Operation)
}
