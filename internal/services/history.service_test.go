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

type historyFixture struct {
	db          *txRunnerStub
	history     *historyStoreStub
	grants      *grantStoreStub
	roles       *roleStoreStub
	templates   *templateStoreStub
	delegations *delegationStoreStub
	invalidated *invalidatorStub
	audit       *auditSinkStub
	service     *HistoryService
}

func newHistoryFixture() *historyFixture {
	f := &historyFixture{
		db:          &txRunnerStub{},
		history:     &historyStoreStub{entries: map[string]*models.PermissionChangeHistory{}},
		grants:      &grantStoreStub{},
		roles:       &roleStoreStub{},
		templates:   &templateStoreStub{applications: map[string]*models.TemplateApplication{}},
		delegations: &delegationStoreStub{byID: map[string]*models.PermissionDelegation{}},
		invalidated: &invalidatorStub{},
		audit:       &auditSinkStub{},
	}
	f.service = NewHistoryService(f.db, f.history, f.grants, f.roles, f.templates,
		f.delegations, f.invalidated, f.audit, logger.NewNop())
	return f
}

func TestRollbackRevokeRestoresGrant(t *testing.T) {
	f := newHistoryFixture()
	granted := &models.UserPermission{ID: "up-1", UserProfileID: "user-1", PermissionID: "perm-1", IsGranted: true}
	revoked := &models.UserPermission{ID: "up-1", UserProfileID: "user-1", PermissionID: "perm-1", IsGranted: false, RevokeReason: "cleanup"}
	f.history.entries["h-1"] = &models.PermissionChangeHistory{
		ID:             "h-1",
		EntityType:     models.EntityUserPermission,
		EntityID:       "up-1",
		Operation:      models.OpRevoke,
		PreviousState:  entityState(granted),
		NewState:       entityState(revoked),
		IsRollbackable: true,
	}

	entry, err := f.service.Rollback(context.Background(), "h-1", "admin-1")
	require.NoError(t, err)

	require.Len(t, f.grants.updated, 1)
	assert.True(t, f.grants.updated[0].IsGranted)
	assert.Equal(t, "user-1", f.grants.updated[0].UserProfileID)

	assert.Equal(t, 1, f.db.calls)
	assert.Equal(t, []string{"h-1"}, f.history.rolledBack)
	require.Len(t, f.history.appended, 1)
	assert.Equal(t, models.RollbackOperation(models.OpRevoke), f.history.appended[0].Operation)
	assert.False(t, entry.IsRollbackable)
	require.NotNil(t, entry.RollbackOf)
	assert.Equal(t, "h-1", *entry.RollbackOf)
	assert.Equal(t, []string{"user-1"}, f.invalidated.users)
}

func TestRollbackGrantDeletesCreatedRow(t *testing.T) {
	f := newHistoryFixture()
	created := &models.UserPermission{ID: "up-1", UserProfileID: "user-1", PermissionID: "perm-1", IsGranted: true}
	f.history.entries["h-1"] = &models.PermissionChangeHistory{
		ID:             "h-1",
		EntityType:     models.EntityUserPermission,
		EntityID:       "up-1",
		Operation:      models.OpGrant,
		NewState:       entityState(created),
		IsRollbackable: true,
	}

	_, err := f.service.Rollback(context.Background(), "h-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"up-1"}, f.grants.deleted)
	assert.Empty(t, f.grants.updated)
	assert.Equal(t, []string{"user-1"}, f.invalidated.users)
}

func TestRollbackDelegationCreationRevokesIt(t *testing.T) {
	f := newHistoryFixture()
	f.delegations.byID["del-1"] = &models.PermissionDelegation{
		ID:                 "del-1",
		DelegatorProfileID: "user-boss",
		DelegateProfileID:  "user-delegate",
	}
	f.history.entries["h-1"] = &models.PermissionChangeHistory{
		ID:             "h-1",
		EntityType:     models.EntityPermissionDelegation,
		EntityID:       "del-1",
		Operation:      models.OpGrant,
		NewState:       models.JSONMap{"id": "del-1"},
		IsRollbackable: true,
	}

	_, err := f.service.Rollback(context.Background(), "h-1", "admin-1")
	require.NoError(t, err)
	require.Len(t, f.delegations.updated, 1)
	assert.True(t, f.delegations.updated[0].IsRevoked)
	assert.Equal(t, []string{"user-delegate"}, f.invalidated.users)
}

func TestRollbackRolePermissionRestoresEdge(t *testing.T) {
	f := newHistoryFixture()
	// Undoing a role-permission grant removes the edge; a role-level
	// invalidation follows the commit.
	created := &models.RolePermission{ID: "rp-1", RoleID: "role-editor", PermissionID: "perm-1", IsGranted: true}
	f.history.entries["h-1"] = &models.PermissionChangeHistory{
		ID:             "h-1",
		EntityType:     models.EntityRolePermission,
		EntityID:       "rp-1",
		Operation:      models.OpGrant,
		NewState:       entityState(created),
		IsRollbackable: true,
	}

	_, err := f.service.Rollback(context.Background(), "h-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"role-editor/perm-1"}, f.roles.deletedEdges)
	assert.Equal(t, []string{"role-editor"}, f.invalidated.roles)
	assert.Empty(t, f.invalidated.users)
}

func TestRollbackRefusesNonRollbackableEntry(t *testing.T) {
	f := newHistoryFixture()
	f.history.entries["h-1"] = &models.PermissionChangeHistory{
		ID:             "h-1",
		EntityType:     models.EntityUserPermission,
		EntityID:       "up-1",
		Operation:      models.OpRevoke,
		IsRollbackable: false,
	}

	_, err := f.service.Rollback(context.Background(), "h-1", "admin-1")
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeRollbackNotAllowed))
	assert.Zero(t, f.db.calls)
}

func TestRollbackRefusesRollbackEntries(t *testing.T) {
	f := newHistoryFixture()
	f.history.entries["h-1"] = &models.PermissionChangeHistory{
		ID:             "h-1",
		EntityType:     models.EntityUserPermission,
		EntityID:       "up-1",
		Operation:      models.RollbackOperation(models.OpRevoke),
		IsRollbackable: true,
	}

	_, err := f.service.Rollback(context.Background(), "h-1", "admin-1")
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeRollbackNotAllowed))
}

func TestRollbackRefusesAlreadyRolledBack(t *testing.T) {
	f := newHistoryFixture()
	at := time.Now().UTC()
	f.history.entries["h-1"] = &models.PermissionChangeHistory{
		ID:             "h-1",
		EntityType:     models.EntityUserPermission,
		EntityID:       "up-1",
		Operation:      models.OpRevoke,
		IsRollbackable: true,
		RolledBackAt:   &at,
	}

	_, err := f.service.Rollback(context.Background(), "h-1", "admin-1")
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeRollbackNotAllowed))
}

func TestRollbackWithoutStateFails(t *testing.T) {
	f := newHistoryFixture()
	f.history.entries["h-1"] = &models.PermissionChangeHistory{
		ID:             "h-1",
		EntityType:     models.EntityUserPermission,
		EntityID:       "up-1",
		Operation:      models.OpRevoke,
		IsRollbackable: true,
	}

	_, err := f.service.Rollback(context.Background(), "h-1", "admin-1")
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeRollbackFailed))
	assert.Empty(t, f.history.rolledBack)
}
