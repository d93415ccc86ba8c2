package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/models"
)

func TestRollbackableOperationTable(t *testing.T) {
	cases := []struct {
		entityType string
		operation  string
		want       bool
	}{
		{models.EntityUserPermission, models.OpGrant, true},
		{models.EntityUserPermission, models.OpRevoke, true},
		{models.EntityUserPermission, models.OpUpdate, true},
		{models.EntityRolePermission, models.OpGrant, true},
		{models.EntityRolePermission, models.OpUpdate, true},
		{models.EntityTemplateApplication, models.OpGrant, true},
		{models.EntityTemplateApplication, models.OpRevoke, true},
		{models.EntityTemplateApplication, models.OpUpdate, false},
		{models.EntityPermissionDelegation, models.OpGrant, true},
		{models.EntityPermissionDelegation, models.OpRevoke, true},
		{models.EntityPermission, models.OpCreate, false},
		{models.EntityRole, models.OpDelete, false},
		{models.EntityUserPermission, models.OpInvalidationFailed, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, rollbackableOperation(tc.entityType, tc.operation),
			"%s/%s", tc.entityType, tc.operation)
	}
}

func TestHistoryEntryMarksRollbackability(t *testing.T) {
	h := historyEntry(models.EntityUserPermission, "e1", models.OpGrant, "admin", nil, models.JSONMap{"id": "e1"})
	assert.True(t, h.IsRollbackable)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "admin", h.PerformedBy)
	assert.False(t, h.PerformedAt.IsZero())

	h = historyEntry(models.EntityPermission, "p1", models.OpDelete, "admin", models.JSONMap{"id": "p1"}, nil)
	assert.False(t, h.IsRollbackable)
}

func TestDecodeStateRestoresEntity(t *testing.T) {
	up := &models.UserPermission{ID: "g1", UserProfileID: "u1", PermissionID: "p1", IsGranted: true, Priority: 100}
	state := entityState(up)
	require.NotNil(t, state)

	var restored models.UserPermission
	require.NoError(t, decodeState(state, &restored))
	assert.Equal(t, up.ID, restored.ID)
	assert.Equal(t, up.UserProfileID, restored.UserProfileID)
	assert.True(t, restored.IsGranted)
	assert.Equal(t, 100, restored.Priority)
}

func TestDecodeStateRejectsEmptyState(t *testing.T) {
	var out models.UserPermission
	err := decodeState(nil, &out)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeRollbackFailed))

	err = decodeState(models.JSONMap{}, &out)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeRollbackFailed))
}
