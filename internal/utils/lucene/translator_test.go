package lucene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/models"
)

func TestTranslateEquals(t *testing.T) {
	tr := NewTranslator(HistoryColumns)

	clause, args, err := tr.Translate("entity_type:user_permission")
	require.NoError(t, err)
	assert.Equal(t, "entity_type = ?", clause)
	assert.Equal(t, []interface{}{"user_permission"}, args)
}

func TestTranslateBoolean(t *testing.T) {
	tr := NewTranslator(HistoryColumns)

	clause, args, err := tr.Translate("entity_type:user_permission AND operation:grant")
	require.NoError(t, err)
	assert.Equal(t, "(entity_type = ? AND operation = ?)", clause)
	assert.Equal(t, []interface{}{"user_permission", "grant"}, args)

	clause, _, err = tr.Translate("operation:grant OR operation:revoke")
	require.NoError(t, err)
	assert.Equal(t, "(operation = ? OR operation = ?)", clause)
}

func TestTranslateWildcard(t *testing.T) {
	tr := NewTranslator(HistoryColumns)

	clause, args, err := tr.Translate("performed_by:admin-*")
	require.NoError(t, err)
	assert.Equal(t, "performed_by LIKE ?", clause)
	assert.Equal(t, []interface{}{"admin-%"}, args)
}

func TestTranslateRange(t *testing.T) {
	tr := NewTranslator(HistoryColumns)

	clause, args, err := tr.Translate("performed_at:[2026-01-01 TO 2026-02-01]")
	require.NoError(t, err)
	assert.Equal(t, "performed_at BETWEEN ? AND ?", clause)
	assert.Len(t, args, 2)
}

func TestTranslateRejectsUnknownField(t *testing.T) {
	tr := NewTranslator(HistoryColumns)

	_, _, err := tr.Translate("password:hunter2")
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeInvalidQuery))
}

func TestTranslateRejectsFuzzy(t *testing.T) {
	tr := NewTranslator(CheckLogColumns)

	_, _, err := tr.Translate("resource:documnt~")
	assert.Error(t, err)
}

func TestTranslateEmpty(t *testing.T) {
	tr := NewTranslator(HistoryColumns)

	clause, args, err := tr.Translate("  ")
	require.NoError(t, err)
	assert.Empty(t, clause)
	assert.Nil(t, args)
}

func TestWildcardToLikeEscaping(t *testing.T) {
	assert.Equal(t, "admin\\_%", wildcardToLike("admin_*"))
	assert.Equal(t, "a_c", wildcardToLike("a?c"))
}
