package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

func newTestCatalog(t *testing.T) *CatalogSearchService {
	t.Helper()
	svc, err := NewCatalogSearchService(nil, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestCatalogSearchFindsIndexedPermission(t *testing.T) {
	svc := newTestCatalog(t)

	require.NoError(t, svc.IndexPermission(&models.Permission{
		ID:          "p1",
		Code:        "document.read",
		Name:        "Read documents",
		Description: "View shared documents",
		Resource:    "document",
		Action:      models.ActionRead,
	}))
	require.NoError(t, svc.IndexPermission(&models.Permission{
		ID:       "p2",
		Code:     "report.export",
		Name:     "Export reports",
		Resource: "report",
		Action:   models.ActionExport,
	}))

	ids, err := svc.Search(context.Background(), "documents", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)
}

func TestCatalogSearchIndexesFixtureCatalog(t *testing.T) {
	fixtures, err := LoadTestFixtures()
	require.NoError(t, err)
	svc := newTestCatalog(t)

	for _, p := range fixtures.Permissions {
		require.NoError(t, svc.IndexPermission(p.Model()))
	}

	ids, err := svc.Search(context.Background(), "reports", 10)
	require.NoError(t, err)
	assert.Contains(t, ids, "fx-perm-report-export")
}

func TestCatalogSearchRemove(t *testing.T) {
	svc := newTestCatalog(t)

	require.NoError(t, svc.IndexPermission(&models.Permission{
		ID: "p1", Code: "document.read", Name: "Read documents", Resource: "document", Action: models.ActionRead,
	}))
	require.NoError(t, svc.RemovePermission("p1"))

	ids, err := svc.Search(context.Background(), "documents", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCatalogSearchLimitClamp(t *testing.T) {
	svc := newTestCatalog(t)
	ids, err := svc.Search(context.Background(), "anything", -1)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
