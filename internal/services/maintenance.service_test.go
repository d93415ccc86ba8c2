package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/breaker"
	"github.com/platformbuilds/authz-core/pkg/cache"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

func newMaintenanceFixture(matrix *matrixStoreStub, resolver *PermissionResolver) *MaintenanceService {
	log := logger.NewNop()
	matrixService := NewMatrixService(matrix, resolver, breaker.New(breaker.Settings{Name: "matrix"}), config.MatrixConfig{}, log)
	cacheService := NewPermissionCacheService(cache.NewNoopStore(log), breaker.New(breaker.Settings{Name: "cache"}),
		config.CacheConfig{}, config.WarmupConfig{}, log)
	return NewMaintenanceService(&grantStoreStub{}, &roleStoreStub{}, &policyStoreStub{}, &historyStoreStub{},
		cacheService, matrixService, resolver, &invalidatorStub{}, NewLogNotificationSink(log), log)
}

func TestMaintenanceStartRegistersSchedule(t *testing.T) {
	s := newMaintenanceFixture(&matrixStoreStub{}, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	// Nightly sweep, weekly log purge, hourly matrix and cache refreshes,
	// daily matrix cleanup, daily expiry notices.
	assert.Len(t, s.cron.Entries(), 6)
}

func TestMaintenanceRefreshCachesCoversActiveUsers(t *testing.T) {
	perm := documentReadPermission()
	grants := &grantStoreStub{
		directGrantsOf: func(userID string) []models.UserPermission {
			return []models.UserPermission{{ID: "up-1", UserProfileID: userID, PermissionID: perm.ID, IsGranted: true}}
		},
	}
	perms := &permissionStoreStub{byID: map[string]*models.Permission{perm.ID: perm}}
	resolver := newTestResolver(grants, nil, nil, nil, nil, perms)

	resolved := 0
	matrix := &matrixStoreStub{
		regularActiveUsers: func() []string {
			resolved++
			return []string{"user-1", "user-2"}
		},
	}
	s := newMaintenanceFixture(matrix, resolver)

	require.NoError(t, s.refreshCaches(context.Background()))
	assert.Equal(t, 1, resolved)
}
