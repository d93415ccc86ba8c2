package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/breaker"
	"github.com/platformbuilds/authz-core/pkg/cache"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

func TestSplitPermissionKey(t *testing.T) {
	resource, action, scope := splitPermissionKey("document:READ:OWN")
	assert.Equal(t, "document", resource)
	assert.Equal(t, models.ActionRead, action)
	assert.Equal(t, models.ScopeOwn, scope)

	resource, action, scope = splitPermissionKey("user:UPDATE:all")
	assert.Equal(t, "user", resource)
	assert.Equal(t, models.ActionUpdate, action)
	assert.Equal(t, models.Scope(""), scope)
}

func TestSplitPermissionKeyRoundTrip(t *testing.T) {
	key := models.PermissionKey("report", models.ActionExport, models.ScopeDepartment)
	resource, action, scope := splitPermissionKey(key)
	assert.Equal(t, key, models.PermissionKey(resource, action, scope))

	unscoped := models.PermissionKey("report", models.ActionExport, "")
	resource, action, scope = splitPermissionKey(unscoped)
	assert.Equal(t, unscoped, models.PermissionKey(resource, action, scope))
}

func TestCheckAnswersKeyShape(t *testing.T) {
	effective := map[string]*Decision{
		models.PermissionKey("document", models.ActionRead, models.ScopeOwn): {Allowed: true},
		models.PermissionKey("report", models.ActionExport, ""):              {Allowed: false},
	}
	answers := checkAnswers("user-1", effective)
	require.Len(t, answers, 2)
	assert.True(t, answers[CheckKey("user-1", "document", models.ActionRead, models.ScopeOwn, "")])
	assert.False(t, answers[CheckKey("user-1", "report", models.ActionExport, "", "")])
}

func TestCheckAnswersBeforeActivityTracking(t *testing.T) {
	log := logger.NewNop()
	release := make(chan struct{})
	tracked := make(chan struct{})
	matrixStub := &matrixStoreStub{
		validEntry: func(userID, key string) *models.PermissionMatrixEntry {
			return &models.PermissionMatrixEntry{
				ID:            "m-1",
				UserProfileID: userID,
				PermissionKey: key,
				IsAllowed:     true,
				GrantedBy:     models.StringArray{models.SourceDirect},
				Priority:      models.MatrixPriorityDirect,
				ExpiresAt:     time.Now().UTC().Add(time.Hour),
				IsValid:       true,
				ComputedAt:    time.Now().UTC(),
			}
		},
		// The counter write stays blocked until the check has answered; a
		// synchronous implementation would deadlock here.
		recordCheckActivity: func(string) {
			<-release
			close(tracked)
		},
	}
	users := &userStoreStub{profiles: map[string]*models.UserProfile{
		"user-1": {ID: "user-1", IsActive: true},
	}}
	resolver := newTestResolver(nil, nil, nil, nil, users, nil)
	cacheService := NewPermissionCacheService(cache.NewNoopStore(log), breaker.New(breaker.Settings{Name: "cache"}),
		config.CacheConfig{}, config.WarmupConfig{}, log)
	matrixService := NewMatrixService(matrixStub, resolver, breaker.New(breaker.Settings{Name: "matrix"}),
		config.MatrixConfig{}, log)
	svc := NewCheckService(&permissionStoreStub{}, users, cacheService, matrixService, resolver,
		&historyStoreStub{}, breaker.New(breaker.Settings{Name: "db"}), nil, config.CheckConfig{}, log)

	req := &models.CheckRequest{UserProfileID: "user-1", Resource: "document", Action: models.ActionRead, Scope: models.ScopeOwn}
	result, err := svc.Check(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsAllowed)
	assert.Equal(t, models.SourceMatrix, result.Source)

	close(release)
	select {
	case <-tracked:
	case <-time.After(2 * time.Second):
		t.Fatal("activity tracking never ran")
	}
}
