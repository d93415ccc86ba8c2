package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/internal/services/evaluators"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

func newTestResolver(grants *grantStoreStub, roles *roleStoreStub, delegations *delegationStoreStub, policies *policyStoreStub, users *userStoreStub, perms *permissionStoreStub) *PermissionResolver {
	if grants == nil {
		grants = &grantStoreStub{}
	}
	if roles == nil {
		roles = &roleStoreStub{}
	}
	if delegations == nil {
		delegations = &delegationStoreStub{}
	}
	if policies == nil {
		policies = &policyStoreStub{}
	}
	if users == nil {
		users = &userStoreStub{}
	}
	if perms == nil {
		perms = &permissionStoreStub{}
	}
	return NewPermissionResolver(perms, roles, grants, delegations, policies, users, evaluators.NewRegistry(), logger.NewNop())
}

func documentReadPermission() *models.Permission {
	return &models.Permission{
		ID:       "perm-doc-read",
		Code:     "document.read",
		Resource: "document",
		Action:   models.ActionRead,
		Scope:    models.ScopeOwn,
		IsActive: true,
	}
}

func TestResolveDirectDenyBeatsResourceGrant(t *testing.T) {
	perm := documentReadPermission()
	grants := &grantStoreStub{
		resourceGrantFor: func(userID, permID, resourceType, resourceID string) []models.ResourcePermission {
			return []models.ResourcePermission{{ID: "rp-1", UserProfileID: userID, PermissionID: permID, IsGranted: true}}
		},
		directRowsFor: func(userID, permID string) []models.UserPermission {
			return []models.UserPermission{{ID: "up-1", UserProfileID: userID, PermissionID: permID, IsGranted: false}}
		},
	}
	resolver := newTestResolver(grants, nil, nil, nil, nil, nil)

	req := &models.CheckRequest{
		UserProfileID: "user-1",
		Resource:      "document",
		Action:        models.ActionRead,
		Scope:         models.ScopeOwn,
		ResourceID:    "doc-7",
	}
	d, err := resolver.Resolve(context.Background(), req, perm, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.SourceDirect, d.Source)
	assert.Equal(t, "explicit user-level deny", d.Reason)
}

func TestResolveResourceGrantAllowsWithoutDirectRow(t *testing.T) {
	perm := documentReadPermission()
	grants := &grantStoreStub{
		resourceGrantFor: func(userID, permID, resourceType, resourceID string) []models.ResourcePermission {
			return []models.ResourcePermission{{ID: "rp-1", UserProfileID: userID, PermissionID: permID, IsGranted: true}}
		},
	}
	resolver := newTestResolver(grants, nil, nil, nil, nil, nil)

	req := &models.CheckRequest{
		UserProfileID: "user-1",
		Resource:      "document",
		Action:        models.ActionRead,
		Scope:         models.ScopeOwn,
		ResourceID:    "doc-7",
	}
	d, err := resolver.Resolve(context.Background(), req, perm, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, models.SourceResource, d.Source)
	assert.Equal(t, []string{models.SourceResource}, d.GrantedBy)
}

func TestResolveDirectAllowMergesResourceSource(t *testing.T) {
	perm := documentReadPermission()
	grants := &grantStoreStub{
		resourceGrantFor: func(userID, permID, resourceType, resourceID string) []models.ResourcePermission {
			return []models.ResourcePermission{{ID: "rp-1", UserProfileID: userID, PermissionID: permID, IsGranted: true}}
		},
		directRowsFor: func(userID, permID string) []models.UserPermission {
			return []models.UserPermission{{ID: "up-1", UserProfileID: userID, PermissionID: permID, IsGranted: true}}
		},
	}
	resolver := newTestResolver(grants, nil, nil, nil, nil, nil)

	req := &models.CheckRequest{
		UserProfileID: "user-1",
		Resource:      "document",
		Action:        models.ActionRead,
		Scope:         models.ScopeOwn,
		ResourceID:    "doc-7",
	}
	d, err := resolver.Resolve(context.Background(), req, perm, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, models.SourceDirect, d.Source)
	assert.Equal(t, []string{models.SourceDirect, models.SourceResource}, d.GrantedBy)
	assert.Equal(t, models.MatrixPriorityDirect, d.Priority)
}

func TestResolveDirectDenyBeatsRoleGrant(t *testing.T) {
	perm := documentReadPermission()
	grants := &grantStoreStub{
		directRowsFor: func(userID, permID string) []models.UserPermission {
			return []models.UserPermission{{ID: "up-1", UserProfileID: userID, PermissionID: permID, IsGranted: false}}
		},
	}
	roles := &roleStoreStub{
		activeRolesOf: func(userID string) []models.UserRole {
			return []models.UserRole{{ID: "ur-1", UserProfileID: userID, RoleID: "role-editor", IsActive: true}}
		},
		rolePermissions: func(roleIDs []string) []models.RolePermission {
			return []models.RolePermission{{ID: "rp-1", RoleID: "role-editor", PermissionID: perm.ID, IsGranted: true}}
		},
		rolesByID: map[string]*models.Role{"role-editor": {ID: "role-editor", Name: "Editor"}},
	}
	resolver := newTestResolver(grants, roles, nil, nil, nil, nil)

	req := &models.CheckRequest{UserProfileID: "user-1", Resource: "document", Action: models.ActionRead, Scope: models.ScopeOwn}
	d, err := resolver.Resolve(context.Background(), req, perm, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "explicit user-level deny", d.Reason)
}

func TestResolveRoleGrantThroughInheritance(t *testing.T) {
	perm := documentReadPermission()
	roles := &roleStoreStub{
		activeRolesOf: func(userID string) []models.UserRole {
			return []models.UserRole{{ID: "ur-1", UserProfileID: userID, RoleID: "role-child", IsActive: true}}
		},
		inheritanceClosure: map[string][]string{"role-child": {"role-child", "role-parent"}},
		rolePermissions: func(roleIDs []string) []models.RolePermission {
			assert.ElementsMatch(t, []string{"role-child", "role-parent"}, roleIDs)
			return []models.RolePermission{{ID: "rp-1", RoleID: "role-parent", PermissionID: perm.ID, IsGranted: true}}
		},
		rolesByID: map[string]*models.Role{"role-parent": {ID: "role-parent", Name: "Staff"}},
	}
	resolver := newTestResolver(nil, roles, nil, nil, nil, nil)

	req := &models.CheckRequest{UserProfileID: "user-1", Resource: "document", Action: models.ActionRead, Scope: models.ScopeOwn}
	d, err := resolver.Resolve(context.Background(), req, perm, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{models.RoleSource("Staff")}, d.GrantedBy)
	assert.Equal(t, models.MatrixPriorityRole, d.Priority)
}

func TestResolveRoleDenyBlocksRoleLayer(t *testing.T) {
	perm := documentReadPermission()
	roles := &roleStoreStub{
		activeRolesOf: func(userID string) []models.UserRole {
			return []models.UserRole{
				{ID: "ur-1", UserProfileID: userID, RoleID: "role-a", IsActive: true},
				{ID: "ur-2", UserProfileID: userID, RoleID: "role-b", IsActive: true},
			}
		},
		rolePermissions: func(roleIDs []string) []models.RolePermission {
			return []models.RolePermission{
				{ID: "rp-1", RoleID: "role-a", PermissionID: perm.ID, IsGranted: true},
				{ID: "rp-2", RoleID: "role-b", PermissionID: perm.ID, IsGranted: false},
			}
		},
	}
	resolver := newTestResolver(nil, roles, nil, nil, nil, nil)

	req := &models.CheckRequest{UserProfileID: "user-1", Resource: "document", Action: models.ActionRead, Scope: models.ScopeOwn}
	d, err := resolver.Resolve(context.Background(), req, perm, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "role-level deny", d.Reason)
}

func TestResolveDelegationAllows(t *testing.T) {
	perm := documentReadPermission()
	delegations := &delegationStoreStub{
		activeDelegationsTo: func(delegateID string) []models.PermissionDelegation {
			return []models.PermissionDelegation{{
				ID:                 "del-1",
				DelegatorProfileID: "user-boss",
				DelegateProfileID:  delegateID,
				Permissions:        models.StringArray{"document.read"},
			}}
		},
	}
	resolver := newTestResolver(nil, nil, delegations, nil, nil, nil)

	req := &models.CheckRequest{UserProfileID: "user-1", Resource: "document", Action: models.ActionRead, Scope: models.ScopeOwn}
	d, err := resolver.Resolve(context.Background(), req, perm, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{models.DelegationSource("user-boss")}, d.GrantedBy)
}

func TestResolvePolicyWildcardGrant(t *testing.T) {
	perm := documentReadPermission()
	policies := &policyStoreStub{
		applicablePolicies: func(principals []postgres.PrincipalRef) []models.PermissionPolicy {
			require.NotEmpty(t, principals)
			assert.Equal(t, models.PrincipalUser, principals[0].Type)
			return []models.PermissionPolicy{{
				ID:               "pol-1",
				Code:             "office-hours",
				Type:             models.PolicyAttributeBased,
				Rules:            models.JSONMap{},
				GrantPermissions: models.StringArray{"document.*"},
				IsActive:         true,
			}}
		},
	}
	resolver := newTestResolver(nil, nil, nil, policies, nil, nil)

	req := &models.CheckRequest{UserProfileID: "user-1", Resource: "document", Action: models.ActionRead, Scope: models.ScopeOwn}
	d, err := resolver.Resolve(context.Background(), req, perm, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{models.PolicySource("office-hours")}, d.GrantedBy)
}

func TestResolvePolicyGlobalWildcardDeny(t *testing.T) {
	perm := documentReadPermission()
	policies := &policyStoreStub{
		applicablePolicies: func(principals []postgres.PrincipalRef) []models.PermissionPolicy {
			return []models.PermissionPolicy{{
				ID:              "pol-1",
				Code:            "lockdown",
				Type:            models.PolicyAttributeBased,
				Rules:           models.JSONMap{},
				DenyPermissions: models.StringArray{"*"},
				IsActive:        true,
			}}
		},
	}
	resolver := newTestResolver(nil, nil, nil, policies, nil, nil)

	req := &models.CheckRequest{UserProfileID: "user-1", Resource: "document", Action: models.ActionRead, Scope: models.ScopeOwn}
	d, err := resolver.Resolve(context.Background(), req, perm, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "denied by policy lockdown", d.Reason)
}

func TestResolvePolicyIgnoresUnrelatedCodes(t *testing.T) {
	perm := documentReadPermission()
	policies := &policyStoreStub{
		applicablePolicies: func(principals []postgres.PrincipalRef) []models.PermissionPolicy {
			return []models.PermissionPolicy{{
				ID:    "pol-1",
				Code:  "reporting-only",
				Type:  models.PolicyAttributeBased,
				Rules: models.JSONMap{},
				// "doc.*" must not cover "document.read": the prefix
				// wildcard binds at the dot.
				GrantPermissions: models.StringArray{"doc.*", "report.export"},
				IsActive:         true,
			}}
		},
	}
	resolver := newTestResolver(nil, nil, nil, policies, nil, nil)

	req := &models.CheckRequest{UserProfileID: "user-1", Resource: "document", Action: models.ActionRead, Scope: models.ScopeOwn}
	d, err := resolver.Resolve(context.Background(), req, perm, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "no grant found", d.Reason)
}

func TestResolveNoGrantDenies(t *testing.T) {
	resolver := newTestResolver(nil, nil, nil, nil, nil, nil)
	req := &models.CheckRequest{UserProfileID: "user-1", Resource: "document", Action: models.ActionRead, Scope: models.ScopeOwn}
	d, err := resolver.Resolve(context.Background(), req, documentReadPermission(), time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "no grant found", d.Reason)
}
