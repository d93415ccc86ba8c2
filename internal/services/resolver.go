package services

import (
	"context"
	"sort"
	"time"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/internal/services/evaluators"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// Decision is one resolved answer with its provenance.
type Decision struct {
	Allowed   bool
	GrantedBy []string
	Source    string
	Reason    string
	// Priority is the matrix layer priority: direct=100, role=50, none=0.
	Priority int
}

// PermissionResolver computes effective permissions from the relational
// store. The check engine runs it for cache/matrix misses; the matrix
// service runs it to recompute whole users. Layer order and tie-breaks:
//
//  1. direct layer: highest priority row wins, ties broken by newest;
//     an explicit deny here beats every grant, instance grants included
//  2. resource layer: instance grants are allow-only and additive; an
//     active one allows once no direct deny stands
//  3. role layer: grants through active roles and their inheritance
//     closure; a role deny blocks the role layer but not a direct allow
//  4. delegation layer: active delegations are allow-only
//  5. policy layer: applicable policies sorted by ascending priority;
//     deny beats allow inside the layer, and grant/deny lists accept
//     exact codes, "resource.*" prefix wildcards, and "*"
type PermissionResolver struct {
	permissions postgres.PermissionStore
	roles       postgres.RoleStore
	grants      postgres.GrantStore
	delegations postgres.DelegationStore
	policies    postgres.PolicyStore
	users       postgres.UserStore
	evaluators  *evaluators.Registry
	logger      logger.Logger
}

func NewPermissionResolver(
	permissions postgres.PermissionStore,
	roles postgres.RoleStore,
	grants postgres.GrantStore,
	delegations postgres.DelegationStore,
	policies postgres.PolicyStore,
	users postgres.UserStore,
	registry *evaluators.Registry,
	log logger.Logger,
) *PermissionResolver {
	return &PermissionResolver{
		permissions: permissions,
		roles:       roles,
		grants:      grants,
		delegations: delegations,
		policies:    policies,
		users:       users,
		evaluators:  registry,
		logger:      log.With("component", "resolver"),
	}
}

// Resolve answers one check coordinate from the database. The permission row
// has already been located by the caller.
func (r *PermissionResolver) Resolve(ctx context.Context, req *models.CheckRequest, perm *models.Permission, now time.Time) (*Decision, error) {
	// Resource layer: instance grants are additive allow-only evidence.
	// They never answer before the direct layer has ruled out an explicit
	// deny.
	resourceGranted := false
	if req.ResourceID != "" {
		rows, err := r.grants.ResourceGrantFor(ctx, req.UserProfileID, perm.ID, req.Resource, req.ResourceID)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if rows[i].IsGranted && rows[i].ActiveAt(now) {
				resourceGranted = true
				break
			}
		}
	}

	// Direct layer.
	direct, err := r.grants.DirectRowsFor(ctx, req.UserProfileID, perm.ID)
	if err != nil {
		return nil, err
	}
	for i := range direct {
		if !direct[i].ActiveAt(now) {
			continue
		}
		// Rows come ordered by priority DESC, created_at DESC: the first
		// active row is the winner.
		if !direct[i].IsGranted {
			return &Decision{
				Allowed: false,
				Source:  models.SourceDirect,
				Reason:  "explicit user-level deny",
			}, nil
		}
		sources := []string{models.SourceDirect}
		if resourceGranted {
			sources = append(sources, models.SourceResource)
		}
		return &Decision{
			Allowed:   true,
			GrantedBy: sources,
			Source:    models.SourceDirect,
			Reason:    "direct user permission",
			Priority:  models.MatrixPriorityDirect,
		}, nil
	}

	if resourceGranted {
		return &Decision{
			Allowed:   true,
			GrantedBy: []string{models.SourceResource},
			Source:    models.SourceResource,
			Reason:    "resource-specific grant",
			Priority:  models.MatrixPriorityDirect,
		}, nil
	}

	// Role layer.
	roleDecision, err := r.resolveRoleLayer(ctx, req.UserProfileID, perm.ID, now)
	if err != nil {
		return nil, err
	}
	if roleDecision != nil {
		return roleDecision, nil
	}

	// Delegation layer: allow-only.
	delegs, err := r.delegations.ActiveDelegationsTo(ctx, req.UserProfileID, now)
	if err != nil {
		return nil, err
	}
	for i := range delegs {
		if delegs[i].Permissions.Contains(perm.Code) {
			return &Decision{
				Allowed:   true,
				GrantedBy: []string{models.DelegationSource(delegs[i].DelegatorProfileID)},
				Source:    models.SourceDatabase,
				Reason:    "delegated permission",
			}, nil
		}
	}

	// Policy layer.
	policyDecision, err := r.resolvePolicyLayer(ctx, req, perm, now)
	if err != nil {
		return nil, err
	}
	if policyDecision != nil {
		return policyDecision, nil
	}

	return &Decision{
		Allowed: false,
		Source:  models.SourceDatabase,
		Reason:  "no grant found",
	}, nil
}

// resolveRoleLayer walks the user's active roles plus their inheritance
// closures. Returns nil when the role layer has nothing to say.
func (r *PermissionResolver) resolveRoleLayer(ctx context.Context, userProfileID, permissionID string, now time.Time) (*Decision, error) {
	assignments, err := r.roles.ActiveRolesOf(ctx, userProfileID)
	if err != nil {
		return nil, err
	}

	roleIDs := make([]string, 0, len(assignments))
	seen := map[string]bool{}
	for i := range assignments {
		if !assignments[i].ActiveAt(now) {
			continue
		}
		closure, err := r.roles.InheritanceClosure(ctx, assignments[i].RoleID)
		if err != nil {
			return nil, err
		}
		for _, id := range closure {
			if !seen[id] {
				seen[id] = true
				roleIDs = append(roleIDs, id)
			}
		}
	}
	if len(roleIDs) == 0 {
		return nil, nil
	}

	edges, err := r.roles.RolePermissions(ctx, roleIDs)
	if err != nil {
		return nil, err
	}

	var grantingRoles []string
	denied := false
	for i := range edges {
		if edges[i].PermissionID != permissionID || !edges[i].ActiveAt(now) {
			continue
		}
		if edges[i].IsGranted {
			grantingRoles = append(grantingRoles, edges[i].RoleID)
		} else {
			denied = true
		}
	}

	if denied {
		return &Decision{
			Allowed: false,
			Source:  models.SourceDatabase,
			Reason:  "role-level deny",
		}, nil
	}
	if len(grantingRoles) == 0 {
		return nil, nil
	}

	sources := make([]string, 0, len(grantingRoles))
	for _, roleID := range grantingRoles {
		role, err := r.roles.GetByID(ctx, roleID)
		if err != nil {
			if postgres.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		sources = append(sources, models.RoleSource(role.Name))
	}
	sort.Strings(sources)
	return &Decision{
		Allowed:   true,
		GrantedBy: sources,
		Source:    models.SourceDatabase,
		Reason:    "granted through role",
		Priority:  models.MatrixPriorityRole,
	}, nil
}

// resolvePolicyLayer evaluates applicable policies in ascending priority
// order. Returns nil when no applicable policy mentions the permission.
func (r *PermissionResolver) resolvePolicyLayer(ctx context.Context, req *models.CheckRequest, perm *models.Permission, now time.Time) (*Decision, error) {
	principals, err := r.principalsOf(ctx, req.UserProfileID, now)
	if err != nil {
		return nil, err
	}
	policies, err := r.policies.ApplicablePolicies(ctx, principals, now)
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, nil
	}

	evalCtx := req.Context
	if evalCtx == nil {
		evalCtx = &models.EvaluationContext{}
	}
	if evalCtx.Timestamp.IsZero() {
		evalCtx.Timestamp = now
	}

	for i := range policies {
		p := &policies[i]
		if !p.GrantPermissions.MatchesPermission(perm.Code) && !p.DenyPermissions.MatchesPermission(perm.Code) {
			continue
		}
		result, err := r.evaluators.Evaluate(p.Type, p.Rules, evalCtx)
		if err != nil {
			r.logger.Warn("policy evaluation failed", "policy", p.Code, "error", err)
			continue
		}
		if !result.IsApplicable {
			continue
		}
		// Within one policy, deny beats allow. Policies are ordered by
		// ascending priority, so the first applicable match wins the layer.
		if p.DenyPermissions.MatchesPermission(perm.Code) {
			return &Decision{
				Allowed: false,
				Source:  models.SourceDatabase,
				Reason:  "denied by policy " + p.Code,
			}, nil
		}
		return &Decision{
			Allowed:   true,
			GrantedBy: []string{models.PolicySource(p.Code)},
			Source:    models.SourceDatabase,
			Reason:    "granted by policy " + p.Code,
		}, nil
	}
	return nil, nil
}

// principalsOf enumerates the principal coordinates a policy assignment may
// target for this user.
func (r *PermissionResolver) principalsOf(ctx context.Context, userProfileID string, now time.Time) ([]postgres.PrincipalRef, error) {
	principals := []postgres.PrincipalRef{{Type: models.PrincipalUser, ID: userProfileID}}

	assignments, err := r.roles.ActiveRolesOf(ctx, userProfileID)
	if err != nil {
		return nil, err
	}
	for i := range assignments {
		if assignments[i].ActiveAt(now) {
			principals = append(principals, postgres.PrincipalRef{Type: models.PrincipalRole, ID: assignments[i].RoleID})
		}
	}

	profile, err := r.users.GetByID(ctx, userProfileID)
	if err != nil {
		if postgres.IsNotFound(err) {
			return principals, nil
		}
		return nil, err
	}
	if profile.DepartmentID != nil {
		principals = append(principals, postgres.PrincipalRef{Type: models.PrincipalDepartment, ID: *profile.DepartmentID})
	}
	if profile.PositionID != nil {
		principals = append(principals, postgres.PrincipalRef{Type: models.PrincipalPosition, ID: *profile.PositionID})
	}
	return principals, nil
}

// EffectiveEntries computes the user's full direct+role effective permission
// set for matrix recomputation. Policy and delegation layers are contextual
// and stay out of the matrix.
func (r *PermissionResolver) EffectiveEntries(ctx context.Context, userProfileID string, now time.Time) (map[string]*Decision, error) {
	out := map[string]*Decision{}

	// Role layer first so direct rows can override.
	assignments, err := r.roles.ActiveRolesOf(ctx, userProfileID)
	if err != nil {
		return nil, err
	}
	roleIDs := make([]string, 0, len(assignments))
	seen := map[string]bool{}
	roleNames := map[string]string{}
	for i := range assignments {
		if !assignments[i].ActiveAt(now) {
			continue
		}
		closure, err := r.roles.InheritanceClosure(ctx, assignments[i].RoleID)
		if err != nil {
			return nil, err
		}
		for _, id := range closure {
			if !seen[id] {
				seen[id] = true
				roleIDs = append(roleIDs, id)
			}
		}
	}

	edges, err := r.roles.RolePermissions(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	permIDs := map[string]bool{}
	for i := range edges {
		if edges[i].ActiveAt(now) {
			permIDs[edges[i].PermissionID] = true
		}
	}

	direct, err := r.grants.DirectGrantsOf(ctx, userProfileID)
	if err != nil {
		return nil, err
	}
	for i := range direct {
		if direct[i].ActiveAt(now) {
			permIDs[direct[i].PermissionID] = true
		}
	}
	if len(permIDs) == 0 {
		return out, nil
	}

	permsByID, err := r.loadPermissions(ctx, permIDs)
	if err != nil {
		return nil, err
	}

	// Role contributions.
	for i := range edges {
		e := &edges[i]
		if !e.ActiveAt(now) {
			continue
		}
		perm, ok := permsByID[e.PermissionID]
		if !ok {
			continue
		}
		key := perm.Key()
		d := out[key]
		if d == nil {
			d = &Decision{Source: models.SourceDatabase}
			out[key] = d
		}
		if !e.IsGranted {
			d.Allowed = false
			d.Reason = "role-level deny"
			d.GrantedBy = nil
			continue
		}
		if d.Reason == "role-level deny" {
			continue
		}
		d.Allowed = true
		d.Priority = models.MatrixPriorityRole
		name := e.RoleID
		if roleName, ok := roleNames[e.RoleID]; ok {
			name = roleName
		} else if role, err := r.roles.GetByID(ctx, e.RoleID); err == nil {
			name = role.Name
			roleNames[e.RoleID] = name
		}
		d.GrantedBy = appendUnique(d.GrantedBy, models.RoleSource(name))
		d.Reason = "granted through role"
	}

	// Direct contributions override role answers. DirectGrantsOf orders by
	// priority DESC then created_at DESC; the first active row per
	// permission wins.
	decided := map[string]bool{}
	for i := range direct {
		g := &direct[i]
		if !g.ActiveAt(now) || decided[g.PermissionID] {
			continue
		}
		decided[g.PermissionID] = true
		perm, ok := permsByID[g.PermissionID]
		if !ok {
			continue
		}
		key := perm.Key()
		if g.IsGranted {
			out[key] = &Decision{
				Allowed:   true,
				GrantedBy: []string{models.SourceDirect},
				Source:    models.SourceDatabase,
				Reason:    "direct user permission",
				Priority:  models.MatrixPriorityDirect,
			}
		} else {
			out[key] = &Decision{
				Allowed: false,
				Source:  models.SourceDatabase,
				Reason:  "explicit user-level deny",
			}
		}
	}

	return out, nil
}

func (r *PermissionResolver) loadPermissions(ctx context.Context, ids map[string]bool) (map[string]*models.Permission, error) {
	out := make(map[string]*models.Permission, len(ids))
	for id := range ids {
		perm, err := r.permissions.GetByID(ctx, id)
		if err != nil {
			if postgres.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if perm.IsActive {
			out[id] = perm
		}
	}
	return out, nil
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
