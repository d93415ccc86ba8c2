package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/internal/services/evaluators"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// PolicyService owns typed policies and their assignments. Rules are
// validated by the matching evaluator before anything is persisted.
type PolicyService struct {
	db           postgres.TxRunner
	policies     postgres.PolicyStore
	roles        postgres.RoleStore
	users        postgres.UserStore
	resolver     *PermissionResolver
	registry     *evaluators.Registry
	history      postgres.HistoryStore
	invalidation Invalidator
	audit        AuditSink
	logger       logger.Logger
}

func NewPolicyService(
	db postgres.TxRunner,
	policies postgres.PolicyStore,
	roles postgres.RoleStore,
	users postgres.UserStore,
	resolver *PermissionResolver,
	registry *evaluators.Registry,
	history postgres.HistoryStore,
	invalidation Invalidator,
	audit AuditSink,
	log logger.Logger,
) *PolicyService {
	return &PolicyService{
		db:           db,
		policies:     policies,
		roles:        roles,
		users:        users,
		resolver:     resolver,
		registry:     registry,
		history:      history,
		invalidation: invalidation,
		audit:        audit,
		logger:       log.With("component", "policies"),
	}
}

// Create validates and persists a policy.
func (s *PolicyService) Create(ctx context.Context, req *models.CreatePolicyRequest, actor string) (*models.PermissionPolicy, error) {
	if !req.Type.IsValid() {
		return nil, models.ErrValidationf(models.CodePolicyInvalidRules, "policy type %q is not recognized", req.Type)
	}
	if err := s.registry.ValidateRules(req.Type, req.Rules); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &models.PermissionPolicy{
		ID:               uuid.NewString(),
		Code:             req.Code,
		Name:             req.Name,
		Description:      req.Description,
		Type:             req.Type,
		Rules:            req.Rules,
		Priority:         req.Priority,
		GrantPermissions: req.GrantPermissions,
		DenyPermissions:  req.DenyPermissions,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        actor,
	}

	err := s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.policies.WithTx(tx).Create(ctx, p); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityPolicy, p.ID, models.OpCreate, actor, nil, entityState(p)))
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, models.OpCreate, models.EntityPolicy, p.ID, models.JSONMap{"code": p.Code})
	return p, nil
}

// Get fetches one policy.
func (s *PolicyService) Get(ctx context.Context, id string) (*models.PermissionPolicy, error) {
	p, err := s.policies.GetByID(ctx, id)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodePolicyNotFound, "policy %s not found", id)
		}
		return nil, err
	}
	return p, nil
}

// List returns policies.
func (s *PolicyService) List(ctx context.Context, activeOnly bool, limit, offset int) ([]models.PermissionPolicy, error) {
	return s.policies.List(ctx, activeOnly, limit, offset)
}

// Update mutates a policy. A rules change is re-validated and fans out to
// every affected user.
func (s *PolicyService) Update(ctx context.Context, id string, req *models.UpdatePolicyRequest, actor string) (*models.PermissionPolicy, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := entityState(p)

	semanticChange := false
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Rules != nil {
		if err := s.registry.ValidateRules(p.Type, req.Rules); err != nil {
			return nil, err
		}
		p.Rules = req.Rules
		semanticChange = true
	}
	if req.Priority != nil && *req.Priority != p.Priority {
		p.Priority = *req.Priority
		semanticChange = true
	}
	if req.GrantPermissions != nil {
		p.GrantPermissions = req.GrantPermissions
		semanticChange = true
	}
	if req.DenyPermissions != nil {
		p.DenyPermissions = req.DenyPermissions
		semanticChange = true
	}
	if req.IsActive != nil && *req.IsActive != p.IsActive {
		p.IsActive = *req.IsActive
		semanticChange = true
	}
	p.UpdatedAt = time.Now().UTC()
	p.UpdatedBy = actor

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.policies.WithTx(tx).Update(ctx, p); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityPolicy, p.ID, models.OpUpdate, actor, previous, entityState(p)))
	})
	if err != nil {
		return nil, err
	}

	if semanticChange {
		s.invalidation.PolicyMutated(ctx, p.ID, s.policies, s.users)
	}
	s.recordAudit(ctx, actor, models.OpUpdate, models.EntityPolicy, p.ID, models.JSONMap{"code": p.Code})
	return p, nil
}

// Delete removes a policy and its assignments.
func (s *PolicyService) Delete(ctx context.Context, id, actor string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	// Fan out while the assignments still exist.
	s.invalidation.PolicyMutated(ctx, id, s.policies, s.users)

	err = s.db.Transaction(ctx, mutationTimeout, func(tx *gorm.DB) error {
		if err := s.policies.WithTx(tx).Delete(ctx, id); err != nil {
			return err
		}
		return s.history.WithTx(tx).Append(ctx,
			historyEntry(models.EntityPolicy, id, models.OpDelete, actor, entityState(p), nil))
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, actor, models.OpDelete, models.EntityPolicy, id, models.JSONMap{"code": p.Code})
	return nil
}

// Assign binds a policy to a principal.
func (s *PolicyService) Assign(ctx context.Context, policyID string, req *models.AssignPolicyRequest, actor string) (*models.PolicyAssignment, error) {
	if _, err := s.Get(ctx, policyID); err != nil {
		return nil, err
	}
	if !req.PrincipalType.IsValid() {
		return nil, models.ErrValidationf(models.CodePolicyInvalidRules,
			"principal type %q is not recognized", req.PrincipalType)
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidFrom.Before(*req.ValidUntil) {
		return nil, models.ErrValidationf(models.CodePolicyInvalidRules, "validFrom must precede validUntil")
	}

	a := &models.PolicyAssignment{
		ID:            uuid.NewString(),
		PolicyID:      policyID,
		PrincipalType: req.PrincipalType,
		PrincipalID:   req.PrincipalID,
		Conditions:    req.Conditions,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		AssignedBy:    actor,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.policies.Assign(ctx, a); err != nil {
		return nil, err
	}

	s.invalidation.PolicyMutated(ctx, policyID, s.policies, s.users)
	s.recordAudit(ctx, actor, models.OpCreate, models.EntityPolicyAssignment, a.ID,
		models.JSONMap{"policyId": policyID, "principalType": req.PrincipalType, "principalId": req.PrincipalID})
	return a, nil
}

// Unassign removes one assignment.
func (s *PolicyService) Unassign(ctx context.Context, assignmentID, actor string) error {
	a, err := s.policies.GetAssignment(ctx, assignmentID)
	if err != nil {
		if postgres.IsNotFound(err) {
			return models.ErrNotFoundf(models.CodePolicyNotFound, "policy assignment %s not found", assignmentID)
		}
		return err
	}

	// Fan out before the assignment row disappears.
	s.invalidation.PolicyMutated(ctx, a.PolicyID, s.policies, s.users)

	if err := s.policies.DeleteAssignment(ctx, assignmentID); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, models.OpDelete, models.EntityPolicyAssignment, assignmentID,
		models.JSONMap{"policyId": a.PolicyID})
	return nil
}

// Assignments lists a policy's assignments.
func (s *PolicyService) Assignments(ctx context.Context, policyID string) ([]models.PolicyAssignment, error) {
	if _, err := s.Get(ctx, policyID); err != nil {
		return nil, err
	}
	return s.policies.AssignmentsOfPolicy(ctx, policyID)
}

// Evaluate runs one policy against a context without touching the check
// pipeline. Useful for dry runs from the admin surface.
func (s *PolicyService) Evaluate(ctx context.Context, policyID string, evalCtx *models.EvaluationContext) (*models.PolicyEvaluationResult, error) {
	p, err := s.Get(ctx, policyID)
	if err != nil {
		return nil, err
	}
	return s.registry.Evaluate(p.Type, p.Rules, evalCtx)
}

// EvaluateAll runs every policy applicable to a user, in priority order.
func (s *PolicyService) EvaluateAll(ctx context.Context, userProfileID string, evalCtx *models.EvaluationContext) (map[string]*models.PolicyEvaluationResult, error) {
	now := time.Now().UTC()
	principals, err := s.resolver.principalsOf(ctx, userProfileID, now)
	if err != nil {
		return nil, err
	}
	applicable, err := s.policies.ApplicablePolicies(ctx, principals, now)
	if err != nil {
		return nil, err
	}
	results := make(map[string]*models.PolicyEvaluationResult, len(applicable))
	for i := range applicable {
		res, err := s.registry.Evaluate(applicable[i].Type, applicable[i].Rules, evalCtx)
		if err != nil {
			s.logger.Warn("policy evaluation failed", "policy", applicable[i].Code, "error", err)
			continue
		}
		results[applicable[i].Code] = res
	}
	return results, nil
}

func (s *PolicyService) recordAudit(ctx context.Context, actor, action, entityType, entityID string, payload models.JSONMap) {
	if err := s.audit.Record(ctx, &models.AuditRecord{
		ActorID:    actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	}); err != nil {
		s.logger.Error("audit write failed", "entity", entityID, "error", err)
	}
}
