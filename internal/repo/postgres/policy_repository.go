package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
)

// PolicyRepository covers permission policies and their assignments.
type PolicyRepository struct {
	db *gorm.DB
}

func NewPolicyRepository(db *gorm.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *PolicyRepository) WithTx(tx *gorm.DB) PolicyStore {
	return &PolicyRepository{db: tx}
}

// Create persists a policy.
func (r *PolicyRepository) Create(ctx context.Context, p *models.PermissionPolicy) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return models.ErrConflictf(models.CodePermissionAlreadyExists,
			"policy code %q already exists", p.Code)
	}
	return queryError(err)
}

// GetByID fetches one policy.
func (r *PolicyRepository) GetByID(ctx context.Context, id string) (*models.PermissionPolicy, error) {
	var p models.PermissionPolicy
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, queryError(err)
	}
	return &p, nil
}

// List returns policies ordered by precedence.
func (r *PolicyRepository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]models.PermissionPolicy, error) {
	q := r.db.WithContext(ctx).Model(&models.PermissionPolicy{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []models.PermissionPolicy
	if err := q.Order("priority, code").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// Update persists policy changes.
func (r *PolicyRepository) Update(ctx context.Context, p *models.PermissionPolicy) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// Delete removes a policy plus its assignments.
func (r *PolicyRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("policy_id = ?", id).Delete(&models.PolicyAssignment{}).Error; err != nil {
			return queryError(err)
		}
		res := tx.Where("id = ?", id).Delete(&models.PermissionPolicy{})
		if res.Error != nil {
			return queryError(res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// --- assignments ---

// Assign persists a policy assignment.
func (r *PolicyRepository) Assign(ctx context.Context, a *models.PolicyAssignment) error {
	err := r.db.WithContext(ctx).Create(a).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return models.ErrConflictf(models.CodePermissionAlreadyExists,
			"policy %s is already assigned to %s %s", a.PolicyID, a.PrincipalType, a.PrincipalID)
	}
	return queryError(err)
}

// GetAssignment fetches one assignment.
func (r *PolicyRepository) GetAssignment(ctx context.Context, id string) (*models.PolicyAssignment, error) {
	var a models.PolicyAssignment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, queryError(err)
	}
	return &a, nil
}

// DeleteAssignment removes one assignment.
func (r *PolicyRepository) DeleteAssignment(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.PolicyAssignment{})
	if res.Error != nil {
		return queryError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AssignmentsOfPolicy lists assignments of one policy.
func (r *PolicyRepository) AssignmentsOfPolicy(ctx context.Context, policyID string) ([]models.PolicyAssignment, error) {
	var out []models.PolicyAssignment
	if err := r.db.WithContext(ctx).Where("policy_id = ?", policyID).Find(&out).Error; err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// PrincipalRef addresses one principal an assignment may target.
type PrincipalRef struct {
	Type models.PrincipalType
	ID   string
}

// ApplicablePolicies returns the distinct active policies assigned to any
// of the given principals with a window covering now, ordered by ascending
// priority (lower value wins first).
func (r *PolicyRepository) ApplicablePolicies(ctx context.Context, principals []PrincipalRef, now time.Time) ([]models.PermissionPolicy, error) {
	if len(principals) == 0 {
		return nil, nil
	}

	q := r.db.WithContext(ctx).Model(&models.PolicyAssignment{})
	cond := r.db.Session(&gorm.Session{NewDB: true})
	for _, p := range principals {
		cond = cond.Or("principal_type = ? AND principal_id = ?", p.Type, p.ID)
	}
	q = q.Where(cond).
		Where("(valid_from IS NULL OR valid_from <= ?) AND (valid_until IS NULL OR valid_until > ?)", now, now)

	var policyIDs []string
	if err := q.Distinct().Pluck("policy_id", &policyIDs).Error; err != nil {
		return nil, queryError(err)
	}
	if len(policyIDs) == 0 {
		return nil, nil
	}

	var out []models.PermissionPolicy
	err := r.db.WithContext(ctx).
		Where("id IN ? AND is_active = ?", policyIDs, true).
		Order("priority, code").
		Find(&out).Error
	if err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// DeleteExpiredAssignments removes assignments whose window has closed.
// Returns the number of rows removed.
func (r *PolicyRepository) DeleteExpiredAssignments(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("valid_until IS NOT NULL AND valid_until < ?", now).
		Delete(&models.PolicyAssignment{})
	if res.Error != nil {
		return 0, queryError(res.Error)
	}
	return res.RowsAffected, nil
}

// UsersAffectedByPolicy resolves the user IDs a policy's assignments reach:
// direct users, role holders, department members, position holders.
func (r *PolicyRepository) UsersAffectedByPolicy(ctx context.Context, policyID string, roles RoleStore, users UserStore) ([]string, error) {
	assignments, err := r.AssignmentsOfPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []string
	add := func(ids []string) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}

	for _, a := range assignments {
		switch a.PrincipalType {
		case models.PrincipalUser:
			add([]string{a.PrincipalID})
		case models.PrincipalRole:
			holders, err := roles.ActiveHoldersOf(ctx, []string{a.PrincipalID})
			if err != nil {
				return nil, err
			}
			add(holders)
		case models.PrincipalDepartment:
			members, err := users.UsersInDepartment(ctx, a.PrincipalID)
			if err != nil {
				return nil, err
			}
			add(members)
		case models.PrincipalPosition:
			holders, err := users.UsersInPosition(ctx, a.PrincipalID)
			if err != nil {
				return nil, err
			}
			add(holders)
		}
	}
	return out, nil
}
