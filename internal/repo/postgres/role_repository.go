package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/utils"
)

// RoleRepository covers roles, the inheritance DAG, role-permission edges,
// and user-role assignments.
type RoleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *RoleRepository) WithTx(tx *gorm.DB) RoleStore {
	return &RoleRepository{db: tx}
}

// Create persists a role.
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	err := r.db.WithContext(ctx).Create(role).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return models.ErrConflictf(models.CodeRoleAlreadyExists,
			"role code %q already exists", role.Code)
	}
	return queryError(err)
}

// GetByID fetches one role.
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*models.Role, error) {
	var role models.Role
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&role).Error; err != nil {
		return nil, queryError(err)
	}
	return &role, nil
}

// GetByCode fetches one role by code.
func (r *RoleRepository) GetByCode(ctx context.Context, code string) (*models.Role, error) {
	var role models.Role
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&role).Error; err != nil {
		return nil, queryError(err)
	}
	return &role, nil
}

// List returns roles matching the filter.
func (r *RoleRepository) List(ctx context.Context, f models.RoleFilter) ([]models.Role, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Role{})
	if f.IsActive != nil {
		q = q.Where("is_active = ?", *f.IsActive)
	}
	if f.Search != "" {
		needle := "%" + utils.SanitizeSearchInput(f.Search) + "%"
		q = q.Where("code ILIKE ? OR name ILIKE ?", needle, needle)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, queryError(err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []models.Role
	if err := q.Order("hierarchy_level, code").Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, 0, queryError(err)
	}
	return out, total, nil
}

// Update persists role changes.
func (r *RoleRepository) Update(ctx context.Context, role *models.Role) error {
	if err := r.db.WithContext(ctx).Save(role).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// Delete removes a role plus its edges. Callers must have verified no
// active assignments reference it.
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ? OR parent_role_id = ?", id, id).
			Delete(&models.RoleParent{}).Error; err != nil {
			return queryError(err)
		}
		if err := tx.Where("role_id = ?", id).Delete(&models.RolePermission{}).Error; err != nil {
			return queryError(err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Role{})
		if res.Error != nil {
			return queryError(res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// CountActiveAssignments reports how many active user-role rows reference
// the role. Deletion is rejected while this is non-zero.
func (r *RoleRepository) CountActiveAssignments(ctx context.Context, roleID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.UserRole{}).
		Where("role_id = ? AND is_active = ?", roleID, true).
		Count(&n).Error
	if err != nil {
		return 0, queryError(err)
	}
	return n, nil
}

// --- inheritance DAG ---

// AddParent inserts one inheritance edge.
func (r *RoleRepository) AddParent(ctx context.Context, edge *models.RoleParent) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(edge).Error
	if err != nil {
		return queryError(err)
	}
	return nil
}

// Parents returns the direct parent edges of a role.
func (r *RoleRepository) Parents(ctx context.Context, roleID string) ([]models.RoleParent, error) {
	var out []models.RoleParent
	if err := r.db.WithContext(ctx).Where("role_id = ?", roleID).Find(&out).Error; err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// WouldCreateCycle walks ancestor edges from candidateParent looking for
// roleID. Runs inside the same transaction as the mutation so the check and
// the insert see one snapshot.
func (r *RoleRepository) WouldCreateCycle(ctx context.Context, roleID, candidateParentID string) (bool, error) {
	if roleID == candidateParentID {
		return true, nil
	}
	visited := map[string]bool{candidateParentID: true}
	frontier := []string{candidateParentID}

	for len(frontier) > 0 {
		var edges []models.RoleParent
		if err := r.db.WithContext(ctx).Where("role_id IN ?", frontier).Find(&edges).Error; err != nil {
			return false, queryError(err)
		}
		frontier = frontier[:0]
		for _, e := range edges {
			if e.ParentRoleID == roleID {
				return true, nil
			}
			if !visited[e.ParentRoleID] {
				visited[e.ParentRoleID] = true
				frontier = append(frontier, e.ParentRoleID)
			}
		}
	}
	return false, nil
}

// InheritanceClosure returns roleID plus every ancestor reachable through
// inherit_permissions=true edges.
func (r *RoleRepository) InheritanceClosure(ctx context.Context, roleID string) ([]string, error) {
	closure := []string{roleID}
	visited := map[string]bool{roleID: true}
	frontier := []string{roleID}

	for len(frontier) > 0 {
		var edges []models.RoleParent
		err := r.db.WithContext(ctx).
			Where("role_id IN ? AND inherit_permissions = ?", frontier, true).
			Find(&edges).Error
		if err != nil {
			return nil, queryError(err)
		}
		frontier = frontier[:0]
		for _, e := range edges {
			if !visited[e.ParentRoleID] {
				visited[e.ParentRoleID] = true
				closure = append(closure, e.ParentRoleID)
				frontier = append(frontier, e.ParentRoleID)
			}
		}
	}
	return closure, nil
}

// --- role-permission edges ---

// UpsertRolePermission creates or updates the (role, permission) edge.
func (r *RoleRepository) UpsertRolePermission(ctx context.Context, rp *models.RolePermission) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "role_id"}, {Name: "permission_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_granted":   rp.IsGranted,
			"conditions":   rp.Conditions,
			"valid_from":   rp.ValidFrom,
			"valid_until":  rp.ValidUntil,
			"grant_reason": rp.GrantReason,
			"granted_by":   rp.GrantedBy,
			"updated_at":   time.Now().UTC(),
		}),
	}).Create(rp).Error
	if err != nil {
		return queryError(err)
	}
	return nil
}

// GetRolePermission fetches one edge.
func (r *RoleRepository) GetRolePermission(ctx context.Context, roleID, permissionID string) (*models.RolePermission, error) {
	var rp models.RolePermission
	err := r.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		First(&rp).Error
	if err != nil {
		return nil, queryError(err)
	}
	return &rp, nil
}

// DeleteRolePermission removes one edge.
func (r *RoleRepository) DeleteRolePermission(ctx context.Context, roleID, permissionID string) error {
	res := r.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&models.RolePermission{})
	if res.Error != nil {
		return queryError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RolePermissions returns the edges of the given roles.
func (r *RoleRepository) RolePermissions(ctx context.Context, roleIDs []string) ([]models.RolePermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	var out []models.RolePermission
	if err := r.db.WithContext(ctx).Where("role_id IN ?", roleIDs).Find(&out).Error; err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// RolesCarryingPermission returns IDs of roles with an edge to the
// permission. Invalidation fan-out uses it to find affected holders.
func (r *RoleRepository) RolesCarryingPermission(ctx context.Context, permissionID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.RolePermission{}).
		Where("permission_id = ?", permissionID).
		Pluck("role_id", &ids).Error
	if err != nil {
		return nil, queryError(err)
	}
	return ids, nil
}

// --- user-role assignments ---

// AssignRole creates an assignment, reactivating an inactive row in place.
func (r *RoleRepository) AssignRole(ctx context.Context, ur *models.UserRole) error {
	var existing models.UserRole
	err := r.db.WithContext(ctx).
		Where("user_profile_id = ? AND role_id = ?", ur.UserProfileID, ur.RoleID).
		First(&existing).Error
	switch {
	case err == nil:
		if existing.IsActive {
			return models.ErrConflictf(models.CodeRoleAlreadyExists,
				"user %s already holds role %s", ur.UserProfileID, ur.RoleID)
		}
		existing.IsActive = true
		existing.ValidFrom = ur.ValidFrom
		existing.ValidUntil = ur.ValidUntil
		existing.AssignedBy = ur.AssignedBy
		existing.UpdatedAt = time.Now().UTC()
		*ur = existing
		if err := r.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return queryError(err)
		}
		return nil
	case IsNotFound(queryError(err)):
		if err := r.db.WithContext(ctx).Create(ur).Error; err != nil {
			return queryError(err)
		}
		return nil
	default:
		return queryError(err)
	}
}

// GetUserRole fetches one assignment by ID.
func (r *RoleRepository) GetUserRole(ctx context.Context, id string) (*models.UserRole, error) {
	var ur models.UserRole
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ur).Error; err != nil {
		return nil, queryError(err)
	}
	return &ur, nil
}

// DeactivateUserRole flips an assignment inactive.
func (r *RoleRepository) DeactivateUserRole(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.UserRole{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return queryError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ActiveRolesOf returns the active assignments of one user.
func (r *RoleRepository) ActiveRolesOf(ctx context.Context, userProfileID string) ([]models.UserRole, error) {
	var out []models.UserRole
	err := r.db.WithContext(ctx).
		Where("user_profile_id = ? AND is_active = ?", userProfileID, true).
		Find(&out).Error
	if err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// ActiveHoldersOf returns user IDs actively holding any of the roles.
func (r *RoleRepository) ActiveHoldersOf(ctx context.Context, roleIDs []string) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.UserRole{}).
		Where("role_id IN ? AND is_active = ?", roleIDs, true).
		Distinct().
		Pluck("user_profile_id", &ids).Error
	if err != nil {
		return nil, queryError(err)
	}
	return ids, nil
}

// ExpireAssignments flips is_active=false on assignments whose window has
// closed. Returns affected user IDs for invalidation.
func (r *RoleRepository) ExpireAssignments(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.UserRole{}).
		Where("is_active = ? AND valid_until IS NOT NULL AND valid_until < ?", true, now).
		Distinct().
		Pluck("user_profile_id", &ids).Error
	if err != nil {
		return nil, queryError(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err = r.db.WithContext(ctx).Model(&models.UserRole{}).
		Where("is_active = ? AND valid_until IS NOT NULL AND valid_until < ?", true, now).
		Updates(map[string]interface{}{"is_active": false, "updated_at": now}).Error
	if err != nil {
		return nil, queryError(err)
	}
	return ids, nil
}
