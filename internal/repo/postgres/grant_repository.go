package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
)

// GrantRepository covers direct user grants and resource-instance grants.
type GrantRepository struct {
	db *gorm.DB
}

func NewGrantRepository(db *gorm.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *GrantRepository) WithTx(tx *gorm.DB) GrantStore {
	return &GrantRepository{db: tx}
}

// --- direct user grants ---

// Create persists a direct grant.
func (r *GrantRepository) Create(ctx context.Context, up *models.UserPermission) error {
	err := r.db.WithContext(ctx).Create(up).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return models.ErrConflictf(models.CodePermissionAlreadyExists,
			"user %s already has a grant for permission %s", up.UserProfileID, up.PermissionID)
	}
	return queryError(err)
}

// GetByID fetches one direct grant.
func (r *GrantRepository) GetByID(ctx context.Context, id string) (*models.UserPermission, error) {
	var up models.UserPermission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&up).Error; err != nil {
		return nil, queryError(err)
	}
	return &up, nil
}

// GetByUserAndPermission fetches the (user, permission) row regardless of
// its granted state. Used by grant to detect reactivation vs conflict.
func (r *GrantRepository) GetByUserAndPermission(ctx context.Context, userProfileID, permissionID string) (*models.UserPermission, error) {
	var up models.UserPermission
	err := r.db.WithContext(ctx).
		Where("user_profile_id = ? AND permission_id = ?", userProfileID, permissionID).
		First(&up).Error
	if err != nil {
		return nil, queryError(err)
	}
	return &up, nil
}

// Update persists grant changes.
func (r *GrantRepository) Update(ctx context.Context, up *models.UserPermission) error {
	if err := r.db.WithContext(ctx).Save(up).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// Delete removes a direct grant row outright. Rollback of a grant uses
// this; normal revocation flips is_granted instead.
func (r *GrantRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.UserPermission{})
	if res.Error != nil {
		return queryError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DirectGrantsOf returns every direct row of one user (grants and denies).
func (r *GrantRepository) DirectGrantsOf(ctx context.Context, userProfileID string) ([]models.UserPermission, error) {
	var out []models.UserPermission
	err := r.db.WithContext(ctx).
		Where("user_profile_id = ?", userProfileID).
		Order("priority DESC, created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// DirectRowsFor returns the (user, permission) rows ordered so the winning
// row (highest priority, then newest) comes first.
func (r *GrantRepository) DirectRowsFor(ctx context.Context, userProfileID, permissionID string) ([]models.UserPermission, error) {
	var out []models.UserPermission
	err := r.db.WithContext(ctx).
		Where("user_profile_id = ? AND permission_id = ?", userProfileID, permissionID).
		Order("priority DESC, created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// UsersWithDirectGrant returns user IDs holding a direct row for the
// permission. Invalidation fan-out uses it.
func (r *GrantRepository) UsersWithDirectGrant(ctx context.Context, permissionID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.UserPermission{}).
		Where("permission_id = ?", permissionID).
		Distinct().
		Pluck("user_profile_id", &ids).Error
	if err != nil {
		return nil, queryError(err)
	}
	return ids, nil
}

// ExpireGrants flips is_granted=false on direct grants whose window has
// closed. Returns affected user IDs for invalidation.
func (r *GrantRepository) ExpireGrants(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.UserPermission{}).
		Where("is_granted = ? AND valid_until IS NOT NULL AND valid_until < ?", true, now).
		Distinct().
		Pluck("user_profile_id", &ids).Error
	if err != nil {
		return nil, queryError(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err = r.db.WithContext(ctx).Model(&models.UserPermission{}).
		Where("is_granted = ? AND valid_until IS NOT NULL AND valid_until < ?", true, now).
		Updates(map[string]interface{}{
			"is_granted":    false,
			"revoke_reason": "expired",
			"updated_at":    now,
		}).Error
	if err != nil {
		return nil, queryError(err)
	}
	return ids, nil
}

// ExpiringTemporaryGrants returns temporary grants whose validUntil falls
// inside (now, now+window]. The expiring-notice job groups them by user.
func (r *GrantRepository) ExpiringTemporaryGrants(ctx context.Context, now time.Time, window time.Duration) ([]models.UserPermission, error) {
	var out []models.UserPermission
	err := r.db.WithContext(ctx).
		Where("is_granted = ? AND is_temporary = ? AND valid_until IS NOT NULL AND valid_until > ? AND valid_until <= ?",
			true, true, now, now.Add(window)).
		Order("user_profile_id, valid_until").
		Find(&out).Error
	if err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// --- resource-instance grants ---

// CreateResourceGrant persists an instance grant.
func (r *GrantRepository) CreateResourceGrant(ctx context.Context, rp *models.ResourcePermission) error {
	err := r.db.WithContext(ctx).Create(rp).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return models.ErrConflictf(models.CodePermissionAlreadyExists,
			"resource grant already exists for user %s on %s/%s",
			rp.UserProfileID, rp.ResourceType, rp.ResourceID)
	}
	return queryError(err)
}

// GetResourceGrant fetches one instance grant.
func (r *GrantRepository) GetResourceGrant(ctx context.Context, id string) (*models.ResourcePermission, error) {
	var rp models.ResourcePermission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rp).Error; err != nil {
		return nil, queryError(err)
	}
	return &rp, nil
}

// UpdateResourceGrant persists instance-grant changes.
func (r *GrantRepository) UpdateResourceGrant(ctx context.Context, rp *models.ResourcePermission) error {
	if err := r.db.WithContext(ctx).Save(rp).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// ResourceGrantFor returns the active instance rows matching the check
// coordinate.
func (r *GrantRepository) ResourceGrantFor(ctx context.Context, userProfileID, permissionID, resourceType, resourceID string) ([]models.ResourcePermission, error) {
	var out []models.ResourcePermission
	err := r.db.WithContext(ctx).
		Where("user_profile_id = ? AND permission_id = ? AND resource_type = ? AND resource_id = ?",
			userProfileID, permissionID, resourceType, resourceID).
		Find(&out).Error
	if err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// ResourceGrantsOf returns every instance grant of one user.
func (r *GrantRepository) ResourceGrantsOf(ctx context.Context, userProfileID string) ([]models.ResourcePermission, error) {
	var out []models.ResourcePermission
	err := r.db.WithContext(ctx).
		Where("user_profile_id = ?", userProfileID).
		Find(&out).Error
	if err != nil {
		return nil, queryError(err)
	}
	return out, nil
}
