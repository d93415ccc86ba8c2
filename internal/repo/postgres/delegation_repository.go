package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
)

// DelegationRepository covers permission delegations.
type DelegationRepository struct {
	db *gorm.DB
}

func NewDelegationRepository(db *gorm.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *DelegationRepository) WithTx(tx *gorm.DB) DelegationStore {
	return &DelegationRepository{db: tx}
}

// Create persists a delegation.
func (r *DelegationRepository) Create(ctx context.Context, d *models.PermissionDelegation) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// GetByID fetches one delegation.
func (r *DelegationRepository) GetByID(ctx context.Context, id string) (*models.PermissionDelegation, error) {
	var d models.PermissionDelegation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, queryError(err)
	}
	return &d, nil
}

// Update persists delegation changes.
func (r *DelegationRepository) Update(ctx context.Context, d *models.PermissionDelegation) error {
	if err := r.db.WithContext(ctx).Save(d).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// List returns delegations matching the filter.
func (r *DelegationRepository) List(ctx context.Context, f models.DelegationFilter) ([]models.PermissionDelegation, error) {
	q := r.db.WithContext(ctx).Model(&models.PermissionDelegation{})
	if f.DelegatorProfileID != "" {
		q = q.Where("delegator_profile_id = ?", f.DelegatorProfileID)
	}
	if f.DelegateProfileID != "" {
		q = q.Where("delegate_profile_id = ?", f.DelegateProfileID)
	}
	if f.ActiveOnly {
		now := time.Now().UTC()
		q = q.Where("is_revoked = ? AND valid_from <= ? AND valid_until > ?", false, now, now)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []models.PermissionDelegation
	if err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// ActiveDelegationsTo returns delegations currently live for the delegate.
// The check engine consults these between the role and policy layers.
func (r *DelegationRepository) ActiveDelegationsTo(ctx context.Context, delegateProfileID string, now time.Time) ([]models.PermissionDelegation, error) {
	var out []models.PermissionDelegation
	err := r.db.WithContext(ctx).
		Where("delegate_profile_id = ? AND is_revoked = ? AND valid_from <= ? AND valid_until > ?",
			delegateProfileID, false, now, now).
		Find(&out).Error
	if err != nil {
		return nil, queryError(err)
	}
	return out, nil
}
