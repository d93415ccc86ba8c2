package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
)

// UserRepository reads and maintains user profiles. Identity lives
// upstream; profiles exist so checks can resolve superadmin state and
// organizational coordinates.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *UserRepository) WithTx(tx *gorm.DB) UserStore {
	return &UserRepository{db: tx}
}

// GetByID fetches one profile.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	var u models.UserProfile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, queryError(err)
	}
	return &u, nil
}

// GetByExternalID fetches the profile for a gateway subject.
func (r *UserRepository) GetByExternalID(ctx context.Context, externalID string) (*models.UserProfile, error) {
	var u models.UserProfile
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&u).Error; err != nil {
		return nil, queryError(err)
	}
	return &u, nil
}

// Exists reports whether the profile IDs all exist and are active. Returns
// the subset that is missing or inactive.
func (r *UserRepository) Exists(ctx context.Context, ids []string) (missing []string, err error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []string
	err = r.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("id IN ? AND is_active = ?", ids, true).
		Pluck("id", &found).Error
	if err != nil {
		return nil, queryError(err)
	}
	present := make(map[string]bool, len(found))
	for _, id := range found {
		present[id] = true
	}
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Create persists a profile (bootstrap and tests).
func (r *UserRepository) Create(ctx context.Context, u *models.UserProfile) error {
	err := r.db.WithContext(ctx).Create(u).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return models.ErrConflictf(models.CodeUserNotFound,
			"profile with external id %q already exists", u.ExternalID)
	}
	return queryError(err)
}

// Update persists profile changes.
func (r *UserRepository) Update(ctx context.Context, u *models.UserProfile) error {
	if err := r.db.WithContext(ctx).Save(u).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// UsersInDepartment returns active profile IDs in one department.
func (r *UserRepository) UsersInDepartment(ctx context.Context, departmentID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("department_id = ? AND is_active = ?", departmentID, true).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, queryError(err)
	}
	return ids, nil
}

// UsersInPosition returns active profile IDs holding one position.
func (r *UserRepository) UsersInPosition(ctx context.Context, positionID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("position_id = ? AND is_active = ?", positionID, true).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, queryError(err)
	}
	return ids, nil
}
