package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
)

// TemplateRepository covers permission templates and their applications.
type TemplateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *TemplateRepository) WithTx(tx *gorm.DB) TemplateStore {
	return &TemplateRepository{db: tx}
}

// Create persists a template.
func (r *TemplateRepository) Create(ctx context.Context, t *models.PermissionTemplate) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return models.ErrConflictf(models.CodePermissionAlreadyExists,
			"template code %q already exists", t.Code)
	}
	return queryError(err)
}

// GetByID fetches one template.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.PermissionTemplate, error) {
	var t models.PermissionTemplate
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, queryError(err)
	}
	return &t, nil
}

// List returns templates.
func (r *TemplateRepository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]models.PermissionTemplate, error) {
	q := r.db.WithContext(ctx).Model(&models.PermissionTemplate{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []models.PermissionTemplate
	if err := q.Order("code").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// Update persists template changes.
func (r *TemplateRepository) Update(ctx context.Context, t *models.PermissionTemplate) error {
	if err := r.db.WithContext(ctx).Save(t).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// CreateApplication records one template applied to one target.
func (r *TemplateRepository) CreateApplication(ctx context.Context, a *models.TemplateApplication) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// GetApplication fetches one application.
func (r *TemplateRepository) GetApplication(ctx context.Context, id string) (*models.TemplateApplication, error) {
	var a models.TemplateApplication
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, queryError(err)
	}
	return &a, nil
}

// UpdateApplication persists application changes (activation flips).
func (r *TemplateRepository) UpdateApplication(ctx context.Context, a *models.TemplateApplication) error {
	if err := r.db.WithContext(ctx).Save(a).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// ApplicationsOfTarget lists applications for one target.
func (r *TemplateRepository) ApplicationsOfTarget(ctx context.Context, targetType models.TemplateTargetType, targetID string) ([]models.TemplateApplication, error) {
	var out []models.TemplateApplication
	err := r.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("applied_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, queryError(err)
	}
	return out, nil
}
