package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/utils"
)

// PermissionRepository is CRUD over permissions and permission groups.
type PermissionRepository struct {
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *PermissionRepository) WithTx(tx *gorm.DB) PermissionStore {
	return &PermissionRepository{db: tx}
}

// Create persists a permission. Duplicate code or duplicate
// (resource, action, scope) combinations are conflicts.
func (r *PermissionRepository) Create(ctx context.Context, p *models.Permission) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		var existing models.Permission
		lookupErr := r.db.WithContext(ctx).Where("code = ?", p.Code).First(&existing).Error
		if lookupErr == nil {
			return models.ErrConflictf(models.CodePermissionAlreadyExists,
				"permission code %q already exists", p.Code)
		}
		return models.ErrConflictf(models.CodePermissionCombinationExists,
			"permission combination (%s, %s, %s) already exists", p.Resource, p.Action, p.Scope)
	}
	return queryError(err)
}

// GetByID fetches one permission.
func (r *PermissionRepository) GetByID(ctx context.Context, id string) (*models.Permission, error) {
	var p models.Permission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, queryError(err)
	}
	return &p, nil
}

// GetByCode fetches one permission by its stable code.
func (r *PermissionRepository) GetByCode(ctx context.Context, code string) (*models.Permission, error) {
	var p models.Permission
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&p).Error; err != nil {
		return nil, queryError(err)
	}
	return &p, nil
}

// GetByCodes fetches many permissions by code in one query.
func (r *PermissionRepository) GetByCodes(ctx context.Context, codes []string) ([]models.Permission, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	var out []models.Permission
	if err := r.db.WithContext(ctx).Where("code IN ?", codes).Find(&out).Error; err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// GetByCombination resolves the permission row for a check coordinate.
// Returns models.ErrNotFound when no permission matches.
func (r *PermissionRepository) GetByCombination(ctx context.Context, resource string, action models.Action, scope models.Scope) (*models.Permission, error) {
	var p models.Permission
	q := r.db.WithContext(ctx).
		Where("resource = ? AND action = ? AND is_active = ?", resource, action, true)
	if scope == "" {
		q = q.Where("(scope IS NULL OR scope = '')")
	} else {
		q = q.Where("scope = ?", scope)
	}
	if err := q.First(&p).Error; err != nil {
		return nil, queryError(err)
	}
	return &p, nil
}

// List returns permissions matching the filter.
func (r *PermissionRepository) List(ctx context.Context, f models.PermissionFilter) ([]models.Permission, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Permission{})
	if f.Resource != nil {
		q = q.Where("resource = ?", *f.Resource)
	}
	if f.Action != nil {
		q = q.Where("action = ?", *f.Action)
	}
	if f.Scope != nil {
		q = q.Where("scope = ?", *f.Scope)
	}
	if f.GroupID != nil {
		q = q.Where("group_id = ?", *f.GroupID)
	}
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
	var out []models.Permission
	if err := q.Order("code").Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, 0, queryError(err)
	}
	return out, total, nil
}

// Update persists mutable permission fields.
func (r *PermissionRepository) Update(ctx context.Context, p *models.Permission) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// Delete removes a permission row. System-permission protection is enforced
// at the service layer before this point.
func (r *PermissionRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Permission{})
	if res.Error != nil {
		return queryError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DependentsOf returns active permissions listing id among their
// dependencies. Used to block deletion that would break dependency
// integrity.
func (r *PermissionRepository) DependentsOf(ctx context.Context, id string) ([]models.Permission, error) {
	var out []models.Permission
	err := r.db.WithContext(ctx).
		Where("dependencies @> ?", `["`+id+`"]`).
		Find(&out).Error
	if err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// --- permission groups ---

// CreateGroup persists a taxonomy bucket.
func (r *PermissionRepository) CreateGroup(ctx context.Context, g *models.PermissionGroup) error {
	err := r.db.WithContext(ctx).Create(g).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return models.ErrConflictf(models.CodePermissionAlreadyExists,
			"permission group code %q already exists", g.Code)
	}
	return queryError(err)
}

// GetGroup fetches one group.
func (r *PermissionRepository) GetGroup(ctx context.Context, id string) (*models.PermissionGroup, error) {
	var g models.PermissionGroup
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, queryError(err)
	}
	return &g, nil
}

// ListGroups returns all groups ordered for display.
func (r *PermissionRepository) ListGroups(ctx context.Context) ([]models.PermissionGroup, error) {
	var out []models.PermissionGroup
	if err := r.db.WithContext(ctx).Order("sort_order, code").Find(&out).Error; err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// UpdateGroup persists group changes.
func (r *PermissionRepository) UpdateGroup(ctx context.Context, g *models.PermissionGroup) error {
	if err := r.db.WithContext(ctx).Save(g).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// DeleteGroup removes a group after detaching its permissions.
func (r *PermissionRepository) DeleteGroup(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Permission{}).
			Where("group_id = ?", id).
			Update("group_id", nil).Error; err != nil {
			return queryError(err)
		}
		res := tx.Where("id = ?", id).Delete(&models.PermissionGroup{})
		if res.Error != nil {
			return queryError(res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// TouchUpdated stamps UpdatedAt/UpdatedBy ahead of a Save.
func TouchUpdated(p *models.Permission, actor string) {
	p.UpdatedAt = time.Now().UTC()
	p.UpdatedBy = actor
}

// IsNotFound reports the repository miss sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
