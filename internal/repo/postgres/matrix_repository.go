package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/platformbuilds/authz-core/internal/models"
)

// MatrixRepository covers the pre-computed permission matrix and the
// active-user tracking table that drives its refresh schedule.
type MatrixRepository struct {
	db *gorm.DB
}

func NewMatrixRepository(db *gorm.DB) *MatrixRepository {
	return &MatrixRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *MatrixRepository) WithTx(tx *gorm.DB) MatrixStore {
	return &MatrixRepository{db: tx}
}

// GetEntry returns the matrix row for (user, permissionKey), valid or not.
func (r *MatrixRepository) GetEntry(ctx context.Context, userProfileID, permissionKey string) (*models.PermissionMatrixEntry, error) {
	var e models.PermissionMatrixEntry
	err := r.db.WithContext(ctx).
		Where("user_profile_id = ? AND permission_key = ?", userProfileID, permissionKey).
		First(&e).Error
	if err != nil {
		return nil, queryError(err)
	}
	return &e, nil
}

// ValidEntry returns the matrix row only when it is valid and unexpired at
// now. Misses fall through to the slower resolution path.
func (r *MatrixRepository) ValidEntry(ctx context.Context, userProfileID, permissionKey string, now time.Time) (*models.PermissionMatrixEntry, error) {
	var e models.PermissionMatrixEntry
	err := r.db.WithContext(ctx).
		Where("user_profile_id = ? AND permission_key = ? AND is_valid = ? AND expires_at > ?",
			userProfileID, permissionKey, true, now).
		First(&e).Error
	if err != nil {
		return nil, queryError(err)
	}
	return &e, nil
}

// EntriesOf returns all matrix rows for one user.
func (r *MatrixRepository) EntriesOf(ctx context.Context, userProfileID string) ([]models.PermissionMatrixEntry, error) {
	var out []models.PermissionMatrixEntry
	err := r.db.WithContext(ctx).
		Where("user_profile_id = ?", userProfileID).
		Order("permission_key").
		Find(&out).Error
	if err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// ReplaceForUser swaps the user's matrix rows for a freshly computed set in
// one transaction. Inserts run in batches so a wide permission set does not
// exceed the driver's parameter limit.
func (r *MatrixRepository) ReplaceForUser(ctx context.Context, userProfileID string, entries []models.PermissionMatrixEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_profile_id = ?", userProfileID).
			Delete(&models.PermissionMatrixEntry{}).Error; err != nil {
			return queryError(err)
		}
		if len(entries) == 0 {
			return nil
		}
		for i := range entries {
			if entries[i].ID == "" {
				entries[i].ID = uuid.NewString()
			}
		}
		if err := tx.CreateInBatches(entries, 200).Error; err != nil {
			return queryError(err)
		}
		return nil
	})
}

// UpsertEntry writes one matrix row, replacing any existing row for the same
// (user, permissionKey).
func (r *MatrixRepository) UpsertEntry(ctx context.Context, e *models.PermissionMatrixEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_profile_id"}, {Name: "permission_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"is_allowed", "granted_by", "priority", "expires_at", "is_valid", "metadata", "computed_at",
			}),
		}).
		Create(e).Error
	if err != nil {
		return queryError(err)
	}
	return nil
}

// InvalidateForUsers flips is_valid off for every row of the given users.
// Rows stay in place so the next refresh can reuse the key set.
func (r *MatrixRepository) InvalidateForUsers(ctx context.Context, userProfileIDs []string) (int64, error) {
	if len(userProfileIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.PermissionMatrixEntry{}).
		Where("user_profile_id IN ? AND is_valid = ?", userProfileIDs, true).
		Update("is_valid", false)
	if res.Error != nil {
		return 0, queryError(res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteForUser removes all matrix rows for one user.
func (r *MatrixRepository) DeleteForUser(ctx context.Context, userProfileID string) error {
	if err := r.db.WithContext(ctx).
		Where("user_profile_id = ?", userProfileID).
		Delete(&models.PermissionMatrixEntry{}).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// DeleteExpired removes rows past their expiry. Returns rows removed.
func (r *MatrixRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.PermissionMatrixEntry{})
	if res.Error != nil {
		return 0, queryError(res.Error)
	}
	return res.RowsAffected, nil
}

// --- active-user tracking ---

// RecordCheckActivity bumps the rolling counter for one user, starting a new
// window when none exists or the current one is older than windowSize.
func (r *MatrixRepository) RecordCheckActivity(ctx context.Context, userProfileID string, now time.Time, windowSize time.Duration) error {
	windowFloor := now.Add(-windowSize)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.ActiveUserTracking{
			UserProfileID: userProfileID,
			CheckCount:    1,
			WindowStart:   now,
			LastCheckAt:   now,
			UpdatedAt:     now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_profile_id"}},
			DoNothing: true,
		}).Create(&row).Error
		if err != nil {
			return queryError(err)
		}

		// Window still open: plain increment. Window stale: restart it.
		res := tx.Model(&models.ActiveUserTracking{}).
			Where("user_profile_id = ? AND window_start > ? AND last_check_at != ?", userProfileID, windowFloor, now).
			Updates(map[string]any{
				"check_count":   gorm.Expr("check_count + 1"),
				"last_check_at": now,
				"updated_at":    now,
			})
		if res.Error != nil {
			return queryError(res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
		err = tx.Model(&models.ActiveUserTracking{}).
			Where("user_profile_id = ? AND window_start <= ?", userProfileID, windowFloor).
			Updates(map[string]any{
				"check_count":      1,
				"window_start":     now,
				"last_check_at":    now,
				"is_high_priority": false,
				"updated_at":       now,
			}).Error
		if err != nil {
			return queryError(err)
		}
		return nil
	})
}

// CheckCount returns the user's current window counter, zero when untracked.
func (r *MatrixRepository) CheckCount(ctx context.Context, userProfileID string) (int64, error) {
	var t models.ActiveUserTracking
	err := r.db.WithContext(ctx).
		Where("user_profile_id = ?", userProfileID).
		First(&t).Error
	if err != nil {
		if IsNotFound(queryError(err)) {
			return 0, nil
		}
		return 0, queryError(err)
	}
	return t.CheckCount, nil
}

// MarkHighPriority flags users whose 24h counter crossed the threshold and
// returns the IDs of every user currently flagged, most active first,
// capped at limit.
func (r *MatrixRepository) MarkHighPriority(ctx context.Context, threshold int64, now time.Time, limit int) ([]string, error) {
	since := now.Add(-24 * time.Hour)
	err := r.db.WithContext(ctx).Model(&models.ActiveUserTracking{}).
		Where("check_count >= ? AND last_check_at > ? AND is_high_priority = ?", threshold, since, false).
		Updates(map[string]any{"is_high_priority": true, "updated_at": now}).Error
	if err != nil {
		return nil, queryError(err)
	}

	var ids []string
	err = r.db.WithContext(ctx).Model(&models.ActiveUserTracking{}).
		Where("is_high_priority = ? AND last_check_at > ?", true, since).
		Order("check_count DESC").
		Limit(limit).
		Pluck("user_profile_id", &ids).Error
	if err != nil {
		return nil, queryError(err)
	}
	return ids, nil
}

// RegularActiveUsers returns users active within the last 48h with more than
// minChecks in the current window, excluding high-priority ones, most
// recently active first, capped at limit.
func (r *MatrixRepository) RegularActiveUsers(ctx context.Context, minChecks int64, now time.Time, limit int) ([]string, error) {
	since := now.Add(-48 * time.Hour)
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.ActiveUserTracking{}).
		Where("is_high_priority = ? AND last_check_at > ? AND check_count > ?", false, since, minChecks).
		Order("last_check_at DESC").
		Limit(limit).
		Pluck("user_profile_id", &ids).Error
	if err != nil {
		return nil, queryError(err)
	}
	return ids, nil
}

// ResetInactiveTrackers clears flags and counters for users idle longer than
// maxIdle. Returns rows touched.
func (r *MatrixRepository) ResetInactiveTrackers(ctx context.Context, now time.Time, maxIdle time.Duration) (int64, error) {
	floor := now.Add(-maxIdle)
	res := r.db.WithContext(ctx).Model(&models.ActiveUserTracking{}).
		Where("last_check_at <= ? AND (check_count > 0 OR is_high_priority = ?)", floor, true).
		Updates(map[string]any{
			"check_count":      0,
			"is_high_priority": false,
			"updated_at":       now,
		})
	if res.Error != nil {
		return 0, queryError(res.Error)
	}
	return res.RowsAffected, nil
}
