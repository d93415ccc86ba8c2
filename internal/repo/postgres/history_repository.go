package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/utils/lucene"
)

// HistoryRepository covers the change-history log, check logs, and the
// default (Postgres-backed) audit sink.
type HistoryRepository struct {
	db                 *gorm.DB
	historyTranslator  *lucene.Translator
	checkLogTranslator *lucene.Translator
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{
		db:                 db,
		historyTranslator:  lucene.NewTranslator(lucene.HistoryColumns),
		checkLogTranslator: lucene.NewTranslator(lucene.CheckLogColumns),
	}
}

// WithTx returns a copy bound to the given transaction.
func (r *HistoryRepository) WithTx(tx *gorm.DB) HistoryStore {
	return &HistoryRepository{
		db:                 tx,
		historyTranslator:  r.historyTranslator,
		checkLogTranslator: r.checkLogTranslator,
	}
}

// Append writes one history entry. Must run inside the mutating
// transaction.
func (r *HistoryRepository) Append(ctx context.Context, h *models.PermissionChangeHistory) error {
	if err := r.db.WithContext(ctx).Create(h).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// GetByID fetches one history entry.
func (r *HistoryRepository) GetByID(ctx context.Context, id string) (*models.PermissionChangeHistory, error) {
	var h models.PermissionChangeHistory
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&h).Error; err != nil {
		return nil, queryError(err)
	}
	return &h, nil
}

// MarkRolledBack stamps the original entry as undone.
func (r *HistoryRepository) MarkRolledBack(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.PermissionChangeHistory{}).
		Where("id = ? AND rolled_back_at IS NULL", id).
		Update("rolled_back_at", at)
	if res.Error != nil {
		return queryError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// List returns history entries matching the filter. Filter.Query carries an
// optional Lucene expression translated over the whitelisted column set.
func (r *HistoryRepository) List(ctx context.Context, f models.HistoryFilter) ([]models.PermissionChangeHistory, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.PermissionChangeHistory{})
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.Operation != "" {
		q = q.Where("operation = ?", f.Operation)
	}
	if f.PerformedBy != "" {
		q = q.Where("performed_by = ?", f.PerformedBy)
	}
	if f.From != nil {
		q = q.Where("performed_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("performed_at < ?", *f.To)
	}
	if f.Query != "" {
		clause, args, err := r.historyTranslator.Translate(f.Query)
		if err != nil {
			return nil, 0, err
		}
		if clause != "" {
			q = q.Where(clause, args...)
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, queryError(err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []models.PermissionChangeHistory
	if err := q.Order("performed_at DESC").Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, 0, queryError(err)
	}
	return out, total, nil
}

// --- check logs ---

// AppendCheckLog writes one check-log row (fire-and-forget from the engine;
// callers ignore the error beyond a metric).
func (r *HistoryRepository) AppendCheckLog(ctx context.Context, l *models.PermissionCheckLog) error {
	if err := r.db.WithContext(ctx).Create(l).Error; err != nil {
		return queryError(err)
	}
	return nil
}

// ListCheckLogs returns check-log rows matching the filter.
func (r *HistoryRepository) ListCheckLogs(ctx context.Context, f models.CheckLogFilter) ([]models.PermissionCheckLog, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.PermissionCheckLog{})
	if f.UserProfileID != "" {
		q = q.Where("user_profile_id = ?", f.UserProfileID)
	}
	if f.Resource != "" {
		q = q.Where("resource = ?", f.Resource)
	}
	if f.AllowedOnly != nil {
		q = q.Where("is_allowed = ?", *f.AllowedOnly)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}
	if f.Query != "" {
		clause, args, err := r.checkLogTranslator.Translate(f.Query)
		if err != nil {
			return nil, 0, err
		}
		if clause != "" {
			q = q.Where(clause, args...)
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, queryError(err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []models.PermissionCheckLog
	if err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, 0, queryError(err)
	}
	return out, total, nil
}

// DeleteCheckLogsBefore purges logs older than the cutoff. Returns rows
// removed.
func (r *HistoryRepository) DeleteCheckLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.PermissionCheckLog{})
	if res.Error != nil {
		return 0, queryError(res.Error)
	}
	return res.RowsAffected, nil
}

// --- audit sink (default Postgres implementation) ---

// AppendAudit writes one audit record.
func (r *HistoryRepository) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return queryError(err)
	}
	return nil
}
