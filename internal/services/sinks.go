package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// AuditSink receives one record per mutating operation. The default
// implementation appends to Postgres; deployments may swap in a forwarding
// sink.
type AuditSink interface {
	Record(ctx context.Context, rec *models.AuditRecord) error
}

// NotificationSink receives grouped expiring-grant notices. The default
// implementation only logs; deployments wire a real channel.
type NotificationSink interface {
	NotifyExpiringGrants(ctx context.Context, userProfileID string, grants []models.UserPermission) error
}

// postgresAuditSink appends audit records through the history repository.
type postgresAuditSink struct {
	history postgres.HistoryStore
}

func NewPostgresAuditSink(history postgres.HistoryStore) AuditSink {
	return &postgresAuditSink{history: history}
}

func (s *postgresAuditSink) Record(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.history.AppendAudit(ctx, rec)
}

// logNotificationSink logs each notice instead of delivering it.
type logNotificationSink struct {
	logger logger.Logger
}

func NewLogNotificationSink(log logger.Logger) NotificationSink {
	return &logNotificationSink{logger: log.With("component", "notifications")}
}

func (s *logNotificationSink) NotifyExpiringGrants(ctx context.Context, userProfileID string, grants []models.UserPermission) error {
	soonest := time.Time{}
	for i := range grants {
		if grants[i].ValidUntil != nil && (soonest.IsZero() || grants[i].ValidUntil.Before(soonest)) {
			soonest = *grants[i].ValidUntil
		}
	}
	s.logger.Info("expiring grants notice",
		"user", userProfileID,
		"grants", len(grants),
		"soonest_expiry", soonest,
	)
	return nil
}
