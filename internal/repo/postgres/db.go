// Package postgres is the grant store: gorm repositories over the
// relational entities (permissions, roles, grants, policies, delegations,
// templates, history, matrix, tracking).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/models"
)

// DB wraps the gorm handle plus pool lifecycle.
type DB struct {
	Gorm *gorm.DB
}

// Connect opens the relational store and verifies connectivity.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &DB{Gorm: db}, nil
}

// Close releases the connection pool.
func (d *DB) Close() error {
	if d == nil || d.Gorm == nil {
		return nil
	}
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the store is reachable.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates or updates the logical tables. Used by cmd/bootstrap and
// tests; production deployments run it once at seed time.
func (d *DB) Migrate() error {
	return d.Gorm.AutoMigrate(
		&models.Permission{},
		&models.PermissionGroup{},
		&models.Role{},
		&models.RoleParent{},
		&models.RolePermission{},
		&models.UserProfile{},
		&models.UserRole{},
		&models.UserPermission{},
		&models.ResourcePermission{},
		&models.PermissionPolicy{},
		&models.PolicyAssignment{},
		&models.PermissionDelegation{},
		&models.PermissionTemplate{},
		&models.TemplateApplication{},
		&models.PermissionMatrixEntry{},
		&models.ActiveUserTracking{},
		&models.PermissionChangeHistory{},
		&models.PermissionCheckLog{},
		&models.AuditRecord{},
	)
}

// Transaction runs fn inside one database transaction with the given
// timeout. Multi-entity mutations (bulk grants, rollback) go through here.
func (d *DB) Transaction(ctx context.Context, timeout time.Duration, fn func(tx *gorm.DB) error) error {
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := d.Gorm.WithContext(txCtx).Transaction(fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrTimeoutf(models.CodeCheckTimeout, "transaction exceeded %s", timeout)
	}
	if appErr, ok := models.AsAppError(err); ok {
		return appErr
	}
	return models.ErrInternalf(models.CodeDBTransactionFailed, "transaction failed").WithCause(err)
}

// isUniqueViolation reports a Postgres 23505 in the chain.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// queryError wraps a raw gorm error for the service boundary. Not-found is
// mapped to the generic miss sentinel so callers can translate it per
// entity.
func queryError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return models.ErrInternalf(models.CodeDBQueryFailed, "query failed").WithCause(err)
}
