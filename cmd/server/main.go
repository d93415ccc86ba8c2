package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/platformbuilds/authz-core/internal/api"
	"github.com/platformbuilds/authz-core/internal/api/websocket"
	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/internal/services/evaluators"
	"github.com/platformbuilds/authz-core/internal/tracing"
	"github.com/platformbuilds/authz-core/pkg/breaker"
	"github.com/platformbuilds/authz-core/pkg/cache"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

const version = "v1.0.0"

func main() {
	// Local development convenience; ignored when no .env exists.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg := logger.New(cfg.LogLevel)
	logg.Info("Starting AUTHZ-CORE", "version", version, "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing is optional; the engine runs fine without an OTLP endpoint.
	if cfg.Tracing.Enabled {
		tp, err := tracing.NewTracerProvider("authz-core", version, cfg.Tracing.OTLPEndpoint)
		if err != nil {
			logg.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			tracing.InitGlobalTracer("authz-core")
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		logg.Fatal("Failed to connect to Postgres", "error", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logg.Fatal("Failed to run migrations", "error", err)
	}

	// A broken Redis degrades checks to database resolution instead of
	// taking the service down.
	store, err := cache.NewRedisStore(cfg.Redis.Addr(), cfg.Redis.DB, cfg.Redis.Password,
		time.Duration(cfg.Cache.TTL)*time.Second, logg)
	if err != nil {
		logg.Error("Redis unavailable, running without cache", "error", err)
		store = cache.NewNoopStore(logg)
	}
	defer store.Close()

	dbBreaker := newBreaker("database", cfg.Breakers.Database)
	cacheBreaker := newBreaker("cache", cfg.Breakers.Cache)
	matrixBreaker := newBreaker("matrix", cfg.Breakers.Matrix)

	// Repositories.
	permissions := postgres.NewPermissionRepository(db.Gorm)
	roles := postgres.NewRoleRepository(db.Gorm)
	grants := postgres.NewGrantRepository(db.Gorm)
	delegations := postgres.NewDelegationRepository(db.Gorm)
	policies := postgres.NewPolicyRepository(db.Gorm)
	templates := postgres.NewTemplateRepository(db.Gorm)
	users := postgres.NewUserRepository(db.Gorm)
	history := postgres.NewHistoryRepository(db.Gorm)
	matrixRepo := postgres.NewMatrixRepository(db.Gorm)

	// Core pipeline.
	registry := evaluators.NewRegistry()
	resolver := services.NewPermissionResolver(permissions, roles, grants, delegations, policies, users, registry, logg)
	cacheService := services.NewPermissionCacheService(store, cacheBreaker, cfg.Cache, cfg.Warmup, logg)
	matrixService := services.NewMatrixService(matrixRepo, resolver, matrixBreaker, cfg.Matrix, logg)
	invalidation := services.NewInvalidationService(cacheService, matrixService, grants, roles, history, cfg.Invalidation, logg)
	audit := services.NewPostgresAuditSink(history)

	hub := websocket.NewHub(logg)
	go hub.Run(ctx)

	checkService := services.NewCheckService(permissions, users, cacheService, matrixService, resolver, history, dbBreaker, hub, cfg.Check, logg)

	var catalog *services.CatalogSearchService
	if cfg.Search.Enabled {
		catalog, err = services.NewCatalogSearchService(permissions, logg)
		if err != nil {
			logg.Error("Failed to build catalog index, search disabled", "error", err)
			catalog = nil
		} else {
			defer catalog.Close()
			if err := catalog.Rebuild(ctx); err != nil {
				logg.Warn("Catalog index rebuild failed", "error", err)
			}
		}
	}
	var indexer services.CatalogIndexer
	if catalog != nil {
		indexer = catalog
	}

	permissionService := services.NewPermissionService(db, permissions, history, invalidation, audit, indexer, logg)
	roleService := services.NewRoleService(db, roles, permissions, users, history, invalidation, audit, logg)
	grantService := services.NewGrantService(db, grants, permissions, roles, delegations, users, history, invalidation, audit, logg)
	bulkService := services.NewBulkService(db, grants, permissions, users, history, invalidation, audit, logg)
	delegationService := services.NewDelegationService(db, delegations, grants, roles, permissions, users, history, invalidation, audit, logg)
	policyService := services.NewPolicyService(db, policies, roles, users, resolver, registry, history, invalidation, audit, logg)
	templateService := services.NewTemplateService(db, templates, permissions, grants, users, history, invalidation, audit, logg)
	historyService := services.NewHistoryService(db, history, grants, roles, templates, delegations, invalidation, audit, logg)
	monitoringService := services.NewMonitoringService(db, cacheService,
		[]*breaker.Breaker{dbBreaker, cacheBreaker, matrixBreaker}, logg)

	maintenance := services.NewMaintenanceService(grants, roles, policies, history, cacheService, matrixService, resolver,
		invalidation, services.NewLogNotificationSink(logg), logg)
	if cfg.Scheduler.Enabled {
		if err := maintenance.Start(); err != nil {
			logg.Fatal("Failed to start maintenance scheduler", "error", err)
		}
		defer maintenance.Stop()
	}

	server := api.NewServer(cfg, logg, api.Services{
		Checks:      checkService,
		Permissions: permissionService,
		Catalog:     catalog,
		Roles:       roleService,
		Grants:      grantService,
		Bulk:        bulkService,
		Delegations: delegationService,
		Policies:    policyService,
		Templates:   templateService,
		History:     historyService,
		Monitoring:  monitoringService,
		Maintenance: maintenance,
		Matrix:      matrixService,
		Cache:       cacheService,
	}, hub)

	if err := server.Start(ctx); err != nil {
		logg.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	logg.Info("AUTHZ-CORE stopped")
}

func newBreaker(name string, cfg config.BreakerConfig) *breaker.Breaker {
	return breaker.New(breaker.Settings{
		Name:                name,
		FailureThreshold:    cfg.FailureThreshold,
		ResetTimeout:        cfg.ResetTimeout,
		HalfOpenMaxAttempts: cfg.HalfOpenMaxAttempts,
		MonitoringPeriod:    cfg.MonitoringPeriod,
	})
}
