package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/authz-core/internal/api/handlers"
	"github.com/platformbuilds/authz-core/internal/api/middleware"
	"github.com/platformbuilds/authz-core/internal/api/websocket"
	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/monitoring"
	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// Services bundles everything the HTTP surface needs.
type Services struct {
	Checks      *services.CheckService
	Permissions *services.PermissionService
	Catalog     *services.CatalogSearchService // nil when search is disabled
	Roles       *services.RoleService
	Grants      *services.GrantService
	Bulk        *services.BulkService
	Delegations *services.DelegationService
	Policies    *services.PolicyService
	Templates   *services.TemplateService
	History     *services.HistoryService
	Monitoring  *services.MonitoringService
	Maintenance *services.MaintenanceService
	Matrix      *services.MatrixService
	Cache       *services.PermissionCacheService
}

// Server is the AUTHZ-CORE REST surface.
type Server struct {
	config     *config.Config
	logger     logger.Logger
	svc        Services
	hub        *websocket.Hub
	router     *gin.Engine
	httpServer *http.Server
}

func NewServer(cfg *config.Config, log logger.Logger, svc Services, hub *websocket.Hub) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: cfg,
		logger: log,
		svc:    svc,
		hub:    hub,
		router: gin.New(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CORS(s.config.CORS))
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(monitoring.HTTPMetricsMiddleware())
	s.router.Use(middleware.ErrorHandler(s.logger))

	// OpenAPI spec (both flavors) and Swagger UI.
	s.router.StaticFile("/api/openapi.yaml", "api/openapi.yaml")
	s.router.GET("/api/openapi.json", openapiJSON)
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/api/openapi.yaml")))

	monitoring.SetupPrometheusMetrics(s.router)
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.svc.Monitoring, s.logger)

	// Probes stay unauthenticated.
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/ready", healthHandler.Ready)
	s.router.GET("/live", healthHandler.Live)

	s.router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/swagger/index.html")
	})

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.Auth(s.config.Auth, s.logger))

	// Administrative routes are guarded by the check engine itself, so
	// matrix, cache, and breaker behavior apply to the management surface
	// too. Each guard names the resource and action the caller must hold.
	guard := func(resource string, action models.Action) gin.HandlerFunc {
		return middleware.RequirePermission(s.svc.Checks, resource, action)
	}

	// Check engine. Reachable by any authenticated caller; the engine
	// itself decides the answer.
	checkHandler := handlers.NewCheckHandler(s.svc.Checks, s.logger)
	v1.POST("/permissions/check", checkHandler.Check)
	v1.POST("/permissions/batch-check", checkHandler.BatchCheck)

	permissionHandler := handlers.NewPermissionHandler(s.svc.Permissions, s.svc.Catalog, s.logger)
	v1.POST("/permissions", guard("permission", models.ActionCreate), permissionHandler.Create)
	v1.GET("/permissions", guard("permission", models.ActionRead), permissionHandler.List)
	v1.GET("/permissions/search", guard("permission", models.ActionRead), permissionHandler.Search)
	v1.GET("/permissions/code/:code", guard("permission", models.ActionRead), permissionHandler.GetByCode)
	v1.GET("/permissions/:id", guard("permission", models.ActionRead), permissionHandler.Get)
	v1.PUT("/permissions/:id", guard("permission", models.ActionUpdate), permissionHandler.Update)
	v1.DELETE("/permissions/:id", guard("permission", models.ActionDelete), permissionHandler.Delete)

	v1.POST("/permission-groups", guard("permission", models.ActionCreate), permissionHandler.CreateGroup)
	v1.GET("/permission-groups", guard("permission", models.ActionRead), permissionHandler.ListGroups)
	v1.GET("/permission-groups/:id", guard("permission", models.ActionRead), permissionHandler.GetGroup)
	v1.PUT("/permission-groups/:id", guard("permission", models.ActionUpdate), permissionHandler.UpdateGroup)
	v1.DELETE("/permission-groups/:id", guard("permission", models.ActionDelete), permissionHandler.DeleteGroup)

	roleHandler := handlers.NewRoleHandler(s.svc.Roles, s.logger)
	v1.POST("/roles", guard("role", models.ActionCreate), roleHandler.Create)
	v1.GET("/roles", guard("role", models.ActionRead), roleHandler.List)
	v1.GET("/roles/search", guard("role", models.ActionRead), roleHandler.Search)
	v1.GET("/roles/:id", guard("role", models.ActionRead), roleHandler.Get)
	v1.PUT("/roles/:id", guard("role", models.ActionUpdate), roleHandler.Update)
	v1.DELETE("/roles/:id", guard("role", models.ActionDelete), roleHandler.Delete)
	v1.POST("/roles/:id/parents", guard("role", models.ActionUpdate), roleHandler.AddParent)
	v1.GET("/roles/:id/permissions", guard("role", models.ActionRead), roleHandler.Permissions)
	v1.POST("/roles/:id/permissions", guard("role", models.ActionUpdate), roleHandler.GrantPermission)
	v1.DELETE("/roles/:id/permissions/:permissionId", guard("role", models.ActionUpdate), roleHandler.RevokePermission)
	v1.POST("/user-roles", guard("role", models.ActionAssign), roleHandler.Assign)
	v1.DELETE("/user-roles/:id", guard("role", models.ActionAssign), roleHandler.Unassign)

	grantHandler := handlers.NewGrantHandler(s.svc.Grants, s.svc.Bulk, s.logger)
	grantPerm := guard("permission", models.ActionAssign)
	v1.POST("/user-permissions", grantPerm, grantHandler.Grant)
	v1.POST("/user-permissions/bulk-grant", grantPerm, grantHandler.BulkGrant)
	v1.POST("/user-permissions/bulk-revoke", grantPerm, grantHandler.BulkRevoke)
	v1.GET("/user-permissions/:id", guard("permission", models.ActionRead), grantHandler.Get)
	v1.POST("/user-permissions/:id/revoke", grantPerm, grantHandler.Revoke)
	v1.GET("/user-permissions/user/:userId", guard("permission", models.ActionRead), grantHandler.Summary)
	v1.GET("/user-permissions/user/:userId/grants", guard("permission", models.ActionRead), grantHandler.ListUserGrants)
	v1.POST("/resource-permissions", grantPerm, grantHandler.GrantResource)
	v1.POST("/resource-permissions/:id/revoke", grantPerm, grantHandler.RevokeResource)
	v1.GET("/resource-permissions/user/:userId", guard("permission", models.ActionRead), grantHandler.ListResourceGrants)

	// Delegations are self-service; the service enforces that the
	// delegator actually holds what it lends.
	delegationHandler := handlers.NewDelegationHandler(s.svc.Delegations, s.logger)
	v1.POST("/permission-delegations", delegationHandler.Create)
	v1.GET("/permission-delegations", delegationHandler.List)
	v1.GET("/permission-delegations/:id", delegationHandler.Get)
	v1.POST("/permission-delegations/:id/revoke", delegationHandler.Revoke)
	v1.POST("/permission-delegations/:id/extend", delegationHandler.Extend)

	policyHandler := handlers.NewPolicyHandler(s.svc.Policies, s.logger)
	v1.POST("/permission-policies", guard("policy", models.ActionCreate), policyHandler.Create)
	v1.GET("/permission-policies", guard("policy", models.ActionRead), policyHandler.List)
	v1.GET("/permission-policies/:id", guard("policy", models.ActionRead), policyHandler.Get)
	v1.PUT("/permission-policies/:id", guard("policy", models.ActionUpdate), policyHandler.Update)
	v1.DELETE("/permission-policies/:id", guard("policy", models.ActionDelete), policyHandler.Delete)
	v1.GET("/permission-policies/:id/assignments", guard("policy", models.ActionRead), policyHandler.Assignments)
	v1.POST("/permission-policies/:id/assignments", guard("policy", models.ActionAssign), policyHandler.Assign)
	v1.POST("/permission-policies/:id/evaluate", guard("policy", models.ActionRead), policyHandler.Evaluate)
	v1.POST("/permission-policies/evaluate-all", guard("policy", models.ActionRead), policyHandler.EvaluateAll)
	v1.DELETE("/policy-assignments/:id", guard("policy", models.ActionAssign), policyHandler.Unassign)

	templateHandler := handlers.NewTemplateHandler(s.svc.Templates, s.logger)
	v1.POST("/permission-templates", guard("template", models.ActionCreate), templateHandler.Create)
	v1.GET("/permission-templates", guard("template", models.ActionRead), templateHandler.List)
	v1.GET("/permission-templates/:id", guard("template", models.ActionRead), templateHandler.Get)
	v1.PUT("/permission-templates/:id", guard("template", models.ActionUpdate), templateHandler.Update)
	v1.POST("/permission-templates/:id/apply", guard("template", models.ActionAssign), templateHandler.Apply)
	v1.GET("/template-applications", guard("template", models.ActionRead), templateHandler.Applications)
	v1.POST("/template-applications/:id/revoke", guard("template", models.ActionAssign), templateHandler.RevokeApplication)

	historyHandler := handlers.NewHistoryHandler(s.svc.History, s.logger)
	v1.GET("/permission-history", guard("audit", models.ActionRead), historyHandler.List)
	v1.GET("/permission-history/:id", guard("audit", models.ActionRead), historyHandler.Get)
	v1.POST("/permission-history/:id/rollback", guard("audit", models.ActionUpdate), historyHandler.Rollback)
	v1.GET("/permission-check-logs", guard("audit", models.ActionRead), historyHandler.CheckLogs)

	// Operational surface. Maintenance triggers need system.admin.
	sysAdmin := guard("system", models.ActionUpdate)
	adminHandler := handlers.NewAdminHandler(s.svc.Maintenance, s.svc.Matrix, s.svc.Cache, s.svc.Catalog, s.logger)
	v1.POST("/admin/sweep", sysAdmin, adminHandler.SweepExpired)
	v1.POST("/admin/matrix/refresh", sysAdmin, adminHandler.RefreshMatrix)
	v1.POST("/admin/matrix/users/:userId", sysAdmin, adminHandler.RecomputeUserMatrix)
	v1.POST("/admin/cache/flush", sysAdmin, adminHandler.FlushCache)
	v1.POST("/admin/catalog/rebuild", sysAdmin, adminHandler.RebuildCatalog)

	v1.GET("/permissions/monitoring/health", healthHandler.Health)
	v1.GET("/permissions/monitoring/circuit-breakers", healthHandler.Breakers)
	v1.GET("/permissions/monitoring/metrics", healthHandler.Stats)

	// Live check decision stream for monitoring dashboards.
	if s.hub != nil {
		v1.GET("/permissions/monitoring/live", s.hub.Serve)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("AUTHZ-CORE REST API server starting", "port", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down AUTHZ-CORE gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// openapiJSON serves the contract converted from the YAML source, for
// clients that only speak JSON.
func openapiJSON(c *gin.Context) {
	raw, err := os.ReadFile("api/openapi.yaml")
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, doc)
}
