package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// AdminHandler exposes manual triggers for the jobs the scheduler normally
// runs, plus cache and matrix controls for operators.
type AdminHandler struct {
	maintenance *services.MaintenanceService
	matrix      *services.MatrixService
	cache       *services.PermissionCacheService
	catalog     *services.CatalogSearchService // nil when search is disabled
	logger      logger.Logger
}

func NewAdminHandler(
	maintenance *services.MaintenanceService,
	matrix *services.MatrixService,
	cache *services.PermissionCacheService,
	catalog *services.CatalogSearchService,
	log logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		maintenance: maintenance,
		matrix:      matrix,
		cache:       cache,
		catalog:     catalog,
		logger:      log,
	}
}

// SweepExpired deactivates expired grants and assignments now.
// POST /api/v1/admin/sweep
func (h *AdminHandler) SweepExpired(c *gin.Context) {
	if err := h.maintenance.SweepExpired(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

// RefreshMatrix recomputes the matrix for recently active users.
// POST /api/v1/admin/matrix/refresh
func (h *AdminHandler) RefreshMatrix(c *gin.Context) {
	if err := h.matrix.RefreshActive(c.Request.Context(), "manual"); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

// RecomputeUserMatrix rebuilds one user's matrix rows.
// POST /api/v1/admin/matrix/users/:userId
func (h *AdminHandler) RecomputeUserMatrix(c *gin.Context) {
	if err := h.matrix.RecomputeUser(c.Request.Context(), c.Param("userId")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

// FlushCache drops every cached check result.
// POST /api/v1/admin/cache/flush
func (h *AdminHandler) FlushCache(c *gin.Context) {
	if err := h.cache.InvalidateAll(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

// RebuildCatalog reindexes the full permission catalog.
// POST /api/v1/admin/catalog/rebuild
func (h *AdminHandler) RebuildCatalog(c *gin.Context) {
	if h.catalog == nil {
		c.JSON(http.StatusOK, gin.H{"status": "disabled"})
		return
	}
	if err := h.catalog.Rebuild(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}
