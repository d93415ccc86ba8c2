package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// HealthHandler exposes liveness, readiness, the aggregated system status,
// and process stats.
type HealthHandler struct {
	monitoring *services.MonitoringService
	logger     logger.Logger
}

func NewHealthHandler(monitoring *services.MonitoringService, log logger.Logger) *HealthHandler {
	return &HealthHandler{monitoring: monitoring, logger: log}
}

// Health returns the aggregated status of the engine and its dependencies.
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.monitoring.Status(c.Request.Context())
	code := http.StatusOK
	if status.Status == services.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// Live reports process liveness only.
// GET /live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitoring.Liveness())
}

// Ready reports whether the engine can serve checks.
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ready, checks := h.monitoring.Readiness(c.Request.Context())
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ready": ready, "checks": checks})
}

// Stats returns process-lifetime check counters.
// GET /api/v1/permissions/monitoring/metrics
func (h *HealthHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitoring.Stats())
}

// Breakers reports the state of every circuit breaker.
// GET /api/v1/permissions/monitoring/circuit-breakers
func (h *HealthHandler) Breakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": h.monitoring.Breakers()})
}
