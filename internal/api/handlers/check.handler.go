package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// CheckHandler exposes the permission check engine.
type CheckHandler struct {
	checks *services.CheckService
	logger logger.Logger
}

func NewCheckHandler(checks *services.CheckService, log logger.Logger) *CheckHandler {
	return &CheckHandler{checks: checks, logger: log}
}

// Check answers a single "may user U do A on R" question.
// POST /api/v1/permissions/check
func (h *CheckHandler) Check(c *gin.Context) {
	var req models.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.checks.Check(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// BatchCheck answers up to the batch limit of questions for one user.
// POST /api/v1/permissions/batch-check
func (h *CheckHandler) BatchCheck(c *gin.Context) {
	var req models.BatchCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.checks.BatchCheck(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
