package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// HistoryHandler exposes the change history, the check decision log, and the
// rollback operation.
type HistoryHandler struct {
	history *services.HistoryService
	logger  logger.Logger
}

func NewHistoryHandler(history *services.HistoryService, log logger.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, logger: log}
}

// List returns change history entries. The q parameter accepts a
// Lucene-style expression over the indexed columns.
// GET /api/v1/permission-history
func (h *HistoryHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	f := models.HistoryFilter{
		EntityType:  c.Query("entityType"),
		EntityID:    c.Query("entityId"),
		Operation:   c.Query("operation"),
		PerformedBy: c.Query("performedBy"),
		Query:       c.Query("q"),
		From:        timeQuery(c, "from"),
		To:          timeQuery(c, "to"),
		Limit:       limit,
		Offset:      offset,
	}

	items, total, err := h.history.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{Items: items, Total: total, Limit: limit, Offset: offset})
}

// Get returns one history entry.
// GET /api/v1/permission-history/:id
func (h *HistoryHandler) Get(c *gin.Context) {
	entry, err := h.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Rollback restores the previous state recorded in one history entry.
// POST /api/v1/permission-history/:id/rollback
func (h *HistoryHandler) Rollback(c *gin.Context) {
	entry, err := h.history.Rollback(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// CheckLogs returns check decision log entries.
// GET /api/v1/permission-check-logs
func (h *HistoryHandler) CheckLogs(c *gin.Context) {
	limit, offset := pagination(c)
	f := models.CheckLogFilter{
		UserProfileID: c.Query("userId"),
		Resource:      c.Query("resource"),
		AllowedOnly:   boolQuery(c, "allowed"),
		Query:         c.Query("q"),
		From:          timeQuery(c, "from"),
		To:            timeQuery(c, "to"),
		Limit:         limit,
		Offset:        offset,
	}

	items, total, err := h.history.ListCheckLogs(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{Items: items, Total: total, Limit: limit, Offset: offset})
}
