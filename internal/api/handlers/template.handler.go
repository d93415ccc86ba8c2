package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// TemplateHandler exposes permission templates and their applications.
type TemplateHandler struct {
	templates *services.TemplateService
	logger    logger.Logger
}

func NewTemplateHandler(templates *services.TemplateService, log logger.Logger) *TemplateHandler {
	return &TemplateHandler{templates: templates, logger: log}
}

// Create registers a template.
// POST /api/v1/permission-templates
func (h *TemplateHandler) Create(c *gin.Context) {
	var req models.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	t, err := h.templates.Create(c.Request.Context(), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// Get returns one template.
// GET /api/v1/permission-templates/:id
func (h *TemplateHandler) Get(c *gin.Context) {
	t, err := h.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// List returns templates.
// GET /api/v1/permission-templates
func (h *TemplateHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	activeOnly := false
	if b := boolQuery(c, "activeOnly"); b != nil {
		activeOnly = *b
	}

	items, err := h.templates.List(c.Request.Context(), activeOnly, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

// Update edits a template definition.
// PUT /api/v1/permission-templates/:id
func (h *TemplateHandler) Update(c *gin.Context) {
	var req models.UpdateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	t, err := h.templates.Update(c.Request.Context(), c.Param("id"), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Apply materializes the template's permissions as direct grants on the
// target user or every user holding the target position.
// POST /api/v1/permission-templates/:id/apply
func (h *TemplateHandler) Apply(c *gin.Context) {
	var req models.ApplyTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	app, err := h.templates.Apply(c.Request.Context(), c.Param("id"), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, app)
}

// RevokeApplication rolls back every grant one application produced.
// POST /api/v1/template-applications/:id/revoke
func (h *TemplateHandler) RevokeApplication(c *gin.Context) {
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.templates.RevokeApplication(c.Request.Context(), c.Param("id"), req.Reason, actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Applications lists a target's template applications.
// GET /api/v1/template-applications?targetType=USER&targetId=...
func (h *TemplateHandler) Applications(c *gin.Context) {
	targetType := models.TemplateTargetType(c.Query("targetType"))
	targetID := c.Query("targetId")
	if targetType == "" || targetID == "" {
		fail(c, models.ErrValidationf(models.CodeInvalidRequest, "targetType and targetId are required"))
		return
	}

	items, err := h.templates.Applications(c.Request.Context(), targetType, targetID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
