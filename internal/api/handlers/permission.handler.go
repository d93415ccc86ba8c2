package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// PermissionHandler exposes the permission catalog: definitions, groups, and
// full-text search.
type PermissionHandler struct {
	permissions *services.PermissionService
	catalog     *services.CatalogSearchService // nil when search is disabled
	logger      logger.Logger
}

func NewPermissionHandler(permissions *services.PermissionService, catalog *services.CatalogSearchService, log logger.Logger) *PermissionHandler {
	return &PermissionHandler{permissions: permissions, catalog: catalog, logger: log}
}

// Create registers a new permission definition.
// POST /api/v1/permissions
func (h *PermissionHandler) Create(c *gin.Context) {
	var req models.CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	p, err := h.permissions.Create(c.Request.Context(), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// Get returns one permission by ID.
// GET /api/v1/permissions/:id
func (h *PermissionHandler) Get(c *gin.Context) {
	p, err := h.permissions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetByCode returns one permission by its stable code.
// GET /api/v1/permissions/code/:code
func (h *PermissionHandler) GetByCode(c *gin.Context) {
	p, err := h.permissions.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// List returns permissions matching the query filters.
// GET /api/v1/permissions
func (h *PermissionHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	f := models.PermissionFilter{
		Search:   c.Query("search"),
		IsActive: boolQuery(c, "isActive"),
		Limit:    limit,
		Offset:   offset,
	}
	if v := c.Query("resource"); v != "" {
		f.Resource = &v
	}
	if v := c.Query("action"); v != "" {
		a := models.Action(v)
		f.Action = &a
	}
	if v := c.Query("scope"); v != "" {
		s := models.Scope(v)
		f.Scope = &s
	}
	if v := c.Query("groupId"); v != "" {
		f.GroupID = &v
	}

	items, total, err := h.permissions.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{Items: items, Total: total, Limit: limit, Offset: offset})
}

// Update edits a permission definition.
// PUT /api/v1/permissions/:id
func (h *PermissionHandler) Update(c *gin.Context) {
	var req models.UpdatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	p, err := h.permissions.Update(c.Request.Context(), c.Param("id"), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Delete removes a permission definition.
// DELETE /api/v1/permissions/:id
func (h *PermissionHandler) Delete(c *gin.Context) {
	if err := h.permissions.Delete(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Search runs a full-text query over the catalog index. Falls back to the
// SQL substring filter when the index is disabled.
// GET /api/v1/permissions/search?q=...
func (h *PermissionHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		fail(c, models.ErrValidationf(models.CodeInvalidQuery, "query parameter q is required"))
		return
	}
	limit, _ := pagination(c)

	if h.catalog == nil {
		items, total, err := h.permissions.List(c.Request.Context(), models.PermissionFilter{Search: query, Limit: limit})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, listEnvelope{Items: items, Total: total, Limit: limit})
		return
	}

	ids, err := h.catalog.Search(c.Request.Context(), query, limit)
	if err != nil {
		fail(c, err)
		return
	}
	items := make([]models.Permission, 0, len(ids))
	for _, id := range ids {
		p, err := h.permissions.Get(c.Request.Context(), id)
		if err != nil {
			// Index may lag a delete; skip rather than fail the search.
			if models.IsCode(err, models.CodePermissionNotFound) {
				continue
			}
			fail(c, err)
			return
		}
		items = append(items, *p)
	}
	c.JSON(http.StatusOK, listEnvelope{Items: items, Total: int64(len(items)), Limit: limit})
}

// CreateGroup adds a taxonomy bucket.
// POST /api/v1/permission-groups
func (h *PermissionHandler) CreateGroup(c *gin.Context) {
	var req models.CreatePermissionGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	g, err := h.permissions.CreateGroup(c.Request.Context(), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

// GetGroup returns one group.
// GET /api/v1/permission-groups/:id
func (h *PermissionHandler) GetGroup(c *gin.Context) {
	g, err := h.permissions.GetGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// ListGroups returns all groups in sort order.
// GET /api/v1/permission-groups
func (h *PermissionHandler) ListGroups(c *gin.Context) {
	groups, err := h.permissions.ListGroups(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": groups})
}

// UpdateGroup edits a group's display fields.
// PUT /api/v1/permission-groups/:id
func (h *PermissionHandler) UpdateGroup(c *gin.Context) {
	var req struct {
		Name        *string `json:"name,omitempty"`
		Description *string `json:"description,omitempty"`
		SortOrder   *int    `json:"sortOrder,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	g, err := h.permissions.GetGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if req.Name != nil {
		g.Name = *req.Name
	}
	if req.Description != nil {
		g.Description = *req.Description
	}
	if req.SortOrder != nil {
		g.SortOrder = *req.SortOrder
	}
	if err := h.permissions.UpdateGroup(c.Request.Context(), g, actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// DeleteGroup removes an empty group.
// DELETE /api/v1/permission-groups/:id
func (h *PermissionHandler) DeleteGroup(c *gin.Context) {
	if err := h.permissions.DeleteGroup(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
