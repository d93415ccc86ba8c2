package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// RoleHandler exposes role definitions, the hierarchy, role-permission
// edges, and user assignments.
type RoleHandler struct {
	roles  *services.RoleService
	logger logger.Logger
}

func NewRoleHandler(roles *services.RoleService, log logger.Logger) *RoleHandler {
	return &RoleHandler{roles: roles, logger: log}
}

// Create adds a role.
// POST /api/v1/roles
func (h *RoleHandler) Create(c *gin.Context) {
	var req models.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	role, err := h.roles.Create(c.Request.Context(), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

// Get returns one role.
// GET /api/v1/roles/:id
func (h *RoleHandler) Get(c *gin.Context) {
	role, err := h.roles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

// List returns roles matching the query filters.
// GET /api/v1/roles
func (h *RoleHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	f := models.RoleFilter{
		Search:   c.Query("search"),
		IsActive: boolQuery(c, "isActive"),
		Limit:    limit,
		Offset:   offset,
	}

	items, total, err := h.roles.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{Items: items, Total: total, Limit: limit, Offset: offset})
}

// Search filters roles by name or code substring.
// GET /api/v1/roles/search
func (h *RoleHandler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		fail(c, models.ErrValidationf(models.CodeInvalidQuery, "query parameter q is required"))
		return
	}
	limit, offset := pagination(c)

	items, total, err := h.roles.List(c.Request.Context(), models.RoleFilter{
		Search: q,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{Items: items, Total: total, Limit: limit, Offset: offset})
}

// Update edits a role.
// PUT /api/v1/roles/:id
func (h *RoleHandler) Update(c *gin.Context) {
	var req models.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	role, err := h.roles.Update(c.Request.Context(), c.Param("id"), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

// Delete removes an unassigned role.
// DELETE /api/v1/roles/:id
func (h *RoleHandler) Delete(c *gin.Context) {
	if err := h.roles.Delete(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddParent links a role under a parent in the hierarchy.
// POST /api/v1/roles/:id/parents
func (h *RoleHandler) AddParent(c *gin.Context) {
	var req struct {
		ParentRoleID       string `json:"parentRoleId" binding:"required"`
		InheritPermissions *bool  `json:"inheritPermissions,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	inherit := true
	if req.InheritPermissions != nil {
		inherit = *req.InheritPermissions
	}

	if err := h.roles.AddParent(c.Request.Context(), c.Param("id"), req.ParentRoleID, inherit, actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GrantPermission attaches a permission to a role.
// POST /api/v1/roles/:id/permissions
func (h *RoleHandler) GrantPermission(c *gin.Context) {
	var req models.GrantRolePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rp, err := h.roles.GrantPermission(c.Request.Context(), c.Param("id"), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rp)
}

// RevokePermission detaches a permission from a role.
// DELETE /api/v1/roles/:id/permissions/:permissionId
func (h *RoleHandler) RevokePermission(c *gin.Context) {
	if err := h.roles.RevokePermission(c.Request.Context(), c.Param("id"), c.Param("permissionId"), actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Permissions lists the role's effective permission edges, including
// inherited ones.
// GET /api/v1/roles/:id/permissions
func (h *RoleHandler) Permissions(c *gin.Context) {
	items, err := h.roles.Permissions(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Assign gives a user the role.
// POST /api/v1/user-roles
func (h *RoleHandler) Assign(c *gin.Context) {
	var req models.AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ur, err := h.roles.AssignToUser(c.Request.Context(), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ur)
}

// Unassign deactivates a user's role assignment.
// DELETE /api/v1/user-roles/:id
func (h *RoleHandler) Unassign(c *gin.Context) {
	if err := h.roles.UnassignFromUser(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
