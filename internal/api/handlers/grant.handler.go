package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// GrantHandler exposes direct user grants, resource-scoped grants, and the
// per-user effective summary.
type GrantHandler struct {
	grants *services.GrantService
	bulk   *services.BulkService
	logger logger.Logger
}

func NewGrantHandler(grants *services.GrantService, bulk *services.BulkService, log logger.Logger) *GrantHandler {
	return &GrantHandler{grants: grants, bulk: bulk, logger: log}
}

// Grant gives a user a permission directly.
// POST /api/v1/user-permissions
func (h *GrantHandler) Grant(c *gin.Context) {
	var req models.GrantUserPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	up, err := h.grants.Grant(c.Request.Context(), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, up)
}

// Get returns one grant.
// GET /api/v1/user-permissions/:id
func (h *GrantHandler) Get(c *gin.Context) {
	up, err := h.grants.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, up)
}

// Revoke deactivates a grant.
// POST /api/v1/user-permissions/:id/revoke
func (h *GrantHandler) Revoke(c *gin.Context) {
	var req models.RevokeUserPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.grants.Revoke(c.Request.Context(), c.Param("id"), &req, actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GrantResource gives a user a permission on one specific resource instance.
// POST /api/v1/resource-permissions
func (h *GrantHandler) GrantResource(c *gin.Context) {
	var req models.GrantResourcePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rp, err := h.grants.GrantResource(c.Request.Context(), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rp)
}

// RevokeResource deactivates a resource-scoped grant.
// POST /api/v1/resource-permissions/:id/revoke
func (h *GrantHandler) RevokeResource(c *gin.Context) {
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.grants.RevokeResource(c.Request.Context(), c.Param("id"), req.Reason, actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListUserGrants lists a user's direct grants.
// GET /api/v1/user-permissions/user/:userId/grants
func (h *GrantHandler) ListUserGrants(c *gin.Context) {
	items, err := h.grants.ListUserGrants(c.Request.Context(), c.Param("userId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ListResourceGrants lists a user's resource-scoped grants.
// GET /api/v1/resource-permissions/user/:userId
func (h *GrantHandler) ListResourceGrants(c *gin.Context) {
	items, err := h.grants.ListResourceGrants(c.Request.Context(), c.Param("userId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Summary returns everything a user holds: direct, role-derived, delegated.
// GET /api/v1/user-permissions/user/:userId
func (h *GrantHandler) Summary(c *gin.Context) {
	summary, err := h.grants.Summary(c.Request.Context(), c.Param("userId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// BulkGrant applies a grant matrix of users x permission codes.
// POST /api/v1/user-permissions/bulk-grant
func (h *GrantHandler) BulkGrant(c *gin.Context) {
	var req models.BulkGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.bulk.Grant(c.Request.Context(), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// BulkRevoke revokes a matrix of users x permission codes.
// POST /api/v1/user-permissions/bulk-revoke
func (h *GrantHandler) BulkRevoke(c *gin.Context) {
	var req models.BulkRevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.bulk.Revoke(c.Request.Context(), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
