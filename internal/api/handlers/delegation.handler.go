package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/api/middleware"
	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// DelegationHandler exposes time-boxed permission lending between users.
// The delegator is always the authenticated caller.
type DelegationHandler struct {
	delegations *services.DelegationService
	logger      logger.Logger
}

func NewDelegationHandler(delegations *services.DelegationService, log logger.Logger) *DelegationHandler {
	return &DelegationHandler{delegations: delegations, logger: log}
}

// Create lends a set of held permissions to another user for a window.
// POST /api/v1/permission-delegations
func (h *DelegationHandler) Create(c *gin.Context) {
	var req models.CreateDelegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	d, err := h.delegations.Create(c.Request.Context(), actor(c), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// Get returns one delegation.
// GET /api/v1/permission-delegations/:id
func (h *DelegationHandler) Get(c *gin.Context) {
	d, err := h.delegations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// List returns delegations matching the query filters.
// GET /api/v1/permission-delegations
func (h *DelegationHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	f := models.DelegationFilter{
		DelegatorProfileID: c.Query("delegatorId"),
		DelegateProfileID:  c.Query("delegateId"),
		Limit:              limit,
		Offset:             offset,
	}
	if active := boolQuery(c, "activeOnly"); active != nil {
		f.ActiveOnly = *active
	}

	items, err := h.delegations.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

// Revoke ends a delegation early. Only the delegator or a superadmin may.
// POST /api/v1/permission-delegations/:id/revoke
func (h *DelegationHandler) Revoke(c *gin.Context) {
	var req models.RevokeDelegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	superadmin := false
	if auth, ok := middleware.AuthFrom(c); ok {
		superadmin = auth.IsSuperadmin
	}
	if err := h.delegations.Revoke(c.Request.Context(), c.Param("id"), &req, actor(c), superadmin); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Extend pushes the delegation window end strictly later.
// POST /api/v1/permission-delegations/:id/extend
func (h *DelegationHandler) Extend(c *gin.Context) {
	var req models.ExtendDelegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	d, err := h.delegations.Extend(c.Request.Context(), c.Param("id"), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
