package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// PolicyHandler exposes dynamic policies, their principal assignments, and
// ad-hoc evaluation.
type PolicyHandler struct {
	policies *services.PolicyService
	logger   logger.Logger
}

func NewPolicyHandler(policies *services.PolicyService, log logger.Logger) *PolicyHandler {
	return &PolicyHandler{policies: policies, logger: log}
}

// Create registers a policy.
// POST /api/v1/permission-policies
func (h *PolicyHandler) Create(c *gin.Context) {
	var req models.CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	p, err := h.policies.Create(c.Request.Context(), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// Get returns one policy.
// GET /api/v1/permission-policies/:id
func (h *PolicyHandler) Get(c *gin.Context) {
	p, err := h.policies.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// List returns policies.
// GET /api/v1/permission-policies
func (h *PolicyHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	activeOnly := false
	if b := boolQuery(c, "activeOnly"); b != nil {
		activeOnly = *b
	}

	items, err := h.policies.List(c.Request.Context(), activeOnly, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

// Update edits a policy.
// PUT /api/v1/permission-policies/:id
func (h *PolicyHandler) Update(c *gin.Context) {
	var req models.UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	p, err := h.policies.Update(c.Request.Context(), c.Param("id"), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Delete removes a policy and its assignments.
// DELETE /api/v1/permission-policies/:id
func (h *PolicyHandler) Delete(c *gin.Context) {
	if err := h.policies.Delete(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Assign attaches a policy to a principal.
// POST /api/v1/permission-policies/:id/assignments
func (h *PolicyHandler) Assign(c *gin.Context) {
	var req models.AssignPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	a, err := h.policies.Assign(c.Request.Context(), c.Param("id"), &req, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// Unassign detaches a policy assignment.
// DELETE /api/v1/policy-assignments/:id
func (h *PolicyHandler) Unassign(c *gin.Context) {
	if err := h.policies.Unassign(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Assignments lists the principals a policy applies to.
// GET /api/v1/permission-policies/:id/assignments
func (h *PolicyHandler) Assignments(c *gin.Context) {
	items, err := h.policies.Assignments(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Evaluate runs one policy against a caller-supplied context.
// POST /api/v1/permission-policies/:id/evaluate
func (h *PolicyHandler) Evaluate(c *gin.Context) {
	var evalCtx models.EvaluationContext
	if err := c.ShouldBindJSON(&evalCtx); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.policies.Evaluate(c.Request.Context(), c.Param("id"), &evalCtx)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// EvaluateAll runs every policy applicable to a user.
// POST /api/v1/permission-policies/evaluate-all
func (h *PolicyHandler) EvaluateAll(c *gin.Context) {
	var req struct {
		UserProfileID string                   `json:"userId" binding:"required"`
		Context       models.EvaluationContext `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	results, err := h.policies.EvaluateAll(c.Request.Context(), req.UserProfileID, &req.Context)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
