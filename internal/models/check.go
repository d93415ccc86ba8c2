package models

import "time"

// Granted-by sources emitted by the check engine, in the order layers are
// consulted.
const (
	SourceSuperadmin = "superadmin"
	SourceMatrix     = "matrix"
	SourceCache      = "cache"
	SourceResource   = "resource-specific"
	SourceDirect     = "direct-user-permission"
	SourceDatabase   = "database"
)

// RoleSource names a role-layer contribution.
func RoleSource(roleName string) string { return "role:" + roleName }

// DelegationSource names a delegation-layer contribution.
func DelegationSource(delegatorProfileID string) string {
	return "delegation:" + delegatorProfileID
}

// PolicySource names a policy-layer contribution.
func PolicySource(policyCode string) string { return "policy:" + policyCode }

// CheckRequest asks whether a principal may perform an action.
type CheckRequest struct {
	UserProfileID string             `json:"userId" binding:"required"`
	Resource      string             `json:"resource" binding:"required"`
	Action        Action             `json:"action" binding:"required"`
	Scope         Scope              `json:"scope,omitempty"`
	ResourceID    string             `json:"resourceId,omitempty"`
	Context       *EvaluationContext `json:"context,omitempty"`
}

// CheckResult is the engine's answer. A denied result is a normal outcome,
// not an error.
type CheckResult struct {
	IsAllowed       bool     `json:"isAllowed"`
	GrantedBy       []string `json:"grantedBy,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	Source          string   `json:"source,omitempty"`
	CheckDurationMs int64    `json:"checkDurationMs"`
}

// CheckTriple is one coordinate of a batch check.
type CheckTriple struct {
	Resource   string `json:"resource" binding:"required"`
	Action     Action `json:"action" binding:"required"`
	Scope      Scope  `json:"scope,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`
}

// Key returns the batch result map key for the triple. Triples differing
// only in resource instance must land on distinct keys so a batch of N
// checks always yields N results.
func (t CheckTriple) Key() string {
	key := PermissionKey(t.Resource, t.Action, t.Scope)
	if t.ResourceID != "" {
		key += ":" + t.ResourceID
	}
	return key
}

// BatchCheckRequest checks up to the configured limit of triples for one
// user in a single call.
type BatchCheckRequest struct {
	UserProfileID string             `json:"userId" binding:"required"`
	Checks        []CheckTriple      `json:"checks" binding:"required,min=1"`
	Context       *EvaluationContext `json:"context,omitempty"`
}

// BatchCheckResult maps triple keys to individual results.
type BatchCheckResult struct {
	Results      map[string]CheckResult `json:"results"`
	TotalChecked int                    `json:"totalChecked"`
	TotalAllowed int                    `json:"totalAllowed"`
	CacheHits    int                    `json:"cacheHits"`
	DurationMs   int64                  `json:"durationMs"`
}

// CheckEvent is the live-stream payload published per resolved check.
type CheckEvent struct {
	UserProfileID string    `json:"userId"`
	Resource      string    `json:"resource"`
	Action        Action    `json:"action"`
	Scope         Scope     `json:"scope,omitempty"`
	Allowed       bool      `json:"allowed"`
	Source        string    `json:"source"`
	DurationMs    int64     `json:"durationMs"`
	Timestamp     time.Time `json:"ts"`
}
