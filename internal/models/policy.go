package models

import "time"

// PermissionPolicy is a typed rule set. Rules are validated by the evaluator
// registered for Type before the policy is persisted. Lower Priority value
// means higher precedence.
type PermissionPolicy struct {
	ID               string      `json:"id" gorm:"column:id;primaryKey"`
	Code             string      `json:"code" gorm:"column:code;uniqueIndex"`
	Name             string      `json:"name" gorm:"column:name"`
	Description      string      `json:"description,omitempty" gorm:"column:description"`
	Type             PolicyType  `json:"type" gorm:"column:type"`
	Rules            JSONMap     `json:"rules" gorm:"column:rules;type:jsonb"`
	Priority         int         `json:"priority" gorm:"column:priority"`
	GrantPermissions StringArray `json:"grantPermissions,omitempty" gorm:"column:grant_permissions;type:jsonb"`
	DenyPermissions  StringArray `json:"denyPermissions,omitempty" gorm:"column:deny_permissions;type:jsonb"`
	IsActive         bool        `json:"isActive" gorm:"column:is_active"`
	CreatedAt        time.Time   `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt        time.Time   `json:"updatedAt" gorm:"column:updated_at"`
	CreatedBy        string      `json:"createdBy,omitempty" gorm:"column:created_by"`
	UpdatedBy        string      `json:"updatedBy,omitempty" gorm:"column:updated_by"`
}

func (PermissionPolicy) TableName() string { return "permission_policies" }

// PolicyAssignment binds a policy to a principal (user, role, department,
// or position) within an optional temporal window.
type PolicyAssignment struct {
	ID            string        `json:"id" gorm:"column:id;primaryKey"`
	PolicyID      string        `json:"policyId" gorm:"column:policy_id;index:idx_policy_assignments,unique"`
	PrincipalType PrincipalType `json:"principalType" gorm:"column:principal_type;index:idx_policy_assignments,unique"`
	PrincipalID   string        `json:"principalId" gorm:"column:principal_id;index:idx_policy_assignments,unique"`
	Conditions    JSONMap       `json:"conditions,omitempty" gorm:"column:conditions;type:jsonb"`
	ValidFrom     *time.Time    `json:"validFrom,omitempty" gorm:"column:valid_from"`
	ValidUntil    *time.Time    `json:"validUntil,omitempty" gorm:"column:valid_until"`
	AssignedBy    string        `json:"assignedBy,omitempty" gorm:"column:assigned_by"`
	CreatedAt     time.Time     `json:"createdAt" gorm:"column:created_at"`
}

func (PolicyAssignment) TableName() string { return "policy_assignments" }

// ActiveAt reports whether the assignment's window covers t.
func (pa *PolicyAssignment) ActiveAt(t time.Time) bool {
	if pa.ValidFrom != nil && t.Before(*pa.ValidFrom) {
		return false
	}
	if pa.ValidUntil != nil && !t.Before(*pa.ValidUntil) {
		return false
	}
	return true
}

// EvaluationContext is the ambient state policies evaluate against. It
// arrives with the check request; absent fields simply match nothing.
type EvaluationContext struct {
	Timestamp             time.Time `json:"timestamp,omitempty"`
	IPAddress             string    `json:"ipAddress,omitempty"`
	Country               string    `json:"country,omitempty"`
	City                  string    `json:"city,omitempty"`
	Latitude              *float64  `json:"latitude,omitempty"`
	Longitude             *float64  `json:"longitude,omitempty"`
	UserAttributes        JSONMap   `json:"userAttributes,omitempty"`
	ResourceAttributes    JSONMap   `json:"resourceAttributes,omitempty"`
	EnvironmentAttributes JSONMap   `json:"environmentAttributes,omitempty"`
}

// PolicyEvaluationResult is the uniform evaluator output.
type PolicyEvaluationResult struct {
	IsApplicable       bool     `json:"isApplicable"`
	GrantedPermissions []string `json:"grantedPermissions,omitempty"`
	DeniedPermissions  []string `json:"deniedPermissions,omitempty"`
	Reason             string   `json:"reason,omitempty"`
	Metadata           JSONMap  `json:"metadata,omitempty"`
}

// CreatePolicyRequest defines a policy.
type CreatePolicyRequest struct {
	Code             string     `json:"code" binding:"required,min=3,max=100"`
	Name             string     `json:"name" binding:"required,min=3,max=200"`
	Description      string     `json:"description,omitempty"`
	Type             PolicyType `json:"type" binding:"required"`
	Rules            JSONMap    `json:"rules" binding:"required"`
	Priority         int        `json:"priority,omitempty"`
	GrantPermissions []string   `json:"grantPermissions,omitempty"`
	DenyPermissions  []string   `json:"denyPermissions,omitempty"`
}

// UpdatePolicyRequest carries the mutable policy fields. A Rules update is
// re-validated by the matching evaluator.
type UpdatePolicyRequest struct {
	Name             *string  `json:"name,omitempty"`
	Description      *string  `json:"description,omitempty"`
	Rules            JSONMap  `json:"rules,omitempty"`
	Priority         *int     `json:"priority,omitempty"`
	GrantPermissions []string `json:"grantPermissions,omitempty"`
	DenyPermissions  []string `json:"denyPermissions,omitempty"`
	IsActive         *bool    `json:"isActive,omitempty"`
}

// AssignPolicyRequest binds a policy to a principal.
type AssignPolicyRequest struct {
	PrincipalType PrincipalType `json:"principalType" binding:"required"`
	PrincipalID   string        `json:"principalId" binding:"required"`
	Conditions    JSONMap       `json:"conditions,omitempty"`
	ValidFrom     *time.Time    `json:"validFrom,omitempty"`
	ValidUntil    *time.Time    `json:"validUntil,omitempty"`
}

// EvaluatePolicyRequest evaluates one policy (or all applicable policies)
// against a context.
type EvaluatePolicyRequest struct {
	UserProfileID string             `json:"userProfileId,omitempty"`
	Context       *EvaluationContext `json:"context,omitempty"`
}
