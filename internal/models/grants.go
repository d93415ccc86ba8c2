package models

import "time"

// Default priority for direct grants. The direct layer wins ties by higher
// priority, then by newer CreatedAt.
const DefaultGrantPriority = 100

// UserPermission is a direct grant (or explicit deny) of one permission to
// one user profile.
type UserPermission struct {
	ID            string     `json:"id" gorm:"column:id;primaryKey"`
	UserProfileID string     `json:"userProfileId" gorm:"column:user_profile_id;index:idx_user_permissions,unique"`
	PermissionID  string     `json:"permissionId" gorm:"column:permission_id;index:idx_user_permissions,unique"`
	IsGranted     bool       `json:"isGranted" gorm:"column:is_granted"`
	Conditions    JSONMap    `json:"conditions,omitempty" gorm:"column:conditions;type:jsonb"`
	ValidFrom     *time.Time `json:"validFrom,omitempty" gorm:"column:valid_from"`
	ValidUntil    *time.Time `json:"validUntil,omitempty" gorm:"column:valid_until"`
	Priority      int        `json:"priority" gorm:"column:priority"`
	IsTemporary   bool       `json:"isTemporary" gorm:"column:is_temporary"`
	GrantReason   string     `json:"grantReason,omitempty" gorm:"column:grant_reason"`
	GrantedBy     string     `json:"grantedBy,omitempty" gorm:"column:granted_by"`
	RevokeReason  string     `json:"revokeReason,omitempty" gorm:"column:revoke_reason"`
	RevokedBy     string     `json:"revokedBy,omitempty" gorm:"column:revoked_by"`
	CreatedAt     time.Time  `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" gorm:"column:updated_at"`
}

func (UserPermission) TableName() string { return "user_permissions" }

// ActiveAt reports whether the grant's temporal window covers t. It does not
// look at IsGranted: an in-window IsGranted=false row is an active explicit
// deny.
func (up *UserPermission) ActiveAt(t time.Time) bool {
	if up.ValidFrom != nil && t.Before(*up.ValidFrom) {
		return false
	}
	if up.ValidUntil != nil && !t.Before(*up.ValidUntil) {
		return false
	}
	return true
}

// ResourcePermission grants a permission on one specific object instance.
// Resource grants can allow but never deny by themselves.
type ResourcePermission struct {
	ID            string     `json:"id" gorm:"column:id;primaryKey"`
	UserProfileID string     `json:"userProfileId" gorm:"column:user_profile_id;index:idx_resource_permissions,unique"`
	PermissionID  string     `json:"permissionId" gorm:"column:permission_id;index:idx_resource_permissions,unique"`
	ResourceType  string     `json:"resourceType" gorm:"column:resource_type;index:idx_resource_permissions,unique"`
	ResourceID    string     `json:"resourceId" gorm:"column:resource_id;index:idx_resource_permissions,unique"`
	IsGranted     bool       `json:"isGranted" gorm:"column:is_granted"`
	Conditions    JSONMap    `json:"conditions,omitempty" gorm:"column:conditions;type:jsonb"`
	ValidFrom     *time.Time `json:"validFrom,omitempty" gorm:"column:valid_from"`
	ValidUntil    *time.Time `json:"validUntil,omitempty" gorm:"column:valid_until"`
	GrantReason   string     `json:"grantReason,omitempty" gorm:"column:grant_reason"`
	GrantedBy     string     `json:"grantedBy,omitempty" gorm:"column:granted_by"`
	RevokeReason  string     `json:"revokeReason,omitempty" gorm:"column:revoke_reason"`
	CreatedAt     time.Time  `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" gorm:"column:updated_at"`
}

func (ResourcePermission) TableName() string { return "resource_permissions" }

// ActiveAt reports whether the instance grant's window covers t.
func (rp *ResourcePermission) ActiveAt(t time.Time) bool {
	if rp.ValidFrom != nil && t.Before(*rp.ValidFrom) {
		return false
	}
	if rp.ValidUntil != nil && !t.Before(*rp.ValidUntil) {
		return false
	}
	return true
}

// GrantUserPermissionRequest creates or reactivates a direct grant.
type GrantUserPermissionRequest struct {
	UserProfileID string     `json:"userProfileId" binding:"required"`
	PermissionID  string     `json:"permissionId" binding:"required"`
	IsGranted     *bool      `json:"isGranted,omitempty"` // nil = true
	Conditions    JSONMap    `json:"conditions,omitempty"`
	ValidFrom     *time.Time `json:"validFrom,omitempty"`
	ValidUntil    *time.Time `json:"validUntil,omitempty"`
	Priority      *int       `json:"priority,omitempty" binding:"omitempty,min=0,max=1000"`
	IsTemporary   bool       `json:"isTemporary,omitempty"`
	GrantReason   string     `json:"grantReason,omitempty"`
}

// RevokeUserPermissionRequest flips an active grant to a revoked state.
// A reason is mandatory; it lands in history and audit.
type RevokeUserPermissionRequest struct {
	RevokeReason string `json:"revokeReason" binding:"required,min=3"`
}

// GrantResourcePermissionRequest creates an instance-scoped grant.
type GrantResourcePermissionRequest struct {
	UserProfileID string     `json:"userProfileId" binding:"required"`
	PermissionID  string     `json:"permissionId" binding:"required"`
	ResourceType  string     `json:"resourceType" binding:"required"`
	ResourceID    string     `json:"resourceId" binding:"required"`
	Conditions    JSONMap    `json:"conditions,omitempty"`
	ValidFrom     *time.Time `json:"validFrom,omitempty"`
	ValidUntil    *time.Time `json:"validUntil,omitempty"`
	GrantReason   string     `json:"grantReason,omitempty"`
}

// BulkGrantRequest is a multi-target grant batch.
type BulkGrantRequest struct {
	TargetUserIDs   []string   `json:"targetUserIds" binding:"required,min=1,max=100"`
	PermissionCodes []string   `json:"permissionCodes" binding:"required,min=1,max=100"`
	ValidFrom       *time.Time `json:"validFrom,omitempty"`
	ValidUntil      *time.Time `json:"validUntil,omitempty"`
	GrantReason     string     `json:"grantReason,omitempty"`
}

// BulkRevokeRequest is a multi-target revoke batch. Critical permission
// codes are skipped unless ForceRevoke is set.
type BulkRevokeRequest struct {
	TargetUserIDs   []string `json:"targetUserIds" binding:"required,min=1,max=100"`
	PermissionCodes []string `json:"permissionCodes" binding:"required,min=1,max=100"`
	RevokeReason    string   `json:"revokeReason" binding:"required,min=3"`
	ForceRevoke     bool     `json:"forceRevoke,omitempty"`
}

// BulkOperationError describes one failed (target, permission) pair.
type BulkOperationError struct {
	TargetID       string `json:"targetId"`
	PermissionCode string `json:"permissionCode"`
	Reason         string `json:"reason"`
}

// BulkOperationResult reports a partially-failed batch. The successes are
// committed atomically; failures are returned, not rolled back over.
type BulkOperationResult struct {
	Processed int                  `json:"processed"`
	Failed    int                  `json:"failed"`
	Summary   BulkOperationSummary `json:"summary"`
	Errors    []BulkOperationError `json:"errors,omitempty"`
}

// BulkOperationSummary breaks successes down.
type BulkOperationSummary struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// UserPermissionSummary is the effective-permission view for one user.
type UserPermissionSummary struct {
	UserProfileID string           `json:"userProfileId"`
	Direct        []UserPermission `json:"direct"`
	Roles         []Role           `json:"roles"`
	RoleDerived   []Permission     `json:"roleDerived"`
	Delegated     []string         `json:"delegatedCodes,omitempty"`
	GeneratedAt   time.Time        `json:"generatedAt"`
}
