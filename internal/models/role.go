package models

import "time"

// Role is a named bundle of permissions. Roles form a DAG through
// RoleParent edges; HierarchyLevel orders authority (lower = more
// authoritative). System roles admit no permission or hierarchy edits.
type Role struct {
	ID             string    `json:"id" gorm:"column:id;primaryKey"`
	Code           string    `json:"code" gorm:"column:code;uniqueIndex"`
	Name           string    `json:"name" gorm:"column:name"`
	Description    string    `json:"description,omitempty" gorm:"column:description"`
	HierarchyLevel int       `json:"hierarchyLevel" gorm:"column:hierarchy_level"`
	IsSystemRole   bool      `json:"isSystemRole" gorm:"column:is_system_role"`
	IsActive       bool      `json:"isActive" gorm:"column:is_active"`
	CreatedAt      time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt      time.Time `json:"updatedAt" gorm:"column:updated_at"`
	CreatedBy      string    `json:"createdBy,omitempty" gorm:"column:created_by"`
	UpdatedBy      string    `json:"updatedBy,omitempty" gorm:"column:updated_by"`
}

func (Role) TableName() string { return "roles" }

// RoleParent is one inheritance edge of the role DAG. When
// InheritPermissions is false the edge orders hierarchy without carrying
// grants.
type RoleParent struct {
	ID                 string    `json:"id" gorm:"column:id;primaryKey"`
	RoleID             string    `json:"roleId" gorm:"column:role_id;index:idx_role_parents,unique"`
	ParentRoleID       string    `json:"parentRoleId" gorm:"column:parent_role_id;index:idx_role_parents,unique"`
	InheritPermissions bool      `json:"inheritPermissions" gorm:"column:inherit_permissions"`
	CreatedAt          time.Time `json:"createdAt" gorm:"column:created_at"`
}

func (RoleParent) TableName() string { return "role_parents" }

// RolePermission is a (role → permission) edge. IsGranted=false is an
// explicit deny at the role layer.
type RolePermission struct {
	ID           string     `json:"id" gorm:"column:id;primaryKey"`
	RoleID       string     `json:"roleId" gorm:"column:role_id;index:idx_role_permissions,unique"`
	PermissionID string     `json:"permissionId" gorm:"column:permission_id;index:idx_role_permissions,unique"`
	IsGranted    bool       `json:"isGranted" gorm:"column:is_granted"`
	Conditions   JSONMap    `json:"conditions,omitempty" gorm:"column:conditions;type:jsonb"`
	ValidFrom    *time.Time `json:"validFrom,omitempty" gorm:"column:valid_from"`
	ValidUntil   *time.Time `json:"validUntil,omitempty" gorm:"column:valid_until"`
	GrantReason  string     `json:"grantReason,omitempty" gorm:"column:grant_reason"`
	GrantedBy    string     `json:"grantedBy,omitempty" gorm:"column:granted_by"`
	CreatedAt    time.Time  `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" gorm:"column:updated_at"`
}

func (RolePermission) TableName() string { return "role_permissions" }

// ActiveAt reports whether the edge's temporal window covers t.
func (rp *RolePermission) ActiveAt(t time.Time) bool {
	if rp.ValidFrom != nil && t.Before(*rp.ValidFrom) {
		return false
	}
	if rp.ValidUntil != nil && !t.Before(*rp.ValidUntil) {
		return false
	}
	return true
}

// UserRole assigns a role to a user profile.
type UserRole struct {
	ID            string     `json:"id" gorm:"column:id;primaryKey"`
	UserProfileID string     `json:"userProfileId" gorm:"column:user_profile_id;index:idx_user_roles,unique"`
	RoleID        string     `json:"roleId" gorm:"column:role_id;index:idx_user_roles,unique"`
	IsActive      bool       `json:"isActive" gorm:"column:is_active"`
	ValidFrom     *time.Time `json:"validFrom,omitempty" gorm:"column:valid_from"`
	ValidUntil    *time.Time `json:"validUntil,omitempty" gorm:"column:valid_until"`
	AssignedBy    string     `json:"assignedBy,omitempty" gorm:"column:assigned_by"`
	CreatedAt     time.Time  `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" gorm:"column:updated_at"`
}

func (UserRole) TableName() string { return "user_roles" }

// ActiveAt reports whether the assignment is live at t.
func (ur *UserRole) ActiveAt(t time.Time) bool {
	if !ur.IsActive {
		return false
	}
	if ur.ValidFrom != nil && t.Before(*ur.ValidFrom) {
		return false
	}
	if ur.ValidUntil != nil && !t.Before(*ur.ValidUntil) {
		return false
	}
	return true
}

// CreateRoleRequest is the admin payload for defining a role.
type CreateRoleRequest struct {
	Code           string   `json:"code" binding:"required,min=3,max=100"`
	Name           string   `json:"name" binding:"required,min=3,max=200"`
	Description    string   `json:"description,omitempty"`
	HierarchyLevel int      `json:"hierarchyLevel,omitempty"`
	PermissionIDs  []string `json:"permissionIds,omitempty"`
	ParentRoleIDs  []string `json:"parentRoleIds,omitempty"`
}

// UpdateRoleRequest carries the mutable role fields.
type UpdateRoleRequest struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	HierarchyLevel *int    `json:"hierarchyLevel,omitempty"`
	IsActive       *bool   `json:"isActive,omitempty"`
}

// GrantRolePermissionRequest attaches a permission to a role.
type GrantRolePermissionRequest struct {
	PermissionID string     `json:"permissionId" binding:"required"`
	IsGranted    *bool      `json:"isGranted,omitempty"` // nil = true
	Conditions   JSONMap    `json:"conditions,omitempty"`
	ValidFrom    *time.Time `json:"validFrom,omitempty"`
	ValidUntil   *time.Time `json:"validUntil,omitempty"`
	GrantReason  string     `json:"grantReason,omitempty"`
}

// AssignRoleRequest assigns a role to a user.
type AssignRoleRequest struct {
	UserProfileID string     `json:"userProfileId" binding:"required"`
	RoleID        string     `json:"roleId" binding:"required"`
	ValidFrom     *time.Time `json:"validFrom,omitempty"`
	ValidUntil    *time.Time `json:"validUntil,omitempty"`
}

// RoleFilter narrows role listings.
type RoleFilter struct {
	IsActive *bool
	Search   string
	Limit    int
	Offset   int
}
