package models

import "time"

// Permission is the atomic unit of authority, addressed by the unique triple
// (resource, action, scope). Code is the stable public identifier.
type Permission struct {
	ID                 string      `json:"id" gorm:"column:id;primaryKey"`
	Code               string      `json:"code" gorm:"column:code;uniqueIndex"`
	Name               string      `json:"name" gorm:"column:name"`
	Description        string      `json:"description,omitempty" gorm:"column:description"`
	Resource           string      `json:"resource" gorm:"column:resource;index:idx_permissions_combination,unique"`
	Action             Action      `json:"action" gorm:"column:action;index:idx_permissions_combination,unique"`
	Scope              Scope       `json:"scope,omitempty" gorm:"column:scope;index:idx_permissions_combination,unique"`
	GroupID            *string     `json:"groupId,omitempty" gorm:"column:group_id"`
	Dependencies       StringArray `json:"dependencies,omitempty" gorm:"column:dependencies;type:jsonb"`
	IsSystemPermission bool        `json:"isSystemPermission" gorm:"column:is_system_permission"`
	IsActive           bool        `json:"isActive" gorm:"column:is_active"`
	Metadata           JSONMap     `json:"metadata,omitempty" gorm:"column:metadata;type:jsonb"`
	CreatedAt          time.Time   `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt          time.Time   `json:"updatedAt" gorm:"column:updated_at"`
	CreatedBy          string      `json:"createdBy,omitempty" gorm:"column:created_by"`
	UpdatedBy          string      `json:"updatedBy,omitempty" gorm:"column:updated_by"`
}

func (Permission) TableName() string { return "permissions" }

// Key returns the matrix/cache coordinate "resource:action:scope".
func (p *Permission) Key() string {
	return PermissionKey(p.Resource, p.Action, p.Scope)
}

// PermissionKey composes the canonical coordinate used by the matrix and the
// cache. An absent scope is encoded as "all".
func PermissionKey(resource string, action Action, scope Scope) string {
	s := string(scope)
	if s == "" {
		s = "all"
	}
	return resource + ":" + string(action) + ":" + s
}

// PermissionGroup is the optional taxonomy bucket permissions hang off.
type PermissionGroup struct {
	ID          string    `json:"id" gorm:"column:id;primaryKey"`
	Code        string    `json:"code" gorm:"column:code;uniqueIndex"`
	Name        string    `json:"name" gorm:"column:name"`
	Description string    `json:"description,omitempty" gorm:"column:description"`
	SortOrder   int       `json:"sortOrder" gorm:"column:sort_order"`
	IsActive    bool      `json:"isActive" gorm:"column:is_active"`
	CreatedAt   time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

func (PermissionGroup) TableName() string { return "permission_groups" }

// CreatePermissionRequest is the admin payload for defining a permission.
type CreatePermissionRequest struct {
	Code         string   `json:"code" binding:"required,min=3,max=100"`
	Name         string   `json:"name" binding:"required,min=3,max=200"`
	Description  string   `json:"description,omitempty"`
	Resource     string   `json:"resource" binding:"required,min=2,max=100"`
	Action       Action   `json:"action" binding:"required"`
	Scope        Scope    `json:"scope,omitempty"`
	GroupID      *string  `json:"groupId,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Metadata     JSONMap  `json:"metadata,omitempty"`
}

// UpdatePermissionRequest carries the mutable fields. Structural fields
// (resource/action/scope) of system permissions are immutable.
type UpdatePermissionRequest struct {
	Name         *string  `json:"name,omitempty"`
	Description  *string  `json:"description,omitempty"`
	GroupID      *string  `json:"groupId,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Metadata     JSONMap  `json:"metadata,omitempty"`
	IsActive     *bool    `json:"isActive,omitempty"`
}

// CreatePermissionGroupRequest defines a taxonomy bucket.
type CreatePermissionGroupRequest struct {
	Code        string `json:"code" binding:"required,min=2,max=100"`
	Name        string `json:"name" binding:"required,min=2,max=200"`
	Description string `json:"description,omitempty"`
	SortOrder   int    `json:"sortOrder,omitempty"`
}

// PermissionFilter narrows permission listings.
type PermissionFilter struct {
	Resource *string
	Action   *Action
	Scope    *Scope
	GroupID  *string
	IsActive *bool
	Search   string
	Limit    int
	Offset   int
}

// Critical permission codes that require forceRevoke on bulk revocation.
const (
	PermSystemAdmin      = "system.admin"
	PermPermissionGrant  = "permission.grant"
	PermPermissionRevoke = "permission.revoke"
)

// IsCriticalPermissionCode reports whether code is protected from casual
// revocation.
func IsCriticalPermissionCode(code string) bool {
	switch code {
	case PermSystemAdmin, PermPermissionGrant, PermPermissionRevoke:
		return true
	}
	return false
}
