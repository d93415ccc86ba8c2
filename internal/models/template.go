package models

import "time"

// TemplateTargetType narrows what a template may be applied to.
type TemplateTargetType string

const (
	TemplateTargetUser     TemplateTargetType = "USER"
	TemplateTargetPosition TemplateTargetType = "POSITION"
)

func (t TemplateTargetType) IsValid() bool {
	return t == TemplateTargetUser || t == TemplateTargetPosition
}

// PermissionTemplate is a named bundle of permission codes applied to a
// target in one operation.
type PermissionTemplate struct {
	ID               string             `json:"id" gorm:"column:id;primaryKey"`
	Code             string             `json:"code" gorm:"column:code;uniqueIndex"`
	Name             string             `json:"name" gorm:"column:name"`
	Description      string             `json:"description,omitempty" gorm:"column:description"`
	PermissionCodes  StringArray        `json:"permissionCodes" gorm:"column:permission_codes;type:jsonb"`
	TargetType       TemplateTargetType `json:"targetType" gorm:"column:target_type"`
	IsSystemTemplate bool               `json:"isSystemTemplate" gorm:"column:is_system_template"`
	IsActive         bool               `json:"isActive" gorm:"column:is_active"`
	CreatedAt        time.Time          `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt        time.Time          `json:"updatedAt" gorm:"column:updated_at"`
	CreatedBy        string             `json:"createdBy,omitempty" gorm:"column:created_by"`
}

func (PermissionTemplate) TableName() string { return "permission_templates" }

// TemplateApplication records one template applied to one target. Rollback
// of a grant marks it inactive; rollback of a revoke reactivates it.
type TemplateApplication struct {
	ID         string             `json:"id" gorm:"column:id;primaryKey"`
	TemplateID string             `json:"templateId" gorm:"column:template_id;index"`
	TargetType TemplateTargetType `json:"targetType" gorm:"column:target_type"`
	TargetID   string             `json:"targetId" gorm:"column:target_id;index"`
	AppliedBy  string             `json:"appliedBy" gorm:"column:applied_by"`
	AppliedAt  time.Time          `json:"appliedAt" gorm:"column:applied_at"`
	IsActive   bool               `json:"isActive" gorm:"column:is_active"`
	RevokedAt  *time.Time         `json:"revokedAt,omitempty" gorm:"column:revoked_at"`
	Notes      string             `json:"notes,omitempty" gorm:"column:notes"`
}

func (TemplateApplication) TableName() string { return "template_applications" }

// CreateTemplateRequest defines a template.
type CreateTemplateRequest struct {
	Code            string             `json:"code" binding:"required,min=3,max=100"`
	Name            string             `json:"name" binding:"required,min=3,max=200"`
	Description     string             `json:"description,omitempty"`
	PermissionCodes []string           `json:"permissionCodes" binding:"required,min=1"`
	TargetType      TemplateTargetType `json:"targetType" binding:"required"`
}

// UpdateTemplateRequest carries the mutable template fields.
type UpdateTemplateRequest struct {
	Name            *string  `json:"name,omitempty"`
	Description     *string  `json:"description,omitempty"`
	PermissionCodes []string `json:"permissionCodes,omitempty"`
	IsActive        *bool    `json:"isActive,omitempty"`
}

// ApplyTemplateRequest applies a template to one target.
type ApplyTemplateRequest struct {
	TargetID string `json:"targetId" binding:"required"`
	Notes    string `json:"notes,omitempty"`
}
