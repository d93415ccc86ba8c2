package models

import "time"

// History entity types.
const (
	EntityUserPermission       = "user_permission"
	EntityRolePermission       = "role_permission"
	EntityResourcePermission   = "resource_permission"
	EntityUserRole             = "user_role"
	EntityPermission           = "permission"
	EntityRole                 = "role"
	EntityPolicy               = "permission_policy"
	EntityPolicyAssignment     = "policy_assignment"
	EntityTemplateApplication  = "template_application"
	EntityPermissionDelegation = "permission_delegation"
)

// History operations.
const (
	OpGrant              = "grant"
	OpRevoke             = "revoke"
	OpUpdate             = "update"
	OpCreate             = "create"
	OpDelete             = "delete"
	OpInvalidationFailed = "invalidation_failed"
)

// RollbackOperation names the history entry a rollback writes for the given
// original operation. Rollback entries are themselves non-rollbackable.
func RollbackOperation(original string) string {
	return "rollback_" + original
}

// PermissionChangeHistory is the append-only mutation log. PreviousState
// carries the rollback payload; rows with IsRollbackable=true and a present
// PreviousState can be undone.
type PermissionChangeHistory struct {
	ID             string     `json:"id" gorm:"column:id;primaryKey"`
	EntityType     string     `json:"entityType" gorm:"column:entity_type;index"`
	EntityID       string     `json:"entityId" gorm:"column:entity_id;index"`
	Operation      string     `json:"operation" gorm:"column:operation;index"`
	PreviousState  JSONMap    `json:"previousState,omitempty" gorm:"column:previous_state;type:jsonb"`
	NewState       JSONMap    `json:"newState,omitempty" gorm:"column:new_state;type:jsonb"`
	PerformedBy    string     `json:"performedBy" gorm:"column:performed_by;index"`
	PerformedAt    time.Time  `json:"performedAt" gorm:"column:performed_at;index"`
	Metadata       JSONMap    `json:"metadata,omitempty" gorm:"column:metadata;type:jsonb"`
	IsRollbackable bool       `json:"isRollbackable" gorm:"column:is_rollbackable"`
	RolledBackAt   *time.Time `json:"rolledBackAt,omitempty" gorm:"column:rolled_back_at"`
	RollbackOf     *string    `json:"rollbackOf,omitempty" gorm:"column:rollback_of"`
}

func (PermissionChangeHistory) TableName() string { return "permission_change_history" }

// CanRollback reports whether this entry may still be undone.
func (h *PermissionChangeHistory) CanRollback() bool {
	return h.IsRollbackable && h.RolledBackAt == nil
}

// PermissionCheckLog is the per-check audit trail row, written
// fire-and-forget at the end of every check and purged after 30 days.
type PermissionCheckLog struct {
	ID              string    `json:"id" gorm:"column:id;primaryKey"`
	UserProfileID   string    `json:"userProfileId" gorm:"column:user_profile_id;index"`
	Resource        string    `json:"resource" gorm:"column:resource"`
	Action          Action    `json:"action" gorm:"column:action"`
	Scope           Scope     `json:"scope,omitempty" gorm:"column:scope"`
	ResourceID      string    `json:"resourceId,omitempty" gorm:"column:resource_id"`
	IsAllowed       bool      `json:"isAllowed" gorm:"column:is_allowed"`
	DeniedReason    string    `json:"deniedReason,omitempty" gorm:"column:denied_reason"`
	CheckDurationMs int64     `json:"checkDurationMs" gorm:"column:check_duration_ms"`
	Metadata        JSONMap   `json:"metadata,omitempty" gorm:"column:metadata;type:jsonb"`
	CreatedAt       time.Time `json:"createdAt" gorm:"column:created_at;index"`
}

func (PermissionCheckLog) TableName() string { return "permission_check_logs" }

// AuditRecord is the append-only audit sink row. The sink is an external
// collaborator; the default implementation appends to Postgres.
type AuditRecord struct {
	ID         string    `json:"id" gorm:"column:id;primaryKey"`
	ActorID    string    `json:"actorId" gorm:"column:actor_id;index"`
	Action     string    `json:"action" gorm:"column:action"`
	EntityType string    `json:"entityType" gorm:"column:entity_type;index"`
	EntityID   string    `json:"entityId" gorm:"column:entity_id;index"`
	Payload    JSONMap   `json:"payload,omitempty" gorm:"column:payload;type:jsonb"`
	CreatedAt  time.Time `json:"createdAt" gorm:"column:created_at;index"`
}

func (AuditRecord) TableName() string { return "audit_records" }

// HistoryFilter narrows history listings. Query carries an optional
// Lucene-style expression translated to SQL by the history query filter.
type HistoryFilter struct {
	EntityType  string
	EntityID    string
	Operation   string
	PerformedBy string
	Query       string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// CheckLogFilter narrows check-log listings.
type CheckLogFilter struct {
	UserProfileID string
	Resource      string
	AllowedOnly   *bool
	Query         string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}
