package models

import "time"

// Matrix entry priorities. The matrix stores the maximum across
// contributing layers.
const (
	MatrixPriorityDirect = 100
	MatrixPriorityRole   = 50
	MatrixPriorityNone   = 0
)

// PermissionMatrixEntry is one pre-computed effective-permission row. The
// key is (userProfileId, permissionKey) where permissionKey is
// "resource:action:scope".
type PermissionMatrixEntry struct {
	ID            string      `json:"id" gorm:"column:id;primaryKey"`
	UserProfileID string      `json:"userProfileId" gorm:"column:user_profile_id;index:idx_matrix,unique"`
	PermissionKey string      `json:"permissionKey" gorm:"column:permission_key;index:idx_matrix,unique"`
	IsAllowed     bool        `json:"isAllowed" gorm:"column:is_allowed"`
	GrantedBy     StringArray `json:"grantedBy" gorm:"column:granted_by;type:jsonb"`
	Priority      int         `json:"priority" gorm:"column:priority"`
	ExpiresAt     time.Time   `json:"expiresAt" gorm:"column:expires_at;index"`
	IsValid       bool        `json:"isValid" gorm:"column:is_valid"`
	Metadata      JSONMap     `json:"metadata,omitempty" gorm:"column:metadata;type:jsonb"`
	ComputedAt    time.Time   `json:"computedAt" gorm:"column:computed_at"`
}

func (PermissionMatrixEntry) TableName() string { return "permission_matrix" }

// Expired reports whether the row is past its expiry at t.
func (e *PermissionMatrixEntry) Expired(t time.Time) bool {
	return !e.ExpiresAt.After(t)
}

// ActiveUserTracking is the rolling per-user check counter driving warm-up
// and matrix-refresh scheduling.
type ActiveUserTracking struct {
	UserProfileID  string    `json:"userProfileId" gorm:"column:user_profile_id;primaryKey"`
	CheckCount     int64     `json:"checkCount" gorm:"column:check_count"`
	WindowStart    time.Time `json:"windowStart" gorm:"column:window_start"`
	LastCheckAt    time.Time `json:"lastCheckAt" gorm:"column:last_check_at;index"`
	IsHighPriority bool      `json:"isHighPriority" gorm:"column:is_high_priority;index"`
	UpdatedAt      time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

func (ActiveUserTracking) TableName() string { return "active_user_tracking" }

// CachedCheckResult is the value stored under a permission cache key. Only
// IsAllowed is surfaced on a hit; the rest is diagnostic.
type CachedCheckResult struct {
	IsAllowed  bool      `json:"isAllowed"`
	CachedAt   time.Time `json:"cachedAt"`
	TTLSeconds int       `json:"ttl"`
	Resource   string    `json:"resource"`
	Action     Action    `json:"action"`
	Scope      Scope     `json:"scope,omitempty"`
	ResourceID string    `json:"resourceId,omitempty"`
}
