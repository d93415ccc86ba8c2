package models

import "time"

// PermissionDelegation is a temporal, revocable transfer of a subset of the
// delegator's permission codes to the delegate. A delegator may only
// delegate codes they themselves hold at delegation time.
type PermissionDelegation struct {
	ID                 string      `json:"id" gorm:"column:id;primaryKey"`
	DelegatorProfileID string      `json:"delegatorProfileId" gorm:"column:delegator_profile_id;index"`
	DelegateProfileID  string      `json:"delegateProfileId" gorm:"column:delegate_profile_id;index"`
	Permissions        StringArray `json:"permissions" gorm:"column:permissions;type:jsonb"`
	ValidFrom          time.Time   `json:"validFrom" gorm:"column:valid_from"`
	ValidUntil         time.Time   `json:"validUntil" gorm:"column:valid_until"`
	Reason             string      `json:"reason,omitempty" gorm:"column:reason"`
	IsRevoked          bool        `json:"isRevoked" gorm:"column:is_revoked"`
	RevokedBy          string      `json:"revokedBy,omitempty" gorm:"column:revoked_by"`
	RevokedReason      string      `json:"revokedReason,omitempty" gorm:"column:revoked_reason"`
	RevokedAt          *time.Time  `json:"revokedAt,omitempty" gorm:"column:revoked_at"`
	CreatedAt          time.Time   `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt          time.Time   `json:"updatedAt" gorm:"column:updated_at"`
}

func (PermissionDelegation) TableName() string { return "permission_delegations" }

// ActiveAt reports whether the delegation is live at t.
func (d *PermissionDelegation) ActiveAt(t time.Time) bool {
	if d.IsRevoked {
		return false
	}
	return !t.Before(d.ValidFrom) && t.Before(d.ValidUntil)
}

// CreateDelegationRequest creates a delegation. The delegator is taken from
// the authenticated principal.
type CreateDelegationRequest struct {
	DelegateProfileID string    `json:"delegateProfileId" binding:"required"`
	Permissions       []string  `json:"permissions" binding:"required,min=1"`
	ValidFrom         time.Time `json:"validFrom,omitempty"`
	ValidUntil        time.Time `json:"validUntil" binding:"required"`
	Reason            string    `json:"reason,omitempty"`
}

// RevokeDelegationRequest revokes a delegation early.
type RevokeDelegationRequest struct {
	Reason string `json:"reason" binding:"required,min=3"`
}

// ExtendDelegationRequest pushes the window end later. Only the delegator
// may extend, and only strictly forward.
type ExtendDelegationRequest struct {
	ValidUntil time.Time `json:"validUntil" binding:"required"`
}

// DelegationFilter narrows delegation listings.
type DelegationFilter struct {
	DelegatorProfileID string
	DelegateProfileID  string
	ActiveOnly         bool
	Limit              int
	Offset             int
}
