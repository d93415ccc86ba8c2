package models

import "time"

// UserProfile is the principal record checks are evaluated for. Identity
// verification is upstream; ExternalID links back to the gateway's subject.
type UserProfile struct {
	ID           string    `json:"id" gorm:"column:id;primaryKey"`
	ExternalID   string    `json:"externalId" gorm:"column:external_id;uniqueIndex"`
	FullName     string    `json:"fullName" gorm:"column:full_name"`
	Email        string    `json:"email" gorm:"column:email;index"`
	IsSuperadmin bool      `json:"isSuperadmin" gorm:"column:is_superadmin"`
	DepartmentID *string   `json:"departmentId,omitempty" gorm:"column:department_id;index"`
	PositionID   *string   `json:"positionId,omitempty" gorm:"column:position_id;index"`
	SchoolID     *string   `json:"schoolId,omitempty" gorm:"column:school_id"`
	IsActive     bool      `json:"isActive" gorm:"column:is_active"`
	CreatedAt    time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt    time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

func (UserProfile) TableName() string { return "user_profiles" }

// AuthContext is the identity the upstream gateway attaches to a request.
type AuthContext struct {
	UserID       string `json:"userId"`
	ProfileID    string `json:"profileId"`
	IsSuperadmin bool   `json:"isSuperadmin"`
}
