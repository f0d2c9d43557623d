package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// User is a handset owner identified by MSISDN. Users are created on first
// contact and otherwise managed by the admin surface.
type User struct {
	gorm.Model

	PhoneNumber  string    `json:"phone_number" gorm:"uniqueIndex;size:20"`
	FirstName    string    `json:"first_name" gorm:"size:50"`
	LastName     string    `json:"last_name" gorm:"size:50"`
	RegisteredAt time.Time `json:"registered_at"`
	LastActivity time.Time `json:"last_activity"`
	IsActive     bool      `json:"is_active" gorm:"default:true"`
}

// BeforeCreate normalizes the phone number and stamps registration time.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	u.PhoneNumber = strings.TrimSpace(u.PhoneNumber)

	now := time.Now()
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = now
	}
	if u.LastActivity.IsZero() {
		u.LastActivity = now
	}
	return nil
}
