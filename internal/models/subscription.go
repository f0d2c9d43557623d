package models

import (
	"time"

	"gorm.io/gorm"
)

// Subscription links a user to a service. Menu options can require an active
// subscription before they may be chosen.
type Subscription struct {
	gorm.Model

	UserID       uint       `json:"user_id" gorm:"index"`
	ServiceID    uint       `json:"service_id" gorm:"index"`
	SubscribedAt time.Time  `json:"subscribed_at"`
	ExpiresAt    *time.Time `json:"expires_at"`
	IsActive     bool       `json:"is_active" gorm:"default:true"`
}

// BeforeCreate stamps the subscription time.
func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.SubscribedAt.IsZero() {
		s.SubscribedAt = time.Now()
	}
	return nil
}

// ActiveAt reports whether the subscription is usable at the given time.
func (s *Subscription) ActiveAt(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}
