package models

import (
	"time"

	"gorm.io/gorm"
)

// Session end reasons.
const (
	EndReasonCompleted = "completed"
	EndReasonTimeout   = "timeout"
	EndReasonError     = "error"
)

// Session is one USSD dialog. The session id is assigned by the gateway and
// globally unique; the server only ever sees one dialog per id.
type Session struct {
	gorm.Model

	SessionID    string            `json:"session_id" gorm:"uniqueIndex;size:100"`
	UserID       uint              `json:"user_id" gorm:"index"`
	ServiceCode  string            `json:"service_code" gorm:"size:20"`
	CurrentMenu  string            `json:"current_menu" gorm:"size:100"`
	SessionData  map[string]string `json:"session_data" gorm:"serializer:json"`
	LastInput    string            `json:"last_input" gorm:"size:255"`
	LastResponse string            `json:"last_response" gorm:"type:text"`
	InvalidCount int               `json:"invalid_count" gorm:"default:0"`
	StartedAt    time.Time         `json:"started_at"`
	LastActivity time.Time         `json:"last_activity" gorm:"index"`
	EndedAt      *time.Time        `json:"ended_at"`
	EndReason    string            `json:"end_reason" gorm:"size:20"`
	IsActive     bool              `json:"is_active" gorm:"default:true;index"`

	// Optimistic concurrency token; bumped on every successful update.
	Version uint `json:"version" gorm:"default:0"`
}

// BeforeCreate stamps start/activity times and allocates the data bag.
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	if s.LastActivity.IsZero() {
		s.LastActivity = now
	}
	if s.SessionData == nil {
		s.SessionData = make(map[string]string)
	}
	return nil
}

// Touch advances last_activity, never moving it backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// End marks the session terminated with the given reason.
func (s *Session) End(now time.Time, reason string) {
	s.IsActive = false
	s.EndReason = reason
	ended := now
	s.EndedAt = &ended
	s.Touch(now)
}

// SetData writes one key into the accumulating data bag.
func (s *Session) SetData(key, value string) {
	if s.SessionData == nil {
		s.SessionData = make(map[string]string)
	}
	s.SessionData[key] = value
}

// Clone returns a deep copy so stores can hand out sessions without
// exposing internal state.
func (s *Session) Clone() *Session {
	dup := *s
	if s.SessionData != nil {
		dup.SessionData = make(map[string]string, len(s.SessionData))
		for k, v := range s.SessionData {
			dup.SessionData[k] = v
		}
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		dup.EndedAt = &ended
	}
	return &dup
}
