package models

import (
	"gorm.io/gorm"
)

// InteractionLog is an immutable record of one USSD turn. Exactly one entry
// is written per processed interaction, success or failure.
type InteractionLog struct {
	gorm.Model

	UserID         uint   `json:"user_id" gorm:"index"`
	SessionID      string `json:"session_id" gorm:"index;size:100"`
	InputText      string `json:"input_text" gorm:"size:255"`
	ResponseText   string `json:"response_text" gorm:"type:text"`
	MenuLevel      string `json:"menu_level" gorm:"size:100"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	IsError        bool   `json:"is_error" gorm:"default:false"`
	ErrorMessage   string `json:"error_message" gorm:"type:text"`
}
