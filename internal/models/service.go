package models

import (
	"strings"

	"gorm.io/gorm"
)

// Service is a USSD service reachable through a short code (e.g. *123#).
// MenuStructure holds the JSON menu graph; it is parsed and validated by the
// menu catalog, never interpreted here. Written only by the admin surface.
type Service struct {
	gorm.Model

	Code          string `json:"code" gorm:"uniqueIndex;size:20"`
	Name          string `json:"name" gorm:"size:100"`
	Description   string `json:"description" gorm:"type:text"`
	MenuStructure string `json:"menu_structure" gorm:"type:text"`
	IsActive      bool   `json:"is_active" gorm:"default:true"`
}

// BeforeSave normalizes the service code.
func (s *Service) BeforeSave(tx *gorm.DB) error {
	s.Code = strings.TrimSpace(s.Code)
	return nil
}
