package models

import (
	"gorm.io/gorm"
)

// SurveyResponse stores one answer collected through a survey menu action.
type SurveyResponse struct {
	gorm.Model

	UserID        uint   `json:"user_id" gorm:"index"`
	SurveyID      string `json:"survey_id" gorm:"size:50"`
	QuestionID    string `json:"question_id" gorm:"size:50"`
	ResponseValue string `json:"response_value" gorm:"size:255"`
}
