package model

import (
	"github.com/google/uuid"
)

// CapabilityReport is sent by the browser after asking the learner for a
// device permission.
type CapabilityReport struct {
	Granted bool   `json:"granted"`
	Error   string `json:"error" binding:"max=500"`
	Device  string `json:"device" binding:"max=255"`
}

// NavigateRequest moves the current-question cursor.
type NavigateRequest struct {
	Action string `json:"action" binding:"required,oneof=next prev jump"`
	Index  int    `json:"index" binding:"min=0"`
}

// AnswerRequest replaces the answer of the current question. QuestionID, when
// present, must name the current question.
type AnswerRequest struct {
	QuestionID *uuid.UUID `json:"question_id"`
	Answer     Answer     `json:"answer"`
}

// MatchRequest sets one dropdown of a matching question.
type MatchRequest struct {
	Slot  *int   `json:"slot" binding:"required,min=0"`
	Value string `json:"value" binding:"max=1000"`
}

// FlagRequest records a proctor flag.
type FlagRequest struct {
	Type     FlagType `json:"type" binding:"required,flag_type"`
	Evidence string   `json:"evidence" binding:"max=1024"`
}

// GradeRequest is a teacher's manual grade for one answer.
type GradeRequest struct {
	Points    *int   `json:"points" binding:"required,min=0"`
	IsCorrect *bool  `json:"is_correct"`
	Feedback  string `json:"feedback" binding:"max=4000"`
}
