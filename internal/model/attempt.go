package model

import (
	"time"

	"github.com/google/uuid"
)

// FlagType enumerates proctoring events reported by the monitoring side.
type FlagType string

const (
	FlagTabSwitch          FlagType = "tab-switch"
	FlagFaceNotVisible     FlagType = "face-not-visible"
	FlagMultipleFaces      FlagType = "multiple-faces"
	FlagVoiceDetected      FlagType = "voice-detected"
	FlagSuspiciousMovement FlagType = "suspicious-movement"
)

// Valid reports whether f is a known flag type.
func (f FlagType) Valid() bool {
	switch f {
	case FlagTabSwitch, FlagFaceNotVisible, FlagMultipleFaces, FlagVoiceDetected, FlagSuspiciousMovement:
		return true
	}
	return false
}

// Description returns the learner-facing sentence for a flag type.
func (f FlagType) Description() string {
	switch f {
	case FlagTabSwitch:
		return "Browser tab switch detected"
	case FlagFaceNotVisible:
		return "Face not visible in camera"
	case FlagMultipleFaces:
		return "Multiple faces detected"
	case FlagVoiceDetected:
		return "Voice detected during test"
	case FlagSuspiciousMovement:
		return "Suspicious movement detected"
	default:
		return "Unknown activity detected"
	}
}

// ProctorFlag is an append-only record of suspicious activity.
type ProctorFlag struct {
	Timestamp time.Time `json:"timestamp"`
	Type      FlagType  `json:"type"`
	Evidence  string    `json:"evidence,omitempty"`
}

// AnswerRecord is the learner's response to one question plus grading fields.
type AnswerRecord struct {
	QuestionID     uuid.UUID `json:"question_id"`
	Answer         Answer    `json:"answer"`
	IsCorrect      *bool     `json:"is_correct,omitempty"`
	Points         int       `json:"points"`
	ManuallyGraded bool      `json:"manually_graded,omitempty"`
	Feedback       string    `json:"feedback,omitempty"`
}

// TestAttempt is one learner's traversal of a test.
type TestAttempt struct {
	ID            uuid.UUID      `json:"id"`
	TestID        uuid.UUID      `json:"test_id"`
	UserID        int            `json:"user_id"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	Answers       []AnswerRecord `json:"answers"`
	Score         *int           `json:"score,omitempty"`
	Completed     bool           `json:"completed"`
	ProctorFlags  []ProctorFlag  `json:"proctor_flags,omitempty"`
	QuestionOrder []uuid.UUID    `json:"question_order,omitempty"`
}

// Clone returns a deep copy so frozen attempts cannot be mutated through
// shared slices.
func (a TestAttempt) Clone() TestAttempt {
	out := a
	if a.EndTime != nil {
		end := *a.EndTime
		out.EndTime = &end
	}
	if a.Score != nil {
		score := *a.Score
		out.Score = &score
	}
	out.Answers = make([]AnswerRecord, len(a.Answers))
	for i, rec := range a.Answers {
		rec.Answer = rec.Answer.Clone()
		if rec.IsCorrect != nil {
			v := *rec.IsCorrect
			rec.IsCorrect = &v
		}
		out.Answers[i] = rec
	}
	out.ProctorFlags = append([]ProctorFlag(nil), a.ProctorFlags...)
	out.QuestionOrder = append([]uuid.UUID(nil), a.QuestionOrder...)
	return out
}

// AnswerFor returns the record for a question.
func (a *TestAttempt) AnswerFor(questionID uuid.UUID) (AnswerRecord, bool) {
	for _, rec := range a.Answers {
		if rec.QuestionID == questionID {
			return rec, true
		}
	}
	return AnswerRecord{}, false
}

// AttemptListItem is the teacher-facing row of an attempt.
type AttemptListItem struct {
	ID        uuid.UUID  `json:"id"`
	UserID    int        `json:"user_id"`
	UserName  string     `json:"user_name"`
	Email     string     `json:"email"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Score     *int       `json:"score,omitempty"`
	Completed bool       `json:"completed"`
	FlagCount int        `json:"flag_count"`
}
