package worker

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerPayload is one autosaved answer on persist_answers_queue.
type AnswerPayload struct {
	AttemptID  uuid.UUID    `json:"attempt_id"`
	QuestionID uuid.UUID    `json:"question_id"`
	Answer     model.Answer `json:"answer"`
	SavedAt    time.Time    `json:"saved_at"`
}

// FlagPayload is one proctor flag on persist_flags_queue.
type FlagPayload struct {
	AttemptID uuid.UUID      `json:"attempt_id"`
	Type      model.FlagType `json:"type"`
	Evidence  string         `json:"evidence,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// QuestionOrderPayload is the presentation order of a randomized attempt.
type QuestionOrderPayload struct {
	AttemptID uuid.UUID   `json:"attempt_id"`
	Order     []uuid.UUID `json:"order"`
}

// ScorePayload is a finalized, auto-graded attempt on persist_scores_queue.
type ScorePayload struct {
	AttemptID     uuid.UUID            `json:"attempt_id"`
	TestID        uuid.UUID            `json:"test_id"`
	UserID        int                  `json:"user_id"`
	StartTime     time.Time            `json:"start_time"`
	EndTime       time.Time            `json:"end_time"`
	Score         int                  `json:"score"`
	QuestionOrder []uuid.UUID          `json:"question_order"`
	Answers       []model.AnswerRecord `json:"answers"`
}

// NewScorePayload builds the queue message for a graded attempt.
func NewScorePayload(a model.TestAttempt) ScorePayload {
	p := ScorePayload{
		AttemptID:     a.ID,
		TestID:        a.TestID,
		UserID:        a.UserID,
		StartTime:     a.StartTime,
		QuestionOrder: a.QuestionOrder,
		Answers:       a.Answers,
	}
	if a.EndTime != nil {
		p.EndTime = *a.EndTime
	}
	if a.Score != nil {
		p.Score = *a.Score
	}
	return p
}
