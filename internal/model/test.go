package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnresolvedQuestion is returned when a test references a question that was
// not loaded.
var ErrUnresolvedQuestion = errors.New("unresolved question")

// Test is an exam definition. QuestionIDs order is the presentation order
// unless RandomizeQuestions is set.
type Test struct {
	ID                 uuid.UUID   `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	CreatedBy          int         `json:"created_by"`
	QuestionIDs        []uuid.UUID `json:"questions"`
	TimeLimit          int         `json:"time_limit"`
	PassingScore       int         `json:"passing_score"`
	RandomizeQuestions bool        `json:"randomize_questions"`
	ShowResults        bool        `json:"show_results"`
	RequireProctoring  bool        `json:"require_proctoring"`
	StartDate          *time.Time  `json:"start_date,omitempty"`
	EndDate            *time.Time  `json:"end_date,omitempty"`
	Attempts           int         `json:"attempts,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Availability describes a test's window relative to a point in time.
type Availability string

const (
	AvailabilityUpcoming Availability = "upcoming"
	AvailabilityOpen     Availability = "open"
	AvailabilityClosed   Availability = "closed"
)

// AvailabilityAt reports whether the test window has opened or closed at now.
func (t *Test) AvailabilityAt(now time.Time) Availability {
	if t.StartDate != nil && now.Before(*t.StartDate) {
		return AvailabilityUpcoming
	}
	if t.EndDate != nil && now.After(*t.EndDate) {
		return AvailabilityClosed
	}
	return AvailabilityOpen
}

// ResolveQuestions orders questions by QuestionIDs and fails if any
// referenced id is missing from the given set.
func (t *Test) ResolveQuestions(questions []Question) ([]Question, error) {
	byID := make(map[uuid.UUID]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	ordered := make([]Question, 0, len(t.QuestionIDs))
	for _, id := range t.QuestionIDs {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("question %s: %w", id, ErrUnresolvedQuestion)
		}
		ordered = append(ordered, q)
	}
	return ordered, nil
}

// TestPayload is the cached bundle of a test with its resolved questions.
type TestPayload struct {
	Test      Test       `json:"test"`
	Questions []Question `json:"questions"`
}

// TestSummary is the list view of a test.
type TestSummary struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	TimeLimit         int        `json:"time_limit"`
	PassingScore      int        `json:"passing_score"`
	QuestionCount     int        `json:"question_count"`
	RequireProctoring bool       `json:"require_proctoring"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
}

// Summary returns the list view of t.
func (t *Test) Summary() TestSummary {
	return TestSummary{
		ID:                t.ID,
		Title:             t.Title,
		Description:       t.Description,
		TimeLimit:         t.TimeLimit,
		PassingScore:      t.PassingScore,
		QuestionCount:     len(t.QuestionIDs),
		RequireProctoring: t.RequireProctoring,
		StartDate:         t.StartDate,
		EndDate:           t.EndDate,
	}
}
