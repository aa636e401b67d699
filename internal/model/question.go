package model

import (
	"github.com/google/uuid"
)

// QuestionType identifies how a question is answered and rendered.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple-choice"
	QuestionTypeTrueFalse      QuestionType = "true-false"
	QuestionTypeShortAnswer    QuestionType = "short-answer"
	QuestionTypeEssay          QuestionType = "essay"
	QuestionTypeMatching       QuestionType = "matching"
)

// Known reports whether t is one of the supported question kinds.
func (t QuestionType) Known() bool {
	switch t {
	case QuestionTypeMultipleChoice, QuestionTypeTrueFalse, QuestionTypeShortAnswer,
		QuestionTypeEssay, QuestionTypeMatching:
		return true
	}
	return false
}

// Difficulty is the difficulty level of a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyExpert Difficulty = "expert"
)

// Difficulties lists every level in ascending order.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyExpert}

// Question represents a single test question. It is immutable once a session
// has loaded it.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	Type          QuestionType `json:"type"`
	Content       string       `json:"content"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer Answer       `json:"correct_answer"`
	Difficulty    Difficulty   `json:"difficulty"`
	Points        int          `json:"points"`
	Explanation   string       `json:"explanation,omitempty"`
	Category      string       `json:"category,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
}

// IsCorrect compares a response against the expected answer by exact match.
// Matching questions compare every expected slot index-wise.
func (q Question) IsCorrect(a Answer) bool {
	if q.Type != QuestionTypeMatching {
		return !a.List && a.Text == q.CorrectAnswer.Text
	}
	expected := q.CorrectAnswer.Values
	if len(expected) == 0 {
		return false
	}
	for i, want := range expected {
		if a.Slot(i) != want {
			return false
		}
	}
	return true
}

// QuestionForStudent strips the expected answer and explanation.
type QuestionForStudent struct {
	ID         uuid.UUID    `json:"id"`
	Type       QuestionType `json:"type"`
	Content    string       `json:"content"`
	Options    []string     `json:"options,omitempty"`
	Difficulty Difficulty   `json:"difficulty"`
	Points     int          `json:"points"`
}

// ForStudent returns the public projection of q.
func (q Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:         q.ID,
		Type:       q.Type,
		Content:    q.Content,
		Options:    q.Options,
		Difficulty: q.Difficulty,
		Points:     q.Points,
	}
}
