package grading

import (
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	ErrAnswerNotFound = errors.New("answer not found in attempt")
	ErrPointsExceeded = errors.New("awarded points exceed question points")
)

// AutoGradable reports whether a question kind is graded by exact match.
func AutoGradable(t model.QuestionType) bool {
	switch t {
	case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse,
		model.QuestionTypeShortAnswer, model.QuestionTypeMatching:
		return true
	}
	return false
}

// Grade returns a copy of attempt with every auto-gradable answer marked and
// awarded all-or-nothing points. Essays, unknown kinds and manually graded
// answers are left as they are.
func Grade(attempt model.TestAttempt, questions []model.Question) model.TestAttempt {
	byID := index(questions)
	out := attempt.Clone()
	for i := range out.Answers {
		rec := &out.Answers[i]
		if rec.ManuallyGraded {
			continue
		}
		q, ok := byID[rec.QuestionID]
		if !ok || !AutoGradable(q.Type) {
			rec.IsCorrect = nil
			rec.Points = 0
			continue
		}
		correct := q.IsCorrect(rec.Answer)
		rec.IsCorrect = &correct
		rec.Points = 0
		if correct {
			rec.Points = q.Points
		}
	}
	return out
}

// ApplyManual records a teacher's grade for one answer and returns the
// updated copy.
func ApplyManual(attempt model.TestAttempt, questions []model.Question, questionID uuid.UUID, points int, isCorrect *bool, feedback string) (model.TestAttempt, error) {
	q, ok := index(questions)[questionID]
	if !ok {
		return attempt, ErrAnswerNotFound
	}
	if points > q.Points {
		return attempt, ErrPointsExceeded
	}

	out := attempt.Clone()
	for i := range out.Answers {
		rec := &out.Answers[i]
		if rec.QuestionID != questionID {
			continue
		}
		rec.Points = points
		rec.ManuallyGraded = true
		rec.Feedback = feedback
		if isCorrect != nil {
			v := *isCorrect
			rec.IsCorrect = &v
		} else {
			v := points == q.Points
			rec.IsCorrect = &v
		}
		return out, nil
	}
	return attempt, ErrAnswerNotFound
}

func index(questions []model.Question) map[uuid.UUID]model.Question {
	m := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		m[q.ID] = q
	}
	return m
}
