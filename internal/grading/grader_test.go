package grading

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func fixture() ([]model.Question, model.TestAttempt) {
	qs := []model.Question{
		{ID: uuid.New(), Type: model.QuestionTypeMultipleChoice, Options: []string{"a", "b"}, CorrectAnswer: model.TextAnswer("b"), Points: 2},
		{ID: uuid.New(), Type: model.QuestionTypeMatching, Options: []string{"x", "y"}, CorrectAnswer: model.ListAnswer("1", "2"), Points: 3},
		{ID: uuid.New(), Type: model.QuestionTypeEssay, Points: 5},
		{ID: uuid.New(), Type: model.QuestionTypeShortAnswer, CorrectAnswer: model.TextAnswer("Paris"), Points: 1},
	}
	attempt := model.TestAttempt{
		ID: uuid.New(),
		Answers: []model.AnswerRecord{
			{QuestionID: qs[0].ID, Answer: model.TextAnswer("b")},
			{QuestionID: qs[1].ID, Answer: model.ListAnswer("1", "3")},
			{QuestionID: qs[2].ID, Answer: model.TextAnswer("essay body")},
			{QuestionID: qs[3].ID, Answer: model.TextAnswer("paris")},
		},
	}
	return qs, attempt
}

func TestGradeExactMatch(t *testing.T) {
	qs, attempt := fixture()
	graded := Grade(attempt, qs)

	if rec := graded.Answers[0]; rec.IsCorrect == nil || !*rec.IsCorrect || rec.Points != 2 {
		t.Fatalf("multiple-choice: %+v", rec)
	}
	if rec := graded.Answers[1]; rec.IsCorrect == nil || *rec.IsCorrect || rec.Points != 0 {
		t.Fatalf("matching is all-or-nothing: %+v", rec)
	}
	if rec := graded.Answers[2]; rec.IsCorrect != nil || rec.Points != 0 {
		t.Fatalf("essay should stay ungraded: %+v", rec)
	}
	if rec := graded.Answers[3]; rec.IsCorrect == nil || *rec.IsCorrect {
		t.Fatalf("short answer is case-sensitive: %+v", rec)
	}
	if attempt.Answers[0].IsCorrect != nil {
		t.Fatalf("Grade mutated its input")
	}
}

func TestGradeKeepsManualGrades(t *testing.T) {
	qs, attempt := fixture()
	graded, err := ApplyManual(attempt, qs, qs[2].ID, 4, nil, "good")
	if err != nil {
		t.Fatalf("ApplyManual: %v", err)
	}
	regraded := Grade(graded, qs)
	if rec := regraded.Answers[2]; rec.Points != 4 || !rec.ManuallyGraded || rec.Feedback != "good" {
		t.Fatalf("manual grade lost: %+v", rec)
	}
	if rec := regraded.Answers[2]; rec.IsCorrect == nil || *rec.IsCorrect {
		t.Fatalf("partial points should not be marked correct: %+v", rec)
	}
}

func TestApplyManualValidation(t *testing.T) {
	qs, attempt := fixture()
	if _, err := ApplyManual(attempt, qs, qs[2].ID, 6, nil, ""); !errors.Is(err, ErrPointsExceeded) {
		t.Fatalf("want ErrPointsExceeded got %v", err)
	}
	if _, err := ApplyManual(attempt, qs, uuid.New(), 1, nil, ""); !errors.Is(err, ErrAnswerNotFound) {
		t.Fatalf("want ErrAnswerNotFound got %v", err)
	}
}
