package scoring

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func boolPtr(b bool) *bool { return &b }

func twoQuestionFixture() (model.TestAttempt, model.Test, []model.Question) {
	qs := []model.Question{
		{ID: uuid.New(), Type: model.QuestionTypeMultipleChoice, Difficulty: model.DifficultyEasy, Points: 1},
		{ID: uuid.New(), Type: model.QuestionTypeShortAnswer, Difficulty: model.DifficultyMedium, Points: 2},
	}
	test := model.Test{ID: uuid.New(), PassingScore: 70, QuestionIDs: []uuid.UUID{qs[0].ID, qs[1].ID}}
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(14*time.Minute + 40*time.Second)
	attempt := model.TestAttempt{
		ID:        uuid.New(),
		TestID:    test.ID,
		StartTime: start,
		EndTime:   &end,
		Completed: true,
		Answers: []model.AnswerRecord{
			{QuestionID: qs[0].ID, IsCorrect: boolPtr(true), Points: 1},
			{QuestionID: qs[1].ID, IsCorrect: boolPtr(false), Points: 0},
		},
		ProctorFlags: []model.ProctorFlag{{Timestamp: start.Add(time.Minute), Type: model.FlagTabSwitch}},
	}
	return attempt, test, qs
}

func TestSummarizeScenario(t *testing.T) {
	attempt, test, qs := twoQuestionFixture()
	s := Summarize(attempt, test, qs)

	if s.PercentScore != 33 {
		t.Fatalf("PercentScore: want=33 got=%d", s.PercentScore)
	}
	if s.Passed {
		t.Fatalf("Passed: want=false")
	}
	if s.EarnedPoints != 1 || s.TotalPoints != 3 {
		t.Fatalf("points: want=1/3 got=%d/%d", s.EarnedPoints, s.TotalPoints)
	}
	if s.CorrectCount != 1 || s.QuestionCount != 2 {
		t.Fatalf("counts: want=1 of 2 got=%d of %d", s.CorrectCount, s.QuestionCount)
	}
	if s.TimeTakenMinutes != 15 {
		t.Fatalf("TimeTakenMinutes: want=15 got=%d", s.TimeTakenMinutes)
	}
	if len(s.Flags) != 1 || s.Flags[0].Description != "Browser tab switch detected" {
		t.Fatalf("flags: %+v", s.Flags)
	}
}

func TestSummarizeBreakdownOmitsEmptyLevels(t *testing.T) {
	attempt, test, qs := twoQuestionFixture()
	s := Summarize(attempt, test, qs)

	want := []DifficultyResult{
		{Difficulty: model.DifficultyEasy, Correct: 1, Total: 1, Percent: 100},
		{Difficulty: model.DifficultyMedium, Correct: 0, Total: 1, Percent: 0},
	}
	if !reflect.DeepEqual(s.Breakdown, want) {
		t.Fatalf("breakdown: want=%+v got=%+v", want, s.Breakdown)
	}
}

func TestSummarizeIsIdempotent(t *testing.T) {
	attempt, test, qs := twoQuestionFixture()
	before := attempt.Clone()

	a := Summarize(attempt, test, qs)
	b := Summarize(attempt, test, qs)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("repeat summaries differ:\n%+v\n%+v", a, b)
	}
	if !reflect.DeepEqual(before, attempt) {
		t.Fatalf("Summarize mutated the attempt")
	}
}

func TestPercentScoreZeroTotal(t *testing.T) {
	if got := PercentScore(0, 0); got != 0 {
		t.Fatalf("PercentScore(0,0): want=0 got=%d", got)
	}
	if got := PercentScore(2, 3); got != 67 {
		t.Fatalf("PercentScore(2,3): want=67 got=%d", got)
	}
}

func TestReviewRendersInReviewMode(t *testing.T) {
	attempt, _, qs := twoQuestionFixture()
	items := Review(attempt, qs)
	if len(items) != 2 {
		t.Fatalf("items: want=2 got=%d", len(items))
	}
	if items[1].MaxPoints != 2 || items[1].IsCorrect == nil || *items[1].IsCorrect {
		t.Fatalf("second item: %+v", items[1])
	}
}
