// Package scoring aggregates a finalized attempt into a review. Every function
// is pure: inputs are never mutated and identical inputs give identical output.
package scoring

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/render"
)

// DifficultyResult is the correct/total ratio at one difficulty level.
type DifficultyResult struct {
	Difficulty model.Difficulty `json:"difficulty"`
	Correct    int              `json:"correct"`
	Total      int              `json:"total"`
	Percent    int              `json:"percent"`
}

// FlagLine is a proctor flag with its description.
type FlagLine struct {
	Timestamp   time.Time      `json:"timestamp"`
	Type        model.FlagType `json:"type"`
	Description string         `json:"description"`
	Evidence    string         `json:"evidence,omitempty"`
}

// Summary is the scored view of an attempt.
type Summary struct {
	AttemptID        uuid.UUID          `json:"attempt_id"`
	TestID           uuid.UUID          `json:"test_id"`
	TestTitle        string             `json:"test_title"`
	EarnedPoints     int                `json:"earned_points"`
	TotalPoints      int                `json:"total_points"`
	PercentScore     int                `json:"percent_score"`
	PassingScore     int                `json:"passing_score"`
	Passed           bool               `json:"passed"`
	CorrectCount     int                `json:"correct_count"`
	QuestionCount    int                `json:"question_count"`
	TimeTakenMinutes int                `json:"time_taken_minutes"`
	Breakdown        []DifficultyResult `json:"breakdown"`
	Flags            []FlagLine         `json:"flags"`
}

// ReviewItem pairs a rendered question with its graded record.
type ReviewItem struct {
	View           render.View  `json:"view"`
	Answer         model.Answer `json:"answer"`
	IsCorrect      *bool        `json:"is_correct,omitempty"`
	Points         int          `json:"points"`
	MaxPoints      int          `json:"max_points"`
	ManuallyGraded bool         `json:"manually_graded,omitempty"`
	Feedback       string       `json:"feedback,omitempty"`
}

// PercentScore returns round(100*earned/total), or 0 when total is 0.
func PercentScore(earned, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(earned) / float64(total)))
}

// Summarize scores attempt against test and its resolved questions.
func Summarize(attempt model.TestAttempt, test model.Test, questions []model.Question) Summary {
	byID := make(map[uuid.UUID]model.Question, len(questions))
	total := 0
	for _, q := range questions {
		byID[q.ID] = q
		total += q.Points
	}

	s := Summary{
		AttemptID:     attempt.ID,
		TestID:        test.ID,
		TestTitle:     test.Title,
		TotalPoints:   total,
		PassingScore:  test.PassingScore,
		QuestionCount: len(questions),
		Flags:         Flags(attempt.ProctorFlags),
	}

	buckets := make(map[model.Difficulty]*DifficultyResult, len(model.Difficulties))
	for _, rec := range attempt.Answers {
		s.EarnedPoints += rec.Points
		correct := rec.IsCorrect != nil && *rec.IsCorrect
		if correct {
			s.CorrectCount++
		}
		q, ok := byID[rec.QuestionID]
		if !ok {
			continue
		}
		b, ok := buckets[q.Difficulty]
		if !ok {
			b = &DifficultyResult{Difficulty: q.Difficulty}
			buckets[q.Difficulty] = b
		}
		b.Total++
		if correct {
			b.Correct++
		}
	}

	s.PercentScore = PercentScore(s.EarnedPoints, total)
	s.Passed = s.PercentScore >= test.PassingScore

	// Empty buckets are omitted.
	s.Breakdown = make([]DifficultyResult, 0, len(buckets))
	for _, d := range model.Difficulties {
		if b, ok := buckets[d]; ok && b.Total > 0 {
			b.Percent = PercentScore(b.Correct, b.Total)
			s.Breakdown = append(s.Breakdown, *b)
		}
	}

	if attempt.EndTime != nil {
		s.TimeTakenMinutes = int(math.Round(attempt.EndTime.Sub(attempt.StartTime).Minutes()))
	}
	return s
}

// Flags describes each proctor flag in recorded order.
func Flags(flags []model.ProctorFlag) []FlagLine {
	out := make([]FlagLine, 0, len(flags))
	for _, f := range flags {
		out = append(out, FlagLine{
			Timestamp:   f.Timestamp,
			Type:        f.Type,
			Description: f.Type.Description(),
			Evidence:    f.Evidence,
		})
	}
	return out
}

// Review renders every question of the attempt in review mode, in attempt
// order.
func Review(attempt model.TestAttempt, questions []model.Question) []ReviewItem {
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	out := make([]ReviewItem, 0, len(attempt.Answers))
	for _, rec := range attempt.Answers {
		q, ok := byID[rec.QuestionID]
		if !ok {
			continue
		}
		out = append(out, ReviewItem{
			View:           render.Render(q, rec.Answer, true),
			Answer:         rec.Answer,
			IsCorrect:      rec.IsCorrect,
			Points:         rec.Points,
			MaxPoints:      q.Points,
			ManuallyGraded: rec.ManuallyGraded,
			Feedback:       rec.Feedback,
		})
	}
	return out
}
