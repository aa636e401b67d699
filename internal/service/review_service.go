package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/messaging"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/scoring"
)

// Review errors.
var (
	ErrAttemptNotFound = errors.New("attempt not found")
	ErrResultsPending  = errors.New("attempt has not been submitted yet")
	ErrNotYourAttempt  = errors.New("attempt belongs to another user")
)

// AttemptResult is the review page of one submitted attempt.
type AttemptResult struct {
	Summary scoring.Summary      `json:"summary"`
	Items   []scoring.ReviewItem `json:"items,omitempty"`
}

// AttemptGradedEvent is published after a manual grade changes a score.
type AttemptGradedEvent struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	QuestionID uuid.UUID `json:"question_id"`
	GradedBy   int       `json:"graded_by"`
	Points     int       `json:"points"`
	Score      int       `json:"score"`
}

// ReviewService serves results, attempt listings and manual grading.
type ReviewService struct {
	tests    *TestService
	attempts *repository.AttemptRepository
	sessions *SessionService
	events   EventPublisher
	log      zerolog.Logger
}

// NewReviewService creates a new ReviewService. events may be nil.
func NewReviewService(tests *TestService, attempts *repository.AttemptRepository, sessions *SessionService, events EventPublisher, log zerolog.Logger) *ReviewService {
	return &ReviewService{
		tests:    tests,
		attempts: attempts,
		sessions: sessions,
		events:   events,
		log:      log.With().Str("component", "review_service").Logger(),
	}
}

// Results returns the scored review of an attempt. Students only see their
// own attempts, and only see per-question items when the test shows results.
func (s *ReviewService) Results(ctx context.Context, claims *Claims, attemptID uuid.UUID) (*AttemptResult, error) {
	attempt, err := s.finished(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !claims.Role.CanManageTests() && attempt.UserID != claims.UserID {
		return nil, ErrNotYourAttempt
	}

	payload, err := s.tests.Payload(ctx, attempt.TestID)
	if err != nil {
		return nil, err
	}

	res := &AttemptResult{Summary: scoring.Summarize(attempt, payload.Test, payload.Questions)}
	if payload.Test.ShowResults || claims.Role.CanManageTests() {
		res.Items = scoring.Review(attempt, payload.Questions)
	}
	return res, nil
}

// finished loads a submitted attempt from the database, falling back to a
// live session whose score has not reached the database yet.
func (s *ReviewService) finished(ctx context.Context, attemptID uuid.UUID) (model.TestAttempt, error) {
	stored, err := s.attempts.GetByID(ctx, attemptID)
	switch {
	case err == nil && stored.Completed:
		return *stored, nil
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return model.TestAttempt{}, fmt.Errorf("get attempt: %w", err)
	}

	if live, ok := s.sessions.LiveResult(attemptID); ok {
		return live, nil
	}
	if stored == nil {
		return model.TestAttempt{}, ErrAttemptNotFound
	}
	return model.TestAttempt{}, ErrResultsPending
}

// ListAttempts returns a page of attempts for a test.
func (s *ReviewService) ListAttempts(ctx context.Context, testID uuid.UUID, page, perPage int) ([]model.AttemptListItem, int, error) {
	return s.attempts.ListByTest(ctx, testID, page, perPage)
}

// Grade stores a teacher's grade for one answer and recomputes the score.
// The attempt must already be persisted as completed.
func (s *ReviewService) Grade(ctx context.Context, claims *Claims, attemptID, questionID uuid.UUID, req model.GradeRequest) (*AttemptResult, error) {
	stored, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if !stored.Completed {
		return nil, ErrResultsPending
	}

	payload, err := s.tests.Payload(ctx, stored.TestID)
	if err != nil {
		return nil, err
	}

	graded, err := grading.ApplyManual(*stored, payload.Questions, questionID, *req.Points, req.IsCorrect, req.Feedback)
	if err != nil {
		return nil, err
	}
	summary := scoring.Summarize(graded, payload.Test, payload.Questions)
	score := summary.PercentScore
	graded.Score = &score

	rec, _ := graded.AnswerFor(questionID)
	if err := s.attempts.SaveGrade(ctx, attemptID, rec, score); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("question_id", questionID.String()).
		Int("graded_by", claims.UserID).
		Int("score", score).
		Msg("Answer graded")

	if s.events != nil {
		ev := AttemptGradedEvent{
			AttemptID:  attemptID,
			QuestionID: questionID,
			GradedBy:   claims.UserID,
			Points:     rec.Points,
			Score:      score,
		}
		if err := s.events.PublishJSON(ctx, messaging.RoutingAttemptGraded, ev); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Publish graded event failed")
		}
	}

	return &AttemptResult{Summary: summary, Items: scoring.Review(graded, payload.Questions)}, nil
}
