package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// ErrTestNotFound is returned when a test id does not exist.
var ErrTestNotFound = errors.New("test not found")

const payloadTTL = 6 * time.Hour

// TestService serves test definitions. Tests with their resolved questions
// are cached in Redis as a single payload.
type TestService struct {
	testRepo     *repository.TestRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(
	testRepo *repository.TestRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *TestService {
	return &TestService{
		testRepo:     testRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "test_service").Logger(),
	}
}

// List returns every test.
func (s *TestService) List(ctx context.Context) ([]model.Test, error) {
	return s.testRepo.List(ctx)
}

// Payload returns a test with its questions in presentation order, from the
// cache when present.
func (s *TestService) Payload(ctx context.Context, testID uuid.UUID) (*model.TestPayload, error) {
	key := config.CacheKey.TestPayloadKey(testID.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var payload model.TestPayload
		if err := json.Unmarshal(data, &payload); err == nil {
			return &payload, nil
		}
		s.log.Warn().Str("test_id", testID.String()).Msg("Corrupt payload in cache, reloading")
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Payload cache unavailable, reading database")
	}

	return s.Warm(ctx, testID)
}

// Warm loads a test payload from PostgreSQL into Redis.
func (s *TestService) Warm(ctx context.Context, testID uuid.UUID) (*model.TestPayload, error) {
	test, err := s.testRepo.GetByID(ctx, testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}

	questions, err := s.questionRepo.GetByIDs(ctx, test.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	ordered, err := test.ResolveQuestions(questions)
	if err != nil {
		return nil, err
	}

	payload := &model.TestPayload{Test: *test, Questions: ordered}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := s.rdb.Set(ctx, config.CacheKey.TestPayloadKey(testID.String()), data, payloadTTL).Err(); err != nil {
		// The database copy is still good; the next read retries the cache.
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Failed to cache payload")
	}

	s.log.Debug().
		Str("test_id", testID.String()).
		Int("questions", len(ordered)).
		Msg("Cache warmed")
	return payload, nil
}

// PrewarmAll loads every test into Redis on application startup.
func (s *TestService) PrewarmAll(ctx context.Context) error {
	ids, err := s.testRepo.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list tests: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info().Msg("No tests to prewarm")
		return nil
	}

	warmed := 0
	for _, id := range ids {
		if _, err := s.Warm(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Failed to warm test, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

// payloadSource serves one already-loaded payload to a session controller.
type payloadSource struct {
	payload *model.TestPayload
}

func (p payloadSource) FetchTest(_ context.Context, testID uuid.UUID) (model.Test, error) {
	if p.payload.Test.ID != testID {
		return model.Test{}, ErrTestNotFound
	}
	return p.payload.Test, nil
}

func (p payloadSource) FetchQuestions(_ context.Context, ids []uuid.UUID) ([]model.Question, error) {
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]model.Question, 0, len(ids))
	for _, q := range p.payload.Questions {
		if _, ok := want[q.ID]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}
