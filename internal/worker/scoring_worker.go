package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// ScoringWorker persists finalized attempts: the score row plus every graded
// answer. Answers a teacher has graded by hand are never overwritten.
type ScoringWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	loop batchLoop[ScorePayload]
	log  zerolog.Logger
}

// NewScoringWorker creates a new ScoringWorker.
func NewScoringWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ScoringWorker {
	w := &ScoringWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "scoring_worker").Logger(),
	}
	w.loop = batchLoop[ScorePayload]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistScoresQueue,
		flush: w.flush,
		log:   w.log,
	}
	return w
}

// Start runs the worker loop. Call in a goroutine.
func (w *ScoringWorker) Start(ctx context.Context) {
	w.loop.run(ctx)
}

// ─── Flush ───────────────────────────────────────────────────────────────────

func (w *ScoringWorker) flush(ctx context.Context, batch []ScorePayload) []ScorePayload {
	if err := w.persistBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk score update failed, using fallback")

		var failed, done []ScorePayload
		for _, p := range batch {
			if err := w.persistBatch(ctx, []ScorePayload{p}); err != nil {
				w.log.Error().Err(err).Str("attempt_id", p.AttemptID.String()).Msg("Persist score failed, requeueing")
				failed = append(failed, p)
				continue
			}
			done = append(done, p)
		}
		w.clearAutosave(ctx, done)
		return failed
	}

	w.clearAutosave(ctx, batch)
	w.log.Debug().Int("count", len(batch)).Msg("Scores persisted")
	return nil
}

// persistBatch writes attempts and their answers in one transaction using
// UNNEST so the batch costs two statements regardless of size.
func (w *ScoringWorker) persistBatch(ctx context.Context, batch []ScorePayload) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateAttempts(ctx, tx, batch); err != nil {
		return fmt.Errorf("update attempts: %w", err)
	}
	if err := upsertGradedAnswers(ctx, tx, batch); err != nil {
		return fmt.Errorf("upsert answers: %w", err)
	}
	return tx.Commit(ctx)
}

func updateAttempts(ctx context.Context, tx pgx.Tx, batch []ScorePayload) error {
	n := len(batch)
	ids := make([]uuid.UUID, 0, n)
	scores := make([]int32, 0, n)
	starts := make([]time.Time, 0, n)
	ends := make([]time.Time, 0, n)
	orders := make([][]byte, 0, n)

	for _, p := range batch {
		order, err := json.Marshal(p.QuestionOrder)
		if err != nil {
			return err
		}
		ids = append(ids, p.AttemptID)
		scores = append(scores, int32(p.Score))
		starts = append(starts, p.StartTime)
		ends = append(ends, p.EndTime)
		orders = append(orders, order)
	}

	_, err := tx.Exec(ctx, `
		UPDATE test_attempts AS a
		SET score = t.score,
		    start_time = t.start_time,
		    end_time = t.end_time,
		    completed = TRUE,
		    question_order = t.question_order
		FROM UNNEST(
			$1::uuid[],
			$2::int[],
			$3::timestamptz[],
			$4::timestamptz[],
			$5::jsonb[]
		) AS t (id, score, start_time, end_time, question_order)
		WHERE a.id = t.id`,
		ids, scores, starts, ends, orders,
	)
	return err
}

func upsertGradedAnswers(ctx context.Context, tx pgx.Tx, batch []ScorePayload) error {
	var (
		attemptIDs  []uuid.UUID
		questionIDs []uuid.UUID
		answers     [][]byte
		correct     []*bool
		points      []int32
		savedAt     []time.Time
	)
	for _, p := range batch {
		for _, rec := range p.Answers {
			raw, err := json.Marshal(rec.Answer)
			if err != nil {
				return err
			}
			attemptIDs = append(attemptIDs, p.AttemptID)
			questionIDs = append(questionIDs, rec.QuestionID)
			answers = append(answers, raw)
			correct = append(correct, rec.IsCorrect)
			points = append(points, int32(rec.Points))
			savedAt = append(savedAt, p.EndTime)
		}
	}
	if len(attemptIDs) == 0 {
		return nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO attempt_answers (attempt_id, question_id, answer, is_correct, points, updated_at)
		SELECT * FROM UNNEST(
			$1::uuid[],
			$2::uuid[],
			$3::jsonb[],
			$4::bool[],
			$5::int[],
			$6::timestamptz[]
		)
		ON CONFLICT (attempt_id, question_id) DO UPDATE
		SET answer = EXCLUDED.answer,
		    is_correct = EXCLUDED.is_correct,
		    points = EXCLUDED.points,
		    updated_at = EXCLUDED.updated_at
		WHERE attempt_answers.manually_graded = FALSE`,
		attemptIDs, questionIDs, answers, correct, points, savedAt,
	)
	return err
}

// clearAutosave drops the autosave hashes of persisted attempts.
func (w *ScoringWorker) clearAutosave(ctx context.Context, batch []ScorePayload) {
	if len(batch) == 0 {
		return
	}
	pipe := w.rdb.Pipeline()
	for _, p := range batch {
		pipe.Del(ctx, config.CacheKey.AttemptAnswersKey(p.AttemptID.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Clear autosave buffers failed")
	}
}
