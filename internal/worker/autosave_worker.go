package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

const autosaveRetryDelay = 5 * time.Second

// AutosaveWorker consumes persist_answers_queue and upserts answers into
// attempt_answers one at a time, in the order they were saved.
type AutosaveWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			sleepCtx(ctx, time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var p AnswerPayload
	if err := json.Unmarshal([]byte(result[1]), &p); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.persistAnswer(ctx, &p); err != nil {
		w.log.Error().Err(err).
			Str("attempt_id", p.AttemptID.String()).
			Str("question_id", p.QuestionID.String()).
			Msg("Persist error, retrying in 5s")
		// Back to the head so later saves of the same answer still win.
		w.rdb.LPush(context.Background(), config.WorkerKey.PersistAnswersQueue, result[1])
		sleepCtx(ctx, autosaveRetryDelay)
	}
}

// persistAnswer upserts one answer. Older saves never overwrite newer ones,
// including the graded copy written on submission.
func (w *AutosaveWorker) persistAnswer(ctx context.Context, p *AnswerPayload) error {
	raw, err := json.Marshal(p.Answer)
	if err != nil {
		return err
	}
	savedAt := p.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	_, err = w.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, answer, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, updated_at = EXCLUDED.updated_at
		 WHERE attempt_answers.updated_at <= EXCLUDED.updated_at
		   AND attempt_answers.manually_graded = FALSE`,
		p.AttemptID, p.QuestionID, raw, savedAt,
	)
	return err
}

// drain persists what is left in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		var p AnswerPayload
		if err := json.Unmarshal([]byte(result), &p); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		if err := w.persistAnswer(ctx, &p); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.LPush(context.Background(), config.WorkerKey.PersistAnswersQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
