package worker

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// QuestionOrderWorker stores the shuffled order of randomized attempts.
type QuestionOrderWorker struct {
	pool *pgxpool.Pool
	loop batchLoop[QuestionOrderPayload]
	log  zerolog.Logger
}

func NewQuestionOrderWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *QuestionOrderWorker {
	w := &QuestionOrderWorker{
		pool: pool,
		log:  log.With().Str("component", "question_order_worker").Logger(),
	}
	w.loop = batchLoop[QuestionOrderPayload]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistQuestionOrderQueue,
		flush: w.flush,
		log:   w.log,
	}
	return w
}

func (w *QuestionOrderWorker) Start(ctx context.Context) {
	w.loop.run(ctx)
}

func (w *QuestionOrderWorker) flush(ctx context.Context, batch []QuestionOrderPayload) []QuestionOrderPayload {
	err := w.bulkUpdate(ctx, batch)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Msg("Bulk question order update failed, using fallback")

	var failed []QuestionOrderPayload
	for _, p := range batch {
		order, _ := json.Marshal(p.Order)
		_, err = w.pool.Exec(ctx,
			`UPDATE test_attempts SET question_order = $1 WHERE id = $2 AND completed = FALSE`,
			order, p.AttemptID,
		)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", p.AttemptID.String()).Msg("Persist order failed, requeueing")
			failed = append(failed, p)
		}
	}
	return failed
}

func (w *QuestionOrderWorker) bulkUpdate(ctx context.Context, batch []QuestionOrderPayload) error {
	ids := make([]uuid.UUID, 0, len(batch))
	orders := make([][]byte, 0, len(batch))
	for _, p := range batch {
		ob, err := json.Marshal(p.Order)
		if err != nil {
			return err
		}
		ids = append(ids, p.AttemptID)
		orders = append(orders, ob)
	}

	// Completed attempts already carry their final order from the scoring worker.
	_, err := w.pool.Exec(ctx, `
		UPDATE test_attempts AS a
		SET question_order = t.qo
		FROM UNNEST($1::uuid[], $2::jsonb[]) AS t (id, qo)
		WHERE a.id = t.id AND a.completed = FALSE`,
		ids, orders,
	)
	return err
}
