package worker

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// FlagWorker moves proctor flags from persist_flags_queue into proctor_flags.
type FlagWorker struct {
	pool *pgxpool.Pool
	loop batchLoop[FlagPayload]
	log  zerolog.Logger
}

// NewFlagWorker creates a new FlagWorker.
func NewFlagWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *FlagWorker {
	w := &FlagWorker{
		pool: pool,
		log:  log.With().Str("component", "flag_worker").Logger(),
	}
	w.loop = batchLoop[FlagPayload]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistFlagsQueue,
		flush: w.flush,
		log:   w.log,
	}
	return w
}

// Start runs until ctx is cancelled, then flushes what it holds. Call in a
// goroutine.
func (w *FlagWorker) Start(ctx context.Context) {
	w.loop.run(ctx)
}

// flush copies the batch in one round trip and falls back to single inserts
// so one bad row cannot hold back the rest.
func (w *FlagWorker) flush(ctx context.Context, batch []FlagPayload) []FlagPayload {
	err := w.copyFlags(ctx, batch)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk copy failed, inserting row by row")

	var failed []FlagPayload
	for _, p := range batch {
		if !p.Type.Valid() {
			w.log.Error().Str("type", string(p.Type)).Str("attempt_id", p.AttemptID.String()).Msg("Dropping flag with unknown type")
			continue
		}
		_, err = w.pool.Exec(ctx,
			`INSERT INTO proctor_flags (attempt_id, type, evidence, flagged_at)
			 VALUES ($1, $2, $3, $4)`,
			p.AttemptID, string(p.Type), p.Evidence, p.Timestamp,
		)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", p.AttemptID.String()).Msg("Insert failed, requeueing")
			failed = append(failed, p)
		}
	}
	return failed
}

func (w *FlagWorker) copyFlags(ctx context.Context, batch []FlagPayload) error {
	rows := make([][]any, 0, len(batch))
	for _, p := range batch {
		rows = append(rows, []any{p.AttemptID, string(p.Type), p.Evidence, p.Timestamp})
	}
	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctor_flags"},
		[]string{"attempt_id", "type", "evidence", "flagged_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}
