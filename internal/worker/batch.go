package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Redis rejects BLPOP timeouts under 1s
	drainTimeout = 5 * time.Second
)

// flushFunc persists a batch and returns the items that must be retried.
type flushFunc[T any] func(ctx context.Context, batch []T) []T

// batchLoop pops JSON items from a Redis list, buffers them and flushes on
// size or age. Items returned by flush are pushed back onto the queue.
type batchLoop[T any] struct {
	rdb   *redis.Client
	queue string
	flush flushFunc[T]
	log   zerolog.Logger
}

func (l *batchLoop[T]) run(ctx context.Context) {
	l.log.Info().Str("queue", l.queue).Msg("Worker started")

	buffer := make([]T, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			l.flushAndRequeue(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			l.shutdown(buffer)
			return
		default:
		}

		result, err := l.rdb.BLPop(ctx, PollTimeout, l.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			l.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			// Malformed input can never succeed; drop it.
			l.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, item)
	}
}

func (l *batchLoop[T]) flushAndRequeue(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	failed := l.flush(ctx, batch)
	if len(failed) == 0 {
		return
	}

	pipe := l.rdb.Pipeline()
	for _, item := range failed {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, l.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Error().Err(err).Int("count", len(failed)).Msg("CRITICAL: failed to requeue items, data lost")
		return
	}
	l.log.Info().Int("count", len(failed)).Msg("Requeued failed items")
	// Back off so a database outage does not turn into a hot loop.
	sleepCtx(ctx, 2*time.Second)
}

func (l *batchLoop[T]) shutdown(buffer []T) {
	l.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer")
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	l.flushAndRequeue(ctx, buffer)
	l.log.Info().Msg("Worker stopped")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
