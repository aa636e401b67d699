package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Monitor event types published on a test's monitor channel.
const (
	MonitorJoined    = "joined"
	MonitorState     = "state"
	MonitorAnswer    = "answer"
	MonitorFlag      = "flag"
	MonitorSubmitted = "submitted"
)

const publishTimeout = 3 * time.Second

// MonitorEvent is one live update for teachers watching a test.
type MonitorEvent struct {
	Type       string             `json:"type"`
	TestID     uuid.UUID          `json:"test_id"`
	AttemptID  uuid.UUID          `json:"attempt_id"`
	UserID     int                `json:"user_id"`
	State      string             `json:"state,omitempty"`
	QuestionID *uuid.UUID         `json:"question_id,omitempty"`
	Answered   *int               `json:"answered,omitempty"`
	Flag       *model.ProctorFlag `json:"flag,omitempty"`
	Score      *int               `json:"score,omitempty"`
	At         time.Time          `json:"at"`
}

// MonitorService publishes and subscribes to live test activity over Redis
// Pub/Sub, so every server instance feeds every teacher's monitor.
type MonitorService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		rdb: rdb,
		log: log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish sends ev to its test's channel. Failures are logged, not returned:
// monitoring never blocks a student.
func (s *MonitorService) Publish(ev MonitorEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Encode monitor event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	channel := config.CacheKey.TestMonitorChannel(ev.TestID.String())
	if err := s.rdb.Publish(ctx, channel, data).Err(); err != nil {
		s.log.Warn().Err(err).Str("type", ev.Type).Str("test_id", ev.TestID.String()).Msg("Publish monitor event failed")
	}
}

// Subscribe opens a subscription to a test's monitor channel. The caller
// closes it.
func (s *MonitorService) Subscribe(ctx context.Context, testID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.TestMonitorChannel(testID.String()))
}
