package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/messaging"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/scoring"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/storage"
	"github.com/stemsi/exstem-proctor/internal/timer"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// Session errors.
var (
	ErrNoActiveSession   = errors.New("no active session for this test")
	ErrAttemptsExhausted = errors.New("maximum number of attempts reached")
)

const (
	// submittedRetention keeps finished sessions reachable for results and
	// late websocket reconnects.
	submittedRetention = 30 * time.Minute
	queueTimeout       = 5 * time.Second

	// autosaveMargin outlives the time limit so the scoring worker can
	// still read a late-finalized attempt.
	autosaveMargin = 2 * time.Hour
)

// EventPublisher sends domain events to the message broker.
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// AttemptFinalizedEvent is published when an attempt is graded on submit.
type AttemptFinalizedEvent struct {
	AttemptID    uuid.UUID `json:"attempt_id"`
	TestID       uuid.UUID `json:"test_id"`
	UserID       int       `json:"user_id"`
	Score        int       `json:"score"`
	Passed       bool      `json:"passed"`
	FlagCount    int       `json:"flag_count"`
	SubmittedAt  time.Time `json:"submitted_at"`
	TimeTakenMin int       `json:"time_taken_minutes"`
}

type sessionKey struct {
	userID int
	testID uuid.UUID
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// SessionService owns the live exam sessions of this server instance and
// connects them to Redis, object storage, the broker and websocket clients.
type SessionService struct {
	cfg      *config.Config
	tests    *TestService
	attempts *repository.AttemptRepository
	rdb      *redis.Client
	evidence *storage.EvidenceStore
	events   EventPublisher
	monitor  *MonitorService
	hub      *ws.Hub
	log      zerolog.Logger

	mu        sync.Mutex
	sessions  map[sessionKey]*session.Controller
	byAttempt map[uuid.UUID]*session.Controller
	starting  map[sessionKey]*keyLock
}

// NewSessionService creates a new SessionService. events may be nil when no
// broker is configured.
func NewSessionService(
	cfg *config.Config,
	tests *TestService,
	attempts *repository.AttemptRepository,
	rdb *redis.Client,
	evidence *storage.EvidenceStore,
	events EventPublisher,
	monitor *MonitorService,
	hub *ws.Hub,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		cfg:       cfg,
		tests:     tests,
		attempts:  attempts,
		rdb:       rdb,
		evidence:  evidence,
		events:    events,
		monitor:   monitor,
		hub:       hub,
		log:       log.With().Str("component", "session_service").Logger(),
		sessions:  make(map[sessionKey]*session.Controller),
		byAttempt: make(map[uuid.UUID]*session.Controller),
		starting:  make(map[sessionKey]*keyLock),
	}
}

// ─── Registry ────────────────────────────────────────────────────────────────

// Start loads a session for the user on testID. A live, unsubmitted session
// is returned as-is, so repeated calls are idempotent.
func (s *SessionService) Start(ctx context.Context, claims *Claims, testID uuid.UUID) (*session.Controller, error) {
	key := sessionKey{userID: claims.UserID, testID: testID}
	unlock := s.lockKey(key)
	defer unlock()

	if c := s.live(key); c != nil && c.State() != session.StateSubmitted {
		return c, nil
	}

	payload, err := s.tests.Payload(ctx, testID)
	if err != nil {
		return nil, &session.LoadError{TestID: testID, Err: err}
	}

	if limit := payload.Test.Attempts; limit > 0 {
		used, err := s.attempts.CountByUserAndTest(ctx, claims.UserID, testID)
		if err != nil {
			return nil, fmt.Errorf("count attempts: %w", err)
		}
		if used >= limit {
			return nil, ErrAttemptsExhausted
		}
	}

	attemptID := uuid.New()
	ctrl, err := session.Load(ctx, session.Config{
		TestID:        testID,
		AttemptID:     attemptID,
		UserID:        claims.UserID,
		Role:          claims.Role,
		Source:        payloadSource{payload: payload},
		Submitter:     s,
		Observer:      &sessionObserver{svc: s, testID: testID, userID: claims.UserID, timeLimit: payload.Test.TimeLimit},
		Log:           s.log,
		SubmitTimeout: s.cfg.SubmitTimeout,
	})
	if err != nil {
		return nil, err
	}

	row := &model.TestAttempt{
		ID:        attemptID,
		TestID:    testID,
		UserID:    claims.UserID,
		StartTime: time.Now().UTC(),
	}
	if err := s.attempts.Create(ctx, row); err != nil {
		_ = ctrl.Dispose()
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	if payload.Test.RandomizeQuestions {
		order := make([]uuid.UUID, 0, len(payload.Questions))
		for _, q := range ctrl.Questions() {
			order = append(order, q.ID)
		}
		s.enqueue(config.WorkerKey.PersistQuestionOrderQueue, worker.QuestionOrderPayload{AttemptID: attemptID, Order: order})
	}

	s.mu.Lock()
	s.sessions[key] = ctrl
	s.byAttempt[attemptID] = ctrl
	s.mu.Unlock()

	s.monitor.Publish(MonitorEvent{
		Type:      MonitorJoined,
		TestID:    testID,
		AttemptID: attemptID,
		UserID:    claims.UserID,
		State:     string(ctrl.State()),
	})
	return ctrl, nil
}

// Get returns the user's live session on testID.
func (s *SessionService) Get(claims *Claims, testID uuid.UUID) (*session.Controller, error) {
	c := s.live(sessionKey{userID: claims.UserID, testID: testID})
	if c == nil {
		return nil, ErrNoActiveSession
	}
	return c, nil
}

// Abandon disposes the user's session on testID without submitting it.
func (s *SessionService) Abandon(claims *Claims, testID uuid.UUID) error {
	key := sessionKey{userID: claims.UserID, testID: testID}
	s.mu.Lock()
	c, ok := s.sessions[key]
	if ok {
		delete(s.sessions, key)
		delete(s.byAttempt, c.AttemptID())
	}
	s.mu.Unlock()
	if !ok {
		return ErrNoActiveSession
	}
	err := c.Dispose()
	if st := c.State(); st != session.StateSubmitted && st != session.StateSubmitting {
		ctx, cancel := context.WithTimeout(context.Background(), queueTimeout)
		defer cancel()
		if derr := s.rdb.Del(ctx, config.CacheKey.AttemptAnswersKey(c.AttemptID().String())).Err(); derr != nil {
			s.log.Warn().Err(derr).Str("attempt_id", c.AttemptID().String()).Msg("Drop autosave hash")
		}
	}
	return err
}

// LiveResult returns the finalized attempt held by a live session.
func (s *SessionService) LiveResult(attemptID uuid.UUID) (model.TestAttempt, bool) {
	s.mu.Lock()
	c, ok := s.byAttempt[attemptID]
	s.mu.Unlock()
	if !ok {
		return model.TestAttempt{}, false
	}
	return c.Result()
}

// LiveSnapshots returns the state of every live session on testID.
func (s *SessionService) LiveSnapshots(testID uuid.UUID) []session.Snapshot {
	s.mu.Lock()
	ctrls := make([]*session.Controller, 0)
	for key, c := range s.sessions {
		if key.testID == testID {
			ctrls = append(ctrls, c)
		}
	}
	s.mu.Unlock()

	snaps := make([]session.Snapshot, 0, len(ctrls))
	for _, c := range ctrls {
		if !c.Disposed() {
			snaps = append(snaps, c.Snapshot())
		}
	}
	return snaps
}

// LiveCount returns the number of sessions held by this instance.
func (s *SessionService) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byAttempt)
}

// Shutdown disposes every live session. Unsubmitted answers are already in
// the autosave buffer.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	all := make([]*session.Controller, 0, len(s.byAttempt))
	for _, c := range s.byAttempt {
		all = append(all, c)
	}
	s.sessions = make(map[sessionKey]*session.Controller)
	s.byAttempt = make(map[uuid.UUID]*session.Controller)
	s.mu.Unlock()

	for _, c := range all {
		if err := c.Dispose(); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", c.AttemptID().String()).Msg("Dispose on shutdown failed")
		}
	}
	s.log.Info().Int("count", len(all)).Msg("Live sessions disposed")
}

func (s *SessionService) live(key sessionKey) *session.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[key]
	if !ok || c.Disposed() {
		return nil
	}
	return c
}

// lockKey serializes Start for one user and test.
func (s *SessionService) lockKey(key sessionKey) func() {
	s.mu.Lock()
	l, ok := s.starting[key]
	if !ok {
		l = &keyLock{}
		s.starting[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.starting, key)
		}
		s.mu.Unlock()
	}
}

func (s *SessionService) evictLater(attemptID uuid.UUID) {
	time.AfterFunc(submittedRetention, func() {
		s.mu.Lock()
		c, ok := s.byAttempt[attemptID]
		if ok {
			delete(s.byAttempt, attemptID)
			for key, sc := range s.sessions {
				if sc == c {
					delete(s.sessions, key)
				}
			}
		}
		s.mu.Unlock()
		if ok {
			_ = c.Dispose()
		}
	})
}

// ─── Proctoring ──────────────────────────────────────────────────────────────

// ReportCapability applies the browser's answer to a permission prompt. A
// granted capability opens an evidence stream that lives until the session
// ends.
func (s *SessionService) ReportCapability(ctx context.Context, claims *Claims, testID uuid.UUID, capability proctor.Capability, report model.CapabilityReport) (*session.Controller, error) {
	c, err := s.Get(claims, testID)
	if err != nil {
		return nil, err
	}
	attemptID := c.AttemptID()
	acq := ReportAcquirer(report, func(ctx context.Context) (proctor.Handle, error) {
		stream, err := s.evidence.OpenStream(ctx, attemptID, string(capability), report.Device)
		if err != nil {
			return nil, err
		}
		return stream, nil
	})
	return c, c.RequestCapability(ctx, capability, acq)
}

// ReportAcquirer turns a client permission report into an Acquirer. Denied
// reports fail with the browser's error text; granted ones call open.
func ReportAcquirer(report model.CapabilityReport, open func(ctx context.Context) (proctor.Handle, error)) proctor.Acquirer {
	return proctor.AcquirerFunc(func(ctx context.Context) (proctor.Handle, error) {
		if !report.Granted {
			msg := report.Error
			if msg == "" {
				msg = "permission denied"
			}
			return nil, errors.New(msg)
		}
		return open(ctx)
	})
}

// UploadEvidence stores a proctoring capture and records a flag pointing at it.
func (s *SessionService) UploadEvidence(ctx context.Context, claims *Claims, testID uuid.UUID, flagType model.FlagType, filename string, r io.Reader, size int64, contentType string) (model.ProctorFlag, error) {
	c, err := s.Get(claims, testID)
	if err != nil {
		return model.ProctorFlag{}, err
	}
	if !flagType.Valid() {
		return model.ProctorFlag{}, session.ErrInvalidFlag
	}
	key, err := s.evidence.Put(ctx, c.AttemptID(), filename, r, size, contentType)
	if err != nil {
		return model.ProctorFlag{}, err
	}
	return c.RecordFlag(flagType, key)
}

// ─── Submission ──────────────────────────────────────────────────────────────

// SubmitAttempt grades a frozen attempt and hands it to the persistence
// pipeline. It implements session.Submitter.
func (s *SessionService) SubmitAttempt(ctx context.Context, attempt model.TestAttempt) (model.TestAttempt, error) {
	ctx, span := observability.Tracer().Start(ctx, "session.submit_attempt", trace.WithAttributes(
		attribute.String("attempt.id", attempt.ID.String()),
		attribute.String("test.id", attempt.TestID.String()),
		attribute.Int("user.id", attempt.UserID),
	))
	defer span.End()

	fail := func(err error) (model.TestAttempt, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.TestAttempt{}, err
	}

	payload, err := s.tests.Payload(ctx, attempt.TestID)
	if err != nil {
		return fail(fmt.Errorf("load questions: %w", err))
	}

	graded := grading.Grade(attempt, payload.Questions)
	summary := scoring.Summarize(graded, payload.Test, payload.Questions)
	score := summary.PercentScore
	graded.Score = &score
	span.SetAttributes(attribute.Int("attempt.score", score))

	raw, err := json.Marshal(worker.NewScorePayload(graded))
	if err != nil {
		return fail(fmt.Errorf("encode score: %w", err))
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, raw).Err(); err != nil {
		return fail(fmt.Errorf("queue score: %w", err))
	}

	if s.events != nil {
		ev := AttemptFinalizedEvent{
			AttemptID:    graded.ID,
			TestID:       graded.TestID,
			UserID:       graded.UserID,
			Score:        score,
			Passed:       summary.Passed,
			FlagCount:    len(graded.ProctorFlags),
			TimeTakenMin: summary.TimeTakenMinutes,
		}
		if graded.EndTime != nil {
			ev.SubmittedAt = *graded.EndTime
		}
		if err := s.events.PublishJSON(ctx, messaging.RoutingAttemptFinalized, ev); err != nil {
			// The score is already queued; the event is informational.
			s.log.Warn().Err(err).Str("attempt_id", graded.ID.String()).Msg("Publish finalized event failed")
		}
	}

	s.monitor.Publish(MonitorEvent{
		Type:      MonitorSubmitted,
		TestID:    graded.TestID,
		AttemptID: graded.ID,
		UserID:    graded.UserID,
		Score:     &score,
	})
	return graded, nil
}

// Summary scores a finalized attempt against its test.
func (s *SessionService) Summary(ctx context.Context, attempt model.TestAttempt) (scoring.Summary, error) {
	payload, err := s.tests.Payload(ctx, attempt.TestID)
	if err != nil {
		return scoring.Summary{}, err
	}
	return scoring.Summarize(attempt, payload.Test, payload.Questions), nil
}

// enqueue pushes v onto a worker queue. Persistence is asynchronous; a
// failed push is logged and the live session keeps the data.
func (s *SessionService) enqueue(queue string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("queue", queue).Msg("Encode queue payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), queueTimeout)
	defer cancel()
	if err := s.rdb.RPush(ctx, queue, raw).Err(); err != nil {
		s.log.Error().Err(err).Str("queue", queue).Msg("Queue push failed")
	}
}

// ─── Observer ────────────────────────────────────────────────────────────────

// sessionObserver forwards one controller's events to the autosave buffer,
// worker queues, websocket clients and the teacher monitor.
type sessionObserver struct {
	svc       *SessionService
	testID    uuid.UUID
	userID    int
	timeLimit int
}

// autosaveTTL bounds how long an unsubmitted attempt's answers stay in Redis.
func autosaveTTL(timeLimitMin int) time.Duration {
	if timeLimitMin < 0 {
		timeLimitMin = 0
	}
	return time.Duration(timeLimitMin)*time.Minute + autosaveMargin
}

func (o *sessionObserver) StateChanged(snap session.Snapshot) {
	s := o.svc
	s.hub.Broadcast(snap.AttemptID, ws.EventState, snap)

	answered := snap.Answered
	s.monitor.Publish(MonitorEvent{
		Type:      MonitorState,
		TestID:    o.testID,
		AttemptID: snap.AttemptID,
		UserID:    o.userID,
		State:     string(snap.State),
		Answered:  &answered,
	})

	if snap.State != session.StateSubmitted {
		return
	}
	if snap.Timer.Expired {
		s.hub.Broadcast(snap.AttemptID, ws.EventExpired, snap.Timer)
	}
	if res, ok := s.LiveResult(snap.AttemptID); ok {
		ctx, cancel := context.WithTimeout(context.Background(), queueTimeout)
		summary, err := s.Summary(ctx, res)
		cancel()
		if err == nil {
			s.hub.Broadcast(snap.AttemptID, ws.EventSubmitted, summary)
		} else {
			s.log.Warn().Err(err).Str("attempt_id", snap.AttemptID.String()).Msg("Summarize submitted attempt")
		}
	}
	s.evictLater(snap.AttemptID)
}

func (o *sessionObserver) AnswerSaved(attemptID, questionID uuid.UUID, value model.Answer) {
	s := o.svc
	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Error().Err(err).Msg("Encode answer")
		return
	}
	queued, err := json.Marshal(worker.AnswerPayload{
		AttemptID:  attemptID,
		QuestionID: questionID,
		Answer:     value,
		SavedAt:    time.Now().UTC(),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Encode autosave payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), queueTimeout)
	defer cancel()
	pipe := s.rdb.Pipeline()
	hashKey := config.CacheKey.AttemptAnswersKey(attemptID.String())
	pipe.HSet(ctx, hashKey, questionID.String(), raw)
	pipe.Expire(ctx, hashKey, autosaveTTL(o.timeLimit))
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, queued)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Autosave Redis error")
	}

	s.hub.Broadcast(attemptID, ws.EventSaved, ws.SavedData{QuestionID: questionID, Answer: value})
	qid := questionID
	s.monitor.Publish(MonitorEvent{
		Type:       MonitorAnswer,
		TestID:     o.testID,
		AttemptID:  attemptID,
		UserID:     o.userID,
		QuestionID: &qid,
	})
}

func (o *sessionObserver) FlagRecorded(attemptID uuid.UUID, flag model.ProctorFlag) {
	s := o.svc
	s.enqueue(config.WorkerKey.PersistFlagsQueue, worker.FlagPayload{
		AttemptID: attemptID,
		Type:      flag.Type,
		Evidence:  flag.Evidence,
		Timestamp: flag.Timestamp,
	})
	s.hub.Broadcast(attemptID, ws.EventFlagged, flag)
	s.monitor.Publish(MonitorEvent{
		Type:      MonitorFlag,
		TestID:    o.testID,
		AttemptID: attemptID,
		UserID:    o.userID,
		Flag:      &flag,
	})
}

func (o *sessionObserver) Tick(attemptID uuid.UUID, t timer.Snapshot) {
	o.svc.hub.Broadcast(attemptID, ws.EventTick, t)
}
