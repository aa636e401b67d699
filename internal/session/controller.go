// Package session drives one learner's exam attempt through
// loading → proctor-gate → active → submitting → submitted.
package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/answer"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/render"
	"github.com/stemsi/exstem-proctor/internal/timer"
)

// State is a session lifecycle state.
type State string

const (
	StateLoading     State = "loading"
	StateProctorGate State = "proctor-gate"
	StateActive      State = "active"
	StateSubmitting  State = "submitting"
	StateSubmitted   State = "submitted"
)

const defaultSubmitTimeout = 30 * time.Second

// TestSource fetches a test definition and its questions.
type TestSource interface {
	FetchTest(ctx context.Context, testID uuid.UUID) (model.Test, error)
	FetchQuestions(ctx context.Context, ids []uuid.UUID) ([]model.Question, error)
}

// Submitter grades and stores a frozen attempt.
type Submitter interface {
	SubmitAttempt(ctx context.Context, attempt model.TestAttempt) (model.TestAttempt, error)
}

// Observer receives session events. Methods are called without the session
// lock held and may call back into the controller.
type Observer interface {
	StateChanged(Snapshot)
	AnswerSaved(attemptID, questionID uuid.UUID, value model.Answer)
	FlagRecorded(attemptID uuid.UUID, flag model.ProctorFlag)
	Tick(attemptID uuid.UUID, t timer.Snapshot)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) StateChanged(Snapshot)                          {}
func (NopObserver) AnswerSaved(uuid.UUID, uuid.UUID, model.Answer) {}
func (NopObserver) FlagRecorded(uuid.UUID, model.ProctorFlag)      {}
func (NopObserver) Tick(uuid.UUID, timer.Snapshot)                 {}

// Config wires a controller to its collaborators. Source and Submitter are
// required.
type Config struct {
	TestID    uuid.UUID
	AttemptID uuid.UUID
	UserID    int
	Role      model.Role

	Source    TestSource
	Submitter Submitter
	Observer  Observer
	Log       zerolog.Logger

	Ticks         timer.TickSource
	Now           func() time.Time
	Shuffle       func(ids []uuid.UUID)
	SubmitTimeout time.Duration
}

// Snapshot is a consistent view of a session.
type Snapshot struct {
	AttemptID  uuid.UUID         `json:"attempt_id"`
	TestID     uuid.UUID         `json:"test_id"`
	UserID     int               `json:"user_id"`
	State      State             `json:"state"`
	Cursor     int               `json:"cursor"`
	Total      int               `json:"total"`
	Answered   int               `json:"answered"`
	Unanswered []uuid.UUID       `json:"unanswered"`
	Timer      timer.Snapshot    `json:"timer"`
	Gate       *proctor.Snapshot `json:"gate,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
}

// Controller owns the state of one attempt. It is safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	log    zerolog.Logger

	test      model.Test
	questions []model.Question
	answers   *answer.Store
	gate      *proctor.Gate
	clock     *timer.Engine

	state     State
	cursor    int
	startTime time.Time
	flags     []model.ProctorFlag
	disposed  bool

	frozen   *model.TestAttempt
	inFlight bool
	done     chan struct{}
	result   *model.TestAttempt
	lastErr  error
}

// Load fetches the test and its questions and returns a controller in the
// proctor-gate state, or active when the test does not require proctoring.
// Any failure is a *LoadError.
func Load(ctx context.Context, cfg Config) (*Controller, error) {
	fail := func(err error) (*Controller, error) {
		return nil, &LoadError{TestID: cfg.TestID, Err: err}
	}

	if !cfg.Role.CanTakeTests() {
		return fail(ErrRoleCannotTake)
	}
	applyDefaults(&cfg)

	test, err := cfg.Source.FetchTest(ctx, cfg.TestID)
	if err != nil {
		return fail(err)
	}
	if test.AvailabilityAt(cfg.Now()) != model.AvailabilityOpen {
		return fail(ErrNotAvailable)
	}
	if len(test.QuestionIDs) == 0 {
		return fail(ErrNoQuestions)
	}
	fetched, err := cfg.Source.FetchQuestions(ctx, test.QuestionIDs)
	if err != nil {
		return fail(err)
	}
	questions, err := test.ResolveQuestions(fetched)
	if err != nil {
		return fail(err)
	}
	if test.RandomizeQuestions {
		questions = shuffled(questions, cfg.Shuffle)
	}

	c := &Controller{
		cfg:       cfg,
		test:      test,
		questions: questions,
		answers:   answer.NewStore(questions),
		state:     StateLoading,
	}
	c.log = cfg.Log.With().
		Str("attempt_id", cfg.AttemptID.String()).
		Str("test_id", test.ID.String()).
		Int("user_id", cfg.UserID).
		Logger()
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	c.clock, err = timer.New(test.TimeLimit, c.onExpire,
		timer.WithTickSource(cfg.Ticks),
		timer.WithTickHandler(c.onTick),
	)
	if err != nil {
		c.cancel()
		return fail(err)
	}

	c.mu.Lock()
	if test.RequireProctoring {
		c.gate = proctor.NewGate(proctor.CapabilityCamera, proctor.CapabilityScreen)
		c.state = StateProctorGate
	} else {
		c.activateLocked()
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().Str("state", string(snap.State)).Int("questions", len(questions)).Msg("Session loaded")
	c.cfg.Observer.StateChanged(snap)
	return c, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AttemptID == uuid.Nil {
		cfg.AttemptID = uuid.New()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Ticks == nil {
		cfg.Ticks = timer.RealTicks
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Shuffle == nil {
		cfg.Shuffle = func(ids []uuid.UUID) {
			rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		}
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
}

func shuffled(questions []model.Question, shuffle func([]uuid.UUID)) []model.Question {
	ids := make([]uuid.UUID, len(questions))
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
		byID[q.ID] = q
	}
	shuffle(ids)
	out := make([]model.Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

// activateLocked enters the active state and starts the countdown.
func (c *Controller) activateLocked() {
	c.state = StateActive
	c.startTime = c.cfg.Now()
	c.clock.Start(c.ctx)
}

// ─── Proctoring ──────────────────────────────────────────────────────────────

// RequestCapability acquires one proctoring capability. It is only valid in
// the proctor-gate state. Denials are returned as *proctor.CapabilityDeniedError
// and may be retried.
func (c *Controller) RequestCapability(ctx context.Context, capability proctor.Capability, a proctor.Acquirer) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.state != StateProctorGate {
		c.mu.Unlock()
		return ErrInvalidState
	}
	gate := c.gate
	c.mu.Unlock()

	err := gate.Request(ctx, capability, a)
	if err != nil {
		c.log.Warn().Err(err).Str("capability", string(capability)).Msg("Capability not granted")
	}
	c.notifyState()
	return err
}

// RequestCamera acquires the camera capability.
func (c *Controller) RequestCamera(ctx context.Context, a proctor.Acquirer) error {
	return c.RequestCapability(ctx, proctor.CapabilityCamera, a)
}

// RequestScreenShare acquires the screen-share capability.
func (c *Controller) RequestScreenShare(ctx context.Context, a proctor.Acquirer) error {
	return c.RequestCapability(ctx, proctor.CapabilityScreen, a)
}

// Begin leaves the proctor gate once every capability is granted and starts
// the timer. Calling it on an active session is a no-op.
func (c *Controller) Begin() error {
	c.mu.Lock()
	switch {
	case c.disposed:
		c.mu.Unlock()
		return ErrDisposed
	case c.state == StateActive:
		c.mu.Unlock()
		return nil
	case c.state != StateProctorGate:
		c.mu.Unlock()
		return ErrInvalidState
	case !c.gate.AllReady():
		c.mu.Unlock()
		return ErrGateNotReady
	}
	c.activateLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().Msg("Session started")
	c.cfg.Observer.StateChanged(snap)
	return nil
}

// ─── Navigation ──────────────────────────────────────────────────────────────

// Next moves to the following question. It reports whether the cursor moved.
func (c *Controller) Next() (bool, error) { return c.move(func(i int) int { return i + 1 }) }

// Prev moves to the preceding question.
func (c *Controller) Prev() (bool, error) { return c.move(func(i int) int { return i - 1 }) }

// Jump moves to index. Out-of-range indexes leave the cursor unchanged.
func (c *Controller) Jump(index int) (bool, error) { return c.move(func(int) int { return index }) }

func (c *Controller) move(to func(int) int) (bool, error) {
	c.mu.Lock()
	if err := c.activeLocked(); err != nil {
		c.mu.Unlock()
		return false, err
	}
	next := to(c.cursor)
	if next < 0 || next >= len(c.questions) || next == c.cursor {
		c.mu.Unlock()
		return false, nil
	}
	c.cursor = next
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.cfg.Observer.StateChanged(snap)
	return true, nil
}

// Current returns the current question, its answer and the cursor.
func (c *Controller) Current() (model.Question, model.Answer, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.questions[c.cursor]
	a, _ := c.answers.Get(q.ID)
	return q, a, c.cursor
}

// CurrentView renders the current question for answering.
func (c *Controller) CurrentView() render.View {
	q, a, _ := c.Current()
	return render.Render(q, a, false)
}

// ─── Answers ─────────────────────────────────────────────────────────────────

// SetAnswer replaces the answer of the current question.
func (c *Controller) SetAnswer(value model.Answer) error {
	return c.edit(uuid.Nil, func(model.Question, model.Answer) (model.Answer, error) {
		return value, nil
	})
}

// SetAnswerIfCurrent replaces the answer of questionID, which must be the
// current question.
func (c *Controller) SetAnswerIfCurrent(questionID uuid.UUID, value model.Answer) error {
	return c.edit(questionID, func(model.Question, model.Answer) (model.Answer, error) {
		return value, nil
	})
}

// SetMatch sets one dropdown of the current matching question.
func (c *Controller) SetMatch(slot int, value string) error {
	return c.edit(uuid.Nil, func(q model.Question, cur model.Answer) (model.Answer, error) {
		if q.Type != model.QuestionTypeMatching {
			return model.Answer{}, ErrNotMatching
		}
		if slot < 0 || slot >= len(q.Options) {
			return model.Answer{}, ErrSlotOutOfRange
		}
		return cur.WithSlot(slot, value, len(q.Options)), nil
	})
}

func (c *Controller) edit(expected uuid.UUID, fn func(model.Question, model.Answer) (model.Answer, error)) error {
	c.mu.Lock()
	if err := c.activeLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	q := c.questions[c.cursor]
	if expected != uuid.Nil && expected != q.ID {
		c.mu.Unlock()
		return ErrQuestionMismatch
	}
	cur, _ := c.answers.Get(q.ID)
	next, err := fn(q, cur)
	if err == nil {
		err = c.answers.Set(q.ID, next)
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.cfg.Observer.AnswerSaved(c.cfg.AttemptID, q.ID, next)
	return nil
}

// Answer returns the stored answer of a question.
func (c *Controller) Answer(questionID uuid.UUID) (model.Answer, bool) {
	return c.answers.Get(questionID)
}

// ─── Flags ───────────────────────────────────────────────────────────────────

// RecordFlag appends a proctor flag. Flags are accepted while the gate is
// open or the session is active.
func (c *Controller) RecordFlag(t model.FlagType, evidence string) (model.ProctorFlag, error) {
	if !t.Valid() {
		return model.ProctorFlag{}, ErrInvalidFlag
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return model.ProctorFlag{}, ErrDisposed
	}
	if c.state != StateActive && c.state != StateProctorGate {
		c.mu.Unlock()
		return model.ProctorFlag{}, ErrInvalidState
	}
	flag := model.ProctorFlag{Timestamp: c.cfg.Now(), Type: t, Evidence: evidence}
	c.flags = append(c.flags, flag)
	c.mu.Unlock()

	c.log.Warn().Str("flag", string(t)).Msg("Proctor flag recorded")
	c.cfg.Observer.FlagRecorded(c.cfg.AttemptID, flag)
	return flag, nil
}

// ─── Finalize ────────────────────────────────────────────────────────────────

// Submit finalizes the attempt. It is idempotent: once submitted the stored
// result is returned, and a call made while a submission is in flight waits
// for that submission. A failed submission returns *SubmissionError and may be
// retried.
func (c *Controller) Submit(ctx context.Context) (model.TestAttempt, error) {
	return c.finalize(ctx, true)
}

func (c *Controller) onExpire() {
	c.log.Info().Msg("Time limit reached, submitting")
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SubmitTimeout)
	defer cancel()
	_, err := c.finalize(ctx, false)
	switch {
	case err == nil:
	case errors.Is(err, ErrSubmitInFlight):
		c.log.Debug().Msg("Expiry joined a running submission")
	default:
		c.log.Error().Err(err).Msg("Submission on expiry failed")
	}
}

func (c *Controller) finalize(ctx context.Context, explicit bool) (model.TestAttempt, error) {
	c.mu.Lock()
	if c.state == StateSubmitted {
		res := c.result.Clone()
		c.mu.Unlock()
		return res, nil
	}
	if c.disposed {
		c.mu.Unlock()
		return model.TestAttempt{}, ErrDisposed
	}
	if c.inFlight {
		done := c.done
		c.mu.Unlock()
		if !explicit {
			return model.TestAttempt{}, ErrSubmitInFlight
		}
		select {
		case <-done:
		case <-ctx.Done():
			return model.TestAttempt{}, ctx.Err()
		}
		return c.outcome()
	}
	if c.state != StateActive && c.state != StateSubmitting {
		c.mu.Unlock()
		return model.TestAttempt{}, ErrInvalidState
	}

	if c.frozen == nil {
		c.frozen = c.freezeLocked()
	}
	c.state = StateSubmitting
	c.inFlight = true
	c.done = make(chan struct{})
	frozen := c.frozen.Clone()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.cfg.Observer.StateChanged(snap)

	res, err := c.cfg.Submitter.SubmitAttempt(ctx, frozen)
	c.clock.Dispose()

	c.mu.Lock()
	c.inFlight = false
	done := c.done
	if err != nil {
		serr := &SubmissionError{AttemptID: frozen.ID, Err: err}
		c.lastErr = serr
		snap = c.snapshotLocked()
		c.mu.Unlock()
		close(done)

		c.log.Error().Err(err).Msg("Submission failed")
		c.cfg.Observer.StateChanged(snap)
		return model.TestAttempt{}, serr
	}
	c.result = &res
	c.lastErr = nil
	c.state = StateSubmitted
	gate := c.gate
	snap = c.snapshotLocked()
	c.mu.Unlock()
	close(done)

	if gate != nil {
		if gerr := gate.Dispose(); gerr != nil {
			c.log.Warn().Err(gerr).Msg("Release capabilities failed")
		}
	}
	c.log.Info().Bool("explicit", explicit).Msg("Attempt submitted")
	c.cfg.Observer.StateChanged(snap)
	return res.Clone(), nil
}

func (c *Controller) outcome() (model.TestAttempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSubmitted {
		return c.result.Clone(), nil
	}
	if c.lastErr != nil {
		return model.TestAttempt{}, c.lastErr
	}
	return model.TestAttempt{}, ErrInvalidState
}

// freezeLocked captures the attempt as it will be submitted.
func (c *Controller) freezeLocked() *model.TestAttempt {
	end := c.cfg.Now()
	order := make([]uuid.UUID, len(c.questions))
	for i, q := range c.questions {
		order[i] = q.ID
	}
	a := model.TestAttempt{
		ID:            c.cfg.AttemptID,
		TestID:        c.test.ID,
		UserID:        c.cfg.UserID,
		StartTime:     c.startTime,
		EndTime:       &end,
		Answers:       c.answers.Records(),
		Completed:     true,
		ProctorFlags:  append([]model.ProctorFlag(nil), c.flags...),
		QuestionOrder: order,
	}
	return &a
}

// Result returns the finalized attempt once submitted.
func (c *Controller) Result() (model.TestAttempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return model.TestAttempt{}, false
	}
	return c.result.Clone(), true
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Dispose abandons the session, releasing the timer and every acquired
// capability. A disposed session cannot be resumed.
func (c *Controller) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	gate := c.gate
	c.mu.Unlock()

	c.clock.Dispose()
	c.cancel()
	if gate != nil {
		if err := gate.Dispose(); err != nil {
			return err
		}
	}
	c.log.Info().Msg("Session disposed")
	return nil
}

// Disposed reports whether Dispose has been called.
func (c *Controller) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Test returns the loaded test definition.
func (c *Controller) Test() model.Test { return c.test }

// Questions returns the questions in presentation order.
func (c *Controller) Questions() []model.Question {
	return append([]model.Question(nil), c.questions...)
}

// AttemptID identifies the attempt this controller drives.
func (c *Controller) AttemptID() uuid.UUID { return c.cfg.AttemptID }

// Snapshot returns the current view of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		AttemptID:  c.cfg.AttemptID,
		TestID:     c.test.ID,
		UserID:     c.cfg.UserID,
		State:      c.state,
		Cursor:     c.cursor,
		Total:      c.answers.Len(),
		Answered:   c.answers.CompletedCount(),
		Unanswered: c.answers.Unanswered(),
		Timer:      c.clock.Snapshot(),
	}
	if c.gate != nil {
		g := c.gate.Snapshot()
		s.Gate = &g
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Controller) notifyState() {
	c.cfg.Observer.StateChanged(c.Snapshot())
}

func (c *Controller) onTick(t timer.Snapshot) {
	c.cfg.Observer.Tick(c.cfg.AttemptID, t)
}

func (c *Controller) activeLocked() error {
	if c.disposed {
		return ErrDisposed
	}
	if c.state != StateActive {
		return ErrInvalidState
	}
	return nil
}
