package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidLimit is returned for a non-positive time limit.
var ErrInvalidLimit = errors.New("time limit must be positive")

// Level is the urgency of the remaining time.
type Level string

const (
	LevelNormal  Level = "normal"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// WarningLevel classifies remaining against the original total.
// danger: remaining <= 5% of total. warning: remaining <= 15% of total.
func WarningLevel(remaining, total int) Level {
	// Integer form of remaining <= 0.05*total and remaining <= 0.15*total.
	switch {
	case 20*remaining <= total:
		return LevelDanger
	case 20*remaining <= 3*total:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// Format renders seconds as MM:SS.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Snapshot is a point-in-time view of the countdown.
type Snapshot struct {
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
	Level     Level  `json:"level"`
	Display   string `json:"display"`
	Expired   bool   `json:"expired"`
}

// Ticker is the cadence the engine counts down on.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickSource creates a Ticker firing every d.
type TickSource func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// RealTicks is the wall-clock tick source.
func RealTicks(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Option configures an Engine.
type Option func(*Engine)

// WithTickSource replaces the wall-clock cadence.
func WithTickSource(src TickSource) Option {
	return func(e *Engine) {
		if src != nil {
			e.newTicker = src
		}
	}
}

// WithTickHandler registers a callback invoked after every decrement.
func WithTickHandler(fn func(Snapshot)) Option {
	return func(e *Engine) { e.onTick = fn }
}

// Engine counts a session's remaining time down once per second and fires
// onExpire exactly once when it reaches zero.
type Engine struct {
	mu        sync.Mutex
	total     int
	remaining int
	started   bool
	disposed  bool
	expired   bool
	cancel    context.CancelFunc

	onExpire  func()
	onTick    func(Snapshot)
	newTicker TickSource
}

// New creates a stopped engine for timeLimit minutes.
func New(timeLimit int, onExpire func(), opts ...Option) (*Engine, error) {
	if timeLimit <= 0 {
		return nil, ErrInvalidLimit
	}
	e := &Engine{
		total:     timeLimit * 60,
		remaining: timeLimit * 60,
		onExpire:  onExpire,
		newTicker: RealTicks,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start begins the countdown. Calling it again, or after Dispose, is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.disposed {
		e.mu.Unlock()
		return
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)
	t := e.newTicker(time.Second)
	e.mu.Unlock()

	go e.run(ctx, t)
}

func (e *Engine) run(ctx context.Context, t Ticker) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if e.step() {
				return
			}
		}
	}
}

// step decrements once and reports whether the loop should stop.
func (e *Engine) step() bool {
	e.mu.Lock()
	if e.disposed || e.remaining == 0 {
		e.mu.Unlock()
		return true
	}
	e.remaining--
	expired := e.remaining == 0
	if expired {
		e.expired = true
	}
	snap := e.snapshotLocked()
	onTick, onExpire := e.onTick, e.onExpire
	e.mu.Unlock()

	if onTick != nil {
		onTick(snap)
	}
	if expired {
		if onExpire != nil && !e.Disposed() {
			onExpire()
		}
		return true
	}
	return false
}

// Dispose stops the cadence. No callback is invoked once Dispose returns,
// except one already in progress.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.disposed = true
	e.onTick = nil
	if e.cancel != nil {
		e.cancel()
	}
}

// Disposed reports whether Dispose has been called.
func (e *Engine) Disposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// Remaining returns the remaining seconds.
func (e *Engine) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining
}

// Snapshot returns the current countdown view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Remaining: e.remaining,
		Total:     e.total,
		Level:     WarningLevel(e.remaining, e.total),
		Display:   Format(e.remaining),
		Expired:   e.expired,
	}
}
