package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Capability is a monitoring capability the learner must grant.
type Capability string

const (
	CapabilityCamera Capability = "camera"
	CapabilityScreen Capability = "screen"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return c == CapabilityCamera || c == CapabilityScreen
}

// Status is the acquisition state of one capability.
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
)

var (
	ErrGateDisposed     = errors.New("proctoring gate disposed")
	ErrNotRequired      = errors.New("capability not required by this test")
	ErrAcquireInFlight  = errors.New("capability acquisition already in progress")
	errAcquirerPanicked = errors.New("capability acquirer panicked")
)

// CapabilityDeniedError reports a refused or failed acquisition.
type CapabilityDeniedError struct {
	Capability Capability
	Err        error
}

func (e *CapabilityDeniedError) Error() string {
	return fmt.Sprintf("%s access denied: %v", e.Capability, e.Err)
}

func (e *CapabilityDeniedError) Unwrap() error { return e.Err }

// Handle is an acquired capability that must be released.
type Handle interface {
	ID() string
	Release() error
}

// Acquirer obtains a capability handle.
type Acquirer interface {
	Acquire(ctx context.Context) (Handle, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context) (Handle, error)

func (f AcquirerFunc) Acquire(ctx context.Context) (Handle, error) { return f(ctx) }

type slot struct {
	status   Status
	handle   Handle
	err      error
	inFlight bool
}

// Gate collects the capabilities a test requires and exposes one readiness
// signal. It is safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	order    []Capability
	slots    map[Capability]*slot
	disposed bool
}

// NewGate creates a gate requiring the given capabilities, all pending.
func NewGate(required ...Capability) *Gate {
	g := &Gate{slots: make(map[Capability]*slot, len(required))}
	for _, c := range required {
		if _, dup := g.slots[c]; dup {
			continue
		}
		g.order = append(g.order, c)
		g.slots[c] = &slot{status: StatusPending}
	}
	return g
}

// RequestCamera acquires the camera capability.
func (g *Gate) RequestCamera(ctx context.Context, a Acquirer) error {
	return g.Request(ctx, CapabilityCamera, a)
}

// RequestScreenShare acquires the screen-sharing capability.
func (g *Gate) RequestScreenShare(ctx context.Context, a Acquirer) error {
	return g.Request(ctx, CapabilityScreen, a)
}

// Request acquires c through a. A granted capability is not re-acquired; a
// denied one may be retried.
func (g *Gate) Request(ctx context.Context, c Capability, a Acquirer) error {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return ErrGateDisposed
	}
	s, ok := g.slots[c]
	if !ok {
		g.mu.Unlock()
		return ErrNotRequired
	}
	if s.status == StatusGranted {
		g.mu.Unlock()
		return nil
	}
	if s.inFlight {
		g.mu.Unlock()
		return ErrAcquireInFlight
	}
	s.inFlight = true
	g.mu.Unlock()

	h, err := acquire(ctx, a)

	g.mu.Lock()
	defer g.mu.Unlock()
	s.inFlight = false

	if err != nil {
		s.status = StatusDenied
		s.err = err
		return &CapabilityDeniedError{Capability: c, Err: err}
	}
	if g.disposed {
		// Late grant after teardown.
		_ = h.Release()
		return ErrGateDisposed
	}
	s.status = StatusGranted
	s.handle = h
	s.err = nil
	return nil
}

func acquire(ctx context.Context, a Acquirer) (h Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("%w: %v", errAcquirerPanicked, r)
		}
	}()
	h, err = a.Acquire(ctx)
	if err == nil && h == nil {
		err = errors.New("acquirer returned no handle")
	}
	return h, err
}

// Status returns the state of c, or pending for capabilities not required.
func (g *Gate) Status(c Capability) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.slots[c]; ok {
		return s.status
	}
	return StatusPending
}

// AllReady is true iff every required capability is granted.
func (g *Gate) AllReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disposed {
		return false
	}
	for _, s := range g.slots {
		if s.status != StatusGranted {
			return false
		}
	}
	return true
}

// Handle returns the acquired handle for c, if granted.
func (g *Gate) Handle(c Capability) (Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[c]
	if !ok || s.handle == nil {
		return nil, false
	}
	return s.handle, true
}

// CapabilityState is the public view of one capability.
type CapabilityState struct {
	Capability Capability `json:"capability"`
	Status     Status     `json:"status"`
	HandleID   string     `json:"handle_id,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Snapshot is the public view of the gate.
type Snapshot struct {
	AllReady     bool              `json:"all_ready"`
	Capabilities []CapabilityState `json:"capabilities"`
}

// Snapshot returns the gate state in requirement order.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := Snapshot{AllReady: !g.disposed, Capabilities: make([]CapabilityState, 0, len(g.order))}
	for _, c := range g.order {
		s := g.slots[c]
		cs := CapabilityState{Capability: c, Status: s.status}
		if s.handle != nil {
			cs.HandleID = s.handle.ID()
		}
		if s.err != nil {
			cs.Error = s.err.Error()
		}
		if s.status != StatusGranted {
			out.AllReady = false
		}
		out.Capabilities = append(out.Capabilities, cs)
	}
	return out
}

// Dispose releases every acquired handle. It is safe to call more than once.
func (g *Gate) Dispose() error {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return nil
	}
	g.disposed = true
	var handles []Handle
	for _, c := range g.order {
		if s := g.slots[c]; s.handle != nil {
			handles = append(handles, s.handle)
			s.handle = nil
		}
	}
	g.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", h.ID(), err))
		}
	}
	return errors.Join(errs...)
}
