package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

func (m *manualTicker) source() TickSource {
	return func(time.Duration) Ticker { return m }
}

func TestWarningLevelBoundaries(t *testing.T) {
	const total = 600 // 10 minutes: 5% = 30s, 15% = 90s
	cases := []struct {
		remaining int
		want      Level
	}{
		{600, LevelNormal},
		{91, LevelNormal},
		{90, LevelWarning},
		{31, LevelWarning},
		{30, LevelDanger},
		{1, LevelDanger},
		{0, LevelDanger},
	}
	for _, tc := range cases {
		if got := WarningLevel(tc.remaining, total); got != tc.want {
			t.Fatalf("WarningLevel(%d, %d): want=%s got=%s", tc.remaining, total, tc.want, got)
		}
	}
}

func TestWarningLevelFractionalThresholds(t *testing.T) {
	// 1 minute: 5% = 3s, 15% = 9s.
	if got := WarningLevel(9, 60); got != LevelWarning {
		t.Fatalf("9/60: want=warning got=%s", got)
	}
	if got := WarningLevel(10, 60); got != LevelNormal {
		t.Fatalf("10/60: want=normal got=%s", got)
	}
	if got := WarningLevel(3, 60); got != LevelDanger {
		t.Fatalf("3/60: want=danger got=%s", got)
	}
	if got := WarningLevel(4, 60); got != LevelWarning {
		t.Fatalf("4/60: want=warning got=%s", got)
	}
}

func TestFormat(t *testing.T) {
	cases := map[int]string{
		0:    "00:00",
		5:    "00:05",
		65:   "01:05",
		1800: "30:00",
		-3:   "00:00",
	}
	for in, want := range cases {
		if got := Format(in); got != want {
			t.Fatalf("Format(%d): want=%q got=%q", in, want, got)
		}
	}
}

func TestNewRejectsNonPositiveLimit(t *testing.T) {
	if _, err := New(0, nil); err != ErrInvalidLimit {
		t.Fatalf("want ErrInvalidLimit got %v", err)
	}
}

func TestEngineCountsDownAndExpiresOnce(t *testing.T) {
	ticker := newManualTicker()
	var expired atomic.Int32
	snaps := make(chan Snapshot, 64)

	e, err := New(1, func() { expired.Add(1) },
		WithTickSource(ticker.source()),
		WithTickHandler(func(s Snapshot) { snaps <- s }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := e.Remaining(); got != 60 {
		t.Fatalf("initial remaining: want=60 got=%d", got)
	}

	e.Start(context.Background())
	prev := 60
	for i := 0; i < 60; i++ {
		ticker.ch <- time.Now()
		s := <-snaps
		if s.Remaining != prev-1 {
			t.Fatalf("tick %d: want=%d got=%d", i, prev-1, s.Remaining)
		}
		prev = s.Remaining
	}

	waitFor(t, func() bool { return expired.Load() == 1 })
	waitFor(t, func() bool { return ticker.stopped.Load() })

	select {
	case ticker.ch <- time.Now():
		t.Fatalf("engine kept ticking after expiry")
	case <-time.After(50 * time.Millisecond):
	}

	if got := e.Remaining(); got != 0 {
		t.Fatalf("remaining after expiry: want=0 got=%d", got)
	}
	if got := expired.Load(); got != 1 {
		t.Fatalf("expiry count: want=1 got=%d", got)
	}
	if !e.Snapshot().Expired {
		t.Fatalf("snapshot should report expiry")
	}
}

func TestDisposeStopsCallbacks(t *testing.T) {
	ticker := newManualTicker()
	var ticks atomic.Int32
	var expired atomic.Int32

	e, _ := New(1, func() { expired.Add(1) },
		WithTickSource(ticker.source()),
		WithTickHandler(func(Snapshot) { ticks.Add(1) }),
	)
	e.Start(context.Background())
	ticker.ch <- time.Now()
	waitFor(t, func() bool { return ticks.Load() == 1 })

	e.Dispose()
	waitFor(t, func() bool { return ticker.stopped.Load() })

	if !e.Disposed() {
		t.Fatalf("Disposed: want=true")
	}
	if got := e.Remaining(); got != 59 {
		t.Fatalf("remaining after dispose: want=59 got=%d", got)
	}
	if expired.Load() != 0 {
		t.Fatalf("expiry fired after dispose")
	}

	// Start after dispose is a no-op.
	e.Start(context.Background())
	if got := e.Remaining(); got != 59 {
		t.Fatalf("restart changed remaining: got=%d", got)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	var created atomic.Int32
	ticker := newManualTicker()
	src := func(time.Duration) Ticker {
		created.Add(1)
		return ticker
	}
	e, _ := New(2, nil, WithTickSource(src))
	e.Start(context.Background())
	e.Start(context.Background())
	defer e.Dispose()
	if got := created.Load(); got != 1 {
		t.Fatalf("tickers created: want=1 got=%d", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
