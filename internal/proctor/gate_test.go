package proctor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeHandle struct {
	id       string
	released atomic.Int32
}

func (h *fakeHandle) ID() string { return h.id }
func (h *fakeHandle) Release() error {
	h.released.Add(1)
	return nil
}

func grant(h *fakeHandle) Acquirer {
	return AcquirerFunc(func(context.Context) (Handle, error) { return h, nil })
}

func deny(err error) Acquirer {
	return AcquirerFunc(func(context.Context) (Handle, error) { return nil, err })
}

func TestGateStartsPending(t *testing.T) {
	g := NewGate(CapabilityCamera, CapabilityScreen)
	if g.Status(CapabilityCamera) != StatusPending || g.Status(CapabilityScreen) != StatusPending {
		t.Fatalf("capabilities should start pending")
	}
	if g.AllReady() {
		t.Fatalf("AllReady: want=false")
	}
}

func TestGateAllReadyWhenEveryCapabilityGranted(t *testing.T) {
	g := NewGate(CapabilityCamera, CapabilityScreen)
	cam, scr := &fakeHandle{id: "cam"}, &fakeHandle{id: "scr"}

	if err := g.RequestCamera(context.Background(), grant(cam)); err != nil {
		t.Fatalf("RequestCamera: %v", err)
	}
	if g.AllReady() {
		t.Fatalf("AllReady with only camera granted")
	}
	if err := g.RequestScreenShare(context.Background(), grant(scr)); err != nil {
		t.Fatalf("RequestScreenShare: %v", err)
	}
	if !g.AllReady() {
		t.Fatalf("AllReady: want=true")
	}
	if h, ok := g.Handle(CapabilityCamera); !ok || h.ID() != "cam" {
		t.Fatalf("camera handle not exposed")
	}
}

func TestGateDeniedCameraKeepsGateClosed(t *testing.T) {
	g := NewGate(CapabilityCamera, CapabilityScreen)
	refused := errors.New("NotAllowedError")

	err := g.RequestCamera(context.Background(), deny(refused))
	var denied *CapabilityDeniedError
	if !errors.As(err, &denied) || denied.Capability != CapabilityCamera {
		t.Fatalf("want CapabilityDeniedError for camera, got %v", err)
	}
	if !errors.Is(err, refused) {
		t.Fatalf("denial should wrap the acquirer error")
	}
	_ = g.RequestScreenShare(context.Background(), grant(&fakeHandle{id: "scr"}))

	if g.Status(CapabilityCamera) != StatusDenied {
		t.Fatalf("camera status: want=denied got=%s", g.Status(CapabilityCamera))
	}
	if g.AllReady() {
		t.Fatalf("AllReady with denied camera")
	}

	// Retry succeeds.
	if err := g.RequestCamera(context.Background(), grant(&fakeHandle{id: "cam"})); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !g.AllReady() {
		t.Fatalf("AllReady after retry: want=true")
	}
	snap := g.Snapshot()
	if !snap.AllReady || snap.Capabilities[0].Error != "" {
		t.Fatalf("snapshot after retry: %+v", snap)
	}
}

func TestGatePanickingAcquirerIsDenied(t *testing.T) {
	g := NewGate(CapabilityCamera)
	err := g.RequestCamera(context.Background(), AcquirerFunc(func(context.Context) (Handle, error) {
		panic("device exploded")
	}))
	if err == nil || g.Status(CapabilityCamera) != StatusDenied {
		t.Fatalf("panic should surface as denial, got %v", err)
	}
}

func TestGateGrantedIsNotReacquired(t *testing.T) {
	g := NewGate(CapabilityCamera)
	var calls atomic.Int32
	a := AcquirerFunc(func(context.Context) (Handle, error) {
		calls.Add(1)
		return &fakeHandle{id: "cam"}, nil
	})
	_ = g.RequestCamera(context.Background(), a)
	_ = g.RequestCamera(context.Background(), a)
	if got := calls.Load(); got != 1 {
		t.Fatalf("acquire calls: want=1 got=%d", got)
	}
}

func TestGateRejectsUnrequiredCapability(t *testing.T) {
	g := NewGate(CapabilityCamera)
	if err := g.RequestScreenShare(context.Background(), grant(&fakeHandle{})); !errors.Is(err, ErrNotRequired) {
		t.Fatalf("want ErrNotRequired got %v", err)
	}
}

func TestGateDisposeReleasesHandles(t *testing.T) {
	g := NewGate(CapabilityCamera, CapabilityScreen)
	cam, scr := &fakeHandle{id: "cam"}, &fakeHandle{id: "scr"}
	_ = g.RequestCamera(context.Background(), grant(cam))
	_ = g.RequestScreenShare(context.Background(), grant(scr))

	if err := g.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	_ = g.Dispose()
	if cam.released.Load() != 1 || scr.released.Load() != 1 {
		t.Fatalf("handles released cam=%d scr=%d", cam.released.Load(), scr.released.Load())
	}
	if g.AllReady() {
		t.Fatalf("disposed gate reports ready")
	}
	if err := g.RequestCamera(context.Background(), grant(cam)); !errors.Is(err, ErrGateDisposed) {
		t.Fatalf("request after dispose: want ErrGateDisposed got %v", err)
	}
}

func TestGateWithNoRequirementsIsReady(t *testing.T) {
	if !NewGate().AllReady() {
		t.Fatalf("empty gate should be ready")
	}
}
