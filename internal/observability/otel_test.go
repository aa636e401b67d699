package observability

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "test", Exporter: "none"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitUnknownExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Exporter: "carrier-pigeon"}, zerolog.Nop())
	if err == nil {
		t.Fatalf("want error for unknown exporter")
	}
	if shutdown == nil {
		t.Fatalf("shutdown must never be nil")
	}
}

func TestTraceIDWithoutSpan(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Fatalf("TraceID: want empty got %q", got)
	}
}
