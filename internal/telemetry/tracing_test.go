package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{ServiceName: "queuecast"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown of disabled tracer: %v", err)
	}
	var nilProvider *TracerProvider
	if err := nilProvider.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
}

func TestCommandSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, span := StartCommandSpan(context.Background(), "skip", "conn-1")
	EndSpan(span, nil)
	_, span = StartCommandSpan(context.Background(), "get_song", "admin")
	EndSpan(span, errors.New("track not found"))

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	ok, failed := ended[0], ended[1]
	if ok.Name() != "command.skip" || ok.Status().Code == codes.Error {
		t.Fatalf("unexpected span %s status %v", ok.Name(), ok.Status())
	}
	found := false
	for _, kv := range ok.Attributes() {
		if kv == attribute.String("queuecast.source", "conn-1") {
			found = true
		}
	}
	if !found {
		t.Fatalf("source attribute missing: %v", ok.Attributes())
	}
	if failed.Status().Code != codes.Error || len(failed.Events()) == 0 {
		t.Fatalf("failed command span should carry the error: %+v", failed.Status())
	}
}
