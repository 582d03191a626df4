package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newSpanRecorder returns a TracerProvider exporting synchronously into an
// in-memory buffer.
func newSpanRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestCorrelationIDWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestCorrelationIDFromSpan(t *testing.T) {
	tp, _ := newSpanRecorder(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "turn-processing")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID length = %d, want 32", len(cid))
	}
	for _, c := range cid {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("correlation ID contains non-hex character %q", c)
			break
		}
	}
}

func TestStartSpanUsesGlobalProvider(t *testing.T) {
	tp, exp := newSpanRecorder(t)

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "clean-turn")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not yield a valid trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if spans[0].Name != "clean-turn" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "clean-turn")
	}
}

func TestLoggerCarriesTraceFields(t *testing.T) {
	tp, _ := newSpanRecorder(t)

	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "decide-turn")
	defer span.End()

	Logger(ctx).Info("decision recorded")

	out := buf.String()
	if !strings.Contains(out, "trace_id=") {
		t.Errorf("log output missing trace_id: %s", out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("log output missing span_id: %s", out)
	}
}

func TestLoggerWithoutSpanIsPlain(t *testing.T) {
	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	Logger(context.Background()).Info("no active span")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log output should not contain trace_id: %s", out)
	}
}
