package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/Amaz3n/strata-sub010/internal/infrastructure/telemetry"
)

// setupTestTracer installs an in-memory span recorder as the global
// tracer provider and returns it with a cleanup function.
func setupTestTracer(t *testing.T) (*tracetest.SpanRecorder, func()) {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	}
	return sr, cleanup
}

func hasAttribute(s sdktrace.ReadOnlySpan, key, value string) bool {
	for _, attr := range s.Attributes() {
		if string(attr.Key) == key && attr.Value.Emit() == value {
			return true
		}
	}
	return false
}

func TestStartServiceSpan(t *testing.T) {
	sr, cleanup := setupTestTracer(t)
	defer cleanup()

	_, span := telemetry.StartServiceSpan(context.Background(), "sync_job", "process",
		telemetry.WithAttribute(telemetry.SpanAttrJobID, "job-1"),
	)
	require.NotNil(t, span)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "sync_job.process", spans[0].Name())
	assert.Equal(t, trace.SpanKindInternal, spans[0].SpanKind())
	assert.True(t, hasAttribute(spans[0], telemetry.SpanAttrJobID, "job-1"))
}

func TestStartSpan_WithOptions(t *testing.T) {
	sr, cleanup := setupTestTracer(t)
	defer cleanup()

	_, span := telemetry.StartSpan(context.Background(), "gateway.create_invoice",
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute("attempt", 3),
	)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	assert.True(t, hasAttribute(spans[0], "attempt", "3"))
}

func TestSetAttributes(t *testing.T) {
	sr, cleanup := setupTestTracer(t)
	defer cleanup()

	t.Run("alternating pairs of mixed types", func(t *testing.T) {
		_, span := telemetry.StartSpan(context.Background(), "test.operation")
		telemetry.SetAttributes(span,
			telemetry.SpanAttrExternalID, "qbo-42",
			"event_count", 7,
			"halted", true,
		)
		span.End()

		spans := sr.Ended()
		require.NotEmpty(t, spans)
		last := spans[len(spans)-1]
		assert.True(t, hasAttribute(last, telemetry.SpanAttrExternalID, "qbo-42"))
		assert.True(t, hasAttribute(last, "event_count", "7"))
		assert.True(t, hasAttribute(last, "halted", "true"))
	})

	t.Run("dangling key is dropped", func(t *testing.T) {
		_, span := telemetry.StartSpan(context.Background(), "test.operation")
		telemetry.SetAttributes(span, "complete", "yes", "dangling")
		span.End()

		spans := sr.Ended()
		last := spans[len(spans)-1]
		assert.True(t, hasAttribute(last, "complete", "yes"))
		assert.False(t, hasAttribute(last, "dangling", ""))
	})

	t.Run("nil span is a no-op", func(t *testing.T) {
		assert.NotPanics(t, func() {
			telemetry.SetAttributes(nil, "key", "value")
		})
	})
}

func TestRecordError(t *testing.T) {
	sr, cleanup := setupTestTracer(t)
	defer cleanup()

	t.Run("marks span status error", func(t *testing.T) {
		_, span := telemetry.StartSpan(context.Background(), "test.operation")
		telemetry.RecordError(span, errors.New("gateway timed out"))
		span.End()

		spans := sr.Ended()
		last := spans[len(spans)-1]
		assert.Equal(t, codes.Error, last.Status().Code)
		assert.Equal(t, "gateway timed out", last.Status().Description)
		require.Len(t, last.Events(), 1)
	})

	t.Run("nil error leaves status unset", func(t *testing.T) {
		_, span := telemetry.StartSpan(context.Background(), "test.operation")
		telemetry.RecordError(span, nil)
		span.End()

		spans := sr.Ended()
		last := spans[len(spans)-1]
		assert.Equal(t, codes.Unset, last.Status().Code)
		assert.Empty(t, last.Events())
	})
}

func TestAddEvent(t *testing.T) {
	sr, cleanup := setupTestTracer(t)
	defer cleanup()

	_, span := telemetry.StartSpan(context.Background(), "test.operation")
	telemetry.AddEvent(span, "job_reclaimed", "owner", "worker-2")
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "job_reclaimed", spans[0].Events()[0].Name)
}

func TestGetTraceID(t *testing.T) {
	_, cleanup := setupTestTracer(t)
	defer cleanup()

	assert.Empty(t, telemetry.GetTraceID(context.Background()))

	ctx, span := telemetry.StartSpan(context.Background(), "test.operation")
	defer span.End()

	traceID := telemetry.GetTraceID(ctx)
	assert.Len(t, traceID, 32)
	assert.Equal(t, span.SpanContext().TraceID().String(), traceID)
}

func TestSpanFromContext_NoSpan(t *testing.T) {
	span := telemetry.SpanFromContext(context.Background())
	require.NotNil(t, span)

	// Helpers stay safe on the ambient no-op span
	assert.NotPanics(t, func() {
		telemetry.SetAttributes(span, "key", "value")
		telemetry.RecordError(span, errors.New("ignored"))
	})
}
