package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	assert.Empty(t, W3CTraceparent(ctx))
}

func TestTaskSpanRecordsAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := tracer
	tracer = tp.Tracer("test")
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tracer = prev })

	ctx, span := StartTaskSpan(context.Background(), TaskAttributes{
		Role: "decider", TaskList: "greeting", WorkflowID: "wf-1", RunID: "run-1", Type: "Greeting",
	})
	tp1 := W3CTraceparent(ctx)
	assert.True(t, strings.HasPrefix(tp1, "00-"))
	assert.Len(t, strings.Split(tp1, "-"), 4)

	EndTaskSpan(span, "workflow_failed", errors.New("boom"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "decider Greeting", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.String("flowworker.workflow_id", "wf-1"))
	assert.Contains(t, ended[0].Attributes(), attribute.String("flowworker.outcome", "workflow_failed"))
}
