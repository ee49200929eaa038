package interceptors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oteltrace "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func capture(t *testing.T, ctx context.Context, identity string) metadata.MD {
	t.Helper()
	var md metadata.MD
	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}
	err := WorkerUnaryClientInterceptor(identity)(ctx, "/temporal.api.workflowservice.v1.WorkflowService/PollActivityTaskQueue", nil, nil, nil, invoker)
	require.NoError(t, err)
	return md
}

func TestInterceptorAddsIdentity(t *testing.T) {
	md := capture(t, context.Background(), "host:1234")
	assert.Equal(t, []string{"host:1234"}, md.Get(IdentityKey))
	assert.Empty(t, md.Get(TraceparentKey))
}

func TestInterceptorAddsTraceparent(t *testing.T) {
	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    oteltrace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     oteltrace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: oteltrace.FlagsSampled,
	})
	ctx := oteltrace.ContextWithSpanContext(context.Background(), sc)

	md := capture(t, ctx, "")
	assert.Empty(t, md.Get(IdentityKey))
	assert.Equal(t, []string{"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}, md.Get(TraceparentKey))
}

func TestSplitMethod(t *testing.T) {
	svc, m := splitMethod("/temporal.api.workflowservice.v1.WorkflowService/PollWorkflowTaskQueue")
	assert.Equal(t, "WorkflowService", svc)
	assert.Equal(t, "PollWorkflowTaskQueue", m)

	svc, m = splitMethod("Ping")
	assert.Equal(t, "unknown", svc)
	assert.Equal(t, "Ping", m)
}

func TestInterceptorReturnsInvokerError(t *testing.T) {
	want := status.Error(codes.Unavailable, "down")
	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		return want
	}
	err := WorkerUnaryClientInterceptor("id")(context.Background(), "/svc.S/M", nil, nil, nil, invoker)
	assert.Equal(t, want, err)
}
