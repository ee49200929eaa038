package interceptors

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/tracing"
)

// Metadata keys added to coordinator calls
const (
	IdentityKey    = "x-worker-identity"
	TraceparentKey = "traceparent"
)

// WorkerUnaryClientInterceptor tags outgoing coordinator requests with the
// process identity and, when the call runs inside a task span, its W3C
// traceparent. Every call is counted in the gRPC request metrics.
func WorkerUnaryClientInterceptor(identity string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(outgoing(ctx, identity), method, req, reply, cc, opts...)
		service, name := splitMethod(method)
		metrics.RecordGRPCMetrics(service, name, status.Code(err).String(), time.Since(start).Seconds())
		return err
	}
}

// splitMethod turns "/pkg.Service/Method" into its short service and method
// names.
func splitMethod(full string) (service, method string) {
	full = strings.TrimPrefix(full, "/")
	svc, m, ok := strings.Cut(full, "/")
	if !ok {
		return "unknown", full
	}
	if i := strings.LastIndex(svc, "."); i >= 0 {
		svc = svc[i+1:]
	}
	return svc, m
}

func outgoing(ctx context.Context, identity string) context.Context {
	if identity != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, IdentityKey, identity)
	}
	if tp := tracing.W3CTraceparent(ctx); tp != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, TraceparentKey, tp)
	}
	return ctx
}
