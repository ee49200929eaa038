package circuitbreaker

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCWrapper protects the unary calls of one gRPC connection with a breaker
type GRPCWrapper struct {
	cb      *CircuitBreaker
	logger  *zap.Logger
	name    string
	service string
}

// NewGRPCWrapper creates a gRPC wrapper with circuit breaker
func NewGRPCWrapper(name, service string, cfg CircuitBreakerConfig, logger *zap.Logger) *GRPCWrapper {
	config := cfg.ToConfig()
	config.IsFailure = isCircuitBreakerError
	cb := NewCircuitBreaker(name, config, logger)

	GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)

	return &GRPCWrapper{
		cb:      cb,
		logger:  logger,
		name:    name,
		service: service,
	}
}

// Execute executes a gRPC call with circuit breaker protection
func (gw *GRPCWrapper) Execute(ctx context.Context, fn func() error) error {
	err := gw.cb.Execute(ctx, fn)

	success := err == nil
	if err != nil && !IsRejection(err) && !isCircuitBreakerError(err) {
		// client errors are the caller's problem, not the server's health
		success = true
	}
	GlobalMetricsCollector.RecordRequest(gw.name, gw.service, gw.cb.State(), success)
	return err
}

// UnaryClientInterceptor returns a gRPC unary client interceptor with circuit
// breaker. Long polls that end with DeadlineExceeded simply found no work
// and do not count against the breaker.
func (gw *GRPCWrapper) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		var pollTimeout error
		err := gw.Execute(ctx, func() error {
			err := invoker(ctx, method, req, reply, cc, opts...)
			if isLongPoll(method) && status.Code(err) == codes.DeadlineExceeded {
				pollTimeout = err
				return nil
			}
			return err
		})
		if pollTimeout != nil {
			return pollTimeout
		}
		return err
	}
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (gw *GRPCWrapper) IsCircuitBreakerOpen() bool {
	return gw.cb.State() == StateOpen
}

// GetState returns the current circuit breaker state
func (gw *GRPCWrapper) GetState() State {
	return gw.cb.State()
}

// Breaker exposes the underlying breaker for health checks
func (gw *GRPCWrapper) Breaker() *CircuitBreaker {
	return gw.cb
}

// isLongPoll matches the workflow service poll methods, e.g.
// /temporal.api.workflowservice.v1.WorkflowService/PollWorkflowTaskQueue
func isLongPoll(method string) bool {
	i := strings.LastIndexByte(method, '/')
	return strings.HasPrefix(method[i+1:], "Poll")
}

// isCircuitBreakerError determines if an error should trigger the circuit breaker
func isCircuitBreakerError(err error) bool {
	if err == nil {
		return false
	}

	if IsRejection(err) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
			return true
		case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.PermissionDenied,
			codes.Unauthenticated, codes.FailedPrecondition, codes.Canceled:
			return false
		default:
			return true
		}
	}

	return true
}
