package activity

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/metrics"
)

// ErrMissingResolver is returned when an executor is built without a resolver.
var ErrMissingResolver = errors.New("activity resolver is required")

// Handler performs one activity. Completion is the handler's own business:
// it may report it right away through the coordinator client or later from
// somewhere else entirely.
type Handler interface {
	HandleActivityTask(ctx context.Context, task *history.ActivityTask) error
}

// HandlerFunc adapts a plain function to Handler
type HandlerFunc func(ctx context.Context, task *history.ActivityTask) error

func (f HandlerFunc) HandleActivityTask(ctx context.Context, task *history.ActivityTask) error {
	return f(ctx, task)
}

// Resolver hands out a scoped handler for an activity type. release must be
// called exactly once when the handler is no longer used.
type Resolver interface {
	Resolve(ctx context.Context, activityType history.ActivityType) (h Handler, release func(), err error)
}

// Failure is what gets reported to the coordinator when an activity fails.
type Failure struct {
	Reason  string
	Details string
}

// Executor runs activity handlers and turns their errors into failures.
type Executor struct {
	resolver Resolver
	logger   *zap.Logger
}

// NewExecutor creates an activity executor
func NewExecutor(resolver Resolver, logger *zap.Logger) (*Executor, error) {
	if resolver == nil {
		return nil, ErrMissingResolver
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{resolver: resolver, logger: logger}, nil
}

// Execute resolves and runs the handler for task. It returns nil when the
// handler succeeded and a Failure to report otherwise. The handler is
// released on every path.
func (x *Executor) Execute(ctx context.Context, task *history.ActivityTask) *Failure {
	err := x.run(ctx, task)
	if err == nil {
		return nil
	}

	metrics.HandlerFailures.WithLabelValues("activity", task.ActivityType.Name).Inc()
	x.logger.Warn("Activity failed",
		zap.String("activity_id", task.ActivityID),
		zap.String("activity_type", task.ActivityType.Name),
		zap.String("workflow_id", task.WorkflowExecution.WorkflowID),
		zap.Error(err),
	)
	return &Failure{
		Reason:  decision.ReasonException,
		Details: failureDetails(err),
	}
}

func (x *Executor) run(ctx context.Context, task *history.ActivityTask) (err error) {
	handler, release, err := x.resolver.Resolve(ctx, task.ActivityType)
	if err != nil {
		return fmt.Errorf("resolve activity %s: %w", task.ActivityType.Name, err)
	}
	if release != nil {
		defer release()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return handler.HandleActivityTask(ctx, task)
}

// PanicError wraps a value recovered from a panicking handler
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

func failureDetails(err error) string {
	trace := fmt.Sprintf("%+v", err)
	var pe *PanicError
	if errors.As(err, &pe) {
		trace = string(pe.Stack)
	}
	return decision.Truncate(err.Error() + "\n\n" + trace)
}
