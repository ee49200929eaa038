package decider

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

const skipCheckpoint = "checkpoint"

// Engine turns an assembled decision task into the decisions to report.
// It keeps no state between calls and may be shared by any number of agents.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a decision engine
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Handle dispatches every event after the task's checkpoint to handlers, in
// order. Events without a handler or without attributes are skipped. If a
// handler fails, everything accumulated so far is dropped, the result is a
// single FailWorkflowExecution with reason "exception", and the remaining
// events are not visited.
func (e *Engine) Handle(ctx context.Context, task *history.DecisionTask, handlers *Handlers) []decision.Decision {
	d := &Decisions{}
	if handlers == nil {
		handlers = &Handlers{}
	}

	for _, ev := range task.Events {
		if ev.ID <= task.PreviousStartedEventID {
			continue
		}

		skip, err := e.dispatch(ctx, handlers, ev, task, d)
		if skip != "" {
			metrics.EventsSkipped.WithLabelValues(ev.Type.String(), skip).Inc()
			e.logger.Debug("Skipping history event",
				zap.Int64("event_id", ev.ID),
				zap.String("event_type", ev.Type.String()),
				zap.String("reason", skip),
			)
			continue
		}
		if err != nil {
			metrics.HandlerFailures.WithLabelValues("decider", task.WorkflowType.Name).Inc()
			e.logger.Warn("Decider handler failed, failing workflow",
				zap.String("workflow_id", task.WorkflowExecution.WorkflowID),
				zap.String("run_id", task.WorkflowExecution.RunID),
				zap.Int64("event_id", ev.ID),
				zap.String("event_type", ev.Type.String()),
				zap.Error(err),
			)
			d.reset()
			d.FailWorkflowReason(decision.ReasonException, failureDetails(ev, task, err))
			break
		}
	}

	return d.List()
}

// dispatch converts a handler panic into an error
func (e *Engine) dispatch(ctx context.Context, h *Handlers, ev history.Event, task *history.DecisionTask, d *Decisions) (skip string, err error) {
	defer func() {
		if r := recover(); r != nil {
			skip = ""
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.dispatch(ctx, ev, task, d)
}

// PanicError wraps a value recovered from a panicking handler
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// failureDetails renders the message, the point of failure and a trace:
// the panic stack, or the error's %+v form.
func failureDetails(ev history.Event, task *history.DecisionTask, err error) string {
	details := fmt.Sprintf("Unhandled error in %s: %s\n\nat event %d of workflow %s/%s",
		ev.Type, err.Error(), ev.ID, task.WorkflowExecution.WorkflowID, task.WorkflowExecution.RunID)
	trace := fmt.Sprintf("%+v", err)
	var pe *PanicError
	if errors.As(err, &pe) {
		trace = string(pe.Stack)
	}
	return decision.Truncate(details + "\n\n" + trace)
}
