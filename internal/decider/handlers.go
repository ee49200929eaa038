package decider

import (
	"context"
	"errors"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

// ErrMissingStartHandler is returned by Handlers.Validate when a decider does
// not handle WorkflowExecutionStarted.
var ErrMissingStartHandler = errors.New("decider has no WorkflowExecutionStarted handler")

// Handler reacts to one history event of the type whose attributes it accepts.
type Handler[A any] func(ctx context.Context, attrs *A, task *history.DecisionTask, d *Decisions) error

// Handlers is the dispatch table of a decider: one optional handler per
// history event type. Events whose handler is nil are skipped.
type Handlers struct {
	WorkflowExecutionStarted         Handler[history.WorkflowExecutionStartedAttributes]
	WorkflowExecutionCancelRequested Handler[history.WorkflowExecutionCancelRequestedAttributes]
	WorkflowExecutionSignaled        Handler[history.WorkflowExecutionSignaledAttributes]
	ActivityTaskScheduled            Handler[history.ActivityTaskScheduledAttributes]
	ActivityTaskCompleted            Handler[history.ActivityTaskCompletedAttributes]
	ActivityTaskFailed               Handler[history.ActivityTaskFailedAttributes]
	ActivityTaskTimedOut             Handler[history.ActivityTaskTimedOutAttributes]
	ActivityTaskCanceled             Handler[history.ActivityTaskCanceledAttributes]
	ChildWorkflowExecutionCompleted  Handler[history.ChildWorkflowExecutionCompletedAttributes]
	ChildWorkflowExecutionFailed     Handler[history.ChildWorkflowExecutionFailedAttributes]
	ChildWorkflowExecutionCanceled   Handler[history.ChildWorkflowExecutionCanceledAttributes]
	ChildWorkflowExecutionTimedOut   Handler[history.ChildWorkflowExecutionTimedOutAttributes]
	ChildWorkflowExecutionTerminated Handler[history.ChildWorkflowExecutionTerminatedAttributes]
	MarkerRecorded                   Handler[history.MarkerRecordedAttributes]
}

// Validate checks the table before it is registered
func (h *Handlers) Validate() error {
	if h == nil || h.WorkflowExecutionStarted == nil {
		return ErrMissingStartHandler
	}
	return nil
}

// skipReason values reported when an event is not dispatched
const (
	skipNoHandler = "no_handler"
	skipNoPayload = "no_payload"
)

// dispatch calls the handler bound to the event's type. It returns a non-empty
// skip reason when there is no handler or the event carries no attributes.
func (h *Handlers) dispatch(ctx context.Context, e history.Event, task *history.DecisionTask, d *Decisions) (string, error) {
	switch e.Type {
	case history.EventTypeWorkflowExecutionStarted:
		return invoke(ctx, h.WorkflowExecutionStarted, e.WorkflowExecutionStarted, task, d)
	case history.EventTypeWorkflowExecutionCancelRequested:
		return invoke(ctx, h.WorkflowExecutionCancelRequested, e.WorkflowExecutionCancelRequested, task, d)
	case history.EventTypeWorkflowExecutionSignaled:
		return invoke(ctx, h.WorkflowExecutionSignaled, e.WorkflowExecutionSignaled, task, d)
	case history.EventTypeActivityTaskScheduled:
		return invoke(ctx, h.ActivityTaskScheduled, e.ActivityTaskScheduled, task, d)
	case history.EventTypeActivityTaskCompleted:
		return invoke(ctx, h.ActivityTaskCompleted, e.ActivityTaskCompleted, task, d)
	case history.EventTypeActivityTaskFailed:
		return invoke(ctx, h.ActivityTaskFailed, e.ActivityTaskFailed, task, d)
	case history.EventTypeActivityTaskTimedOut:
		return invoke(ctx, h.ActivityTaskTimedOut, e.ActivityTaskTimedOut, task, d)
	case history.EventTypeActivityTaskCanceled:
		return invoke(ctx, h.ActivityTaskCanceled, e.ActivityTaskCanceled, task, d)
	case history.EventTypeChildWorkflowExecutionCompleted:
		return invoke(ctx, h.ChildWorkflowExecutionCompleted, e.ChildWorkflowExecutionCompleted, task, d)
	case history.EventTypeChildWorkflowExecutionFailed:
		return invoke(ctx, h.ChildWorkflowExecutionFailed, e.ChildWorkflowExecutionFailed, task, d)
	case history.EventTypeChildWorkflowExecutionCanceled:
		return invoke(ctx, h.ChildWorkflowExecutionCanceled, e.ChildWorkflowExecutionCanceled, task, d)
	case history.EventTypeChildWorkflowExecutionTimedOut:
		return invoke(ctx, h.ChildWorkflowExecutionTimedOut, e.ChildWorkflowExecutionTimedOut, task, d)
	case history.EventTypeChildWorkflowExecutionTerminated:
		return invoke(ctx, h.ChildWorkflowExecutionTerminated, e.ChildWorkflowExecutionTerminated, task, d)
	case history.EventTypeMarkerRecorded:
		return invoke(ctx, h.MarkerRecorded, e.MarkerRecorded, task, d)
	default:
		return skipNoHandler, nil
	}
}

func invoke[A any](ctx context.Context, fn Handler[A], attrs *A, task *history.DecisionTask, d *Decisions) (string, error) {
	if fn == nil {
		return skipNoHandler, nil
	}
	if attrs == nil {
		return skipNoPayload, nil
	}
	return "", fn(ctx, attrs, task, d)
}
