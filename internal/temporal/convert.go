package temporal

import (
	"fmt"
	"time"

	commandpb "go.temporal.io/api/command/v1"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	failurepb "go.temporal.io/api/failure/v1"
	historypb "go.temporal.io/api/history/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"go.temporal.io/sdk/converter"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

// markerDetailsKey is the payload key marker details are stored under
const markerDetailsKey = "details"

// Converter maps between Temporal protos and the worker's history and
// decision types. Payloads carry strings encoded by the data converter.
type Converter struct {
	dc converter.DataConverter
}

// NewConverter creates a converter; a nil data converter means the SDK default
func NewConverter(dc converter.DataConverter) *Converter {
	if dc == nil {
		dc = converter.GetDefaultDataConverter()
	}
	return &Converter{dc: dc}
}

// ToPayloads encodes s; the empty string encodes to no payload
func (c *Converter) ToPayloads(s string) (*commonpb.Payloads, error) {
	if s == "" {
		return nil, nil
	}
	return c.dc.ToPayloads(s)
}

// FromPayloads decodes the first payload as a string. Payloads that are not
// strings come back as their raw data.
func (c *Converter) FromPayloads(p *commonpb.Payloads) string {
	if p == nil || len(p.GetPayloads()) == 0 {
		return ""
	}
	var s string
	if err := c.dc.FromPayload(p.GetPayloads()[0], &s); err == nil {
		return s
	}
	return string(p.GetPayloads()[0].GetData())
}

// Events converts a page of history
func (c *Converter) Events(in []*historypb.HistoryEvent) []history.Event {
	out := make([]history.Event, 0, len(in))
	for _, e := range in {
		out = append(out, c.Event(e))
	}
	return out
}

// Event converts one history event. Event types the worker does not handle
// keep their id and time but get no type and no attributes.
func (c *Converter) Event(e *historypb.HistoryEvent) history.Event {
	ev := history.Event{ID: e.GetEventId()}
	if ts := e.GetEventTime(); ts != nil {
		ev.Timestamp = ts.AsTime()
	}

	switch e.GetEventType() {
	case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED:
		ev.Type = history.EventTypeWorkflowExecutionStarted
		if a := e.GetWorkflowExecutionStartedEventAttributes(); a != nil {
			ev.WorkflowExecutionStarted = &history.WorkflowExecutionStartedAttributes{
				WorkflowType:            workflowType(a.GetWorkflowType()),
				TaskList:                a.GetTaskQueue().GetName(),
				Input:                   c.FromPayloads(a.GetInput()),
				ParentWorkflowExecution: execution(a.GetParentWorkflowExecution()),
				ParentInitiatedEventID:  a.GetParentInitiatedEventId(),
			}
		}
	case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_CANCEL_REQUESTED:
		ev.Type = history.EventTypeWorkflowExecutionCancelRequested
		if a := e.GetWorkflowExecutionCancelRequestedEventAttributes(); a != nil {
			ev.WorkflowExecutionCancelRequested = &history.WorkflowExecutionCancelRequestedAttributes{
				Cause:                     a.GetCause(),
				ExternalWorkflowExecution: execution(a.GetExternalWorkflowExecution()),
				ExternalInitiatedEventID:  a.GetExternalInitiatedEventId(),
			}
		}
	case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_SIGNALED:
		ev.Type = history.EventTypeWorkflowExecutionSignaled
		if a := e.GetWorkflowExecutionSignaledEventAttributes(); a != nil {
			ev.WorkflowExecutionSignaled = &history.WorkflowExecutionSignaledAttributes{
				SignalName: a.GetSignalName(),
				Input:      c.FromPayloads(a.GetInput()),
			}
		}
	case enumspb.EVENT_TYPE_ACTIVITY_TASK_SCHEDULED:
		ev.Type = history.EventTypeActivityTaskScheduled
		if a := e.GetActivityTaskScheduledEventAttributes(); a != nil {
			ev.ActivityTaskScheduled = &history.ActivityTaskScheduledAttributes{
				ActivityID:   a.GetActivityId(),
				ActivityType: history.ActivityType{Name: a.GetActivityType().GetName()},
				TaskList:     a.GetTaskQueue().GetName(),
				Input:        c.FromPayloads(a.GetInput()),
			}
		}
	case enumspb.EVENT_TYPE_ACTIVITY_TASK_COMPLETED:
		ev.Type = history.EventTypeActivityTaskCompleted
		if a := e.GetActivityTaskCompletedEventAttributes(); a != nil {
			ev.ActivityTaskCompleted = &history.ActivityTaskCompletedAttributes{
				ScheduledEventID: a.GetScheduledEventId(),
				StartedEventID:   a.GetStartedEventId(),
				Result:           c.FromPayloads(a.GetResult()),
			}
		}
	case enumspb.EVENT_TYPE_ACTIVITY_TASK_FAILED:
		ev.Type = history.EventTypeActivityTaskFailed
		if a := e.GetActivityTaskFailedEventAttributes(); a != nil {
			reason, details := failureReason(a.GetFailure())
			ev.ActivityTaskFailed = &history.ActivityTaskFailedAttributes{
				ScheduledEventID: a.GetScheduledEventId(),
				StartedEventID:   a.GetStartedEventId(),
				Reason:           reason,
				Details:          details,
			}
		}
	case enumspb.EVENT_TYPE_ACTIVITY_TASK_TIMED_OUT:
		ev.Type = history.EventTypeActivityTaskTimedOut
		if a := e.GetActivityTaskTimedOutEventAttributes(); a != nil {
			ev.ActivityTaskTimedOut = &history.ActivityTaskTimedOutAttributes{
				ScheduledEventID: a.GetScheduledEventId(),
				StartedEventID:   a.GetStartedEventId(),
				TimeoutType:      timeoutType(a.GetFailure()),
				Details:          a.GetFailure().GetMessage(),
			}
		}
	case enumspb.EVENT_TYPE_ACTIVITY_TASK_CANCELED:
		ev.Type = history.EventTypeActivityTaskCanceled
		if a := e.GetActivityTaskCanceledEventAttributes(); a != nil {
			ev.ActivityTaskCanceled = &history.ActivityTaskCanceledAttributes{
				ScheduledEventID:             a.GetScheduledEventId(),
				StartedEventID:               a.GetStartedEventId(),
				LatestCancelRequestedEventID: a.GetLatestCancelRequestedEventId(),
				Details:                      c.FromPayloads(a.GetDetails()),
			}
		}
	case enumspb.EVENT_TYPE_CHILD_WORKFLOW_EXECUTION_COMPLETED:
		ev.Type = history.EventTypeChildWorkflowExecutionCompleted
		if a := e.GetChildWorkflowExecutionCompletedEventAttributes(); a != nil {
			ev.ChildWorkflowExecutionCompleted = &history.ChildWorkflowExecutionCompletedAttributes{
				ChildWorkflow: child(a.GetWorkflowExecution(), a.GetWorkflowType(), a.GetInitiatedEventId(), a.GetStartedEventId()),
				Result:        c.FromPayloads(a.GetResult()),
			}
		}
	case enumspb.EVENT_TYPE_CHILD_WORKFLOW_EXECUTION_FAILED:
		ev.Type = history.EventTypeChildWorkflowExecutionFailed
		if a := e.GetChildWorkflowExecutionFailedEventAttributes(); a != nil {
			reason, details := failureReason(a.GetFailure())
			ev.ChildWorkflowExecutionFailed = &history.ChildWorkflowExecutionFailedAttributes{
				ChildWorkflow: child(a.GetWorkflowExecution(), a.GetWorkflowType(), a.GetInitiatedEventId(), a.GetStartedEventId()),
				Reason:        reason,
				Details:       details,
			}
		}
	case enumspb.EVENT_TYPE_CHILD_WORKFLOW_EXECUTION_CANCELED:
		ev.Type = history.EventTypeChildWorkflowExecutionCanceled
		if a := e.GetChildWorkflowExecutionCanceledEventAttributes(); a != nil {
			ev.ChildWorkflowExecutionCanceled = &history.ChildWorkflowExecutionCanceledAttributes{
				ChildWorkflow: child(a.GetWorkflowExecution(), a.GetWorkflowType(), a.GetInitiatedEventId(), a.GetStartedEventId()),
				Details:       c.FromPayloads(a.GetDetails()),
			}
		}
	case enumspb.EVENT_TYPE_CHILD_WORKFLOW_EXECUTION_TIMED_OUT:
		ev.Type = history.EventTypeChildWorkflowExecutionTimedOut
		if a := e.GetChildWorkflowExecutionTimedOutEventAttributes(); a != nil {
			ev.ChildWorkflowExecutionTimedOut = &history.ChildWorkflowExecutionTimedOutAttributes{
				ChildWorkflow: child(a.GetWorkflowExecution(), a.GetWorkflowType(), a.GetInitiatedEventId(), a.GetStartedEventId()),
			}
		}
	case enumspb.EVENT_TYPE_CHILD_WORKFLOW_EXECUTION_TERMINATED:
		ev.Type = history.EventTypeChildWorkflowExecutionTerminated
		if a := e.GetChildWorkflowExecutionTerminatedEventAttributes(); a != nil {
			ev.ChildWorkflowExecutionTerminated = &history.ChildWorkflowExecutionTerminatedAttributes{
				ChildWorkflow: child(a.GetWorkflowExecution(), a.GetWorkflowType(), a.GetInitiatedEventId(), a.GetStartedEventId()),
			}
		}
	case enumspb.EVENT_TYPE_MARKER_RECORDED:
		ev.Type = history.EventTypeMarkerRecorded
		if a := e.GetMarkerRecordedEventAttributes(); a != nil {
			ev.MarkerRecorded = &history.MarkerRecordedAttributes{
				MarkerName: a.GetMarkerName(),
				Details:    c.FromPayloads(a.GetDetails()[markerDetailsKey]),
			}
		}
	}
	return ev
}

// Commands converts decisions into workflow task commands
func (c *Converter) Commands(namespace string, decisions []decision.Decision) ([]*commandpb.Command, error) {
	out := make([]*commandpb.Command, 0, len(decisions))
	for i, d := range decisions {
		cmd, err := c.Command(namespace, d)
		if err != nil {
			return nil, fmt.Errorf("decision %d: %w", i, err)
		}
		out = append(out, cmd)
	}
	return out, nil
}

// Command converts one decision
func (c *Converter) Command(namespace string, d decision.Decision) (*commandpb.Command, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	switch d.Type {
	case decision.TypeScheduleActivityTask:
		a := d.ScheduleActivityTask
		input, err := c.ToPayloads(a.Input)
		if err != nil {
			return nil, err
		}
		return &commandpb.Command{
			CommandType: enumspb.COMMAND_TYPE_SCHEDULE_ACTIVITY_TASK,
			Attributes: &commandpb.Command_ScheduleActivityTaskCommandAttributes{
				ScheduleActivityTaskCommandAttributes: &commandpb.ScheduleActivityTaskCommandAttributes{
					ActivityId:             a.ActivityID,
					ActivityType:           &commonpb.ActivityType{Name: a.ActivityType.Name},
					TaskQueue:              taskQueue(a.TaskList),
					Input:                  input,
					ScheduleToCloseTimeout: duration(a.ScheduleToCloseTimeout),
					ScheduleToStartTimeout: duration(a.ScheduleToStartTimeout),
					StartToCloseTimeout:    duration(a.StartToCloseTimeout),
					HeartbeatTimeout:       duration(a.HeartbeatTimeout),
				},
			},
		}, nil

	case decision.TypeRequestCancelActivityTask:
		a := d.RequestCancelActivityTask
		if a.ScheduledEventID == 0 {
			return nil, fmt.Errorf("cancel of activity %q needs its scheduled event id", a.ActivityID)
		}
		return &commandpb.Command{
			CommandType: enumspb.COMMAND_TYPE_REQUEST_CANCEL_ACTIVITY_TASK,
			Attributes: &commandpb.Command_RequestCancelActivityTaskCommandAttributes{
				RequestCancelActivityTaskCommandAttributes: &commandpb.RequestCancelActivityTaskCommandAttributes{
					ScheduledEventId: a.ScheduledEventID,
				},
			},
		}, nil

	case decision.TypeCompleteWorkflowExecution:
		result, err := c.ToPayloads(d.CompleteWorkflowExecution.Result)
		if err != nil {
			return nil, err
		}
		return &commandpb.Command{
			CommandType: enumspb.COMMAND_TYPE_COMPLETE_WORKFLOW_EXECUTION,
			Attributes: &commandpb.Command_CompleteWorkflowExecutionCommandAttributes{
				CompleteWorkflowExecutionCommandAttributes: &commandpb.CompleteWorkflowExecutionCommandAttributes{
					Result: result,
				},
			},
		}, nil

	case decision.TypeFailWorkflowExecution:
		a := d.FailWorkflowExecution
		return &commandpb.Command{
			CommandType: enumspb.COMMAND_TYPE_FAIL_WORKFLOW_EXECUTION,
			Attributes: &commandpb.Command_FailWorkflowExecutionCommandAttributes{
				FailWorkflowExecutionCommandAttributes: &commandpb.FailWorkflowExecutionCommandAttributes{
					Failure: newFailure(a.Reason, a.Details, true),
				},
			},
		}, nil

	case decision.TypeCancelWorkflowExecution:
		details, err := c.ToPayloads(d.CancelWorkflowExecution.Details)
		if err != nil {
			return nil, err
		}
		return &commandpb.Command{
			CommandType: enumspb.COMMAND_TYPE_CANCEL_WORKFLOW_EXECUTION,
			Attributes: &commandpb.Command_CancelWorkflowExecutionCommandAttributes{
				CancelWorkflowExecutionCommandAttributes: &commandpb.CancelWorkflowExecutionCommandAttributes{
					Details: details,
				},
			},
		}, nil

	case decision.TypeStartChildWorkflowExecution:
		a := d.StartChildWorkflowExecution
		input, err := c.ToPayloads(a.Input)
		if err != nil {
			return nil, err
		}
		return &commandpb.Command{
			CommandType: enumspb.COMMAND_TYPE_START_CHILD_WORKFLOW_EXECUTION,
			Attributes: &commandpb.Command_StartChildWorkflowExecutionCommandAttributes{
				StartChildWorkflowExecutionCommandAttributes: &commandpb.StartChildWorkflowExecutionCommandAttributes{
					Namespace:                namespace,
					WorkflowId:               a.WorkflowID,
					WorkflowType:             &commonpb.WorkflowType{Name: a.WorkflowType.Name},
					TaskQueue:                taskQueue(a.TaskList),
					Input:                    input,
					WorkflowExecutionTimeout: duration(a.ExecutionStartToCloseTimeout),
					WorkflowTaskTimeout:      duration(a.TaskStartToCloseTimeout),
					Control:                  a.Control,
				},
			},
		}, nil

	case decision.TypeRequestCancelExternalWorkflowExecution:
		a := d.RequestCancelExternalWorkflowExecution
		return &commandpb.Command{
			CommandType: enumspb.COMMAND_TYPE_REQUEST_CANCEL_EXTERNAL_WORKFLOW_EXECUTION,
			Attributes: &commandpb.Command_RequestCancelExternalWorkflowExecutionCommandAttributes{
				RequestCancelExternalWorkflowExecutionCommandAttributes: &commandpb.RequestCancelExternalWorkflowExecutionCommandAttributes{
					Namespace:  namespace,
					WorkflowId: a.WorkflowID,
					RunId:      a.RunID,
					Control:    a.Control,
				},
			},
		}, nil

	case decision.TypeRecordMarker:
		a := d.RecordMarker
		details, err := c.ToPayloads(a.Details)
		if err != nil {
			return nil, err
		}
		var m map[string]*commonpb.Payloads
		if details != nil {
			m = map[string]*commonpb.Payloads{markerDetailsKey: details}
		}
		return &commandpb.Command{
			CommandType: enumspb.COMMAND_TYPE_RECORD_MARKER,
			Attributes: &commandpb.Command_RecordMarkerCommandAttributes{
				RecordMarkerCommandAttributes: &commandpb.RecordMarkerCommandAttributes{
					MarkerName: a.MarkerName,
					Details:    m,
				},
			},
		}, nil
	}
	return nil, fmt.Errorf("unsupported decision type %q", d.Type)
}

// newFailure builds an application failure whose type is the reason
func newFailure(reason, details string, nonRetryable bool) *failurepb.Failure {
	return &failurepb.Failure{
		Message:    reason,
		StackTrace: details,
		Source:     "flowworker",
		FailureInfo: &failurepb.Failure_ApplicationFailureInfo{
			ApplicationFailureInfo: &failurepb.ApplicationFailureInfo{
				Type:         reason,
				NonRetryable: nonRetryable,
			},
		},
	}
}

// failureReason reads back what newFailure wrote. Failures raised by other
// workers carry their message as details.
func failureReason(f *failurepb.Failure) (reason, details string) {
	if f == nil {
		return "", ""
	}
	reason = f.GetMessage()
	if t := f.GetApplicationFailureInfo().GetType(); t != "" {
		reason = t
	}
	details = f.GetStackTrace()
	if details == "" && reason != f.GetMessage() {
		details = f.GetMessage()
	}
	return reason, details
}

func timeoutType(f *failurepb.Failure) string {
	if info := f.GetTimeoutFailureInfo(); info != nil {
		return info.GetTimeoutType().String()
	}
	return ""
}

func workflowType(t *commonpb.WorkflowType) history.WorkflowType {
	return history.WorkflowType{Name: t.GetName()}
}

func execution(e *commonpb.WorkflowExecution) *history.WorkflowExecution {
	if e == nil {
		return nil
	}
	return &history.WorkflowExecution{WorkflowID: e.GetWorkflowId(), RunID: e.GetRunId()}
}

func child(e *commonpb.WorkflowExecution, t *commonpb.WorkflowType, initiated, started int64) history.ChildWorkflow {
	cw := history.ChildWorkflow{
		WorkflowType:     workflowType(t),
		InitiatedEventID: initiated,
		StartedEventID:   started,
	}
	if e != nil {
		cw.WorkflowExecution = history.WorkflowExecution{WorkflowID: e.GetWorkflowId(), RunID: e.GetRunId()}
	}
	return cw
}

func taskQueue(name string) *taskqueuepb.TaskQueue {
	if name == "" {
		return nil
	}
	return &taskqueuepb.TaskQueue{Name: name, Kind: enumspb.TASK_QUEUE_KIND_NORMAL}
}

func duration(d time.Duration) *durationpb.Duration {
	if d <= 0 {
		return nil
	}
	return durationpb.New(d)
}
