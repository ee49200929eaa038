package history

import "time"

// EventType is the type tag of a history event.
type EventType string

const (
	EventTypeUnknown                          EventType = ""
	EventTypeWorkflowExecutionStarted         EventType = "WorkflowExecutionStarted"
	EventTypeWorkflowExecutionCancelRequested EventType = "WorkflowExecutionCancelRequested"
	EventTypeWorkflowExecutionSignaled        EventType = "WorkflowExecutionSignaled"
	EventTypeActivityTaskScheduled            EventType = "ActivityTaskScheduled"
	EventTypeActivityTaskCompleted            EventType = "ActivityTaskCompleted"
	EventTypeActivityTaskFailed               EventType = "ActivityTaskFailed"
	EventTypeActivityTaskTimedOut             EventType = "ActivityTaskTimedOut"
	EventTypeActivityTaskCanceled             EventType = "ActivityTaskCanceled"
	EventTypeChildWorkflowExecutionCompleted  EventType = "ChildWorkflowExecutionCompleted"
	EventTypeChildWorkflowExecutionFailed     EventType = "ChildWorkflowExecutionFailed"
	EventTypeChildWorkflowExecutionCanceled   EventType = "ChildWorkflowExecutionCanceled"
	EventTypeChildWorkflowExecutionTimedOut   EventType = "ChildWorkflowExecutionTimedOut"
	EventTypeChildWorkflowExecutionTerminated EventType = "ChildWorkflowExecutionTerminated"
	EventTypeMarkerRecorded                   EventType = "MarkerRecorded"
)

func (t EventType) String() string {
	if t == EventTypeUnknown {
		return "Unknown"
	}
	return string(t)
}

// WorkflowType identifies a workflow implementation.
type WorkflowType struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ActivityType identifies an activity implementation.
type ActivityType struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// WorkflowExecution identifies one run of a workflow.
type WorkflowExecution struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id,omitempty"`
}

// Event is one immutable record from a workflow execution's history.
// Exactly one attribute pointer matching Type is populated; events the
// coordinator sends with a type outside the enumeration, or without their
// attributes, leave every pointer nil.
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	WorkflowExecutionStarted         *WorkflowExecutionStartedAttributes         `json:"workflow_execution_started,omitempty"`
	WorkflowExecutionCancelRequested *WorkflowExecutionCancelRequestedAttributes `json:"workflow_execution_cancel_requested,omitempty"`
	WorkflowExecutionSignaled        *WorkflowExecutionSignaledAttributes        `json:"workflow_execution_signaled,omitempty"`
	ActivityTaskScheduled            *ActivityTaskScheduledAttributes            `json:"activity_task_scheduled,omitempty"`
	ActivityTaskCompleted            *ActivityTaskCompletedAttributes            `json:"activity_task_completed,omitempty"`
	ActivityTaskFailed               *ActivityTaskFailedAttributes               `json:"activity_task_failed,omitempty"`
	ActivityTaskTimedOut             *ActivityTaskTimedOutAttributes             `json:"activity_task_timed_out,omitempty"`
	ActivityTaskCanceled             *ActivityTaskCanceledAttributes             `json:"activity_task_canceled,omitempty"`
	ChildWorkflowExecutionCompleted  *ChildWorkflowExecutionCompletedAttributes  `json:"child_workflow_execution_completed,omitempty"`
	ChildWorkflowExecutionFailed     *ChildWorkflowExecutionFailedAttributes     `json:"child_workflow_execution_failed,omitempty"`
	ChildWorkflowExecutionCanceled   *ChildWorkflowExecutionCanceledAttributes   `json:"child_workflow_execution_canceled,omitempty"`
	ChildWorkflowExecutionTimedOut   *ChildWorkflowExecutionTimedOutAttributes   `json:"child_workflow_execution_timed_out,omitempty"`
	ChildWorkflowExecutionTerminated *ChildWorkflowExecutionTerminatedAttributes `json:"child_workflow_execution_terminated,omitempty"`
	MarkerRecorded                   *MarkerRecordedAttributes                   `json:"marker_recorded,omitempty"`
}

// HasAttributes reports whether the attribute payload for the event's own
// type is populated.
func (e Event) HasAttributes() bool {
	switch e.Type {
	case EventTypeWorkflowExecutionStarted:
		return e.WorkflowExecutionStarted != nil
	case EventTypeWorkflowExecutionCancelRequested:
		return e.WorkflowExecutionCancelRequested != nil
	case EventTypeWorkflowExecutionSignaled:
		return e.WorkflowExecutionSignaled != nil
	case EventTypeActivityTaskScheduled:
		return e.ActivityTaskScheduled != nil
	case EventTypeActivityTaskCompleted:
		return e.ActivityTaskCompleted != nil
	case EventTypeActivityTaskFailed:
		return e.ActivityTaskFailed != nil
	case EventTypeActivityTaskTimedOut:
		return e.ActivityTaskTimedOut != nil
	case EventTypeActivityTaskCanceled:
		return e.ActivityTaskCanceled != nil
	case EventTypeChildWorkflowExecutionCompleted:
		return e.ChildWorkflowExecutionCompleted != nil
	case EventTypeChildWorkflowExecutionFailed:
		return e.ChildWorkflowExecutionFailed != nil
	case EventTypeChildWorkflowExecutionCanceled:
		return e.ChildWorkflowExecutionCanceled != nil
	case EventTypeChildWorkflowExecutionTimedOut:
		return e.ChildWorkflowExecutionTimedOut != nil
	case EventTypeChildWorkflowExecutionTerminated:
		return e.ChildWorkflowExecutionTerminated != nil
	case EventTypeMarkerRecorded:
		return e.MarkerRecorded != nil
	default:
		return false
	}
}

type WorkflowExecutionStartedAttributes struct {
	WorkflowType            WorkflowType       `json:"workflow_type"`
	TaskList                string             `json:"task_list"`
	Input                   string             `json:"input,omitempty"`
	ParentWorkflowExecution *WorkflowExecution `json:"parent_workflow_execution,omitempty"`
	ParentInitiatedEventID  int64              `json:"parent_initiated_event_id,omitempty"`
}

type WorkflowExecutionCancelRequestedAttributes struct {
	Cause                     string             `json:"cause,omitempty"`
	ExternalWorkflowExecution *WorkflowExecution `json:"external_workflow_execution,omitempty"`
	ExternalInitiatedEventID  int64              `json:"external_initiated_event_id,omitempty"`
}

type WorkflowExecutionSignaledAttributes struct {
	SignalName                string             `json:"signal_name"`
	Input                     string             `json:"input,omitempty"`
	ExternalWorkflowExecution *WorkflowExecution `json:"external_workflow_execution,omitempty"`
}

type ActivityTaskScheduledAttributes struct {
	ActivityID   string       `json:"activity_id"`
	ActivityType ActivityType `json:"activity_type"`
	TaskList     string       `json:"task_list"`
	Input        string       `json:"input,omitempty"`
	Control      string       `json:"control,omitempty"`
}

type ActivityTaskCompletedAttributes struct {
	ScheduledEventID int64  `json:"scheduled_event_id"`
	StartedEventID   int64  `json:"started_event_id"`
	Result           string `json:"result,omitempty"`
}

type ActivityTaskFailedAttributes struct {
	ScheduledEventID int64  `json:"scheduled_event_id"`
	StartedEventID   int64  `json:"started_event_id"`
	Reason           string `json:"reason,omitempty"`
	Details          string `json:"details,omitempty"`
}

type ActivityTaskTimedOutAttributes struct {
	ScheduledEventID int64  `json:"scheduled_event_id"`
	StartedEventID   int64  `json:"started_event_id"`
	TimeoutType      string `json:"timeout_type,omitempty"`
	Details          string `json:"details,omitempty"`
}

type ActivityTaskCanceledAttributes struct {
	ScheduledEventID             int64  `json:"scheduled_event_id"`
	StartedEventID               int64  `json:"started_event_id"`
	LatestCancelRequestedEventID int64  `json:"latest_cancel_requested_event_id,omitempty"`
	Details                      string `json:"details,omitempty"`
}

// ChildWorkflow carries the fields shared by every child workflow outcome.
type ChildWorkflow struct {
	WorkflowExecution WorkflowExecution `json:"workflow_execution"`
	WorkflowType      WorkflowType      `json:"workflow_type"`
	InitiatedEventID  int64             `json:"initiated_event_id"`
	StartedEventID    int64             `json:"started_event_id"`
}

type ChildWorkflowExecutionCompletedAttributes struct {
	ChildWorkflow
	Result string `json:"result,omitempty"`
}

type ChildWorkflowExecutionFailedAttributes struct {
	ChildWorkflow
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

type ChildWorkflowExecutionCanceledAttributes struct {
	ChildWorkflow
	Details string `json:"details,omitempty"`
}

type ChildWorkflowExecutionTimedOutAttributes struct {
	ChildWorkflow
	TimeoutType string `json:"timeout_type,omitempty"`
}

type ChildWorkflowExecutionTerminatedAttributes struct {
	ChildWorkflow
}

type MarkerRecordedAttributes struct {
	MarkerName string `json:"marker_name"`
	Details    string `json:"details,omitempty"`
}
