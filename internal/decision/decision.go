package decision

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

// Type is the tag of a Decision.
type Type string

const (
	TypeScheduleActivityTask                   Type = "ScheduleActivityTask"
	TypeRequestCancelActivityTask              Type = "RequestCancelActivityTask"
	TypeCompleteWorkflowExecution              Type = "CompleteWorkflowExecution"
	TypeFailWorkflowExecution                  Type = "FailWorkflowExecution"
	TypeCancelWorkflowExecution                Type = "CancelWorkflowExecution"
	TypeStartChildWorkflowExecution            Type = "StartChildWorkflowExecution"
	TypeRequestCancelExternalWorkflowExecution Type = "RequestCancelExternalWorkflowExecution"
	TypeRecordMarker                           Type = "RecordMarker"
)

const (
	// ReasonException is the failure reason used when a handler returns an
	// error or panics.
	ReasonException = "exception"

	// MaxDetailsLength bounds the details carried by failure decisions and
	// failure reports.
	MaxDetailsLength = 32768
)

// Decision is one control instruction for the coordinator. Only the
// attribute pointer matching Type is set.
type Decision struct {
	Type Type `json:"type"`

	ScheduleActivityTask                   *ScheduleActivityTaskAttributes                   `json:"schedule_activity_task,omitempty"`
	RequestCancelActivityTask              *RequestCancelActivityTaskAttributes              `json:"request_cancel_activity_task,omitempty"`
	CompleteWorkflowExecution              *CompleteWorkflowExecutionAttributes              `json:"complete_workflow_execution,omitempty"`
	FailWorkflowExecution                  *FailWorkflowExecutionAttributes                  `json:"fail_workflow_execution,omitempty"`
	CancelWorkflowExecution                *CancelWorkflowExecutionAttributes                `json:"cancel_workflow_execution,omitempty"`
	StartChildWorkflowExecution            *StartChildWorkflowExecutionAttributes            `json:"start_child_workflow_execution,omitempty"`
	RequestCancelExternalWorkflowExecution *RequestCancelExternalWorkflowExecutionAttributes `json:"request_cancel_external_workflow_execution,omitempty"`
	RecordMarker                           *RecordMarkerAttributes                           `json:"record_marker,omitempty"`
}

type ScheduleActivityTaskAttributes struct {
	ActivityID             string               `json:"activity_id"`
	ActivityType           history.ActivityType `json:"activity_type"`
	TaskList               string               `json:"task_list,omitempty"`
	Input                  string               `json:"input,omitempty"`
	Control                string               `json:"control,omitempty"`
	ScheduleToCloseTimeout time.Duration        `json:"schedule_to_close_timeout,omitempty"`
	ScheduleToStartTimeout time.Duration        `json:"schedule_to_start_timeout,omitempty"`
	StartToCloseTimeout    time.Duration        `json:"start_to_close_timeout,omitempty"`
	HeartbeatTimeout       time.Duration        `json:"heartbeat_timeout,omitempty"`
}

// RequestCancelActivityTaskAttributes names the activity either by id or by
// the id of its scheduling event, whichever the coordinator understands.
type RequestCancelActivityTaskAttributes struct {
	ActivityID       string `json:"activity_id,omitempty"`
	ScheduledEventID int64  `json:"scheduled_event_id,omitempty"`
}

type CompleteWorkflowExecutionAttributes struct {
	Result string `json:"result,omitempty"`
}

type FailWorkflowExecutionAttributes struct {
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

type CancelWorkflowExecutionAttributes struct {
	Details string `json:"details,omitempty"`
}

type StartChildWorkflowExecutionAttributes struct {
	WorkflowID                   string               `json:"workflow_id"`
	WorkflowType                 history.WorkflowType `json:"workflow_type"`
	TaskList                     string               `json:"task_list,omitempty"`
	Input                        string               `json:"input,omitempty"`
	Control                      string               `json:"control,omitempty"`
	ExecutionStartToCloseTimeout time.Duration        `json:"execution_start_to_close_timeout,omitempty"`
	TaskStartToCloseTimeout      time.Duration        `json:"task_start_to_close_timeout,omitempty"`
}

type RequestCancelExternalWorkflowExecutionAttributes struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id,omitempty"`
	Control    string `json:"control,omitempty"`
}

type RecordMarkerAttributes struct {
	MarkerName string `json:"marker_name"`
	Details    string `json:"details,omitempty"`
}

func ScheduleActivityTask(a ScheduleActivityTaskAttributes) Decision {
	return Decision{Type: TypeScheduleActivityTask, ScheduleActivityTask: &a}
}

func RequestCancelActivityTask(a RequestCancelActivityTaskAttributes) Decision {
	return Decision{Type: TypeRequestCancelActivityTask, RequestCancelActivityTask: &a}
}

func CompleteWorkflowExecution(a CompleteWorkflowExecutionAttributes) Decision {
	return Decision{Type: TypeCompleteWorkflowExecution, CompleteWorkflowExecution: &a}
}

// FailWorkflowExecution builds a failure decision; details longer than
// MaxDetailsLength are cut.
func FailWorkflowExecution(a FailWorkflowExecutionAttributes) Decision {
	a.Details = Truncate(a.Details)
	return Decision{Type: TypeFailWorkflowExecution, FailWorkflowExecution: &a}
}

func CancelWorkflowExecution(a CancelWorkflowExecutionAttributes) Decision {
	return Decision{Type: TypeCancelWorkflowExecution, CancelWorkflowExecution: &a}
}

func StartChildWorkflowExecution(a StartChildWorkflowExecutionAttributes) Decision {
	return Decision{Type: TypeStartChildWorkflowExecution, StartChildWorkflowExecution: &a}
}

func RequestCancelExternalWorkflowExecution(a RequestCancelExternalWorkflowExecutionAttributes) Decision {
	return Decision{Type: TypeRequestCancelExternalWorkflowExecution, RequestCancelExternalWorkflowExecution: &a}
}

func RecordMarker(a RecordMarkerAttributes) Decision {
	return Decision{Type: TypeRecordMarker, RecordMarker: &a}
}

// Validate checks that exactly the attributes matching the tag are set.
func (d Decision) Validate() error {
	set := 0
	matched := false
	check := func(populated bool, t Type) {
		if populated {
			set++
			if d.Type == t {
				matched = true
			}
		}
	}
	check(d.ScheduleActivityTask != nil, TypeScheduleActivityTask)
	check(d.RequestCancelActivityTask != nil, TypeRequestCancelActivityTask)
	check(d.CompleteWorkflowExecution != nil, TypeCompleteWorkflowExecution)
	check(d.FailWorkflowExecution != nil, TypeFailWorkflowExecution)
	check(d.CancelWorkflowExecution != nil, TypeCancelWorkflowExecution)
	check(d.StartChildWorkflowExecution != nil, TypeStartChildWorkflowExecution)
	check(d.RequestCancelExternalWorkflowExecution != nil, TypeRequestCancelExternalWorkflowExecution)
	check(d.RecordMarker != nil, TypeRecordMarker)

	switch {
	case set == 0:
		return fmt.Errorf("decision %s has no attributes", d.Type)
	case set > 1:
		return fmt.Errorf("decision %s has %d attribute payloads", d.Type, set)
	case !matched:
		return fmt.Errorf("decision %s carries attributes of another type", d.Type)
	}
	return nil
}

// Truncate cuts s to at most MaxDetailsLength bytes without splitting a
// rune. Invalid UTF-8 is replaced first, since details travel in proto
// string fields.
func Truncate(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= MaxDetailsLength {
		return s
	}
	n := MaxDetailsLength
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
