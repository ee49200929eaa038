package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	failurepb "go.temporal.io/api/failure/v1"
	historypb "go.temporal.io/api/history/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

func mustPayloads(t *testing.T, c *Converter, s string) *commonpb.Payloads {
	t.Helper()
	p, err := c.ToPayloads(s)
	require.NoError(t, err)
	return p
}

func TestPayloadRoundTrip(t *testing.T) {
	c := NewConverter(nil)
	assert.Equal(t, "hello", c.FromPayloads(mustPayloads(t, c, "hello")))

	empty, err := c.ToPayloads("")
	require.NoError(t, err)
	assert.Nil(t, empty)
	assert.Equal(t, "", c.FromPayloads(nil))

	raw := &commonpb.Payloads{Payloads: []*commonpb.Payload{{
		Metadata: map[string][]byte{"encoding": []byte("json/plain")},
		Data:     []byte(`{"count":1}`),
	}}}
	assert.Equal(t, `{"count":1}`, c.FromPayloads(raw))
}

func TestEventConversion(t *testing.T) {
	c := NewConverter(nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := c.Events([]*historypb.HistoryEvent{
		{
			EventId:   1,
			EventTime: timestamppb.New(now),
			EventType: enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED,
			Attributes: &historypb.HistoryEvent_WorkflowExecutionStartedEventAttributes{
				WorkflowExecutionStartedEventAttributes: &historypb.WorkflowExecutionStartedEventAttributes{
					WorkflowType: &commonpb.WorkflowType{Name: "Greeting"},
					TaskQueue:    &taskqueuepb.TaskQueue{Name: "greeting"},
					Input:        mustPayloads(t, c, "World"),
				},
			},
		},
		{
			EventId:   5,
			EventType: enumspb.EVENT_TYPE_ACTIVITY_TASK_FAILED,
			Attributes: &historypb.HistoryEvent_ActivityTaskFailedEventAttributes{
				ActivityTaskFailedEventAttributes: &historypb.ActivityTaskFailedEventAttributes{
					ScheduledEventId: 3,
					StartedEventId:   4,
					Failure:          newFailure("exception", "greeter offline", false),
				},
			},
		},
		{
			EventId:   6,
			EventType: enumspb.EVENT_TYPE_ACTIVITY_TASK_TIMED_OUT,
			Attributes: &historypb.HistoryEvent_ActivityTaskTimedOutEventAttributes{
				ActivityTaskTimedOutEventAttributes: &historypb.ActivityTaskTimedOutEventAttributes{
					ScheduledEventId: 3,
					Failure: &failurepb.Failure{
						Message: "activity timeout",
						FailureInfo: &failurepb.Failure_TimeoutFailureInfo{
							TimeoutFailureInfo: &failurepb.TimeoutFailureInfo{TimeoutType: enumspb.TIMEOUT_TYPE_START_TO_CLOSE},
						},
					},
				},
			},
		},
		{
			EventId:   7,
			EventType: enumspb.EVENT_TYPE_WORKFLOW_TASK_SCHEDULED,
		},
		{
			EventId:   8,
			EventType: enumspb.EVENT_TYPE_MARKER_RECORDED,
		},
	})

	require.Len(t, events, 5)
	assert.Equal(t, history.EventTypeWorkflowExecutionStarted, events[0].Type)
	assert.Equal(t, now, events[0].Timestamp)
	require.NotNil(t, events[0].WorkflowExecutionStarted)
	assert.Equal(t, "World", events[0].WorkflowExecutionStarted.Input)
	assert.Equal(t, "greeting", events[0].WorkflowExecutionStarted.TaskList)
	assert.Equal(t, "Greeting", events[0].WorkflowExecutionStarted.WorkflowType.Name)

	require.NotNil(t, events[1].ActivityTaskFailed)
	assert.Equal(t, "exception", events[1].ActivityTaskFailed.Reason)
	assert.Equal(t, "greeter offline", events[1].ActivityTaskFailed.Details)
	assert.Equal(t, int64(3), events[1].ActivityTaskFailed.ScheduledEventID)

	require.NotNil(t, events[2].ActivityTaskTimedOut)
	assert.Equal(t, enumspb.TIMEOUT_TYPE_START_TO_CLOSE.String(), events[2].ActivityTaskTimedOut.TimeoutType)

	// unhandled type keeps id, no type
	assert.Equal(t, int64(7), events[3].ID)
	assert.Equal(t, history.EventTypeUnknown, events[3].Type)

	// known type without attributes
	assert.Equal(t, history.EventTypeMarkerRecorded, events[4].Type)
	assert.False(t, events[4].HasAttributes())
}

func TestCommandConversion(t *testing.T) {
	c := NewConverter(nil)

	cmds, err := c.Commands("samples", []decision.Decision{
		decision.ScheduleActivityTask(decision.ScheduleActivityTaskAttributes{
			ActivityID:          "greet-1",
			ActivityType:        history.ActivityType{Name: "Greet"},
			TaskList:            "greeting-activities",
			Input:               "World",
			StartToCloseTimeout: 30 * time.Second,
		}),
		decision.StartChildWorkflowExecution(decision.StartChildWorkflowExecutionAttributes{
			WorkflowID:   "child-1",
			WorkflowType: history.WorkflowType{Name: "Greeting"},
		}),
		decision.RecordMarker(decision.RecordMarkerAttributes{MarkerName: "checkpoint", Details: "3"}),
		decision.FailWorkflowExecution(decision.FailWorkflowExecutionAttributes{Reason: "exception", Details: "boom"}),
	})
	require.NoError(t, err)
	require.Len(t, cmds, 4)

	assert.Equal(t, enumspb.COMMAND_TYPE_SCHEDULE_ACTIVITY_TASK, cmds[0].GetCommandType())
	sched := cmds[0].GetScheduleActivityTaskCommandAttributes()
	require.NotNil(t, sched)
	assert.Equal(t, "greet-1", sched.GetActivityId())
	assert.Equal(t, "greeting-activities", sched.GetTaskQueue().GetName())
	assert.Equal(t, 30*time.Second, sched.GetStartToCloseTimeout().AsDuration())
	assert.Nil(t, sched.GetHeartbeatTimeout())
	assert.Equal(t, "World", c.FromPayloads(sched.GetInput()))

	childAttrs := cmds[1].GetStartChildWorkflowExecutionCommandAttributes()
	require.NotNil(t, childAttrs)
	assert.Equal(t, "samples", childAttrs.GetNamespace())
	assert.Nil(t, childAttrs.GetTaskQueue())

	marker := cmds[2].GetRecordMarkerCommandAttributes()
	assert.Equal(t, "3", c.FromPayloads(marker.GetDetails()[markerDetailsKey]))

	failure := cmds[3].GetFailWorkflowExecutionCommandAttributes().GetFailure()
	reason, details := failureReason(failure)
	assert.Equal(t, "exception", reason)
	assert.Equal(t, "boom", details)
	assert.True(t, failure.GetApplicationFailureInfo().GetNonRetryable())
}

func TestCommandConversionRejectsInvalidDecisions(t *testing.T) {
	c := NewConverter(nil)

	_, err := c.Command("samples", decision.Decision{Type: decision.TypeCompleteWorkflowExecution})
	assert.Error(t, err)

	_, err = c.Command("samples", decision.RequestCancelActivityTask(decision.RequestCancelActivityTaskAttributes{ActivityID: "a-1"}))
	assert.Error(t, err)

	cmd, err := c.Command("samples", decision.RequestCancelActivityTask(decision.RequestCancelActivityTaskAttributes{ScheduledEventID: 5}))
	require.NoError(t, err)
	assert.Equal(t, int64(5), cmd.GetRequestCancelActivityTaskCommandAttributes().GetScheduledEventId())
}

func TestFailureReasonFromForeignFailure(t *testing.T) {
	reason, details := failureReason(&failurepb.Failure{Message: "panic: nil map"})
	assert.Equal(t, "panic: nil map", reason)
	assert.Empty(t, details)

	reason, details = failureReason(&failurepb.Failure{
		Message: "could not charge card",
		FailureInfo: &failurepb.Failure_ApplicationFailureInfo{
			ApplicationFailureInfo: &failurepb.ApplicationFailureInfo{Type: "PaymentError"},
		},
	})
	assert.Equal(t, "PaymentError", reason)
	assert.Equal(t, "could not charge card", details)
}
