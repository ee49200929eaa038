package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

func newTestCoordinator(t *testing.T, pageSize int) *Coordinator {
	return New(Options{PollTimeout: 50 * time.Millisecond, PageSize: pageSize, Logger: zaptest.NewLogger(t)})
}

func TestWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, 0)

	exec, err := c.StartWorkflow(ctx, StartWorkflowRequest{
		Domain:       "test",
		WorkflowID:   "greet-1",
		WorkflowType: history.WorkflowType{Name: "Greeting", Version: "1"},
		TaskList:     "greetings",
		Input:        "world",
	})
	require.NoError(t, err)

	dt, err := c.PollForDecisionTask(ctx, coordinator.PollForDecisionTaskRequest{Domain: "test", TaskList: "greetings"})
	require.NoError(t, err)
	require.False(t, dt.Empty())
	require.Len(t, dt.Events, 1)
	assert.Equal(t, history.EventTypeWorkflowExecutionStarted, dt.Events[0].Type)
	assert.Equal(t, "world", dt.Events[0].WorkflowExecutionStarted.Input)
	assert.Zero(t, dt.PreviousStartedEventID)

	err = c.RespondDecisionTaskCompleted(ctx, coordinator.RespondDecisionTaskCompletedRequest{
		TaskToken: dt.TaskToken,
		Decisions: []decision.Decision{decision.ScheduleActivityTask(decision.ScheduleActivityTaskAttributes{
			ActivityID:   "a-1",
			ActivityType: history.ActivityType{Name: "Greet", Version: "1"},
			Input:        "world",
		})},
	})
	require.NoError(t, err)

	at, err := c.PollForActivityTask(ctx, coordinator.PollForActivityTaskRequest{Domain: "test", TaskList: "greetings"})
	require.NoError(t, err)
	require.False(t, at.Empty())
	assert.Equal(t, "Greet", at.ActivityType.Name)
	assert.Equal(t, exec, at.WorkflowExecution)

	require.NoError(t, c.RespondActivityTaskCompleted(ctx, coordinator.RespondActivityTaskCompletedRequest{
		TaskToken: at.TaskToken,
		Result:    "Hello, world",
	}))

	dt, err = c.PollForDecisionTask(ctx, coordinator.PollForDecisionTaskRequest{Domain: "test", TaskList: "greetings"})
	require.NoError(t, err)
	require.Len(t, dt.Events, 3)
	assert.Equal(t, int64(1), dt.PreviousStartedEventID)
	completed := dt.Events[2].ActivityTaskCompleted
	require.NotNil(t, completed)
	assert.Equal(t, "Hello, world", completed.Result)
	assert.Equal(t, "a-1", dt.ScheduledActivity(completed.ScheduledEventID).ActivityID)

	require.NoError(t, c.RespondDecisionTaskCompleted(ctx, coordinator.RespondDecisionTaskCompletedRequest{
		TaskToken: dt.TaskToken,
		Decisions: []decision.Decision{decision.CompleteWorkflowExecution(decision.CompleteWorkflowExecutionAttributes{Result: "Hello, world"})},
	}))

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	out, err := c.Await(waitCtx, exec)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, "Hello, world", out.Result)
}

func TestDecisionTaskPages(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, 2)

	exec, err := c.StartWorkflow(ctx, StartWorkflowRequest{WorkflowID: "w", TaskList: "tl"})
	require.NoError(t, err)
	require.NoError(t, c.SignalWorkflow(ctx, "w", "one", ""))
	require.NoError(t, c.SignalWorkflow(ctx, "w", "two", ""))

	first, err := c.PollForDecisionTask(ctx, coordinator.PollForDecisionTaskRequest{TaskList: "tl"})
	require.NoError(t, err)
	require.Len(t, first.Events, 2)
	require.NotEmpty(t, first.NextPageToken)

	second, err := c.PollForDecisionTask(ctx, coordinator.PollForDecisionTaskRequest{TaskList: "tl", NextPageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Events, 1)
	assert.Empty(t, second.NextPageToken)
	assert.Equal(t, int64(3), second.Events[0].ID)
	assert.Equal(t, first.TaskToken, second.TaskToken)

	_, err = c.PollForDecisionTask(ctx, coordinator.PollForDecisionTaskRequest{TaskList: "tl", NextPageToken: first.NextPageToken})
	assert.ErrorIs(t, err, ErrUnknownPageToken)

	events, err := c.History(exec)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestEmptyPollReturnsEmptyTask(t *testing.T) {
	c := newTestCoordinator(t, 0)

	dt, err := c.PollForDecisionTask(context.Background(), coordinator.PollForDecisionTaskRequest{TaskList: "idle"})
	require.NoError(t, err)
	assert.True(t, dt.Empty())

	at, err := c.PollForActivityTask(context.Background(), coordinator.PollForActivityTaskRequest{TaskList: "idle"})
	require.NoError(t, err)
	assert.True(t, at.Empty())
}

func TestPollHonoursContext(t *testing.T) {
	c := New(Options{PollTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.PollForDecisionTask(ctx, coordinator.PollForDecisionTaskRequest{TaskList: "idle"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnknownTokens(t *testing.T) {
	c := newTestCoordinator(t, 0)
	ctx := context.Background()

	assert.ErrorIs(t, c.RespondDecisionTaskCompleted(ctx, coordinator.RespondDecisionTaskCompletedRequest{TaskToken: "nope"}), ErrUnknownTaskToken)
	assert.ErrorIs(t, c.RespondActivityTaskFailed(ctx, coordinator.RespondActivityTaskFailedRequest{TaskToken: "nope"}), ErrUnknownTaskToken)
	assert.ErrorIs(t, c.RespondActivityTaskCompleted(ctx, coordinator.RespondActivityTaskCompletedRequest{TaskToken: "nope"}), coordinator.ErrRejected, "stale tokens are not worth retrying")
	assert.ErrorIs(t, c.SignalWorkflow(ctx, "missing", "s", ""), ErrWorkflowNotFound)
}

func TestChildWorkflowOutcomeReachesParent(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, 0)

	_, err := c.StartWorkflow(ctx, StartWorkflowRequest{WorkflowID: "parent", TaskList: "tl"})
	require.NoError(t, err)

	dt, err := c.PollForDecisionTask(ctx, coordinator.PollForDecisionTaskRequest{TaskList: "tl"})
	require.NoError(t, err)
	require.NoError(t, c.RespondDecisionTaskCompleted(ctx, coordinator.RespondDecisionTaskCompletedRequest{
		TaskToken: dt.TaskToken,
		Decisions: []decision.Decision{decision.StartChildWorkflowExecution(decision.StartChildWorkflowExecutionAttributes{
			WorkflowID:   "child",
			WorkflowType: history.WorkflowType{Name: "Child"},
		})},
	}))

	child, err := c.PollForDecisionTask(ctx, coordinator.PollForDecisionTaskRequest{TaskList: "tl"})
	require.NoError(t, err)
	require.NotNil(t, child.Events[0].WorkflowExecutionStarted.ParentWorkflowExecution)
	require.NoError(t, c.RespondDecisionTaskCompleted(ctx, coordinator.RespondDecisionTaskCompletedRequest{
		TaskToken: child.TaskToken,
		Decisions: []decision.Decision{decision.FailWorkflowExecution(decision.FailWorkflowExecutionAttributes{Reason: "nope"})},
	}))

	parent, err := c.PollForDecisionTask(ctx, coordinator.PollForDecisionTaskRequest{TaskList: "tl"})
	require.NoError(t, err)
	last := parent.Events[len(parent.Events)-1]
	require.Equal(t, history.EventTypeChildWorkflowExecutionFailed, last.Type)
	assert.Equal(t, "nope", last.ChildWorkflowExecutionFailed.Reason)
	assert.Equal(t, "child", last.ChildWorkflowExecutionFailed.WorkflowExecution.WorkflowID)
}
