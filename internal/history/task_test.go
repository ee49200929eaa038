package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionTaskScheduledActivity(t *testing.T) {
	task := &DecisionTask{
		TaskToken: "tok",
		Events: []Event{
			{ID: 1, Type: EventTypeWorkflowExecutionStarted, WorkflowExecutionStarted: &WorkflowExecutionStartedAttributes{}},
			{ID: 5, Type: EventTypeActivityTaskScheduled, ActivityTaskScheduled: &ActivityTaskScheduledAttributes{
				ActivityID:   "a-1",
				ActivityType: ActivityType{Name: "Greet", Version: "1"},
			}},
			{ID: 7, Type: EventTypeActivityTaskCompleted, ActivityTaskCompleted: &ActivityTaskCompletedAttributes{ScheduledEventID: 5, Result: "hi"}},
		},
	}

	scheduled := task.ScheduledActivity(task.Events[2].ActivityTaskCompleted.ScheduledEventID)
	require.NotNil(t, scheduled)
	assert.Equal(t, "a-1", scheduled.ActivityID)
	assert.Equal(t, "Greet", scheduled.ActivityType.Name)

	assert.Nil(t, task.ScheduledActivity(99))
	// event 1 exists but is not a scheduling event
	assert.Nil(t, task.ScheduledActivity(1))
}

func TestDecisionTaskNewEvents(t *testing.T) {
	task := &DecisionTask{
		PreviousStartedEventID: 3,
		Events:                 []Event{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 6}},
	}
	got := task.NewEvents()
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].ID)
	assert.Equal(t, int64(6), got[1].ID)
}

func TestEmptyTasks(t *testing.T) {
	var nilDecision *DecisionTask
	assert.True(t, nilDecision.Empty())
	assert.True(t, (&DecisionTask{}).Empty())
	assert.False(t, (&DecisionTask{TaskToken: "x"}).Empty())

	var nilActivity *ActivityTask
	assert.True(t, nilActivity.Empty())
	assert.False(t, (&ActivityTask{TaskToken: "x"}).Empty())
}

func TestEventHasAttributes(t *testing.T) {
	assert.True(t, Event{Type: EventTypeMarkerRecorded, MarkerRecorded: &MarkerRecordedAttributes{}}.HasAttributes())
	assert.False(t, Event{Type: EventTypeMarkerRecorded}.HasAttributes())
	// payload of another type does not count
	assert.False(t, Event{Type: EventTypeActivityTaskFailed, ActivityTaskCompleted: &ActivityTaskCompletedAttributes{}}.HasAttributes())
	assert.False(t, Event{Type: EventTypeUnknown}.HasAttributes())
	assert.Equal(t, "Unknown", EventTypeUnknown.String())
}
