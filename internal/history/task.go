package history

// ActivityTask is one unit of activity work handed out by the coordinator.
// An empty TaskToken means the long poll returned without work.
type ActivityTask struct {
	TaskToken         string            `json:"-"`
	ActivityID        string            `json:"activity_id"`
	ActivityType      ActivityType      `json:"activity_type"`
	WorkflowExecution WorkflowExecution `json:"workflow_execution"`
	Input             string            `json:"input,omitempty"`
	StartedEventID    int64             `json:"started_event_id,omitempty"`
}

// Empty reports whether the poll that produced t found no work.
func (t *ActivityTask) Empty() bool {
	return t == nil || t.TaskToken == ""
}

// DecisionTask is one page (or, once assembled, every page) of history the
// decider has to act on.
type DecisionTask struct {
	TaskToken         string            `json:"-"`
	WorkflowExecution WorkflowExecution `json:"workflow_execution"`
	WorkflowType      WorkflowType      `json:"workflow_type"`
	Events            []Event           `json:"events"`

	// PreviousStartedEventID is the checkpoint of the last completed decision;
	// events at or below it were already acted on.
	PreviousStartedEventID int64  `json:"previous_started_event_id"`
	StartedEventID         int64  `json:"started_event_id"`
	NextPageToken          string `json:"-"`
}

// Empty reports whether the poll that produced t found no work.
func (t *DecisionTask) Empty() bool {
	return t == nil || t.TaskToken == ""
}

// Event returns the event with the given id.
func (t *DecisionTask) Event(id int64) (Event, bool) {
	for _, e := range t.Events {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

// NewEvents returns the events after the checkpoint.
func (t *DecisionTask) NewEvents() []Event {
	out := make([]Event, 0, len(t.Events))
	for _, e := range t.Events {
		if e.ID > t.PreviousStartedEventID {
			out = append(out, e)
		}
	}
	return out
}

// ScheduledActivity returns the scheduling attributes an activity outcome
// event refers to through its scheduled event id, or nil when the scheduling
// event is not part of the task.
func (t *DecisionTask) ScheduledActivity(scheduledEventID int64) *ActivityTaskScheduledAttributes {
	e, ok := t.Event(scheduledEventID)
	if !ok {
		return nil
	}
	return e.ActivityTaskScheduled
}
