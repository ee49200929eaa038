package agent

import (
	"context"
	"time"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

// Outcome values carried by TaskOutcome
const (
	OutcomeDecided           = "decided"
	OutcomeWorkflowFailed    = "workflow_failed"
	OutcomeActivityCompleted = "activity_completed"
	OutcomeActivityFailed    = "activity_failed"
)

// TaskOutcome describes one task after its result was reported
type TaskOutcome struct {
	Role      Role
	Identity  string
	Domain    string
	TaskList  string
	Workflow  history.WorkflowExecution
	Type      string // workflow type for decisions, activity type for activities
	Outcome   string
	Decisions int
	Reason    string
	Started   time.Time
	Duration  time.Duration
}

// Observer is told about every processed task. Observers run on the agent's
// goroutine and must not block for long; their failures are their own.
type Observer interface {
	ObserveTask(ctx context.Context, outcome TaskOutcome)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, outcome TaskOutcome)

func (f ObserverFunc) ObserveTask(ctx context.Context, outcome TaskOutcome) {
	f(ctx, outcome)
}
