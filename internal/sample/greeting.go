// Package sample holds the greeting workflow: a decider that schedules one
// greet activity and completes the workflow with its result.
package sample

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/activity"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decider"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/registry"
)

const (
	WorkflowName = "greeting"
	ActivityName = "greet"
	Version      = "1.0"

	greetActivityID = "greet-1"
)

// ErrEmptyName is the failure of a greet activity without input
var ErrEmptyName = errors.New("name is required")

// Greet builds the greeting for name
func Greet(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	return fmt.Sprintf("Hello, %s!", name), nil
}

// GreetActivity greets the name given as input and reports completion itself
type GreetActivity struct {
	client   coordinator.Client
	identity string
}

func NewGreetActivity(client coordinator.Client, identity string) *GreetActivity {
	return &GreetActivity{client: client, identity: identity}
}

func (g *GreetActivity) HandleActivityTask(ctx context.Context, task *history.ActivityTask) error {
	greeting, err := Greet(task.Input)
	if err != nil {
		return err
	}
	return g.client.RespondActivityTaskCompleted(ctx, coordinator.RespondActivityTaskCompletedRequest{
		TaskToken: task.TaskToken,
		Result:    greeting,
		Identity:  g.identity,
	})
}

// GreetingHandlers is the decider of the greeting workflow. The activity is
// scheduled on taskList.
func GreetingHandlers(taskList string) *decider.Handlers {
	return &decider.Handlers{
		WorkflowExecutionStarted: func(ctx context.Context, attrs *history.WorkflowExecutionStartedAttributes, task *history.DecisionTask, d *decider.Decisions) error {
			d.ScheduleActivity(decision.ScheduleActivityTaskAttributes{
				ActivityID:          greetActivityID,
				ActivityType:        history.ActivityType{Name: ActivityName, Version: Version},
				TaskList:            taskList,
				Input:               attrs.Input,
				StartToCloseTimeout: time.Minute,
			})
			return nil
		},
		ActivityTaskCompleted: func(ctx context.Context, attrs *history.ActivityTaskCompletedAttributes, task *history.DecisionTask, d *decider.Decisions) error {
			d.CompleteWorkflowResult(attrs.Result)
			return nil
		},
		ActivityTaskFailed: func(ctx context.Context, attrs *history.ActivityTaskFailedAttributes, task *history.DecisionTask, d *decider.Decisions) error {
			d.FailWorkflowReason(attrs.Reason, attrs.Details)
			return nil
		},
		ActivityTaskTimedOut: func(ctx context.Context, attrs *history.ActivityTaskTimedOutAttributes, task *history.DecisionTask, d *decider.Decisions) error {
			d.FailWorkflowReason("timeout", attrs.TimeoutType)
			return nil
		},
		WorkflowExecutionCancelRequested: func(ctx context.Context, attrs *history.WorkflowExecutionCancelRequestedAttributes, task *history.DecisionTask, d *decider.Decisions) error {
			d.CancelWorkflowExecution(decision.CancelWorkflowExecutionAttributes{Details: attrs.Cause})
			return nil
		},
	}
}

// Register adds the greeting decider and activity to r. client and identity
// are what the activity reports its completion with.
func Register(r *registry.Registry, reg registry.Registration, client coordinator.Client, identity string) {
	r.RegisterDecider(WorkflowName, Version, func(ctx context.Context) (*decider.Handlers, error) {
		return GreetingHandlers(reg.TaskList), nil
	})
	r.RegisterActivity(ActivityName, Version, func(ctx context.Context) (activity.Handler, error) {
		return NewGreetActivity(client, identity), nil
	})
}
