package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/activity"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/tracing"
)

// ActivityExecutor runs one activity task and returns the failure to report,
// or nil. activity.Executor implements it.
type ActivityExecutor interface {
	Execute(ctx context.Context, task *history.ActivityTask) *activity.Failure
}

// NewActivityAgent creates an agent that polls activity tasks
func NewActivityAgent(client coordinator.Client, executor ActivityExecutor, opts Options) (*Agent, error) {
	if executor == nil {
		return nil, ErrMissingExecutor
	}
	a, err := newAgent(RoleActivity, client, opts)
	if err != nil {
		return nil, err
	}
	a.step = func(ctx context.Context) error {
		return a.work(ctx, executor)
	}
	return a, nil
}

func (a *Agent) work(ctx context.Context, executor ActivityExecutor) error {
	task, ok, err := acquire(ctx, a, func(ctx context.Context) (*history.ActivityTask, error) {
		return a.client.PollForActivityTask(ctx, coordinator.PollForActivityTaskRequest{
			Domain:   a.reg.Domain,
			Identity: a.Identity(),
			TaskList: a.reg.TaskList,
		})
	}, (*history.ActivityTask).Empty)
	if err != nil || !ok {
		return err
	}

	started := time.Now()
	activityType := task.ActivityType.Name
	taskCtx, span := tracing.StartTaskSpan(ctx, tracing.TaskAttributes{
		Role:       string(a.role),
		TaskList:   a.reg.TaskList,
		WorkflowID: task.WorkflowExecution.WorkflowID,
		RunID:      task.WorkflowExecution.RunID,
		Type:       activityType,
	})

	outcome, reason := OutcomeActivityCompleted, ""
	failure := executor.Execute(taskCtx, task)
	if failure != nil {
		outcome, reason = OutcomeActivityFailed, failure.Reason
		err = a.retry(taskCtx, "respond_activity_failed", func() error {
			return a.client.RespondActivityTaskFailed(taskCtx, coordinator.RespondActivityTaskFailedRequest{
				TaskToken: task.TaskToken,
				Reason:    failure.Reason,
				Details:   failure.Details,
				Identity:  a.Identity(),
			})
		})
	}
	tracing.EndTaskSpan(span, outcome, err)
	if err != nil {
		if a.dropTask(ctx, "respond_activity_failed", task.ActivityID, err) {
			return nil
		}
		return fmt.Errorf("respond activity failure of %s: %w", task.ActivityID, err)
	}

	elapsed := time.Since(started)
	metrics.RecordTaskMetrics(string(a.role), activityType, outcome, elapsed.Seconds())
	a.logger.Debug("Activity task handled",
		zap.String("activity_id", task.ActivityID),
		zap.String("activity_type", activityType),
		zap.String("workflow_id", task.WorkflowExecution.WorkflowID),
		zap.String("outcome", outcome),
	)
	a.notify(taskCtx, TaskOutcome{
		Role:     a.role,
		Identity: a.Identity(),
		Domain:   a.reg.Domain,
		TaskList: a.reg.TaskList,
		Workflow: task.WorkflowExecution,
		Type:     activityType,
		Outcome:  outcome,
		Reason:   reason,
		Started:  started,
		Duration: elapsed,
	})
	return nil
}
