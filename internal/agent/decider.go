package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/tracing"
)

// DecisionExecutor turns an assembled decision task into decisions.
// decider.Executor implements it.
type DecisionExecutor interface {
	Execute(ctx context.Context, task *history.DecisionTask) []decision.Decision
}

// NewDeciderAgent creates an agent that polls decision tasks
func NewDeciderAgent(client coordinator.Client, executor DecisionExecutor, opts Options) (*Agent, error) {
	if executor == nil {
		return nil, ErrMissingExecutor
	}
	a, err := newAgent(RoleDecider, client, opts)
	if err != nil {
		return nil, err
	}
	a.step = func(ctx context.Context) error {
		return a.decide(ctx, executor)
	}
	return a, nil
}

func (a *Agent) decide(ctx context.Context, executor DecisionExecutor) error {
	task, ok, err := acquire(ctx, a, func(ctx context.Context) (*history.DecisionTask, error) {
		return a.client.PollForDecisionTask(ctx, coordinator.PollForDecisionTaskRequest{
			Domain:   a.reg.Domain,
			Identity: a.Identity(),
			TaskList: a.reg.TaskList,
		})
	}, (*history.DecisionTask).Empty)
	if err != nil || !ok {
		return err
	}
	if err := a.assemble(ctx, task); err != nil {
		if a.dropTask(ctx, "poll_page", task.WorkflowExecution.WorkflowID, err) {
			return nil
		}
		return err
	}

	started := time.Now()
	workflowType := task.WorkflowType.Name
	taskCtx, span := tracing.StartTaskSpan(ctx, tracing.TaskAttributes{
		Role:       string(a.role),
		TaskList:   a.reg.TaskList,
		WorkflowID: task.WorkflowExecution.WorkflowID,
		RunID:      task.WorkflowExecution.RunID,
		Type:       workflowType,
	})

	decisions := a.checkDecisions(task, executor.Execute(taskCtx, task))

	outcome, reason := OutcomeDecided, ""
	for _, d := range decisions {
		if d.Type == decision.TypeFailWorkflowExecution && d.FailWorkflowExecution != nil {
			outcome, reason = OutcomeWorkflowFailed, d.FailWorkflowExecution.Reason
		}
	}

	err = a.retry(taskCtx, "respond_decision", func() error {
		return a.client.RespondDecisionTaskCompleted(taskCtx, coordinator.RespondDecisionTaskCompletedRequest{
			TaskToken: task.TaskToken,
			Decisions: decisions,
			Identity:  a.Identity(),
		})
	})
	tracing.EndTaskSpan(span, outcome, err)
	if err != nil {
		if a.dropTask(ctx, "respond_decision", task.WorkflowExecution.WorkflowID, err) {
			return nil
		}
		return fmt.Errorf("respond decision task of %s: %w", task.WorkflowExecution.WorkflowID, err)
	}

	elapsed := time.Since(started)
	metrics.RecordTaskMetrics(string(a.role), workflowType, outcome, elapsed.Seconds())
	for _, d := range decisions {
		metrics.DecisionsEmitted.WithLabelValues(workflowType, string(d.Type)).Inc()
	}
	a.logger.Debug("Decision task completed",
		zap.String("workflow_id", task.WorkflowExecution.WorkflowID),
		zap.String("workflow_type", workflowType),
		zap.Int("events", len(task.Events)),
		zap.Int("decisions", len(decisions)),
		zap.String("outcome", outcome),
	)
	a.notify(taskCtx, TaskOutcome{
		Role:      a.role,
		Identity:  a.Identity(),
		Domain:    a.reg.Domain,
		TaskList:  a.reg.TaskList,
		Workflow:  task.WorkflowExecution,
		Type:      workflowType,
		Outcome:   outcome,
		Decisions: len(decisions),
		Reason:    reason,
		Started:   started,
		Duration:  elapsed,
	})
	return nil
}

// checkDecisions replaces decisions the client can tell it would refuse with
// a single failure of the workflow, so a broken decider fails its workflow
// instead of its agent.
func (a *Agent) checkDecisions(task *history.DecisionTask, decisions []decision.Decision) []decision.Decision {
	v, ok := a.client.(coordinator.DecisionValidator)
	if !ok {
		return decisions
	}
	err := v.ValidateDecisions(decisions)
	if err == nil {
		return decisions
	}
	a.logger.Warn("Decisions cannot be reported, failing workflow",
		zap.String("workflow_id", task.WorkflowExecution.WorkflowID),
		zap.String("workflow_type", task.WorkflowType.Name),
		zap.Error(err),
	)
	return []decision.Decision{decision.FailWorkflowExecution(decision.FailWorkflowExecutionAttributes{
		Reason:  decision.ReasonException,
		Details: fmt.Sprintf("Unhandled error in %s: %+v", task.WorkflowType.Name, err),
	})}
}
