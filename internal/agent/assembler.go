package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/tracing"
)

// assemble follows the task's next page tokens and appends every page's
// events to task in the order the coordinator returned them. Tasks that carry
// no work are left alone.
func (a *Agent) assemble(ctx context.Context, task *history.DecisionTask) error {
	if task.Empty() {
		return nil
	}
	if task.NextPageToken == "" {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "assemble history")
	defer span.End()

	token := task.NextPageToken
	for token != "" {
		var page *history.DecisionTask
		err := a.retry(ctx, "poll_page", func() error {
			var err error
			page, err = a.client.PollForDecisionTask(ctx, coordinator.PollForDecisionTaskRequest{
				Domain:        a.reg.Domain,
				Identity:      a.Identity(),
				TaskList:      a.reg.TaskList,
				NextPageToken: token,
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("fetch history page of %s: %w", task.WorkflowExecution.WorkflowID, err)
		}
		metrics.DecisionPages.WithLabelValues(a.reg.TaskList).Inc()
		if page == nil {
			break
		}
		if n := len(task.Events); n > 0 && len(page.Events) > 0 && page.Events[0].ID <= task.Events[n-1].ID {
			a.logger.Warn("History page does not continue the previous one",
				zap.String("workflow_id", task.WorkflowExecution.WorkflowID),
				zap.Int64("last_id", task.Events[n-1].ID),
				zap.Int64("page_first_id", page.Events[0].ID),
			)
		}
		task.Events = append(task.Events, page.Events...)
		token = page.NextPageToken
	}
	task.NextPageToken = ""
	return nil
}
