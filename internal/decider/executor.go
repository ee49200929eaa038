package decider

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

// ErrMissingResolver is returned when an executor is built without a resolver.
var ErrMissingResolver = errors.New("decider resolver is required")

// Resolver locates the handler table for a workflow type. The returned
// release func must be called once the task has been handled.
type Resolver interface {
	ResolveDecider(ctx context.Context, workflowType history.WorkflowType) (*Handlers, func(), error)
}

// Executor resolves the decider for a task and runs the engine over it.
type Executor struct {
	resolver Resolver
	engine   *Engine
	logger   *zap.Logger
}

// NewExecutor creates a decider executor
func NewExecutor(resolver Resolver, engine *Engine, logger *zap.Logger) (*Executor, error) {
	if resolver == nil {
		return nil, ErrMissingResolver
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = NewEngine(logger)
	}
	return &Executor{resolver: resolver, engine: engine, logger: logger}, nil
}

// Execute returns the decisions for task. A workflow type nobody registered,
// or a handler that built a malformed decision, fails the workflow the same
// way a failing handler does.
func (x *Executor) Execute(ctx context.Context, task *history.DecisionTask) []decision.Decision {
	handlers, release, err := x.resolver.ResolveDecider(ctx, task.WorkflowType)
	if err != nil {
		x.logger.Warn("Failed to resolve decider",
			zap.String("workflow_type", task.WorkflowType.Name),
			zap.String("version", task.WorkflowType.Version),
			zap.Error(err),
		)
		return failWorkflow(task, err)
	}
	if release != nil {
		defer release()
	}

	decisions := x.engine.Handle(ctx, task, handlers)
	for i, d := range decisions {
		if err := d.Validate(); err != nil {
			err = fmt.Errorf("decision %d (%s): %w", i, d.Type, err)
			x.logger.Warn("Decider built an invalid decision",
				zap.String("workflow_id", task.WorkflowExecution.WorkflowID),
				zap.String("workflow_type", task.WorkflowType.Name),
				zap.Error(err),
			)
			return failWorkflow(task, err)
		}
	}
	return decisions
}

func failWorkflow(task *history.DecisionTask, err error) []decision.Decision {
	return []decision.Decision{decision.FailWorkflowExecution(decision.FailWorkflowExecutionAttributes{
		Reason:  decision.ReasonException,
		Details: fmt.Sprintf("Unhandled error in %s: %s", task.WorkflowType.Name, err.Error()),
	})}
}
