package circuitbreaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

// CoordinatorWrapper guards a coordinator.Client with a circuit breaker. It
// is used for coordinators that are not reached over the intercepted gRPC
// connection.
type CoordinatorWrapper struct {
	client  coordinator.Client
	cb      *CircuitBreaker
	name    string
	service string
}

var (
	_ coordinator.Client            = (*CoordinatorWrapper)(nil)
	_ coordinator.DecisionValidator = (*CoordinatorWrapper)(nil)
)

// NewCoordinatorWrapper creates a coordinator wrapper with circuit breaker
func NewCoordinatorWrapper(client coordinator.Client, service string, cfg CircuitBreakerConfig, logger *zap.Logger) *CoordinatorWrapper {
	config := cfg.ToConfig()
	config.IsFailure = isCircuitBreakerError
	cb := NewCircuitBreaker("coordinator", config, logger)

	GlobalMetricsCollector.RegisterCircuitBreaker("coordinator", service, cb)

	return &CoordinatorWrapper{client: client, cb: cb, name: "coordinator", service: service}
}

func (cw *CoordinatorWrapper) execute(ctx context.Context, fn func() error) error {
	err := cw.cb.Execute(ctx, fn)
	success := err == nil || (!IsRejection(err) && !isCircuitBreakerError(err))
	GlobalMetricsCollector.RecordRequest(cw.name, cw.service, cw.cb.State(), success)
	return err
}

func (cw *CoordinatorWrapper) PollForActivityTask(ctx context.Context, req coordinator.PollForActivityTaskRequest) (*history.ActivityTask, error) {
	var task *history.ActivityTask
	err := cw.execute(ctx, func() error {
		var err error
		task, err = cw.client.PollForActivityTask(ctx, req)
		return err
	})
	return task, err
}

func (cw *CoordinatorWrapper) PollForDecisionTask(ctx context.Context, req coordinator.PollForDecisionTaskRequest) (*history.DecisionTask, error) {
	var task *history.DecisionTask
	err := cw.execute(ctx, func() error {
		var err error
		task, err = cw.client.PollForDecisionTask(ctx, req)
		return err
	})
	return task, err
}

func (cw *CoordinatorWrapper) RespondActivityTaskCompleted(ctx context.Context, req coordinator.RespondActivityTaskCompletedRequest) error {
	return cw.execute(ctx, func() error {
		return cw.client.RespondActivityTaskCompleted(ctx, req)
	})
}

func (cw *CoordinatorWrapper) RespondActivityTaskFailed(ctx context.Context, req coordinator.RespondActivityTaskFailedRequest) error {
	return cw.execute(ctx, func() error {
		return cw.client.RespondActivityTaskFailed(ctx, req)
	})
}

func (cw *CoordinatorWrapper) RespondDecisionTaskCompleted(ctx context.Context, req coordinator.RespondDecisionTaskCompletedRequest) error {
	return cw.execute(ctx, func() error {
		return cw.client.RespondDecisionTaskCompleted(ctx, req)
	})
}

// ValidateDecisions forwards to the wrapped client when it validates
// decisions. It runs locally and bypasses the breaker.
func (cw *CoordinatorWrapper) ValidateDecisions(decisions []decision.Decision) error {
	if v, ok := cw.client.(coordinator.DecisionValidator); ok {
		return v.ValidateDecisions(decisions)
	}
	return nil
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (cw *CoordinatorWrapper) IsCircuitBreakerOpen() bool {
	return cw.cb.State() == StateOpen
}

// Breaker exposes the underlying breaker for health checks
func (cw *CoordinatorWrapper) Breaker() *CircuitBreaker {
	return cw.cb
}
