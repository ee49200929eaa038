package decider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

type stubResolver struct {
	handlers *Handlers
	err      error
	released int
}

func (s *stubResolver) ResolveDecider(ctx context.Context, wt history.WorkflowType) (*Handlers, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.handlers, func() { s.released++ }, nil
}

func TestExecutorReleasesResolvedDecider(t *testing.T) {
	resolver := &stubResolver{handlers: &Handlers{
		WorkflowExecutionStarted: func(ctx context.Context, attrs *history.WorkflowExecutionStartedAttributes, task *history.DecisionTask, d *Decisions) error {
			d.CompleteWorkflowResult(attrs.Input)
			return nil
		},
	}}
	x, err := NewExecutor(resolver, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	got := x.Execute(context.Background(), &history.DecisionTask{TaskToken: "tok", Events: []history.Event{started(1)}})

	require.Len(t, got, 1)
	assert.Equal(t, "in", got[0].CompleteWorkflowExecution.Result)
	assert.Equal(t, 1, resolver.released)
}

func TestExecutorFailsWorkflowWhenDeciderMissing(t *testing.T) {
	resolver := &stubResolver{err: errors.New("no decider registered for Greeting/1")}
	x, err := NewExecutor(resolver, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	got := x.Execute(context.Background(), &history.DecisionTask{
		TaskToken:    "tok",
		WorkflowType: history.WorkflowType{Name: "Greeting", Version: "1"},
	})

	require.Len(t, got, 1)
	assert.Equal(t, decision.TypeFailWorkflowExecution, got[0].Type)
	assert.Equal(t, decision.ReasonException, got[0].FailWorkflowExecution.Reason)
	assert.Contains(t, got[0].FailWorkflowExecution.Details, "no decider registered")
}

func TestExecutorFailsWorkflowOnMalformedDecision(t *testing.T) {
	resolver := &stubResolver{handlers: &Handlers{
		WorkflowExecutionStarted: func(ctx context.Context, attrs *history.WorkflowExecutionStartedAttributes, task *history.DecisionTask, d *Decisions) error {
			d.ScheduleActivity(decision.ScheduleActivityTaskAttributes{ActivityID: "a-1"})
			d.Append(decision.Decision{Type: decision.TypeCompleteWorkflowExecution})
			return nil
		},
	}}
	x, err := NewExecutor(resolver, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	got := x.Execute(context.Background(), &history.DecisionTask{
		TaskToken:    "tok",
		WorkflowType: history.WorkflowType{Name: "Greeting"},
		Events:       []history.Event{started(1)},
	})

	require.Len(t, got, 1)
	assert.Equal(t, decision.TypeFailWorkflowExecution, got[0].Type)
	assert.Equal(t, decision.ReasonException, got[0].FailWorkflowExecution.Reason)
	assert.Contains(t, got[0].FailWorkflowExecution.Details, "decision 1 (CompleteWorkflowExecution)")
	assert.Equal(t, 1, resolver.released)
}

func TestNewExecutorRequiresResolver(t *testing.T) {
	_, err := NewExecutor(nil, nil, nil)
	assert.ErrorIs(t, err, ErrMissingResolver)
}
