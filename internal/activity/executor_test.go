package activity

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

type countingResolver struct {
	handler  Handler
	err      error
	resolved int
	released int
}

func (r *countingResolver) Resolve(ctx context.Context, at history.ActivityType) (Handler, func(), error) {
	if r.err != nil {
		return nil, nil, r.err
	}
	r.resolved++
	return r.handler, func() { r.released++ }, nil
}

func newTask() *history.ActivityTask {
	return &history.ActivityTask{
		TaskToken:    "tok",
		ActivityID:   "a-1",
		ActivityType: history.ActivityType{Name: "Greet", Version: "1"},
		Input:        "world",
	}
}

func TestExecuteSuccessReportsNothing(t *testing.T) {
	var gotInput string
	r := &countingResolver{handler: HandlerFunc(func(ctx context.Context, task *history.ActivityTask) error {
		gotInput = task.Input
		return nil
	})}
	x, err := NewExecutor(r, zaptest.NewLogger(t))
	require.NoError(t, err)

	failure := x.Execute(context.Background(), newTask())

	assert.Nil(t, failure)
	assert.Equal(t, "world", gotInput)
	assert.Equal(t, 1, r.resolved)
	assert.Equal(t, 1, r.released)
}

func TestExecuteErrorBecomesFailure(t *testing.T) {
	r := &countingResolver{handler: HandlerFunc(func(ctx context.Context, task *history.ActivityTask) error {
		return errors.New("upstream refused greeting")
	})}
	x, err := NewExecutor(r, zaptest.NewLogger(t))
	require.NoError(t, err)

	failure := x.Execute(context.Background(), newTask())

	require.NotNil(t, failure)
	assert.Equal(t, decision.ReasonException, failure.Reason)
	assert.Contains(t, failure.Details, "upstream refused greeting\n\n")
	assert.Equal(t, 1, r.released)
}

func TestExecutePanicIsReleasedAndReported(t *testing.T) {
	r := &countingResolver{handler: HandlerFunc(func(ctx context.Context, task *history.ActivityTask) error {
		panic("greeter exploded")
	})}
	x, err := NewExecutor(r, zaptest.NewLogger(t))
	require.NoError(t, err)

	failure := x.Execute(context.Background(), newTask())

	require.NotNil(t, failure)
	assert.Contains(t, failure.Details, "panic: greeter exploded")
	assert.Contains(t, failure.Details, "goroutine")
	assert.Equal(t, 1, r.released)
}

func TestExecuteUnresolvedActivity(t *testing.T) {
	r := &countingResolver{err: errors.New("no activity registered")}
	x, err := NewExecutor(r, zaptest.NewLogger(t))
	require.NoError(t, err)

	failure := x.Execute(context.Background(), newTask())

	require.NotNil(t, failure)
	assert.Contains(t, failure.Details, "resolve activity Greet: no activity registered")
	assert.Zero(t, r.released)
}

func TestNewExecutorRequiresResolver(t *testing.T) {
	_, err := NewExecutor(nil, nil)
	assert.ErrorIs(t, err, ErrMissingResolver)
}
