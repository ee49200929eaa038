package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/activity"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decider"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

type closingHandler struct {
	closed int
}

func (c *closingHandler) HandleActivityTask(ctx context.Context, task *history.ActivityTask) error {
	return nil
}

func (c *closingHandler) Close() error {
	c.closed++
	return nil
}

func TestResolveActivityClosesOnRelease(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	var built []*closingHandler
	r.RegisterActivity("Greet", "1", func(ctx context.Context) (activity.Handler, error) {
		h := &closingHandler{}
		built = append(built, h)
		return h, nil
	})

	h1, release1, err := r.Resolve(context.Background(), history.ActivityType{Name: "Greet", Version: "1"})
	require.NoError(t, err)
	h2, release2, err := r.Resolve(context.Background(), history.ActivityType{Name: "Greet", Version: "1"})
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)

	release1()
	release1()
	assert.Equal(t, 1, built[0].closed)
	assert.Equal(t, 0, built[1].closed)
	release2()
	assert.Equal(t, 1, built[1].closed)
}

func TestResolveFallsBackToUnversioned(t *testing.T) {
	r := New(nil)
	r.RegisterActivity("Greet", "", func(ctx context.Context) (activity.Handler, error) {
		return activity.HandlerFunc(func(ctx context.Context, task *history.ActivityTask) error { return nil }), nil
	})

	_, release, err := r.Resolve(context.Background(), history.ActivityType{Name: "Greet", Version: "7"})
	require.NoError(t, err)
	release()

	_, _, err = r.Resolve(context.Background(), history.ActivityType{Name: "Other"})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestResolveUnversionedTakesSingleVersion(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	r.RegisterDecider("greeting", "1.0", func(ctx context.Context) (*decider.Handlers, error) {
		return &decider.Handlers{
			WorkflowExecutionStarted: func(ctx context.Context, attrs *history.WorkflowExecutionStartedAttributes, task *history.DecisionTask, d *decider.Decisions) error {
				return nil
			},
		}, nil
	})
	noop := func(ctx context.Context) (activity.Handler, error) {
		return activity.HandlerFunc(func(ctx context.Context, task *history.ActivityTask) error { return nil }), nil
	}
	r.RegisterActivity("greet", "1.0", noop)
	r.RegisterActivity("translate", "1.0", noop)
	r.RegisterActivity("translate", "2.0", noop)

	_, release, err := r.ResolveDecider(context.Background(), history.WorkflowType{Name: "greeting"})
	require.NoError(t, err)
	release()

	_, release, err = r.Resolve(context.Background(), history.ActivityType{Name: "greet"})
	require.NoError(t, err)
	release()

	_, _, err = r.Resolve(context.Background(), history.ActivityType{Name: "translate"})
	assert.ErrorIs(t, err, ErrNotRegistered, "an unversioned request must not pick between versions")
}

func TestResolveActivityFactoryError(t *testing.T) {
	r := New(nil)
	r.RegisterActivity("Broken", "", func(ctx context.Context) (activity.Handler, error) {
		return nil, errors.New("no connection")
	})

	_, _, err := r.Resolve(context.Background(), history.ActivityType{Name: "Broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no connection")
}

func TestResolveDeciderValidatesTable(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	r.RegisterDecider("Empty", "1", func(ctx context.Context) (*decider.Handlers, error) {
		return &decider.Handlers{}, nil
	})
	r.RegisterDecider("Greeting", "1", func(ctx context.Context) (*decider.Handlers, error) {
		return &decider.Handlers{
			WorkflowExecutionStarted: func(ctx context.Context, attrs *history.WorkflowExecutionStartedAttributes, task *history.DecisionTask, d *decider.Decisions) error {
				return nil
			},
		}, nil
	})

	_, _, err := r.ResolveDecider(context.Background(), history.WorkflowType{Name: "Empty", Version: "1"})
	assert.ErrorIs(t, err, decider.ErrMissingStartHandler)

	h, release, err := r.ResolveDecider(context.Background(), history.WorkflowType{Name: "Greeting", Version: "1"})
	require.NoError(t, err)
	assert.NotNil(t, h.WorkflowExecutionStarted)
	release()

	_, _, err = r.ResolveDecider(context.Background(), history.WorkflowType{Name: "Unknown"})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegistrationValidate(t *testing.T) {
	assert.NoError(t, Registration{Domain: "d", TaskList: "tl"}.Validate())
	assert.ErrorIs(t, Registration{Domain: "d"}.Validate(), ErrMissingRegistration)
	assert.ErrorIs(t, Registration{TaskList: "tl"}.Validate(), ErrMissingRegistration)
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers:
  - name: greeting-decider
    role: decider
    domain: samples
    task_list: greeting
    version: "1"
  - name: greeting-activity
    role: activity
    domain: samples
    task_list: greeting-activities
    instances: 3
`), 0o600))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Workers, 2)
	assert.Equal(t, RoleDecider, m.Workers[0].Role)
	assert.Equal(t, "samples", m.Workers[0].Domain)
	assert.Equal(t, "1", m.Workers[0].Version)
	assert.Equal(t, 1, m.Workers[0].Instances)
	assert.Equal(t, 3, m.Workers[1].Instances)
	assert.Equal(t, "greeting-activities", m.Workers[1].TaskList)
}

func TestParseManifestRejectsBadEntries(t *testing.T) {
	_, err := ParseManifest([]byte("workers:\n  - name: x\n    role: poller\n    domain: d\n    task_list: t\n"))
	assert.Error(t, err)

	_, err = ParseManifest([]byte("workers:\n  - name: x\n    role: activity\n    domain: d\n"))
	assert.ErrorIs(t, err, ErrMissingRegistration)
}
