package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/activity"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decider"
)

var (
	// ErrMissingRegistration is returned when a worker has no domain or task list
	ErrMissingRegistration = errors.New("worker registration requires a domain and a task list")
	// ErrNotRegistered is returned when no factory exists for a type
	ErrNotRegistered = errors.New("type is not registered")
)

// Registration is the coordinator-side identity of a worker: the domain and
// task list it polls, and the version of the code it runs.
type Registration struct {
	Domain   string `yaml:"domain" mapstructure:"domain"`
	TaskList string `yaml:"task_list" mapstructure:"task_list"`
	Version  string `yaml:"version" mapstructure:"version"`
}

// Validate rejects registrations that cannot be polled with
func (r Registration) Validate() error {
	if r.Domain == "" || r.TaskList == "" {
		return fmt.Errorf("%w (domain=%q task_list=%q)", ErrMissingRegistration, r.Domain, r.TaskList)
	}
	return nil
}

// ActivityFactory builds a fresh activity handler for one task. Handlers
// that implement io.Closer are closed when the task is done.
type ActivityFactory func(ctx context.Context) (activity.Handler, error)

// DeciderFactory builds the handler table for one decision task
type DeciderFactory func(ctx context.Context) (*decider.Handlers, error)

// key identifies a registered type; an empty version matches any version
// nobody registered explicitly.
type key struct {
	name    string
	version string
}
