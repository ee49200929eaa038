// Package agent runs the poll loops that pull work from the coordinator:
// one sequential loop per agent, many agents per process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/registry"
)

// Role tells activity agents from decider agents
type Role string

const (
	RoleActivity Role = "activity"
	RoleDecider  Role = "decider"
)

// ErrAlreadyRunning is returned by Start on an agent that is running
var ErrAlreadyRunning = errors.New("agent is already running")

// ErrMissingExecutor is returned when an agent is built without an executor
var ErrMissingExecutor = errors.New("task executor is required")

// Options configures an agent
type Options struct {
	Registration registry.Registration
	Logger       *zap.Logger
	// Limiter paces polls. Nil means unlimited.
	Limiter *rate.Limiter
	Backoff BackoffConfig
	// NewBackOff overrides Backoff when set
	NewBackOff func() backoff.BackOff
	Observers  []Observer
}

// Agent polls one task list of one domain and hands each task to its
// executor. All work happens on the goroutine that called Start.
type Agent struct {
	role      Role
	reg       registry.Registration
	client    coordinator.Client
	logger    *zap.Logger
	limiter   *rate.Limiter
	observers []Observer

	newBackOff func() backoff.BackOff
	step       func(ctx context.Context) error

	running atomic.Bool
	// stopped is set by Stop and cleared when a run ends, so a Stop that
	// lands before the loop starts is not lost.
	stopped  atomic.Bool
	mu       sync.RWMutex
	identity string
}

func newAgent(role Role, client coordinator.Client, opts Options) (*Agent, error) {
	if client == nil {
		return nil, coordinator.ErrMissingClient
	}
	if err := opts.Registration.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	newBackOff := opts.NewBackOff
	if newBackOff == nil {
		cfg := opts.Backoff
		if cfg == (BackoffConfig{}) {
			cfg = DefaultBackoffConfig()
		}
		newBackOff = cfg.NewBackOff
	}
	return &Agent{
		role:       role,
		reg:        opts.Registration,
		client:     client,
		logger:     logger.With(zap.String("role", string(role)), zap.String("domain", opts.Registration.Domain), zap.String("task_list", opts.Registration.TaskList)),
		limiter:    limiter,
		observers:  opts.Observers,
		newBackOff: newBackOff,
	}, nil
}

// NewIdentity returns a worker identity of the form host:uuid
func NewIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%s", host, uuid.NewString())
}

// Start runs the poll loop until Stop is called, ctx is done, or the
// coordinator stays unreachable longer than the backoff policy allows. Only
// the last case returns an error.
func (a *Agent) Start(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)
	defer a.stopped.Store(false)
	if a.stopped.Swap(false) {
		a.logger.Info("Agent stopped before it started")
		return nil
	}

	id := NewIdentity()
	a.mu.Lock()
	a.identity = id
	a.mu.Unlock()

	gauge := metrics.AgentsRunning.WithLabelValues(string(a.role), a.reg.TaskList)
	gauge.Inc()
	defer gauge.Dec()

	a.logger.Info("Agent started", zap.String("identity", id))
	for a.running.Load() {
		if ctx.Err() != nil {
			break
		}
		if err := a.step(ctx); err != nil {
			if ctx.Err() != nil || !a.running.Load() {
				break
			}
			a.logger.Error("Agent stopped on transport error", zap.String("identity", id), zap.Error(err))
			return err
		}
	}
	a.logger.Info("Agent stopped", zap.String("identity", id))
	return nil
}

// Stop asks the loop to exit. An in-flight poll or task is not interrupted;
// the loop ends at its next check. Stopping an agent that has not started
// yet makes its next Start return at once.
func (a *Agent) Stop() {
	a.stopped.Store(true)
	a.running.Store(false)
}

// Running reports whether the loop is active
func (a *Agent) Running() bool {
	return a.running.Load()
}

// Identity is the identity of the current or last run
func (a *Agent) Identity() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.identity
}

// Role returns the agent's role
func (a *Agent) Role() Role {
	return a.role
}

// Registration returns what the agent polls
func (a *Agent) Registration() registry.Registration {
	return a.reg
}

// SetRateLimit changes poll pacing. A non-positive rate removes the limit.
func (a *Agent) SetRateLimit(perSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	a.limiter.SetLimit(limit)
	a.limiter.SetBurst(burst)
}

// acquire polls until a task arrives. It returns ok=false without error when
// the agent was stopped while waiting for work.
func acquire[T any](ctx context.Context, a *Agent, poll func(ctx context.Context) (T, error), empty func(T) bool) (task T, ok bool, err error) {
	for a.running.Load() {
		if err := a.limiter.Wait(ctx); err != nil {
			return task, false, err
		}
		start := time.Now()
		err = a.retry(ctx, "poll", func() error {
			var perr error
			task, perr = poll(ctx)
			return perr
		})
		elapsed := time.Since(start).Seconds()
		if err != nil {
			metrics.RecordPoll(string(a.role), a.reg.TaskList, "error", elapsed)
			return task, false, fmt.Errorf("poll %s task list %s: %w", a.role, a.reg.TaskList, err)
		}
		if empty(task) {
			metrics.RecordPoll(string(a.role), a.reg.TaskList, "empty", elapsed)
			continue
		}
		metrics.RecordPoll(string(a.role), a.reg.TaskList, "task", elapsed)
		return task, true, nil
	}
	var zero T
	return zero, false, nil
}

func (a *Agent) notify(ctx context.Context, outcome TaskOutcome) {
	for _, o := range a.observers {
		o.ObserveTask(ctx, outcome)
	}
}
