package agent

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/metrics"
)

// BackoffConfig is the retry policy for coordinator calls that fail in
// transport. Every call starts from a fresh policy, so a successful call
// resets the delay.
type BackoffConfig struct {
	InitialInterval     time.Duration `mapstructure:"initial"`
	MaxInterval         time.Duration `mapstructure:"max"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"jitter"`
	// MaxElapsedTime gives up after that long; zero retries forever.
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed"`
}

// DefaultBackoffConfig returns exponential backoff with jitter:
// 200ms doubling up to 30s, giving up after 5 minutes.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      5 * time.Minute,
	}
}

// NewBackOff builds the backoff policy described by c
func (c BackoffConfig) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		b.MaxInterval = c.MaxInterval
	}
	if c.Multiplier >= 1 {
		b.Multiplier = c.Multiplier
	}
	if c.RandomizationFactor >= 0 && c.RandomizationFactor < 1 {
		b.RandomizationFactor = c.RandomizationFactor
	}
	b.MaxElapsedTime = c.MaxElapsedTime
	b.Reset()
	return b
}

// retry runs a coordinator call under the agent's backoff policy. Context
// cancellation, Stop and errors that are not retryable end the retries early
// with the last error.
func (a *Agent) retry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !a.running.Load() || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(a.newBackOff(), ctx), func(err error, next time.Duration) {
		metrics.TransportRetries.WithLabelValues(string(a.role), a.reg.TaskList).Inc()
		a.logger.Warn("Coordinator call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})
}

// retryable reports whether another attempt of a failed call can succeed.
// Breaker rejections and transport failures can. Requests the coordinator
// refused, and gRPC statuses other than the transient ones, cannot.
func retryable(err error) bool {
	if circuitbreaker.IsRejection(err) {
		return true
	}
	if errors.Is(err, coordinator.ErrRejected) {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

// dropTask decides what happens to a task whose call failed for good. A
// rejected call abandons the task and the loop goes on; the coordinator
// times the task out and hands it out again. Anything else ends the loop.
func (a *Agent) dropTask(ctx context.Context, op, id string, err error) bool {
	if ctx.Err() != nil || !a.running.Load() || retryable(err) {
		return false
	}
	metrics.TasksDropped.WithLabelValues(string(a.role), a.reg.TaskList, op).Inc()
	a.logger.Warn("Coordinator rejected call, dropping task",
		zap.String("op", op),
		zap.String("task", id),
		zap.Error(err),
	)
	return true
}
