package streaming

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/agent"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/metrics"
)

// DefaultStream is the Redis stream lifecycle events are appended to
const DefaultStream = "flowworker:events"

// RedisSink appends lifecycle events to a capped Redis stream
type RedisSink struct {
	redis  *circuitbreaker.RedisWrapper
	stream string
	maxLen int64
	logger *zap.Logger
}

var _ agent.Observer = (*RedisSink)(nil)

// NewRedisSink creates a sink writing to stream. maxLen caps the stream
// length approximately; zero leaves it uncapped.
func NewRedisSink(rw *circuitbreaker.RedisWrapper, stream string, maxLen int64, logger *zap.Logger) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{redis: rw, stream: stream, maxLen: maxLen, logger: logger}
}

// Publish appends evt to the stream and returns the entry id
func (s *RedisSink) Publish(ctx context.Context, evt Event) (string, error) {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"workflow_id": evt.WorkflowID,
			"type":        evt.Type,
			"payload":     string(evt.Marshal()),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.redis.XAdd(ctx, args)
	if err != nil {
		metrics.EventsPublished.WithLabelValues("redis", "error").Inc()
		return "", fmt.Errorf("append event to %s: %w", s.stream, err)
	}
	metrics.EventsPublished.WithLabelValues("redis", "delivered").Inc()
	return id, nil
}

// ObserveTask appends the lifecycle event of a processed task. Failures are
// logged and never reach the agent.
func (s *RedisSink) ObserveTask(ctx context.Context, outcome agent.TaskOutcome) {
	if _, err := s.Publish(ctx, EventFromOutcome(ctx, outcome)); err != nil {
		s.logger.Warn("Failed to publish lifecycle event",
			zap.String("workflow_id", outcome.Workflow.WorkflowID),
			zap.Error(err),
		)
	}
}
