package circuitbreaker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps the Redis client used by the lifecycle event sink
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	cb := NewCircuitBreaker("redis", GetRedisConfig().ToConfig(), logger)

	GlobalMetricsCollector.RegisterCircuitBreaker("redis", "event-sink", cb)

	return &RedisWrapper{
		client: client,
		cb:     cb,
		logger: logger,
	}
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	err := rw.cb.Execute(ctx, func() error {
		return rw.client.Ping(ctx).Err()
	})
	GlobalMetricsCollector.RecordRequest("redis", "event-sink", rw.cb.State(), err == nil)
	return err
}

// XAdd wraps Redis XADD with circuit breaker and returns the entry id
func (rw *RedisWrapper) XAdd(ctx context.Context, args *redis.XAddArgs) (string, error) {
	var id string
	err := rw.cb.Execute(ctx, func() error {
		var err error
		id, err = rw.client.XAdd(ctx, args).Result()
		return err
	})
	GlobalMetricsCollector.RecordRequest("redis", "event-sink", rw.cb.State(), err == nil)
	return id, err
}

// Close wraps Redis Close
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// GetClient returns the underlying Redis client for operations not covered by wrapper
func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
