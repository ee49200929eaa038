package circuitbreaker

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := wrapper.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	id, err := wrapper.XAdd(ctx, &redis.XAddArgs{
		Stream: "flowworker:events",
		Values: map[string]interface{}{"type": "task_started"},
	})
	if err != nil {
		t.Fatalf("XAdd failed: %v", err)
	}
	if id == "" {
		t.Error("Expected a stream entry id")
	}

	entries, err := client.XRange(ctx, "flowworker:events", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Values["type"] != "task_started" {
		t.Errorf("Unexpected stream content: %v", entries)
	}

	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should remain closed")
	}
}

func TestRedisWrapper_CircuitBreakerTriggering(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	// server goes away
	s.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := wrapper.Ping(ctx); err == nil {
			t.Error("Expected ping to fail against a stopped server")
		}
	}

	if !wrapper.IsCircuitBreakerOpen() {
		t.Error("Expected circuit breaker to be open after repeated failures")
	}

	_, err = wrapper.XAdd(ctx, &redis.XAddArgs{Stream: "s", Values: map[string]interface{}{"k": "v"}})
	if err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}
}
