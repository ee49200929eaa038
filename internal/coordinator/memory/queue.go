package memory

import (
	"context"
	"sync"
	"time"
)

// queue is a FIFO guarded by the coordinator's mutex. Waiters park on signal,
// which is closed and replaced on every push.
type queue[T any] struct {
	items  []T
	signal chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{signal: make(chan struct{})}
}

// push must be called with the owning mutex held
func (q *queue[T]) push(v T) {
	q.items = append(q.items, v)
	close(q.signal)
	q.signal = make(chan struct{})
}

// pop waits up to timeout for an item. When it returns an item, mu is still
// held so the caller can hand the item out atomically; otherwise mu is free.
func (q *queue[T]) pop(ctx context.Context, timeout time.Duration, mu *sync.Mutex) (T, bool, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			return v, true, nil
		}
		wait := q.signal
		mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return zero, false, nil
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}
}
