package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/agent"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/tracing"
)

// DefaultCapacity is the per-workflow ring size used when none is configured
const DefaultCapacity = 256

// Event is a task lifecycle event: one per task an agent processed.
type Event struct {
	WorkflowID  string    `json:"workflow_id"`
	RunID       string    `json:"run_id,omitempty"`
	Type        string    `json:"type"`
	Role        string    `json:"role"`
	Identity    string    `json:"identity"`
	TaskList    string    `json:"task_list"`
	TaskType    string    `json:"task_type"`
	Decisions   int       `json:"decisions,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	Traceparent string    `json:"traceparent,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Seq         uint64    `json:"seq"`
}

// Marshal returns the JSON form of the event
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// EventFromOutcome converts a processed task into a lifecycle event
func EventFromOutcome(ctx context.Context, o agent.TaskOutcome) Event {
	return Event{
		WorkflowID:  o.Workflow.WorkflowID,
		RunID:       o.Workflow.RunID,
		Type:        o.Outcome,
		Role:        string(o.Role),
		Identity:    o.Identity,
		TaskList:    o.TaskList,
		TaskType:    o.Type,
		Decisions:   o.Decisions,
		Reason:      o.Reason,
		DurationMs:  o.Duration.Milliseconds(),
		Traceparent: tracing.W3CTraceparent(ctx),
		Timestamp:   o.Started.Add(o.Duration).UTC(),
	}
}

// Manager provides in-memory pub/sub for lifecycle events, keyed by workflow.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-workflow ring buffer for replay
	history  map[string]*ring
	capacity int
}

var _ agent.Observer = (*Manager)(nil)

// NewManager creates a manager keeping up to capacity events per workflow
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a workflowID; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(workflowID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[workflowID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[workflowID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(workflowID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[workflowID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, workflowID)
		}
	}
}

// Publish records evt and sends it to all subscribers of its workflow
// (non-blocking). It returns the event with its sequence number set.
func (m *Manager) Publish(evt Event) Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	rg := m.history[evt.WorkflowID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.WorkflowID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	for ch := range m.subscribers[evt.WorkflowID] {
		select {
		case ch <- evt:
			metrics.EventsPublished.WithLabelValues("ring", "delivered").Inc()
		default:
			// slow subscriber
			metrics.EventsPublished.WithLabelValues("ring", "dropped").Inc()
		}
	}
	return evt
}

// ObserveTask publishes the lifecycle event of a processed task
func (m *Manager) ObserveTask(ctx context.Context, outcome agent.TaskOutcome) {
	m.Publish(EventFromOutcome(ctx, outcome))
}

// ReplaySince returns events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(workflowID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[workflowID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the buffered events of a workflow
func (m *Manager) Forget(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, workflowID)
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
