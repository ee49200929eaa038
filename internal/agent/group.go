package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Group supervises the agents of one process
type Group struct {
	mu     sync.Mutex
	agents []*Agent
	logger *zap.Logger
}

// NewGroup creates an empty group
func NewGroup(logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{logger: logger}
}

// Add adds agents to the group. Agents added after Run are not started.
func (g *Group) Add(agents ...*Agent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agents = append(g.agents, agents...)
}

// Agents returns the agents of the group
func (g *Group) Agents() []*Agent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Agent, len(g.agents))
	copy(out, g.agents)
	return out
}

// Run starts every agent on its own goroutine and blocks until all of them
// have exited. The first agent to fail cancels the others; its error is
// returned.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, a := range g.Agents() {
		eg.Go(func() error {
			return a.Start(ctx)
		})
	}
	g.logger.Info("Agents started", zap.Int("count", len(g.Agents())))
	err := eg.Wait()
	if err != nil {
		g.logger.Error("Agent group stopped", zap.Error(err))
	}
	return err
}

// StopAll asks every agent to stop
func (g *Group) StopAll() {
	for _, a := range g.Agents() {
		a.Stop()
	}
}

// SetRateLimit applies a poll rate to every agent
func (g *Group) SetRateLimit(perSecond float64, burst int) {
	for _, a := range g.Agents() {
		a.SetRateLimit(perSecond, burst)
	}
}

// Running counts the agents whose loop is active
func (g *Group) Running() int {
	n := 0
	for _, a := range g.Agents() {
		if a.Running() {
			n++
		}
	}
	return n
}
