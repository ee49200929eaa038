package registry

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/activity"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decider"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

// Registry maps activity and workflow types to the factories that build
// their handlers. It implements activity.Resolver and decider.Resolver.
type Registry struct {
	mu         sync.RWMutex
	activities map[key]ActivityFactory
	deciders   map[key]DeciderFactory
	logger     *zap.Logger
}

var (
	_ activity.Resolver = (*Registry)(nil)
	_ decider.Resolver  = (*Registry)(nil)
)

// New creates an empty registry
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		activities: make(map[key]ActivityFactory),
		deciders:   make(map[key]DeciderFactory),
		logger:     logger,
	}
}

// RegisterActivity registers the factory for an activity type. Registering
// the same name and version twice replaces the earlier factory.
func (r *Registry) RegisterActivity(name, version string, factory ActivityFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[key{name, version}] = factory
	r.logger.Info("Registered activity", zap.String("name", name), zap.String("version", version))
}

// RegisterDecider registers the factory for a workflow type
func (r *Registry) RegisterDecider(name, version string, factory DeciderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deciders[key{name, version}] = factory
	r.logger.Info("Registered decider", zap.String("name", name), zap.String("version", version))
}

// Resolve builds a handler for the activity type. The release func closes
// the handler when it implements io.Closer.
func (r *Registry) Resolve(ctx context.Context, t history.ActivityType) (activity.Handler, func(), error) {
	factory, ok := lookup(&r.mu, r.activities, t.Name, t.Version)
	if !ok {
		return nil, nil, fmt.Errorf("activity %s@%s: %w", t.Name, t.Version, ErrNotRegistered)
	}
	h, err := factory(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("build activity %s: %w", t.Name, err)
	}
	return h, r.releaser(h, t.Name), nil
}

// ResolveDecider builds the handler table for the workflow type. Decider
// tables are validated before use.
func (r *Registry) ResolveDecider(ctx context.Context, t history.WorkflowType) (*decider.Handlers, func(), error) {
	factory, ok := lookup(&r.mu, r.deciders, t.Name, t.Version)
	if !ok {
		return nil, nil, fmt.Errorf("workflow %s@%s: %w", t.Name, t.Version, ErrNotRegistered)
	}
	h, err := factory(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("build decider %s: %w", t.Name, err)
	}
	if err := h.Validate(); err != nil {
		return nil, nil, fmt.Errorf("decider %s: %w", t.Name, err)
	}
	return h, func() {}, nil
}

func (r *Registry) releaser(h any, name string) func() {
	c, ok := h.(io.Closer)
	if !ok {
		return func() {}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := c.Close(); err != nil {
				r.logger.Warn("Failed to release activity handler", zap.String("name", name), zap.Error(err))
			}
		})
	}
}

// lookup matches name and version exactly, then falls back across the
// version: a versioned request takes the unversioned registration, and an
// unversioned request takes the only version registered under name.
// Coordinators that do not carry versions send unversioned requests.
func lookup[F any](mu *sync.RWMutex, m map[key]F, name, version string) (F, bool) {
	mu.RLock()
	defer mu.RUnlock()
	if f, ok := m[key{name, version}]; ok {
		return f, true
	}
	if version != "" {
		f, ok := m[key{name: name}]
		return f, ok
	}

	var (
		found F
		n     int
	)
	for k, f := range m {
		if k.name == name {
			found = f
			n++
		}
	}
	if n != 1 {
		var zero F
		return zero, false
	}
	return found, true
}
