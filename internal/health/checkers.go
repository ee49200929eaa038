package health

import (
	"context"
	"time"
)

// AgentCounter reports how many polling agents are running
type AgentCounter interface {
	Running() int
}

// AgentGroupChecker is unhealthy when no agent is polling and degraded when
// only some of them are.
type AgentGroupChecker struct {
	group    AgentCounter
	expected int
}

func NewAgentGroupChecker(group AgentCounter, expected int) *AgentGroupChecker {
	return &AgentGroupChecker{group: group, expected: expected}
}

func (a *AgentGroupChecker) Name() string           { return "agents" }
func (a *AgentGroupChecker) IsCritical() bool       { return true }
func (a *AgentGroupChecker) Timeout() time.Duration { return time.Second }

func (a *AgentGroupChecker) Check(ctx context.Context) CheckResult {
	running := a.group.Running()
	result := CheckResult{
		Details: map[string]interface{}{
			"running":  running,
			"expected": a.expected,
		},
	}
	switch {
	case running == 0:
		result.Status = StatusUnhealthy
		result.Message = "No agents polling"
	case running < a.expected:
		result.Status = StatusDegraded
		result.Message = "Some agents stopped"
	default:
		result.Status = StatusHealthy
		result.Message = "All agents polling"
	}
	return result
}

// Pinger is a dependency reachable with a ping
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerState reports whether a circuit breaker is open
type BreakerState interface {
	IsCircuitBreakerOpen() bool
}

// PingChecker checks a dependency's breaker state and then pings it.
// Responses slower than the latency threshold are degraded.
type PingChecker struct {
	name      string
	pinger    Pinger
	breaker   BreakerState
	critical  bool
	timeout   time.Duration
	threshold time.Duration
}

// NewPingChecker creates a checker for a pingable dependency. breaker may be nil.
func NewPingChecker(name string, pinger Pinger, breaker BreakerState, critical bool) *PingChecker {
	return &PingChecker{
		name:      name,
		pinger:    pinger,
		breaker:   breaker,
		critical:  critical,
		timeout:   5 * time.Second,
		threshold: 100 * time.Millisecond,
	}
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return p.timeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	if p.breaker != nil && p.breaker.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: p.name + " circuit breaker is open",
		}
	}

	started := time.Now()
	err := p.pinger.Ping(ctx)
	latency := time.Since(started)
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: p.name + " ping failed",
			Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
		}
	}

	result := CheckResult{
		Status:  StatusHealthy,
		Message: p.name + " healthy",
		Details: map[string]interface{}{
			"latency_ms":           latency.Milliseconds(),
			"circuit_breaker_open": false,
		},
	}
	if latency > p.threshold {
		result.Status = StatusDegraded
		result.Message = p.name + " responding with high latency"
	}
	return result
}

// BreakerChecker reports a circuit breaker on its own, for dependencies
// that cannot be pinged cheaply such as the coordinator.
type BreakerChecker struct {
	name     string
	breaker  BreakerState
	critical bool
}

func NewBreakerChecker(name string, breaker BreakerState, critical bool) *BreakerChecker {
	return &BreakerChecker{name: name, breaker: breaker, critical: critical}
}

func (b *BreakerChecker) Name() string           { return b.name }
func (b *BreakerChecker) IsCritical() bool       { return b.critical }
func (b *BreakerChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerChecker) Check(ctx context.Context) CheckResult {
	if b.breaker.IsCircuitBreakerOpen() {
		return CheckResult{Status: StatusUnhealthy, Error: "circuit breaker open", Message: b.name + " circuit breaker is open"}
	}
	return CheckResult{Status: StatusHealthy, Message: b.name + " circuit breaker closed"}
}
