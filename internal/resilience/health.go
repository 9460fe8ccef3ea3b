// Package resilience wraps every external dependency in a circuit breaker
// with a dependency-specific fallback.
package resilience

import (
	"sort"

	"github.com/mselser95/p2p-wager/internal/circuitbreaker"
	"github.com/mselser95/p2p-wager/pkg/types"
)

// Dependency names, also used as breaker names and metric labels.
const (
	DependencyPriceSource = "price-source"
	DependencyPrimaryRPC  = "primary-rpc"
	DependencyBackend     = "backend"
)

// Status is the coarse health of one dependency.
type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusDegraded Status = "DEGRADED"
)

// Fallback names the substitute in use while a dependency is degraded.
type Fallback string

const (
	FallbackNone         Fallback = "NONE"
	FallbackCache        Fallback = "CACHE"
	FallbackSecondaryRPC Fallback = "SECONDARY_RPC"
	FallbackLocalState   Fallback = "LOCAL_STATE"
)

// DependencyHealth is one entry of ServiceHealth.
type DependencyHealth struct {
	Status   Status   `json:"status"`
	Fallback Fallback `json:"fallback"`
	Breaker  string   `json:"breaker"`
	Failures int      `json:"failures"`
}

// Reporter is implemented by every resilient wrapper.
type Reporter interface {
	Name() string
	Health() DependencyHealth
}

// Monitor aggregates reporters into a service health view.
type Monitor struct {
	reporters []Reporter
}

// NewMonitor creates a monitor. Nil reporters are skipped.
func NewMonitor(reporters ...Reporter) *Monitor {
	m := &Monitor{}
	for _, r := range reporters {
		if r != nil {
			m.reporters = append(m.reporters, r)
		}
	}
	return m
}

// ServiceHealth reports status and active fallback per dependency.
func (m *Monitor) ServiceHealth() map[string]DependencyHealth {
	out := make(map[string]DependencyHealth, len(m.reporters))
	for _, r := range m.reporters {
		h := r.Health()
		out[r.Name()] = h

		healthy := 0.0
		if h.Status == StatusHealthy {
			healthy = 1
		}
		DependencyHealthy.WithLabelValues(r.Name()).Set(healthy)
	}
	return out
}

// Degraded lists the dependencies currently running on a fallback, sorted.
func (m *Monitor) Degraded() []string {
	var out []string
	for name, h := range m.ServiceHealth() {
		if h.Status != StatusHealthy {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func health(state circuitbreaker.State, degraded bool, fallback Fallback) DependencyHealth {
	h := DependencyHealth{
		Status:   StatusHealthy,
		Fallback: FallbackNone,
		Breaker:  state.Phase.String(),
		Failures: state.Failures,
	}
	if degraded || state.Phase != circuitbreaker.Closed {
		h.Status = StatusDegraded
		h.Fallback = fallback
	}
	return h
}

// countable reports whether err means the dependency failed. A business
// rejection means it answered.
func countable(err error) bool {
	_, business := types.AsBusinessError(err)
	return !business
}
