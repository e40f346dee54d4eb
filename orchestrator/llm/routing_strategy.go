// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"sync"
	"sync/atomic"
	"time"
)

// RoutingStrategy selects among the candidates of an agent route when
// the route lists more than one equally-ranked provider:model pair.
type RoutingStrategy string

const (
	// RoutingStrategyRoundRobin cycles through candidates in order.
	RoutingStrategyRoundRobin RoutingStrategy = "round_robin"

	// RoutingStrategyLeastCost picks the candidate whose model has the
	// lowest combined per-1K rate. Ties break by registration order.
	RoutingStrategyLeastCost RoutingStrategy = "least_cost"

	// RoutingStrategyFastestResponse picks the candidate whose
	// provider has the lowest observed average latency. Providers with
	// no recorded latency rank first so they get probed. Ties break by
	// registration order.
	RoutingStrategyFastestResponse RoutingStrategy = "fastest_response"
)

// ValidRoutingStrategies contains all valid strategy values.
var ValidRoutingStrategies = []RoutingStrategy{
	RoutingStrategyRoundRobin,
	RoutingStrategyLeastCost,
	RoutingStrategyFastestResponse,
}

// IsValidRoutingStrategy checks if a string is a valid routing strategy.
func IsValidRoutingStrategy(s string) bool {
	for _, valid := range ValidRoutingStrategies {
		if RoutingStrategy(s) == valid {
			return true
		}
	}
	return false
}

// Selector applies a routing strategy to a candidate list. All picks
// are deterministic given the same observed state; round_robin keeps a
// per-agent counter so interleaved agents do not disturb each other.
type Selector struct {
	strategy RoutingStrategy
	registry *Registry
	tracker  *latencyTracker

	counters sync.Map // agent name -> *uint64
}

// NewSelector creates a Selector bound to the registry's catalog and
// the engine's latency tracker.
func NewSelector(strategy RoutingStrategy, registry *Registry, tracker *latencyTracker) *Selector {
	if !IsValidRoutingStrategy(string(strategy)) {
		strategy = RoutingStrategyRoundRobin
	}
	return &Selector{
		strategy: strategy,
		registry: registry,
		tracker:  tracker,
	}
}

// Strategy returns the configured routing strategy.
func (s *Selector) Strategy() RoutingStrategy {
	return s.strategy
}

// Select picks one candidate for the given agent. The candidate list
// must be non-empty; the first entry is returned when only one exists.
func (s *Selector) Select(agent string, candidates []ProviderModel) ProviderModel {
	if len(candidates) == 1 {
		return candidates[0]
	}

	switch s.strategy {
	case RoutingStrategyLeastCost:
		return s.selectLeastCost(candidates)
	case RoutingStrategyFastestResponse:
		return s.selectFastestResponse(candidates)
	default:
		return s.selectRoundRobin(agent, candidates)
	}
}

func (s *Selector) selectRoundRobin(agent string, candidates []ProviderModel) ProviderModel {
	v, _ := s.counters.LoadOrStore(agent, new(uint64))
	counter := v.(*uint64)
	index := atomic.AddUint64(counter, 1) - 1
	return candidates[int(index)%len(candidates)]
}

func (s *Selector) selectLeastCost(candidates []ProviderModel) ProviderModel {
	best := candidates[0]
	bestRate, bestOrder := s.candidateRate(best)

	for _, c := range candidates[1:] {
		rate, order := s.candidateRate(c)
		if rate < bestRate || (rate == bestRate && order < bestOrder) {
			best, bestRate, bestOrder = c, rate, order
		}
	}
	return best
}

// candidateRate returns the combined per-1K rate for the candidate's
// model and the provider's registration index. Unknown models rank
// last so misconfigured candidates are avoided.
func (s *Selector) candidateRate(c ProviderModel) (float64, int) {
	order := s.registry.RegistrationIndex(c.Provider)
	config, ok := s.registry.GetConfig(c.Provider)
	if !ok {
		return maxRate, order
	}
	spec, ok := config.Models[c.Model]
	if !ok {
		return maxRate, order
	}
	if spec.Local {
		return 0, order
	}
	return spec.InputCostPer1K + spec.OutputCostPer1K, order
}

const maxRate = 1 << 30

func (s *Selector) selectFastestResponse(candidates []ProviderModel) ProviderModel {
	best := candidates[0]
	bestLatency := s.tracker.avgLatencyMS(best.Provider)
	bestOrder := s.registry.RegistrationIndex(best.Provider)

	for _, c := range candidates[1:] {
		latency := s.tracker.avgLatencyMS(c.Provider)
		order := s.registry.RegistrationIndex(c.Provider)
		if latency < bestLatency || (latency == bestLatency && order < bestOrder) {
			best, bestLatency, bestOrder = c, latency, order
		}
	}
	return best
}

// latencyTracker keeps per-provider rolling averages of observed
// request latency and error counts. Shared between the engine (which
// records) and the fastest_response strategy (which reads).
type latencyTracker struct {
	stats map[string]*providerStats
	mu    sync.RWMutex
}

type providerStats struct {
	requestCount int64
	errorCount   int64
	avgLatencyMS float64
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{stats: make(map[string]*providerStats)}
}

func (t *latencyTracker) recordSuccess(provider string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats[provider]
	if s == nil {
		s = &providerStats{}
		t.stats[provider] = s
	}
	s.requestCount++

	// Incremental average, avoids storing every sample.
	total := float64(s.requestCount-1)*s.avgLatencyMS + float64(latency.Milliseconds())
	s.avgLatencyMS = total / float64(s.requestCount)
}

func (t *latencyTracker) recordError(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats[provider]
	if s == nil {
		s = &providerStats{}
		t.stats[provider] = s
	}
	s.errorCount++
}

// avgLatencyMS returns the rolling average latency, or 0 for providers
// that have not been observed yet.
func (t *latencyTracker) avgLatencyMS(provider string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if s, ok := t.stats[provider]; ok {
		return s.avgLatencyMS
	}
	return 0
}
