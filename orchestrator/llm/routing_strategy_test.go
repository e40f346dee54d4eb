// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"testing"
	"time"
)

func strategyRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()

	expensive := testConfig("expensive", true)
	expensive.Models["default-model"] = ModelSpec{InputCostPer1K: 0.05, OutputCostPer1K: 0.10}

	cheap := testConfig("cheap", true)
	cheap.Models["default-model"] = ModelSpec{InputCostPer1K: 0.001, OutputCostPer1K: 0.002}

	local := testConfig("local", true)
	local.Models["default-model"] = ModelSpec{Local: true}

	for _, config := range []ProviderConfig{expensive, cheap, local} {
		if err := r.RegisterProvider(&mockProvider{name: config.Name}, config); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestSelectorRoundRobin(t *testing.T) {
	r := strategyRegistry(t)
	s := NewSelector(RoutingStrategyRoundRobin, r, newLatencyTracker())

	candidates := []ProviderModel{
		{Provider: "expensive", Model: "default-model"},
		{Provider: "cheap", Model: "default-model"},
	}

	got := []string{
		s.Select("agent-a", candidates).Provider,
		s.Select("agent-a", candidates).Provider,
		s.Select("agent-a", candidates).Provider,
	}
	want := []string{"expensive", "cheap", "expensive"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got sequence %v, want %v", got, want)
		}
	}

	// Each agent keeps its own counter.
	if s.Select("agent-b", candidates).Provider != "expensive" {
		t.Error("fresh agent should start at the first candidate")
	}
}

func TestSelectorLeastCost(t *testing.T) {
	r := strategyRegistry(t)
	s := NewSelector(RoutingStrategyLeastCost, r, newLatencyTracker())

	t.Run("picks cheapest", func(t *testing.T) {
		candidates := []ProviderModel{
			{Provider: "expensive", Model: "default-model"},
			{Provider: "cheap", Model: "default-model"},
		}
		if got := s.Select("a", candidates); got.Provider != "cheap" {
			t.Errorf("got %s, want cheap", got.Provider)
		}
	})

	t.Run("local models rank first", func(t *testing.T) {
		candidates := []ProviderModel{
			{Provider: "cheap", Model: "default-model"},
			{Provider: "local", Model: "default-model"},
		}
		if got := s.Select("a", candidates); got.Provider != "local" {
			t.Errorf("got %s, want local", got.Provider)
		}
	})

	t.Run("unknown model ranks last", func(t *testing.T) {
		candidates := []ProviderModel{
			{Provider: "expensive", Model: "imaginary"},
			{Provider: "expensive", Model: "default-model"},
		}
		if got := s.Select("a", candidates); got.Model != "default-model" {
			t.Errorf("got %s, want default-model", got.Model)
		}
	})
}

func TestSelectorFastestResponse(t *testing.T) {
	r := strategyRegistry(t)
	tracker := newLatencyTracker()
	s := NewSelector(RoutingStrategyFastestResponse, r, tracker)

	candidates := []ProviderModel{
		{Provider: "expensive", Model: "default-model"},
		{Provider: "cheap", Model: "default-model"},
	}

	// With no observations the tie breaks by registration order.
	if got := s.Select("a", candidates); got.Provider != "expensive" {
		t.Errorf("got %s, want expensive on registration-order tie", got.Provider)
	}

	tracker.recordSuccess("expensive", 900*time.Millisecond)
	tracker.recordSuccess("cheap", 100*time.Millisecond)

	if got := s.Select("a", candidates); got.Provider != "cheap" {
		t.Errorf("got %s, want cheap after latency observations", got.Provider)
	}
}

func TestNewSelectorInvalidStrategy(t *testing.T) {
	r := strategyRegistry(t)
	s := NewSelector("guesswork", r, newLatencyTracker())
	if s.Strategy() != RoutingStrategyRoundRobin {
		t.Errorf("invalid strategy should fall back to round robin, got %s", s.Strategy())
	}
}

func TestLatencyTrackerAverage(t *testing.T) {
	tracker := newLatencyTracker()

	tracker.recordSuccess("p", 100*time.Millisecond)
	tracker.recordSuccess("p", 300*time.Millisecond)

	if got := tracker.avgLatencyMS("p"); got != 200 {
		t.Errorf("got avg %f, want 200", got)
	}
	if got := tracker.avgLatencyMS("never-seen"); got != 0 {
		t.Errorf("unobserved providers should report 0, got %f", got)
	}
}
