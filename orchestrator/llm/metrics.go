// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the routing engine.
type Metrics struct {
	completionsTotal   *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	tokensTotal        *prometheus.CounterVec
	costTotal          *prometheus.CounterVec
	fallbacksTotal     prometheus.Counter
	cacheHitsTotal     prometheus.Counter
}

// NewMetrics creates and registers the engine's collectors on the
// given registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		completionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_completions_total",
			Help: "Completion attempts by provider, model and outcome.",
		}, []string{"provider", "model", "status"}),
		completionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "Wall-clock duration of completion attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Tokens consumed by provider and direction.",
		}, []string{"provider", "direction"}),
		costTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_cost_usd_total",
			Help: "Accumulated completion cost in USD.",
		}, []string{"provider", "model"}),
		fallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llm_fallbacks_total",
			Help: "Completions that fell back to a secondary provider.",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llm_cache_hits_total",
			Help: "Completions served from the response cache.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.completionsTotal,
			m.completionDuration,
			m.tokensTotal,
			m.costTotal,
			m.fallbacksTotal,
			m.cacheHitsTotal,
		)
	}
	return m
}

func (m *Metrics) observeAttempt(provider, model string, success bool, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.completionsTotal.WithLabelValues(provider, model, status).Inc()
	m.completionDuration.WithLabelValues(provider).Observe(seconds)
}

func (m *Metrics) observeUsage(provider, model string, usage UsageStats, cost float64) {
	if m == nil {
		return
	}
	m.tokensTotal.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
	m.tokensTotal.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))
	m.costTotal.WithLabelValues(provider, model).Add(cost)
}

func (m *Metrics) observeFallback() {
	if m == nil {
		return
	}
	m.fallbacksTotal.Inc()
}

func (m *Metrics) observeCacheHit() {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Inc()
}
