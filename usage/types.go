// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

// Package usage is the append-only metrics sink for LLM completion
// attempts. Every dispatch attempt, successful or not, produces one
// Metric; records are never edited after the fact. Recording is
// best-effort: a sink failure is logged by the caller and must never
// fail the completion that produced the metric.
package usage

import "time"

// Metric is one append-only usage record.
type Metric struct {
	ID               string        `json:"id"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	RequestType      string        `json:"request_type"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	Cost             float64       `json:"cost"`
	Duration         time.Duration `json:"duration"`
	QualityScore     float64       `json:"quality_score,omitempty"`
	Success          bool          `json:"success"`
	ErrorType        string        `json:"error_type,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Filter narrows an aggregation query. A zero Since/Until means
// unbounded on that side; an empty Provider matches all providers.
type Filter struct {
	Provider string
	Since    time.Time
	Until    time.Time
}

// Matches reports whether the metric falls inside the filter.
func (f Filter) Matches(m Metric) bool {
	if f.Provider != "" && m.Provider != f.Provider {
		return false
	}
	if !f.Since.IsZero() && m.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && m.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Aggregate is the rollup produced by Sink.Aggregate.
type Aggregate struct {
	TotalRequests int64   `json:"total_requests"`
	TotalCost     float64 `json:"total_cost"`
	TotalTokens   int64   `json:"total_tokens"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}
