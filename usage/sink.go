// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink is the durable append-only log of completion attempts.
// Record never rejects on business grounds; only storage failures
// produce an error, and callers treat those as best-effort telemetry.
type Sink interface {
	// Record appends one metric.
	Record(ctx context.Context, m Metric) error

	// Aggregate computes the rollup for metrics matching the filter.
	Aggregate(ctx context.Context, f Filter) (Aggregate, error)
}

// MemorySink is an in-memory Sink, safe for concurrent writers. Used
// in tests and single-process deployments without a database.
type MemorySink struct {
	metrics []Metric
	mu      sync.RWMutex
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends one metric. IDs and timestamps are filled in when the
// caller left them empty.
func (s *MemorySink) Record(_ context.Context, m Metric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	return nil
}

// Aggregate computes the rollup over matching metrics.
func (s *MemorySink) Aggregate(_ context.Context, f Filter) (Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agg Aggregate
	var successes int64
	var totalDurationMS float64

	for _, m := range s.metrics {
		if !f.Matches(m) {
			continue
		}
		agg.TotalRequests++
		agg.TotalCost += m.Cost
		agg.TotalTokens += int64(m.TotalTokens)
		totalDurationMS += float64(m.Duration.Milliseconds())
		if m.Success {
			successes++
		}
	}

	if agg.TotalRequests > 0 {
		agg.SuccessRate = float64(successes) / float64(agg.TotalRequests)
		agg.AvgDurationMS = totalDurationMS / float64(agg.TotalRequests)
	}
	return agg, nil
}

// List returns a copy of all recorded metrics matching the filter, in
// insertion order.
func (s *MemorySink) List(f Filter) []Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Metric
	for _, m := range s.metrics {
		if f.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of recorded metrics.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics)
}

var _ Sink = (*MemorySink)(nil)
