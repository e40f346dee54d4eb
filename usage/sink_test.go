// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metric(provider string, cost float64, success bool, at time.Time) Metric {
	return Metric{
		Provider:         provider,
		Model:            "m1",
		RequestType:      "completion",
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
		Cost:             cost,
		Duration:         200 * time.Millisecond,
		Success:          success,
		Timestamp:        at,
	}
}

func TestMemorySinkRecordFillsIdentity(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, Metric{Provider: "alpha"}))

	recorded := sink.List(Filter{})
	require.Len(t, recorded, 1)
	assert.NotEmpty(t, recorded[0].ID)
	assert.False(t, recorded[0].Timestamp.IsZero())
}

func TestMemorySinkAggregate(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, sink.Record(ctx, metric("alpha", 0.01, true, now)))
	require.NoError(t, sink.Record(ctx, metric("alpha", 0.02, true, now)))
	require.NoError(t, sink.Record(ctx, metric("beta", 0.10, false, now)))

	t.Run("unfiltered", func(t *testing.T) {
		agg, err := sink.Aggregate(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), agg.TotalRequests)
		assert.InDelta(t, 0.13, agg.TotalCost, 1e-9)
		assert.Equal(t, int64(450), agg.TotalTokens)
		assert.InDelta(t, 2.0/3.0, agg.SuccessRate, 1e-9)
		assert.InDelta(t, 200, agg.AvgDurationMS, 1e-9)
	})

	t.Run("provider filter", func(t *testing.T) {
		agg, err := sink.Aggregate(ctx, Filter{Provider: "alpha"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), agg.TotalRequests)
		assert.InDelta(t, 0.03, agg.TotalCost, 1e-9)
		assert.Equal(t, 1.0, agg.SuccessRate)
	})

	t.Run("time window", func(t *testing.T) {
		old := metric("alpha", 1.0, true, now.Add(-48*time.Hour))
		require.NoError(t, sink.Record(ctx, old))

		agg, err := sink.Aggregate(ctx, Filter{Since: now.Add(-time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, int64(3), agg.TotalRequests)
	})

	t.Run("empty window", func(t *testing.T) {
		agg, err := sink.Aggregate(ctx, Filter{Provider: "never-used"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), agg.TotalRequests)
		assert.Equal(t, 0.0, agg.SuccessRate)
	})
}

func TestMemorySinkConcurrentWriters(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sink.Record(ctx, metric("alpha", 0.01, true, time.Now()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, sink.Len())
}
