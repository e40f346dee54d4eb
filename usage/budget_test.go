// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSpend(t *testing.T, sink *MemorySink, at time.Time, costs ...float64) {
	t.Helper()
	for _, cost := range costs {
		require.NoError(t, sink.Record(context.Background(), metric("alpha", cost, true, at)))
	}
}

func TestBudgetEvaluatorCheck(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("below all thresholds", func(t *testing.T) {
		sink := NewMemorySink()
		seedSpend(t, sink, now, 5.0)

		eval := NewBudgetEvaluator(sink, 10.0, 100.0)
		alerts, err := eval.Check(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, alerts)
	})

	t.Run("reports highest crossed threshold only", func(t *testing.T) {
		sink := NewMemorySink()
		seedSpend(t, sink, now, 9.5)

		eval := NewBudgetEvaluator(sink, 10.0, 0)
		alerts, err := eval.Check(ctx, now)
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		assert.Equal(t, "daily", alerts[0].Period)
		assert.Equal(t, 0.90, alerts[0].Threshold)
		assert.InDelta(t, 9.5, alerts[0].SpentUSD, 1e-9)
	})

	t.Run("limit exceeded", func(t *testing.T) {
		sink := NewMemorySink()
		seedSpend(t, sink, now, 12.0)

		eval := NewBudgetEvaluator(sink, 10.0, 0)
		alerts, err := eval.Check(ctx, now)
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		assert.Equal(t, 1.00, alerts[0].Threshold)
	})

	t.Run("daily and monthly evaluated independently", func(t *testing.T) {
		sink := NewMemorySink()
		// Spend earlier in the month counts toward monthly but not today.
		seedSpend(t, sink, now.AddDate(0, 0, -10), 80.0)
		seedSpend(t, sink, now, 2.0)

		eval := NewBudgetEvaluator(sink, 10.0, 100.0)
		alerts, err := eval.Check(ctx, now)
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		assert.Equal(t, "monthly", alerts[0].Period)
		assert.Equal(t, 0.75, alerts[0].Threshold)
		assert.InDelta(t, 82.0, alerts[0].SpentUSD, 1e-9)
	})

	t.Run("zero limits disable checks", func(t *testing.T) {
		sink := NewMemorySink()
		seedSpend(t, sink, now, 1000.0)

		eval := NewBudgetEvaluator(sink, 0, 0)
		alerts, err := eval.Check(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, alerts)
	})
}
