// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"fmt"
	"time"
)

// Budget alert thresholds as fractions of the configured limit.
var alertThresholds = []float64{0.75, 0.90, 1.00}

// BudgetAlert reports one crossed spend threshold.
type BudgetAlert struct {
	// Period is "daily" or "monthly".
	Period string `json:"period"`

	// Threshold is the crossed fraction (0.75, 0.90 or 1.00).
	Threshold float64 `json:"threshold"`

	// LimitUSD is the configured budget for the period.
	LimitUSD float64 `json:"limit_usd"`

	// SpentUSD is the aggregated spend inside the period.
	SpentUSD float64 `json:"spent_usd"`
}

func (a BudgetAlert) String() string {
	return fmt.Sprintf("%s budget at %.0f%%: $%.4f of $%.2f spent",
		a.Period, a.Threshold*100, a.SpentUSD, a.LimitUSD)
}

// BudgetEvaluator checks aggregated spend against daily and monthly
// limits. It is invoked by an external scheduler; the sink itself only
// exposes the aggregation primitive.
type BudgetEvaluator struct {
	sink            Sink
	dailyLimitUSD   float64
	monthlyLimitUSD float64
}

// NewBudgetEvaluator creates an evaluator. A zero limit disables the
// corresponding period.
func NewBudgetEvaluator(sink Sink, dailyLimitUSD, monthlyLimitUSD float64) *BudgetEvaluator {
	return &BudgetEvaluator{
		sink:            sink,
		dailyLimitUSD:   dailyLimitUSD,
		monthlyLimitUSD: monthlyLimitUSD,
	}
}

// Check returns the highest crossed threshold per period at the given
// instant. An empty slice means all spend is below 75% of every limit.
func (e *BudgetEvaluator) Check(ctx context.Context, now time.Time) ([]BudgetAlert, error) {
	var alerts []BudgetAlert

	if e.dailyLimitUSD > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		alert, err := e.checkPeriod(ctx, "daily", e.dailyLimitUSD, dayStart, now)
		if err != nil {
			return nil, err
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}

	if e.monthlyLimitUSD > 0 {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		alert, err := e.checkPeriod(ctx, "monthly", e.monthlyLimitUSD, monthStart, now)
		if err != nil {
			return nil, err
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}

	return alerts, nil
}

func (e *BudgetEvaluator) checkPeriod(ctx context.Context, period string, limit float64, since, until time.Time) (*BudgetAlert, error) {
	agg, err := e.sink.Aggregate(ctx, Filter{Since: since, Until: until})
	if err != nil {
		return nil, fmt.Errorf("budget check for %s period failed: %w", period, err)
	}

	crossed := -1.0
	for _, threshold := range alertThresholds {
		if agg.TotalCost >= limit*threshold {
			crossed = threshold
		}
	}
	if crossed < 0 {
		return nil, nil
	}

	return &BudgetAlert{
		Period:    period,
		Threshold: crossed,
		LimitUSD:  limit,
		SpentUSD:  agg.TotalCost,
	}, nil
}
