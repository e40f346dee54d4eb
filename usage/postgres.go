// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresSink persists metrics to the llm_usage_metrics table through
// database/sql using the lib/pq driver.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a sink backed by the given database handle.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Record appends one metric row. Rows are never updated or deleted.
func (s *PostgresSink) Record(ctx context.Context, m Metric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO llm_usage_metrics (
			id, provider, model, request_type,
			prompt_tokens, completion_tokens, total_tokens,
			cost_usd, duration_ms, quality_score,
			success, error_type, error_message, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.Provider,
		m.Model,
		m.RequestType,
		m.PromptTokens,
		m.CompletionTokens,
		m.TotalTokens,
		m.Cost,
		m.Duration.Milliseconds(),
		m.QualityScore,
		m.Success,
		nullString(m.ErrorType),
		nullString(m.ErrorMessage),
		m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage metric: %w", err)
	}
	return nil
}

// Aggregate computes the rollup for metrics matching the filter.
func (s *PostgresSink) Aggregate(ctx context.Context, f Filter) (Aggregate, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM llm_usage_metrics
		WHERE ($1 = '' OR provider = $1)
		  AND ($2::timestamptz IS NULL OR recorded_at >= $2)
		  AND ($3::timestamptz IS NULL OR recorded_at <= $3)
	`

	var agg Aggregate
	err := s.db.QueryRowContext(ctx, query,
		f.Provider, nullTime(f.Since), nullTime(f.Until),
	).Scan(
		&agg.TotalRequests,
		&agg.TotalCost,
		&agg.TotalTokens,
		&agg.SuccessRate,
		&agg.AvgDurationMS,
	)
	if err != nil {
		return Aggregate{}, fmt.Errorf("failed to aggregate usage metrics: %w", err)
	}
	return agg, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ Sink = (*PostgresSink)(nil)
