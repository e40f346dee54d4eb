// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"log"
	"time"

	"peopleflow/platform/shared/logger"
)

// Sweeper periodically scans for overdue steps. Non-required overdue
// steps are skipped so the workflow can advance; required overdue steps
// are only counted and logged, never auto-failed.
type Sweeper struct {
	engine   *Engine
	store    Store
	interval time.Duration
	logger   *log.Logger
}

// NewSweeper creates a sweeper over the engine and its store.
func NewSweeper(engine *Engine, store Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		engine:   engine,
		store:    store,
		interval: interval,
		logger:   logger.Prefixed("WORKFLOW_SWEEPER"),
	}
}

// Start launches the background sweep loop until the context is
// cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Printf("Starting overdue step sweep (every %v)", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Println("Stopping overdue step sweep")
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// SweepOnce performs one scan. Errors on individual steps are logged
// and never abort the scan.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()

	overdue, err := s.store.OverdueSteps(ctx, now)
	if err != nil {
		s.logger.Printf("Overdue scan failed: %v", err)
		return
	}

	skipped, required := 0, 0
	for _, step := range overdue {
		if step.Required {
			required++
			continue
		}
		if err := s.engine.SkipStep(ctx, step.InstanceID, step.ID); err != nil {
			s.logger.Printf("Failed to skip step %s of workflow %s: %v",
				step.ID, step.InstanceID, err)
			continue
		}
		skipped++
	}

	if skipped > 0 || required > 0 {
		s.logger.Printf("Sweep: skipped %d optional steps, %d required steps overdue",
			skipped, required)
	}
}
