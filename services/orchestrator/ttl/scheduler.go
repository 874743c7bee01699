// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package ttl prunes conversation threads that have been idle for longer
// than the configured retention.
package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Interfaces
// =============================================================================

// Pruner deletes idle threads. Implemented by every checkpoint.Saver.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// =============================================================================
// TTL Scheduler Implementation
// =============================================================================

// SchedulerConfig holds configuration for the retention scheduler.
//
// # Fields
//
//   - Retention: Threads idle for longer are deleted. Must be positive.
//   - Interval: How often to run cleanup cycles. Default: 1 hour.
//   - BatchSize: Maximum threads deleted per call to the Pruner. A cycle
//     keeps calling until a call deletes fewer. Default: 500.
type SchedulerConfig struct {
	Retention time.Duration
	Interval  time.Duration
	BatchSize int
}

// DefaultSchedulerConfig returns the defaults for retention.
func DefaultSchedulerConfig(retention time.Duration) SchedulerConfig {
	return SchedulerConfig{
		Retention: retention,
		Interval:  time.Hour,
		BatchSize: 500,
	}
}

// maxBatchesPerCycle stops one cycle from monopolising the store.
const maxBatchesPerCycle = 100

// CleanupResult summarises one cycle.
type CleanupResult struct {
	StartTime      time.Time
	EndTime        time.Time
	Cutoff         time.Time
	ThreadsDeleted int
}

// Duration returns how long the cycle took.
func (r CleanupResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Scheduler runs retention cycles in the background.
//
// # Description
//
// Uses the ticker + done channel pattern. The first cycle runs as soon as
// the scheduler starts.
//
// # Thread Safety
//
// All public methods are thread-safe. Stop waits for the running cycle.
type Scheduler struct {
	pruner Pruner
	config SchedulerConfig
	now    func() time.Time

	// onCycle, when set, observes every finished cycle.
	onCycle func(CleanupResult, error)

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a retention scheduler.
//
// # Inputs
//
//   - pruner: The checkpoint store.
//   - config: Retention must be positive; zero Interval and BatchSize
//     take the defaults.
//
// # Outputs
//
//   - *Scheduler: Ready to Start.
//   - error: Non-positive retention.
func NewScheduler(pruner Pruner, config SchedulerConfig) (*Scheduler, error) {
	if config.Retention <= 0 {
		return nil, fmt.Errorf("ttl: retention must be positive, got %s", config.Retention)
	}
	def := DefaultSchedulerConfig(config.Retention)
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &Scheduler{pruner: pruner, config: config, now: time.Now}, nil
}

// OnCycle registers a callback for finished cycles. Call before Start.
func (s *Scheduler) OnCycle(fn func(CleanupResult, error)) {
	s.onCycle = fn
}

// Start begins background cleanup until Stop is called or ctx is done.
//
// # Outputs
//
//   - error: Non-nil if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})

	slog.Info("Checkpoint retention scheduler starting",
		"retention", s.config.Retention.String(),
		"interval", s.config.Interval.String(),
		"batch_size", s.config.BatchSize,
	)
	s.wg.Add(1)
	go s.runLoop(ctx, s.done)
	return nil
}

// Stop signals the scheduler and waits for the current cycle to finish.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		slog.Info("Checkpoint retention scheduler stopping")
		close(s.done)
		s.running = false
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// RunNow performs one cycle immediately.
func (s *Scheduler) RunNow(ctx context.Context) (CleanupResult, error) {
	return s.runCleanupCycle(ctx)
}

// =============================================================================
// Internal Methods
// =============================================================================

func (s *Scheduler) runLoop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeCleanup(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Checkpoint retention scheduler stopped (context cancelled)")
			return
		case <-done:
			slog.Info("Checkpoint retention scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeCleanup(ctx)
		}
	}
}

// executeCleanup runs one cycle and logs the outcome. Errors never stop
// the scheduler.
func (s *Scheduler) executeCleanup(ctx context.Context) {
	result, err := s.runCleanupCycle(ctx)
	if s.onCycle != nil {
		s.onCycle(result, err)
	}
	if err != nil {
		slog.Error("Checkpoint retention cycle failed",
			"threads_deleted", result.ThreadsDeleted, "error", err)
		return
	}
	if result.ThreadsDeleted > 0 {
		slog.Info("Checkpoint retention cycle completed",
			"threads_deleted", result.ThreadsDeleted,
			"cutoff", result.Cutoff,
			"duration_ms", result.Duration().Milliseconds(),
		)
	} else {
		slog.Debug("Checkpoint retention cycle completed (no idle threads)")
	}
}

func (s *Scheduler) runCleanupCycle(ctx context.Context) (CleanupResult, error) {
	result := CleanupResult{StartTime: s.now()}
	result.Cutoff = result.StartTime.Add(-s.config.Retention)

	for range maxBatchesPerCycle {
		n, err := s.pruner.PruneBefore(ctx, result.Cutoff, s.config.BatchSize)
		result.ThreadsDeleted += n
		if err != nil {
			result.EndTime = s.now()
			return result, fmt.Errorf("prune checkpoints: %w", err)
		}
		if n < s.config.BatchSize {
			break
		}
	}
	result.EndTime = s.now()
	return result, nil
}
