// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package ttl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/DataNexus/services/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePruner deletes from a queue of idle thread counts.
type fakePruner struct {
	mu      sync.Mutex
	idle    int
	err     error
	calls   int
	cutoffs []time.Time
}

func (f *fakePruner) PruneBefore(_ context.Context, cutoff time.Time, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil {
		return 0, f.err
	}
	n := min(limit, f.idle)
	f.idle -= n
	return n, nil
}

func (f *fakePruner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewScheduler_Validates(t *testing.T) {
	_, err := NewScheduler(&fakePruner{}, SchedulerConfig{})
	assert.Error(t, err)

	s, err := NewScheduler(&fakePruner{}, SchedulerConfig{Retention: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, s.config.Interval)
	assert.Equal(t, 500, s.config.BatchSize)
}

func TestRunNow_DrainsInBatches(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	p := &fakePruner{idle: 25}
	s, err := NewScheduler(p, SchedulerConfig{Retention: 7 * 24 * time.Hour, BatchSize: 10})
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	res, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, res.ThreadsDeleted)
	assert.Equal(t, 3, p.calls, "10 + 10 + 5")
	assert.Equal(t, now.Add(-7*24*time.Hour), res.Cutoff)
	for _, c := range p.cutoffs {
		assert.Equal(t, res.Cutoff, c)
	}
}

func TestRunNow_Error(t *testing.T) {
	p := &fakePruner{err: errors.New("database is down")}
	s, err := NewScheduler(p, SchedulerConfig{Retention: time.Hour})
	require.NoError(t, err)

	_, err = s.RunNow(context.Background())
	assert.ErrorContains(t, err, "database is down")
}

func TestScheduler_StartStop(t *testing.T) {
	p := &fakePruner{idle: 3}
	s, err := NewScheduler(p, SchedulerConfig{Retention: time.Hour, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	cycles := make(chan CleanupResult, 100)
	s.OnCycle(func(r CleanupResult, err error) {
		assert.NoError(t, err)
		cycles <- r
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start")

	first := <-cycles
	assert.Equal(t, 3, first.ThreadsDeleted, "first cycle runs immediately")
	<-cycles
	s.Stop()
	s.Stop()
	assert.GreaterOrEqual(t, p.callCount(), 2)
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	s, err := NewScheduler(&fakePruner{}, SchedulerConfig{Retention: time.Hour, Interval: time.Hour})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	s.Stop()
}

func TestScheduler_WithMemorySaver(t *testing.T) {
	ctx := context.Background()
	saver := checkpoint.NewMemorySaver()
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, saver.Put(ctx, &checkpoint.Checkpoint{ThreadID: "stale", Step: 1, Node: "router", CreatedAt: old}))
	require.NoError(t, saver.Put(ctx, &checkpoint.Checkpoint{ThreadID: "fresh", Step: 1, Node: "router"}))

	s, err := NewScheduler(saver, SchedulerConfig{Retention: 24 * time.Hour})
	require.NoError(t, err)
	res, err := s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ThreadsDeleted)

	_, err = saver.Latest(ctx, "stale")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	_, err = saver.Latest(ctx, "fresh")
	assert.NoError(t, err)
}
