// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemorySaver keeps checkpoints in process memory.
type MemorySaver struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint
}

func NewMemorySaver() *MemorySaver {
	return &MemorySaver{threads: make(map[string][]Checkpoint)}
}

func (m *MemorySaver) Setup(context.Context) error { return nil }

func (m *MemorySaver) Put(_ context.Context, cp *Checkpoint) error {
	if err := prepare(cp); err != nil {
		return err
	}
	stored := *cp
	stored.State = append([]byte(nil), cp.State...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[cp.ThreadID] = append(m.threads[cp.ThreadID], stored)
	return nil
}

func (m *MemorySaver) Latest(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cps := m.threads[threadID]
	if len(cps) == 0 {
		return nil, ErrNotFound
	}
	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.Step >= latest.Step {
			latest = cp
		}
	}
	return &latest, nil
}

func (m *MemorySaver) List(_ context.Context, threadID string, limit int) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cps := m.threads[threadID]
	if len(cps) == 0 {
		return nil, ErrNotFound
	}
	limit = listLimit(limit)
	out := make([]Checkpoint, 0, min(limit, len(cps)))
	for i := len(cps) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cps[i])
	}
	return out, nil
}

func (m *MemorySaver) DeleteThread(_ context.Context, threadID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.threads[threadID])
	delete(m.threads, threadID)
	return n, nil
}

func (m *MemorySaver) PruneBefore(_ context.Context, cutoff time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = pruneLimit(limit)
	n := 0
	for id, cps := range m.threads {
		if n >= limit {
			break
		}
		if newest(cps).Before(cutoff) {
			delete(m.threads, id)
			n++
		}
	}
	return n, nil
}

func newest(cps []Checkpoint) time.Time {
	var t time.Time
	for _, cp := range cps {
		if cp.CreatedAt.After(t) {
			t = cp.CreatedAt
		}
	}
	return t
}

func (m *MemorySaver) Close() error { return nil }

var _ Saver = (*MemorySaver)(nil)
