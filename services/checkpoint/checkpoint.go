// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint persists agent graph state per conversation thread.
//
// A checkpoint is written after every node, so a thread's history is the
// ordered list of states the graph passed through.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/DataNexus/services/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a thread has no checkpoints.
var ErrNotFound = errors.New("checkpoint not found")

// DefaultListLimit bounds List when limit <= 0.
const DefaultListLimit = 100

// DefaultPruneLimit bounds PruneBefore when limit <= 0.
const DefaultPruneLimit = 500

// Checkpoint is the graph state after one node.
type Checkpoint struct {
	ThreadID     string          `json:"thread_id"`
	CheckpointID string          `json:"checkpoint_id"`
	ParentID     string          `json:"parent_id,omitempty"`
	Step         int             `json:"step"`
	Node         string          `json:"node"`
	State        json.RawMessage `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Saver stores checkpoints.
//
// # Description
//
// Steps increase monotonically within a thread across runs, so the
// checkpoint with the highest step is the latest one. Latest and List
// return ErrNotFound for unknown threads.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type Saver interface {
	// Setup creates storage. Safe to call repeatedly.
	Setup(ctx context.Context) error

	// Put stores cp. Empty CheckpointID and zero CreatedAt are filled in.
	Put(ctx context.Context, cp *Checkpoint) error

	// Latest returns the newest checkpoint of threadID.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// List returns up to limit checkpoints of threadID, newest first.
	List(ctx context.Context, threadID string, limit int) ([]Checkpoint, error)

	// DeleteThread removes every checkpoint of threadID and returns how many
	// were removed.
	DeleteThread(ctx context.Context, threadID string) (int, error)

	// PruneBefore deletes up to limit threads whose newest checkpoint was
	// created before cutoff and returns how many threads were removed.
	// limit <= 0 means DefaultPruneLimit.
	PruneBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)

	Close() error
}

// prepare validates cp and fills generated fields.
func prepare(cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("nil checkpoint")
	}
	if cp.ThreadID == "" {
		return fmt.Errorf("checkpoint thread id is required")
	}
	if cp.CheckpointID == "" {
		cp.CheckpointID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if len(cp.State) == 0 {
		cp.State = json.RawMessage("{}")
	}
	return nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// NewFromSettings builds the configured saver. pool is required for the
// postgres backend and ignored otherwise.
func NewFromSettings(cfg config.CheckpointConfig, pool *pgxpool.Pool) (Saver, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemorySaver(), nil
	case "sqlite":
		s, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "", "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres checkpoint backend requires a database pool")
		}
		return NewPostgresSaver(pool), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

func pruneLimit(limit int) int {
	if limit <= 0 {
		return DefaultPruneLimit
	}
	return limit
}

// deleteThreads removes each thread with del and counts the threads that
// had checkpoints.
func deleteThreads(ctx context.Context, ids []string, del func(context.Context, string) (int, error)) (int, error) {
	n := 0
	for _, id := range ids {
		removed, err := del(ctx, id)
		if err != nil {
			return n, fmt.Errorf("prune thread %s: %w", id, err)
		}
		if removed > 0 {
			n++
		}
	}
	return n, nil
}
