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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS agent_checkpoints (
	thread_id     TEXT        NOT NULL,
	checkpoint_id TEXT        NOT NULL,
	parent_id     TEXT        NOT NULL DEFAULT '',
	step          INTEGER     NOT NULL,
	node          TEXT        NOT NULL,
	state         JSONB       NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (thread_id, checkpoint_id)
);
CREATE INDEX IF NOT EXISTS agent_checkpoints_thread_step
	ON agent_checkpoints (thread_id, step DESC);
`

const pgSelectColumns = `thread_id, checkpoint_id, parent_id, step, node, state, created_at`

// PostgresSaver stores checkpoints in the agent_checkpoints table.
type PostgresSaver struct {
	pool *pgxpool.Pool
}

// NewPostgresSaver uses pool; the pool is owned by the caller.
func NewPostgresSaver(pool *pgxpool.Pool) *PostgresSaver {
	return &PostgresSaver{pool: pool}
}

func (s *PostgresSaver) Setup(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	slog.Info("Checkpoint table ready", "backend", "postgres")
	return nil
}

func (s *PostgresSaver) Put(ctx context.Context, cp *Checkpoint) error {
	if err := prepare(cp); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_checkpoints (thread_id, checkpoint_id, parent_id, step, node, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cp.ThreadID, cp.CheckpointID, cp.ParentID, cp.Step, cp.Node, []byte(cp.State), cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresSaver) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgSelectColumns+` FROM agent_checkpoints
		 WHERE thread_id = $1 ORDER BY step DESC, created_at DESC LIMIT 1`, threadID)
	cp, err := scanPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	return cp, nil
}

func (s *PostgresSaver) List(ctx context.Context, threadID string, limit int) ([]Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgSelectColumns+` FROM agent_checkpoints
		 WHERE thread_id = $1 ORDER BY step DESC, created_at DESC LIMIT $2`, threadID, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Checkpoint, error) {
		cp, err := scanPG(r)
		if err != nil {
			return Checkpoint{}, err
		}
		return *cp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *PostgresSaver) DeleteThread(ctx context.Context, threadID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agent_checkpoints WHERE thread_id = $1`, threadID)
	if err != nil {
		return 0, fmt.Errorf("delete thread: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresSaver) PruneBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT thread_id FROM agent_checkpoints
		 GROUP BY thread_id HAVING MAX(created_at) < $1 LIMIT $2`, cutoff, pruneLimit(limit))
	if err != nil {
		return 0, fmt.Errorf("find idle threads: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fmt.Errorf("find idle threads: %w", err)
	}
	return deleteThreads(ctx, ids, s.DeleteThread)
}

// Close is a no-op; the pool belongs to the database package.
func (s *PostgresSaver) Close() error { return nil }

func scanPG(row pgx.Row) (*Checkpoint, error) {
	var cp Checkpoint
	var state []byte
	if err := row.Scan(&cp.ThreadID, &cp.CheckpointID, &cp.ParentID, &cp.Step, &cp.Node, &state, &cp.CreatedAt); err != nil {
		return nil, err
	}
	cp.State = state
	cp.CreatedAt = cp.CreatedAt.UTC()
	return &cp, nil
}

var _ Saver = (*PostgresSaver)(nil)
