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
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS agent_checkpoints (
	thread_id     TEXT    NOT NULL,
	checkpoint_id TEXT    NOT NULL,
	parent_id     TEXT    NOT NULL DEFAULT '',
	step          INTEGER NOT NULL,
	node          TEXT    NOT NULL,
	state         TEXT    NOT NULL,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (thread_id, checkpoint_id)
);
CREATE INDEX IF NOT EXISTS idx_agent_checkpoints_thread_step
	ON agent_checkpoints (thread_id, step DESC);
`

const sqliteSelectColumns = `thread_id, checkpoint_id, parent_id, step, node, state, created_at`

// SQLiteSaver stores checkpoints in a local SQLite file.
type SQLiteSaver struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path with WAL
// journaling and a busy timeout. Use ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLiteSaver, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite checkpoint path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; modernc serialises anyway and :memory: needs a single connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteSaver{db: db}, nil
}

func (s *SQLiteSaver) Setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

func (s *SQLiteSaver) Put(ctx context.Context, cp *Checkpoint) error {
	if err := prepare(cp); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_checkpoints (thread_id, checkpoint_id, parent_id, step, node, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.CheckpointID, cp.ParentID, cp.Step, cp.Node, string(cp.State), cp.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteSaver) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSelectColumns+` FROM agent_checkpoints
		 WHERE thread_id = ? ORDER BY step DESC, created_at DESC LIMIT 1`, threadID)
	cp, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	return cp, nil
}

func (s *SQLiteSaver) List(ctx context.Context, threadID string, limit int) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSelectColumns+` FROM agent_checkpoints
		 WHERE thread_id = ? ORDER BY step DESC, created_at DESC LIMIT ?`, threadID, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *SQLiteSaver) DeleteThread(ctx context.Context, threadID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return 0, fmt.Errorf("delete thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteSaver) PruneBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id FROM agent_checkpoints
		 GROUP BY thread_id HAVING MAX(created_at) < ? LIMIT ?`, cutoff.UnixNano(), pruneLimit(limit))
	if err != nil {
		return 0, fmt.Errorf("find idle threads: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("find idle threads: %w", err)
	}
	return deleteThreads(ctx, ids, s.DeleteThread)
}

func (s *SQLiteSaver) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (*Checkpoint, error) {
	var cp Checkpoint
	var state string
	var created int64
	if err := row.Scan(&cp.ThreadID, &cp.CheckpointID, &cp.ParentID, &cp.Step, &cp.Node, &state, &created); err != nil {
		return nil, err
	}
	cp.State = []byte(state)
	cp.CreatedAt = time.Unix(0, created).UTC()
	return &cp, nil
}

var _ Saver = (*SQLiteSaver)(nil)
