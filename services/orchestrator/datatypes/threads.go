// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"github.com/AleutianAI/DataNexus/services/agent"
	"github.com/AleutianAI/DataNexus/services/checkpoint"
	"github.com/go-openapi/strfmt"
)

// CheckpointInfo summarises one checkpoint without its state.
type CheckpointInfo struct {
	CheckpointID string          `json:"checkpoint_id"`
	ParentID     string          `json:"parent_id,omitempty"`
	Step         int             `json:"step"`
	Node         string          `json:"node"`
	CreatedAt    strfmt.DateTime `json:"created_at"`
}

// NewCheckpointInfo copies the metadata of cp.
func NewCheckpointInfo(cp checkpoint.Checkpoint) CheckpointInfo {
	return CheckpointInfo{
		CheckpointID: cp.CheckpointID,
		ParentID:     cp.ParentID,
		Step:         cp.Step,
		Node:         cp.Node,
		CreatedAt:    strfmt.DateTime(cp.CreatedAt),
	}
}

// ThreadStateResponse is the body of GET /v1/threads/:threadId/state.
type ThreadStateResponse struct {
	ThreadID   string         `json:"thread_id"`
	Checkpoint CheckpointInfo `json:"checkpoint"`
	State      *agent.State   `json:"state"`
}

// ThreadHistoryResponse is the body of GET /v1/threads/:threadId/history.
type ThreadHistoryResponse struct {
	ThreadID    string           `json:"thread_id"`
	Checkpoints []CheckpointInfo `json:"checkpoints"`
}

// DeleteResponse reports how many records a DELETE removed.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	CheckedAt  strfmt.DateTime   `json:"checked_at"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
