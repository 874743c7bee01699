// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/DataNexus/pkg/extensions"
	"github.com/AleutianAI/DataNexus/services/agent"
	"github.com/AleutianAI/DataNexus/services/checkpoint"
	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/AleutianAI/DataNexus/services/orchestrator/middleware"
	"github.com/gin-gonic/gin"
)

// ThreadStater loads the latest state of a thread. Implemented by
// *agent.Agent.
type ThreadStater interface {
	ThreadState(ctx context.Context, threadID string) (*checkpoint.Checkpoint, *agent.State, error)
}

// ThreadStore reads and deletes conversation checkpoints. Implemented by
// *agent.Agent.
type ThreadStore interface {
	ThreadStater
	History(ctx context.Context, threadID string, limit int) ([]checkpoint.Checkpoint, error)
	DeleteThread(ctx context.Context, threadID string) (int, error)
}

// threadError maps store errors to responses.
func threadError(c *gin.Context, threadID string, err error) {
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "thread not found"})
	case errors.Is(err, agent.ErrNoCheckpointer):
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: err.Error()})
	default:
		slog.ErrorContext(c.Request.Context(), "Thread lookup failed", "thread_id", threadID, "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to read thread"})
	}
}

// foreignThread reports whether the latest state of threadID belongs to
// someone other than the authenticated caller. Missing threads and
// anonymous callers are never foreign.
func foreignThread(ctx context.Context, c *gin.Context, store ThreadStater, threadID string) (bool, error) {
	info := middleware.GetAuthInfo(c)
	if store == nil || info == nil || info.Anonymous {
		return false, nil
	}
	_, st, err := store.ThreadState(ctx, threadID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound), errors.Is(err, agent.ErrNoCheckpointer):
		return false, nil
	case err != nil:
		return false, err
	}
	return st.UserID != "" && st.UserID != info.UserID, nil
}

// ownedState loads the latest state of the thread in the path and checks
// that an authenticated caller owns it. It writes the error response and
// returns ok=false when the request must stop.
func ownedState(c *gin.Context, store ThreadStore) (*checkpoint.Checkpoint, *agent.State, bool) {
	threadID := c.Param("threadId")
	cp, st, err := store.ThreadState(c.Request.Context(), threadID)
	if err != nil {
		threadError(c, threadID, err)
		return nil, nil, false
	}
	if info := middleware.GetAuthInfo(c); info != nil && !info.Anonymous &&
		st.UserID != "" && st.UserID != info.UserID {
		// Indistinguishable from a missing thread.
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "thread not found"})
		return nil, nil, false
	}
	return cp, st, true
}

// HandleThreadState serves GET /v1/threads/:threadId/state.
func HandleThreadState(store ThreadStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		cp, st, ok := ownedState(c, store)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, datatypes.ThreadStateResponse{
			ThreadID:   cp.ThreadID,
			Checkpoint: datatypes.NewCheckpointInfo(*cp),
			State:      st,
		})
	}
}

// HandleThreadHistory serves GET /v1/threads/:threadId/history?limit=N,
// newest checkpoint first.
func HandleThreadHistory(store ThreadStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		if _, _, ok := ownedState(c, store); !ok {
			return
		}
		threadID := c.Param("threadId")
		cps, err := store.History(c.Request.Context(), threadID, limit)
		if err != nil {
			threadError(c, threadID, err)
			return
		}
		out := datatypes.ThreadHistoryResponse{ThreadID: threadID, Checkpoints: make([]datatypes.CheckpointInfo, 0, len(cps))}
		for _, cp := range cps {
			out.Checkpoints = append(out.Checkpoints, datatypes.NewCheckpointInfo(cp))
		}
		c.JSON(http.StatusOK, out)
	}
}

// HandleDeleteThread serves DELETE /v1/threads/:threadId.
func HandleDeleteThread(store ThreadStore, audit extensions.AuditLogger) gin.HandlerFunc {
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return func(c *gin.Context) {
		_, st, ok := ownedState(c, store)
		if !ok {
			return
		}
		threadID := c.Param("threadId")
		n, err := store.DeleteThread(c.Request.Context(), threadID)
		if err != nil {
			threadError(c, threadID, err)
			return
		}
		slog.InfoContext(c.Request.Context(), "Deleted thread", "thread_id", threadID, "checkpoints", n)
		_ = audit.Log(c.Request.Context(), extensions.AuditEvent{
			EventType: extensions.EventThreadDeleted,
			UserID:    st.UserID,
			ThreadID:  threadID,
			Outcome:   "success",
			Metadata:  map[string]any{"checkpoints": n},
		})
		c.JSON(http.StatusOK, datatypes.DeleteResponse{Deleted: n})
	}
}
