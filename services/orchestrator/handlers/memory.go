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
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/DataNexus/pkg/extensions"
	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/AleutianAI/DataNexus/services/orchestrator/middleware"
	"github.com/gin-gonic/gin"
)

// MemoryForgetter removes long-term memories. Implemented by *tools.Toolbox.
type MemoryForgetter interface {
	ForgetUser(ctx context.Context, userID string) (int, error)
}

// HandleForgetMemory serves DELETE /v1/memory/:userId.
//
// # Description
//
// Deletes every memory fact stored for the user. An authenticated caller
// may only delete their own memories; anonymous callers (no auth provider
// configured) may delete any user's.
func HandleForgetMemory(store MemoryForgetter, audit extensions.AuditLogger) gin.HandlerFunc {
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := strings.TrimSpace(c.Param("userId"))
		if userID == "" {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "user id is required"})
			return
		}
		if info := middleware.GetAuthInfo(c); info != nil && !info.Anonymous && info.UserID != userID {
			slog.WarnContext(ctx, "Memory deletion for another user refused",
				"caller", info.UserID, "target", userID)
			_ = audit.Log(ctx, extensions.AuditEvent{
				EventType: extensions.EventMemoryDeleted,
				UserID:    info.UserID,
				Outcome:   "blocked",
				Metadata:  map[string]any{"target_user": userID},
			})
			c.JSON(http.StatusForbidden, datatypes.ErrorResponse{Error: "cannot delete another user's memory"})
			return
		}

		n, err := store.ForgetUser(ctx, userID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to delete memories", "user_id", userID, "error", err)
			_ = audit.Log(ctx, extensions.AuditEvent{
				EventType: extensions.EventMemoryDeleted,
				UserID:    userID,
				Outcome:   "failure",
			})
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to delete memories"})
			return
		}
		_ = audit.Log(ctx, extensions.AuditEvent{
			EventType: extensions.EventMemoryDeleted,
			UserID:    userID,
			Outcome:   "success",
			Metadata:  map[string]any{"facts": n},
		})
		c.JSON(http.StatusOK, datatypes.DeleteResponse{Deleted: n})
	}
}
