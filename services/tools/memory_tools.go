// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/DataNexus/services/vectorstore"
)

// Memory tool messages.
const (
	MemoryUserUnknown = "No memories could be retrieved as the user is not identified."
	NoMemoriesFound   = "No relevant long-term memories were found for this user."
	MemoryPreamble    = "Here are some potentially relevant facts from past conversations:"
	SaveMissingInput  = "Failed to save memory: User ID or fact was not provided."
)

// LoadMemory returns the user's memories most relevant to query. The
// search is filtered by user_id so no other user's facts are returned.
func (t *Toolbox) LoadMemory(ctx context.Context, userID, query string) string {
	slog.InfoContext(ctx, "Tool invoked", "tool", "load_memory", "user_id", userID, "input", clip(query, 100))
	if userID == "" {
		slog.WarnContext(ctx, "No user_id provided; cannot retrieve memories")
		return MemoryUserUnknown
	}

	hits, err := t.store.SimilaritySearch(ctx, vectorstore.CollectionMemory, query, t.retrieval.MemoryTopK,
		&vectorstore.Filter{UserID: userID})
	if err != nil {
		slog.ErrorContext(ctx, "Memory retrieval failed", "user_id", userID, "error", err)
		return fmt.Sprintf("Error: Failed to load long-term memory. Details: %v", err)
	}
	if len(hits) == 0 {
		slog.InfoContext(ctx, "No long-term memories found", "user_id", userID)
		return NoMemoriesFound
	}

	var b strings.Builder
	b.WriteString(MemoryPreamble)
	for _, h := range hits {
		b.WriteString("\n- ")
		b.WriteString(h.Text)
	}
	slog.InfoContext(ctx, "Loaded memories", "user_id", userID, "count", len(hits))
	return b.String()
}

// SaveMemory stores one curated fact for userID.
func (t *Toolbox) SaveMemory(ctx context.Context, userID, fact string) string {
	slog.InfoContext(ctx, "Tool invoked", "tool", "save_memory", "user_id", userID, "input", clip(fact, 100))
	fact = strings.TrimSpace(fact)
	if userID == "" || fact == "" {
		slog.WarnContext(ctx, "User ID or fact is missing; cannot save memory")
		return SaveMissingInput
	}

	_, err := t.store.AddDocuments(ctx, vectorstore.CollectionMemory, []string{fact},
		[]map[string]any{{vectorstore.MetaUserID: userID}})
	if err != nil {
		slog.ErrorContext(ctx, "Saving memory failed", "user_id", userID, "error", err)
		return fmt.Sprintf("Error: Failed to save memory. Details: %v", err)
	}
	if t.observer.MemorySaved != nil {
		t.observer.MemorySaved()
	}
	slog.InfoContext(ctx, "Saved memory", "user_id", userID)
	return fmt.Sprintf("Successfully saved memory: '%s'", fact)
}

// ForgetUser deletes every memory of userID and returns how many were
// removed.
func (t *Toolbox) ForgetUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}
	n, err := t.store.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("forget user %s: %w", userID, err)
	}
	slog.InfoContext(ctx, "Deleted user memories", "user_id", userID, "count", n)
	return n, nil
}
