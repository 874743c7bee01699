// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types emitted by the API.
const (
	EventChatRequest   = "chat.request"
	EventChatBlocked   = "chat.blocked"
	EventSQLExecuted   = "sql.executed"
	EventSQLRejected   = "sql.rejected"
	EventMemoryDeleted = "memory.deleted"
	EventThreadDeleted = "thread.deleted"
	EventThreadDenied  = "thread.denied"
)

// AuditEvent is one security relevant action.
type AuditEvent struct {
	// EventType is "category.action", e.g. "sql.executed".
	EventType string

	// Timestamp defaults to time.Now().UTC() when zero.
	Timestamp time.Time

	UserID   string
	ThreadID string

	// Outcome is one of "success", "failure", "blocked".
	Outcome string

	Metadata map[string]any
}

// AuditLogger records audit events. Log must not block the request path
// for long; implementations that ship events remotely should buffer.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }

// SlogAuditLogger writes events as structured log records.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger wraps logger. A nil logger uses slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger.With("component", "audit")}
}

func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		"event_type", event.EventType,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
		"user_id", event.UserID,
		"thread_id", event.ThreadID,
		"outcome", event.Outcome,
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", event.Metadata)
	}
	l.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
