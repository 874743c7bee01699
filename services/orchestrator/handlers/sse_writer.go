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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP responses.
//
// # Description
//
// SSEWriter hides the wire format used by OpenAI-compatible streaming:
// every event is a single "data: <json>\n\n" line and the stream ends with
// "data: [DONE]\n\n". Every write is flushed immediately.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Assumptions
//
//   - Caller has called SetSSEHeaders before the first write
type SSEWriter interface {
	// WriteData encodes v as JSON and writes it as one event.
	//
	// # Outputs
	//
	//   - error: Non-nil if JSON marshaling or writing failed.
	WriteData(v any) error

	// WriteDone writes the "[DONE]" terminator.
	WriteDone() error

	// WriteKeepAlive writes an SSE comment that clients ignore but that
	// keeps proxies from closing an idle connection.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter wraps w.
//
// # Outputs
//
//   - SSEWriter: Ready to write.
//   - error: w does not implement http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.write("data: %s\n\n", data)
}

func (w *sseWriter) WriteDone() error {
	return w.write("data: [DONE]\n\n")
}

func (w *sseWriter) WriteKeepAlive() error {
	return w.write(": ping\n\n")
}

func (w *sseWriter) write(format string, args ...any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, format, args...); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders prepares w for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Chunk framing
// =============================================================================

// ChunkWriter frames chat.completion.chunk events for one model.
type ChunkWriter struct {
	SSE   SSEWriter
	Model string
}

// Status writes a progress chunk whose content is a StatusPayload.
func (w ChunkWriter) Status(status, message string) error {
	payload := datatypes.StatusPayload{Status: status, Message: message}
	finish := ""
	if status == datatypes.StatusError {
		finish = datatypes.FinishReasonStop
	}
	return w.SSE.WriteData(datatypes.NewChunk(w.Model, payload.String(), finish))
}

// Final writes the answer chunk with finish_reason "stop".
func (w ChunkWriter) Final(content string) error {
	return w.SSE.WriteData(datatypes.NewChunk(w.Model, content, datatypes.FinishReasonStop))
}

var _ SSEWriter = (*sseWriter)(nil)
