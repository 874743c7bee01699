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
	"strings"

	"github.com/AleutianAI/DataNexus/services/agent"
	"github.com/AleutianAI/DataNexus/services/agent/graph"
	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/AleutianAI/DataNexus/services/orchestrator/middleware"
	"github.com/AleutianAI/DataNexus/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocket message types sent by the server.
const (
	WSTypeSession  = "session"
	WSTypeProgress = "progress"
	WSTypeAnswer   = "answer"
	WSTypeError    = "error"
)

// WSRequest is one question sent over the socket. ThreadID overrides the
// session thread for this and later turns.
type WSRequest struct {
	Messages []datatypes.ChatMessage `json:"messages"`
	ThreadID string                  `json:"thread_id,omitempty"`
	User     string                  `json:"user,omitempty"`
}

// WSMessage is every server frame. Fields not used by Type are omitted.
type WSMessage struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Node     string `json:"node,omitempty"`
	Message  string `json:"message,omitempty"`
	Step     int    `json:"step,omitempty"`
	Content  string `json:"content,omitempty"`
	Error    string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	// Origins are enforced by the CORS middleware configuration.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChatWebSocket serves GET /v1/chat/ws.
//
// # Description
//
// An interactive alternative to SSE. On connect the server sends
// {"type":"session","thread_id":...}. Each WSRequest is answered with one
// "progress" frame per finished node and then an "answer" or "error"
// frame. Turns on one connection share a thread, so the step numbering
// continues across questions.
//
// # Thread Safety
//
// Each connection is served by one goroutine; the agent emits events
// synchronously on it, so frames are never written concurrently.
func HandleChatWebSocket(opts ChatOptions) gin.HandlerFunc {
	opts = opts.withDefaults()
	return func(c *gin.Context) {
		if opts.Agent == nil {
			c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: MsgAgentUnavailable})
			return
		}
		threadID := resolveThreadID(c, c.Query("thread_id"))
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		ws.SetReadLimit(datatypes.MaxMessagesPerRequest * datatypes.MaxMessageContentBytes)

		ctx := c.Request.Context()
		slog.InfoContext(ctx, "Websocket client connected", "thread_id", threadID)
		if err := sendJSON(ws, WSMessage{Type: WSTypeSession, ThreadID: threadID}); err != nil {
			return
		}

		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.InfoContext(ctx, "Websocket client disconnected", "error", err.Error())
				return
			}
			if id := strings.TrimSpace(req.ThreadID); id != "" {
				threadID = id
			}
			if err := serveTurn(ctx, c, ws, opts, req, threadID); err != nil {
				return
			}
		}
	}
}

// serveTurn answers one WSRequest. It returns an error only when the
// connection can no longer be written.
func serveTurn(ctx context.Context, c *gin.Context, ws *websocket.Conn, opts ChatOptions, req WSRequest, threadID string) error {
	chatReq := datatypes.ChatCompletionRequest{Messages: req.Messages, User: req.User, ThreadID: threadID}
	question := chatReq.LastUserMessage()
	if question == "" {
		opts.Metrics.RecordRequest(observability.EndpointChatWS, observability.StatusRejected)
		return sendJSON(ws, WSMessage{Type: WSTypeError, ThreadID: threadID, Error: MsgNoUserMessage})
	}
	if err := chatReq.Validate(); err != nil {
		opts.Metrics.RecordRequest(observability.EndpointChatWS, observability.StatusRejected)
		return sendJSON(ws, WSMessage{Type: WSTypeError, ThreadID: threadID, Error: "invalid request: " + err.Error()})
	}

	userID := middleware.ResolveUserID(c, req.User, opts.DefaultUserID)
	if blocked := opts.screen(ctx, question, userID, threadID); blocked != nil {
		opts.Metrics.RecordRequest(observability.EndpointChatWS, observability.StatusRejected)
		return sendJSON(ws, WSMessage{Type: WSTypeError, ThreadID: threadID, Error: MsgPolicyViolation})
	}
	if err := opts.admitThread(ctx, c, userID, threadID); err != nil {
		opts.Metrics.RecordRequest(observability.EndpointChatWS, observability.StatusRejected)
		msg := MsgThreadNotFound
		if !errors.Is(err, errThreadDenied) {
			msg = "failed to read thread"
		}
		return sendJSON(ws, WSMessage{Type: WSTypeError, ThreadID: threadID, Error: msg})
	}

	var writeErr error
	emit := func(ev agent.Event) {
		if writeErr != nil || ev.Status != graph.NodeStatusCompleted {
			return
		}
		writeErr = sendJSON(ws, WSMessage{
			Type:     WSTypeProgress,
			ThreadID: threadID,
			Node:     ev.Node,
			Message:  ev.DisplayName,
			Step:     ev.Step,
		})
	}

	res, err := opts.Agent.Run(ctx, agent.Request{ThreadID: threadID, UserID: userID, Messages: chatReq.LLMMessages()}, emit)
	opts.auditRequest(ctx, userID, threadID, err)
	if writeErr != nil {
		opts.Metrics.RecordClientDisconnect()
		opts.Metrics.RecordRequest(observability.EndpointChatWS, observability.StatusError)
		return writeErr
	}
	if err != nil {
		slog.ErrorContext(ctx, "An error occurred during agent execution",
			"thread_id", threadID, "error", err)
		opts.Metrics.RecordRequest(observability.EndpointChatWS, observability.StatusError)
		return sendJSON(ws, WSMessage{Type: WSTypeError, ThreadID: threadID, Error: msgStreamErrorPrefix + err.Error()})
	}

	if opts.Composer.WillRender(res.State) {
		if err := sendJSON(ws, WSMessage{Type: WSTypeProgress, ThreadID: threadID, Message: agent.RenderingStatus}); err != nil {
			return err
		}
	}
	answer := opts.Composer.Compose(ctx, res.State)
	opts.Metrics.RecordRequest(observability.EndpointChatWS, observability.StatusSuccess)
	return sendJSON(ws, WSMessage{Type: WSTypeAnswer, ThreadID: res.ThreadID, Content: answer})
}
