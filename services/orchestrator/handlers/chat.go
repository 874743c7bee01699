// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP endpoints of the DataNexus API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/DataNexus/pkg/extensions"
	"github.com/AleutianAI/DataNexus/services/agent"
	"github.com/AleutianAI/DataNexus/services/agent/graph"
	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/AleutianAI/DataNexus/services/orchestrator/middleware"
	"github.com/AleutianAI/DataNexus/services/orchestrator/observability"
	"github.com/AleutianAI/DataNexus/services/policy_engine"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("datanexus.orchestrator.handlers")

// Client-facing messages.
const (
	MsgNoUserMessage     = "No user message found."
	MsgAgentUnavailable  = "Agent is not available. Please check server logs."
	MsgPolicyViolation   = "Policy Violation: Message contains sensitive data."
	MsgThreadNotFound    = "thread not found"
	msgStreamErrorPrefix = "An unexpected server error occurred: "
	msgInternalPrefix    = "An internal error occurred: "
)

// DefaultKeepAlive is the interval between keepalive comments on idle
// streams.
const DefaultKeepAlive = 15 * time.Second

// AgentRunner executes one question. Implemented by *agent.Agent.
type AgentRunner interface {
	Run(ctx context.Context, req agent.Request, emit func(agent.Event)) (*agent.RunResult, error)
}

// ChatOptions are the collaborators of the chat endpoints.
type ChatOptions struct {
	// Agent answers questions. nil makes the endpoints answer 503.
	Agent AgentRunner

	// Composer turns the final state into the answer text.
	Composer agent.Composer

	// Policy screens questions. nil disables screening.
	Policy *policy_engine.PolicyEngine

	// Threads resolves thread ownership before a run. nil skips the check.
	Threads ThreadStater

	Audit   extensions.AuditLogger
	Metrics *observability.Metrics

	// ModelID is reported when the request names no model.
	ModelID string

	// DefaultUserID owns memories of anonymous callers that name no user.
	DefaultUserID string

	// KeepAlive is the idle interval between keepalive comments.
	KeepAlive time.Duration
}

func (o ChatOptions) withDefaults() ChatOptions {
	if o.Audit == nil {
		o.Audit = &extensions.NopAuditLogger{}
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.ModelID == "" {
		o.ModelID = "datanexus-agent"
	}
	return o
}

// blockedFinding is a finding stripped of the matched text.
type blockedFinding struct {
	Classification string `json:"classification"`
	PatternID      string `json:"pattern_id"`
	Description    string `json:"description"`
}

// screen applies the data policy to question. It returns the findings that
// block the request, or nil when the request may proceed.
func (o ChatOptions) screen(ctx context.Context, question, userID, threadID string) []blockedFinding {
	if o.Policy == nil {
		return nil
	}
	findings := o.Policy.ScanFileContent(question)
	if len(findings) == 0 {
		return nil
	}
	if !policy_engine.HasClassification(findings, policy_engine.ClassSecret) {
		ids := make([]string, 0, len(findings))
		for _, f := range findings {
			ids = append(ids, f.PatternId)
		}
		slog.WarnContext(ctx, "Question contains personal data", "thread_id", threadID, "patterns", ids)
		return nil
	}

	var blocked []blockedFinding
	for _, f := range findings {
		if f.ClassificationName != policy_engine.ClassSecret {
			continue
		}
		blocked = append(blocked, blockedFinding{
			Classification: f.ClassificationName,
			PatternID:      f.PatternId,
			Description:    f.PatternDescription,
		})
	}
	slog.WarnContext(ctx, "Blocked chat request due to policy violation",
		"thread_id", threadID, "user_id", userID, "findings", len(blocked),
		"question", o.Policy.Redact(question))
	o.Metrics.RecordPolicyBlock(policy_engine.ClassSecret)
	_ = o.Audit.Log(ctx, extensions.AuditEvent{
		EventType: extensions.EventChatBlocked,
		UserID:    userID,
		ThreadID:  threadID,
		Outcome:   "blocked",
		Metadata:  map[string]any{"findings": len(blocked)},
	})
	return blocked
}

// errThreadDenied marks a run on another user's thread.
var errThreadDenied = errors.New(MsgThreadNotFound)

// admitThread refuses runs on threads whose latest checkpoint belongs to a
// different authenticated user. A refusal reads like a missing thread.
func (o ChatOptions) admitThread(ctx context.Context, c *gin.Context, userID, threadID string) error {
	foreign, err := foreignThread(ctx, c, o.Threads, threadID)
	if err != nil {
		slog.ErrorContext(ctx, "Thread lookup failed", "thread_id", threadID, "error", err)
		return err
	}
	if !foreign {
		return nil
	}
	slog.WarnContext(ctx, "Refused a run on a thread owned by another user",
		"thread_id", threadID, "user_id", userID)
	_ = o.Audit.Log(ctx, extensions.AuditEvent{
		EventType: extensions.EventThreadDenied,
		UserID:    userID,
		ThreadID:  threadID,
		Outcome:   "denied",
	})
	return errThreadDenied
}

func (o ChatOptions) auditRequest(ctx context.Context, userID, threadID string, err error) {
	outcome := "success"
	meta := map[string]any{}
	if err != nil {
		outcome = "failure"
		meta["error"] = err.Error()
	}
	_ = o.Audit.Log(ctx, extensions.AuditEvent{
		EventType: extensions.EventChatRequest,
		UserID:    userID,
		ThreadID:  threadID,
		Outcome:   outcome,
		Metadata:  meta,
	})
}

// resolveThreadID prefers the X-Thread-ID header, then the body field,
// then a new id.
func resolveThreadID(c *gin.Context, fromBody string) string {
	if id := strings.TrimSpace(c.GetHeader(middleware.ThreadIDHeader)); id != "" {
		return id
	}
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleChatCompletions serves POST /v1/chat/completions.
//
// # Description
//
// OpenAI-compatible chat completions backed by the agent graph. The last
// user message is the question and the whole message list is the chat
// history.
//
// With stream=true (the default) the response is an SSE stream: one
// chunk per finished node whose content is
// {"status":"in_progress","message":"<node display name>"}, an optional
// "Rendering chart..." status, the answer chunk with finish_reason "stop",
// and finally "data: [DONE]". Failures produce an error status chunk
// before [DONE].
//
// With stream=false the answer is returned as a chat.completion object.
//
// # Outputs
//
//   - 400: Malformed body or no user message.
//   - 403: The question contains secrets.
//   - 404: The thread belongs to another authenticated user.
//   - 503: No agent is configured.
//   - 500: The agent failed (non-streaming only).
//
// The thread id is echoed in the X-Thread-ID response header.
func HandleChatCompletions(opts ChatOptions) gin.HandlerFunc {
	opts = opts.withDefaults()
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatCompletions")
		defer span.End()

		if opts.Agent == nil {
			c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: MsgAgentUnavailable})
			return
		}

		var req datatypes.ChatCompletionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.WarnContext(ctx, "Failed to parse the chat request", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}
		question := req.LastUserMessage()
		if question == "" {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: MsgNoUserMessage})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request: " + err.Error()})
			return
		}

		endpoint := observability.EndpointChat
		if req.Streaming() {
			endpoint = observability.EndpointChatStream
		}
		userID := middleware.ResolveUserID(c, req.User, opts.DefaultUserID)
		threadID := resolveThreadID(c, req.ThreadID)
		model := req.Model
		if model == "" {
			model = opts.ModelID
		}
		span.SetAttributes(
			attribute.String("thread_id", threadID),
			attribute.String("user_id", userID),
			attribute.Bool("stream", req.Streaming()),
		)

		if blocked := opts.screen(ctx, question, userID, threadID); blocked != nil {
			span.SetStatus(codes.Error, "policy violation")
			opts.Metrics.RecordRequest(endpoint, observability.StatusRejected)
			c.JSON(http.StatusForbidden, gin.H{"error": MsgPolicyViolation, "findings": blocked})
			return
		}
		if err := opts.admitThread(ctx, c, userID, threadID); err != nil {
			opts.Metrics.RecordRequest(endpoint, observability.StatusRejected)
			if errors.Is(err, errThreadDenied) {
				c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: MsgThreadNotFound})
				return
			}
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to read thread"})
			return
		}

		c.Header(middleware.ThreadIDHeader, threadID)
		agentReq := agent.Request{ThreadID: threadID, UserID: userID, Messages: req.LLMMessages()}

		var err error
		if req.Streaming() {
			err = streamCompletion(ctx, c, opts, agentReq, model)
		} else {
			err = completion(ctx, c, opts, agentReq, model)
		}
		opts.auditRequest(ctx, userID, threadID, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			opts.Metrics.RecordRequest(endpoint, observability.StatusError)
			return
		}
		opts.Metrics.RecordRequest(endpoint, observability.StatusSuccess)
	}
}

// completion answers without streaming.
func completion(ctx context.Context, c *gin.Context, opts ChatOptions, req agent.Request, model string) error {
	res, err := opts.Agent.Run(ctx, req, nil)
	if err != nil {
		slog.ErrorContext(ctx, "An error occurred during agent execution",
			"thread_id", req.ThreadID, "user_id", req.UserID, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrNoUserMessage) {
			status = http.StatusBadRequest
		}
		c.JSON(status, datatypes.ErrorResponse{Error: msgInternalPrefix + err.Error()})
		return err
	}
	answer := opts.Composer.Compose(ctx, res.State)
	c.JSON(http.StatusOK, datatypes.NewChatCompletion(model, answer, res.ThreadID))
	return nil
}

// errClientGone marks streams abandoned by the client.
var errClientGone = errors.New("client disconnected")

// streamCompletion runs the agent in the background and relays its
// progress as SSE chunks. It always ends the stream with [DONE] unless the
// client has gone away.
func streamCompletion(ctx context.Context, c *gin.Context, opts ChatOptions, req agent.Request, model string) error {
	sse, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming is not supported"})
		return err
	}
	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	end := opts.Metrics.StreamStarted()
	chunks := ChunkWriter{SSE: sse, Model: model}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan agent.Event, 16)
	var (
		res    *agent.RunResult
		runErr error
	)
	go func() {
		defer close(events)
		res, runErr = opts.Agent.Run(runCtx, req, func(ev agent.Event) {
			select {
			case events <- ev:
			case <-runCtx.Done():
			}
		})
	}()

	ticker := time.NewTicker(opts.KeepAlive)
	defer ticker.Stop()

	gone := false
	clientGone := func(err error) {
		if !gone {
			slog.InfoContext(ctx, "Client disconnected during streaming", "thread_id", req.ThreadID, "error", err)
			gone = true
			cancel()
		}
	}

loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if gone || ev.Status != graph.NodeStatusCompleted {
				continue
			}
			if err := chunks.Status(datatypes.StatusInProgress, ev.DisplayName); err != nil {
				clientGone(err)
			}
		case <-ticker.C:
			if gone {
				continue
			}
			if err := sse.WriteKeepAlive(); err != nil {
				clientGone(err)
				continue
			}
			opts.Metrics.RecordKeepAlive()
		}
	}

	if gone {
		opts.Metrics.RecordClientDisconnect()
		end(false)
		return errClientGone
	}

	if runErr != nil {
		slog.ErrorContext(ctx, "An unhandled error occurred during streaming",
			"thread_id", req.ThreadID, "error", runErr)
		_ = chunks.Status(datatypes.StatusError, msgStreamErrorPrefix+runErr.Error())
		_ = sse.WriteDone()
		end(false)
		return runErr
	}

	if opts.Composer.WillRender(res.State) {
		_ = chunks.Status(datatypes.StatusInProgress, agent.RenderingStatus)
	}
	answer := opts.Composer.Compose(ctx, res.State)
	if err := chunks.Final(answer); err != nil {
		clientGone(err)
		opts.Metrics.RecordClientDisconnect()
		end(false)
		return errClientGone
	}
	_ = sse.WriteDone()
	end(true)
	return nil
}
