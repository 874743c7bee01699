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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/DataNexus/services/agent"
	"github.com/AleutianAI/DataNexus/services/agent/graph"
	"github.com/AleutianAI/DataNexus/services/charts"
	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/AleutianAI/DataNexus/services/orchestrator/middleware"
	"github.com/AleutianAI/DataNexus/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatRouter(opts ChatOptions) *gin.Engine {
	r := gin.New()
	r.POST("/v1/chat/completions", HandleChatCompletions(opts))
	return r
}

const helloBody = `{"model":"datanexus-agent","messages":[{"role":"user","content":"hi there"}],"thread_id":"th-1"}`

func TestChatCompletions_Stream(t *testing.T) {
	env := newTestEnv(t)
	w := doJSON(chatRouter(env.chatOptions()), http.MethodPost, "/v1/chat/completions", helloBody)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "th-1", w.Header().Get(middleware.ThreadIDHeader))

	events := sseEvents(t, w.Body.String())
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "[DONE]", events[len(events)-1])

	var statuses []string
	for _, data := range events[:len(events)-2] {
		chunk := decodeChunk(t, data)
		assert.Equal(t, datatypes.ObjectChunk, chunk.Object)
		assert.Nil(t, chunk.Choices[0].FinishReason)
		p := decodeStatus(t, chunk)
		assert.Equal(t, datatypes.StatusInProgress, p.Status)
		statuses = append(statuses, p.Message)
	}
	assert.Equal(t, []string{
		agent.DisplayName(agent.NodeRouter),
		agent.DisplayName(agent.NodeDirectResponse),
		agent.DisplayName(agent.NodeCurateMemory),
		agent.DisplayName(agent.NodeSaveMemory),
	}, statuses)

	final := decodeChunk(t, events[len(events)-2])
	assert.Equal(t, testAnswer, final.Choices[0].Delta.Content)
	require.NotNil(t, final.Choices[0].FinishReason)
	assert.Equal(t, datatypes.FinishReasonStop, *final.Choices[0].FinishReason)
	assert.Equal(t, "datanexus-agent", final.Model)
	assert.True(t, strings.HasPrefix(final.ID, "chatcmpl-"))
}

func TestChatCompletions_NonStream(t *testing.T) {
	env := newTestEnv(t)
	body := `{"stream":false,"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}]}`
	w := doJSON(chatRouter(env.chatOptions()), http.MethodPost, "/v1/chat/completions", body)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.ChatCompletion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.ObjectCompletion, resp.Object)
	assert.Equal(t, "datanexus-agent", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, testAnswer, resp.Choices[0].Message.Content)
	assert.Equal(t, datatypes.FinishReasonStop, resp.Choices[0].FinishReason)
	assert.NotEmpty(t, resp.ThreadID)
	assert.Equal(t, resp.ThreadID, w.Header().Get(middleware.ThreadIDHeader))
}

func TestChatCompletions_ThreadIDHeaderWins(t *testing.T) {
	stub := &stubRunner{res: &agent.RunResult{ThreadID: "from-header", State: &agent.State{Summary: "ok"}}}
	r := chatRouter(ChatOptions{Agent: stub})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"stream":false,"thread_id":"from-body","user":"alice","messages":[{"role":"user","content":"q"}]}`))
	req.Header.Set(middleware.ThreadIDHeader, "from-header")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "from-header", stub.got.ThreadID)
	assert.Equal(t, "alice", stub.got.UserID)
}

func TestChatCompletions_Rejections(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name     string
		opts     ChatOptions
		body     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "no agent",
			opts:     ChatOptions{},
			body:     helloBody,
			wantCode: http.StatusServiceUnavailable,
			wantErr:  MsgAgentUnavailable,
		},
		{
			name:     "malformed json",
			opts:     env.chatOptions(),
			body:     `{"messages":`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid request body",
		},
		{
			name:     "no user message",
			opts:     env.chatOptions(),
			body:     `{"messages":[{"role":"system","content":"x"},{"role":"user","content":"   "}]}`,
			wantCode: http.StatusBadRequest,
			wantErr:  MsgNoUserMessage,
		},
		{
			name:     "unknown role",
			opts:     env.chatOptions(),
			body:     `{"messages":[{"role":"robot","content":"x"},{"role":"user","content":"hi"}]}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(chatRouter(tt.opts), http.MethodPost, "/v1/chat/completions", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantErr)
		})
	}
}

func TestChatCompletions_BlocksSecrets(t *testing.T) {
	env := newTestEnv(t)
	reg := prometheus.NewRegistry()
	opts := env.chatOptions()
	opts.Metrics = observability.NewMetrics(reg)
	body := `{"messages":[{"role":"user","content":"my key is AKIA1234567890123456, list the sales"}]}`

	w := doJSON(chatRouter(opts), http.MethodPost, "/v1/chat/completions", body)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), MsgPolicyViolation)
	assert.Contains(t, w.Body.String(), "findings")
	assert.NotContains(t, w.Body.String(), "AKIA1234567890123456")
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.PolicyBlocksTotal))
}

func TestChatCompletions_PIIIsNotBlocked(t *testing.T) {
	env := newTestEnv(t)
	body := `{"stream":false,"messages":[{"role":"user","content":"email jane@example.com the report"}]}`
	w := doJSON(chatRouter(env.chatOptions()), http.MethodPost, "/v1/chat/completions", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatCompletions_StreamError(t *testing.T) {
	stub := &stubRunner{
		events: []agent.Event{
			{Node: agent.NodeRouter, DisplayName: "Routing Query...", Step: 1, Status: graph.NodeStatusCompleted},
			{Node: agent.NodeLoadMemory, DisplayName: "Loading Memory...", Step: 2, Status: graph.NodeStatusFailed},
		},
		err: errBoom,
	}
	w := doJSON(chatRouter(ChatOptions{Agent: stub}), http.MethodPost, "/v1/chat/completions", helloBody)

	require.Equal(t, http.StatusOK, w.Code)
	events := sseEvents(t, w.Body.String())
	require.Len(t, events, 3, "one status, the error chunk and [DONE]")
	assert.Equal(t, "Routing Query...", decodeStatus(t, decodeChunk(t, events[0])).Message)

	errChunk := decodeChunk(t, events[1])
	p := decodeStatus(t, errChunk)
	assert.Equal(t, datatypes.StatusError, p.Status)
	assert.Equal(t, "An unexpected server error occurred: boom", p.Message)
	require.NotNil(t, errChunk.Choices[0].FinishReason)
	assert.Equal(t, "[DONE]", events[2])
}

func TestChatCompletions_NonStreamError(t *testing.T) {
	stub := &stubRunner{err: errBoom}
	w := doJSON(chatRouter(ChatOptions{Agent: stub}), http.MethodPost, "/v1/chat/completions",
		`{"stream":false,"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"An internal error occurred: boom"}`, w.Body.String())
}

// pngRenderer returns a fixed image.
type pngRenderer struct{}

func (pngRenderer) RenderPNG(context.Context, *charts.Figure, int, int) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (pngRenderer) Close() error { return nil }

func TestChatCompletions_StreamRendersCharts(t *testing.T) {
	stub := &stubRunner{res: &agent.RunResult{State: &agent.State{
		Summary: "EMEA leads.",
		Figures: []*charts.Figure{{Layout: map[string]any{"title": "Sales"}}},
	}}}
	opts := ChatOptions{Agent: stub, Composer: agent.Composer{Renderer: pngRenderer{}, Width: 800, Height: 600}}
	w := doJSON(chatRouter(opts), http.MethodPost, "/v1/chat/completions", helloBody)

	events := sseEvents(t, w.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, agent.RenderingStatus, decodeStatus(t, decodeChunk(t, events[0])).Message)
	answer := decodeChunk(t, events[1]).Choices[0].Delta.Content
	assert.True(t, strings.HasPrefix(answer, "EMEA leads.\n\n![chart](data:image/png;base64,"))
}

func TestChatCompletions_RecordsMetrics(t *testing.T) {
	env := newTestEnv(t)
	reg := prometheus.NewRegistry()
	opts := env.chatOptions()
	opts.Metrics = observability.NewMetrics(reg)
	r := chatRouter(opts)

	doJSON(r, http.MethodPost, "/v1/chat/completions", helloBody)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		opts.Metrics.RequestsTotal.WithLabelValues(observability.EndpointChatStream, observability.StatusSuccess)))
	assert.Equal(t, 0.0, testutil.ToFloat64(opts.Metrics.ActiveStreams))
}

func TestChatCompletions_BlockedQuestionIsLoggedRedacted(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	w := doJSON(chatRouter(newTestEnv(t).chatOptions()), http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"my key is AKIA1234567890123456"}]}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, buf.String(), "[REDACTED:AWS_ACCESS_KEY_ID]")
	assert.NotContains(t, buf.String(), "AKIA1234567890123456")
}
