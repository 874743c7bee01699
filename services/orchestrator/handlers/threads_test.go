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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/DataNexus/services/agent"
	"github.com/AleutianAI/DataNexus/services/checkpoint"
	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/AleutianAI/DataNexus/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threadRouter(store ThreadStore, mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/v1/threads/:threadId/state", HandleThreadState(store))
	r.GET("/v1/threads/:threadId/history", HandleThreadHistory(store))
	r.DELETE("/v1/threads/:threadId", HandleDeleteThread(store, nil))
	return r
}

func seedThread(t *testing.T, env *testEnv, threadID, userID string) {
	t.Helper()
	_, err := env.agent.Run(context.Background(), agent.Request{
		ThreadID: threadID,
		UserID:   userID,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, nil)
	require.NoError(t, err)
}

func TestThreadState(t *testing.T) {
	env := newTestEnv(t)
	seedThread(t, env, "th-1", "alice")
	r := threadRouter(env.agent)

	w := doJSON(r, http.MethodGet, "/v1/threads/th-1/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.ThreadStateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "th-1", resp.ThreadID)
	assert.Equal(t, agent.NodeSaveMemory, resp.Checkpoint.Node)
	assert.Equal(t, 4, resp.Checkpoint.Step)
	require.NotNil(t, resp.State)
	assert.Equal(t, "hi", resp.State.Question)
	assert.Equal(t, testAnswer, resp.State.Summary)

	w = doJSON(r, http.MethodGet, "/v1/threads/missing/state", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestThreadHistory(t *testing.T) {
	env := newTestEnv(t)
	seedThread(t, env, "th-1", "alice")
	r := threadRouter(env.agent)

	w := doJSON(r, http.MethodGet, "/v1/threads/th-1/history?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.ThreadHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Checkpoints, 2)
	assert.Equal(t, 4, resp.Checkpoints[0].Step, "newest first")

	w = doJSON(r, http.MethodGet, "/v1/threads/th-1/history", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Checkpoints, 4)

	for _, bad := range []string{"abc", "-1"} {
		w = doJSON(r, http.MethodGet, "/v1/threads/th-1/history?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestDeleteThread(t *testing.T) {
	env := newTestEnv(t)
	seedThread(t, env, "th-1", "alice")
	r := threadRouter(env.agent)

	w := doJSON(r, http.MethodDelete, "/v1/threads/th-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":4}`, w.Body.String())

	w = doJSON(r, http.MethodGet, "/v1/threads/th-1/state", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(r, http.MethodDelete, "/v1/threads/th-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestThreads_OwnedByCaller(t *testing.T) {
	env := newTestEnv(t)
	seedThread(t, env, "th-1", "alice")

	w := doJSON(threadRouter(env.agent, asUser("mallory")), http.MethodGet, "/v1/threads/th-1/state", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(threadRouter(env.agent, asUser("mallory")), http.MethodDelete, "/v1/threads/th-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(threadRouter(env.agent, asUser("alice")), http.MethodGet, "/v1/threads/th-1/state", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestThreads_NoCheckpointer(t *testing.T) {
	a, err := agent.New(agent.Deps{Tools: newTestEnv(t).toolbox})
	require.NoError(t, err)
	w := doJSON(threadRouter(a), http.MethodGet, "/v1/threads/th-1/state", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestChatCompletions_RefusesForeignThread(t *testing.T) {
	env := newTestEnv(t)
	seedThread(t, env, "th-1", "alice")

	mallory := gin.New()
	mallory.Use(asUser("mallory"))
	mallory.POST("/v1/chat/completions", HandleChatCompletions(env.chatOptions()))
	mallory.GET("/v1/threads/:threadId/history", HandleThreadHistory(env.agent))
	mallory.DELETE("/v1/threads/:threadId", HandleDeleteThread(env.agent, nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"stream":false,"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Thread-ID", "th-1")
	w := httptest.NewRecorder()
	mallory.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"thread not found"}`, w.Body.String())

	w = doJSON(mallory, http.MethodPost, "/v1/chat/completions",
		`{"stream":false,"thread_id":"th-1","messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusNotFound, w.Code, "body thread_id is checked too")

	assert.Equal(t, http.StatusNotFound, doJSON(mallory, http.MethodGet, "/v1/threads/th-1/history", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(mallory, http.MethodDelete, "/v1/threads/th-1", "").Code)

	alice := threadRouter(env.agent, asUser("alice"))
	w = doJSON(alice, http.MethodGet, "/v1/threads/th-1/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.ThreadHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Checkpoints, 4, "the refused run wrote no checkpoints")
}

func TestChatCompletions_OwnerContinuesThread(t *testing.T) {
	env := newTestEnv(t)
	seedThread(t, env, "th-1", "alice")

	r := gin.New()
	r.Use(asUser("alice"))
	r.POST("/v1/chat/completions", HandleChatCompletions(env.chatOptions()))
	w := doJSON(r, http.MethodPost, "/v1/chat/completions",
		`{"stream":false,"thread_id":"th-1","messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/chat/completions",
		`{"stream":false,"thread_id":"fresh","messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusOK, w.Code, "new threads are free to claim")
}

// failingThreads fails every lookup.
type failingThreads struct{}

func (failingThreads) ThreadState(context.Context, string) (*checkpoint.Checkpoint, *agent.State, error) {
	return nil, nil, errors.New("disk on fire")
}

func TestChatCompletions_ThreadLookupFailure(t *testing.T) {
	opts := newTestEnv(t).chatOptions()
	opts.Threads = failingThreads{}
	r := gin.New()
	r.Use(asUser("alice"))
	r.POST("/v1/chat/completions", HandleChatCompletions(opts))

	w := doJSON(r, http.MethodPost, "/v1/chat/completions",
		`{"stream":false,"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
