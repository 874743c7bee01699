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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/DataNexus/pkg/extensions"
	"github.com/AleutianAI/DataNexus/services/agent"
	"github.com/AleutianAI/DataNexus/services/checkpoint"
	"github.com/AleutianAI/DataNexus/services/config"
	"github.com/AleutianAI/DataNexus/services/database"
	"github.com/AleutianAI/DataNexus/services/embeddings"
	"github.com/AleutianAI/DataNexus/services/llm/llmtest"
	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/AleutianAI/DataNexus/services/orchestrator/middleware"
	"github.com/AleutianAI/DataNexus/services/policy_engine"
	"github.com/AleutianAI/DataNexus/services/prompts"
	"github.com/AleutianAI/DataNexus/services/tools"
	"github.com/AleutianAI/DataNexus/services/vectorstore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAnswer = "Hello from DataNexus"

// emptyDB answers every query with no rows.
type emptyDB struct{}

func (emptyDB) QueryRows(context.Context, string) (*database.Rows, error) {
	return &database.Rows{}, nil
}

type testEnv struct {
	agent   *agent.Agent
	toolbox *tools.Toolbox
	store   *vectorstore.MemoryStore
	policy  *policy_engine.PolicyEngine
}

// newTestEnv builds a real agent whose LLM always takes the general
// conversation route.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := vectorstore.NewMemoryStore(embeddings.NewHashEmbedder(64))
	require.NoError(t, store.EnsureCollections(ctx))
	client := llmtest.New(
		llmtest.Rule{Match: prompts.Markers[prompts.Router], Reply: `{"route":"general_conversation"}`},
		llmtest.Rule{Match: prompts.Markers[prompts.Direct], Reply: testAnswer},
		llmtest.Rule{Match: prompts.Markers[prompts.Curation], Reply: `{"facts_to_save":["The user says hello a lot"]}`},
	)
	policy, err := policy_engine.NewPolicyEngine()
	require.NoError(t, err)
	tb, err := tools.New(tools.Deps{Store: store, DB: emptyDB{}, LLM: client, Policy: policy})
	require.NoError(t, err)
	a, err := agent.New(agent.Deps{
		Tools:  tb,
		Saver:  checkpoint.NewMemorySaver(),
		Config: config.AgentConfig{MaxCorrectionAttempts: 3, RecursionLimit: 25},
	})
	require.NoError(t, err)
	return &testEnv{agent: a, toolbox: tb, store: store, policy: policy}
}

func (e *testEnv) chatOptions() ChatOptions {
	return ChatOptions{Agent: e.agent, Policy: e.policy, Threads: e.agent, ModelID: "datanexus-agent", DefaultUserID: "open-webui-user"}
}

// asUser makes every request of router authenticated as userID.
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetAuthInfo(c, &extensions.AuthInfo{UserID: userID})
		c.Next()
	}
}

func doJSON(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// sseEvents returns the data payloads of an SSE body in order, skipping
// comments.
func sseEvents(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			out = append(out, data)
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func decodeChunk(t *testing.T, data string) datatypes.ChatCompletionChunk {
	t.Helper()
	var chunk datatypes.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(data), &chunk))
	require.Len(t, chunk.Choices, 1)
	return chunk
}

func decodeStatus(t *testing.T, chunk datatypes.ChatCompletionChunk) datatypes.StatusPayload {
	t.Helper()
	var p datatypes.StatusPayload
	require.NoError(t, json.Unmarshal([]byte(chunk.Choices[0].Delta.Content), &p))
	return p
}

// stubRunner returns a fixed result or error after emitting events.
type stubRunner struct {
	events []agent.Event
	res    *agent.RunResult
	err    error
	got    agent.Request
}

func (s *stubRunner) Run(_ context.Context, req agent.Request, emit func(agent.Event)) (*agent.RunResult, error) {
	s.got = req
	for _, ev := range s.events {
		if emit != nil {
			emit(ev)
		}
	}
	return s.res, s.err
}

var errBoom = errors.New("boom")
