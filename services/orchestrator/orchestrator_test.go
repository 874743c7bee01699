// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/DataNexus/pkg/extensions"
	"github.com/AleutianAI/DataNexus/services/checkpoint"
	"github.com/AleutianAI/DataNexus/services/config"
	"github.com/AleutianAI/DataNexus/services/database"
	"github.com/AleutianAI/DataNexus/services/embeddings"
	"github.com/AleutianAI/DataNexus/services/ingest"
	"github.com/AleutianAI/DataNexus/services/llm/llmtest"
	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/AleutianAI/DataNexus/services/orchestrator/middleware"
	"github.com/AleutianAI/DataNexus/services/policy_engine/enforcement"
	"github.com/AleutianAI/DataNexus/services/prompts"
	"github.com/AleutianAI/DataNexus/services/render"
	"github.com/AleutianAI/DataNexus/services/vectorstore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

const testAnswer = "Hello from DataNexus"

type emptyDB struct{}

func (emptyDB) QueryRows(context.Context, string) (*database.Rows, error) {
	return &database.Rows{}, nil
}

type fakeSchema struct{}

func (fakeSchema) IntrospectSchema(_ context.Context, schema string) ([]database.TableDoc, error) {
	return []database.TableDoc{{Schema: schema, Name: "orders"}}, nil
}

// testComponents builds in-memory components whose LLM always takes the
// general conversation route.
func testComponents(t *testing.T) (*Components, *vectorstore.MemoryStore) {
	t.Helper()
	store := vectorstore.NewMemoryStore(embeddings.NewHashEmbedder(64))
	require.NoError(t, store.EnsureCollections(context.Background()))
	comps := &Components{
		DB:       emptyDB{},
		Schema:   fakeSchema{},
		Saver:    checkpoint.NewMemorySaver(),
		Store:    store,
		Renderer: render.NopRenderer{},
		LLM: llmtest.New(
			llmtest.Rule{Match: prompts.Markers[prompts.Router], Reply: `{"route":"general_conversation"}`},
			llmtest.Rule{Match: prompts.Markers[prompts.Direct], Reply: testAnswer},
			llmtest.Rule{Match: prompts.Markers[prompts.Curation], Reply: `{"facts_to_save":[]}`},
		),
	}
	return comps, store
}

func newTestService(t *testing.T, mutate func(*config.Settings)) (Service, *vectorstore.MemoryStore) {
	t.Helper()
	settings := config.Defaults()
	settings.Checkpoint.Backend = "memory"
	settings.VectorStore.Backend = "memory"
	if mutate != nil {
		mutate(settings)
	}
	comps, store := testComponents(t)
	svc, err := NewWithComponents(settings, comps, extensions.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, store
}

func serve(svc Service, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	return w
}

func chatRequest(t *testing.T, question string) *http.Request {
	t.Helper()
	stream := false
	body, err := json.Marshal(datatypes.ChatCompletionRequest{
		Messages: []datatypes.ChatMessage{{Role: "user", Content: question}},
		Stream:   &stream,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// =============================================================================
// Wiring Tests
// =============================================================================

// TestNewWithComponents_ChatAndThreadState verifies that an answered
// question is checkpointed and readable through the thread endpoints.
func TestNewWithComponents_ChatAndThreadState(t *testing.T) {
	// Arrange
	svc, _ := newTestService(t, nil)

	// Act
	w := serve(svc, chatRequest(t, "hello"))

	// Assert
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var completion datatypes.ChatCompletion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &completion))
	require.Len(t, completion.Choices, 1)
	assert.Equal(t, testAnswer, completion.Choices[0].Message.Content)

	threadID := w.Header().Get(middleware.ThreadIDHeader)
	require.NotEmpty(t, threadID)
	state := serve(svc, httptest.NewRequest(http.MethodGet, "/v1/threads/"+threadID+"/state", nil))
	assert.Equal(t, http.StatusOK, state.Code, state.Body.String())
}

// TestNewWithComponents_HealthAndMetrics verifies the public endpoints.
func TestNewWithComponents_HealthAndMetrics(t *testing.T) {
	svc, _ := newTestService(t, nil)
	serve(svc, chatRequest(t, "hello"))

	health := serve(svc, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, health.Code)
	var resp datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(health.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Components["vector_store"])
	assert.NotContains(t, resp.Components, "database", "no pool was opened")

	metrics := serve(svc, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "go_goroutines")
	assert.Contains(t, metrics.Body.String(), "datanexus_")
}

// TestNewWithComponents_StaticTokens verifies that server.api_tokens turns
// on bearer authentication for /v1 only.
func TestNewWithComponents_StaticTokens(t *testing.T) {
	svc, _ := newTestService(t, func(s *config.Settings) {
		s.Server.APITokens = "secret-token:alice"
	})

	anon := serve(svc, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusUnauthorized, anon.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	assert.Equal(t, http.StatusOK, serve(svc, req).Code)

	assert.Equal(t, http.StatusOK, serve(svc, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestNewWithComponents_InvalidTokens(t *testing.T) {
	settings := config.Defaults()
	settings.Server.APITokens = "no-separator"
	comps, _ := testComponents(t)

	_, err := NewWithComponents(settings, comps, extensions.DefaultOptions())
	assert.Error(t, err)
}

func TestAuthProvider_KeepsInjectedProvider(t *testing.T) {
	injected := extensions.NewStaticTokenAuthProvider(map[string]string{"t": "bob"})

	got, err := authProvider(config.ServerConfig{APITokens: "x:alice"}, injected)

	require.NoError(t, err)
	assert.Same(t, injected, got)
}

// TestIngester_LoadsSchemaDocs verifies the ingester is wired to the
// service's vector store and schema source.
func TestIngester_LoadsSchemaDocs(t *testing.T) {
	svc, store := newTestService(t, nil)
	require.NotNil(t, svc.Ingester())

	report, err := svc.Ingester().Run(context.Background(), ingest.Options{Schema: "public"})

	require.NoError(t, err)
	assert.Equal(t, 1, report.SchemaDocs)
	n, err := store.Count(context.Background(), vectorstore.CollectionSchema)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestComposer_UsesRenderSize(t *testing.T) {
	svc, _ := newTestService(t, func(s *config.Settings) {
		s.Render.Width, s.Render.Height = 1024, 768
	})

	c := svc.Composer()
	assert.Equal(t, 1024, c.Width)
	assert.Equal(t, 768, c.Height)
	assert.NotNil(t, svc.Agent())
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

// TestRun_GracefulShutdown verifies that cancelling the context stops the
// server and the retention scheduler without error.
func TestRun_GracefulShutdown(t *testing.T) {
	svc, _ := newTestService(t, func(s *config.Settings) {
		s.Server.Port = 0
		s.Checkpoint.RetentionDays = 30
	})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestComponents_CloseRunsNewestFirst(t *testing.T) {
	var order []string
	comps := &Components{}
	comps.OnClose(func() error { order = append(order, "first"); return nil })
	comps.OnClose(func() error { order = append(order, "second"); return nil })

	require.NoError(t, comps.Close())
	assert.Equal(t, []string{"second", "first"}, order)
	require.NoError(t, comps.Close(), "second close is a no-op")
	assert.Len(t, order, 2)
}

func TestNewWithComponents_LogsPolicyHash(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	newTestService(t, nil)
	assert.Contains(t, buf.String(), "policy_sha256="+enforcement.PolicyHash())
}
