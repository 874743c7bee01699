// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/AleutianAI/DataNexus/services/orchestrator/handlers"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatURL(t *testing.T) {
	got, err := chatURL("http://localhost:8001", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8001/v1/chat/ws", got)

	got, err = chatURL("https://nexus.example.com/api/", "t-1")
	require.NoError(t, err)
	assert.Equal(t, "wss://nexus.example.com/api/v1/chat/ws?thread_id=t-1", got)

	_, err = chatURL("ftp://host", "")
	assert.Error(t, err)
}

// fakeChatServer speaks the chat websocket protocol with scripted frames.
func fakeChatServer(t *testing.T, frames []handlers.WSMessage, got *handlers.WSRequest, header *http.Header) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if header != nil {
			*header = r.Header.Clone()
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		thread := r.URL.Query().Get("thread_id")
		if thread == "" {
			thread = "generated"
		}
		if ws.WriteJSON(handlers.WSMessage{Type: handlers.WSTypeSession, ThreadID: thread}) != nil {
			return
		}
		if ws.ReadJSON(got) != nil {
			return
		}
		for _, f := range frames {
			f.ThreadID = thread
			if ws.WriteJSON(f) != nil {
				return
			}
		}
		_, _, _ = ws.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAsk_ProgressAndAnswer(t *testing.T) {
	var req handlers.WSRequest
	var header http.Header
	srv := fakeChatServer(t, []handlers.WSMessage{
		{Type: handlers.WSTypeProgress, Step: 1, Message: "Routing..."},
		{Type: handlers.WSTypeProgress, Step: 2, Message: "Writing SQL Query..."},
		{Type: handlers.WSTypeAnswer, Content: "There are 42 orders."},
	}, &req, &header)

	var steps []int
	client := newAPIClient(srv.URL, "secret")
	msg, err := client.Ask(context.Background(), "how many orders?", "thread-9", "alice", func(m handlers.WSMessage) {
		steps = append(steps, m.Step)
	})

	require.NoError(t, err)
	assert.Equal(t, "There are 42 orders.", msg.Content)
	assert.Equal(t, "thread-9", msg.ThreadID)
	assert.Equal(t, []int{1, 2}, steps)
	assert.Equal(t, "alice", req.User)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "how many orders?", req.Messages[0].Content)
	assert.Equal(t, "Bearer secret", header.Get("Authorization"))
}

func TestAsk_ErrorFrame(t *testing.T) {
	var req handlers.WSRequest
	srv := fakeChatServer(t, []handlers.WSMessage{
		{Type: handlers.WSTypeError, Error: "Request blocked by security policy"},
	}, &req, nil)

	_, err := newAPIClient(srv.URL, "").Ask(context.Background(), "my password is hunter2", "", "", nil)

	require.ErrorIs(t, err, ErrServer)
	assert.Contains(t, err.Error(), "security policy")
}

func TestAsk_RejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL, "").Ask(context.Background(), "q", "", "", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHealth(t *testing.T) {
	status := http.StatusOK
	body := datatypes.HealthResponse{Status: "ok", Components: map[string]string{"database": "ok"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, healthPath, r.URL.Path)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()
	client := newAPIClient(srv.URL+"/", "")

	got, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Status)

	status = http.StatusServiceUnavailable
	body = datatypes.HealthResponse{Status: "degraded", Components: map[string]string{"database": "database unreachable"}}
	got, err = client.Health(context.Background())
	require.NoError(t, err, "a degraded body is still decoded")
	assert.Equal(t, "degraded", got.Status)

	status = http.StatusInternalServerError
	_, err = client.Health(context.Background())
	assert.Error(t, err)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
	assert.True(t, strings.HasPrefix(firstNonEmpty("flag", "setting"), "flag"))
}
