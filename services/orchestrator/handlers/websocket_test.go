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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/DataNexus/services/agent"
	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialChat(t *testing.T, opts ChatOptions, query string, mw ...gin.HandlerFunc) *websocket.Conn {
	t.Helper()
	r := gin.New()
	r.Use(mw...)
	r.GET("/v1/chat/ws", HandleChatWebSocket(opts))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat/ws" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	var msg WSMessage
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

// readTurn reads frames until an answer or error.
func readTurn(t *testing.T, ws *websocket.Conn) ([]WSMessage, WSMessage) {
	t.Helper()
	var progress []WSMessage
	for {
		msg := readFrame(t, ws)
		if msg.Type != WSTypeProgress {
			return progress, msg
		}
		progress = append(progress, msg)
	}
}

func userTurn(content string) WSRequest {
	return WSRequest{Messages: []datatypes.ChatMessage{{Role: "user", Content: content}}, User: "alice"}
}

func TestChatWebSocket(t *testing.T) {
	env := newTestEnv(t)
	ws := dialChat(t, env.chatOptions(), "?thread_id=ws-thread")

	hello := readFrame(t, ws)
	assert.Equal(t, WSTypeSession, hello.Type)
	assert.Equal(t, "ws-thread", hello.ThreadID)

	require.NoError(t, ws.WriteJSON(userTurn("hi")))
	progress, final := readTurn(t, ws)
	require.Len(t, progress, 4)
	assert.Equal(t, agent.NodeRouter, progress[0].Node)
	assert.Equal(t, "Routing Query...", progress[0].Message)
	assert.Equal(t, 1, progress[0].Step)
	assert.Equal(t, WSTypeAnswer, final.Type)
	assert.Equal(t, testAnswer, final.Content)
	assert.Equal(t, "ws-thread", final.ThreadID)

	require.NoError(t, ws.WriteJSON(userTurn("hi again")))
	progress, final = readTurn(t, ws)
	require.NotEmpty(t, progress)
	assert.Equal(t, 5, progress[0].Step, "steps continue on the same thread")
	assert.Equal(t, WSTypeAnswer, final.Type)
}

func TestChatWebSocket_Errors(t *testing.T) {
	env := newTestEnv(t)
	ws := dialChat(t, env.chatOptions(), "")
	session := readFrame(t, ws)
	require.NotEmpty(t, session.ThreadID)

	require.NoError(t, ws.WriteJSON(WSRequest{}))
	_, final := readTurn(t, ws)
	assert.Equal(t, WSTypeError, final.Type)
	assert.Equal(t, MsgNoUserMessage, final.Error)

	require.NoError(t, ws.WriteJSON(userTurn("use key AKIA1234567890123456")))
	_, final = readTurn(t, ws)
	assert.Equal(t, WSTypeError, final.Type)
	assert.Equal(t, MsgPolicyViolation, final.Error)

	require.NoError(t, ws.WriteJSON(userTurn("still here?")))
	_, final = readTurn(t, ws)
	assert.Equal(t, WSTypeAnswer, final.Type, "errors do not close the connection")
}

func TestChatWebSocket_AgentFailure(t *testing.T) {
	ws := dialChat(t, ChatOptions{Agent: &stubRunner{err: errBoom}}, "")
	readFrame(t, ws)

	require.NoError(t, ws.WriteJSON(userTurn("hi")))
	_, final := readTurn(t, ws)
	assert.Equal(t, WSTypeError, final.Type)
	assert.Contains(t, final.Error, "boom")
}

func TestChatWebSocket_RefusesForeignThread(t *testing.T) {
	env := newTestEnv(t)
	seedThread(t, env, "th-1", "alice")
	ws := dialChat(t, env.chatOptions(), "?thread_id=th-1", asUser("mallory"))
	readFrame(t, ws)

	require.NoError(t, ws.WriteJSON(userTurn("hi")))
	progress, final := readTurn(t, ws)
	assert.Empty(t, progress)
	assert.Equal(t, WSTypeError, final.Type)
	assert.Equal(t, MsgThreadNotFound, final.Error)

	turn := userTurn("hi")
	turn.ThreadID = "mallory-thread"
	require.NoError(t, ws.WriteJSON(turn))
	_, final = readTurn(t, ws)
	assert.Equal(t, WSTypeAnswer, final.Type, "own threads still work on the same connection")

	cps, err := env.agent.History(context.Background(), "th-1", 0)
	require.NoError(t, err)
	assert.Len(t, cps, 4)
}
