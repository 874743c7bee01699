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
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/AleutianAI/DataNexus/services/orchestrator/handlers"
	"github.com/gorilla/websocket"
)

const (
	wsPath          = "/v1/chat/ws"
	healthPath      = "/health"
	clientTimeout   = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// ErrServer is wrapped by errors the server reported in an error frame.
var ErrServer = errors.New("server error")

// apiClient talks to a running DataNexus API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: clientTimeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

func (c *apiClient) header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// chatURL converts the base URL to the websocket chat endpoint.
func chatURL(base, threadID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + wsPath
	if threadID != "" {
		q := u.Query()
		q.Set("thread_id", threadID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Ask sends one question over the chat websocket.
//
// # Description
//
// Progress frames are passed to onProgress as they arrive. The call
// returns on the answer frame or the first error frame. Cancelling ctx
// closes the connection.
//
// # Outputs
//
//   - handlers.WSMessage: The answer frame, carrying the thread id.
//   - error: Connection failure or an ErrServer wrapping the error frame.
func (c *apiClient) Ask(ctx context.Context, question, threadID, user string, onProgress func(handlers.WSMessage)) (handlers.WSMessage, error) {
	target, err := chatURL(c.baseURL, threadID)
	if err != nil {
		return handlers.WSMessage{}, err
	}
	ws, resp, err := c.dialer.DialContext(ctx, target, c.header())
	if err != nil {
		if resp != nil {
			return handlers.WSMessage{}, fmt.Errorf("connect %s: %s", target, resp.Status)
		}
		return handlers.WSMessage{}, fmt.Errorf("connect %s: %w", target, err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	var session handlers.WSMessage
	if err := ws.ReadJSON(&session); err != nil {
		return handlers.WSMessage{}, fmt.Errorf("read session: %w", err)
	}

	req := handlers.WSRequest{
		Messages: []datatypes.ChatMessage{{Role: "user", Content: question}},
		User:     user,
	}
	if err := ws.WriteJSON(req); err != nil {
		return handlers.WSMessage{}, fmt.Errorf("send question: %w", err)
	}

	for {
		var msg handlers.WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return handlers.WSMessage{}, ctx.Err()
			}
			return handlers.WSMessage{}, fmt.Errorf("read frame: %w", err)
		}
		switch msg.Type {
		case handlers.WSTypeProgress:
			if onProgress != nil {
				onProgress(msg)
			}
		case handlers.WSTypeAnswer:
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return msg, nil
		case handlers.WSTypeError:
			return msg, fmt.Errorf("%w: %s", ErrServer, msg.Error)
		}
	}
}

// Health fetches /health. Degraded servers answer 503 with a body, which
// is decoded like a healthy one.
func (c *apiClient) Health(ctx context.Context) (datatypes.HealthResponse, error) {
	var out datatypes.HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return out, err
	}
	req.Header = c.header()
	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("request health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return out, fmt.Errorf("health: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode health: %w", err)
	}
	return out, nil
}
