// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNoMessages is returned when every message was dropped as invalid.
	ErrNoMessages = errors.New("no valid messages to send")

	// ErrEmptyResponse is returned when the backend answered without choices.
	ErrEmptyResponse = errors.New("llm returned no choices")
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// JSONMode asks the backend to emit a single JSON object.
	JSONMode bool `json:"json_mode"`
}

// DefaultParams returns deterministic generation settings: temperature 0
// and a 1024 token ceiling.
func DefaultParams() GenerationParams {
	temp := float32(0)
	maxTokens := 1024
	return GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}
}

// JSON returns a copy of p with JSONMode enabled.
func (p GenerationParams) JSON() GenerationParams {
	p.JSONMode = true
	return p
}

// LLMClient is the standard interface for every chat model backend.
type LLMClient interface {
	// Chat sends the conversation and returns the assistant reply.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// Backend names the provider for logs and metrics.
	Backend() string
}

// Generate is a convenience for single-prompt calls.
func Generate(ctx context.Context, client LLMClient, prompt string, params GenerationParams) (string, error) {
	return client.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, params)
}

// FilterMessages drops messages missing a role or content.
func FilterMessages(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Role) == "" || m.Content == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}
