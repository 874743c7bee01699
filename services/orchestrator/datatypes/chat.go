// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire types of the DataNexus HTTP API.
//
// The chat types follow the OpenAI Chat Completions format so that clients
// such as Open WebUI can use the agent as a model.
package datatypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/DataNexus/services/llm"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 200
)

// Object names used in responses.
const (
	ObjectChunk      = "chat.completion.chunk"
	ObjectCompletion = "chat.completion"
	ObjectModel      = "model"
	ObjectList       = "list"

	FinishReasonStop = "stop"
)

// Status values carried inside status chunks.
const (
	StatusInProgress = "in_progress"
	StatusError      = "error"
)

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// ChatMessage is one turn of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant tool developer"`
	Content string `json:"content" validate:"maxbytes"`
}

// UnmarshalJSON accepts content as a string, as null, or as an array of
// parts of which the "text" parts are concatenated.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = ""

	content := bytes.TrimSpace(raw.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil
	}
	switch content[0] {
	case '"':
		return json.Unmarshal(content, &m.Content)
	case '[':
		var parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(content, &parts); err != nil {
			return fmt.Errorf("message content parts: %w", err)
		}
		var texts []string
		for _, p := range parts {
			if p.Type == "text" || (p.Type == "" && p.Text != "") {
				texts = append(texts, p.Text)
			}
		}
		m.Content = strings.Join(texts, "\n")
		return nil
	default:
		return fmt.Errorf("message content must be a string or an array of parts")
	}
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages" validate:"required,min=1,max=200,dive"`

	// Stream defaults to true when omitted.
	Stream *bool `json:"stream,omitempty"`

	// User is the OpenAI end-user identifier; it scopes long-term memory
	// when the caller is not authenticated.
	User string `json:"user,omitempty"`

	// ThreadID continues a conversation thread. The X-Thread-ID header
	// takes precedence.
	ThreadID string `json:"thread_id,omitempty" validate:"omitempty,max=128"`
}

// Validate checks the request against its struct tags.
func (r *ChatCompletionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// Streaming reports whether an SSE response was requested.
func (r *ChatCompletionRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// LLMMessages converts the request messages for the agent.
func (r *ChatCompletionRequest) LLMMessages() []llm.Message {
	out := make([]llm.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// LastUserMessage returns the content of the last non-empty user message.
func (r *ChatCompletionRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		m := r.Messages[i]
		if m.Role == llm.RoleUser && strings.TrimSpace(m.Content) != "" {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}

// Delta is the incremental message of a chunk choice.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// ChunkChoice is one choice of a streamed chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE data payload.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// NewChunk builds a single-choice chunk. An empty finishReason encodes as
// null.
func NewChunk(model, content, finishReason string) ChatCompletionChunk {
	var fr *string
	if finishReason != "" {
		fr = &finishReason
	}
	return ChatCompletionChunk{
		ID:      NewCompletionID(),
		Object:  ObjectChunk,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{{Index: 0, Delta: Delta{Content: content}, FinishReason: fr}},
	}
}

// StatusPayload is JSON-encoded into the content of progress chunks.
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// String returns the JSON encoding of p.
func (p StatusPayload) String() string {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf(`{"status":%q,"message":""}`, p.Status)
	}
	return string(data)
}

// Usage reports token counts. The agent makes several model calls per
// answer, so counts are reported as zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionChoice is one choice of a non-streamed completion.
type CompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletion is the non-streamed response.
type ChatCompletion struct {
	ID       string             `json:"id"`
	Object   string             `json:"object"`
	Created  int64              `json:"created"`
	Model    string             `json:"model"`
	Choices  []CompletionChoice `json:"choices"`
	Usage    Usage              `json:"usage"`
	ThreadID string             `json:"thread_id,omitempty"`
}

// NewChatCompletion wraps an answer.
func NewChatCompletion(model, content, threadID string) ChatCompletion {
	return ChatCompletion{
		ID:      NewCompletionID(),
		Object:  ObjectCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []CompletionChoice{{
			Index:        0,
			Message:      ChatMessage{Role: llm.RoleAssistant, Content: content},
			FinishReason: FinishReasonStop,
		}},
		ThreadID: threadID,
	}
}

// NewCompletionID returns "chatcmpl-<uuid>".
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// Model describes one entry of GET /v1/models.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the body of GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
