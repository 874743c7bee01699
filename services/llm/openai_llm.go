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
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultMistralBaseURL = "https://api.mistral.ai/v1"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// Mistral's La Plateforme speaks the same protocol, so both backends share
// this type.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	backend string
}

// OpenAIConfig configures an OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string

	// SecretPath is read when APIKey is empty.
	SecretPath string
}

func resolveAPIKey(apiKey, secretPath, envName string) (string, error) {
	if apiKey != "" {
		return apiKey, nil
	}
	if secretPath != "" {
		if content, err := os.ReadFile(secretPath); err == nil {
			slog.Info("Read API key from secret file", "path", secretPath)
			return strings.TrimSpace(string(content)), nil
		}
	}
	return "", fmt.Errorf("%s is not set and no secret was found", envName)
}

// NewOpenAIClient builds a client for api.openai.com or a compatible server.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.SecretPath == "" {
		cfg.SecretPath = "/run/secrets/openai_api_key"
	}
	apiKey, err := resolveAPIKey(cfg.APIKey, cfg.SecretPath, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	slog.Info("Initializing OpenAI client", "model", cfg.Model, "base_url", clientCfg.BaseURL)
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		backend: "openai",
	}, nil
}

// NewMistralClient builds a client for Mistral's chat completions API.
func NewMistralClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.SecretPath == "" {
		cfg.SecretPath = "/run/secrets/mistral_api_key"
	}
	apiKey, err := resolveAPIKey(cfg.APIKey, cfg.SecretPath, "MISTRAL_API_KEY")
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "mistral-large-latest"
	}
	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = defaultMistralBaseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	slog.Info("Initializing Mistral client", "model", cfg.Model)
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		backend: "mistral",
	}, nil
}

func (o *OpenAIClient) Backend() string { return o.backend }

// Chat implements the LLMClient interface.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.backend", o.backend),
		attribute.String("llm.model", o.model),
		attribute.Bool("llm.json_mode", params.JSONMode),
	)

	valid := FilterMessages(messages)
	if len(valid) == 0 {
		slog.Warn("No valid messages to send", "backend", o.backend)
		return "", ErrNoMessages
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(valid)),
	}
	for _, m := range valid {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		// Mistral rejects max_completion_tokens.
		if o.backend == "mistral" {
			req.MaxTokens = *params.MaxTokens
		} else {
			req.MaxCompletionTokens = *params.MaxTokens
		}
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	if params.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Chat completion failed", "backend", o.backend, "duration", time.Since(start), "error", err)
		return "", fmt.Errorf("%s API call failed: %w", o.backend, err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Received a response with no choices", "backend", o.backend)
		return "", ErrEmptyResponse
	}
	slog.Info("Chat completion successful",
		"backend", o.backend,
		"duration", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason)
	span.SetAttributes(attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}

var _ LLMClient = (*OpenAIClient)(nil)
