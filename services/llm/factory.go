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
	"time"

	"github.com/AleutianAI/DataNexus/services/config"
)

// Observer is notified after every backend call.
type Observer func(backend string, duration time.Duration, err error)

// ObservedClient reports each call's latency and outcome to an Observer.
type ObservedClient struct {
	inner    LLMClient
	observer Observer
}

// NewObservedClient wraps inner. A nil observer makes it a passthrough.
func NewObservedClient(inner LLMClient, observer Observer) *ObservedClient {
	return &ObservedClient{inner: inner, observer: observer}
}

func (o *ObservedClient) Backend() string { return o.inner.Backend() }

func (o *ObservedClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	start := time.Now()
	out, err := o.inner.Chat(ctx, messages, params)
	if o.observer != nil {
		o.observer(o.inner.Backend(), time.Since(start), err)
	}
	return out, err
}

// NewFromSettings builds the configured backend, wrapped so every attempt
// is observed and failures are retried per the configured policy.
func NewFromSettings(cfg config.LLMConfig, observer Observer) (LLMClient, error) {
	var (
		base LLMClient
		err  error
	)
	switch cfg.Backend {
	case "", "mistral":
		base, err = NewMistralClient(OpenAIConfig{APIKey: cfg.MistralAPIKey, Model: cfg.MistralModel, BaseURL: cfg.MistralBaseURL})
	case "openai":
		base, err = NewOpenAIClient(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL})
	case "ollama":
		base, err = NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel)
	case "anthropic":
		base, err = NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, "")
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s client: %w", cfg.Backend, err)
	}

	policy := RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		MinWait:     time.Duration(cfg.RetryMinWaitSeconds) * time.Second,
		MaxWait:     time.Duration(cfg.RetryMaxWaitSeconds) * time.Second,
		Multiplier:  1,
	}
	return NewRetryingClient(NewObservedClient(base, observer), policy), nil
}

// ParamsFromSettings returns generation defaults from configuration.
func ParamsFromSettings(cfg config.LLMConfig) GenerationParams {
	params := DefaultParams()
	temp := cfg.Temperature
	params.Temperature = &temp
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		params.MaxTokens = &maxTokens
	}
	return params
}
