// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools implements the retrieval, execution, analysis and memory
// operations the agent nodes call.
//
// Soft failures never surface as Go errors: each tool logs the problem and
// returns the user-facing degraded text instead, so a failed retrieval or
// summary does not abort a graph run.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/DataNexus/services/config"
	"github.com/AleutianAI/DataNexus/services/database"
	"github.com/AleutianAI/DataNexus/services/llm"
	"github.com/AleutianAI/DataNexus/services/policy_engine"
	"github.com/AleutianAI/DataNexus/services/vectorstore"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("datanexus.tools")

// SQL execution outcomes reported to the Observer.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Observer receives tool events for metrics. Every field may be nil.
type Observer struct {
	SQLExecuted func(outcome string)
	MemorySaved func()
}

// Deps are the collaborators of a Toolbox.
type Deps struct {
	Store     vectorstore.Store
	DB        database.Querier
	LLM       llm.LLMClient
	Policy    *policy_engine.PolicyEngine
	Params    llm.GenerationParams
	Retrieval config.RetrievalConfig
	Observer  Observer
}

// Toolbox bundles the agent tools over shared dependencies.
//
// # Thread Safety
//
// Safe for concurrent use when the dependencies are.
type Toolbox struct {
	store     vectorstore.Store
	db        database.Querier
	llm       llm.LLMClient
	policy    *policy_engine.PolicyEngine
	params    llm.GenerationParams
	retrieval config.RetrievalConfig
	observer  Observer
}

// New validates deps and returns a Toolbox. Zero top-K values fall back to
// 5 schema docs, 3 examples and 5 memories.
func New(deps Deps) (*Toolbox, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("tools: vector store is required")
	case deps.DB == nil:
		return nil, fmt.Errorf("tools: database is required")
	case deps.LLM == nil:
		return nil, fmt.Errorf("tools: llm client is required")
	}
	if deps.Policy == nil {
		p, err := policy_engine.NewPolicyEngine()
		if err != nil {
			return nil, fmt.Errorf("tools: load policy: %w", err)
		}
		deps.Policy = p
	}
	r := deps.Retrieval
	if r.SchemaTopK <= 0 {
		r.SchemaTopK = 5
	}
	if r.FewShotTopK <= 0 {
		r.FewShotTopK = 3
	}
	if r.MemoryTopK <= 0 {
		r.MemoryTopK = 5
	}
	if deps.Params.Temperature == nil && deps.Params.MaxTokens == nil {
		deps.Params = llm.DefaultParams()
	}
	return &Toolbox{
		store:     deps.Store,
		db:        deps.DB,
		llm:       deps.LLM,
		policy:    deps.Policy,
		params:    deps.Params,
		retrieval: r,
		observer:  deps.Observer,
	}, nil
}

// Params returns the generation parameters shared by LLM-backed tools.
func (t *Toolbox) Params() llm.GenerationParams { return t.params }

// LLM returns the chat client.
func (t *Toolbox) LLM() llm.LLMClient { return t.llm }

// Policy returns the policy engine used for SQL validation.
func (t *Toolbox) Policy() *policy_engine.PolicyEngine { return t.policy }

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func logToolCall(ctx context.Context, tool, input string) {
	slog.InfoContext(ctx, "Tool invoked", "tool", tool, "input", clip(input, 100))
}
