// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmtest provides an in-memory llm.LLMClient for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/DataNexus/services/llm"
)

// Rule answers calls whose system prompt contains Match.
type Rule struct {
	Match string
	Reply string
	Err   error

	// Replies, when set, are consumed in order; the last one repeats.
	Replies []string
}

// Call is a recorded request.
type Call struct {
	Messages []llm.Message
	Params   llm.GenerationParams
}

// ScriptedClient routes each call to the first rule whose Match appears in
// the concatenated system messages.
type ScriptedClient struct {
	mu    sync.Mutex
	rules []*Rule
	calls []Call
	used  map[*Rule]int
}

// New returns a client answering with rules in order of precedence.
func New(rules ...Rule) *ScriptedClient {
	c := &ScriptedClient{used: make(map[*Rule]int)}
	for i := range rules {
		r := rules[i]
		c.rules = append(c.rules, &r)
	}
	return c
}

func (c *ScriptedClient) Backend() string { return "scripted" }

func (c *ScriptedClient) Chat(_ context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Messages: append([]llm.Message(nil), messages...), Params: params})

	var system strings.Builder
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			system.WriteString(m.Content)
		}
	}
	for _, r := range c.rules {
		if !strings.Contains(system.String(), r.Match) {
			continue
		}
		if r.Err != nil {
			return "", r.Err
		}
		if len(r.Replies) > 0 {
			i := c.used[r]
			if i >= len(r.Replies) {
				i = len(r.Replies) - 1
			}
			c.used[r]++
			return r.Replies[i], nil
		}
		return r.Reply, nil
	}
	return "", fmt.Errorf("llmtest: no rule matched system prompt %q", truncate(system.String(), 60))
}

// Calls returns every recorded request.
func (c *ScriptedClient) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsMatching counts calls whose system prompt contains substr.
func (c *ScriptedClient) CallsMatching(substr string) int {
	n := 0
	for _, call := range c.Calls() {
		for _, m := range call.Messages {
			if m.Role == llm.RoleSystem && strings.Contains(m.Content, substr) {
				n++
				break
			}
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ llm.LLMClient = (*ScriptedClient)(nil)
