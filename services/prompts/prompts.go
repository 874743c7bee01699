// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts renders the chat prompts used by the agent and its tools.
package prompts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/AleutianAI/DataNexus/services/llm"
)

// Kind identifies a prompt.
type Kind string

const (
	Router        Kind = "router"
	Direct        Kind = "direct_response"
	SQLGeneration Kind = "sql_generation"
	SQLCorrection Kind = "sql_correction"
	Summarization Kind = "summarization"
	Visualization Kind = "visualization_planning"
	Curation      Kind = "memory_curation"
)

// Markers are substrings unique to each system prompt.
var Markers = map[Kind]string{
	Router:        "expert AI router and dispatcher",
	Direct:        "helpful AI data assistant",
	SQLGeneration: "senior PostgreSQL data analyst",
	SQLCorrection: "expert PostgreSQL debugger",
	Summarization: "presenting findings to a business executive",
	Visualization: "Visualization Planner",
	Curation:      "AI Memory Curator",
}

// Data is the union of every template's fields; each template reads the
// ones it needs.
type Data struct {
	Question  string
	History   string
	Schema    string
	FewShot   string
	Memory    string
	FailedSQL string
	Error     string
	Data      string
	MaxCharts int
}

type pair struct {
	system *template.Template
	user   *template.Template
}

var registry = map[Kind]pair{
	Router:        mustPair(Router, routerSystem, routerUser),
	Direct:        mustPair(Direct, directSystem, directUser),
	SQLGeneration: mustPair(SQLGeneration, sqlGenerationSystem, sqlGenerationUser),
	SQLCorrection: mustPair(SQLCorrection, sqlCorrectionSystem, sqlCorrectionUser),
	Summarization: mustPair(Summarization, summarizationSystem, summarizationUser),
	Visualization: mustPair(Visualization, visualizationSystem, visualizationUser),
	Curation:      mustPair(Curation, curationSystem, curationUser),
}

func mustPair(kind Kind, system, user string) pair {
	return pair{
		system: template.Must(template.New(string(kind) + "_system").Option("missingkey=error").Parse(system)),
		user:   template.Must(template.New(string(kind) + "_user").Option("missingkey=error").Parse(user)),
	}
}

// Build renders a prompt into a system and a user message.
//
// # Inputs
//
//   - kind: Which prompt to render.
//   - data: Template values. Unused fields are ignored.
//
// # Outputs
//
//   - []llm.Message: [system, user].
//   - error: Unknown kind or a template execution failure.
func Build(kind Kind, data Data) ([]llm.Message, error) {
	p, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown prompt %q", kind)
	}
	system, err := execute(p.system, data)
	if err != nil {
		return nil, err
	}
	user, err := execute(p.user, data)
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}, nil
}

func execute(t *template.Template, data Data) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// FormatHistory renders chat turns one per line as "role: content".
func FormatHistory(history []llm.Message) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
