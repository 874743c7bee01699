// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"github.com/AleutianAI/DataNexus/services/charts"
	"github.com/AleutianAI/DataNexus/services/database"
	"github.com/AleutianAI/DataNexus/services/llm"
)

// Routes chosen by the router node.
const (
	RouteGeneral = "general_conversation"
	RouteSQL     = "sql_query"
)

// State is the data passed between nodes and checkpointed after each one.
//
// Nodes write only the fields they own:
//
//	router             → NextNode
//	direct_response    → Summary
//	load_memory        → LongTermMemory
//	schema_linking     → RetrievedSchema, FewShotExamples
//	query_generation   → GeneratedSQL
//	query_execution    → QueryResult, SQLError
//	self_correction    → GeneratedSQL, SQLError, CorrectionAttempts
//	summarization      → Summary
//	plan_visualization → VisualizationPlan
//	figure_generation  → Figures, FigureErrors
//	curate_memory      → FactsToSave
type State struct {
	Question    string        `json:"question"`
	ChatHistory []llm.Message `json:"chat_history,omitempty"`
	UserID      string        `json:"user_id,omitempty"`

	NextNode string `json:"next_node,omitempty"`

	LongTermMemory  string `json:"long_term_memory,omitempty"`
	RetrievedSchema string `json:"retrieved_schema,omitempty"`
	FewShotExamples string `json:"few_shot_examples,omitempty"`

	GeneratedSQL       string         `json:"generated_sql,omitempty"`
	SQLError           string         `json:"sql_error,omitempty"`
	QueryResult        *database.Rows `json:"query_result,omitempty"`
	CorrectionAttempts int            `json:"correction_attempts"`

	Summary           string           `json:"summary,omitempty"`
	VisualizationPlan *charts.Plan     `json:"visualization_plan,omitempty"`
	Figures           []*charts.Figure `json:"figures,omitempty"`
	FigureErrors      []string         `json:"figure_errors,omitempty"`

	FactsToSave []string `json:"facts_to_save,omitempty"`
}

// HasRows reports whether the last execution returned data without error.
func (s *State) HasRows() bool {
	return s.SQLError == "" && s.QueryResult.Len() > 0
}
