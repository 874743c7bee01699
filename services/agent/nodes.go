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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/DataNexus/services/charts"
	"github.com/AleutianAI/DataNexus/services/prompts"
	"github.com/AleutianAI/DataNexus/services/tools"
	"golang.org/x/sync/errgroup"
)

// Node names.
const (
	NodeRouter            = "router"
	NodeDirectResponse    = "direct_response"
	NodeLoadMemory        = "load_memory"
	NodeSchemaLinking     = "schema_linking"
	NodeQueryGeneration   = "query_generation"
	NodeQueryExecution    = "query_execution"
	NodeSelfCorrection    = "self_correction"
	NodeSummarization     = "summarization"
	NodePlanVisualization = "plan_visualization"
	NodeFigureGeneration  = "figure_generation"
	NodeCurateMemory      = "curate_memory"
	NodeSaveMemory        = "save_memory"
)

// Fallback texts written into State.
const (
	MemoryDisabled    = "Long-term memory is disabled for this session."
	NoMemoryAvailable = "No long-term memory available for this user."
	NoDataToSummarize = "The query returned no data to summarize."
	correctionsSpent  = "I could not produce a working query for your question after %d correction attempts. Last database error: %s"
)

// ErrEmptySQL is returned when the model produced no SQL.
var ErrEmptySQL = errors.New("llm returned an empty SQL query")

type routerReply struct {
	Route string `json:"route"`
}

type curationReply struct {
	FactsToSave []string `json:"facts_to_save"`
}

func (a *Agent) chat(ctx context.Context, kind prompts.Kind, data prompts.Data, jsonMode bool) (string, error) {
	msgs, err := prompts.Build(kind, data)
	if err != nil {
		return "", err
	}
	params := a.tools.Params()
	if jsonMode {
		params = params.JSON()
	}
	return a.tools.LLM().Chat(ctx, msgs, params)
}

// router classifies the question. A reply that is not valid JSON or names
// an unknown route falls back to general conversation; an LLM failure
// aborts the run.
func (a *Agent) router(ctx context.Context, s *State) error {
	raw, err := a.chat(ctx, prompts.Router, prompts.Data{
		Question: s.Question,
		History:  prompts.FormatHistory(s.ChatHistory),
	}, true)
	if err != nil {
		return fmt.Errorf("route question: %w", err)
	}

	var reply routerReply
	if err := json.Unmarshal([]byte(extractJSON(raw)), &reply); err != nil {
		slog.WarnContext(ctx, "Router reply is not valid JSON, defaulting route", "error", err, "reply", clip(raw, 200))
	}
	switch reply.Route {
	case RouteSQL, RouteGeneral:
		s.NextNode = reply.Route
	default:
		if reply.Route != "" {
			slog.WarnContext(ctx, "Router chose an unknown route, defaulting", "route", reply.Route)
		}
		s.NextNode = RouteGeneral
	}
	slog.InfoContext(ctx, "Router decision", "route", s.NextNode)
	return nil
}

func (a *Agent) directResponse(ctx context.Context, s *State) error {
	reply, err := a.chat(ctx, prompts.Direct, prompts.Data{
		Question: s.Question,
		History:  prompts.FormatHistory(s.ChatHistory),
	}, false)
	if err != nil {
		return fmt.Errorf("direct response: %w", err)
	}
	s.Summary = strings.TrimSpace(reply)
	return nil
}

func (a *Agent) loadMemory(ctx context.Context, s *State) error {
	if s.UserID == "" {
		slog.WarnContext(ctx, "No user_id in state, skipping memory load")
		s.LongTermMemory = MemoryDisabled
		return nil
	}
	s.LongTermMemory = a.tools.LoadMemory(ctx, s.UserID, s.Question)
	return nil
}

// schemaLinking retrieves schema docs and few-shot examples concurrently.
// Both tools degrade to text, so the group never fails.
func (a *Agent) schemaLinking(ctx context.Context, s *State) error {
	var schema, examples string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		schema = a.tools.RelevantSchema(gctx, s.Question)
		return nil
	})
	g.Go(func() error {
		examples = a.tools.FewShotExamples(gctx, s.Question)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	s.RetrievedSchema = schema
	s.FewShotExamples = examples
	return nil
}

func (a *Agent) queryGeneration(ctx context.Context, s *State) error {
	memory := s.LongTermMemory
	if memory == "" {
		memory = NoMemoryAvailable
	}
	raw, err := a.chat(ctx, prompts.SQLGeneration, prompts.Data{
		Question: s.Question,
		Schema:   s.RetrievedSchema,
		FewShot:  s.FewShotExamples,
		Memory:   memory,
	}, false)
	if err != nil {
		return fmt.Errorf("generate sql: %w", err)
	}
	sql := tools.CleanSQL(raw)
	if sql == "" {
		return ErrEmptySQL
	}
	s.GeneratedSQL = sql
	slog.InfoContext(ctx, "Generated SQL", "sql", clip(sql, 500))
	return nil
}

func (a *Agent) queryExecution(ctx context.Context, s *State) error {
	res := a.tools.ExecuteSQL(ctx, s.GeneratedSQL)
	s.QueryResult = res.Rows
	s.SQLError = res.Error
	return nil
}

// selfCorrection asks the model to fix the failed query. It counts the
// attempt even when the model fails, so the loop stays bounded.
func (a *Agent) selfCorrection(ctx context.Context, s *State) error {
	s.CorrectionAttempts++
	if a.observer.SelfCorrection != nil {
		a.observer.SelfCorrection()
	}
	slog.InfoContext(ctx, "Attempting SQL self-correction", "attempt", s.CorrectionAttempts, "error", clip(s.SQLError, 300))

	raw, err := a.chat(ctx, prompts.SQLCorrection, prompts.Data{
		Question:  s.Question,
		Schema:    s.RetrievedSchema,
		FailedSQL: s.GeneratedSQL,
		Error:     s.SQLError,
	}, false)
	if err != nil {
		return fmt.Errorf("correct sql: %w", err)
	}
	sql := tools.CleanSQL(raw)
	if sql == "" {
		return ErrEmptySQL
	}
	s.GeneratedSQL = sql
	s.SQLError = ""
	return nil
}

func (a *Agent) summarization(ctx context.Context, s *State) error {
	switch {
	case s.SQLError != "":
		s.Summary = fmt.Sprintf(correctionsSpent, s.CorrectionAttempts, s.SQLError)
	case s.QueryResult.Len() == 0:
		s.Summary = NoDataToSummarize
	default:
		s.Summary = a.tools.Summarize(ctx, s.Question, s.QueryResult)
	}
	return nil
}

// planVisualization never fails the run: a bad plan leaves
// VisualizationPlan nil and the answer goes out without charts.
func (a *Agent) planVisualization(ctx context.Context, s *State) error {
	plan, err := a.tools.PlanVisualizations(ctx, s.Question, s.QueryResult)
	if err != nil {
		slog.WarnContext(ctx, "Visualization planning failed", "error", err)
		s.VisualizationPlan = nil
		return nil
	}
	s.VisualizationPlan = plan
	return nil
}

func (a *Agent) figureGeneration(ctx context.Context, s *State) error {
	s.Figures = nil
	s.FigureErrors = nil
	if s.VisualizationPlan == nil || len(s.VisualizationPlan.Charts) == 0 || s.QueryResult.Len() == 0 {
		slog.InfoContext(ctx, "No visualization plan or data, skipping figure generation")
		return nil
	}
	for _, cp := range s.VisualizationPlan.Charts {
		fig, err := charts.Build(cp, s.QueryResult.Records)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to generate figure", "title", cp.Title, "error", err)
			s.FigureErrors = append(s.FigureErrors, fmt.Sprintf("%s: %v", cp.Title, err))
			continue
		}
		s.Figures = append(s.Figures, fig)
	}
	slog.InfoContext(ctx, "Generated figures", "count", len(s.Figures), "failed", len(s.FigureErrors))
	return nil
}

// curateMemory extracts durable facts from the conversation. Every
// failure yields no facts.
func (a *Agent) curateMemory(ctx context.Context, s *State) error {
	s.FactsToSave = nil
	if len(s.ChatHistory) == 0 {
		return nil
	}
	raw, err := a.chat(ctx, prompts.Curation, prompts.Data{
		History: prompts.FormatHistory(s.ChatHistory),
	}, true)
	if err != nil {
		slog.ErrorContext(ctx, "Memory curation failed", "error", err)
		return nil
	}
	var reply curationReply
	if err := json.Unmarshal([]byte(extractJSON(raw)), &reply); err != nil {
		slog.ErrorContext(ctx, "Memory curation reply is not valid JSON", "error", err)
		return nil
	}
	for _, f := range reply.FactsToSave {
		if f = strings.TrimSpace(f); f != "" {
			s.FactsToSave = append(s.FactsToSave, f)
		}
	}
	slog.InfoContext(ctx, "Curated facts", "count", len(s.FactsToSave))
	return nil
}

func (a *Agent) saveMemory(ctx context.Context, s *State) error {
	if s.UserID == "" || len(s.FactsToSave) == 0 {
		slog.InfoContext(ctx, "No user_id or facts to save, skipping memory persistence")
		return nil
	}
	for _, fact := range s.FactsToSave {
		a.tools.SaveMemory(ctx, s.UserID, fact)
	}
	return nil
}

// Routing functions.

func routeFromRouter(s *State) string {
	if s.NextNode == RouteSQL {
		return RouteSQL
	}
	return RouteGeneral
}

func (a *Agent) routeAfterExecution(s *State) string {
	if s.SQLError != "" && s.CorrectionAttempts < a.cfg.MaxCorrectionAttempts {
		return NodeSelfCorrection
	}
	return NodeSummarization
}

func routeAfterSummary(s *State) string {
	if s.HasRows() {
		return NodePlanVisualization
	}
	return NodeCurateMemory
}

// extractJSON returns the outermost {...} of s, tolerating markdown
// fences and chatter around the object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
