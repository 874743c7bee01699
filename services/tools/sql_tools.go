// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/DataNexus/services/database"
	"github.com/AleutianAI/DataNexus/services/vectorstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Degraded retrieval messages.
const (
	NoSchemaFound   = "No relevant database schema information was found for your question."
	NoExamplesFound = "No query examples were found for this type of question."
)

// DocSeparator joins retrieved documents.
const DocSeparator = "\n\n---\n\n"

// RelevantSchema returns the schema documents closest to question.
func (t *Toolbox) RelevantSchema(ctx context.Context, question string) string {
	logToolCall(ctx, "get_relevant_schema", question)
	hits, err := t.store.SimilaritySearch(ctx, vectorstore.CollectionSchema, question, t.retrieval.SchemaTopK, nil)
	if err != nil {
		slog.ErrorContext(ctx, "Schema retrieval failed", "error", err)
		return fmt.Sprintf("Error: Failed to retrieve database schema. Details: %v", err)
	}
	if len(hits) == 0 {
		slog.WarnContext(ctx, "No relevant schema found for the question")
		return NoSchemaFound
	}
	return joinHits(hits)
}

// FewShotExamples returns the stored question/SQL pairs closest to question.
func (t *Toolbox) FewShotExamples(ctx context.Context, question string) string {
	logToolCall(ctx, "get_few_shot_examples", question)
	hits, err := t.store.SimilaritySearch(ctx, vectorstore.CollectionFewShot, question, t.retrieval.FewShotTopK, nil)
	if err != nil {
		slog.ErrorContext(ctx, "Few-shot retrieval failed", "error", err)
		return fmt.Sprintf("Error: Failed to retrieve few-shot examples. Details: %v", err)
	}
	if len(hits) == 0 {
		slog.WarnContext(ctx, "No few-shot examples found for the question")
		return NoExamplesFound
	}
	return joinHits(hits)
}

func joinHits(hits []vectorstore.SearchResult) string {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	return strings.Join(texts, DocSeparator)
}

// ExecResult is the outcome of ExecuteSQL. Exactly one of Rows and Error is
// set.
type ExecResult struct {
	Rows  *database.Rows `json:"rows,omitempty"`
	Error string         `json:"error,omitempty"`
}

// ExecuteSQL validates sql against the read-only policy and runs it.
//
// # Description
//
// Rejected or failing statements are reported through ExecResult.Error
// with the text the correction prompt should see. A statement without
// result columns yields empty Rows.
func (t *Toolbox) ExecuteSQL(ctx context.Context, sql string) ExecResult {
	logToolCall(ctx, "execute_sql_query", sql)
	ctx, span := tracer.Start(ctx, "tools.ExecuteSQL")
	defer span.End()

	if err := t.policy.ValidateSQL(sql); err != nil {
		slog.ErrorContext(ctx, "SQL rejected by policy", "error", err)
		span.SetStatus(codes.Error, "rejected")
		t.sqlOutcome(OutcomeRejected)
		return ExecResult{Error: err.Error()}
	}

	rows, err := t.db.QueryRows(ctx, sql)
	if err != nil {
		slog.ErrorContext(ctx, "Database execution error", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		t.sqlOutcome(OutcomeError)
		return ExecResult{Error: err.Error()}
	}
	if rows == nil {
		rows = &database.Rows{}
	}
	span.SetAttributes(attribute.Int("sql.rows", rows.Len()))
	slog.InfoContext(ctx, "Query executed successfully", "rows", rows.Len(), "truncated", rows.Truncated)
	t.sqlOutcome(OutcomeOK)
	return ExecResult{Rows: rows}
}

func (t *Toolbox) sqlOutcome(outcome string) {
	if t.observer.SQLExecuted != nil {
		t.observer.SQLExecuted(outcome)
	}
}

// CleanSQL removes markdown fences and surrounding whitespace from model
// output.
func CleanSQL(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```sql", "")
	s = strings.ReplaceAll(s, "```SQL", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
