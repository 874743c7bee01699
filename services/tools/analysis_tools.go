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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/DataNexus/services/charts"
	"github.com/AleutianAI/DataNexus/services/database"
	"github.com/AleutianAI/DataNexus/services/prompts"
)

// NothingToSummarize is returned for empty results.
const NothingToSummarize = "The query returned no data. There is nothing to summarize."

// summaryRowLimit caps the rows sent to the summarizer.
const summaryRowLimit = 200

// previewRows is the number of sample rows shown to the chart planner.
const previewRows = 3

// ErrNoData is returned by PlanVisualizations for empty results.
var ErrNoData = errors.New("no data available to create a visualization plan")

// Summarize asks the model for an executive summary of rows.
func (t *Toolbox) Summarize(ctx context.Context, question string, rows *database.Rows) string {
	logToolCall(ctx, "summarize_results", question)
	if rows.Len() == 0 {
		slog.WarnContext(ctx, "No data provided to summarize")
		return NothingToSummarize
	}

	records := rows.Records
	note := ""
	if len(records) > summaryRowLimit {
		note = fmt.Sprintf("\n(showing the first %d of %d rows)", summaryRowLimit, len(records))
		records = records[:summaryRowLimit]
	} else if rows.Truncated {
		note = "\n(the result was truncated at the row limit)"
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Sprintf("Error: Failed to generate summary. Details: %v", err)
	}

	msgs, err := prompts.Build(prompts.Summarization, prompts.Data{Question: question, Data: string(data) + note})
	if err != nil {
		return fmt.Sprintf("Error: Failed to generate summary. Details: %v", err)
	}
	summary, err := t.llm.Chat(ctx, msgs, t.params)
	if err == nil && strings.TrimSpace(summary) == "" {
		err = errors.New("LLM failed to generate a summary")
	}
	if err != nil {
		slog.ErrorContext(ctx, "Summarization failed", "error", err)
		return fmt.Sprintf("Error: Failed to generate summary. Details: %v", err)
	}
	slog.InfoContext(ctx, "Successfully generated summary")
	return strings.TrimSpace(summary)
}

type dataPreview struct {
	Columns     []string         `json:"columns"`
	PreviewRows []map[string]any `json:"preview_rows"`
}

// PlanVisualizations asks the model for a chart plan over rows.
//
// # Description
//
// Only the column list and the first three rows are shown to the model.
// The response must be a JSON object; it is validated by charts.ParsePlan,
// which also drops charts beyond charts.MaxCharts. An empty "charts" list
// is a valid plan meaning "not chartable".
//
// # Outputs
//
//   - *charts.Plan: The validated plan.
//   - error: ErrNoData, an LLM failure, or charts.ErrInvalidPlan.
func (t *Toolbox) PlanVisualizations(ctx context.Context, question string, rows *database.Rows) (*charts.Plan, error) {
	logToolCall(ctx, "plan_visualizations", question)
	if rows.Len() == 0 {
		return nil, ErrNoData
	}

	preview := dataPreview{Columns: rows.Columns, PreviewRows: rows.Records}
	if len(preview.PreviewRows) > previewRows {
		preview.PreviewRows = preview.PreviewRows[:previewRows]
	}
	if len(preview.Columns) == 0 {
		for k := range rows.Records[0] {
			preview.Columns = append(preview.Columns, k)
		}
		sort.Strings(preview.Columns)
	}
	data, err := json.MarshalIndent(preview, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode data preview: %w", err)
	}

	msgs, err := prompts.Build(prompts.Visualization, prompts.Data{
		Question:  question,
		Data:      string(data),
		MaxCharts: charts.MaxCharts,
	})
	if err != nil {
		return nil, err
	}
	raw, err := t.llm.Chat(ctx, msgs, t.params.JSON())
	if err != nil {
		return nil, fmt.Errorf("plan visualizations: %w", err)
	}
	plan, err := charts.ParsePlan(raw)
	if err != nil {
		slog.ErrorContext(ctx, "LLM returned an invalid visualization plan", "error", err)
		return nil, err
	}
	slog.InfoContext(ctx, "Validated visualization plan", "charts", len(plan.Charts))
	return plan, nil
}
