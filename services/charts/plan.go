// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package charts turns a visualization plan and query rows into
// Plotly-compatible figure JSON. Figures are built directly from the plan;
// no generated code is ever executed.
package charts

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Supported chart types.
const (
	TypeKPI       = "kpi"
	TypeBar       = "bar"
	TypeLine      = "line"
	TypePie       = "pie"
	TypeScatter   = "scatter"
	TypeHeatmap   = "heatmap"
	TypeBox       = "box"
	TypeHistogram = "histogram"
)

// MaxCharts is the most charts kept from one plan.
const MaxCharts = 3

var (
	ErrInvalidPlan      = errors.New("invalid visualization plan")
	ErrInvalidColumn    = errors.New("invalid column for chart")
	ErrNoNumericData    = errors.New("no valid numeric data for chart")
	ErrUnsupportedChart = errors.New("unsupported chart type")
)

// SupportedTypes lists the chart types Build accepts.
func SupportedTypes() []string {
	return []string{TypeKPI, TypeBar, TypeLine, TypePie, TypeScatter, TypeHeatmap, TypeBox, TypeHistogram}
}

func isSupported(t string) bool {
	for _, s := range SupportedTypes() {
		if s == t {
			return true
		}
	}
	return false
}

// ChartPlan describes one chart.
type ChartPlan struct {
	ChartType   string `json:"chart_type"`
	Title       string `json:"title"`
	XAxis       string `json:"x_axis,omitempty"`
	YAxis       string `json:"y_axis,omitempty"`
	ZAxis       string `json:"z_axis,omitempty"`
	ValueColumn string `json:"value_column,omitempty"`
	Explanation string `json:"explanation"`
}

// Validate checks the required fields.
func (c ChartPlan) Validate() error {
	switch {
	case strings.TrimSpace(c.ChartType) == "":
		return fmt.Errorf("%w: chart_type is required", ErrInvalidPlan)
	case !isSupported(c.ChartType):
		return fmt.Errorf("%w: %w: %q", ErrInvalidPlan, ErrUnsupportedChart, c.ChartType)
	case strings.TrimSpace(c.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidPlan)
	case strings.TrimSpace(c.Explanation) == "":
		return fmt.Errorf("%w: explanation is required", ErrInvalidPlan)
	}
	return nil
}

// Plan is the dashboard the planner proposes.
type Plan struct {
	Charts []ChartPlan `json:"charts"`
}

// ParsePlan decodes and validates a planner response. Markdown code fences
// around the JSON are tolerated. Plans with more than MaxCharts charts are
// truncated first; invalid charts among the rest are skipped with a
// warning. An error is returned only when charts were proposed and none of
// them is valid.
func ParsePlan(raw string) (*Plan, error) {
	raw = stripFences(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidPlan)
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if plan.Charts == nil {
		return nil, fmt.Errorf("%w: charts is required", ErrInvalidPlan)
	}
	if len(plan.Charts) > MaxCharts {
		plan.Charts = plan.Charts[:MaxCharts]
	}
	if len(plan.Charts) == 0 {
		return &plan, nil
	}

	valid := make([]ChartPlan, 0, len(plan.Charts))
	var firstErr error
	for i, c := range plan.Charts {
		if err := c.Validate(); err != nil {
			slog.Warn("Skipping invalid chart in plan", "index", i, "chart_type", c.ChartType, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("chart %d: %w", i, err)
			}
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil, firstErr
	}
	plan.Charts = valid
	return &plan, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
