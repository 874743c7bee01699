// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package charts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// Trace is one Plotly trace object.
type Trace map[string]any

// Figure is a Plotly figure: {"data": [...], "layout": {...}}.
type Figure struct {
	Data   []Trace        `json:"data"`
	Layout map[string]any `json:"layout"`
}

// Title returns the layout title text, if any.
func (f *Figure) Title() string {
	if f == nil {
		return ""
	}
	if t, ok := f.Layout["title"].(map[string]any); ok {
		if s, ok := t["text"].(string); ok {
			return s
		}
	}
	if len(f.Data) == 1 {
		if t, ok := f.Data[0]["title"].(map[string]any); ok {
			if s, ok := t["text"].(string); ok {
				return s
			}
		}
	}
	return ""
}

// JSON renders the figure for plotly.js.
func (f *Figure) JSON() ([]byte, error) {
	return json.Marshal(f)
}

// Build produces the figure for one chart.
//
// # Description
//
// Column values are coerced to numbers where the chart needs them;
// values that cannot be coerced become null, or drop the row for chart
// types that cannot plot gaps (kpi, scatter, heatmap, box, histogram).
//
// # Outputs
//
//   - *Figure: Ready to serialise.
//   - error: ErrInvalidColumn, ErrNoNumericData or ErrUnsupportedChart.
func Build(plan ChartPlan, rows []map[string]any) (*Figure, error) {
	cols := columnSet(rows)
	title := plan.Title

	switch plan.ChartType {
	case TypeKPI:
		if err := requireColumns(cols, plan.ChartType, plan.ValueColumn); err != nil {
			return nil, err
		}
		values := numericColumn(rows, plan.ValueColumn)
		var sum float64
		n := 0
		for _, v := range values {
			if v != nil {
				sum += *v
				n++
			}
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: column %q for kpi", ErrNoNumericData, plan.ValueColumn)
		}
		if n > 1 {
			slog.Info("Multiple rows for KPI, aggregating to a sum", "column", plan.ValueColumn, "sum", sum)
		}
		return &Figure{
			Data: []Trace{{
				"type":  "indicator",
				"mode":  "number",
				"value": sum,
				"title": map[string]any{"text": title},
			}},
			Layout: map[string]any{"height": 250},
		}, nil

	case TypeBar, TypeLine, TypePie:
		if err := requireColumns(cols, plan.ChartType, plan.XAxis, plan.YAxis); err != nil {
			return nil, err
		}
		xs := rawColumn(rows, plan.XAxis)
		ys := nullable(numericColumn(rows, plan.YAxis))
		var trace Trace
		switch plan.ChartType {
		case TypeBar:
			trace = Trace{"type": "bar", "x": xs, "y": ys}
		case TypeLine:
			trace = Trace{"type": "scatter", "mode": "lines", "x": xs, "y": ys}
		default:
			trace = Trace{"type": "pie", "labels": xs, "values": ys}
			return &Figure{Data: []Trace{trace}, Layout: layout(title, "", "")}, nil
		}
		return &Figure{Data: []Trace{trace}, Layout: layout(title, plan.XAxis, plan.YAxis)}, nil

	case TypeScatter:
		if err := requireColumns(cols, plan.ChartType, plan.XAxis, plan.YAxis); err != nil {
			return nil, err
		}
		xs, ys := numericColumn(rows, plan.XAxis), numericColumn(rows, plan.YAxis)
		var outX, outY []float64
		for i := range rows {
			if xs[i] != nil && ys[i] != nil {
				outX = append(outX, *xs[i])
				outY = append(outY, *ys[i])
			}
		}
		if len(outX) == 0 {
			return nil, fmt.Errorf("%w: columns %q and %q for scatter", ErrNoNumericData, plan.XAxis, plan.YAxis)
		}
		return &Figure{
			Data:   []Trace{{"type": "scatter", "mode": "markers", "x": outX, "y": outY}},
			Layout: layout(title, plan.XAxis, plan.YAxis),
		}, nil

	case TypeHeatmap:
		if err := requireColumns(cols, plan.ChartType, plan.XAxis, plan.YAxis, plan.ZAxis); err != nil {
			return nil, err
		}
		zs := numericColumn(rows, plan.ZAxis)
		var outX, outY []any
		var outZ []float64
		for i, r := range rows {
			x, y := r[plan.XAxis], r[plan.YAxis]
			if x == nil || y == nil || zs[i] == nil {
				continue
			}
			outX = append(outX, x)
			outY = append(outY, y)
			outZ = append(outZ, *zs[i])
		}
		if len(outZ) == 0 {
			return nil, fmt.Errorf("%w: columns %q, %q, %q for heatmap", ErrNoNumericData, plan.XAxis, plan.YAxis, plan.ZAxis)
		}
		return &Figure{
			Data: []Trace{{
				"type":     "histogram2d",
				"histfunc": "sum",
				"x":        outX,
				"y":        outY,
				"z":        outZ,
			}},
			Layout: layout(title, plan.XAxis, plan.YAxis),
		}, nil

	case TypeBox:
		if err := requireColumns(cols, plan.ChartType, plan.YAxis); err != nil {
			return nil, err
		}
		ys := numericColumn(rows, plan.YAxis)
		useX := plan.XAxis != "" && cols[plan.XAxis]
		var outX []any
		var outY []float64
		for i, r := range rows {
			if ys[i] == nil {
				continue
			}
			outY = append(outY, *ys[i])
			if useX {
				outX = append(outX, r[plan.XAxis])
			}
		}
		if len(outY) == 0 {
			return nil, fmt.Errorf("%w: column %q for box", ErrNoNumericData, plan.YAxis)
		}
		trace := Trace{"type": "box", "y": outY}
		xLabel := ""
		if useX {
			trace["x"] = outX
			xLabel = plan.XAxis
		}
		return &Figure{Data: []Trace{trace}, Layout: layout(title, xLabel, plan.YAxis)}, nil

	case TypeHistogram:
		if err := requireColumns(cols, plan.ChartType, plan.XAxis); err != nil {
			return nil, err
		}
		var outX []float64
		for _, v := range numericColumn(rows, plan.XAxis) {
			if v != nil {
				outX = append(outX, *v)
			}
		}
		if len(outX) == 0 {
			return nil, fmt.Errorf("%w: column %q for histogram", ErrNoNumericData, plan.XAxis)
		}
		return &Figure{
			Data:   []Trace{{"type": "histogram", "x": outX}},
			Layout: layout(title, plan.XAxis, "count"),
		}, nil
	}

	slog.Warn("Unsupported chart type, skipping", "chart_type", plan.ChartType)
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedChart, plan.ChartType)
}

func layout(title, xLabel, yLabel string) map[string]any {
	l := map[string]any{"title": map[string]any{"text": title}}
	if xLabel != "" {
		l["xaxis"] = map[string]any{"title": map[string]any{"text": xLabel}}
	}
	if yLabel != "" {
		l["yaxis"] = map[string]any{"title": map[string]any{"text": yLabel}}
	}
	return l
}

func columnSet(rows []map[string]any) map[string]bool {
	cols := make(map[string]bool)
	for _, r := range rows {
		for k := range r {
			cols[k] = true
		}
	}
	return cols
}

func requireColumns(cols map[string]bool, chartType string, names ...string) error {
	for _, n := range names {
		if n == "" || !cols[n] {
			return fmt.Errorf("%w: %q for %s chart", ErrInvalidColumn, n, chartType)
		}
	}
	return nil
}

func rawColumn(rows []map[string]any, col string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[col]
	}
	return out
}

func numericColumn(rows []map[string]any, col string) []*float64 {
	out := make([]*float64, len(rows))
	for i, r := range rows {
		if f, ok := ToFloat(r[col]); ok {
			out[i] = &f
		}
	}
	return out
}

func nullable(vals []*float64) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		if v != nil {
			out[i] = *v
		}
	}
	return out
}

// ToFloat coerces numbers and numeric strings. NaN and infinities are
// rejected.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
