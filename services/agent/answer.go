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
	"errors"
	"log/slog"
	"strings"

	"github.com/AleutianAI/DataNexus/services/render"
)

// Answer texts.
const (
	NoSummary        = "The agent did not produce a summary."
	ChartNotRendered = "(Chart could not be rendered)"
	RenderingStatus  = "Rendering chart..."
)

// Composer turns a finished State into the markdown answer.
type Composer struct {
	Renderer render.Renderer
	Width    int
	Height   int
}

// WillRender reports whether Compose will try to rasterise figures of st.
func (c Composer) WillRender(st *State) bool {
	if st == nil || len(st.Figures) == 0 {
		return false
	}
	return render.Enabled(c.Renderer)
}

// Compose builds the final answer.
//
// # Description
//
// The summary comes first. Each figure is then appended as an inline PNG
// image, or as "(Chart could not be rendered)" when rasterising fails.
// When rendering is disabled the figures are appended as Plotly JSON in
// fenced blocks so clients can draw them.
func (c Composer) Compose(ctx context.Context, st *State) string {
	if st == nil {
		return NoSummary
	}
	summary := strings.TrimSpace(st.Summary)
	if summary == "" {
		summary = NoSummary
	}
	var b strings.Builder
	b.WriteString(summary)

	renderer := c.Renderer
	if renderer == nil {
		renderer = render.NopRenderer{}
	}
	for _, fig := range st.Figures {
		png, err := renderer.RenderPNG(ctx, fig, c.Width, c.Height)
		switch {
		case err == nil:
			b.WriteString("\n\n![chart](")
			b.WriteString(render.DataURI(png))
			b.WriteString(")")
		case errors.Is(err, render.ErrRenderingDisabled):
			raw, jerr := fig.JSON()
			if jerr != nil {
				slog.ErrorContext(ctx, "Failed to encode figure", "error", jerr)
				b.WriteString("\n\n" + ChartNotRendered)
				continue
			}
			b.WriteString("\n\n```plotly\n")
			b.Write(raw)
			b.WriteString("\n```")
		default:
			slog.ErrorContext(ctx, "Failed to render chart", "title", fig.Title(), "error", err)
			b.WriteString("\n\n" + ChartNotRendered)
		}
	}
	return b.String()
}
