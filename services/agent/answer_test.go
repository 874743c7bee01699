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
	"strings"
	"testing"

	"github.com/AleutianAI/DataNexus/services/charts"
	"github.com/AleutianAI/DataNexus/services/render"
	"github.com/stretchr/testify/assert"
)

type stubRenderer struct {
	png   []byte
	err   error
	sizes [][2]int
}

func (s *stubRenderer) RenderPNG(_ context.Context, _ *charts.Figure, w, h int) ([]byte, error) {
	s.sizes = append(s.sizes, [2]int{w, h})
	return s.png, s.err
}

func (s *stubRenderer) Close() error { return nil }

func figure(title string) *charts.Figure {
	return &charts.Figure{
		Data:   []charts.Trace{{"type": "bar", "x": []any{"a"}, "y": []any{1.0}}},
		Layout: map[string]any{"title": map[string]any{"text": title}},
	}
}

func TestCompose_SummaryOnly(t *testing.T) {
	c := Composer{Renderer: render.NopRenderer{}}
	assert.Equal(t, NoSummary, c.Compose(context.Background(), nil))
	assert.Equal(t, NoSummary, c.Compose(context.Background(), &State{Summary: "  "}))
	assert.Equal(t, "Sales rose.", c.Compose(context.Background(), &State{Summary: "Sales rose."}))
}

func TestCompose_RenderedImage(t *testing.T) {
	r := &stubRenderer{png: []byte{0x89, 'P', 'N', 'G'}}
	c := Composer{Renderer: r, Width: 640, Height: 480}
	st := &State{Summary: "Done.", Figures: []*charts.Figure{figure("A")}}

	assert.True(t, c.WillRender(st))
	out := c.Compose(context.Background(), st)
	assert.Equal(t, "Done.\n\n![chart]("+render.DataURI(r.png)+")", out)
	assert.Equal(t, [][2]int{{640, 480}}, r.sizes)
}

func TestCompose_RenderFailure(t *testing.T) {
	c := Composer{Renderer: &stubRenderer{err: errors.New("browser crashed")}}
	out := c.Compose(context.Background(), &State{Summary: "Done.", Figures: []*charts.Figure{figure("A"), figure("B")}})
	assert.Equal(t, "Done.\n\n"+ChartNotRendered+"\n\n"+ChartNotRendered, out)
}

func TestCompose_RenderingDisabledShipsJSON(t *testing.T) {
	c := Composer{}
	st := &State{Summary: "Done.", Figures: []*charts.Figure{figure("Revenue")}}

	assert.False(t, c.WillRender(st))
	assert.False(t, Composer{Renderer: render.NopRenderer{}}.WillRender(st))
	assert.False(t, Composer{Renderer: &render.NopRenderer{}}.WillRender(st), "pointer form is disabled too")

	out := c.Compose(context.Background(), st)
	assert.True(t, strings.HasPrefix(out, "Done.\n\n```plotly\n"))
	assert.True(t, strings.HasSuffix(out, "\n```"))
	assert.Contains(t, out, `"text":"Revenue"`)
}

func TestWillRender_NoFigures(t *testing.T) {
	c := Composer{Renderer: &stubRenderer{}}
	assert.False(t, c.WillRender(&State{Summary: "x"}))
	assert.False(t, c.WillRender(nil))
}
