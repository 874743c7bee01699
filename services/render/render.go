// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package render rasterises chart figures to PNG.
//
// The browser backend draws each figure with plotly.js in its own
// incognito page of a headless Chromium, so figure JSON never executes
// anywhere but inside that page.
package render

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/AleutianAI/DataNexus/services/charts"
	"github.com/AleutianAI/DataNexus/services/config"
)

// ErrRenderingDisabled is returned by NopRenderer.
var ErrRenderingDisabled = errors.New("chart rendering is disabled")

// Renderer turns a figure into PNG bytes.
type Renderer interface {
	RenderPNG(ctx context.Context, fig *charts.Figure, width, height int) ([]byte, error)
	Close() error
}

// NopRenderer never renders. Callers fall back to shipping figure JSON.
type NopRenderer struct{}

func (NopRenderer) RenderPNG(context.Context, *charts.Figure, int, int) ([]byte, error) {
	return nil, ErrRenderingDisabled
}

func (NopRenderer) Close() error { return nil }

// Disabled marks NopRenderer as never producing images.
func (NopRenderer) Disabled() bool { return true }

// Enabled reports whether r may produce images. Renderers opt out by
// implementing Disabled() bool.
func Enabled(r Renderer) bool {
	if r == nil {
		return false
	}
	if d, ok := r.(interface{ Disabled() bool }); ok {
		return !d.Disabled()
	}
	return true
}

// DataURI encodes a PNG for inline markdown images.
func DataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// NewFromSettings returns a BrowserRenderer when rendering is enabled and a
// NopRenderer otherwise.
func NewFromSettings(cfg config.RenderConfig) Renderer {
	if !cfg.Enabled {
		return NopRenderer{}
	}
	return NewBrowserRenderer(BrowserOptions{
		Bin:        cfg.BrowserBin,
		ControlURL: cfg.ControlURL,
		PlotlyJS:   cfg.PlotlyJS,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
}
