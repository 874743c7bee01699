// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/DataNexus/services/charts"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/semaphore"
)

const (
	defaultTimeout     = 20 * time.Second
	defaultConcurrency = 2
	deviceScaleFactor  = 2
)

// BrowserOptions configures BrowserRenderer.
type BrowserOptions struct {
	// Bin is the Chromium binary. Empty lets the launcher find or download one.
	Bin string

	// ControlURL connects to an already running browser instead of launching.
	ControlURL string

	// PlotlyJS is a local file to inline, or an http(s) URL.
	PlotlyJS string

	Timeout     time.Duration
	Concurrency int64
}

// BrowserRenderer renders figures in headless Chromium via go-rod.
//
// # Description
//
// The browser is launched on first use. Each render gets a fresh incognito
// context that is disposed afterwards, so pages share no storage.
//
// # Thread Safety
//
// Safe for concurrent use. At most Concurrency renders run at once.
type BrowserRenderer struct {
	opts BrowserOptions
	sem  *semaphore.Weighted

	mu       sync.Mutex
	browser  *rod.Browser
	launched *launcher.Launcher
	script   template.HTML
	scriptOK bool
}

// NewBrowserRenderer returns a renderer; nothing is started yet.
func NewBrowserRenderer(opts BrowserOptions) *BrowserRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &BrowserRenderer{opts: opts, sem: semaphore.NewWeighted(opts.Concurrency)}
}

func (r *BrowserRenderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	controlURL := r.opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true).Set("disable-gpu").Set("no-first-run")
		if r.opts.Bin != "" {
			l = l.Bin(r.opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chromium: %w", err)
		}
		r.launched = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	r.browser = browser
	slog.Info("Chart renderer browser connected")
	return browser, nil
}

// scriptTag returns the <script> element that loads plotly.js.
func (r *BrowserRenderer) scriptTag() (template.HTML, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scriptOK {
		return r.script, nil
	}
	src := r.opts.PlotlyJS
	var tag string
	switch {
	case src == "":
		return "", fmt.Errorf("no plotly.js source configured")
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		tag = `<script src="` + template.HTMLEscapeString(src) + `"></script>`
	default:
		body, err := os.ReadFile(src)
		if err != nil {
			return "", fmt.Errorf("read plotly.js: %w", err)
		}
		tag = "<script>" + strings.ReplaceAll(string(body), "</script", `<\/script`) + "</script>"
	}
	r.script = template.HTML(tag)
	r.scriptOK = true
	return r.script, nil
}

var pageTemplate = template.Must(template.New("chart").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8">
<style>html,body{margin:0;padding:0;background:#fff}#chart{width:{{.Width}}px;height:{{.Height}}px}</style>
{{.Script}}
</head><body>
<div id="chart"></div>
<script>
const fig = {{.Figure}};
const layout = Object.assign({width: {{.Width}}, height: {{.Height}}}, fig.layout || {});
Plotly.newPlot("chart", fig.data, layout, {staticPlot: true, displayModeBar: false})
  .then(() => document.getElementById("chart").classList.add("rendered"));
</script>
</body></html>`))

type pageData struct {
	Script template.HTML
	Figure template.JS
	Width  int
	Height int
}

func buildPage(script template.HTML, fig *charts.Figure, width, height int) (string, error) {
	raw, err := fig.JSON()
	if err != nil {
		return "", fmt.Errorf("encode figure: %w", err)
	}
	var buf bytes.Buffer
	err = pageTemplate.Execute(&buf, pageData{
		Script: script,
		Figure: template.JS(raw),
		Width:  width,
		Height: height,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPNG draws fig at width x height CSS pixels (2x device pixels).
func (r *BrowserRenderer) RenderPNG(ctx context.Context, fig *charts.Figure, width, height int) ([]byte, error) {
	if fig == nil {
		return nil, fmt.Errorf("nil figure")
	}
	if width <= 0 || height <= 0 {
		width, height = 800, 600
	}
	script, err := r.scriptTag()
	if err != nil {
		return nil, err
	}
	html, err := buildPage(script, fig, width, height)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}
	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	defer func() {
		_ = proto.TargetDisposeBrowserContext{BrowserContextID: incognito.BrowserContextID}.Call(browser)
	}()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()
	page = page.Context(ctx)

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: deviceScaleFactor,
	}).Call(page); err != nil {
		slog.Warn("Failed to set render viewport", "error", err)
	}
	if err := page.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("load chart page: %w", err)
	}
	el, err := page.Element("#chart.rendered")
	if err != nil {
		return nil, fmt.Errorf("wait for chart: %w", err)
	}
	png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("screenshot chart: %w", err)
	}
	return png, nil
}

// Close shuts the browser down if this renderer launched it.
func (r *BrowserRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.launched != nil {
		r.launched.Cleanup()
		r.launched = nil
	}
	return err
}

var _ Renderer = (*BrowserRenderer)(nil)
var _ Renderer = NopRenderer{}
