// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"golang.org/x/sync/errgroup"
)

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// DefaultHealthTimeout bounds all probes of one request together.
const DefaultHealthTimeout = 5 * time.Second

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

// CheckHealth runs every probe concurrently and reports per-component
// status. The overall status is "ok" only if every probe passed.
func CheckHealth(ctx context.Context, checks map[string]HealthCheck, timeout time.Duration) datatypes.HealthResponse {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	components := make(map[string]string, len(checks))
	healthy := true

	// Probe errors are collected, not returned, so one failure does not
	// cancel the others.
	var g errgroup.Group
	for _, name := range names {
		check := checks[name]
		g.Go(func() error {
			status := healthOK
			if err := check(ctx); err != nil {
				status = err.Error()
				slog.WarnContext(ctx, "Health check failed", "component", name, "error", err)
			}
			mu.Lock()
			defer mu.Unlock()
			components[name] = status
			if status != healthOK {
				healthy = false
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := datatypes.HealthResponse{
		Status:     healthOK,
		Components: components,
		CheckedAt:  strfmt.DateTime(time.Now().UTC()),
	}
	if !healthy {
		resp.Status = healthDegraded
	}
	return resp
}

// HandleHealth serves GET /health: 200 when every component is healthy,
// 503 otherwise.
func HandleHealth(checks map[string]HealthCheck, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := CheckHealth(c.Request.Context(), checks, timeout)
		code := http.StatusOK
		if resp.Status != healthOK {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}
