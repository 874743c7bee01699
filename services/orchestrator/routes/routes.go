// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package routes wires the DataNexus HTTP endpoints onto a gin engine.
package routes

import (
	"net/http"
	"time"

	"github.com/AleutianAI/DataNexus/pkg/extensions"
	"github.com/AleutianAI/DataNexus/services/orchestrator/handlers"
	"github.com/AleutianAI/DataNexus/services/orchestrator/middleware"
	"github.com/AleutianAI/DataNexus/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators of every route. Only Chat is required; routes
// whose dependency is nil are not registered.
type Deps struct {
	Chat    handlers.ChatOptions
	Threads handlers.ThreadStore
	Memory  handlers.MemoryForgetter

	// Health probes per component; nil serves an always healthy /health.
	Health        map[string]handlers.HealthCheck
	HealthTimeout time.Duration

	Auth    extensions.AuthProvider
	Audit   extensions.AuditLogger
	Metrics *observability.Metrics

	// Gatherer backs /metrics. nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// RateLimiter guards /v1. nil disables rate limiting.
	RateLimiter *middleware.RateLimiter
}

// SetupRoutes registers every endpoint on router.
//
// # Description
//
// /health and /metrics are public. Everything under /v1 passes the rate
// limiter and then authentication, so unauthenticated floods are rejected
// before token checks run.
//
//	GET    /health
//	GET    /metrics
//	GET    /v1/models
//	POST   /v1/chat/completions
//	GET    /v1/chat/ws
//	GET    /v1/threads/:threadId/state
//	GET    /v1/threads/:threadId/history
//	DELETE /v1/threads/:threadId
//	DELETE /v1/memory/:userId
func SetupRoutes(router *gin.Engine, deps Deps) {
	if deps.Auth == nil {
		deps.Auth = &extensions.NopAuthProvider{}
	}
	if deps.Chat.Audit == nil {
		deps.Chat.Audit = deps.Audit
	}
	if deps.Chat.Metrics == nil {
		deps.Chat.Metrics = deps.Metrics
	}

	router.GET("/health", handlers.HandleHealth(deps.Health, deps.HealthTimeout))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	if deps.RateLimiter != nil {
		v1.Use(deps.RateLimiter.Middleware(deps.Metrics.RecordRateLimited))
	}
	v1.Use(middleware.AuthMiddleware(deps.Auth))
	{
		modelID := deps.Chat.ModelID
		if modelID == "" {
			modelID = "datanexus-agent"
		}
		v1.GET("/models", handlers.HandleListModels(modelID))
		v1.POST("/chat/completions", handlers.HandleChatCompletions(deps.Chat))
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(deps.Chat))

		if deps.Threads != nil {
			threads := v1.Group("/threads")
			{
				threads.GET("/:threadId/state", handlers.HandleThreadState(deps.Threads))
				threads.GET("/:threadId/history", handlers.HandleThreadHistory(deps.Threads))
				threads.DELETE("/:threadId", handlers.HandleDeleteThread(deps.Threads, deps.Audit))
			}
		}
		if deps.Memory != nil {
			v1.DELETE("/memory/:userId", handlers.HandleForgetMemory(deps.Memory, deps.Audit))
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}
