// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package orchestrator assembles the DataNexus API service.
//
// This package wires every component of the service: the analytics
// database, the checkpoint store, embeddings, the vector store, the chat
// model, chart rendering, the agent and the HTTP routes.
//
// # Extension Points
//
// Authentication and audit logging are injected through
// extensions.ServiceOptions. When no AuthProvider is supplied and
// server.api_tokens is configured, static bearer tokens are used.
//
// # Usage
//
//	settings, err := config.Load(config.LoadOptions{ConfigPath: "datanexus.yaml"})
//	if err != nil {
//	    return err
//	}
//	svc, err := orchestrator.New(ctx, settings, extensions.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//	return svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/DataNexus/pkg/extensions"
	"github.com/AleutianAI/DataNexus/services/agent"
	"github.com/AleutianAI/DataNexus/services/checkpoint"
	"github.com/AleutianAI/DataNexus/services/config"
	"github.com/AleutianAI/DataNexus/services/database"
	"github.com/AleutianAI/DataNexus/services/embeddings"
	"github.com/AleutianAI/DataNexus/services/ingest"
	"github.com/AleutianAI/DataNexus/services/llm"
	"github.com/AleutianAI/DataNexus/services/orchestrator/handlers"
	"github.com/AleutianAI/DataNexus/services/orchestrator/middleware"
	"github.com/AleutianAI/DataNexus/services/orchestrator/observability"
	"github.com/AleutianAI/DataNexus/services/orchestrator/routes"
	"github.com/AleutianAI/DataNexus/services/orchestrator/telemetry"
	"github.com/AleutianAI/DataNexus/services/orchestrator/ttl"
	"github.com/AleutianAI/DataNexus/services/policy_engine"
	"github.com/AleutianAI/DataNexus/services/policy_engine/enforcement"
	"github.com/AleutianAI/DataNexus/services/render"
	"github.com/AleutianAI/DataNexus/services/tools"
	"github.com/AleutianAI/DataNexus/services/vectorstore"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout = 15 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the DataNexus API service.
//
// # Description
//
// Service owns every opened component. Run serves HTTP until its context
// is cancelled; Close releases the components afterwards.
//
// # Thread Safety
//
// Safe for concurrent use. Run should be called at most once.
type Service interface {
	// Run starts the HTTP server and the checkpoint retention scheduler and
	// blocks until ctx is cancelled or the server fails.
	//
	// # Outputs
	//
	//   - error: Nil after a graceful shutdown.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine.
	Router() *gin.Engine

	// Agent returns the workflow used by the chat endpoints.
	Agent() *agent.Agent

	// Composer turns final agent states into answer text.
	Composer() agent.Composer

	// Ingester loads schema documents and few-shot examples into the
	// vector store. Nil when the service was built without a database.
	Ingester() *ingest.Ingester

	// Close releases every component in reverse opening order.
	Close() error
}

// =============================================================================
// Components
// =============================================================================

// Components are the opened backends of a service.
type Components struct {
	// Pool is the analytics database. May be nil when DB is set directly.
	Pool *database.Pool
	DB   database.Querier

	// Schema is introspected for ingestion. Defaults to Pool.
	Schema ingest.SchemaSource

	Saver    checkpoint.Saver
	Store    vectorstore.Store
	LLM      llm.LLMClient
	Renderer render.Renderer

	closers []func() error
}

// OnClose registers fn to run when the service closes.
func (c *Components) OnClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close runs the registered closers newest first.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// OpenComponents connects every backend named by settings.
//
// # Description
//
// Components are opened in dependency order: database pool, checkpoint
// saver, embedder, vector store, chat model and renderer. Storage schemas
// and vector collections are created when missing. On failure everything
// opened so far is closed again.
//
// # Inputs
//
//   - ctx: Bounds connection and setup.
//   - settings: Validated settings.
//   - llmObserver: Receives chat model call metrics.
//
// # Outputs
//
//   - *Components: Opened backends. Call Close when done.
//   - error: The first backend that failed.
func OpenComponents(ctx context.Context, settings *config.Settings, llmObserver llm.Observer) (comps *Components, err error) {
	comps = &Components{}
	defer func() {
		if err != nil {
			_ = comps.Close()
			comps = nil
		}
	}()

	pool, err := database.Connect(ctx, database.OptionsFromSettings(settings))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	comps.Pool, comps.DB, comps.Schema = pool, pool, pool
	comps.OnClose(func() error { pool.Close(); return nil })

	saver, err := checkpoint.NewFromSettings(settings.Checkpoint, pool.PGX())
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	comps.OnClose(saver.Close)
	if err := saver.Setup(ctx); err != nil {
		return nil, fmt.Errorf("set up checkpoint store: %w", err)
	}
	comps.Saver = saver

	embedder, closeEmbedder, err := embeddings.NewFromSettings(settings.Embeddings, settings.LLM.OpenAIAPIKey)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if closeEmbedder != nil {
		comps.OnClose(closeEmbedder)
	}

	store, err := vectorstore.NewFromSettings(settings.VectorStore, embedder)
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if err := store.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("ensure collections: %w", err)
	}
	comps.Store = store

	comps.LLM, err = llm.NewFromSettings(settings.LLM, llmObserver)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	comps.Renderer = render.NewFromSettings(settings.Render)
	comps.OnClose(comps.Renderer.Close)

	slog.Info("Components ready",
		"checkpoint", settings.Checkpoint.Backend,
		"vector_store", settings.VectorStore.Backend,
		"embeddings", settings.Embeddings.Backend,
		"llm", settings.LLM.Backend,
		"render", settings.Render.Enabled)
	return comps, nil
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	settings  *config.Settings
	comps     *Components
	router    *gin.Engine
	agent     *agent.Agent
	composer  agent.Composer
	ingester  *ingest.Ingester
	retention *ttl.Scheduler

	// closers run after the components are closed.
	closers []func(context.Context) error
}

// New opens every component and builds the service.
//
// # Description
//
// A private Prometheus registry carries the Go and process collectors, the
// service metrics and the OpenTelemetry metric exporter, and backs
// /metrics.
//
// # Inputs
//
//   - ctx: Bounds startup.
//   - settings: Validated settings.
//   - opts: Extension points. Zero values use no-op defaults.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Telemetry or component failure.
func New(ctx context.Context, settings *config.Settings, opts extensions.ServiceOptions) (Service, error) {
	reg := newRegistry()
	shutdownTelemetry, err := telemetry.Init(ctx, settings.Telemetry, reg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	metrics := observability.NewMetrics(reg)

	comps, err := OpenComponents(ctx, settings, metrics.LLMObserver())
	if err != nil {
		_ = shutdownTelemetry(context.Background())
		return nil, err
	}
	s, err := build(settings, comps, opts, reg, metrics)
	if err != nil {
		_ = comps.Close()
		_ = shutdownTelemetry(context.Background())
		return nil, err
	}
	s.closers = append(s.closers, shutdownTelemetry)
	return s, nil
}

// NewWithComponents builds the service over already opened components.
// The service takes ownership of comps.
func NewWithComponents(settings *config.Settings, comps *Components, opts extensions.ServiceOptions) (Service, error) {
	reg := newRegistry()
	metrics := observability.NewMetrics(reg)
	if comps.LLM != nil {
		comps.LLM = llm.NewObservedClient(comps.LLM, metrics.LLMObserver())
	}
	return build(settings, comps, opts, reg, metrics)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func build(settings *config.Settings, comps *Components, opts extensions.ServiceOptions, reg *prometheus.Registry, metrics *observability.Metrics) (*service, error) {
	opts = opts.Normalize()

	policy, err := policy_engine.NewPolicyEngine()
	if err != nil {
		return nil, fmt.Errorf("initialize policy engine: %w", err)
	}
	slog.Info("Policy engine ready", "policy_sha256", enforcement.PolicyHash())

	toolbox, err := tools.New(tools.Deps{
		Store:     comps.Store,
		DB:        comps.DB,
		LLM:       comps.LLM,
		Policy:    policy,
		Params:    llm.ParamsFromSettings(settings.LLM),
		Retrieval: settings.Retrieval,
		Observer:  metrics.ToolsObserver(),
	})
	if err != nil {
		return nil, fmt.Errorf("create tools: %w", err)
	}

	a, err := agent.New(agent.Deps{
		Tools:    toolbox,
		Saver:    comps.Saver,
		Config:   settings.Agent,
		Observer: metrics.AgentObserver(),
	})
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	s := &service{
		settings: settings,
		comps:    comps,
		agent:    a,
		composer: agent.Composer{
			Renderer: comps.Renderer,
			Width:    settings.Render.Width,
			Height:   settings.Render.Height,
		},
	}
	if comps.Schema != nil {
		s.ingester = ingest.New(comps.Store, comps.Schema)
	}

	if err := s.initRetention(); err != nil {
		return nil, err
	}

	auth, err := authProvider(settings.Server, opts.AuthProvider)
	if err != nil {
		return nil, err
	}

	var limiter *middleware.RateLimiter
	if settings.Server.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(settings.Server.RateLimitRPS, settings.Server.RateLimitBurst)
	}

	var threads handlers.ThreadStore
	if comps.Saver != nil {
		threads = a
	}

	s.router = gin.Default()
	s.router.Use(middleware.CORS(settings.Server.CORSOrigins))
	s.router.Use(otelgin.Middleware(serviceName(settings)))
	routes.SetupRoutes(s.router, routes.Deps{
		Chat: handlers.ChatOptions{
			Agent:         a,
			Composer:      s.composer,
			Policy:        policy,
			Threads:       threads,
			ModelID:       settings.Agent.ModelID,
			DefaultUserID: settings.Agent.DefaultUserID,
		},
		Threads:     threads,
		Memory:      toolbox,
		Health:      healthChecks(comps),
		Auth:        auth,
		Audit:       opts.AuditLogger,
		Metrics:     metrics,
		Gatherer:    reg,
		RateLimiter: limiter,
	})
	return s, nil
}

// authProvider returns configured, falling back to static tokens from
// server.api_tokens when configured is a no-op.
func authProvider(cfg config.ServerConfig, configured extensions.AuthProvider) (extensions.AuthProvider, error) {
	if _, nop := configured.(*extensions.NopAuthProvider); !nop || cfg.APITokens == "" {
		return configured, nil
	}
	tokens, err := extensions.ParseTokenList(cfg.APITokens)
	if err != nil {
		return nil, fmt.Errorf("parse api tokens: %w", err)
	}
	slog.Info("Static token authentication enabled", "tokens", len(tokens))
	return extensions.NewStaticTokenAuthProvider(tokens), nil
}

func healthChecks(comps *Components) map[string]handlers.HealthCheck {
	checks := make(map[string]handlers.HealthCheck)
	if comps.Pool != nil {
		pool := comps.Pool
		checks["database"] = func(ctx context.Context) error {
			if !pool.Health(ctx) {
				return errors.New("database unreachable")
			}
			return nil
		}
	}
	if comps.Store != nil {
		checks["vector_store"] = comps.Store.Health
	}
	return checks
}

func (s *service) initRetention() error {
	cfg := s.settings.Checkpoint
	if cfg.RetentionDays <= 0 || s.comps.Saver == nil {
		return nil
	}
	schedCfg := ttl.DefaultSchedulerConfig(cfg.Retention())
	if cfg.PruneIntervalMinutes > 0 {
		schedCfg.Interval = time.Duration(cfg.PruneIntervalMinutes) * time.Minute
	}
	sched, err := ttl.NewScheduler(s.comps.Saver, schedCfg)
	if err != nil {
		return fmt.Errorf("create retention scheduler: %w", err)
	}
	recorder, err := telemetry.NewRetentionRecorder()
	if err != nil {
		return fmt.Errorf("create retention metrics: %w", err)
	}
	sched.OnCycle(recorder.Record)
	s.retention = sched
	return nil
}

func serviceName(settings *config.Settings) string {
	if settings.Telemetry.ServiceName != "" {
		return settings.Telemetry.ServiceName
	}
	return "datanexus"
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	if s.retention != nil {
		if err := s.retention.Start(ctx); err != nil {
			return fmt.Errorf("start retention scheduler: %w", err)
		}
		defer s.retention.Stop()
		slog.Info("Checkpoint retention enabled",
			"retention_days", s.settings.Checkpoint.RetentionDays,
			"interval_minutes", s.settings.Checkpoint.PruneIntervalMinutes)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.settings.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting DataNexus API", "port", s.settings.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		slog.Info("Shutting down DataNexus API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *service) Router() *gin.Engine { return s.router }

func (s *service) Agent() *agent.Agent { return s.agent }

func (s *service) Composer() agent.Composer { return s.composer }

func (s *service) Ingester() *ingest.Ingester { return s.ingester }

func (s *service) Close() error {
	if s.retention != nil {
		s.retention.Stop()
	}
	errs := []error{s.comps.Close()}
	for _, fn := range s.closers {
		errs = append(errs, fn(context.Background()))
	}
	return errors.Join(errs...)
}

var _ Service = (*service)(nil)
