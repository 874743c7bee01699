// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the DataNexus API and agent.
//
// # Description
//
// Metrics cover:
//   - API requests by endpoint and status, active streams, stream duration
//   - Agent node durations, self-corrections, SQL executions by outcome
//   - LLM calls by backend and outcome, with latency
//   - Facts written to long-term memory, rate-limited and policy-blocked requests
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe on a nil *Metrics, which discards observations.
package observability

import (
	"time"

	"github.com/AleutianAI/DataNexus/services/agent"
	"github.com/AleutianAI/DataNexus/services/agent/graph"
	"github.com/AleutianAI/DataNexus/services/llm"
	"github.com/AleutianAI/DataNexus/services/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "datanexus"

const (
	apiSubsystem   = "api"
	agentSubsystem = "agent"
	llmSubsystem   = "llm"
)

// Endpoint labels.
const (
	EndpointChatStream = "chat_stream"
	EndpointChat       = "chat"
	EndpointChatWS     = "chat_ws"
)

// Status labels.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// Metrics holds every Prometheus collector of the service.
//
// # Description
//
// Create one instance per registry with NewMetrics. Tests pass a fresh
// prometheus.NewRegistry() so collectors never clash.
type Metrics struct {
	// RequestsTotal counts API requests.
	// Labels: endpoint (chat_stream, chat), status (success, error, rejected)
	RequestsTotal *prometheus.CounterVec

	// ActiveStreams tracks currently open SSE responses.
	ActiveStreams prometheus.Gauge

	// StreamDurationSeconds measures SSE responses end to end.
	// Labels: status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ClientDisconnectsTotal counts streams the client left early.
	ClientDisconnectsTotal prometheus.Counter

	// KeepAlivesTotal counts keepalive comments written to streams.
	KeepAlivesTotal prometheus.Counter

	// NodeDurationSeconds measures agent nodes.
	// Labels: node, status (completed, failed)
	NodeDurationSeconds *prometheus.HistogramVec

	// SelfCorrectionsTotal counts SQL correction attempts.
	SelfCorrectionsTotal prometheus.Counter

	// SQLExecutionsTotal counts queries by outcome (ok, rejected, error).
	SQLExecutionsTotal *prometheus.CounterVec

	// MemoryFactsSavedTotal counts facts written to long-term memory.
	MemoryFactsSavedTotal prometheus.Counter

	// LLMCallsTotal counts chat attempts.
	// Labels: backend, outcome (success, error)
	LLMCallsTotal *prometheus.CounterVec

	// LLMLatencySeconds measures each chat attempt.
	// Labels: backend
	LLMLatencySeconds *prometheus.HistogramVec

	// RateLimitedTotal counts requests rejected with 429.
	RateLimitedTotal prometheus.Counter

	// PolicyBlocksTotal counts questions refused by the data policy.
	// Labels: classification
	PolicyBlocksTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg.
//
// # Inputs
//
//   - reg: Target registry. nil uses prometheus.DefaultRegisterer.
//
// # Outputs
//
//   - *Metrics: Ready to record.
//
// # Limitations
//
// Registering twice on the same registry panics, as promauto does.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "requests_total",
				Help:      "Total number of chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: apiSubsystem,
			Name:      "active_streams",
			Help:      "Number of currently active streaming responses",
		}),
		StreamDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		ClientDisconnectsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: apiSubsystem,
			Name:      "client_disconnects_total",
			Help:      "Total client disconnections during streaming",
		}),
		KeepAlivesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: apiSubsystem,
			Name:      "keepalives_total",
			Help:      "Total keepalive comments sent",
		}),
		NodeDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "node_duration_seconds",
				Help:      "Agent node duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"node", "status"},
		),
		SelfCorrectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "self_corrections_total",
			Help:      "Total SQL self-correction attempts",
		}),
		SQLExecutionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "sql_executions_total",
				Help:      "Total generated queries by outcome",
			},
			[]string{"outcome"},
		),
		MemoryFactsSavedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "memory_facts_saved_total",
			Help:      "Total facts written to long-term memory",
		}),
		LLMCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: llmSubsystem,
				Name:      "calls_total",
				Help:      "Total LLM chat calls by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		LLMLatencySeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: llmSubsystem,
				Name:      "latency_seconds",
				Help:      "LLM chat attempt latency in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"backend"},
		),
		RateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: apiSubsystem,
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the rate limiter",
		}),
		PolicyBlocksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "policy_blocks_total",
				Help:      "Total questions refused by the data policy",
			},
			[]string{"classification"},
		),
	}
}

// =============================================================================
// Recording helpers
// =============================================================================

// RecordRequest counts a finished chat request.
func (m *Metrics) RecordRequest(endpoint, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// StreamStarted increments ActiveStreams and returns the function that ends
// the stream.
//
// # Examples
//
//	end := metrics.StreamStarted()
//	defer func() { end(success) }()
func (m *Metrics) StreamStarted() func(success bool) {
	if m == nil {
		return func(bool) {}
	}
	start := time.Now()
	m.ActiveStreams.Inc()
	return func(success bool) {
		m.ActiveStreams.Dec()
		m.StreamDurationSeconds.WithLabelValues(status(success)).Observe(time.Since(start).Seconds())
	}
}

// RecordClientDisconnect counts a stream abandoned by its client.
func (m *Metrics) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}

// RecordKeepAlive counts one keepalive comment.
func (m *Metrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.Inc()
}

// RecordRateLimited counts one 429.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// RecordPolicyBlock counts one refused question.
func (m *Metrics) RecordPolicyBlock(classification string) {
	if m == nil {
		return
	}
	m.PolicyBlocksTotal.WithLabelValues(classification).Inc()
}

// RecordLLMCall observes one chat attempt. It has the shape of llm.Observer.
func (m *Metrics) RecordLLMCall(backend string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.LLMCallsTotal.WithLabelValues(backend, status(err == nil)).Inc()
	m.LLMLatencySeconds.WithLabelValues(backend).Observe(took.Seconds())
}

// =============================================================================
// Observer adapters
// =============================================================================

// AgentObserver returns hooks recording node durations and corrections.
func (m *Metrics) AgentObserver() agent.Observer {
	if m == nil {
		return agent.Observer{}
	}
	return agent.Observer{
		NodeDone: func(node string, st graph.NodeStatus, took time.Duration) {
			m.NodeDurationSeconds.WithLabelValues(node, string(st)).Observe(took.Seconds())
		},
		SelfCorrection: m.SelfCorrectionsTotal.Inc,
	}
}

// ToolsObserver returns hooks recording SQL outcomes and saved facts.
func (m *Metrics) ToolsObserver() tools.Observer {
	if m == nil {
		return tools.Observer{}
	}
	return tools.Observer{
		SQLExecuted: func(outcome string) { m.SQLExecutionsTotal.WithLabelValues(outcome).Inc() },
		MemorySaved: m.MemoryFactsSavedTotal.Inc,
	}
}

// LLMObserver returns RecordLLMCall as an llm.Observer.
func (m *Metrics) LLMObserver() llm.Observer {
	if m == nil {
		return nil
	}
	return m.RecordLLMCall
}

func status(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusError
}
