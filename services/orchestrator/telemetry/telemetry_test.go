// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/DataNexus/services/config"
	"github.com/AleutianAI/DataNexus/services/orchestrator/ttl"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{MetricExporter: "none"}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), config.TelemetryConfig{TraceExporter: "zipkin"}, nil)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), config.TelemetryConfig{MetricExporter: "statsd"}, prometheus.NewRegistry())
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_OTLPRequiresEndpoint(t *testing.T) {
	_, err := Init(context.Background(), config.TelemetryConfig{TraceExporter: "otlp"}, nil)
	assert.Error(t, err)
}

func TestRetentionRecorder_ExportsThroughPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	shutdown, err := Init(context.Background(), config.TelemetryConfig{MetricExporter: "prometheus"}, reg)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	rec, err := NewRetentionRecorder()
	require.NoError(t, err)
	start := time.Now()
	rec.Record(ttl.CleanupResult{StartTime: start, EndTime: start.Add(time.Second), ThreadsDeleted: 4}, nil)
	rec.Record(ttl.CleanupResult{StartTime: start, EndTime: start}, errors.New("db down"))

	families, err := reg.Gather()
	require.NoError(t, err)
	var pruned float64
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
		if strings.HasPrefix(mf.GetName(), "datanexus_checkpoint_threads_pruned") {
			for _, m := range mf.GetMetric() {
				pruned += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 4.0, pruned, "metric families: %v", names)
}
