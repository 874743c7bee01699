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

	"github.com/AleutianAI/DataNexus/services/orchestrator/ttl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "datanexus.orchestrator"

// RetentionRecorder reports checkpoint retention cycles as OTel metrics.
type RetentionRecorder struct {
	pruned   metric.Int64Counter
	cycles   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRetentionRecorder creates the instruments on the global
// MeterProvider. Install the provider with Init first.
func NewRetentionRecorder() (*RetentionRecorder, error) {
	meter := otel.Meter(meterName)
	pruned, err := meter.Int64Counter("datanexus.checkpoint.threads_pruned",
		metric.WithDescription("Conversation threads deleted by retention"))
	if err != nil {
		return nil, err
	}
	cycles, err := meter.Int64Counter("datanexus.checkpoint.retention_cycles",
		metric.WithDescription("Retention cycles by outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("datanexus.checkpoint.retention_duration",
		metric.WithDescription("Duration of retention cycles"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &RetentionRecorder{pruned: pruned, cycles: cycles, duration: duration}, nil
}

// Record is a ttl.Scheduler cycle callback.
func (r *RetentionRecorder) Record(res ttl.CleanupResult, err error) {
	ctx := context.Background()
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.pruned.Add(ctx, int64(res.ThreadsDeleted))
	r.cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	r.duration.Record(ctx, res.Duration().Seconds())
}
