// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "causallog.dag"

var tracer = otel.Tracer(instrumentationName)

// Query names used as span suffixes and metric attributes.
const (
	queryMinimalCover     = "minimal_cover"
	queryForkPosition     = "fork_position"
	queryCoverWithFilter  = "cover_with_filter"
	queryConcurrentCover  = "concurrent_cover_with_filter"
	rejectMissingPred     = "missing_predecessor"
	rejectInvalidPayload  = "invalid_payload"
	rejectIndexOrStoreErr = "storage"
)

// initMetrics lazily creates the instruments. Instruments that fail to
// register stay nil and are skipped when recording.
func (d *Dag) initMetrics() {
	d.metricsOnce.Do(func() {
		meter := d.meterProvider.Meter(instrumentationName)
		var failed []string

		var err error
		d.appendTotal, err = meter.Int64Counter("dag_append_total",
			metric.WithDescription("Entries appended to the DAG"),
		)
		if err != nil {
			failed = append(failed, "dag_append_total: "+err.Error())
		}

		d.appendRejected, err = meter.Int64Counter("dag_append_rejected_total",
			metric.WithDescription("Appends rejected, by reason"),
		)
		if err != nil {
			failed = append(failed, "dag_append_rejected_total: "+err.Error())
		}

		d.queryLatency, err = meter.Float64Histogram("dag_query_duration_seconds",
			metric.WithDescription("Duration of DAG index queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			failed = append(failed, "dag_query_duration_seconds: "+err.Error())
		}

		d.queryResultSize, err = meter.Int64Histogram("dag_query_result_size",
			metric.WithDescription("Number of hashes returned by DAG index queries"),
		)
		if err != nil {
			failed = append(failed, "dag_query_result_size: "+err.Error())
		}

		if len(failed) > 0 {
			d.logger.Error("failed to initialize some DAG metrics (observability degraded)",
				slog.Int("failed_count", len(failed)),
				slog.Any("errors", failed),
			)
		}
	})
}

func (d *Dag) recordAppend(ctx context.Context) {
	d.initMetrics()
	if d.appendTotal != nil {
		d.appendTotal.Add(ctx, 1)
	}
}

func (d *Dag) recordRejected(ctx context.Context, reason string) {
	d.initMetrics()
	if d.appendRejected != nil {
		d.appendRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (d *Dag) recordQuery(ctx context.Context, query string, duration time.Duration, resultSize int) {
	d.initMetrics()
	attrs := metric.WithAttributes(attribute.String("query", query))
	if d.queryLatency != nil {
		d.queryLatency.Record(ctx, duration.Seconds(), attrs)
	}
	if d.queryResultSize != nil {
		d.queryResultSize.Record(ctx, int64(resultSize), attrs)
	}
}

// startQuerySpan creates a span for an index query.
func startQuerySpan(ctx context.Context, query string, inputSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Dag."+query,
		trace.WithAttributes(
			attribute.String("dag.query", query),
			attribute.Int("dag.input_size", inputSize),
		),
	)
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
