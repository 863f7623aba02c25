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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds package-level instruments for the patcher driver. Per
// patch instruments live with the scheduler.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// RunsTotal counts runs by outcome ("ok" or "failed").
	RunsTotal metric.Int64Counter

	// PackagesOpened counts packages opened by decode mode.
	PackagesOpened metric.Int64Counter

	// SaveDuration records time spent encoding and writing the output.
	SaveDuration metric.Float64Histogram

	// WriteBacksTotal counts document write-backs.
	WriteBacksTotal metric.Int64Counter

	// ClassesModified counts classes replaced at finalize.
	ClassesModified metric.Int64Counter
}

// NewMetrics registers the patcher instruments with meter.
//
// Example:
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("aleutian.patcher"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RunsTotal, err = meter.Int64Counter(
		"patcher_runs_total",
		metric.WithDescription("Total patch runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	m.PackagesOpened, err = meter.Int64Counter(
		"patcher_packages_opened_total",
		metric.WithDescription("Packages opened for patching"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create packages_opened_total: %w", err)
	}

	m.SaveDuration, err = meter.Float64Histogram(
		"patcher_save_duration_seconds",
		metric.WithDescription("Time to encode and write the patched package"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create save_duration: %w", err)
	}

	m.WriteBacksTotal, err = meter.Int64Counter(
		"patcher_write_backs_total",
		metric.WithDescription("Documents written back by editor sessions"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create write_backs_total: %w", err)
	}

	m.ClassesModified, err = meter.Int64Counter(
		"patcher_classes_modified_total",
		metric.WithDescription("Classes replaced by their modified copy at finalize"),
		metric.WithUnit("{class}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create classes_modified_total: %w", err)
	}

	return m, nil
}

// StartSpan starts a span on the named global tracer.
func StartSpan(ctx context.Context, tracerName, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, opts...)
}

// RecordError records err on span and marks the span failed. Nil span or
// error is a no-op.
func RecordError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	opts := make([]trace.EventOption, 0, 1)
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}
