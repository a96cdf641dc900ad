// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/telemetry"
)

var (
	opsTotal   metric.Int64Counter
	opDuration metric.Float64Histogram
)

var meter = telemetry.NewMeter("guardian.snapshot", func(m metric.Meter) (err error) {
	opsTotal, err = m.Int64Counter("guardian_snapshot_ops_total",
		metric.WithDescription("Snapshot store operations by op and status"))
	if err != nil {
		return err
	}
	opDuration, err = m.Float64Histogram("guardian_snapshot_duration_seconds",
		metric.WithDescription("Wall time of snapshot store operations"),
		metric.WithUnit("s"))
	return err
})

// SetMetricsEnabled toggles snapshot metrics. Enabled by default.
func SetMetricsEnabled(enabled bool) { meter.SetEnabled(enabled) }

// recordOp records one create, restore, drop or export.
func recordOp(ctx context.Context, op string, took time.Duration, err error) {
	if !meter.Ready() {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	opAttr := attribute.String("op", op)
	opsTotal.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("status", status)))
	opDuration.Record(ctx, took.Seconds(), metric.WithAttributes(opAttr))
}
