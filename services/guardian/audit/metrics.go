// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/telemetry"
)

var (
	runsTotal     metric.Int64Counter
	stageTotal    metric.Int64Counter
	stageDuration metric.Float64Histogram
)

var meter = telemetry.NewMeter("guardian.audit", func(m metric.Meter) (err error) {
	if runsTotal, err = m.Int64Counter("guardian_audit_runs_total",
		metric.WithDescription("Audit pipeline runs by final state")); err != nil {
		return err
	}
	if stageTotal, err = m.Int64Counter("guardian_audit_stage_total",
		metric.WithDescription("Stage executions by stage and status")); err != nil {
		return err
	}
	stageDuration, err = m.Float64Histogram("guardian_audit_stage_duration_seconds",
		metric.WithDescription("Wall time per audit stage"),
		metric.WithUnit("s"))
	return err
})

// SetMetricsEnabled toggles audit metrics. Enabled by default.
func SetMetricsEnabled(enabled bool) { meter.SetEnabled(enabled) }

func recordRun(ctx context.Context, run *PipelineRun) {
	if run == nil || !meter.Ready() {
		return
	}
	runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", string(run.State))))
}

func recordStage(ctx context.Context, o StageOutcome) {
	if !meter.Ready() {
		return
	}
	stage := attribute.String("stage", o.Stage)
	stageTotal.Add(ctx, 1, metric.WithAttributes(stage, attribute.String("status", string(o.Status))))
	stageDuration.Record(ctx, o.Duration.Seconds(), metric.WithAttributes(stage))
}
