// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package integrity

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/telemetry"
)

var (
	checksTotal metric.Int64Counter
	lineDelta   metric.Int64Histogram
)

var meter = telemetry.NewMeter("guardian.integrity", func(m metric.Meter) (err error) {
	checksTotal, err = m.Int64Counter("guardian_integrity_checks_total",
		metric.WithDescription("Integrity comparisons by result"))
	if err != nil {
		return err
	}
	lineDelta, err = m.Int64Histogram("guardian_integrity_line_delta",
		metric.WithDescription("Net lines removed per comparison; negative means growth"))
	return err
})

// SetMetricsEnabled toggles integrity metrics. Enabled by default.
func SetMetricsEnabled(enabled bool) { meter.SetEnabled(enabled) }

// failureKind labels a comparison for the checks counter.
func failureKind(r *ComparisonResult) string {
	switch {
	case r.LineLossExceeded && r.SymbolsMissing:
		return "line_loss_and_symbols"
	case r.LineLossExceeded:
		return "line_loss"
	case r.SymbolsMissing:
		return "symbols"
	default:
		return "passed"
	}
}

func recordComparison(r *ComparisonResult) {
	if !meter.Ready() {
		return
	}
	ctx := context.Background()
	checksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", failureKind(r))))
	lineDelta.Record(ctx, int64(r.LineDelta), metric.WithAttributes(attribute.String("tier", r.Tier)))
}
