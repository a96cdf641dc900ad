// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guardian

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/snapshot"
)

const tracerName = "guardian.session"

// maxAttrLen caps string span attributes such as file paths.
const maxAttrLen = 200

// sessionOp is one traced session operation (prepare, validate, commit,
// rollback). Without tracing it carries a noop span and still logs.
type sessionOp struct {
	name  string
	span  trace.Span
	log   *slog.Logger
	start time.Time
}

func (g *Guardian) startOp(ctx context.Context, name string) (context.Context, *sessionOp) {
	var span trace.Span = noop.Span{}
	if g.tracing {
		ctx, span = otel.Tracer(tracerName).Start(ctx, "guardian."+name,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attribute.String("guardian.operation", name)),
		)
	}
	op := &sessionOp{
		name:  name,
		span:  span,
		log:   traceLogger(ctx, g.logger).With("op", name),
		start: time.Now(),
	}
	op.log.DebugContext(ctx, "session op started")
	return ctx, op
}

// snapshot tags the op with the session snapshot it acts on.
func (o *sessionOp) snapshot(s *snapshot.Snapshot) {
	if s == nil {
		return
	}
	o.span.SetAttributes(
		attribute.String("guardian.snapshot_id", s.ID),
		attribute.Bool("guardian.clean", s.Clean),
	)
	o.log = o.log.With("snapshot_id", s.ID)
}

// verdict tags a validate op with the comparison it produced.
func (o *sessionOp) verdict(v *Verdict) {
	if v == nil {
		return
	}
	o.span.SetAttributes(
		attribute.String("guardian.path", clip(v.Path, maxAttrLen)),
		attribute.Bool("guardian.passed", v.Passed),
		attribute.Bool("guardian.indeterminate", v.Indeterminate),
	)
	if r := v.Result; r != nil {
		o.span.SetAttributes(
			attribute.Int("guardian.old_lines", r.OldLineCount),
			attribute.Int("guardian.new_lines", r.NewLineCount),
			attribute.Float64("guardian.threshold", r.ThresholdUsed),
			attribute.Int("guardian.missing_symbols", len(r.MissingSymbols)),
		)
	}
}

// end records err on the span and closes it.
func (o *sessionOp) end(err error) {
	elapsed := time.Since(o.start)
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
		o.log.Debug("session op failed", "duration", elapsed, "error", err)
	} else {
		o.span.SetStatus(codes.Ok, "")
		o.log.Debug("session op done", "duration", elapsed)
	}
	o.span.End()
}

func clip(s string, n int) string {
	switch {
	case len(s) <= n:
		return s
	case n < 4:
		return s[:max(n, 0)]
	default:
		return s[:n-3] + "..."
	}
}

// traceLogger adds trace_id and span_id when ctx holds a recording span.
func traceLogger(ctx context.Context, logger *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
