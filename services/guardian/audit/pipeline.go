// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit runs ordered, fail-fast check stages over a set of changed
// files.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Status is the outcome of one stage.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusTimeout Status = "timeout"
)

// RunState is the terminal state of a pipeline run.
type RunState string

const (
	RunPassed RunState = "passed"
	RunFailed RunState = "failed"

	// RunDegraded means only non-fatal stages failed and failOnNonFatal
	// is off, so the run passes with warnings.
	RunDegraded RunState = "degraded"
)

// StageOutcome records what one stage did.
type StageOutcome struct {
	Stage    string        `json:"stage"`
	Status   Status        `json:"status"`
	Fatal    bool          `json:"fatal"`
	Messages []string      `json:"messages,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"durationNs"`
}

// Failed reports whether the stage counts as a failure.
func (o StageOutcome) Failed() bool {
	return o.Status == StatusFailed || o.Status == StatusTimeout
}

// Stage is one named check over the target files.
type Stage interface {
	Name() string
	Run(ctx context.Context, files []string) StageOutcome
}

// PipelineRun is the immutable summary of one Pipeline.Run call.
type PipelineRun struct {
	ID          string         `json:"id"`
	Stages      []string       `json:"stages"`
	Files       []string       `json:"files"`
	Outcomes    []StageOutcome `json:"outcomes"`
	State       RunState       `json:"state"`
	FailedStage string         `json:"failedStage,omitempty"`
	Passed      bool           `json:"passed"`
	StartedAt   time.Time      `json:"startedAt"`
	Duration    time.Duration  `json:"durationNs"`
}

// Warnings flattens the warnings of every outcome, prefixed by stage name.
func (r *PipelineRun) Warnings() []string {
	var out []string
	for _, o := range r.Outcomes {
		for _, w := range o.Warnings {
			out = append(out, o.Stage+": "+w)
		}
	}
	return out
}

// Options configures a Pipeline.
type Options struct {
	// NonFatal names stages whose failure does not stop the run.
	NonFatal []string

	// FailOnNonFatal turns a non-fatal failure into an overall failure
	// once every stage has run. When false the run is DEGRADED but passes.
	FailOnNonFatal bool

	// Logger receives stage logs. Default slog.Default().
	Logger *slog.Logger

	// Tracing enables a span per run and per stage.
	Tracing bool
}

// Pipeline executes stages in order and stops at the first fatal failure.
//
// # Description
//
// An empty file list passes without invoking any stage. A stage that
// panics is recorded as failed. Runs are independent; a Pipeline can be
// reused.
//
// # Thread Safety
//
// Run is safe for concurrent use if every stage is.
type Pipeline struct {
	stages   []Stage
	nonFatal map[string]bool
	failOn   bool
	logger   *slog.Logger
	tracer   trace.Tracer
	tracing  bool
}

// NewPipeline creates a pipeline over stages in the given order.
func NewPipeline(stages []Stage, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nonFatal := make(map[string]bool, len(opts.NonFatal))
	for _, name := range opts.NonFatal {
		nonFatal[CanonicalStageName(name)] = true
	}
	return &Pipeline{
		stages:   stages,
		nonFatal: nonFatal,
		failOn:   opts.FailOnNonFatal,
		logger:   logger.With("component", "audit.Pipeline"),
		tracer:   otel.Tracer("guardian.audit"),
		tracing:  opts.Tracing,
	}
}

// StageNames returns the configured stage order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Only returns a pipeline restricted to the named stages, keeping order
// and options.
func (p *Pipeline) Only(names ...string) *Pipeline {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	cp := *p
	cp.stages = nil
	for _, s := range p.stages {
		if keep[s.Name()] {
			cp.stages = append(cp.stages, s)
		}
	}
	return &cp
}

// Select is Only for untrusted input: every name must be a configured
// stage, otherwise ErrUnknownStage. "external" selects the ai stage.
func (p *Pipeline) Select(names ...string) (*Pipeline, error) {
	configured := make(map[string]bool, len(p.stages))
	for _, s := range p.stages {
		configured[s.Name()] = true
	}
	canonical := make([]string, 0, len(names))
	for _, n := range names {
		n = CanonicalStageName(n)
		if !configured[n] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, n)
		}
		canonical = append(canonical, n)
	}
	return p.Only(canonical...), nil
}

// Run executes the pipeline over files.
//
// # Inputs
//
//   - ctx: Cancellation. A cancelled context fails the next stage.
//   - files: Target files. Empty means nothing to protect.
//
// # Outputs
//
//   - *PipelineRun: Summary of the run. Never nil.
func (p *Pipeline) Run(ctx context.Context, files []string) *PipelineRun {
	run := &PipelineRun{
		ID:        uuid.NewString(),
		Stages:    p.StageNames(),
		Files:     append([]string(nil), files...),
		Outcomes:  []StageOutcome{},
		StartedAt: time.Now().UTC(),
	}

	if len(files) == 0 {
		p.logger.Info("no files given, nothing to audit")
		run.State = RunPassed
		run.Passed = true
		recordRun(ctx, run)
		return run
	}

	var span trace.Span
	if p.tracing {
		ctx, span = p.tracer.Start(ctx, "audit.run", trace.WithAttributes(
			attribute.String("audit.run_id", run.ID),
			attribute.Int("audit.files", len(files)),
		))
		defer span.End()
	}

	p.logger.Info("audit started", "run_id", run.ID, "files", len(files), "stages", run.Stages)

	nonFatalFailure := ""
	for _, stage := range p.stages {
		outcome := p.runStage(ctx, stage, files)
		run.Outcomes = append(run.Outcomes, outcome)

		if !outcome.Failed() {
			continue
		}
		if outcome.Fatal {
			run.State = RunFailed
			run.FailedStage = outcome.Stage
			p.logger.Error("fatal stage failed, audit aborted", "stage", outcome.Stage, "status", outcome.Status)
			break
		}
		if nonFatalFailure == "" {
			nonFatalFailure = outcome.Stage
		}
		p.logger.Warn("non-fatal stage failed", "stage", outcome.Stage, "status", outcome.Status)
	}

	if run.State == "" {
		switch {
		case nonFatalFailure == "":
			run.State = RunPassed
		case p.failOn:
			run.State = RunFailed
			run.FailedStage = nonFatalFailure
		default:
			run.State = RunDegraded
		}
	}
	run.Passed = run.State != RunFailed
	run.Duration = time.Since(run.StartedAt)

	if span != nil {
		span.SetAttributes(attribute.String("audit.state", string(run.State)))
		if !run.Passed {
			span.SetStatus(codes.Error, "stage "+run.FailedStage+" failed")
		}
	}

	p.logger.Info("audit finished", "run_id", run.ID, "state", run.State, "duration", run.Duration)
	recordRun(ctx, run)
	return run
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, files []string) (outcome StageOutcome) {
	name := stage.Name()
	start := time.Now()

	if p.tracing {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "audit.stage."+name, trace.WithAttributes(attribute.String("audit.stage", name)))
		defer func() {
			span.SetAttributes(attribute.String("audit.status", string(outcome.Status)))
			if outcome.Failed() {
				span.SetStatus(codes.Error, string(outcome.Status))
			}
			span.End()
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in stage", "stage", name, "panic", r)
			outcome = StageOutcome{
				Stage:    name,
				Status:   StatusFailed,
				Messages: []string{fmt.Sprintf("stage panicked: %v", r)},
			}
		}
		outcome.Stage = name
		outcome.Fatal = !p.nonFatal[name]
		outcome.Duration = time.Since(start)
		recordStage(ctx, outcome)
	}()

	if err := ctx.Err(); err != nil {
		return StageOutcome{Status: StatusFailed, Messages: []string{"cancelled: " + err.Error()}}
	}

	p.logger.Info("stage started", "stage", name)
	outcome = stage.Run(ctx, files)
	for _, w := range outcome.Warnings {
		p.logger.Warn("stage warning", "stage", name, "warning", w)
	}
	return outcome
}
