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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ExternalStageName is the configured name of ExternalStage. "external"
// is accepted as an alias.
const ExternalStageName = "ai"

// StatsKeyExternalCalls is the counter incremented once per run that
// invokes the external auditor.
const StatsKeyExternalCalls = "ai_agent_calls"

// ErrAuditorUnavailable is returned by Auditor.Available when the auditor
// cannot be reached.
var ErrAuditorUnavailable = errors.New("auditor unavailable")

// AuditResult is an external auditor's verdict.
type AuditResult struct {
	Passed bool
	Output string
}

// Auditor performs the expensive external review.
type Auditor interface {
	Name() string

	// Available is a cheap check run before every audit.
	Available(ctx context.Context) error

	// Audit reviews files. prompt is the fully rendered instruction.
	Audit(ctx context.Context, files []string, prompt string) (AuditResult, error)
}

// CallCounter receives cost-control events.
type CallCounter interface {
	Increment(key string)
}

// ExternalStage delegates to an Auditor with a timeout and a rate limit.
//
// # Description
//
// An unavailable auditor or a denied rate-limit token skips the stage with
// a warning; Guardian stays usable when the auditor is not installed. An
// audit exceeding the timeout yields StatusTimeout.
type ExternalStage struct {
	name    string
	auditor Auditor
	prompt  string
	timeout time.Duration
	limiter *rate.Limiter
	counter CallCounter
	logger  *slog.Logger
}

// ExternalOptions configures an ExternalStage.
type ExternalOptions struct {
	// Name overrides the stage name. Default "ai".
	Name string

	// Prompt is a format string; %s receives the comma-joined file list.
	Prompt string

	// Timeout bounds one audit. Default 30s.
	Timeout time.Duration

	// RatePerMinute caps audits per minute. 0 means unlimited.
	RatePerMinute int

	Counter CallCounter
	Logger  *slog.Logger
}

// NewExternalStage creates an ExternalStage around auditor.
func NewExternalStage(auditor Auditor, opts ExternalOptions) *ExternalStage {
	s := &ExternalStage{
		name:    opts.Name,
		auditor: auditor,
		prompt:  opts.Prompt,
		timeout: opts.Timeout,
		counter: opts.Counter,
		logger:  opts.Logger,
	}
	if s.name == "" {
		s.name = ExternalStageName
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.prompt == "" {
		s.prompt = "Review %s. Answer ONLY with 'PASSED' or a compact list of findings."
	}
	if opts.RatePerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "audit.ExternalStage", "auditor", auditor.Name())
	return s
}

// Name implements Stage.
func (s *ExternalStage) Name() string { return s.name }

// RenderPrompt fills the prompt template with the file list.
func (s *ExternalStage) RenderPrompt(files []string) string {
	if strings.Contains(s.prompt, "%s") {
		return fmt.Sprintf(s.prompt, strings.Join(files, ", "))
	}
	return s.prompt + " Files: " + strings.Join(files, ", ")
}

// Run implements Stage.
func (s *ExternalStage) Run(ctx context.Context, files []string) StageOutcome {
	if err := s.auditor.Available(ctx); err != nil {
		s.logger.Warn("external auditor not available, stage skipped", "error", err)
		return StageOutcome{
			Status:   StatusSkipped,
			Warnings: []string{fmt.Sprintf("%s not available, skipped: %v", s.auditor.Name(), err)},
		}
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return StageOutcome{
			Status:   StatusSkipped,
			Warnings: []string{"external audit rate limit reached, skipped"},
		}
	}

	if s.counter != nil {
		s.counter.Increment(StatsKeyExternalCalls)
	}

	auditCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.auditor.Audit(auditCtx, files, s.RenderPrompt(files))
	if err != nil {
		if errors.Is(auditCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return StageOutcome{
				Status:   StatusTimeout,
				Messages: []string{fmt.Sprintf("%s timed out after %v", s.auditor.Name(), s.timeout)},
			}
		}
		return StageOutcome{Status: StatusFailed, Messages: []string{err.Error()}}
	}

	out := StageOutcome{Status: StatusPassed}
	if !result.Passed {
		out.Status = StatusFailed
	}
	if text := strings.TrimSpace(result.Output); text != "" {
		out.Messages = append(out.Messages, text)
	}
	return out
}

// =============================================================================
// Command auditor
// =============================================================================

// CommandAuditor runs `<command> <flags...> <prompt>` and passes on exit 0.
type CommandAuditor struct {
	Command string
	Flags   []string

	// Dir is the working directory for the command.
	Dir string
}

// Name implements Auditor.
func (a *CommandAuditor) Name() string { return a.Command }

// Available implements Auditor with a PATH lookup.
func (a *CommandAuditor) Available(ctx context.Context) error {
	if a.Command == "" {
		return fmt.Errorf("%w: no command configured", ErrAuditorUnavailable)
	}
	if _, err := exec.LookPath(a.Command); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditorUnavailable, err)
	}
	return nil
}

// Audit implements Auditor.
func (a *CommandAuditor) Audit(ctx context.Context, files []string, prompt string) (AuditResult, error) {
	args := append(append([]string(nil), a.Flags...), prompt)
	cmd := exec.CommandContext(ctx, a.Command, args...)
	cmd.Dir = a.Dir
	cmd.WaitDelay = time.Second

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if ctx.Err() != nil {
		return AuditResult{Output: output.String()}, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return AuditResult{Passed: false, Output: output.String()}, nil
		}
		return AuditResult{}, fmt.Errorf("running %s: %w", a.Command, err)
	}
	return AuditResult{Passed: true, Output: output.String()}, nil
}
