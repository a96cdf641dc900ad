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
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuditor struct {
	unavailable error
	result      AuditResult
	err         error
	delay       time.Duration

	mu      sync.Mutex
	prompts []string
}

func (a *fakeAuditor) Name() string { return "fake" }

func (a *fakeAuditor) Available(ctx context.Context) error { return a.unavailable }

func (a *fakeAuditor) Audit(ctx context.Context, files []string, prompt string) (AuditResult, error) {
	a.mu.Lock()
	a.prompts = append(a.prompts, prompt)
	a.mu.Unlock()
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return AuditResult{}, ctx.Err()
		}
	}
	return a.result, a.err
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *memCounter) Increment(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[key]++
}

func (c *memCounter) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func TestExternalStage_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		auditor    *fakeAuditor
		wantStatus Status
		wantCalls  int
	}{
		{
			name:       "passed",
			auditor:    &fakeAuditor{result: AuditResult{Passed: true, Output: "PASSED"}},
			wantStatus: StatusPassed,
			wantCalls:  1,
		},
		{
			name:       "findings fail",
			auditor:    &fakeAuditor{result: AuditResult{Output: "1. no logger"}},
			wantStatus: StatusFailed,
			wantCalls:  1,
		},
		{
			name:       "error fails",
			auditor:    &fakeAuditor{err: errors.New("broken pipe")},
			wantStatus: StatusFailed,
			wantCalls:  1,
		},
		{
			name:       "unavailable skips without counting",
			auditor:    &fakeAuditor{unavailable: ErrAuditorUnavailable},
			wantStatus: StatusSkipped,
			wantCalls:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &memCounter{}
			stage := NewExternalStage(tt.auditor, ExternalOptions{Counter: counter})

			out := stage.Run(context.Background(), []string{"a.js"})

			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantCalls, counter.get(StatsKeyExternalCalls))
			assert.Len(t, tt.auditor.prompts, tt.wantCalls)
		})
	}
}

func TestExternalStage_Timeout(t *testing.T) {
	auditor := &fakeAuditor{delay: time.Second, result: AuditResult{Passed: true}}
	stage := NewExternalStage(auditor, ExternalOptions{Timeout: 20 * time.Millisecond})

	out := stage.Run(context.Background(), []string{"a.js"})

	assert.Equal(t, StatusTimeout, out.Status)
	assert.True(t, out.Failed())
}

func TestExternalStage_RateLimit(t *testing.T) {
	auditor := &fakeAuditor{result: AuditResult{Passed: true}}
	counter := &memCounter{}
	stage := NewExternalStage(auditor, ExternalOptions{RatePerMinute: 1, Counter: counter})

	first := stage.Run(context.Background(), []string{"a.js"})
	second := stage.Run(context.Background(), []string{"a.js"})

	assert.Equal(t, StatusPassed, first.Status)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Contains(t, second.Warnings[0], "rate limit")
	assert.Equal(t, 1, counter.get(StatsKeyExternalCalls))
}

func TestExternalStage_Prompt(t *testing.T) {
	auditor := &fakeAuditor{result: AuditResult{Passed: true}}

	t.Run("template with placeholder", func(t *testing.T) {
		stage := NewExternalStage(auditor, ExternalOptions{Prompt: "Audit %s now."})
		assert.Equal(t, "Audit a.js, b.js now.", stage.RenderPrompt([]string{"a.js", "b.js"}))
	})

	t.Run("template without placeholder", func(t *testing.T) {
		stage := NewExternalStage(auditor, ExternalOptions{Prompt: "Audit."})
		assert.Equal(t, "Audit. Files: a.js", stage.RenderPrompt([]string{"a.js"}))
	})

	t.Run("default mentions PASSED", func(t *testing.T) {
		stage := NewExternalStage(auditor, ExternalOptions{})
		assert.Contains(t, stage.RenderPrompt([]string{"a.js"}), "'PASSED'")
		assert.Equal(t, ExternalStageName, stage.Name())
	})
}

// =============================================================================
// CommandAuditor
// =============================================================================

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "auditor.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestCommandAuditor_Available(t *testing.T) {
	t.Run("missing command", func(t *testing.T) {
		a := &CommandAuditor{Command: "definitely-not-a-real-auditor-binary"}
		assert.ErrorIs(t, a.Available(context.Background()), ErrAuditorUnavailable)
	})

	t.Run("empty command", func(t *testing.T) {
		a := &CommandAuditor{}
		assert.ErrorIs(t, a.Available(context.Background()), ErrAuditorUnavailable)
	})

	t.Run("script path", func(t *testing.T) {
		a := &CommandAuditor{Command: writeScript(t, "exit 0")}
		assert.NoError(t, a.Available(context.Background()))
	})
}

func TestCommandAuditor_Audit(t *testing.T) {
	t.Run("exit zero passes", func(t *testing.T) {
		a := &CommandAuditor{Command: writeScript(t, `echo "PASSED $2"`), Flags: []string{"-p"}}

		result, err := a.Audit(context.Background(), []string{"a.js"}, "review a.js")

		require.NoError(t, err)
		assert.True(t, result.Passed)
		assert.Contains(t, result.Output, "PASSED review a.js")
	})

	t.Run("non-zero exit fails with output", func(t *testing.T) {
		a := &CommandAuditor{Command: writeScript(t, "echo 'missing logger'; exit 3")}

		result, err := a.Audit(context.Background(), []string{"a.js"}, "review")

		require.NoError(t, err)
		assert.False(t, result.Passed)
		assert.Contains(t, result.Output, "missing logger")
	})

	t.Run("deadline returns context error", func(t *testing.T) {
		a := &CommandAuditor{Command: writeScript(t, "exec sleep 5")}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := a.Audit(ctx, []string{"a.js"}, "review")

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestExternalStage_MissingCommandSkipsInPipeline(t *testing.T) {
	stage := NewExternalStage(&CommandAuditor{Command: "definitely-not-a-real-auditor-binary"}, ExternalOptions{})
	p := NewPipeline([]Stage{stage}, Options{})

	run := p.Run(context.Background(), []string{"a.js"})

	assert.True(t, run.Passed)
	assert.Equal(t, StatusSkipped, run.Outcomes[0].Status)
	assert.NotEmpty(t, run.Warnings())
}
