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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStage returns a fixed outcome and records its invocations.
type fakeStage struct {
	name    string
	outcome StageOutcome
	panics  bool

	mu    sync.Mutex
	calls [][]string
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Run(ctx context.Context, files []string) StageOutcome {
	s.mu.Lock()
	s.calls = append(s.calls, files)
	s.mu.Unlock()
	if s.panics {
		panic("boom")
	}
	return s.outcome
}

func (s *fakeStage) invoked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func passing(name string) *fakeStage {
	return &fakeStage{name: name, outcome: StageOutcome{Status: StatusPassed}}
}

func failing(name string) *fakeStage {
	return &fakeStage{name: name, outcome: StageOutcome{Status: StatusFailed, Messages: []string{name + " said no"}}}
}

func TestPipeline_EmptyFilesInvokesNothing(t *testing.T) {
	a, b := failing("a"), failing("b")
	p := NewPipeline([]Stage{a, b}, Options{})

	run := p.Run(context.Background(), nil)

	assert.True(t, run.Passed)
	assert.Equal(t, RunPassed, run.State)
	assert.Empty(t, run.Outcomes)
	assert.Zero(t, a.invoked())
	assert.Zero(t, b.invoked())
}

func TestPipeline_AllPass(t *testing.T) {
	a, b := passing("a"), passing("b")
	p := NewPipeline([]Stage{a, b}, Options{})

	run := p.Run(context.Background(), []string{"x.js"})

	assert.True(t, run.Passed)
	assert.Equal(t, RunPassed, run.State)
	require.Len(t, run.Outcomes, 2)
	assert.Equal(t, "a", run.Outcomes[0].Stage)
	assert.True(t, run.Outcomes[0].Fatal)
	assert.Equal(t, []string{"a", "b"}, run.Stages)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, [][]string{{"x.js"}}, a.calls)
}

func TestPipeline_FatalFailureStopsRun(t *testing.T) {
	a, b := failing("a"), passing("b")
	p := NewPipeline([]Stage{a, b}, Options{})

	run := p.Run(context.Background(), []string{"x.js"})

	assert.False(t, run.Passed)
	assert.Equal(t, RunFailed, run.State)
	assert.Equal(t, "a", run.FailedStage)
	assert.Len(t, run.Outcomes, 1)
	assert.Zero(t, b.invoked(), "stage after a fatal failure must not run")
}

func TestPipeline_NonFatalFailure(t *testing.T) {
	t.Run("degraded when failOnNonFatal is off", func(t *testing.T) {
		a, b := failing("a"), passing("b")
		p := NewPipeline([]Stage{a, b}, Options{NonFatal: []string{"a"}})

		run := p.Run(context.Background(), []string{"x.js"})

		assert.True(t, run.Passed)
		assert.Equal(t, RunDegraded, run.State)
		assert.Equal(t, 1, b.invoked())
		assert.False(t, run.Outcomes[0].Fatal)
	})

	t.Run("failed when failOnNonFatal is on", func(t *testing.T) {
		a, b := failing("a"), passing("b")
		p := NewPipeline([]Stage{a, b}, Options{NonFatal: []string{"a"}, FailOnNonFatal: true})

		run := p.Run(context.Background(), []string{"x.js"})

		assert.False(t, run.Passed)
		assert.Equal(t, RunFailed, run.State)
		assert.Equal(t, "a", run.FailedStage)
		assert.Equal(t, 1, b.invoked(), "non-fatal failure does not stop later stages")
	})

	t.Run("later fatal failure still wins", func(t *testing.T) {
		a, b := failing("a"), failing("b")
		p := NewPipeline([]Stage{a, b}, Options{NonFatal: []string{"a"}})

		run := p.Run(context.Background(), []string{"x.js"})

		assert.Equal(t, RunFailed, run.State)
		assert.Equal(t, "b", run.FailedStage)
	})
}

func TestPipeline_SkippedCountsAsPass(t *testing.T) {
	a := &fakeStage{name: "a", outcome: StageOutcome{Status: StatusSkipped, Warnings: []string{"nothing to do"}}}
	p := NewPipeline([]Stage{a}, Options{})

	run := p.Run(context.Background(), []string{"x.js"})

	assert.True(t, run.Passed)
	assert.Equal(t, []string{"a: nothing to do"}, run.Warnings())
}

func TestPipeline_TimeoutIsFailure(t *testing.T) {
	a := &fakeStage{name: "a", outcome: StageOutcome{Status: StatusTimeout}}
	p := NewPipeline([]Stage{a}, Options{})

	run := p.Run(context.Background(), []string{"x.js"})

	assert.False(t, run.Passed)
}

func TestPipeline_PanicIsRecordedAsFailure(t *testing.T) {
	a := &fakeStage{name: "a", panics: true}
	b := passing("b")
	p := NewPipeline([]Stage{a, b}, Options{})

	var run *PipelineRun
	require.NotPanics(t, func() { run = p.Run(context.Background(), []string{"x.js"}) })

	assert.False(t, run.Passed)
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, "a", run.Outcomes[0].Stage)
	assert.Equal(t, StatusFailed, run.Outcomes[0].Status)
	assert.Contains(t, run.Outcomes[0].Messages[0], "boom")
	assert.Zero(t, b.invoked())
}

func TestPipeline_CancelledContextFailsStage(t *testing.T) {
	a := passing("a")
	p := NewPipeline([]Stage{a}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := p.Run(ctx, []string{"x.js"})

	assert.False(t, run.Passed)
	assert.Zero(t, a.invoked())
}

func TestPipeline_Only(t *testing.T) {
	a, b, c := passing("a"), failing("b"), passing("c")
	p := NewPipeline([]Stage{a, b, c}, Options{})

	only := p.Only("c", "a")

	assert.Equal(t, []string{"a", "c"}, only.StageNames())
	assert.Equal(t, []string{"a", "b", "c"}, p.StageNames())
	assert.True(t, only.Run(context.Background(), []string{"x.js"}).Passed)
}

func TestPipeline_TracingDoesNotChangeResult(t *testing.T) {
	a, b := passing("a"), failing("b")
	p := NewPipeline([]Stage{a, b}, Options{Tracing: true})

	run := p.Run(context.Background(), []string{"x.js"})

	assert.Equal(t, RunFailed, run.State)
	assert.Equal(t, "b", run.FailedStage)
}

func TestPipeline_Select(t *testing.T) {
	p := NewPipeline([]Stage{passing(LocalStageName), failing(ExternalStageName)}, Options{})

	t.Run("known names", func(t *testing.T) {
		sel, err := p.Select(LocalStageName)
		require.NoError(t, err)
		assert.Equal(t, []string{LocalStageName}, sel.StageNames())
	})

	t.Run("alias", func(t *testing.T) {
		sel, err := p.Select("external")
		require.NoError(t, err)
		assert.Equal(t, []string{ExternalStageName}, sel.StageNames())
	})

	t.Run("misspelled name is rejected", func(t *testing.T) {
		_, err := p.Select(LocalStageName, "lcoal")
		assert.ErrorIs(t, err, ErrUnknownStage)
	})

	t.Run("known but unconfigured stage is rejected", func(t *testing.T) {
		_, err := p.Select(IntegrityStageName)
		assert.ErrorIs(t, err, ErrUnknownStage)
	})
}
