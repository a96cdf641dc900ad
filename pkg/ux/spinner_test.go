// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// NewSpinner Tests
// =============================================================================

func TestNewSpinner_UnknownTypeFallsBackToDots(t *testing.T) {
	spin := NewSpinner(&bytes.Buffer{}, "Loading...", SpinnerType(99))
	if len(spin.frames) != len(spinnerFrames[SpinnerDots]) {
		t.Errorf("expected dots frames, got %v", spin.frames)
	}
}

func TestSpinner_StartStopClearsLine(t *testing.T) {
	var buf bytes.Buffer
	spin := NewSpinner(&buf, "auditing", SpinnerLine)
	spin.interval = time.Millisecond

	spin.Start()
	if !spin.Running() {
		t.Fatal("spinner should be running after Start")
	}
	time.Sleep(10 * time.Millisecond)
	spin.Stop()

	if spin.Running() {
		t.Error("spinner should not be running after Stop")
	}
	out := buf.String()
	if !strings.Contains(out, "auditing") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.HasSuffix(out, "\r\033[K") {
		t.Errorf("output should end with a line clear: %q", out)
	}
}

func TestSpinner_StopIsIdempotent(t *testing.T) {
	spin := NewSpinner(&bytes.Buffer{}, "x", SpinnerDots)
	spin.Stop()
	spin.Start()
	spin.Stop()
	spin.Stop()
}

func TestSpinner_Update(t *testing.T) {
	spin := NewSpinner(&bytes.Buffer{}, "one", SpinnerDots)
	spin.Update("two")
	if spin.message != "two" {
		t.Errorf("message = %q, want two", spin.message)
	}
}

// =============================================================================
// Printer integration
// =============================================================================

func TestPrinterSpinner_InertOutsideRichMode(t *testing.T) {
	for _, mode := range []Mode{ModePlain, ModeJSON} {
		p, out, errOut := newTestPrinter(mode)
		spin := p.Spinner("working")
		spin.Start()
		if spin.Running() {
			t.Errorf("%s: spinner should not run", mode)
		}
		spin.Stop()
		if out.Len() != 0 || errOut.Len() != 0 {
			t.Errorf("%s: spinner wrote output: %q %q", mode, out.String(), errOut.String())
		}
	}
}

func TestWithSpinner_ReturnsError(t *testing.T) {
	p, _, _ := newTestPrinter(ModePlain)
	want := errors.New("boom")
	called := false
	err := WithSpinner(p, "working", func() error {
		called = true
		return want
	})
	if !called {
		t.Error("fn was not called")
	}
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}
