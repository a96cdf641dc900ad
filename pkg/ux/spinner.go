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
	"fmt"
	"io"
	"sync"
	"time"
)

// SpinnerType selects an animation.
type SpinnerType int

const (
	SpinnerDots SpinnerType = iota
	SpinnerLine
)

var spinnerFrames = map[SpinnerType][]string{
	SpinnerDots: {"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	SpinnerLine: {"-", "\\", "|", "/"},
}

const spinnerInterval = 80 * time.Millisecond

// Spinner animates a progress line on a terminal. A Spinner created by a
// Printer that is not in rich mode never draws anything, so callers can use
// it unconditionally.
type Spinner struct {
	w        io.Writer
	message  string
	frames   []string
	interval time.Duration
	enabled  bool

	mu        sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	isRunning bool
	frame     int
}

// NewSpinner creates a spinner writing to w.
func NewSpinner(w io.Writer, message string, kind SpinnerType) *Spinner {
	frames, ok := spinnerFrames[kind]
	if !ok {
		frames = spinnerFrames[SpinnerDots]
	}
	return &Spinner{
		w:        w,
		message:  message,
		frames:   frames,
		interval: spinnerInterval,
		enabled:  true,
	}
}

// Spinner returns a spinner on the printer's error stream. It is inert
// unless the printer is in rich mode.
func (p *Printer) Spinner(message string) *Spinner {
	s := NewSpinner(p.Err, message, SpinnerDots)
	s.enabled = p.Rich()
	return s
}

// Start begins the animation. Starting a running spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.isRunning {
		return
	}
	s.isRunning = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
}

func (s *Spinner) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.draw()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.draw()
		}
	}
}

func (s *Spinner) draw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.frames[s.frame%len(s.frames)]
	s.frame++
	fmt.Fprintf(s.w, "\r%s %s", Styles.Title.Render(frame), s.message)
}

// Update replaces the message shown next to the animation.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop halts the animation and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	fmt.Fprint(s.w, "\r\033[K")
}

// Running reports whether the animation is active.
func (s *Spinner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// WithSpinner runs fn while a spinner shows message.
func WithSpinner(p *Printer, message string, fn func() error) error {
	s := p.Spinner(message)
	s.Start()
	defer s.Stop()
	return fn()
}
