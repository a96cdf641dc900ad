// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Meter owns one package's instruments. They are created on first use from
// the global meter provider, and recording can be switched off at runtime.
type Meter struct {
	name  string
	build func(metric.Meter) error

	off  atomic.Bool
	once sync.Once
	err  error
}

// NewMeter returns a Meter whose build func creates the instruments.
func NewMeter(name string, build func(metric.Meter) error) *Meter {
	return &Meter{name: name, build: build}
}

// SetEnabled toggles recording. Meters start enabled.
func (m *Meter) SetEnabled(enabled bool) {
	m.off.Store(!enabled)
}

// Ready builds the instruments once and reports whether the caller should
// record. A build error disables the meter for the life of the process.
func (m *Meter) Ready() bool {
	if m.off.Load() {
		return false
	}
	m.once.Do(func() {
		m.err = m.build(otel.Meter(m.name))
	})
	return m.err == nil
}

// Err is the instrument build error, if any.
func (m *Meter) Err() error {
	return m.err
}
