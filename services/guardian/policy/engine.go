// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy scans file content for secrets and hardcoded credentials.
//
// Classifications and their patterns come from an embedded YAML file, so
// the rules travel with the binary and cannot drift at runtime.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var embeddedPatterns []byte

// ErrNoPatterns is returned when a pattern file defines no patterns.
var ErrNoPatterns = errors.New("policy defines no patterns")

// ClassPublic is returned by Classify when nothing matched.
const ClassPublic = "public"

// Engine matches content against classified patterns.
//
// # Thread Safety
//
// Immutable after construction. Safe for concurrent use.
type Engine struct {
	classifications []Classification
}

// NewEngine creates an engine over the embedded patterns.
func NewEngine() (*Engine, error) {
	return NewEngineFromYAML(embeddedPatterns)
}

// NewEngineFromYAML creates an engine from a pattern document.
//
// # Outputs
//
//   - *Engine: Engine with classifications sorted by descending priority.
//   - error: YAML, confidence or regex errors, or ErrNoPatterns.
func NewEngineFromYAML(raw []byte) (*Engine, error) {
	var file PatternFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := file.compile(); err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	total := 0
	for _, c := range file.Classifications {
		total += len(c.Patterns)
	}
	if total == 0 {
		return nil, ErrNoPatterns
	}
	file.sortByPriority()
	return &Engine{classifications: file.Classifications}, nil
}

// Classify returns the name of the highest-priority classification with
// any match, or ClassPublic.
func (e *Engine) Classify(data []byte) string {
	for _, c := range e.classifications {
		for _, p := range c.Patterns {
			if p.compiled.Match(data) {
				return c.Name
			}
		}
	}
	return ClassPublic
}

// Scan reports every match in content, line by line. Matches are
// redacted so findings can be logged and printed safely.
func (e *Engine) Scan(path, content string) []Finding {
	var findings []Finding
	for i, line := range strings.Split(content, "\n") {
		for _, c := range e.classifications {
			for _, p := range c.Patterns {
				match := p.compiled.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, Finding{
					Path:           path,
					Line:           i + 1,
					Match:          Redact(strings.TrimSpace(match)),
					Classification: c.Name,
					PatternID:      p.ID,
					Description:    p.Description,
					Confidence:     p.Confidence,
				})
			}
		}
	}
	return findings
}

// Redact keeps the first four characters of s and masks the rest.
func Redact(s string) string {
	const keep = 4
	if len(s) <= keep {
		return strings.Repeat("*", len(s))
	}
	return s[:keep] + strings.Repeat("*", min(len(s)-keep, 12))
}
