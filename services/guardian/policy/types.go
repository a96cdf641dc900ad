// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Confidence is how likely a match is a real finding.
type Confidence string

const (
	Low    Confidence = "low"
	Medium Confidence = "medium"
	High   Confidence = "high"
)

// UnmarshalYAML rejects unknown confidence levels.
func (c *Confidence) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch level := Confidence(s); level {
	case High, Medium, Low:
		*c = level
		return nil
	default:
		return fmt.Errorf("invalid confidence %q", s)
	}
}

// PatternFile is the YAML document holding every classification.
type PatternFile struct {
	Classifications []Classification `yaml:"classifications"`
}

// Classification groups patterns under one name, e.g. "secret".
type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is one regular expression with its identity.
type Pattern struct {
	ID          string     `yaml:"id"`
	Description string     `yaml:"description"`
	Regex       string     `yaml:"regex"`
	Confidence  Confidence `yaml:"confidence"`

	compiled *regexp.Regexp
}

// compile compiles every pattern in place.
func (f *PatternFile) compile() error {
	for i := range f.Classifications {
		for j := range f.Classifications[i].Patterns {
			p := &f.Classifications[i].Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return fmt.Errorf("pattern %s: %w", p.ID, err)
			}
			p.compiled = re
		}
	}
	return nil
}

// sortByPriority orders classifications from highest to lowest priority.
func (f *PatternFile) sortByPriority() {
	sort.SliceStable(f.Classifications, func(i, j int) bool {
		return f.Classifications[i].Priority > f.Classifications[j].Priority
	})
}

// Finding is one pattern match in a file.
type Finding struct {
	Path           string     `json:"path"`
	Line           int        `json:"line"`
	Match          string     `json:"match"`
	Classification string     `json:"classification"`
	PatternID      string     `json:"patternId"`
	Description    string     `json:"description"`
	Confidence     Confidence `json:"confidence"`
}

// String renders the finding for audit messages. The match is redacted.
func (f Finding) String() string {
	return fmt.Sprintf("%s:%d: %s (%s, %s confidence): %s",
		f.Path, f.Line, f.Description, f.Classification, f.Confidence, f.Match)
}
