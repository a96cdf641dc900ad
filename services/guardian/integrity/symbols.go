// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package integrity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnknownExtractor is returned by NewExtractor for unsupported names.
var ErrUnknownExtractor = errors.New("unknown symbol extractor")

// SymbolExtractor returns the normalized top-level declaration signatures
// of a source text.
//
// Results are de-duplicated and ordered by first occurrence. Signatures are
// opaque strings used only for set membership.
type SymbolExtractor interface {
	Extract(source string) []string
}

// PathAwareExtractor is implemented by extractors that pick a grammar
// from the file name.
type PathAwareExtractor interface {
	ForPath(path string) SymbolExtractor
}

// NewExtractor returns the extractor registered under name.
//
// # Inputs
//
//   - name: "regex" or "treesitter". Empty means "regex".
//
// # Outputs
//
//   - SymbolExtractor: The extractor.
//   - error: ErrUnknownExtractor for other names.
func NewExtractor(name string) (SymbolExtractor, error) {
	switch name {
	case "", "regex":
		return NewRegexExtractor(), nil
	case "treesitter":
		return NewTreeSitterExtractor(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExtractor, name)
	}
}

// symbolPattern matches named function declarations (with their parameter
// list), const/let/var bindings of arrow functions, and class declarations.
var symbolPattern = regexp.MustCompile(
	`\b(?:async\s+)?function(?:\s*\*\s*|\s+)[\w$]+\s*\([^)]*\)` +
		`|\b(?:const|let|var)\s+[\w$]+\s*=\s*(?:async\s*)?(?:\([^)]*\)|[\w$]+)\s*=>` +
		`|\bclass\s+[\w$]+`,
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// RegexExtractor is the single-expression lexical heuristic.
//
// It sees declarations at any nesting depth and misses unconventional
// styles (object methods, assignments to exports, decorators).
type RegexExtractor struct{}

// NewRegexExtractor returns a RegexExtractor.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// Extract implements SymbolExtractor.
func (RegexExtractor) Extract(source string) []string {
	matches := symbolPattern.FindAllString(source, -1)
	return dedupe(matches)
}

// NormalizeSignature collapses whitespace runs to one space and trims.
func NormalizeSignature(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

func dedupe(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, m := range raw {
		sig := NormalizeSignature(m)
		if sig == "" {
			continue
		}
		if _, ok := seen[sig]; ok {
			continue
		}
		seen[sig] = struct{}{}
		out = append(out, sig)
	}
	return out
}

// MissingSymbols returns the signatures of old absent from new, in old's order.
func MissingSymbols(oldSymbols, newSymbols []string) []string {
	present := make(map[string]struct{}, len(newSymbols))
	for _, s := range newSymbols {
		present[s] = struct{}{}
	}
	missing := make([]string, 0)
	for _, s := range oldSymbols {
		if _, ok := present[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}
