// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"reflect"
	"testing"
)

func TestParseStashList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []StashEntry
	}{
		{
			name:     "empty output",
			input:    "",
			expected: nil,
		},
		{
			name: "guardian and user entries",
			input: `stash@{0}: On main: guardian-snapshot-1234
stash@{1}: WIP on feature: abc123 commit subject
stash@{12}: On main: label: with colon`,
			expected: []StashEntry{
				{Index: 0, Ref: "stash@{0}", Message: "guardian-snapshot-1234"},
				{Index: 1, Ref: "stash@{1}", Message: "abc123 commit subject"},
				{Index: 12, Ref: "stash@{12}", Message: "label: with colon"},
			},
		},
		{
			name:     "garbage lines are skipped",
			input:    "not a stash line\n",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseStashList(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("parseStashList() = %#v, want %#v", got, tt.expected)
			}
		})
	}
}

func TestParsePorcelain(t *testing.T) {
	input := " M src/a.js\n?? src/new.js\nD  gone.js\nR  old.js -> renamed.js\nA  \"with space.js\""
	got := parsePorcelain(input)
	want := []string{"src/a.js", "src/new.js", "gone.js", "old.js", "renamed.js", "with space.js"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parsePorcelain() = %#v, want %#v", got, want)
	}

	if got := parsePorcelain(" D first.js\n M second.js"); !reflect.DeepEqual(got, []string{"first.js", "second.js"}) {
		t.Errorf("leading-space status lines: got %#v", got)
	}

	if got := parsePorcelain(""); got != nil {
		t.Errorf("parsePorcelain(\"\") = %#v, want nil", got)
	}
}

func TestPathspec(t *testing.T) {
	if got := pathspec(nil); got != nil {
		t.Errorf("pathspec(nil) = %#v, want nil", got)
	}

	got := pathspec([]string{".guardian/", "secrets", ""})
	want := []string{"--", ".", ":(exclude).guardian", ":(exclude)secrets"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("pathspec() = %#v, want %#v", got, want)
	}
}

func TestNewGitClient_RequiresAbsolutePath(t *testing.T) {
	if _, err := NewGitClient("relative/path", 0); err == nil {
		t.Error("expected error for relative path")
	}

	g, err := NewGitClient("/tmp", 0)
	if err != nil {
		t.Fatalf("NewGitClient() error = %v", err)
	}
	if g.timeout <= 0 {
		t.Error("expected default timeout")
	}
}
