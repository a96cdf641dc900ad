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
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineChurn counts line-level edits between two texts.
//
// A removed line immediately replaced by an inserted one counts as
// Changed; the remainder counts as Added or Removed. Net line delta can
// hide large rewrites, churn does not.
type LineChurn struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Changed int `json:"changed"`
}

// ComputeLineChurn diffs oldText and newText line by line.
func ComputeLineChurn(oldText, newText string) LineChurn {
	dmp := diffmatchpatch.New()
	oldRunes, newRunes, _ := dmp.DiffLinesToRunes(oldText, newText)
	diffs := dmp.DiffMainRunes(oldRunes, newRunes, false)

	var churn LineChurn
	var removedPending int

	// Each rune stands for one line until DiffCharsToLines is applied.
	for _, edit := range diffs {
		switch edit.Type {
		case diffmatchpatch.DiffEqual:
			churn.Removed += removedPending
			removedPending = 0
		case diffmatchpatch.DiffInsert:
			inserted := utf8.RuneCountInString(edit.Text)
			if removedPending > inserted {
				churn.Changed += inserted
				churn.Removed += removedPending - inserted
			} else {
				churn.Changed += removedPending
				churn.Added += inserted - removedPending
			}
			removedPending = 0
		case diffmatchpatch.DiffDelete:
			removedPending += utf8.RuneCountInString(edit.Text)
		}
	}
	churn.Removed += removedPending
	return churn
}
