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
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/integrity"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/snapshot"
)

func numberedLines(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("total = total + " + strconv.Itoa(i) + ";\n")
	}
	return b.String()
}

func testComparator() *integrity.Comparator {
	return integrity.NewComparator(integrity.DefaultThresholdPolicy(), integrity.NewRegexExtractor(), integrity.DefaultOptions())
}

type fakeHead struct {
	files map[string]string
	err   error
}

func (h fakeHead) ShowHead(ctx context.Context, rel string) ([]byte, error) {
	if h.err != nil {
		return nil, h.err
	}
	content, ok := h.files[rel]
	if !ok {
		return nil, fmt.Errorf("show HEAD:%s: %w", rel, snapshot.ErrPathNotInRef)
	}
	return []byte(content), nil
}

func TestIntegrityStage_BackupsBaseline(t *testing.T) {
	root := t.TempDir()
	backups := t.TempDir()
	writeFile(t, backups, "src/calc.js", numberedLines(120))
	writeFile(t, root, "src/calc.js", numberedLines(60))
	writeFile(t, backups, "src/ok.js", numberedLines(12))
	writeFile(t, root, "src/ok.js", numberedLines(9))

	stage := NewIntegrityStage(root, testComparator(), BackupsBaseline{Dir: backups})

	t.Run("halved file fails", func(t *testing.T) {
		out := stage.Run(context.Background(), []string{"src/calc.js"})
		assert.Equal(t, StatusFailed, out.Status)
		require.Len(t, out.Messages, 1)
		assert.Contains(t, out.Messages[0], "src/calc.js: FAILED")
	})

	t.Run("small loss passes", func(t *testing.T) {
		out := stage.Run(context.Background(), []string{"src/ok.js"})
		assert.Equal(t, StatusPassed, out.Status)
		assert.Contains(t, out.Messages[0], "PASSED")
	})

	t.Run("no baseline skips", func(t *testing.T) {
		writeFile(t, root, "src/new.js", "x\n")
		out := stage.Run(context.Background(), []string{"src/new.js"})
		assert.Equal(t, StatusSkipped, out.Status)
		assert.Contains(t, out.Messages[0], "no baseline")
	})

	t.Run("deleted file compares as empty", func(t *testing.T) {
		writeFile(t, backups, "src/gone.js", numberedLines(50))
		out := stage.Run(context.Background(), []string{"src/gone.js"})
		assert.Equal(t, StatusFailed, out.Status)
	})
}

func TestIntegrityStage_HeadBaseline(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lib.js", "function calc() {\n  return 1;\n}\n")

	t.Run("missing symbol fails", func(t *testing.T) {
		head := fakeHead{files: map[string]string{"lib.js": "function compute() {\n  return 1;\n}\n"}}
		out := NewIntegrityStage(root, testComparator(), HeadBaseline{Reader: head}).Run(context.Background(), []string{"lib.js"})
		assert.Equal(t, StatusFailed, out.Status)
		assert.Contains(t, out.Messages[0], "function compute()")
	})

	t.Run("untracked file skips", func(t *testing.T) {
		out := NewIntegrityStage(root, testComparator(), HeadBaseline{Reader: fakeHead{}}).Run(context.Background(), []string{"lib.js"})
		assert.Equal(t, StatusSkipped, out.Status)
	})

	t.Run("reader error fails", func(t *testing.T) {
		head := fakeHead{err: errors.New("git exploded")}
		out := NewIntegrityStage(root, testComparator(), HeadBaseline{Reader: head}).Run(context.Background(), []string{"lib.js"})
		assert.Equal(t, StatusFailed, out.Status)
		assert.Contains(t, out.Messages[0], "git exploded")
	})
}

func TestIntegrityStage_AbsolutePathIsRelativised(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "a/b.js", numberedLines(10))
	head := fakeHead{files: map[string]string{"a/b.js": numberedLines(10)}}

	out := NewIntegrityStage(root, testComparator(), HeadBaseline{Reader: head}).Run(context.Background(), []string{abs})

	assert.Equal(t, StatusPassed, out.Status)
	assert.Contains(t, out.Messages[0], "a/b.js: PASSED")
}
