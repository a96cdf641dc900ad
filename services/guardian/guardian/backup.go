// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guardian

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BackupFiles copies the current version of each path into backupsDir,
// preserving the path relative to root. Missing files are skipped.
//
// # Outputs
//
//   - []string: Relative paths that were copied.
//   - error: First copy failure.
func BackupFiles(root, backupsDir string, paths []string) ([]string, error) {
	var copied []string
	for _, p := range paths {
		src := p
		if !filepath.IsAbs(src) {
			src = filepath.Join(root, p)
		}
		rel, err := filepath.Rel(root, src)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return copied, fmt.Errorf("%w: %s", ErrOutsideRoot, p)
		}

		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyFile(src, filepath.Join(backupsDir, rel)); err != nil {
			return copied, fmt.Errorf("backing up %s: %w", rel, err)
		}
		copied = append(copied, filepath.ToSlash(rel))
	}
	return copied, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
