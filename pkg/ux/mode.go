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
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode selects how a Printer renders.
type Mode string

const (
	// ModeRich uses colours, icons, boxes and rounded tables.
	ModeRich Mode = "rich"

	// ModePlain prints tab-separated lines for scripts.
	ModePlain Mode = "plain"

	// ModeJSON suppresses decorated output; commands print one JSON document.
	ModeJSON Mode = "json"
)

// ResolveMode maps the --output flag to a Mode. "text" (or empty) is rich
// on a terminal and plain otherwise. GUARDIAN_OUTPUT overrides an empty flag.
func ResolveMode(flag string, out *os.File) (Mode, error) {
	if flag == "" {
		flag = os.Getenv("GUARDIAN_OUTPUT")
	}
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "", "text":
		if IsTerminal(out) {
			return ModeRich, nil
		}
		return ModePlain, nil
	case "rich":
		return ModeRich, nil
	case "plain":
		return ModePlain, nil
	case "json":
		return ModeJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, plain or json)", flag)
	}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsInteractive reports whether prompts may be shown: stdin and stdout
// are terminals and the mode is rich.
func IsInteractive(mode Mode) bool {
	return mode == ModeRich && IsTerminal(os.Stdin) && IsTerminal(os.Stdout)
}
