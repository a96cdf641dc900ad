// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command guardian protects working-tree changes against silent code loss.
//
//	guardian <file1> [file2 ...]      run the audit pipeline
//	guardian guard prepare|validate|commit|rollback|status
//	guardian run -- <command...>      guard one mutation end to end
//
// Exit code 0 means every fatal check passed, 1 means a check failed and 2
// means the invocation or configuration was unusable.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one CLI invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := newCLI(stdout, stderr)
	root := c.rootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	c.close(ctx)
	if err != nil {
		c.report(err)
	}
	return exitCode(err)
}
