// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/AleutianAI/ChangeGuardian/pkg/ux"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/guardian"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/snapshot"
	"github.com/spf13/cobra"
)

func (c *cli) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Guard one mutation command end to end",
		Long: `Checkpoints the working tree, runs the command, validates every changed
file, then commits when all of them pass. A failing command or any
integrity violation rolls the tree back and exits 1.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runGuarded(cmd.Context(), args)
		},
	}
}

func (c *cli) runGuarded(ctx context.Context, argv []string) error {
	g, err := c.newGuardian()
	if err != nil {
		return failure(err)
	}

	snap, err := g.PrepareSnapshot(ctx)
	switch {
	case errors.Is(err, snapshot.ErrBackendUnavailable):
		c.printer.Warning("change protection unavailable, running unprotected: " + err.Error())
		if err := c.execMutation(ctx, argv); err != nil {
			return failure(err)
		}
		return nil
	case err != nil:
		return failure(fmt.Errorf("prepare: %w", err))
	}
	c.log.Info("running guarded command", "command", argv[0], "snapshot_id", snap.ID)

	if err := c.execMutation(ctx, argv); err != nil {
		c.printer.Error(err.Error())
		c.rollbackAfterFailure(ctx, g)
		return failed
	}

	changed, err := g.ChangedFiles(ctx)
	if err != nil {
		c.printer.Error("listing changed files: " + err.Error())
		c.rollbackAfterFailure(ctx, g)
		return failed
	}
	verdicts, ok := g.ValidateAll(ctx, changed)
	if err := c.reportVerdicts(verdicts, ok); err != nil {
		c.log.Warn("printing verdicts", "error", err)
	}
	if !ok {
		c.rollbackAfterFailure(ctx, g)
		return failed
	}

	if !g.Commit(ctx) {
		c.printer.Error("commit failed; the checkpoint is kept, see `guardian snapshots`")
		return failed
	}
	c.printer.Success("changes accepted")
	return nil
}

// rollbackAfterFailure restores the session. It uses a context detached
// from cancellation so an interrupted command is still rolled back.
func (c *cli) rollbackAfterFailure(ctx context.Context, g *guardian.Guardian) {
	_ = c.rollback(context.WithoutCancel(ctx), g)
}

// execMutation runs argv in the project root. Its stdout goes to stderr in
// JSON mode so the command's output never corrupts the JSON document.
func (c *cli) execMutation(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.root
	cmd.Stdin = os.Stdin
	var stdout io.Writer = c.stdout
	if c.printer.Mode == ux.ModeJSON {
		stdout = c.stderr
	}
	cmd.Stdout = stdout
	cmd.Stderr = c.stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %s failed: %w", argv[0], err)
	}
	return nil
}
