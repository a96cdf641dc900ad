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

	"github.com/AleutianAI/ChangeGuardian/pkg/ux"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/config"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/guardian"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/snapshot"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// guardCommand exposes the session protocol as separate invocations. The
// open session is persisted in the state directory between them.
func (c *cli) guardCommand() *cobra.Command {
	guard := &cobra.Command{
		Use:   "guard",
		Short: "Drive a change session step by step",
		Long: `prepare checkpoints the working tree, validate compares changed files
against the checkpoint, and commit or rollback closes the session.`,
	}
	guard.AddCommand(
		c.guardPrepareCommand(),
		c.guardValidateCommand(),
		c.guardCommitCommand(),
		c.guardRollbackCommand(),
		c.guardStatusCommand(),
	)
	return guard
}

func (c *cli) guardPrepareCommand() *cobra.Command {
	var backups []string
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Checkpoint the working tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := c.newGuardian()
			if err != nil {
				return failure(err)
			}
			if len(backups) > 0 {
				dir := config.ResolvePath(c.root, c.cfg.Paths.Backups)
				copied, err := guardian.BackupFiles(c.root, dir, backups)
				if err != nil {
					return failure(err)
				}
				c.printer.Info(fmt.Sprintf("backed up %d file(s) to %s", len(copied), c.cfg.Paths.Backups))
			}

			snap, err := g.PrepareSnapshot(cmd.Context())
			if errors.Is(err, snapshot.ErrBackendUnavailable) {
				c.printer.Warning("change protection unavailable: " + err.Error())
				return failed
			}
			if err != nil {
				return failure(fmt.Errorf("prepare: %w", err))
			}

			if c.printer.Mode == ux.ModeJSON {
				return c.printer.JSON(snap)
			}
			c.printer.Success(fmt.Sprintf("snapshot %s prepared (%s)", snap.ID, snap.State))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&backups, "backup", nil, "copy these files into the backups directory first")
	return cmd
}

func (c *cli) guardValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [files...]",
		Short: "Validate changed files against the checkpoint",
		Long:  "Validates the given files, or every file changed in the working tree when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := c.openSession()
			if err != nil {
				return err
			}
			files := args
			if len(files) == 0 {
				files, err = g.ChangedFiles(cmd.Context())
				if err != nil {
					return failure(fmt.Errorf("listing changed files: %w", err))
				}
			}

			var (
				verdicts []*guardian.Verdict
				ok       bool
			)
			_ = ux.WithSpinner(c.printer, "validating changes", func() error {
				verdicts, ok = g.ValidateAll(cmd.Context(), files)
				return nil
			})
			if err := c.reportVerdicts(verdicts, ok); err != nil {
				return failure(err)
			}
			if !ok {
				return failed
			}
			return nil
		},
	}
}

func (c *cli) guardCommitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "commit",
		Short: "Accept the changes and drop the checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := c.openSession()
			if err != nil {
				return err
			}
			if !g.Commit(cmd.Context()) {
				c.printer.Error("commit failed, the checkpoint is still open")
				return failed
			}
			c.printer.Success("changes accepted")
			return nil
		},
	}
}

func (c *cli) guardRollbackCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Discard the changes and restore the checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := c.openSession()
			if err != nil {
				return err
			}
			if !yes && ux.IsInteractive(c.printer.Mode) {
				confirmed, err := confirmRollback()
				if err != nil {
					return failure(err)
				}
				if !confirmed {
					c.printer.Info("rollback cancelled")
					return nil
				}
			}
			return c.rollback(cmd.Context(), g)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func confirmRollback() (bool, error) {
	var confirmed bool
	err := huh.NewConfirm().
		Title("Roll back every change since the checkpoint?").
		Description("Tracked files are reset and new untracked files are removed.").
		Affirmative("Roll back").
		Negative("Cancel").
		Value(&confirmed).
		Run()
	return confirmed, err
}

// rollback closes the open session by restoring it and reports the result.
func (c *cli) rollback(ctx context.Context, g *guardian.Guardian) error {
	snap := g.Active()
	if snap != nil && snap.State == snapshot.StateClean {
		c.printer.Warning("the tree was clean at prepare; nothing was stashed, so changes stay in place")
	}
	if !g.Rollback(ctx) {
		c.printer.Error("rollback failed; inspect `git stash list` for the checkpoint")
		return failed
	}
	if snap != nil && snap.State == snapshot.StateActive {
		c.printer.Success("working tree restored to snapshot " + snap.ID)
	}
	return nil
}

func (c *cli) guardStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the open session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := c.newGuardian()
			if err != nil {
				return failure(err)
			}
			open, err := g.Resume()
			if err != nil {
				return failure(err)
			}
			snap := g.Active()

			if c.printer.Mode == ux.ModeJSON {
				return c.printer.JSON(struct {
					Open     bool               `json:"open"`
					Snapshot *snapshot.Snapshot `json:"snapshot,omitempty"`
				}{open, snap})
			}
			if !open {
				c.printer.Info("no open session")
				return nil
			}
			c.printer.Table(
				[]string{"Snapshot", "Label", "State", "Created"},
				[][]string{{snap.ID, snap.Label, string(snap.State), ux.Age(snap.CreatedAt)}},
			)
			return nil
		},
	}
}

// openSession builds the guardian and requires a persisted session.
func (c *cli) openSession() (*guardian.Guardian, error) {
	g, err := c.newGuardian()
	if err != nil {
		return nil, failure(err)
	}
	open, err := g.Resume()
	if err != nil {
		return nil, failure(fmt.Errorf("reading session: %w", err))
	}
	if !open {
		return nil, failure(guardian.ErrNoSession)
	}
	return g, nil
}

// reportVerdicts prints one line per validated file and an overall result.
func (c *cli) reportVerdicts(verdicts []*guardian.Verdict, ok bool) error {
	if c.printer.Mode == ux.ModeJSON {
		return c.printer.JSON(struct {
			Passed bool                `json:"passed"`
			Files  []*guardian.Verdict `json:"files"`
		}{ok, verdicts})
	}

	if len(verdicts) == 0 {
		c.printer.Success("no changed files")
		return nil
	}
	for _, v := range verdicts {
		switch {
		case v.Error != "":
			c.printer.Status(ux.IconError, v.Path, "could not verify: "+v.Error)
		case v.Indeterminate:
			c.printer.Status(ux.IconSuccess, v.Path, "new file")
		case v.Passed:
			c.printer.Status(ux.IconSuccess, v.Path, v.Result.Summary())
		default:
			c.printer.Status(ux.IconError, v.Path, v.Result.Summary())
		}
	}
	if ok {
		c.printer.Success(fmt.Sprintf("%d file(s) passed integrity checks", len(verdicts)))
	} else {
		c.printer.Error("integrity check failed")
	}
	return nil
}
