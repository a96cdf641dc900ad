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
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/ChangeGuardian/pkg/ux"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/audit"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/integrity"
	"github.com/spf13/cobra"
)

func (c *cli) auditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <files...>",
		Short: "Run the audit pipeline over files",
		Long: `Runs the configured stages (local, integrity, ai) in order and stops at
the first fatal failure. Non-fatal stages are recorded and skipped past.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAudit(cmd, args)
		},
	}
}

func (c *cli) runAudit(cmd *cobra.Command, files []string) error {
	if len(files) == 0 {
		c.printer.Info("no files to audit")
		return nil
	}
	pipeline, err := c.pipeline()
	if err != nil {
		return usageError(fmt.Errorf("building audit pipeline: %w", err))
	}

	spin := c.printer.Spinner(fmt.Sprintf("auditing %d file(s)", len(files)))
	spin.Start()
	result := pipeline.Run(cmd.Context(), files)
	spin.Stop()
	if err := c.reportRun(result); err != nil {
		return failure(err)
	}
	if !result.Passed {
		return failed
	}
	return nil
}

// reportRun prints a pipeline run as a stage table followed by the
// messages of failed stages and every warning.
func (c *cli) reportRun(result *audit.PipelineRun) error {
	if c.printer.Mode == ux.ModeJSON {
		return c.printer.JSON(result)
	}

	c.printer.Title(fmt.Sprintf("Audit of %d file(s)", len(result.Files)))
	rows := make([][]string, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		kind := "fatal"
		if !o.Fatal {
			kind = "non-fatal"
		}
		rows = append(rows, []string{o.Stage, string(o.Status), kind, o.Duration.Round(time.Millisecond).String()})
	}
	c.printer.Table([]string{"Stage", "Status", "Kind", "Duration"}, rows)

	for _, o := range result.Outcomes {
		if o.Failed() && len(o.Messages) > 0 {
			c.printer.Box(o.Stage+" "+string(o.Status), strings.Join(o.Messages, "\n"), true)
		}
	}
	for _, w := range result.Warnings() {
		c.printer.Warning(w)
	}

	switch {
	case result.State == audit.RunDegraded:
		c.printer.Warning("audit passed with non-fatal failures")
	case result.Passed:
		c.printer.Success("audit passed")
	case result.FailedStage != "":
		c.printer.Error("audit failed at stage " + result.FailedStage)
	default:
		c.printer.Error("audit failed")
	}
	return nil
}

func (c *cli) checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <old> <new>",
		Short: "Compare a changed file against its previous version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			comparator, err := c.comparator()
			if err != nil {
				return usageError(err)
			}
			result, err := integrity.CompareFiles(cmd.Context(), comparator, args[0], args[1])
			if err != nil {
				return usageError(err)
			}

			if c.printer.Mode == ux.ModeJSON {
				if err := c.printer.JSON(result); err != nil {
					return failure(err)
				}
			} else {
				c.printer.Box("Integrity check: "+args[1], result.Summary(), !result.Passed)
			}
			if !result.Passed {
				return failed
			}
			return nil
		},
	}
}
