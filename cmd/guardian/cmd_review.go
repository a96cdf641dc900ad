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
	"strconv"

	"github.com/AleutianAI/ChangeGuardian/pkg/ux"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/review"
	"github.com/spf13/cobra"
)

func (c *cli) reviewCommand() *cobra.Command {
	var planStep string
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review staged and unstaged changes",
		Long: `Parses the working-tree diff and reports changed files and line counts.
Warns on new console.log calls, mass deletions and very large diffs. Fails
when a protected file changed and --plan-step does not mention it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.reviewer()
			if err != nil {
				return failure(err)
			}
			result, err := r.ReviewWorkingTree(cmd.Context(), planStep)
			if err != nil {
				return failure(err)
			}
			return c.reportReview(result)
		},
	}
	cmd.Flags().StringVar(&planStep, "plan-step", "", "description of the current plan step")
	return cmd
}

func (c *cli) diffCommand() *cobra.Command {
	var planStep string
	cmd := &cobra.Command{
		Use:   "diff [from] [to]",
		Short: "Review the diff between two revisions (default HEAD~1 HEAD)",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.reviewer()
			if err != nil {
				return failure(err)
			}
			var from, to string
			if len(args) > 0 {
				from = args[0]
			}
			if len(args) > 1 {
				to = args[1]
			}
			raw, err := r.RefDiff(cmd.Context(), from, to)
			if err != nil {
				return failure(err)
			}
			result, err := r.Review(raw, planStep)
			if err != nil {
				return failure(err)
			}
			return c.reportReview(result)
		},
	}
	cmd.Flags().StringVar(&planStep, "plan-step", "", "description of the current plan step")
	return cmd
}

func (c *cli) reportReview(result *review.Result) error {
	if c.printer.Mode == ux.ModeJSON {
		if err := c.printer.JSON(result); err != nil {
			return failure(err)
		}
	} else {
		if len(result.Files) > 0 {
			rows := make([][]string, 0, len(result.Files))
			for _, f := range result.Files {
				note := ""
				switch {
				case f.Created:
					note = "new"
				case f.Deleted:
					note = "deleted"
				}
				rows = append(rows, []string{f.Path, "+" + strconv.Itoa(f.Added), "-" + strconv.Itoa(f.Removed), note})
			}
			c.printer.Table([]string{"File", "Added", "Removed", ""}, rows)
			c.printer.Info(fmt.Sprintf("%d file(s), +%d -%d", len(result.Files), result.Added, result.Removed))
		}
		for _, w := range result.Warnings {
			c.printer.Warning(w)
		}
		for _, p := range result.OutOfScope {
			c.printer.Error("protected file changed outside the plan step: " + p)
		}
		if result.Passed {
			c.printer.Success("review passed")
		}
	}
	if !result.Passed {
		return failed
	}
	return nil
}
