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

	"github.com/AleutianAI/ChangeGuardian/pkg/ux"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/stats"
	"github.com/spf13/cobra"
)

func (c *cli) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print usage counters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			counters := c.statsStore().Get()
			if c.printer.Mode == ux.ModeJSON {
				return c.printer.JSON(struct {
					Counters map[string]int64 `json:"counters"`
				}{counters})
			}

			rows := make([][]string, 0, len(counters))
			for _, k := range stats.Keys(counters) {
				rows = append(rows, []string{k, ux.Count(counters[k])})
			}
			c.printer.Table([]string{"Counter", "Value"}, rows)
			return nil
		},
	}
}

// snapshotRow is one guardian stash entry in `guardian snapshots` output.
type snapshotRow struct {
	Ref    string `json:"ref"`
	Label  string `json:"label"`
	Orphan bool   `json:"orphan"`
}

func (c *cli) snapshotsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List guardian checkpoints in the stash",
		Long: `Lists stash entries created by guardian. Entries that do not belong to the
open session are orphans left by interrupted runs; inspect them with
git stash show -p <ref>, then pop or drop them by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.snapshotStore()
			if err != nil {
				return failure(err)
			}
			entries, err := store.List(cmd.Context())
			if err != nil {
				return failure(err)
			}

			g, err := c.newGuardian()
			if err != nil {
				return failure(err)
			}
			var active string
			if open, err := g.Resume(); err == nil && open {
				active = g.Active().Label
			}

			rows := make([]snapshotRow, 0, len(entries))
			orphans := 0
			for _, e := range entries {
				row := snapshotRow{Ref: e.Ref, Label: e.Message, Orphan: e.Message != active}
				if row.Orphan {
					orphans++
				}
				rows = append(rows, row)
			}

			if c.printer.Mode == ux.ModeJSON {
				return c.printer.JSON(rows)
			}
			if len(rows) == 0 {
				c.printer.Info("no guardian snapshots")
				return nil
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				owner := "session"
				if r.Orphan {
					owner = "orphan"
				}
				table = append(table, []string{r.Ref, r.Label, owner})
			}
			c.printer.Table([]string{"Ref", "Label", "Owner"}, table)
			if orphans > 0 {
				c.printer.Warning(fmt.Sprintf("%d orphaned snapshot(s)", orphans))
			}
			return nil
		},
	}
}
