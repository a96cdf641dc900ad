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
	"github.com/spf13/cobra"
)

// rootCommand builds the command tree. The root form audits its arguments.
func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "guardian [files...]",
		Short: "Guard working-tree changes against silent code loss",
		Long: `guardian checkpoints the working tree before an automated change, validates
each changed file against its pre-change version, and either accepts the
change or rolls the tree back.

With file arguments it runs the configured audit pipeline over them:
exit 0 when every fatal stage passes, 1 when any fails. No files exits 0.`,
		Args:              cobra.ArbitraryArgs,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAudit(cmd, args)
		},
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.configPath, "config", "", "config file (default: guardian.yaml in the project root)")
	pf.StringVarP(&c.flags.root, "root", "C", ".", "project root")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&c.flags.jsonLogs, "json-logs", false, "write logs to stderr as JSON")
	pf.StringVarP(&c.flags.output, "output", "o", "", "output format: text, plain or json")

	root.AddCommand(
		c.auditCommand(),
		c.checkCommand(),
		c.guardCommand(),
		c.runCommand(),
		c.reviewCommand(),
		c.diffCommand(),
		c.statsCommand(),
		c.snapshotsCommand(),
		c.serveCommand(),
		c.watchCommand(),
	)
	return root
}
