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
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/AleutianAI/ChangeGuardian/pkg/ux"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/audit"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/server"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/telemetry"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/watch"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (c *cli) serveCommand() *cobra.Command {
	var (
		host     string
		port     int
		watched  []string
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the guardian HTTP API",
		Long: `Serves compare, audit, review and stats endpoints under /v1/guardian, and
/metrics when the prometheus exporter is configured. --watch re-audits the
given files on change while serving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if host == "" {
				host = c.cfg.Server.Host
			}
			if port == 0 {
				port = c.cfg.Server.Port
			}
			pipeline, err := c.pipeline()
			if err != nil {
				return usageError(fmt.Errorf("building audit pipeline: %w", err))
			}
			comparator, err := c.comparator()
			if err != nil {
				return usageError(err)
			}
			reviewer, err := c.reviewer()
			if err != nil {
				return failure(err)
			}

			if !c.log.Enabled(cmd.Context(), slog.LevelDebug) {
				gin.SetMode(gin.ReleaseMode)
			}
			handlers := server.NewHandlers(server.Deps{
				Root:       c.root,
				Version:    version,
				Comparator: comparator,
				Pipeline:   pipeline,
				Reviewer:   reviewer,
				Stats:      c.statsStore(),
				Logger:     c.log,
			})
			router := server.NewRouter(handlers, telemetry.MetricsHandler())
			addr := net.JoinHostPort(host, strconv.Itoa(port))

			group, ctx := errgroup.WithContext(cmd.Context())
			group.Go(func() error {
				return server.Serve(ctx, addr, router, c.log)
			})
			if len(watched) > 0 {
				w, err := watch.New(c.root, watched, pipeline, watch.Options{
					Debounce: debounce,
					OnResult: c.printWatchResult,
					Logger:   c.log,
				})
				if err != nil {
					return usageError(err)
				}
				group.Go(func() error { return w.Run(ctx) })
			}

			c.printer.Info("guardian API listening on " + addr)
			if err := group.Wait(); err != nil {
				return failure(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen address (default from config, 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config, 8085)")
	cmd.Flags().StringSliceVar(&watched, "watch", nil, "files to re-audit on change while serving")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a changed file is audited")
	return cmd
}

func (c *cli) watchCommand() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <files...>",
		Short: "Re-audit files whenever they change",
		Long: `Runs the local and integrity stages for a file each time it is written.
The external auditor never runs from watch mode. Stops on Ctrl-C.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := c.pipeline()
			if err != nil {
				return usageError(fmt.Errorf("building audit pipeline: %w", err))
			}
			w, err := watch.New(c.root, args, pipeline, watch.Options{
				Debounce: debounce,
				OnResult: c.printWatchResult,
				Logger:   c.log,
			})
			if err != nil {
				return usageError(err)
			}

			c.printer.Info(fmt.Sprintf("watching %d file(s), Ctrl-C to stop", len(args)))
			if err := w.Run(cmd.Context()); err != nil {
				return failure(err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a changed file is audited")
	return cmd
}

func (c *cli) printWatchResult(rel string, result *audit.PipelineRun) {
	if c.printer.Mode == ux.ModeJSON {
		if err := c.printer.JSON(result); err != nil {
			c.log.Warn("printing watch result", "error", err)
		}
		return
	}
	switch {
	case result.State == audit.RunDegraded:
		c.printer.Status(ux.IconWarning, rel, "passed with non-fatal failures")
	case result.Passed:
		c.printer.Status(ux.IconSuccess, rel, "passed")
	default:
		detail := "failed"
		if result.FailedStage != "" {
			detail = "failed at " + result.FailedStage
		}
		c.printer.Status(ux.IconError, rel, detail)
		for _, o := range result.Outcomes {
			for _, m := range o.Messages {
				c.printer.Info("  " + m)
			}
		}
	}
}
