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
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/ChangeGuardian/pkg/logging"
	"github.com/AleutianAI/ChangeGuardian/pkg/ux"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/audit"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/config"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/guardian"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/integrity"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/review"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/snapshot"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/stats"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/telemetry"
	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	root       string
	logLevel   string
	jsonLogs   bool
	output     string
}

// cli holds the state of one invocation. Collaborators are built on first
// use so that commands only touch git or the stats file when they need to.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	flags  globalFlags

	root      string
	cfg       config.Config
	logger    *logging.Logger
	log       *slog.Logger
	printer   *ux.Printer
	telemetry telemetry.Config
	shutdown  func(context.Context) error
	prevLog   *slog.Logger

	store    *snapshot.Store
	counters *stats.Store
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{stdout: stdout, stderr: stderr}
}

// setup resolves output mode, configuration, logging and telemetry. It runs
// before every command.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	var outFile *os.File
	if f, ok := c.stdout.(*os.File); ok {
		outFile = f
	}
	mode, err := ux.ResolveMode(c.flags.output, outFile)
	if err != nil {
		return usageError(err)
	}
	c.printer = ux.NewPrinter(c.stdout, c.stderr, mode)

	root, err := filepath.Abs(c.flags.root)
	if err != nil {
		return usageError(fmt.Errorf("resolving root: %w", err))
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return usageError(fmt.Errorf("project root %s is not a directory", root))
	}
	c.root = root

	loaded := config.Load(root, c.flags.configPath)
	c.cfg = loaded.Config

	levelName := c.cfg.Logging.Level
	if c.flags.logLevel != "" {
		levelName = c.flags.logLevel
	}
	level, ok := logging.ParseLevel(levelName)
	if !ok {
		return usageError(fmt.Errorf("unknown log level %q", levelName))
	}
	c.logger = logging.New(logging.Config{
		Level:   level,
		File:    config.ResolvePath(root, c.cfg.Logging.File),
		Service: "guardian",
		JSON:    c.flags.jsonLogs || c.cfg.Logging.JSON,
		Quiet:   !c.cfg.Logging.Console,
		Output:  c.stderr,
	})
	c.log = c.logger.Slog()
	c.prevLog = slog.Default()
	slog.SetDefault(c.log)
	if err := c.logger.FileErr(); err != nil {
		c.log.Warn("file logging disabled", "error", err)
	}

	switch {
	case loaded.FallbackReason != nil && c.flags.configPath != "":
		c.log.Warn("config not usable, using defaults", "path", c.flags.configPath, "error", loaded.FallbackReason)
	case loaded.FallbackReason != nil:
		c.log.Debug("config not usable, using defaults", "error", loaded.FallbackReason)
	case loaded.Source != "":
		c.log.Debug("config loaded", "path", loaded.Source)
	}

	c.telemetry = telemetry.FromConfig(c.cfg.Telemetry, version)
	shutdown, err := telemetry.Init(cmd.Context(), c.telemetry)
	if err != nil {
		return usageError(err)
	}
	c.shutdown = shutdown
	return nil
}

// close flushes telemetry and the log file.
func (c *cli) close(ctx context.Context) {
	if c.shutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.shutdown(shutdownCtx); err != nil && c.log != nil {
			c.log.Warn("telemetry shutdown", "error", err)
		}
		cancel()
	}
	if c.prevLog != nil {
		slog.SetDefault(c.prevLog)
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
}

// report prints a command error that has not been shown yet.
func (c *cli) report(err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	if c.printer == nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return
	}
	c.printer.Error(err.Error())
}

// =============================================================================
// Collaborators
// =============================================================================

func (c *cli) snapshotStore() (*snapshot.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	store, err := snapshot.NewStore(snapshot.Config{
		RepoPath:     c.root,
		StateDir:     config.ResolvePath(c.root, c.cfg.Paths.State),
		LabelPrefix:  c.cfg.Snapshot.LabelPrefix,
		ExcludePaths: c.cfg.Snapshot.ExcludePaths,
		GitTimeout:   c.cfg.Snapshot.GitTimeout(),
		Logger:       c.log,
	})
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}

func (c *cli) statsStore() *stats.Store {
	if c.counters == nil {
		c.counters = stats.NewStore(config.ResolvePath(c.root, c.cfg.Analytics.StatsFile), c.log)
	}
	return c.counters
}

func (c *cli) comparator() (*integrity.Comparator, error) {
	return audit.ComparatorFromConfig(c.cfg.Integrity)
}

func (c *cli) newGuardian() (*guardian.Guardian, error) {
	store, err := c.snapshotStore()
	if err != nil {
		return nil, err
	}
	comparator, err := c.comparator()
	if err != nil {
		return nil, err
	}
	stateDir := config.ResolvePath(c.root, c.cfg.Paths.State)
	return guardian.New(store, comparator,
		guardian.WithLogger(c.log),
		guardian.WithRoot(c.root),
		guardian.WithTempDir(config.ResolvePath(c.root, c.cfg.Paths.Tmp)),
		guardian.WithSessionFile(filepath.Join(stateDir, "session.json")),
		guardian.WithTracing(c.telemetry.TracingEnabled()),
	)
}

func (c *cli) pipeline() (*audit.Pipeline, error) {
	store, err := c.snapshotStore()
	if err != nil {
		return nil, err
	}
	return audit.Build(c.cfg, audit.Deps{
		Root:    c.root,
		Head:    store,
		Counter: c.statsStore(),
		Logger:  c.log,
		Tracing: c.telemetry.TracingEnabled(),
	})
}

func (c *cli) reviewer() (*review.Reviewer, error) {
	store, err := c.snapshotStore()
	if err != nil {
		return nil, err
	}
	rules := review.Rules{
		ProtectedFiles:         c.cfg.Review.ProtectedFiles,
		DeletionRatioWarning:   c.cfg.Review.DeletionRatioWarning,
		MinDeletedLinesWarning: c.cfg.Review.MinDeletedLinesWarning,
		LargeDiffLines:         c.cfg.Review.LargeDiffLines,
	}
	return review.NewReviewer(store, rules, c.log), nil
}
