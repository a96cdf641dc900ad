// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the guardian's typed configuration.
//
// Configuration is read from guardian.yaml (or guardian.yml / guardian.json)
// at the project root and deep-merged over Default(). Nested sections merge
// field by field, lists replace wholesale. Anything that cannot be read,
// parsed or validated falls back to Default() without failing the caller;
// the reason is reported in Loaded.FallbackReason.
//
// The resolved Config is a plain value. Constructors receive it explicitly;
// there is no package-level instance.
package config

import (
	"time"
)

// Config is the fully resolved guardian configuration.
type Config struct {
	Project    ProjectConfig    `yaml:"project" json:"project"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Integrity  IntegrityConfig  `yaml:"integrity" json:"integrity"`
	Snapshot   SnapshotConfig   `yaml:"snapshot" json:"snapshot"`
	Analytics  AnalyticsConfig  `yaml:"analytics" json:"analytics"`
	Audit      AuditConfig      `yaml:"audit" json:"audit"`
	Validation ValidationConfig `yaml:"validation" json:"validation"`
	Review     ReviewConfig     `yaml:"review" json:"review"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// ProjectConfig identifies the protected project.
type ProjectConfig struct {
	Name string `yaml:"name" json:"name"`
}

// PathsConfig holds tooling paths relative to the project root.
//
// State is the guardian's own directory. It is never stashed, staged or
// cleaned by a rollback.
type PathsConfig struct {
	State   string `yaml:"state" json:"state" validate:"required"`
	Backups string `yaml:"backups" json:"backups" validate:"required"`
	Logs    string `yaml:"logs" json:"logs" validate:"required"`
	Tmp     string `yaml:"tmp" json:"tmp" validate:"required"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level" validate:"loglevel"`
	File    string `yaml:"file" json:"file"`
	JSON    bool   `yaml:"json" json:"json"`
	Console bool   `yaml:"console" json:"console"`
}

// IntegrityConfig configures the comparator.
type IntegrityConfig struct {
	// DefaultThreshold is inherited by every tier whose tolerance is 0.
	DefaultThreshold float64 `yaml:"defaultThreshold" json:"defaultThreshold" validate:"gt=0,lte=1"`

	// MinAbsoluteLoss is the line-loss floor below which rule 1 never fires.
	MinAbsoluteLoss int `yaml:"minAbsoluteLoss" json:"minAbsoluteLoss" validate:"gte=0"`

	// StrictSymbols enables rule 2 (symbol survival).
	StrictSymbols bool `yaml:"strictSymbols" json:"strictSymbols"`

	// SymbolExtractor selects "regex" or "treesitter".
	SymbolExtractor string `yaml:"symbolExtractor" json:"symbolExtractor" validate:"oneof=regex treesitter"`

	// Thresholds are the size tiers. MaxLines 0 marks the unbounded tier.
	Thresholds []TierConfig `yaml:"thresholds" json:"thresholds" validate:"required,min=1,dive"`
}

// TierConfig is one size band.
type TierConfig struct {
	Name      string  `yaml:"name" json:"name"`
	MaxLines  int     `yaml:"maxLines" json:"maxLines" validate:"gte=0"`
	Tolerance float64 `yaml:"tolerance" json:"tolerance" validate:"gte=0,lte=1"`
}

// SnapshotConfig configures the stash-backed snapshot store.
type SnapshotConfig struct {
	LabelPrefix  string   `yaml:"labelPrefix" json:"labelPrefix" validate:"required"`
	ExcludePaths []string `yaml:"excludePaths" json:"excludePaths" validate:"dive,required"`
	GitTimeoutMs int      `yaml:"gitTimeoutMs" json:"gitTimeoutMs" validate:"gt=0"`
}

// GitTimeout returns the per-command git timeout.
func (s SnapshotConfig) GitTimeout() time.Duration {
	return time.Duration(s.GitTimeoutMs) * time.Millisecond
}

// AnalyticsConfig locates the stats counter file.
type AnalyticsConfig struct {
	StatsFile string `yaml:"statsFile" json:"statsFile" validate:"required"`
}

// AuditConfig configures the audit pipeline.
type AuditConfig struct {
	Stages            []string     `yaml:"stages" json:"stages" validate:"required,min=1,dive,oneof=local integrity ai external"`
	NonFatalStages    []string     `yaml:"nonFatalStages" json:"nonFatalStages" validate:"dive,oneof=local integrity ai external"`
	FailOnNonFatal    bool         `yaml:"failOnNonFatal" json:"failOnNonFatal"`
	IntegrityBaseline string       `yaml:"integrityBaseline" json:"integrityBaseline" validate:"oneof=backups head"`
	Provider          string       `yaml:"provider" json:"provider" validate:"oneof=command openai"`
	Command           string       `yaml:"command" json:"command" validate:"required"`
	Flags             []string     `yaml:"flags" json:"flags"`
	TimeoutMs         int          `yaml:"timeoutMs" json:"timeoutMs" validate:"gt=0"`
	RatePerMinute     int          `yaml:"ratePerMinute" json:"ratePerMinute" validate:"gte=0"`
	Prompt            string       `yaml:"prompt" json:"prompt"`
	OpenAI            OpenAIConfig `yaml:"openai" json:"openai"`
}

// Timeout returns the external auditor timeout.
func (a AuditConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// IsNonFatal reports whether the named stage is configured non-fatal.
func (a AuditConfig) IsNonFatal(stage string) bool {
	for _, s := range a.NonFatalStages {
		if s == stage {
			return true
		}
	}
	return false
}

// OpenAIConfig configures the OpenAI-compatible external auditor.
type OpenAIConfig struct {
	BaseURL   string `yaml:"baseURL" json:"baseURL" validate:"omitempty,url"`
	Model     string `yaml:"model" json:"model"`
	APIKeyEnv string `yaml:"apiKeyEnv" json:"apiKeyEnv"`
}

// ValidationConfig configures the local stage rules.
type ValidationConfig struct {
	LoggerPatterns         []string `yaml:"loggerPatterns" json:"loggerPatterns"`
	ExcludeFromLoggerCheck []string `yaml:"excludeFromLoggerCheck" json:"excludeFromLoggerCheck"`
	WarnOnConsoleLogs      bool     `yaml:"warnOnConsoleLogs" json:"warnOnConsoleLogs"`
	MaxFileLinesWarning    int      `yaml:"maxFileLinesWarning" json:"maxFileLinesWarning" validate:"gte=0"`
	ScanSecrets            bool     `yaml:"scanSecrets" json:"scanSecrets"`
}

// ReviewConfig configures the diff reviewer.
type ReviewConfig struct {
	ProtectedFiles         []string `yaml:"protectedFiles" json:"protectedFiles"`
	DeletionRatioWarning   float64  `yaml:"deletionRatioWarning" json:"deletionRatioWarning" validate:"gt=0,lte=1"`
	MinDeletedLinesWarning int      `yaml:"minDeletedLinesWarning" json:"minDeletedLinesWarning" validate:"gte=0"`
	LargeDiffLines         int      `yaml:"largeDiffLines" json:"largeDiffLines" validate:"gte=0"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"traceExporter" json:"traceExporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `yaml:"metricExporter" json:"metricExporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	OTLPInsecure   bool   `yaml:"otlpInsecure" json:"otlpInsecure"`
}

// ServerConfig configures `guardian serve`. Host defaults to loopback; the
// API can roll back and audit the working tree.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
}

// DefaultPrompt is the external auditor instruction. %s receives the file list.
const DefaultPrompt = "Run a quality audit for: %s. " +
	"Check for logger usage, conformance with the project guidelines and clean error handling. " +
	"Answer ONLY with 'PASSED' or a compact list of findings (max 5 items)."

// Default returns the hardcoded defaults.
func Default() Config {
	return Config{
		Project: ProjectConfig{Name: "guardian-project"},
		Paths: PathsConfig{
			State:   ".guardian",
			Backups: ".guardian/backups",
			Logs:    ".guardian/logs",
			Tmp:     ".guardian/tmp",
		},
		Logging: LoggingConfig{
			Level:   "INFO",
			File:    ".guardian/logs/system.log",
			Console: true,
		},
		Integrity: IntegrityConfig{
			DefaultThreshold: 0.15,
			MinAbsoluteLoss:  3,
			StrictSymbols:    true,
			SymbolExtractor:  "regex",
			Thresholds: []TierConfig{
				{Name: "tiny", MaxLines: 20, Tolerance: 0.40},
				{Name: "small", MaxLines: 100, Tolerance: 0},
				{Name: "medium", MaxLines: 200, Tolerance: 0.10},
				{Name: "large", MaxLines: 0, Tolerance: 0.05},
			},
		},
		Snapshot: SnapshotConfig{
			LabelPrefix:  "guardian-snapshot",
			ExcludePaths: []string{".guardian/"},
			GitTimeoutMs: 30000,
		},
		Analytics: AnalyticsConfig{StatsFile: ".guardian/logs/stats.json"},
		Audit: AuditConfig{
			Stages:            []string{"local", "integrity", "ai"},
			NonFatalStages:    []string{"ai"},
			FailOnNonFatal:    true,
			IntegrityBaseline: "backups",
			Provider:          "command",
			Command:           "gemini",
			Flags:             []string{"-y", "-p"},
			TimeoutMs:         30000,
			Prompt:            DefaultPrompt,
			OpenAI: OpenAIConfig{
				Model:     "gpt-4o-mini",
				APIKeyEnv: "OPENAI_API_KEY",
			},
		},
		Validation: ValidationConfig{
			LoggerPatterns:         []string{"logger"},
			ExcludeFromLoggerCheck: []string{"logger.js", "logger.cjs", "validate_local.js", "error-handler.cjs"},
			WarnOnConsoleLogs:      true,
			MaxFileLinesWarning:    500,
			ScanSecrets:            true,
		},
		Review: ReviewConfig{
			ProtectedFiles:         []string{"guardian.yaml", "go.mod", "package.json"},
			DeletionRatioWarning:   0.8,
			MinDeletedLinesWarning: 20,
			LargeDiffLines:         500,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
		},
		Server: ServerConfig{Host: "127.0.0.1", Port: 8085},
	}
}

// Clone returns a deep copy. Slices are never shared with c.
func (c Config) Clone() Config {
	out := c
	out.Integrity.Thresholds = append([]TierConfig(nil), c.Integrity.Thresholds...)
	out.Snapshot.ExcludePaths = cloneStrings(c.Snapshot.ExcludePaths)
	out.Audit.Stages = cloneStrings(c.Audit.Stages)
	out.Audit.NonFatalStages = cloneStrings(c.Audit.NonFatalStages)
	out.Audit.Flags = cloneStrings(c.Audit.Flags)
	out.Validation.LoggerPatterns = cloneStrings(c.Validation.LoggerPatterns)
	out.Validation.ExcludeFromLoggerCheck = cloneStrings(c.Validation.ExcludeFromLoggerCheck)
	out.Review.ProtectedFiles = cloneStrings(c.Review.ProtectedFiles)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
