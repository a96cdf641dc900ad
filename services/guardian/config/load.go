// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ChangeGuardian/pkg/logging"
)

// FileNames are the config file names looked up at the project root, in order.
var FileNames = []string{"guardian.yaml", "guardian.yml", "guardian.json"}

var (
	// ErrInvalidConfig wraps validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotFound is returned by Find when no config file exists.
	ErrNotFound = errors.New("config file not found")

	// ErrOutsideRoot is returned by RelPath for paths that leave the root.
	ErrOutsideRoot = errors.New("path is outside the project root")
)

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("loglevel", validateLogLevel)
}

func validateLogLevel(fl validator.FieldLevel) bool {
	_, ok := logging.ParseLevel(fl.Field().String())
	return ok
}

// Loaded is the outcome of Load.
type Loaded struct {
	// Config is always usable: merged config or Default().
	Config Config

	// Source is the file that was merged, empty when none was used.
	Source string

	// FallbackReason is non-nil when a config file existed but could not be
	// used, in which case Config holds the defaults (plus env overrides).
	FallbackReason error
}

// Validate checks the configuration shape.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	unbounded := 0
	for _, t := range c.Integrity.Thresholds {
		if t.MaxLines == 0 {
			unbounded++
		}
	}
	if unbounded > 1 {
		return fmt.Errorf("%w: %d unbounded threshold tiers", ErrInvalidConfig, unbounded)
	}
	return nil
}

// Merge deep-merges raw YAML (or JSON) over base.
//
// # Description
//
// Decodes raw onto a clone of base. Sections present in raw override the
// matching fields; absent fields keep the base value; lists in raw replace
// the base list. base is not modified. The merged value is validated.
//
// # Inputs
//
//   - base: Starting configuration, normally Default().
//   - raw: YAML or JSON document. Empty input returns base unchanged.
//
// # Outputs
//
//   - Config: The merged configuration (base on error).
//   - error: Parse or validation failure.
func Merge(base Config, raw []byte) (Config, error) {
	merged := base.Clone()
	if err := yaml.Unmarshal(raw, &merged); err != nil {
		return base, fmt.Errorf("parse config: %w", err)
	}
	if err := merged.Validate(); err != nil {
		return base, err
	}
	return merged, nil
}

// Find locates the config file.
//
// An explicit path wins; otherwise the first of FileNames present under root.
func Find(root, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, explicit)
		}
		return explicit, nil
	}
	for _, name := range FileNames {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrNotFound
}

// Load resolves the configuration for a project root.
//
// # Description
//
// Finds the config file, merges it over Default(), then applies
// environment overrides. Never fails: a missing file yields defaults, an
// unreadable, malformed or invalid file yields defaults with
// FallbackReason set.
//
// # Inputs
//
//   - root: Project root directory.
//   - explicit: Optional config path (from --config).
//
// # Outputs
//
//   - Loaded: Resolved configuration and provenance.
func Load(root, explicit string) Loaded {
	return load(root, explicit, os.Getenv)
}

func load(root, explicit string, getenv func(string) string) Loaded {
	out := Loaded{Config: Default()}

	path, err := Find(root, explicit)
	switch {
	case errors.Is(err, ErrNotFound) && explicit == "":
		// No config file is the normal case.
	case err != nil:
		out.FallbackReason = err
	default:
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			out.FallbackReason = fmt.Errorf("read config: %w", readErr)
			break
		}
		merged, mergeErr := Merge(out.Config, raw)
		if mergeErr != nil {
			out.FallbackReason = mergeErr
			break
		}
		out.Config = merged
		out.Source = path
	}

	out.Config = applyEnv(out.Config, getenv)
	return out
}

// applyEnv applies environment overrides. Unparseable or out-of-range
// values are ignored.
func applyEnv(c Config, getenv func(string) string) Config {
	if v := getenv("INTEGRITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			c.Integrity.DefaultThreshold = f
		}
	}
	if v := getenv("INTEGRITY_MIN_LOSS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Integrity.MinAbsoluteLoss = n
		}
	}
	if v := getenv("INTEGRITY_STRICT_SYMBOLS"); v != "" {
		c.Integrity.StrictSymbols = !strings.EqualFold(strings.TrimSpace(v), "false")
	}
	if v := getenv("GUARDIAN_LOG_LEVEL"); v != "" {
		if _, ok := logging.ParseLevel(v); ok {
			c.Logging.Level = strings.ToUpper(strings.TrimSpace(v))
		}
	}
	if v := getenv("GUARDIAN_AUDIT_COMMAND"); v != "" {
		c.Audit.Command = v
	}
	return c
}

// ResolvePath joins rel onto root unless rel is already absolute.
func ResolvePath(root, rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(root, rel)
}

// RelPath resolves path against root and returns it slash-separated and
// relative to root. The root itself and anything outside it are rejected
// with ErrOutsideRoot.
func RelPath(root, path string) (string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, path)
	}
	rel, err := filepath.Rel(root, filepath.Clean(abs))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return filepath.ToSlash(rel), nil
}
