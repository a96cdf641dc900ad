// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/config"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/integrity"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/policy"
)

// ErrUnknownStage is returned for an unrecognised stage name.
var ErrUnknownStage = errors.New("unknown audit stage")

// CanonicalStageName maps the "external" alias to ExternalStageName. Other
// names are returned unchanged.
func CanonicalStageName(name string) string {
	if name == "external" {
		return ExternalStageName
	}
	return name
}

// Deps carries the collaborators Build cannot construct from config alone.
type Deps struct {
	// Root is the project root; relative file arguments resolve against it.
	Root string

	// Comparator overrides the one built from cfg.Integrity.
	Comparator *integrity.Comparator

	// Head is required when cfg.Audit.IntegrityBaseline is "head".
	Head HeadReader

	// Auditor overrides the one built from cfg.Audit.Provider.
	Auditor Auditor

	Counter CallCounter
	Logger  *slog.Logger
	Tracing bool
}

// ComparatorFromConfig builds the integrity comparator described by cfg.
func ComparatorFromConfig(cfg config.IntegrityConfig) (*integrity.Comparator, error) {
	tiers := make([]integrity.Tier, 0, len(cfg.Thresholds))
	for _, t := range cfg.Thresholds {
		tiers = append(tiers, integrity.Tier{Name: t.Name, MaxLines: t.MaxLines, Tolerance: t.Tolerance})
	}
	extractor, err := integrity.NewExtractor(cfg.SymbolExtractor)
	if err != nil {
		return nil, err
	}
	return integrity.NewComparator(
		integrity.NewThresholdPolicy(tiers, cfg.DefaultThreshold),
		extractor,
		integrity.Options{MinAbsoluteLoss: cfg.MinAbsoluteLoss, StrictSymbols: cfg.StrictSymbols},
	), nil
}

// LocalRulesFromConfig maps the validation section onto LocalRules.
func LocalRulesFromConfig(cfg config.ValidationConfig) (LocalRules, error) {
	rules := LocalRules{
		LoggerPatterns:         cfg.LoggerPatterns,
		ExcludeFromLoggerCheck: cfg.ExcludeFromLoggerCheck,
		WarnOnConsoleLogs:      cfg.WarnOnConsoleLogs,
		MaxFileLinesWarning:    cfg.MaxFileLinesWarning,
	}
	if cfg.ScanSecrets {
		engine, err := policy.NewEngine()
		if err != nil {
			return rules, err
		}
		rules.Secrets = engine
	}
	return rules, nil
}

// AuditorFromConfig builds the external auditor for cfg.Audit.Provider.
func AuditorFromConfig(cfg config.Config, root string) (Auditor, error) {
	switch cfg.Audit.Provider {
	case "", "command":
		return &CommandAuditor{Command: cfg.Audit.Command, Flags: cfg.Audit.Flags, Dir: root}, nil
	case "openai":
		o := cfg.Audit.OpenAI
		return NewOpenAIAuditorFromEnv(o.BaseURL, o.Model, o.APIKeyEnv, root), nil
	default:
		return nil, fmt.Errorf("unknown audit provider %q", cfg.Audit.Provider)
	}
}

// Build assembles the pipeline configured by cfg.Audit.Stages.
//
// # Inputs
//
//   - cfg: Effective configuration.
//   - deps: Collaborators. Nil fields are built from cfg.
//
// # Outputs
//
//   - *Pipeline: Ready to Run.
//   - error: ErrUnknownStage, or a comparator/auditor construction error.
func Build(cfg config.Config, deps Deps) (*Pipeline, error) {
	comparator := deps.Comparator
	if comparator == nil {
		c, err := ComparatorFromConfig(cfg.Integrity)
		if err != nil {
			return nil, err
		}
		comparator = c
	}

	stages := make([]Stage, 0, len(cfg.Audit.Stages))
	for _, name := range cfg.Audit.Stages {
		switch name = CanonicalStageName(name); name {
		case LocalStageName:
			rules, err := LocalRulesFromConfig(cfg.Validation)
			if err != nil {
				return nil, err
			}
			stages = append(stages, NewLocalStage(deps.Root, rules))

		case IntegrityStageName:
			var baseline BaselineSource
			switch cfg.Audit.IntegrityBaseline {
			case "head":
				if deps.Head == nil {
					return nil, errors.New("integrity baseline \"head\" requires a git snapshot store")
				}
				baseline = HeadBaseline{Reader: deps.Head}
			default:
				baseline = BackupsBaseline{Dir: config.ResolvePath(deps.Root, cfg.Paths.Backups)}
			}
			stages = append(stages, NewIntegrityStage(deps.Root, comparator, baseline))

		case ExternalStageName:
			auditor := deps.Auditor
			if auditor == nil {
				a, err := AuditorFromConfig(cfg, deps.Root)
				if err != nil {
					return nil, err
				}
				auditor = a
			}
			stages = append(stages, NewExternalStage(auditor, ExternalOptions{
				Name:          ExternalStageName,
				Prompt:        cfg.Audit.Prompt,
				Timeout:       cfg.Audit.Timeout(),
				RatePerMinute: cfg.Audit.RatePerMinute,
				Counter:       deps.Counter,
				Logger:        deps.Logger,
			}))

		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
		}
	}

	return NewPipeline(stages, Options{
		NonFatal:       cfg.Audit.NonFatalStages,
		FailOnNonFatal: cfg.Audit.FailOnNonFatal,
		Logger:         deps.Logger,
		Tracing:        deps.Tracing,
	}), nil
}
