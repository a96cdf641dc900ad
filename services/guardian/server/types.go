// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/AleutianAI/ChangeGuardian/services/guardian/integrity"
)

// CompareRequest is the body of POST /v1/guardian/compare.
type CompareRequest struct {
	// OldText is the baseline revision.
	OldText string `json:"oldText"`

	// NewText is the candidate revision.
	NewText string `json:"newText"`

	// Path selects a path-aware extractor grammar (optional).
	Path string `json:"path,omitempty"`
}

// CompareResponse wraps a comparison with its one-line summary.
type CompareResponse struct {
	*integrity.ComparisonResult
	Summary string `json:"summary"`
}

// AuditRequest is the body of POST /v1/guardian/audit.
type AuditRequest struct {
	// Files are relative to the project root. Absolute paths are accepted
	// only when they resolve inside it.
	Files []string `json:"files"`

	// Stages restricts the run to these stages (optional). Unknown names
	// are rejected.
	Stages []string `json:"stages,omitempty"`
}

// StatsResponse is returned by GET /v1/guardian/stats.
type StatsResponse struct {
	Counters map[string]int64 `json:"counters"`
}

// HealthResponse is returned by GET /v1/guardian/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Root    string `json:"root"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`
}
