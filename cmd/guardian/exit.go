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
	"errors"
	"fmt"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ExitError carries the process exit code for a command result.
//
// # Description
//
// Commands return ExitError when the outcome maps to a specific exit code.
// A nil Err means the failure was already reported to the user and only
// the code matters. Errors that are not an ExitError exit with ExitUsage,
// since cobra reports argument and flag problems as plain errors.
//
// # Example
//
//	return &ExitError{Code: ExitFailure, Err: fmt.Errorf("commit: %w", err)}
type ExitError struct {
	// Code is the process exit code.
	Code int

	// Err is the underlying error, nil if already reported.
	Err error
}

// Error returns a formatted error message.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// failure wraps err as a fatal result (exit 1).
func failure(err error) error {
	return &ExitError{Code: ExitFailure, Err: err}
}

// usageError wraps err as a usage or configuration problem (exit 2).
func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

// failed is a reported failure with nothing left to print.
var failed = &ExitError{Code: ExitFailure}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsage
}
