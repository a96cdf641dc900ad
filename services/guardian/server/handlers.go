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
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/audit"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/config"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/integrity"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/review"
)

// Reviewer reviews the working tree.
type Reviewer interface {
	ReviewWorkingTree(ctx context.Context, planStep string) (*review.Result, error)
}

// Counters exposes the stats file.
type Counters interface {
	Get() map[string]int64
}

// Deps are the collaborators behind the handlers. Nil optional fields
// make their endpoints answer 503.
type Deps struct {
	Root       string
	Version    string
	Comparator *integrity.Comparator
	Pipeline   *audit.Pipeline
	Reviewer   Reviewer
	Stats      Counters
	Logger     *slog.Logger
}

// Handlers serves the guardian HTTP API.
type Handlers struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandlers creates handlers over deps.
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Comparator == nil {
		deps.Comparator = integrity.NewComparator(nil, nil, integrity.DefaultOptions())
	}
	return &Handlers{deps: deps, logger: logger.With("component", "server.Handlers")}
}

// HandleHealth handles GET /v1/guardian/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: h.deps.Version, Root: h.deps.Root})
}

// HandleCompare handles POST /v1/guardian/compare.
//
// # Description
//
// Compares two texts with the configured comparator. A failing comparison
// is still 200; the verdict is in the body.
//
// # Response
//
//	200 OK: CompareResponse
//	400 Bad Request: INVALID_REQUEST
func (h *Handlers) HandleCompare(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCompare")

	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	var result *integrity.ComparisonResult
	if req.Path != "" {
		result = h.deps.Comparator.CompareFor(req.Path, req.OldText, req.NewText)
	} else {
		result = h.deps.Comparator.Compare(req.OldText, req.NewText)
	}
	logger.Info("comparison done", "passed", result.Passed, "delta", result.LineDelta)
	c.JSON(http.StatusOK, CompareResponse{ComparisonResult: result, Summary: result.Summary()})
}

// HandleAudit handles POST /v1/guardian/audit.
//
// # Response
//
//	200 OK: audit.PipelineRun (Passed may be false)
//	400 Bad Request: INVALID_REQUEST, UNKNOWN_STAGE, PATH_OUTSIDE_ROOT
//	503 Service Unavailable: AUDIT_UNAVAILABLE
func (h *Handlers) HandleAudit(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAudit")

	if h.deps.Pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "audit pipeline not configured", Code: "AUDIT_UNAVAILABLE"})
		return
	}

	var req AuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	pipeline := h.deps.Pipeline
	if len(req.Stages) > 0 {
		selected, err := pipeline.Select(req.Stages...)
		if err != nil {
			logger.Warn("unknown stage", "stages", req.Stages, "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_STAGE"})
			return
		}
		pipeline = selected
	}

	files := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		rel, err := config.RelPath(h.deps.Root, f)
		if err != nil {
			logger.Warn("file outside root", "file", f, "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "PATH_OUTSIDE_ROOT"})
			return
		}
		files = append(files, rel)
	}

	run := pipeline.Run(c.Request.Context(), files)
	logger.Info("audit done", "run_id", run.ID, "state", run.State)
	c.JSON(http.StatusOK, run)
}

// HandleReview handles GET /v1/guardian/review?plan_step=...
//
// # Response
//
//	200 OK: review.Result
//	500 Internal Server Error: REVIEW_FAILED
//	503 Service Unavailable: REVIEW_UNAVAILABLE
func (h *Handlers) HandleReview(c *gin.Context) {
	logger := h.requestLogger(c, "HandleReview")

	if h.deps.Reviewer == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "diff reviewer not configured", Code: "REVIEW_UNAVAILABLE"})
		return
	}

	result, err := h.deps.Reviewer.ReviewWorkingTree(c.Request.Context(), c.Query("plan_step"))
	if err != nil {
		logger.Error("review failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "REVIEW_FAILED"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleStats handles GET /v1/guardian/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	if h.deps.Stats == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "stats not configured", Code: "STATS_UNAVAILABLE"})
		return
	}
	c.JSON(http.StatusOK, StatsResponse{Counters: h.deps.Stats.Get()})
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
