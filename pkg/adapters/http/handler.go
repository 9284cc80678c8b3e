// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/leseb/docqa/pkg/answer"
	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/ingest"
	"github.com/leseb/docqa/pkg/lifecycle"
	"github.com/leseb/docqa/pkg/observability/logging"
	"github.com/leseb/docqa/pkg/retrieval"
)

// DefaultMaxUploadBytes caps a document upload when Options leaves it zero.
const DefaultMaxUploadBytes = 64 << 20

// Options carries the services behind the HTTP API. Answer may be nil, in
// which case the answer route reports that no backend is configured.
type Options struct {
	Manager        *lifecycle.Manager
	Jobs           *ingest.Jobs
	Retrieval      *retrieval.Service
	Answer         *answer.Service
	Logger         *logging.Logger
	MaxUploadBytes int64
}

// Handler implements the HTTP adapter
type Handler struct {
	manager   *lifecycle.Manager
	jobs      *ingest.Jobs
	retrieval *retrieval.Service
	answer    *answer.Service
	logger    *logging.Logger
	maxUpload int64
	mux       *http.ServeMux
}

// New creates a new HTTP handler
func New(opts Options) *Handler {
	h := &Handler{
		manager:   opts.Manager,
		jobs:      opts.Jobs,
		retrieval: opts.Retrieval,
		answer:    opts.Answer,
		logger:    logging.OrDiscard(opts.Logger).Component("http"),
		maxUpload: opts.MaxUploadBytes,
		mux:       http.NewServeMux(),
	}
	if h.maxUpload <= 0 {
		h.maxUpload = DefaultMaxUploadBytes
	}

	// Register routes
	h.mux.HandleFunc("GET /health", h.handleHealth)

	// Tenants
	h.mux.HandleFunc("GET /v1/tenants", h.handleListTenants)
	h.mux.HandleFunc("POST /v1/tenants", h.handleCreateTenant)
	h.mux.HandleFunc("GET /v1/tenants/{tenant}", h.handleGetTenant)
	h.mux.HandleFunc("DELETE /v1/tenants/{tenant}", h.handleDeleteTenant)
	h.mux.HandleFunc("DELETE /v1/tenants/{tenant}/store", h.handleDeleteStore)
	h.mux.HandleFunc("GET /v1/tenants/{tenant}/runs", h.handleListRuns)

	// Documents
	h.mux.HandleFunc("GET /v1/tenants/{tenant}/documents", h.handleListDocuments)
	h.mux.HandleFunc("PUT /v1/tenants/{tenant}/documents/{name}", h.handlePutDocument)
	h.mux.HandleFunc("DELETE /v1/tenants/{tenant}/documents", h.handleDeleteDocuments)
	h.mux.HandleFunc("DELETE /v1/tenants/{tenant}/documents/{name}", h.handleDeleteDocument)

	// Relearn jobs
	h.mux.HandleFunc("POST /v1/tenants/{tenant}/relearn", h.handleRelearn)
	h.mux.HandleFunc("GET /v1/jobs", h.handleListJobs)
	h.mux.HandleFunc("GET /v1/jobs/{id}", h.handleGetJob)
	h.mux.HandleFunc("DELETE /v1/jobs/{id}", h.handleCancelJob)

	// Questions
	h.mux.HandleFunc("POST /v1/tenants/{tenant}/query", h.handleQuery)
	h.mux.HandleFunc("POST /v1/tenants/{tenant}/answer", h.handleAnswer)

	// Admin
	h.mux.HandleFunc("POST /v1/admin/clear-stores", h.handleClearStores)
	h.mux.HandleFunc("POST /v1/admin/reset", h.handleReset)

	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Request",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	h.mux.ServeHTTP(w, r)
}

// handleHealth handles health check requests
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"cached_stores": h.manager.Registry().Len(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to write response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, errType, message string) {
	h.writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}

// retryAfterSeconds is advertised on busy responses.
const retryAfterSeconds = "2"

// writeErr maps err onto a status code and error type and writes it.
func (h *Handler) writeErr(w http.ResponseWriter, op string, err error) {
	status, errType := classify(err)
	if status == http.StatusServiceUnavailable || errType == "relearn_in_progress" {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "status", status, "error", err)
	} else {
		h.logger.Info("Request rejected", "op", op, "status", status, "error", err)
	}
	h.writeError(w, status, errType, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrTenantUnknown),
		errors.Is(err, errs.ErrDocumentNotFound),
		errors.Is(err, ingest.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errs.ErrTenantExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, errs.ErrInput):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errs.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, errs.ErrRelearnInProgress):
		return http.StatusConflict, "relearn_in_progress"
	case errors.Is(err, errs.ErrBusy):
		return http.StatusServiceUnavailable, "rebuilding"
	case errors.Is(err, errs.ErrCorrupted):
		return http.StatusServiceUnavailable, "store_corrupted"
	case errors.Is(err, errs.ErrTransient):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, errs.ErrExternal):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decode reads a JSON body into v, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return false
	}
	return true
}
