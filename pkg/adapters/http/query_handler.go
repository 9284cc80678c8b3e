// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"

	"github.com/leseb/docqa/pkg/retrieval"
)

type queryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type queryResponse struct {
	Object  string             `json:"object"`
	Tenant  string             `json:"tenant"`
	Query   string             `json:"query"`
	Results []retrieval.Result `json:"data"`
}

type answerRequest struct {
	Question string `json:"question"`
}

// handleQuery handles POST /v1/tenants/{tenant}/query
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	tn := r.PathValue("tenant")
	var req queryRequest
	if !h.decode(w, r, &req) {
		return
	}
	results, err := h.retrieval.Query(r.Context(), tn, req.Query, req.K)
	if err != nil {
		h.writeErr(w, "query", err)
		return
	}
	if results == nil {
		results = []retrieval.Result{}
	}
	h.writeJSON(w, http.StatusOK, queryResponse{Object: "list", Tenant: tn, Query: req.Query, Results: results})
}

// handleAnswer handles POST /v1/tenants/{tenant}/answer
func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if h.answer == nil {
		h.writeError(w, http.StatusNotImplemented, "not_configured", "No completion backend is configured")
		return
	}
	tn := r.PathValue("tenant")
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	ans, err := h.answer.Answer(r.Context(), tn, req.Question)
	if err != nil {
		h.writeErr(w, "answer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ans)
}
