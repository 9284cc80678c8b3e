// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import "net/http"

// handleRelearn handles POST /v1/tenants/{tenant}/relearn. The ingestion
// runs in the background; the response carries the job to poll.
func (h *Handler) handleRelearn(w http.ResponseWriter, r *http.Request) {
	tn := r.PathValue("tenant")
	job, started, err := h.jobs.Start(r.Context(), tn)
	if err != nil {
		h.writeErr(w, "relearn", err)
		return
	}
	if started {
		h.logger.Info("Relearn started", "tenant", tn, "job_id", job.ID)
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	h.writeJSON(w, http.StatusAccepted, job)
}

// handleListJobs handles GET /v1/jobs
func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": h.jobs.List()})
}

// handleGetJob handles GET /v1/jobs/{id}
func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.PathValue("id"))
	if err != nil {
		h.writeErr(w, "get job", err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// handleCancelJob handles DELETE /v1/jobs/{id}
func (h *Handler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(r.PathValue("id"))
	if err != nil {
		h.writeErr(w, "cancel job", err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}
