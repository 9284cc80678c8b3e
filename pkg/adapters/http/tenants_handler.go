// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"
	"strconv"

	"github.com/leseb/docqa/pkg/history"
)

type createTenantRequest struct {
	Name string `json:"name"`
}

type tenantDocument struct {
	Name    string `json:"name"`
	Bytes   int64  `json:"bytes"`
	ModTime int64  `json:"modified_at"`
}

type tenantResponse struct {
	Name      string           `json:"name"`
	State     string           `json:"state"`
	Documents []tenantDocument `json:"documents"`
}

type deletedResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
	Count   int    `json:"count,omitempty"`
}

// handleListTenants handles GET /v1/tenants
func (h *Handler) handleListTenants(w http.ResponseWriter, r *http.Request) {
	infos, err := h.manager.ListTenants(r.Context())
	if err != nil {
		h.writeErr(w, "list tenants", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": infos})
}

// handleCreateTenant handles POST /v1/tenants
func (h *Handler) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.manager.CreateTenant(r.Context(), req.Name); err != nil {
		h.writeErr(w, "create tenant", err)
		return
	}
	h.logger.Info("Tenant created", "tenant", req.Name)
	h.writeJSON(w, http.StatusCreated, tenantResponse{Name: req.Name, State: "absent", Documents: []tenantDocument{}})
}

// handleGetTenant handles GET /v1/tenants/{tenant}
func (h *Handler) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tn := r.PathValue("tenant")
	if err := h.manager.CheckTenant(r.Context(), "get tenant", tn); err != nil {
		h.writeErr(w, "get tenant", err)
		return
	}
	state, err := h.manager.State(r.Context(), tn)
	if err != nil {
		h.writeErr(w, "get tenant", err)
		return
	}
	docs, err := h.documents(r, tn)
	if err != nil {
		h.writeErr(w, "get tenant", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tenantResponse{Name: tn, State: string(state), Documents: docs})
}

// handleDeleteTenant handles DELETE /v1/tenants/{tenant}
func (h *Handler) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	tn := r.PathValue("tenant")
	if err := h.manager.DeleteTenant(r.Context(), tn); err != nil {
		h.writeErr(w, "delete tenant", err)
		return
	}
	h.writeJSON(w, http.StatusOK, deletedResponse{ID: tn, Object: "tenant.deleted", Deleted: true})
}

// handleDeleteStore handles DELETE /v1/tenants/{tenant}/store
func (h *Handler) handleDeleteStore(w http.ResponseWriter, r *http.Request) {
	tn := r.PathValue("tenant")
	if err := h.manager.DeleteStore(r.Context(), tn); err != nil {
		h.writeErr(w, "delete store", err)
		return
	}
	h.writeJSON(w, http.StatusOK, deletedResponse{ID: tn, Object: "store.deleted", Deleted: true})
}

// handleListRuns handles GET /v1/tenants/{tenant}/runs
func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	tn := r.PathValue("tenant")
	if err := h.manager.CheckTenant(r.Context(), "list runs", tn); err != nil {
		h.writeErr(w, "list runs", err)
		return
	}

	limit := history.DefaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	runs := []*history.Run{}
	if hist := h.manager.History(); hist != nil {
		var err error
		if runs, err = hist.List(r.Context(), tn, limit); err != nil {
			h.writeErr(w, "list runs", err)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": runs})
}

// handleClearStores handles POST /v1/admin/clear-stores
func (h *Handler) handleClearStores(w http.ResponseWriter, r *http.Request) {
	n, err := h.manager.ClearAllStores(r.Context())
	if err != nil {
		h.writeErr(w, "clear stores", err)
		return
	}
	h.logger.Info("All stores cleared", "count", n)
	h.writeJSON(w, http.StatusOK, deletedResponse{ID: "*", Object: "store.deleted", Deleted: true, Count: n})
}

// handleReset handles POST /v1/admin/reset
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Reset(r.Context()); err != nil {
		h.writeErr(w, "reset", err)
		return
	}
	h.logger.Warn("All tenant data reset")
	h.writeJSON(w, http.StatusOK, deletedResponse{ID: "*", Object: "reset", Deleted: true})
}
