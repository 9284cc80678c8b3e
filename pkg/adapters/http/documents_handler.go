// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"errors"
	"io"
	"net/http"
)

func (h *Handler) documents(r *http.Request, tn string) ([]tenantDocument, error) {
	docs, err := h.manager.Sources().List(r.Context(), tn)
	if err != nil {
		return nil, err
	}
	out := make([]tenantDocument, len(docs))
	for i, d := range docs {
		out[i] = tenantDocument{Name: d.Name, Bytes: d.Bytes, ModTime: d.ModTime.Unix()}
	}
	return out, nil
}

// handleListDocuments handles GET /v1/tenants/{tenant}/documents
func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	tn := r.PathValue("tenant")
	if err := h.manager.CheckTenant(r.Context(), "list documents", tn); err != nil {
		h.writeErr(w, "list documents", err)
		return
	}
	docs, err := h.documents(r, tn)
	if err != nil {
		h.writeErr(w, "list documents", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": docs})
}

// handlePutDocument handles PUT /v1/tenants/{tenant}/documents/{name}.
// The request body is the raw PDF.
func (h *Handler) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	tn, name := r.PathValue("tenant"), r.PathValue("name")

	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "Document exceeds the upload limit")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}
	if len(content) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Document body is empty")
		return
	}

	if err := h.manager.PutDocument(r.Context(), tn, name, content); err != nil {
		h.writeErr(w, "upload", err)
		return
	}
	h.logger.Info("Document uploaded", "tenant", tn, "name", name, "bytes", len(content))
	h.writeJSON(w, http.StatusCreated, tenantDocument{Name: name, Bytes: int64(len(content))})
}

// handleDeleteDocuments handles DELETE /v1/tenants/{tenant}/documents
func (h *Handler) handleDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	tn := r.PathValue("tenant")
	n, err := h.manager.DeleteDocuments(r.Context(), tn)
	if err != nil {
		h.writeErr(w, "delete documents", err)
		return
	}
	h.writeJSON(w, http.StatusOK, deletedResponse{ID: tn, Object: "document.deleted", Deleted: true, Count: n})
}

// handleDeleteDocument handles DELETE /v1/tenants/{tenant}/documents/{name}
func (h *Handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	tn, name := r.PathValue("tenant"), r.PathValue("name")
	if err := h.manager.DeleteDocument(r.Context(), tn, name); err != nil {
		h.writeErr(w, "delete document", err)
		return
	}
	h.writeJSON(w, http.StatusOK, deletedResponse{ID: name, Object: "document.deleted", Deleted: true, Count: 1})
}
