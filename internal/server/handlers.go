package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/knoguchi/hybridkb/internal/auth"
	"github.com/knoguchi/hybridkb/internal/kberrors"
	"github.com/knoguchi/hybridkb/internal/knowledgebase"
	"github.com/knoguchi/hybridkb/internal/models"
)

var errForbiddenNamespace = errors.New("token does not grant access to namespace")

type handlers struct {
	kb           KnowledgeBase
	logger       *slog.Logger
	maxBodyBytes int64
}

type upsertRequest struct {
	Namespace string            `json:"namespace"`
	Documents []models.Document `json:"documents"`
}

type upsertResponse struct {
	UpsertedChunks int `json:"upserted_chunks"`
}

type queryRequest struct {
	Queries []models.Query `json:"queries"`
}

type queryResponse struct {
	Results []models.KBQueryResult `json:"results"`
}

type deleteRequest struct {
	Namespace   string   `json:"namespace"`
	DocumentIDs []string `json:"document_ids"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.kb.VerifyIndexConnection(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handlers) upsertDocuments(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		h.writeError(w, r, kberrors.InvalidInput("documents must not be empty"))
		return
	}
	if !h.authorize(w, r, req.Namespace) {
		return
	}

	n, err := h.kb.Upsert(r.Context(), req.Namespace, req.Documents)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, upsertResponse{UpsertedChunks: n})
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Queries) == 0 {
		h.writeError(w, r, kberrors.InvalidInput("queries must not be empty"))
		return
	}
	for _, q := range req.Queries {
		if !h.authorize(w, r, q.Namespace) {
			return
		}
	}

	results, err := h.kb.Query(r.Context(), req.Queries)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Results: results})
}

func (h *handlers) deleteDocument(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if !h.authorize(w, r, namespace) {
		return
	}

	if err := h.kb.Delete(r.Context(), namespace, []string{chi.URLParam(r, "documentID")}); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteDocuments(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.DocumentIDs) == 0 {
		h.writeError(w, r, kberrors.InvalidInput("document_ids must not be empty"))
		return
	}
	if !h.authorize(w, r, req.Namespace) {
		return
	}

	if err := h.kb.Delete(r.Context(), req.Namespace, req.DocumentIDs); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, kberrors.InvalidInput("malformed request body: %v", err))
		return false
	}
	return true
}

// authorize enforces the token's namespace restriction. Without auth
// configured there are no claims and every namespace is allowed.
func (h *handlers) authorize(w http.ResponseWriter, r *http.Request, namespace string) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.AllowsNamespace(namespace) {
		return true
	}
	writeJSON(w, http.StatusForbidden, errorResponse{
		Error:     fmt.Sprintf("%s %q", errForbiddenNamespace, namespace),
		RequestID: middleware.GetReqID(r.Context()),
	})
	return false
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: middleware.GetReqID(r.Context())})
}

// statusFor maps the error taxonomy to HTTP status codes. A missing index is
// 503 until an operator creates it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, kberrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, knowledgebase.ErrIndexNotFound):
		return http.StatusServiceUnavailable
	case errors.Is(err, kberrors.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, kberrors.ErrExternalService), errors.Is(err, kberrors.ErrIntegration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
