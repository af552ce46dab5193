// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsync

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPHandlers provides HTTP handlers for the series/sermon REST API
type HTTPHandlers struct {
	service       *Service
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPHandlers creates a new instance of API handlers
func NewHTTPHandlers(service *Service, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Register mounts the API routes on mux. Routes other than /health are wrapped by authMiddleware
// when it is non-nil.
func (h *HTTPHandlers) Register(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	wrap := func(fn http.HandlerFunc) http.Handler {
		if authMiddleware == nil {
			return fn
		}
		return authMiddleware(fn)
	}
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("GET /api/{kind}", wrap(h.HandleList))
	mux.Handle("POST /api/{kind}", wrap(h.HandleCreate))
	mux.Handle("GET /api/{kind}/{id}", wrap(h.HandleGet))
	mux.Handle("PUT /api/{kind}/{id}", wrap(h.HandleUpdate))
	mux.Handle("DELETE /api/{kind}/{id}", wrap(h.HandleDelete))
}

// HandleHealth reports service liveness
func (h *HTTPHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status:  "healthy",
		AppName: h.service.config.AppName,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleList serves incremental pulls: ?updated_at=<RFC3339>&include_deleted=true&page=N&limit=M
func (h *HTTPHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, kind, ok := h.begin(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	q := ListQuery{Page: 1, Limit: DefaultPageSize}
	if s := query.Get("updated_at"); s != "" {
		since, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "updated_at must be an RFC3339 timestamp")
			return
		}
		q.UpdatedSince = &since
	}
	if s := query.Get("include_deleted"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "include_deleted must be a boolean")
			return
		}
		q.IncludeDeleted = v
	}
	if s := query.Get("page"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			h.writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "page must be an integer >= 1")
			return
		}
		q.Page = v
	}
	if s := query.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > h.service.config.MaxPageSize {
			h.writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest,
				"limit must be between 1 and "+strconv.Itoa(h.service.config.MaxPageSize))
			return
		}
		q.Limit = v
	}

	resp, err := h.service.List(r.Context(), userID, kind, q)
	if err != nil {
		h.writeServiceError(w, err, "list", kind, "")
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleGet returns a single record
func (h *HTTPHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, kind, ok := h.begin(w, r)
	if !ok {
		return
	}
	id := strings.ToLower(r.PathValue("id"))
	e, err := h.service.Get(r.Context(), userID, kind, id)
	if err != nil {
		h.writeServiceError(w, err, "get", kind, id)
		return
	}
	h.writeJSON(w, http.StatusOK, e)
}

// HandleCreate inserts a new record; 409 when the id already exists
func (h *HTTPHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, kind, ok := h.begin(w, r)
	if !ok {
		return
	}
	e, ok := h.decodeBody(w, r, kind)
	if !ok {
		return
	}
	created, err := h.service.Create(r.Context(), userID, e)
	if err != nil {
		h.writeServiceError(w, err, "create", kind, e.EntityID())
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// HandleUpdate replaces a record
func (h *HTTPHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, kind, ok := h.begin(w, r)
	if !ok {
		return
	}
	e, ok := h.decodeBody(w, r, kind)
	if !ok {
		return
	}
	id := strings.ToLower(r.PathValue("id"))
	updated, err := h.service.Update(r.Context(), userID, id, e)
	if err != nil {
		h.writeServiceError(w, err, "update", kind, id)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// HandleDelete soft-deletes a record; 404 when missing or already deleted
func (h *HTTPHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, kind, ok := h.begin(w, r)
	if !ok {
		return
	}
	id := strings.ToLower(r.PathValue("id"))
	if err := h.service.Delete(r.Context(), userID, kind, id); err != nil {
		h.writeServiceError(w, err, "delete", kind, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandlers) begin(w http.ResponseWriter, r *http.Request) (string, Kind, bool) {
	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, ErrCodeAuth, err.Error())
		return "", "", false
	}
	kind := Kind(r.PathValue("kind"))
	if !kind.Valid() {
		h.writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown collection "+string(kind))
		return "", "", false
	}
	return userID, kind, true
}

func (h *HTTPHandlers) decodeBody(w http.ResponseWriter, r *http.Request, kind Kind) (Entity, bool) {
	var reader io.Reader = r.Body
	if limit := h.service.config.MaxPayloadBytes; limit > 0 {
		reader = io.LimitReader(r.Body, int64(limit)+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "failed to read request body")
		return nil, false
	}
	if limit := h.service.config.MaxPayloadBytes; limit > 0 && len(body) > limit {
		h.writeError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidRequest, "payload too large")
		return nil, false
	}
	e, err := DecodeEntity(kind, body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "failed to parse request body")
		return nil, false
	}
	return e, true
}

func (h *HTTPHandlers) writeServiceError(w http.ResponseWriter, err error, op string, kind Kind, id string) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, ErrCodeNotFound, string(kind)+" not found")
	case errors.Is(err, ErrAlreadyExists):
		h.writeError(w, http.StatusConflict, ErrCodeConflict, string(kind)+" already exists")
	case errors.Is(err, ErrFKMissing):
		h.writeError(w, http.StatusUnprocessableEntity, ErrCodeFKMissing, err.Error())
	case errors.Is(err, ErrBadPayload):
		h.writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, ErrUnknownKind):
		h.writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		h.logger.Error("Failed to process request", "op", op, "kind", kind, "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to "+op+" "+string(kind))
	}
}

func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPHandlers) writeError(w http.ResponseWriter, status int, errorCode, message string) {
	writeJSONError(w, status, errorCode, message)
}

func writeJSONError(w http.ResponseWriter, status int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
