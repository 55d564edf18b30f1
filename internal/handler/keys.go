package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rotagate/rotagate/internal/model"
	"github.com/rotagate/rotagate/internal/service"
)

// KeyHandler serves the key lifecycle: operator management and machine access.
type KeyHandler struct {
	keys         *service.KeyService
	apiKeyHeader string
	logger       *slog.Logger
}

// NewKeyHandler creates a new KeyHandler. apiKeyHeader names the header that
// carries the raw key on machine access.
func NewKeyHandler(keys *service.KeyService, apiKeyHeader string, logger *slog.Logger) *KeyHandler {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	return &KeyHandler{keys: keys, apiKeyHeader: apiKeyHeader, logger: logger}
}

type createKeyRequest struct {
	Label string `json:"label"`
}

// CreateKey issues a new key. The raw value appears in this response only.
// POST /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.keys.CreateKey(r.Context(), actor(r), req.Label, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, created)
}

// ListKeys returns key metadata, newest first.
// GET /api/v1/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// RevokeKey revokes a key by id.
// POST /api/v1/keys/{id}/revoke
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return
	}

	if err := h.keys.RevokeKey(r.Context(), actor(r), id, requestMeta(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}

// Access grants the protected asset to the holder of a valid key and rotates
// that key. The presented value stops working; the response carries its
// successor.
// GET /api/v1/access
func (h *KeyHandler) Access(w http.ResponseWriter, r *http.Request) {
	res, err := h.keys.AccessAndRotate(r.Context(), r.Header.Get(h.apiKeyHeader), requestMeta(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}
