package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/telefleet/authgate/internal/storage"
)

// AdminKeyResponse represents an admin key in API responses.
type AdminKeyResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// CreateAdminKeyRequest is the request body for POST /api/keys.
type CreateAdminKeyRequest struct {
	Name string `json:"name"`
}

// HandleListAdminKeys returns all admin keys
// GET /api/keys
func (h *Handler) HandleListAdminKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.storage.ListAdminKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list admin keys", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return
	}

	resp := make([]AdminKeyResponse, len(keys))
	for i, k := range keys {
		resp[i] = AdminKeyResponse{
			ID:        k.ID,
			Name:      k.Name,
			CreatedAt: k.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCreateAdminKey generates a new admin key. The plaintext key is
// returned once and only its hash is stored.
// POST /api/keys
func (h *Handler) HandleCreateAdminKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAdminKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name is required")
		return
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		h.logger.Error("failed to generate admin key", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return
	}
	key := hex.EncodeToString(raw)

	hash, err := storage.HashKey(key)
	if err != nil {
		h.logger.Error("failed to hash admin key", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return
	}

	id, err := h.storage.CreateAdminKey(r.Context(), req.Name, hash)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("admin key created", "id", id, "name", req.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":   id,
		"name": req.Name,
		"key":  key,
	})
}

// HandleDeleteAdminKey deletes an admin key
// DELETE /api/keys/{id}
func (h *Handler) HandleDeleteAdminKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid key ID")
		return
	}

	if err := h.storage.DeleteAdminKey(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("admin key deleted", "id", id)
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}
