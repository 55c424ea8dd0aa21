package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/telefleet/authgate/internal/registry"
)

// BotResponse is a registry entry in API responses. Secrets never leave
// the store.
type BotResponse struct {
	Key           string `json:"key"`
	DisplayName   string `json:"display_name,omitempty"`
	Status        string `json:"status"`
	LastCheckedAt string `json:"last_checked_at,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

func botResponse(e registry.Entry) BotResponse {
	resp := BotResponse{
		Key:         e.Key,
		DisplayName: e.DisplayName,
		Status:      e.Status,
		LastError:   e.LastError,
	}
	if !e.LastCheckedAt.IsZero() {
		resp.LastCheckedAt = e.LastCheckedAt.Format(time.RFC3339)
	}
	return resp
}

// CreateBotRequest is the request body for POST /api/bots.
type CreateBotRequest struct {
	Key         string `json:"key"`
	Secret      string `json:"secret,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// HandleListBots returns all registered bots
// GET /api/bots
func (h *Handler) HandleListBots(w http.ResponseWriter, r *http.Request) {
	entries, err := h.registry.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list bots", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return
	}

	resp := make([]BotResponse, len(entries))
	for i, e := range entries {
		resp[i] = botResponse(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCreateBot registers a new bot
// POST /api/bots
func (h *Handler) HandleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req CreateBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON")
		return
	}
	if req.Key == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "key is required")
		return
	}

	if err := h.registry.Add(r.Context(), req.Key, req.Secret, req.DisplayName); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("bot registered", "key", req.Key)
	writeJSON(w, http.StatusCreated, map[string]string{"key": req.Key})
}

// HandleDeleteBot removes a bot from the registry
// DELETE /api/bots/{key}
func (h *Handler) HandleDeleteBot(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := h.registry.Remove(r.Context(), key); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("bot removed", "key", key)
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

// SetBotStatusRequest is the request body for PUT /api/bots/{key}/status.
type SetBotStatusRequest struct {
	Status string `json:"status"`
}

// HandleSetBotStatus manually overrides a bot's status
// PUT /api/bots/{key}/status
func (h *Handler) HandleSetBotStatus(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req SetBotStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON")
		return
	}

	if err := h.registry.SetStatus(r.Context(), key, req.Status); err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"key": key, "status": req.Status})
}

// HandleRefreshBots probes every registered bot and updates statuses
// POST /api/bots/refresh
func (h *Handler) HandleRefreshBots(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.RefreshAll(r.Context()); err != nil {
		h.logger.Error("refresh failed", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return
	}

	snap := h.registry.Snapshot()
	resp := make([]BotResponse, 0, len(snap))
	for _, e := range snap {
		resp = append(resp, botResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}
