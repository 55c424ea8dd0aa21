package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/telefleet/authgate/internal/policy"
)

// HandleGetPolicy returns the active policy document as stored.
// GET /api/policy
func (h *Handler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.policy.Document().Raw())
}

// HandleReloadPolicy replaces the policy document atomically. A document
// that fails validation is rejected and the active one stays in effect.
// POST /api/policy/reload
func (h *Handler) HandleReloadPolicy(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "failed to read body")
		return
	}

	if err := h.policy.Reload(r.Context(), raw); err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "reloaded",
		"commands": len(h.policy.Document().Commands()),
	})
}

// SetCommandRequest is the request body for PUT /api/policy/commands/{command}.
type SetCommandRequest struct {
	Level string `json:"level"`
}

// HandleSetCommand sets or updates a single command's required level.
// PUT /api/policy/commands/{command}
func (h *Handler) HandleSetCommand(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")

	var req SetCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON")
		return
	}

	level, err := policy.ParseLevel(req.Level)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if err := h.policy.SetCommand(r.Context(), command, level); err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"command": command, "level": level.String()})
}

// HandleRemoveCommand removes a command entry; lookups fall back to the
// document default.
// DELETE /api/policy/commands/{command}
func (h *Handler) HandleRemoveCommand(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")

	if err := h.policy.RemoveCommand(r.Context(), command); err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"command": command})
}
