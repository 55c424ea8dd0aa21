package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/telefleet/authgate/internal/gate"
	"github.com/telefleet/authgate/internal/metrics"
	"github.com/telefleet/authgate/internal/storage"
	"github.com/telefleet/authgate/internal/token"
)

// TokenResponse is a token record in API responses. The evidence
// reference is deliberately omitted.
type TokenResponse struct {
	ID         string `json:"id"`
	OwnerID    int64  `json:"owner_id"`
	Scope      string `json:"scope"`
	Class      string `json:"class"`
	Tier       string `json:"tier,omitempty"`
	Method     string `json:"method"`
	State      string `json:"state"`
	IssuedAt   string `json:"issued_at"`
	ExpiresAt  string `json:"expires_at"`
	VerifiedAt string `json:"verified_at,omitempty"`
}

func tokenResponse(t *storage.TokenRecord) TokenResponse {
	resp := TokenResponse{
		ID:        t.ID,
		OwnerID:   t.OwnerID,
		Scope:     t.Scope,
		Class:     t.Class,
		Tier:      t.Tier,
		Method:    t.Method,
		State:     t.State,
		IssuedAt:  t.IssuedAt.Format(time.RFC3339),
		ExpiresAt: t.ExpiresAt.Format(time.RFC3339),
	}
	if !t.VerifiedAt.IsZero() {
		resp.VerifiedAt = t.VerifiedAt.Format(time.RFC3339)
	}
	return resp
}

// IssueTokenRequest is the request body for POST /v1/tokens.
type IssueTokenRequest struct {
	OwnerID int64  `json:"owner_id"`
	Scope   string `json:"scope"`
	Class   string `json:"class"`
	Tier    string `json:"tier,omitempty"`
}

// HandleIssueToken issues a new pending token.
// POST /v1/tokens
func (h *Handler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON")
		return
	}
	if req.OwnerID == 0 || req.Scope == "" || req.Class == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "owner_id, scope and class are required")
		return
	}

	t, err := h.tokens.Issue(r.Context(), req.OwnerID, req.Scope, token.Class(req.Class), token.Tier(req.Tier))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	metrics.RecordTokenEvent("issued", t.Class)
	writeJSON(w, http.StatusCreated, tokenResponse(t))
}

// HandleVerifyToken is the verification collaborator callback.
// POST /v1/tokens/{id}/verify
// Body: {"method": "shortener"|"payment", "reference": "..."}
func (h *Handler) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var ev token.Evidence
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON")
		return
	}
	if ev.Method == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "method is required")
		return
	}

	t, err := h.tokens.Confirm(r.Context(), id, ev)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	metrics.RecordTokenEvent("verified", t.Class)
	writeJSON(w, http.StatusOK, tokenResponse(t))
}

// HandleGetToken returns one token record.
// GET /v1/tokens/{id}
func (h *Handler) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	t, err := h.tokens.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse(t))
}

// HandleRevokeToken administratively revokes a token.
// DELETE /api/tokens/{id}
func (h *Handler) HandleRevokeToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.tokens.Revoke(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}

	metrics.RecordTokenEvent("revoked", "")
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": storage.StateRevoked})
}

// ValidateResponse is the body for GET /v1/validate.
type ValidateResponse struct {
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason,omitempty"`
	TokenID    string `json:"token_id,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

// HandleValidate resolves whether an owner holds a usable token for a bot.
// GET /v1/validate?owner_id=42&bot_key=botA
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ownerID, err := strconv.ParseInt(r.URL.Query().Get("owner_id"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "owner_id must be an integer")
		return
	}
	botKey := r.URL.Query().Get("bot_key")
	if botKey == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "bot_key is required")
		return
	}

	outcome, err := h.tokens.Validate(r.Context(), ownerID, botKey)
	if err != nil {
		// Fail closed: a store failure is a denial, not an allow.
		h.logger.Error("validate failed", "owner_id", ownerID, "bot_key", botKey, "error", err)
		writeJSON(w, http.StatusOK, ValidateResponse{Authorized: false, Reason: ErrCodeInternalError})
		return
	}

	resp := ValidateResponse{Authorized: outcome.Authorized, Reason: string(outcome.Reason)}
	if outcome.Token != nil {
		resp.TokenID = outcome.Token.ID
		resp.ExpiresAt = outcome.Token.ExpiresAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCheck is the single authorization entry point for downstream bots.
// POST /v1/check
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	var req gate.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON")
		return
	}
	if req.Command == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "command is required")
		return
	}

	writeJSON(w, http.StatusOK, h.gate.Check(r.Context(), req))
}
