package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/telefleet/authgate/internal/storage"
)

// KeyAuthMiddleware validates admin API keys.
// It accepts an AccessKey header checked against stored bcrypt hashes.
func (h *Handler) KeyAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("AccessKey"))
		if key == "" {
			WriteError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "missing API key")
			return
		}

		ok, err := h.verifyAdminKey(r.Context(), key)
		if err != nil {
			h.logger.Error("failed to verify admin key", "error", err)
			WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
			return
		}
		if !ok {
			h.logger.Warn("invalid admin key attempt", "remote_addr", r.RemoteAddr)
			WriteError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// verifyAdminKey compares the presented key against every stored hash.
// Keys are bcrypt-hashed so there is no lookup column to match on.
func (h *Handler) verifyAdminKey(ctx context.Context, key string) (bool, error) {
	keys, err := h.storage.ListAdminKeys(ctx)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if storage.VerifyKey(key, k.KeyHash) == nil {
			return true, nil
		}
	}
	return false, nil
}

// Bootstrap creates the initial admin key on first start. It is a
// no-op when any admin key already exists or no bootstrap key is
// configured.
func (h *Handler) Bootstrap(ctx context.Context, bootstrapKey string) error {
	if bootstrapKey == "" {
		return nil
	}
	has, err := h.storage.HasAnyAdminKey(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	hash, err := storage.HashKey(bootstrapKey)
	if err != nil {
		return err
	}
	if _, err := h.storage.CreateAdminKey(ctx, "bootstrap", hash); err != nil {
		return err
	}
	h.logger.Info("bootstrap admin key created")
	return nil
}
