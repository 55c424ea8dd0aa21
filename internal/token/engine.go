package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telefleet/authgate/internal/clock"
	"github.com/telefleet/authgate/internal/metrics"
	"github.com/telefleet/authgate/internal/storage"
)

// Store is the persistence the engine needs from the token store.
type Store interface {
	PutToken(ctx context.Context, t *storage.TokenRecord) error
	GetToken(ctx context.Context, id string) (*storage.TokenRecord, error)
	FindActiveToken(ctx context.Context, ownerID int64, scope string, now time.Time) (*storage.TokenRecord, error)
	ListTokensByOwner(ctx context.Context, ownerID int64) ([]*storage.TokenRecord, error)
	MarkTokenVerified(ctx context.Context, id string, verifiedAt time.Time, evidenceRef string) (bool, error)
	MarkTokenRevoked(ctx context.Context, id string) (bool, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// RegistryView is a read-only, non-blocking view of the bot registry.
type RegistryView interface {
	Has(key string) bool
}

// Outcome is the result of a validation.
type Outcome struct {
	Authorized bool
	Reason     DenyReason // set when not authorized
	Token      *storage.TokenRecord
}

// Engine drives the token lifecycle.
type Engine struct {
	store    Store
	registry RegistryView
	clock    clock.Clock
	logger   *slog.Logger

	// supersede replaces the active token on reissue instead of
	// rejecting with ErrScopeConflict.
	supersede bool

	locks lockTable
}

// Config holds engine options.
type Config struct {
	// SupersedeActive revokes a conflicting active token on issue
	// instead of rejecting. Off by default.
	SupersedeActive bool
}

// NewEngine creates a lifecycle engine.
func NewEngine(store Store, registry RegistryView, clk clock.Clock, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Engine{
		store:     store,
		registry:  registry,
		clock:     clk,
		logger:    logger,
		supersede: cfg.SupersedeActive,
	}
}

// Issue creates a pending token for (ownerID, scope). The verification
// method follows from the class (free -> shortener, premium -> payment)
// and the validity window from (class, tier).
//
// If an unexpired pending or verified token already occupies the pair,
// the call fails with ErrScopeConflict unless superseding is configured,
// in which case the predecessor is revoked inside the same critical
// section so the pair never holds two live tokens.
func (e *Engine) Issue(ctx context.Context, ownerID int64, scope string, class Class, tier Tier) (*storage.TokenRecord, error) {
	if scope == "" {
		return nil, fmt.Errorf("token: scope must not be empty")
	}
	if class != ClassFree && class != ClassPremium {
		return nil, fmt.Errorf("token: unknown class %q", class)
	}
	if scope != storage.ScopeAllBots && e.registry != nil && !e.registry.Has(scope) {
		return nil, ErrUnknownBot
	}

	duration, err := durationFor(class, tier)
	if err != nil {
		return nil, err
	}

	mu := e.locks.forKey(scopeLockKey(ownerID, scope))
	mu.Lock()
	defer mu.Unlock()

	now := e.clock.Now()

	existing, err := e.store.FindActiveToken(ctx, ownerID, scope, now)
	switch {
	case err == nil:
		if !e.supersede {
			return nil, fmt.Errorf("%w: token %s active until %s",
				ErrScopeConflict, existing.ID, existing.ExpiresAt.Format(time.RFC3339))
		}
		if _, err := e.store.MarkTokenRevoked(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("failed to supersede token %s: %w", existing.ID, err)
		}
		e.logger.Info("superseded active token", "token_id", existing.ID, "owner_id", ownerID, "scope", scope)
	case errors.Is(err, storage.ErrNotFound):
		// scope is free
	default:
		return nil, err
	}

	rec := &storage.TokenRecord{
		ID:        clock.NewTokenID(),
		OwnerID:   ownerID,
		Scope:     scope,
		Class:     string(class),
		Method:    string(methodFor(class)),
		State:     storage.StatePending,
		IssuedAt:  now,
		ExpiresAt: now.Add(duration),
	}
	if class == ClassPremium {
		rec.Tier = string(tier)
	}

	if err := e.store.PutToken(ctx, rec); err != nil {
		return nil, err
	}

	e.logger.Info("token issued",
		"token_id", rec.ID, "owner_id", ownerID, "scope", scope,
		"class", rec.Class, "tier", rec.Tier, "expires_at", rec.ExpiresAt)

	return rec, nil
}

// Confirm transitions a pending token to verified on behalf of a
// verification collaborator. It is idempotent against duplicate callback
// delivery: confirming an already-verified token with matching evidence
// method is a no-op returning the token.
//
// Returns storage.ErrNotFound for an unknown id, ErrEvidenceMismatch when
// the evidence method does not match the token's, and ErrInvalidTransition
// for expired or revoked tokens.
func (e *Engine) Confirm(ctx context.Context, id string, ev Evidence) (*storage.TokenRecord, error) {
	mu := e.locks.forKey(tokenLockKey(id))
	mu.Lock()
	defer mu.Unlock()

	rec, err := e.store.GetToken(ctx, id)
	if err != nil {
		return nil, err
	}

	if string(ev.Method) != rec.Method {
		return nil, fmt.Errorf("%w: token requires %s, got %s", ErrEvidenceMismatch, rec.Method, ev.Method)
	}

	now := e.clock.Now()
	if !now.Before(rec.ExpiresAt) {
		return nil, fmt.Errorf("%w: token expired at %s", ErrInvalidTransition, rec.ExpiresAt.Format(time.RFC3339))
	}

	switch rec.State {
	case storage.StateVerified:
		// Duplicate delivery: already verified, nothing to do.
		return rec, nil
	case storage.StatePending:
		moved, err := e.store.MarkTokenVerified(ctx, id, now, ev.Reference)
		if err != nil {
			return nil, err
		}
		if !moved {
			// Lost a race with a concurrent confirm or revoke; re-read to decide.
			rec, err = e.store.GetToken(ctx, id)
			if err != nil {
				return nil, err
			}
			if rec.State == storage.StateVerified {
				return rec, nil
			}
			return nil, fmt.Errorf("%w: token is %s", ErrInvalidTransition, rec.State)
		}

		rec.State = storage.StateVerified
		rec.VerifiedAt = now
		rec.EvidenceRef = ev.Reference
		e.logger.Info("token verified", "token_id", id, "owner_id", rec.OwnerID, "method", rec.Method)
		return rec, nil
	default:
		return nil, fmt.Errorf("%w: token is %s", ErrInvalidTransition, rec.State)
	}
}

// Validate resolves whether ownerID holds a usable token for botKey.
// Authorized requires a verified, unexpired token whose scope is botKey
// exactly or the all-bots sentinel, and a bot key present in the registry
// snapshot. The error return is reserved for store failures; the caller
// is expected to fail closed on it.
func (e *Engine) Validate(ctx context.Context, ownerID int64, botKey string) (Outcome, error) {
	tokens, err := e.store.ListTokensByOwner(ctx, ownerID)
	if err != nil {
		return Outcome{}, err
	}
	if len(tokens) == 0 {
		return Outcome{Reason: ReasonNoToken}, nil
	}

	// Newest first, as listed by the store.
	var candidates []*storage.TokenRecord
	for _, t := range tokens {
		if t.Scope == botKey || t.Scope == storage.ScopeAllBots {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return Outcome{Reason: ReasonScopeMismatch}, nil
	}

	now := e.clock.Now()
	botKnown := e.registry == nil || e.registry.Has(botKey)

	for _, t := range candidates {
		if t.State == storage.StateVerified && now.Before(t.ExpiresAt) {
			if !botKnown {
				// The scope cannot resolve to a registered bot anymore.
				return Outcome{Reason: ReasonBotUnknown}, nil
			}
			return Outcome{Authorized: true, Token: t}, nil
		}
	}

	// No usable token; explain the newest matching one.
	newest := candidates[0]
	switch {
	case newest.State == storage.StateRevoked:
		return Outcome{Reason: ReasonNoToken}, nil
	case !now.Before(newest.ExpiresAt):
		return Outcome{Reason: ReasonExpired}, nil
	case newest.State == storage.StatePending:
		return Outcome{Reason: ReasonNotVerified}, nil
	default:
		return Outcome{Reason: ReasonExpired}, nil
	}
}

// Revoke administratively revokes a token. Revoking an already-revoked
// token is a no-op; revoking an expired token fails with
// ErrInvalidTransition. Returns storage.ErrNotFound for an unknown id.
func (e *Engine) Revoke(ctx context.Context, id string) error {
	mu := e.locks.forKey(tokenLockKey(id))
	mu.Lock()
	defer mu.Unlock()

	rec, err := e.store.GetToken(ctx, id)
	if err != nil {
		return err
	}
	if rec.State == storage.StateRevoked {
		return nil
	}
	if !e.clock.Now().Before(rec.ExpiresAt) {
		return fmt.Errorf("%w: token expired at %s", ErrInvalidTransition, rec.ExpiresAt.Format(time.RFC3339))
	}

	moved, err := e.store.MarkTokenRevoked(ctx, id)
	if err != nil {
		return err
	}
	if !moved {
		// Lost a race with a concurrent confirm or revoke; re-read to decide.
		rec, err = e.store.GetToken(ctx, id)
		if err != nil {
			return err
		}
		if rec.State == storage.StateRevoked {
			return nil
		}
		return fmt.Errorf("%w: token is %s", ErrInvalidTransition, rec.State)
	}

	e.logger.Info("token revoked", "token_id", id)
	return nil
}

// Get returns a token by id. Expiry is lazy: a pending or verified
// token past its window is reported with the expired state even though
// the stored row never moves there.
// Returns storage.ErrNotFound if unknown.
func (e *Engine) Get(ctx context.Context, id string) (*storage.TokenRecord, error) {
	rec, err := e.store.GetToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != storage.StateRevoked && !e.clock.Now().Before(rec.ExpiresAt) {
		rec.State = storage.StateExpired
	}
	return rec, nil
}

// RunSweeper purges expired tokens on the given interval until ctx is
// cancelled. This bounds storage growth only; validation never depends
// on the sweep having run.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := e.store.DeleteExpiredTokens(ctx, e.clock.Now())
			if err != nil {
				e.logger.Error("expiry sweep failed", "error", err)
				continue
			}
			if purged > 0 {
				metrics.RecordTokenEvents("expired_purge", "", purged)
				e.logger.Info("expiry sweep purged tokens", "count", purged)
			}
		}
	}
}

func scopeLockKey(ownerID int64, scope string) string {
	return fmt.Sprintf("scope/%d/%s", ownerID, scope)
}

func tokenLockKey(id string) string {
	return "token/" + id
}
