// Package token implements the access token lifecycle: issuance,
// verification-state transitions, validation against the bot registry,
// revocation, and expiry housekeeping.
package token

import (
	"errors"
	"time"
)

// Class is a token class.
type Class string

// Token classes.
const (
	ClassFree    Class = "free"
	ClassPremium Class = "premium"
)

// Tier is a premium duration class.
type Tier string

// Premium tiers.
const (
	Tier7d  Tier = "7d"
	Tier30d Tier = "30d"
	Tier90d Tier = "90d"
)

// Method is the external verification mechanism a token requires.
type Method string

// Verification methods. Free tokens verify through a shortener
// click-through; premium tokens require a completed payment.
const (
	MethodShortener Method = "shortener"
	MethodPayment   Method = "payment"
)

// FreeDuration is the fixed validity window of a free token.
const FreeDuration = 6 * time.Hour

var tierDurations = map[Tier]time.Duration{
	Tier7d:  7 * 24 * time.Hour,
	Tier30d: 30 * 24 * time.Hour,
	Tier90d: 90 * 24 * time.Hour,
}

// Evidence is the proof of completion supplied by a verification
// collaborator: a payment transaction reference or a shortener
// completion nonce.
type Evidence struct {
	Method    Method `json:"method"`
	Reference string `json:"reference"`
}

// Lifecycle errors.
var (
	// ErrScopeConflict is returned when an active token already occupies
	// the requested (owner, scope) pair and superseding is disabled.
	ErrScopeConflict = errors.New("token: active token already exists for this scope")

	// ErrInvalidTransition is returned when a lifecycle transition is
	// requested on a token in a state that does not permit it.
	ErrInvalidTransition = errors.New("token: invalid state transition")

	// ErrEvidenceMismatch is returned when verification evidence does not
	// correspond to the token's verification method.
	ErrEvidenceMismatch = errors.New("token: evidence does not match verification method")

	// ErrUnknownTier is returned for a premium issue request with an
	// unrecognized duration tier.
	ErrUnknownTier = errors.New("token: unknown premium tier")

	// ErrUnknownBot is returned when issuing a token scoped to a bot key
	// that is not present in the registry.
	ErrUnknownBot = errors.New("token: bot key not registered")
)

// DenyReason explains a denied validation.
type DenyReason string

// Validation denial reasons.
const (
	ReasonNoToken       DenyReason = "no_token"
	ReasonNotVerified   DenyReason = "not_verified"
	ReasonExpired       DenyReason = "expired"
	ReasonScopeMismatch DenyReason = "scope_mismatch"
	ReasonBotUnknown    DenyReason = "bot_unknown"
)

// durationFor returns the validity window for a class/tier combination.
func durationFor(class Class, tier Tier) (time.Duration, error) {
	if class == ClassFree {
		return FreeDuration, nil
	}
	d, ok := tierDurations[tier]
	if !ok {
		return 0, ErrUnknownTier
	}
	return d, nil
}

// methodFor returns the verification method a class requires.
func methodFor(class Class) Method {
	if class == ClassPremium {
		return MethodPayment
	}
	return MethodShortener
}
