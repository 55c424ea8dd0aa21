package storage

import "time"

// TokenRecord is the persisted form of an access token.
type TokenRecord struct {
	ID          string
	OwnerID     int64
	Scope       string // bot key, or ScopeAllBots
	Class       string // "free" or "premium"
	Tier        string // premium duration class ("7d", "30d", "90d"); empty for free
	Method      string // "shortener" or "payment"
	State       string // "pending", "verified", "expired", "revoked"
	EvidenceRef string // reference supplied by the verification collaborator
	IssuedAt    time.Time
	ExpiresAt   time.Time
	VerifiedAt  time.Time // zero until the token is verified
}

// ScopeAllBots is the sentinel scope matching every registered bot.
const ScopeAllBots = "all"

// BotRecord is a registered downstream bot instance.
type BotRecord struct {
	Key             string
	DisplayName     string
	SecretEncrypted []byte
	Status          string // "active", "inactive", "error", "not_configured"
	LastCheckedAt   time.Time // zero if never probed
	LastError       string
}

// AdminKey is a hashed administrative API key.
type AdminKey struct {
	ID        int64
	KeyHash   string
	Name      string
	CreatedAt time.Time
}
