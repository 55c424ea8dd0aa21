// Package gate is the single authorization entry point for downstream bot
// processes: it composes the access policy engine and the token lifecycle
// engine into one synchronous decision.
package gate

import (
	"context"
	"log/slog"

	"github.com/telefleet/authgate/internal/metrics"
	"github.com/telefleet/authgate/internal/policy"
	"github.com/telefleet/authgate/internal/token"
)

// Deny reasons produced by the gate itself, in addition to the token
// engine's validation reasons.
const (
	ReasonBlockedKeyword = "blocked_keyword"
	ReasonAccessLevel    = "insufficient_access_level"
	ReasonInternalError  = "internal_error"
)

// Request describes one inbound command to authorize.
type Request struct {
	CallerID int64  `json:"caller_id"`
	BotKey   string `json:"bot_key"`
	Command  string `json:"command"`
	Args     string `json:"args"`
	IsSudo   bool   `json:"is_sudo"`
	IsOwner  bool   `json:"is_owner"`
}

// Decision is the authorization outcome.
type Decision struct {
	Allow    bool   `json:"allow"`
	Reason   string `json:"reason,omitempty"` // set when denied
	Required string `json:"required_level"`
	TokenID  string `json:"token_id,omitempty"` // the validated token, when one was consulted
}

// Validator is what the gate needs from the token lifecycle engine.
type Validator interface {
	Validate(ctx context.Context, ownerID int64, botKey string) (token.Outcome, error)
}

// Gate composes policy resolution and token validation.
type Gate struct {
	policy *policy.Engine
	tokens Validator
	logger *slog.Logger
}

// New creates a Gate.
func New(p *policy.Engine, v Validator, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{policy: p, tokens: v, logger: logger}
}

// Check decides whether the caller may run the command against the bot.
// Internal failures never propagate: they become deny(internal_error),
// so infrastructure trouble fails closed.
func (g *Gate) Check(ctx context.Context, req Request) Decision {
	// Blocked keywords reject regardless of access level.
	if g.policy.ContainsBlockedKeyword(req.Args) || g.policy.ContainsBlockedKeyword(req.Command) {
		return g.deny(req, "", ReasonBlockedKeyword)
	}

	required := g.policy.Resolve(req.Command)

	if required == policy.LevelPublic {
		return g.allow(req, required, "")
	}

	// Static role flags cover sudo and owner requirements outright.
	capability := policy.CapabilityFromFlags(req.IsOwner, req.IsSudo, false)
	if g.policy.Authorize(required, capability) {
		return g.allow(req, required, "")
	}

	// Levels above authorized are never reachable through a token.
	if required > policy.LevelAuthorized {
		return g.deny(req, required.String(), ReasonAccessLevel)
	}

	outcome, err := g.tokens.Validate(ctx, req.CallerID, req.BotKey)
	if err != nil {
		g.logger.Error("token validation failed, denying",
			"caller_id", req.CallerID, "bot_key", req.BotKey, "command", req.Command, "error", err)
		return g.deny(req, required.String(), ReasonInternalError)
	}
	if !outcome.Authorized {
		return g.deny(req, required.String(), string(outcome.Reason))
	}

	return g.allow(req, required, outcome.Token.ID)
}

func (g *Gate) allow(req Request, required policy.Level, tokenID string) Decision {
	metrics.RecordCheckDecision("allow", "")
	g.logger.Debug("command allowed",
		"caller_id", req.CallerID, "bot_key", req.BotKey, "command", req.Command, "required", required.String())
	return Decision{Allow: true, Required: required.String(), TokenID: tokenID}
}

func (g *Gate) deny(req Request, required, reason string) Decision {
	metrics.RecordCheckDecision("deny", reason)
	g.logger.Debug("command denied",
		"caller_id", req.CallerID, "bot_key", req.BotKey, "command", req.Command,
		"required", required, "reason", reason)
	return Decision{Allow: false, Required: required, Reason: reason}
}
