// Package api provides the HTTP surface of the auth gate: the token
// lifecycle endpoints called by presentation layers and verification
// collaborators, the authorization check endpoint called by downstream
// bot processes, and the administrative API.
package api

import (
	"context"
	"log/slog"

	"github.com/telefleet/authgate/internal/gate"
	"github.com/telefleet/authgate/internal/policy"
	"github.com/telefleet/authgate/internal/registry"
	"github.com/telefleet/authgate/internal/storage"
	"github.com/telefleet/authgate/internal/token"
)

// Storage is what the handler needs directly from the store: admin key
// management and health checks. Token, bot, and policy persistence are
// reached through their engines.
type Storage interface {
	Ping(ctx context.Context) error

	CreateAdminKey(ctx context.Context, name, keyHash string) (int64, error)
	ListAdminKeys(ctx context.Context) ([]*storage.AdminKey, error)
	DeleteAdminKey(ctx context.Context, id int64) error
	HasAnyAdminKey(ctx context.Context) (bool, error)
}

// Handler provides all HTTP endpoints.
type Handler struct {
	storage  Storage
	tokens   *token.Engine
	registry *registry.Registry
	policy   *policy.Engine
	gate     *gate.Gate
	logger   *slog.Logger
	logLevel *slog.LevelVar
}

// NewHandler creates an API handler.
func NewHandler(st Storage, tokens *token.Engine, reg *registry.Registry, pol *policy.Engine, g *gate.Gate, logLevel *slog.LevelVar, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if logLevel == nil {
		logLevel = new(slog.LevelVar)
	}

	return &Handler{
		storage:  st,
		tokens:   tokens,
		registry: reg,
		policy:   pol,
		gate:     g,
		logger:   logger,
		logLevel: logLevel,
	}
}
