// Package testenv provides a reusable full-stack test environment: the
// complete HTTP surface over an in-memory database, a fake clock, and a
// mock bot fleet for liveness probing.
package testenv

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/telefleet/authgate/internal/api"
	"github.com/telefleet/authgate/internal/clock"
	"github.com/telefleet/authgate/internal/gate"
	"github.com/telefleet/authgate/internal/policy"
	"github.com/telefleet/authgate/internal/registry"
	"github.com/telefleet/authgate/internal/storage"
	"github.com/telefleet/authgate/internal/testutil/mockbot"
	"github.com/telefleet/authgate/internal/token"
)

// AdminKey is the bootstrap admin key every test environment starts with.
const AdminKey = "e2e-admin-key"

// Env is a running auth gate with all collaborators wired in-process.
type Env struct {
	// BaseURL is the root of the HTTP surface.
	BaseURL string
	// Clock drives all lifecycle timing; advance it to expire tokens.
	Clock *clock.Fake
	// Bots is the fake bot fleet the registry probes.
	Bots *mockbot.Server
	// Registry allows direct fleet manipulation where the admin API
	// would be a detour.
	Registry *registry.Registry
	// Tokens is the lifecycle engine behind the HTTP surface.
	Tokens *token.Engine

	server *httptest.Server
}

// Options tunes the environment.
type Options struct {
	// SupersedeTokens switches reissue behavior from reject to replace.
	SupersedeTokens bool
}

// Setup builds and starts a full environment. Everything is torn down
// through t.Cleanup.
func Setup(t *testing.T, opts Options) *Env {
	t.Helper()

	encryptionKey := make([]byte, 32)
	_, _ = rand.Read(encryptionKey)

	store, err := storage.New(":memory:", encryptionKey)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bots := mockbot.New()
	t.Cleanup(bots.Close)

	pol := policy.NewEngine(store, clk, logger)
	if err := pol.Load(ctx); err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}

	reg, err := registry.New(ctx, store, registry.NewHTTPProber(bots.ProbeURL()), clk, logger, 2*time.Second)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	tokens := token.NewEngine(store, reg, clk, logger, token.Config{
		SupersedeActive: opts.SupersedeTokens,
	})
	g := gate.New(pol, tokens, logger)

	handler := api.NewHandler(store, tokens, reg, pol, g, nil, logger)
	if err := handler.Bootstrap(ctx, AdminKey); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	server := httptest.NewServer(handler.NewRouter())
	t.Cleanup(server.Close)

	return &Env{
		BaseURL:  server.URL,
		Clock:    clk,
		Bots:     bots,
		Registry: reg,
		Tokens:   tokens,
		server:   server,
	}
}

// Request performs an unauthenticated JSON request against the environment.
func (e *Env) Request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return e.request(t, method, path, body, "")
}

// AdminRequest performs a JSON request carrying the bootstrap admin key.
func (e *Env) AdminRequest(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return e.request(t, method, path, body, AdminKey)
}

func (e *Env) request(t *testing.T, method, path string, body any, accessKey string) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req, err := http.NewRequest(method, e.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if accessKey != "" {
		req.Header.Set("AccessKey", accessKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp, payload
}

// Decode unmarshals a JSON payload into out.
func Decode(t *testing.T, payload []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(payload, out); err != nil {
		t.Fatalf("failed to decode %q: %v", payload, err)
	}
}
