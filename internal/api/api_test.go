package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/telefleet/authgate/internal/clock"
	"github.com/telefleet/authgate/internal/gate"
	"github.com/telefleet/authgate/internal/policy"
	"github.com/telefleet/authgate/internal/registry"
	"github.com/telefleet/authgate/internal/storage"
	"github.com/telefleet/authgate/internal/token"
)

const testAdminKey = "test-admin-key"

// testServer bundles the full handler stack over an in-memory database.
type testServer struct {
	srv      *httptest.Server
	handler  *Handler
	storage  *storage.SQLiteStorage
	registry *registry.Registry
	clk      *clock.Fake
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	encryptionKey := make([]byte, 32)
	_, _ = rand.Read(encryptionKey)

	s, err := storage.New(":memory:", encryptionKey)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pol := policy.NewEngine(s, clk, logger)
	if err := pol.Load(ctx); err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}

	reg, err := registry.New(ctx, s, nil, clk, logger, time.Second)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	tokens := token.NewEngine(s, reg, clk, logger, token.Config{})
	g := gate.New(pol, tokens, logger)

	h := NewHandler(s, tokens, reg, pol, g, nil, logger)
	if err := h.Bootstrap(ctx, testAdminKey); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, handler: h, storage: s, registry: reg, clk: clk}
}

// do sends a JSON request and decodes the JSON response into out (if non-nil).
func (ts *testServer) do(t *testing.T, method, path string, body any, admin bool, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if admin {
		req.Header.Set("AccessKey", testAdminKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp
}

func (ts *testServer) addBot(t *testing.T, key string) {
	t.Helper()
	if err := ts.registry.Add(context.Background(), key, "secret-"+key, ""); err != nil {
		t.Fatalf("failed to add bot %s: %v", key, err)
	}
}

// TestHealthEndpoints verifies health and ready respond without auth.
func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var health map[string]string
	resp := ts.do(t, http.MethodGet, "/health", nil, false, &health)
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Errorf("health: got %d %v", resp.StatusCode, health)
	}

	var ready map[string]string
	resp = ts.do(t, http.MethodGet, "/ready", nil, false, &ready)
	if resp.StatusCode != http.StatusOK || ready["database"] != "connected" {
		t.Errorf("ready: got %d %v", resp.StatusCode, ready)
	}
}

// TestTokenLifecycleHTTP walks issue -> verify -> validate over HTTP.
func TestTokenLifecycleHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.addBot(t, "botA")

	var issued TokenResponse
	resp := ts.do(t, http.MethodPost, "/v1/tokens",
		IssueTokenRequest{OwnerID: 42, Scope: "botA", Class: "free"}, false, &issued)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d", resp.StatusCode)
	}
	if issued.State != "pending" || issued.Method != "shortener" {
		t.Errorf("unexpected issued token: %+v", issued)
	}

	// Pending token does not validate.
	var val ValidateResponse
	resp = ts.do(t, http.MethodGet, "/v1/validate?owner_id=42&bot_key=botA", nil, false, &val)
	if resp.StatusCode != http.StatusOK || val.Authorized || val.Reason != "not_verified" {
		t.Errorf("validate pending: got %d %+v", resp.StatusCode, val)
	}

	// Verification collaborator callback.
	var verified TokenResponse
	resp = ts.do(t, http.MethodPost, "/v1/tokens/"+issued.ID+"/verify",
		map[string]string{"method": "shortener", "reference": "short-1"}, false, &verified)
	if resp.StatusCode != http.StatusOK || verified.State != "verified" {
		t.Fatalf("verify: got %d %+v", resp.StatusCode, verified)
	}

	resp = ts.do(t, http.MethodGet, "/v1/validate?owner_id=42&bot_key=botA", nil, false, &val)
	if resp.StatusCode != http.StatusOK || !val.Authorized || val.TokenID != issued.ID {
		t.Errorf("validate verified: got %d %+v", resp.StatusCode, val)
	}

	var fetched TokenResponse
	resp = ts.do(t, http.MethodGet, "/v1/tokens/"+issued.ID, nil, false, &fetched)
	if resp.StatusCode != http.StatusOK || fetched.State != "verified" {
		t.Errorf("get: got %d %+v", resp.StatusCode, fetched)
	}
}

// TestTokenErrorsHTTP verifies domain error mapping on the token endpoints.
func TestTokenErrorsHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.addBot(t, "botA")

	// Unknown bot scope.
	var apiErr APIError
	resp := ts.do(t, http.MethodPost, "/v1/tokens",
		IssueTokenRequest{OwnerID: 42, Scope: "ghost", Class: "free"}, false, &apiErr)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown bot: expected 400, got %d", resp.StatusCode)
	}

	var issued TokenResponse
	ts.do(t, http.MethodPost, "/v1/tokens",
		IssueTokenRequest{OwnerID: 42, Scope: "botA", Class: "free"}, false, &issued)

	// Scope conflict.
	resp = ts.do(t, http.MethodPost, "/v1/tokens",
		IssueTokenRequest{OwnerID: 42, Scope: "botA", Class: "free"}, false, &apiErr)
	if resp.StatusCode != http.StatusConflict || apiErr.Error != ErrCodeScopeConflict {
		t.Errorf("conflict: got %d %+v", resp.StatusCode, apiErr)
	}

	// Evidence method mismatch.
	resp = ts.do(t, http.MethodPost, "/v1/tokens/"+issued.ID+"/verify",
		map[string]string{"method": "payment", "reference": "txn"}, false, &apiErr)
	if resp.StatusCode != http.StatusUnprocessableEntity || apiErr.Error != ErrCodeEvidenceMismatch {
		t.Errorf("mismatch: got %d %+v", resp.StatusCode, apiErr)
	}

	// Unknown token id.
	resp = ts.do(t, http.MethodGet, "/v1/tokens/00000000-0000-0000-0000-000000000000", nil, false, &apiErr)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", resp.StatusCode)
	}
}

// TestCheckEndpoint verifies the gate decision over HTTP.
func TestCheckEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.addBot(t, "botA")

	var d gate.Decision
	resp := ts.do(t, http.MethodPost, "/v1/check",
		gate.Request{CallerID: 42, BotKey: "botA", Command: "start"}, false, &d)
	if resp.StatusCode != http.StatusOK || !d.Allow {
		t.Errorf("public command: got %d %+v", resp.StatusCode, d)
	}

	resp = ts.do(t, http.MethodPost, "/v1/check",
		gate.Request{CallerID: 42, BotKey: "botA", Command: "restart"}, false, &d)
	if resp.StatusCode != http.StatusOK || d.Allow {
		t.Errorf("owner command: got %d %+v", resp.StatusCode, d)
	}
}

// TestAdminAuth verifies the admin API rejects missing and wrong keys.
func TestAdminAuth(t *testing.T) {
	ts := newTestServer(t)

	// No key.
	resp := ts.do(t, http.MethodGet, "/api/bots", nil, false, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing key: expected 401, got %d", resp.StatusCode)
	}

	// Wrong key.
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/bots", nil)
	req.Header.Set("AccessKey", "wrong-key")
	wrongResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer wrongResp.Body.Close() //nolint:errcheck
	if wrongResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: expected 401, got %d", wrongResp.StatusCode)
	}

	// Bootstrap key works.
	resp = ts.do(t, http.MethodGet, "/api/bots", nil, true, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid key: expected 200, got %d", resp.StatusCode)
	}
}

// TestBotEndpoints verifies admin bot management over HTTP.
func TestBotEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/bots",
		CreateBotRequest{Key: "botA", Secret: "s", DisplayName: "Bot A"}, true, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}

	// Duplicate key.
	var apiErr APIError
	resp = ts.do(t, http.MethodPost, "/api/bots",
		CreateBotRequest{Key: "botA"}, true, &apiErr)
	if resp.StatusCode != http.StatusConflict || apiErr.Error != ErrCodeDuplicateKey {
		t.Errorf("duplicate: got %d %+v", resp.StatusCode, apiErr)
	}

	var bots []BotResponse
	resp = ts.do(t, http.MethodGet, "/api/bots", nil, true, &bots)
	if resp.StatusCode != http.StatusOK || len(bots) != 1 || bots[0].Key != "botA" {
		t.Errorf("list: got %d %+v", resp.StatusCode, bots)
	}

	resp = ts.do(t, http.MethodPut, "/api/bots/botA/status",
		SetBotStatusRequest{Status: "active"}, true, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("set status: expected 200, got %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodPut, "/api/bots/botA/status",
		SetBotStatusRequest{Status: "rebooting"}, true, &apiErr)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad status: expected 400, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodDelete, "/api/bots/botA", nil, true, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodDelete, "/api/bots/botA", nil, true, &apiErr)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", resp.StatusCode)
	}
}

// TestRevokeEndpoint verifies administrative revocation.
func TestRevokeEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.addBot(t, "botA")

	var issued TokenResponse
	ts.do(t, http.MethodPost, "/v1/tokens",
		IssueTokenRequest{OwnerID: 42, Scope: "botA", Class: "free"}, false, &issued)

	resp := ts.do(t, http.MethodDelete, "/api/tokens/"+issued.ID, nil, true, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", resp.StatusCode)
	}

	var fetched TokenResponse
	ts.do(t, http.MethodGet, "/v1/tokens/"+issued.ID, nil, false, &fetched)
	if fetched.State != "revoked" {
		t.Errorf("expected revoked state, got %s", fetched.State)
	}
}

// TestPolicyEndpoints verifies policy reload and command edits over HTTP.
func TestPolicyEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.addBot(t, "botA")

	// Reject an invalid document; the active one stays.
	req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/policy/reload",
		bytes.NewBufferString(`{"command_access": {"root": ["x"]}}`))
	req.Header.Set("AccessKey", testAdminKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid reload: expected 422, got %d", resp.StatusCode)
	}

	var d gate.Decision
	ts.do(t, http.MethodPost, "/v1/check",
		gate.Request{CallerID: 1, BotKey: "botA", Command: "start"}, false, &d)
	if !d.Allow {
		t.Errorf("expected default policy still active after rejected reload")
	}

	// Command edits change decisions immediately.
	resp = ts.do(t, http.MethodPut, "/api/policy/commands/start",
		SetCommandRequest{Level: "owner"}, true, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set command: expected 200, got %d", resp.StatusCode)
	}
	ts.do(t, http.MethodPost, "/v1/check",
		gate.Request{CallerID: 1, BotKey: "botA", Command: "start"}, false, &d)
	if d.Allow {
		t.Errorf("expected start owner-only after edit, got %+v", d)
	}

	resp = ts.do(t, http.MethodDelete, "/api/policy/commands/start", nil, true, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove command: expected 200, got %d", resp.StatusCode)
	}

	var doc map[string]any
	resp = ts.do(t, http.MethodGet, "/api/policy", nil, true, &doc)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get policy: expected 200, got %d", resp.StatusCode)
	}
	if _, ok := doc["command_access"]; !ok {
		t.Errorf("expected command_access in policy document, got %v", doc)
	}
}

// TestAdminKeyEndpoints verifies key creation, use, and deletion.
func TestAdminKeyEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var created struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Key  string `json:"key"`
	}
	resp := ts.do(t, http.MethodPost, "/api/keys",
		CreateAdminKeyRequest{Name: "ops"}, true, &created)
	if resp.StatusCode != http.StatusCreated || created.Key == "" {
		t.Fatalf("create key: got %d %+v", resp.StatusCode, created)
	}

	// The fresh key authenticates.
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/keys", nil)
	req.Header.Set("AccessKey", created.Key)
	freshResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer freshResp.Body.Close() //nolint:errcheck
	if freshResp.StatusCode != http.StatusOK {
		t.Errorf("fresh key: expected 200, got %d", freshResp.StatusCode)
	}

	var keys []AdminKeyResponse
	ts.do(t, http.MethodGet, "/api/keys", nil, true, &keys)
	if len(keys) != 2 { // bootstrap + ops
		t.Errorf("expected 2 keys, got %d", len(keys))
	}

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/keys/%d", created.ID), nil, true, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete key: expected 200, got %d", resp.StatusCode)
	}
}

// TestSetLogLevelEndpoint verifies runtime log level changes.
func TestSetLogLevelEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/loglevel",
		SetLogLevelRequest{Level: "debug"}, true, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var apiErr APIError
	resp = ts.do(t, http.MethodPost, "/api/loglevel",
		SetLogLevelRequest{Level: "loud"}, true, &apiErr)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad level, got %d", resp.StatusCode)
	}
}
