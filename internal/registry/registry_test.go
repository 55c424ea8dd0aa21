package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/telefleet/authgate/internal/clock"
	"github.com/telefleet/authgate/internal/storage"
	"github.com/telefleet/authgate/internal/testutil/mockbot"
)

func newTestRegistry(t *testing.T, prober Prober) (*Registry, *storage.SQLiteStorage, *clock.Fake) {
	t.Helper()

	encryptionKey := make([]byte, 32)
	_, _ = rand.Read(encryptionKey)

	s, err := storage.New(":memory:", encryptionKey)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	r, err := New(context.Background(), s, prober, clk, nil, time.Second)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return r, s, clk
}

// TestAddHasRemove verifies membership through the snapshot.
func TestAddHasRemove(t *testing.T) {
	r, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	if r.Has("botA") {
		t.Fatalf("expected empty registry")
	}

	if err := r.Add(ctx, "botA", "secret-a", "Mirror Bot A"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !r.Has("botA") {
		t.Errorf("expected botA in snapshot after Add")
	}

	entry, ok := r.Snapshot()["botA"]
	if !ok {
		t.Fatalf("expected botA in snapshot map")
	}
	if entry.DisplayName != "Mirror Bot A" || entry.Status != storage.BotStatusInactive {
		t.Errorf("unexpected entry: %+v", entry)
	}

	if err := r.Remove(ctx, "botA"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if r.Has("botA") {
		t.Errorf("expected botA gone after Remove")
	}

	if err := r.Remove(ctx, "botA"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second Remove, got %v", err)
	}
}

// TestAddValidation verifies key validation and duplicate rejection.
func TestAddValidation(t *testing.T) {
	r, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	if err := r.Add(ctx, "", "s", ""); !errors.Is(err, ErrInvalidBotKey) {
		t.Errorf("expected ErrInvalidBotKey for empty key, got %v", err)
	}
	// "all" is the token scope sentinel and can never name a bot.
	if err := r.Add(ctx, storage.ScopeAllBots, "s", ""); !errors.Is(err, ErrInvalidBotKey) {
		t.Errorf("expected ErrInvalidBotKey for sentinel key, got %v", err)
	}

	if err := r.Add(ctx, "botA", "s", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(ctx, "botA", "s", ""); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

// TestAddWithoutSecret verifies a secretless bot starts not_configured.
func TestAddWithoutSecret(t *testing.T) {
	r, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	if err := r.Add(ctx, "botA", "", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	entry := r.Snapshot()["botA"]
	if entry.Status != storage.BotStatusNotConfigured {
		t.Errorf("expected not_configured, got %s", entry.Status)
	}
}

// TestSetStatus verifies the administrative override and its validation.
func TestSetStatus(t *testing.T) {
	r, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	if err := r.Add(ctx, "botA", "s", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := r.SetStatus(ctx, "botA", storage.BotStatusActive); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if got := r.Snapshot()["botA"].Status; got != storage.BotStatusActive {
		t.Errorf("expected active, got %s", got)
	}

	if err := r.SetStatus(ctx, "botA", "rebooting"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
	if err := r.SetStatus(ctx, "missing", storage.BotStatusActive); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestRefreshAll verifies concurrent probing and status recording.
func TestRefreshAll(t *testing.T) {
	srv := mockbot.New()
	defer srv.Close()

	prober := NewHTTPProber(srv.ProbeURL())
	r, _, clk := newTestRegistry(t, prober)
	ctx := context.Background()

	if err := r.Add(ctx, "bot-ok", "secret-ok", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(ctx, "bot-down", "secret-down", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(ctx, "bot-unconfigured", "", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	srv.SetMode("secret-ok", mockbot.ModeOK)
	srv.SetMode("secret-down", mockbot.ModeHTTPError)

	if err := r.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll failed: %v", err)
	}

	snap := r.Snapshot()
	if got := snap["bot-ok"].Status; got != storage.BotStatusActive {
		t.Errorf("bot-ok: expected active, got %s", got)
	}
	if got := snap["bot-down"].Status; got != storage.BotStatusError {
		t.Errorf("bot-down: expected error, got %s", got)
	}
	if snap["bot-down"].LastError == "" {
		t.Errorf("bot-down: expected a recorded error")
	}
	if got := snap["bot-unconfigured"].Status; got != storage.BotStatusNotConfigured {
		t.Errorf("bot-unconfigured: expected not_configured, got %s", got)
	}
	if !snap["bot-ok"].LastCheckedAt.Equal(clk.Now()) {
		t.Errorf("expected last_checked_at stamped with refresh time")
	}

	// A bot declaring ok=false also counts as a failed probe.
	srv.SetMode("secret-ok", mockbot.ModeNotOK)
	if err := r.RefreshAll(ctx); err != nil {
		t.Fatalf("second RefreshAll failed: %v", err)
	}
	if got := r.Snapshot()["bot-ok"].Status; got != storage.BotStatusError {
		t.Errorf("expected error after ok=false, got %s", got)
	}
}

// TestRefreshAllBoundsHungProbe verifies the per-probe timeout keeps a
// hung bot from stalling the refresh.
func TestRefreshAllBoundsHungProbe(t *testing.T) {
	srv := mockbot.New()
	defer srv.Close()

	prober := NewHTTPProber(srv.ProbeURL())
	r, _, _ := newTestRegistry(t, prober)
	ctx := context.Background()

	if err := r.Add(ctx, "bot-hung", "secret-hung", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	srv.SetMode("secret-hung", mockbot.ModeHang)

	start := time.Now()
	if err := r.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("refresh took %v, timeout did not bound the probe", elapsed)
	}

	if got := r.Snapshot()["bot-hung"].Status; got != storage.BotStatusError {
		t.Errorf("expected error for hung bot, got %s", got)
	}
}

// TestSnapshotSurvivesRestart verifies a new registry over the same store
// sees persisted entries.
func TestSnapshotSurvivesRestart(t *testing.T) {
	r, s, clk := newTestRegistry(t, nil)
	ctx := context.Background()

	if err := r.Add(ctx, "botA", "secret", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r2, err := New(ctx, s, nil, clk, nil, time.Second)
	if err != nil {
		t.Fatalf("second New failed: %v", err)
	}
	if !r2.Has("botA") {
		t.Errorf("expected persisted bot visible to a fresh registry")
	}
}
