// Package registry tracks the fleet of downstream bot instances: their
// keys, secrets, and liveness status. Membership reads used by token
// validation are lock-free snapshot reads.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telefleet/authgate/internal/clock"
	"github.com/telefleet/authgate/internal/metrics"
	"github.com/telefleet/authgate/internal/storage"
)

var (
	// ErrInvalidBotKey is returned for empty keys and keys that collide
	// with the all-bots scope.
	ErrInvalidBotKey = errors.New("invalid bot key")

	// ErrInvalidStatus is returned for status values outside the known set.
	ErrInvalidStatus = errors.New("invalid bot status")
)

// Store is the persistence the registry needs.
type Store interface {
	CreateBot(ctx context.Context, b *storage.BotRecord) error
	GetBot(ctx context.Context, key string) (*storage.BotRecord, error)
	ListBots(ctx context.Context) ([]*storage.BotRecord, error)
	UpdateBotStatus(ctx context.Context, key, status string, checkedAt time.Time, lastError string) error
	DeleteBot(ctx context.Context, key string) error
	EncryptBotSecret(secret string) ([]byte, error)
	DecryptBotSecret(encrypted []byte) (string, error)
}

// Prober checks whether a bot instance is alive. Implementations must
// honor ctx cancellation; the registry bounds each probe with a timeout.
type Prober interface {
	Probe(ctx context.Context, key, secret string) error
}

// Entry is a snapshot view of a registered bot, without its secret.
type Entry struct {
	Key           string
	DisplayName   string
	Status        string
	LastCheckedAt time.Time
	LastError     string
}

// Registry manages bot entries. Mutations go through the store and then
// rebuild an immutable snapshot map behind an atomic pointer; Has and
// Snapshot never block on a mutation or an in-flight refresh.
type Registry struct {
	store        Store
	prober       Prober
	clock        clock.Clock
	logger       *slog.Logger
	probeTimeout time.Duration

	// Serializes mutations and snapshot rebuilds.
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]Entry]
}

// New creates a registry and loads the persisted entries into the
// snapshot. Statuses are soft state: they come back as last persisted
// and are recomputed by the next refresh.
func New(ctx context.Context, store Store, prober Prober, clk clock.Clock, logger *slog.Logger, probeTimeout time.Duration) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}

	r := &Registry{
		store:        store,
		prober:       prober,
		clock:        clk,
		logger:       logger,
		probeTimeout: probeTimeout,
	}

	if err := r.rebuildSnapshot(ctx); err != nil {
		return nil, fmt.Errorf("failed to load bot registry: %w", err)
	}

	return r, nil
}

// Add registers a new bot. The secret is encrypted at rest.
// Returns storage.ErrDuplicate if the key already exists.
func (r *Registry) Add(ctx context.Context, key, secret, displayName string) error {
	if key == "" || key == storage.ScopeAllBots {
		return fmt.Errorf("%w: %q", ErrInvalidBotKey, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	encrypted, err := r.store.EncryptBotSecret(secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt bot secret: %w", err)
	}

	status := storage.BotStatusInactive
	if secret == "" {
		status = storage.BotStatusNotConfigured
	}

	if err := r.store.CreateBot(ctx, &storage.BotRecord{
		Key:             key,
		DisplayName:     displayName,
		SecretEncrypted: encrypted,
		Status:          status,
	}); err != nil {
		return err
	}

	r.logger.Info("bot registered", "key", key, "display_name", displayName)
	return r.rebuildSnapshotLocked(ctx)
}

// Remove deletes a bot entry. Tokens scoped to the key are left in place
// and become unresolvable at validation time.
// Returns storage.ErrNotFound if the key is absent.
func (r *Registry) Remove(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.DeleteBot(ctx, key); err != nil {
		return err
	}

	r.logger.Info("bot removed", "key", key)
	return r.rebuildSnapshotLocked(ctx)
}

// SetStatus administratively overrides a bot's status.
func (r *Registry) SetStatus(ctx context.Context, key, status string) error {
	switch status {
	case storage.BotStatusActive, storage.BotStatusInactive,
		storage.BotStatusError, storage.BotStatusNotConfigured:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.UpdateBotStatus(ctx, key, status, r.clock.Now(), ""); err != nil {
		return err
	}

	return r.rebuildSnapshotLocked(ctx)
}

// List returns all entries ordered by key, from the current snapshot
// source of truth (the store), including soft status fields.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	records, err := r.store.ListBots(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(records))
	for _, b := range records {
		entries = append(entries, entryFromRecord(b))
	}
	return entries, nil
}

// Has reports whether key is a registered bot. Lock-free snapshot read.
func (r *Registry) Has(key string) bool {
	snap := r.snapshot.Load()
	if snap == nil {
		return false
	}
	_, ok := (*snap)[key]
	return ok
}

// Snapshot returns the current membership snapshot.
func (r *Registry) Snapshot() map[string]Entry {
	snap := r.snapshot.Load()
	if snap == nil {
		return map[string]Entry{}
	}
	return *snap
}

// RefreshAll probes every registered bot concurrently, each bounded by
// the probe timeout, and records the resulting statuses. A probe failure
// downgrades that bot to the error status; it never fails the refresh.
func (r *Registry) RefreshAll(ctx context.Context) error {
	if r.prober == nil {
		return r.rebuildSnapshot(ctx)
	}

	records, err := r.store.ListBots(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	results := make([]probeResult, len(records))

	for i, rec := range records {
		if rec.Status == storage.BotStatusNotConfigured {
			results[i] = probeResult{key: rec.Key, status: storage.BotStatusNotConfigured, lastError: "bot not configured"}
			continue
		}

		secret, err := r.store.DecryptBotSecret(rec.SecretEncrypted)
		if err != nil {
			results[i] = probeResult{key: rec.Key, status: storage.BotStatusError, lastError: "secret decryption failed"}
			continue
		}

		wg.Add(1)
		go func(i int, key, secret string) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
			defer cancel()

			start := time.Now()
			err := r.prober.Probe(probeCtx, key, secret)
			if err != nil {
				metrics.RecordProbeDuration("error", time.Since(start).Seconds())
				results[i] = probeResult{key: key, status: storage.BotStatusError, lastError: err.Error()}
				return
			}
			metrics.RecordProbeDuration("ok", time.Since(start).Seconds())
			results[i] = probeResult{key: key, status: storage.BotStatusActive}
		}(i, rec.Key, secret)
	}

	wg.Wait()

	now := r.clock.Now()
	active := 0
	for _, res := range results {
		if res.key == "" {
			continue
		}
		if res.status == storage.BotStatusActive {
			active++
		}
		if err := r.store.UpdateBotStatus(ctx, res.key, res.status, now, res.lastError); err != nil {
			// The entry may have been removed mid-refresh.
			r.logger.Warn("failed to record probe result", "key", res.key, "error", err)
		}
	}

	r.logger.Info("bot refresh complete", "active", active, "total", len(records))

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rebuildSnapshotLocked(ctx)
}

// RunRefresher refreshes the fleet on the given interval until ctx is
// cancelled.
func (r *Registry) RunRefresher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshAll(ctx); err != nil {
				r.logger.Error("bot refresh failed", "error", err)
			}
		}
	}
}

type probeResult struct {
	key       string
	status    string
	lastError string
}

func (r *Registry) rebuildSnapshot(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rebuildSnapshotLocked(ctx)
}

// rebuildSnapshotLocked replaces the snapshot map. Callers hold r.mu.
func (r *Registry) rebuildSnapshotLocked(ctx context.Context) error {
	records, err := r.store.ListBots(ctx)
	if err != nil {
		return err
	}

	snap := make(map[string]Entry, len(records))
	for _, b := range records {
		snap[b.Key] = entryFromRecord(b)
	}
	r.snapshot.Store(&snap)
	return nil
}

func entryFromRecord(b *storage.BotRecord) Entry {
	return Entry{
		Key:           b.Key,
		DisplayName:   b.DisplayName,
		Status:        b.Status,
		LastCheckedAt: b.LastCheckedAt,
		LastError:     b.LastError,
	}
}
