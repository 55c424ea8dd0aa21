// Package policy maps command names to required access levels from a
// runtime-replaceable policy document.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telefleet/authgate/internal/clock"
	"github.com/telefleet/authgate/internal/storage"
)

// Store persists the policy document across restarts.
type Store interface {
	SavePolicyDocument(ctx context.Context, raw []byte, updatedAt time.Time) error
	LoadPolicyDocument(ctx context.Context) ([]byte, error)
}

// Engine resolves command access levels against the active policy document.
// Readers are lock-free: the active document sits behind an atomic pointer
// and is replaced wholesale on reload, so a resolve call observes either
// the old or the new document in full, never a mix.
type Engine struct {
	doc    atomic.Pointer[Document]
	store  Store // nil disables persistence
	clock  clock.Clock
	logger *slog.Logger

	// Serializes reload and administrative edits. Readers never take it.
	writeMu sync.Mutex
}

// NewEngine creates a policy engine with the default document active.
// Call Load to pick up a persisted document.
func NewEngine(store Store, clk clock.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}

	e := &Engine{store: store, clock: clk, logger: logger}

	// DefaultDocument always parses; treated as a programming error otherwise.
	doc, err := Parse(DefaultDocument())
	if err != nil {
		panic(fmt.Sprintf("policy: default document invalid: %v", err))
	}
	e.doc.Store(doc)

	return e
}

// Load replaces the active document with the persisted one, if any.
// A missing persisted document keeps the default active and writes it out.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	raw, err := e.store.LoadPolicyDocument(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return e.store.SavePolicyDocument(ctx, e.doc.Load().Raw(), e.clock.Now())
	}
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	doc, err := Parse(raw)
	if err != nil {
		// A corrupted persisted document must not take the engine down;
		// the default stays active and the next reload overwrites it.
		e.logger.Error("persisted policy document invalid, keeping default", "error", err)
		return nil
	}

	e.doc.Store(doc)
	e.logger.Info("policy document loaded", "commands", len(doc.commands))
	return nil
}

// Reload validates raw and atomically swaps it in as the active document.
// On validation failure the previous document stays active and the error
// is returned.
func (e *Engine) Reload(ctx context.Context, raw []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	doc, err := Parse(raw)
	if err != nil {
		return err
	}

	if e.store != nil {
		if err := e.store.SavePolicyDocument(ctx, raw, e.clock.Now()); err != nil {
			return fmt.Errorf("failed to persist policy: %w", err)
		}
	}

	e.doc.Store(doc)
	e.logger.Info("policy document reloaded", "commands", len(doc.commands))
	return nil
}

// Resolve returns the access level required for a command.
func (e *Engine) Resolve(command string) Level {
	return e.doc.Load().Resolve(command)
}

// ContainsBlockedKeyword reports whether text contains a blocked keyword.
func (e *Engine) ContainsBlockedKeyword(text string) bool {
	return e.doc.Load().ContainsBlockedKeyword(text)
}

// Authorize reports whether a caller holding capability satisfies the
// required level.
func (e *Engine) Authorize(required, capability Level) bool {
	return capability >= required
}

// Document returns the active document.
func (e *Engine) Document() *Document {
	return e.doc.Load()
}

// SetCommand assigns a command to an access level, removing it from any
// other level first, then re-validates and swaps the updated document.
func (e *Engine) SetCommand(ctx context.Context, command string, level Level) error {
	return e.edit(ctx, func(rd *rawDocument) error {
		name := strings.TrimPrefix(strings.TrimSpace(command), "/")
		if name == "" {
			return fmt.Errorf("%w: empty command", ErrInvalidDocument)
		}
		removeCommand(rd, name)
		rd.CommandAccess[level.String()] = append(rd.CommandAccess[level.String()], name)
		return nil
	})
}

// RemoveCommand removes a command from every access level.
// Returns storage.ErrNotFound if the command was not present.
func (e *Engine) RemoveCommand(ctx context.Context, command string) error {
	return e.edit(ctx, func(rd *rawDocument) error {
		name := strings.TrimPrefix(strings.TrimSpace(command), "/")
		if !removeCommand(rd, name) {
			return storage.ErrNotFound
		}
		return nil
	})
}

// edit applies fn to a copy of the active raw document, then runs the
// result through the same validate-and-swap path as Reload.
func (e *Engine) edit(ctx context.Context, fn func(*rawDocument) error) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var rd rawDocument
	if err := json.Unmarshal(e.doc.Load().Raw(), &rd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if rd.CommandAccess == nil {
		rd.CommandAccess = make(map[string][]string)
	}

	if err := fn(&rd); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(&rd, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	doc, err := Parse(raw)
	if err != nil {
		return err
	}

	if e.store != nil {
		if err := e.store.SavePolicyDocument(ctx, raw, e.clock.Now()); err != nil {
			return fmt.Errorf("failed to persist policy: %w", err)
		}
	}

	e.doc.Store(doc)
	return nil
}

// removeCommand deletes name from every level list, case-insensitively.
// Reports whether anything was removed.
func removeCommand(rd *rawDocument, name string) bool {
	removed := false
	for level, commands := range rd.CommandAccess {
		kept := commands[:0]
		for _, c := range commands {
			if strings.EqualFold(strings.TrimPrefix(c, "/"), name) {
				removed = true
				continue
			}
			kept = append(kept, c)
		}
		rd.CommandAccess[level] = kept
	}
	return removed
}
