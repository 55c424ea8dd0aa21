// Package clock provides the time source and identifier generation used by
// the token lifecycle. Business logic never calls time.Now directly; it goes
// through a Clock so tests can inject time.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by the wall clock.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// NewTokenID generates a 128-bit random token identifier (UUIDv4).
func NewTokenID() string {
	return uuid.New().String()
}

// IsValidTokenID reports whether s parses as a token identifier.
func IsValidTokenID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Fake is a Clock whose time is set explicitly. Safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set moves the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
