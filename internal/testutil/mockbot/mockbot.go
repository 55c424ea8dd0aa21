// Package mockbot provides a fake bot liveness endpoint for testing the
// registry prober and end-to-end flows.
package mockbot

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Mode controls how the server answers a probe.
type Mode int

const (
	// ModeOK answers {"ok":true}.
	ModeOK Mode = iota
	// ModeNotOK answers 200 with {"ok":false}.
	ModeNotOK
	// ModeHTTPError answers 500.
	ModeHTTPError
	// ModeMalformed answers 200 with a non-JSON body.
	ModeMalformed
	// ModeHang blocks until the request context is cancelled.
	ModeHang
)

// Server is a fake bot fleet behind one HTTP listener. Probes are routed
// by the secret path segment, matching the prober's URL template
// "<base>/{secret}/status".
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	modes   map[string]Mode // keyed by secret
	probes  map[string]int  // probe count by secret
	fallbak Mode
}

// New starts a mock bot server. Unknown secrets answer with the default
// mode ModeOK.
func New() *Server {
	s := &Server{
		modes:  make(map[string]Mode),
		probes: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handleProbe))
	return s
}

// ProbeURL returns the URL template to hand to the prober.
func (s *Server) ProbeURL() string {
	return s.URL + "/{secret}/status"
}

// SetMode sets how probes for the given secret are answered.
func (s *Server) SetMode(secret string, mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[secret] = mode
}

// SetDefaultMode sets the answer for secrets without an explicit mode.
func (s *Server) SetDefaultMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbak = mode
}

// ProbeCount returns how many probes arrived for the given secret.
func (s *Server) ProbeCount(secret string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes[secret]
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[1] != "status" {
		http.NotFound(w, r)
		return
	}
	secret := parts[0]

	s.mu.Lock()
	s.probes[secret]++
	mode, ok := s.modes[secret]
	if !ok {
		mode = s.fallbak
	}
	s.mu.Unlock()

	switch mode {
	case ModeNotOK:
		writeStatus(w, false, "bot is shutting down")
	case ModeHTTPError:
		http.Error(w, "internal error", http.StatusInternalServerError)
	case ModeMalformed:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("not json"))
	case ModeHang:
		select {
		case <-r.Context().Done():
		case <-time.After(time.Minute):
		}
	default:
		writeStatus(w, true, "")
	}
}

func writeStatus(w http.ResponseWriter, ok bool, description string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":          ok,
		"description": description,
	})
}
