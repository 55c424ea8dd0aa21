package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMaxBodySize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		limit         int64
		bodySize      int
		shouldSucceed bool
	}{
		{"body under limit", 1024, 512, true},
		{"body exactly at limit", 1024, 1024, true},
		{"body over limit", 1024, 2048, false},
		{"empty body", 1024, 0, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			readError := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := io.ReadAll(r.Body); err != nil {
					readError = true
					return
				}
				w.WriteHeader(http.StatusOK)
			})

			wrapped := MaxBodySize(tt.limit)(handler)

			body := bytes.NewReader(make([]byte, tt.bodySize))
			req := httptest.NewRequest("POST", "/test", body)
			w := httptest.NewRecorder()

			wrapped.ServeHTTP(w, req)

			if tt.shouldSucceed && readError {
				t.Errorf("expected successful read, got error")
			}
			if !tt.shouldSucceed && !readError {
				t.Errorf("expected read error, got none")
			}
		})
	}
}

// TestMaxBodySizeOversizedError verifies the read error is the typed
// MaxBytesError so handlers can map it to 413.
func TestMaxBodySizeOversizedError(t *testing.T) {
	t.Parallel()

	var readErr error
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	})

	wrapped := MaxBodySize(16)(handler)

	req := httptest.NewRequest("POST", "/test", bytes.NewReader(make([]byte, 64)))
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	var maxErr *http.MaxBytesError
	if !errors.As(readErr, &maxErr) {
		t.Errorf("expected MaxBytesError, got %v", readErr)
	}
	if maxErr != nil && maxErr.Limit != 16 {
		t.Errorf("expected limit 16 in error, got %d", maxErr.Limit)
	}
}
