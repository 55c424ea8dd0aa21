package registry

import (
	"context"
	"testing"
	"time"

	"github.com/telefleet/authgate/internal/testutil/mockbot"
)

// TestHTTPProber verifies the probe outcome per server behavior.
func TestHTTPProber(t *testing.T) {
	srv := mockbot.New()
	defer srv.Close()

	srv.SetMode("s-ok", mockbot.ModeOK)
	srv.SetMode("s-notok", mockbot.ModeNotOK)
	srv.SetMode("s-500", mockbot.ModeHTTPError)
	srv.SetMode("s-garbage", mockbot.ModeMalformed)

	p := NewHTTPProber(srv.ProbeURL())
	ctx := context.Background()

	if err := p.Probe(ctx, "botA", "s-ok"); err != nil {
		t.Errorf("expected ok probe to pass, got %v", err)
	}
	if err := p.Probe(ctx, "botA", "s-notok"); err == nil {
		t.Errorf("expected ok=false to fail the probe")
	}
	if err := p.Probe(ctx, "botA", "s-500"); err == nil {
		t.Errorf("expected HTTP 500 to fail the probe")
	}
	if err := p.Probe(ctx, "botA", "s-garbage"); err == nil {
		t.Errorf("expected malformed payload to fail the probe")
	}

	if srv.ProbeCount("s-ok") != 1 {
		t.Errorf("expected exactly one probe for s-ok, got %d", srv.ProbeCount("s-ok"))
	}
}

// TestHTTPProberContextCancel verifies a cancelled context aborts the probe.
func TestHTTPProberContextCancel(t *testing.T) {
	srv := mockbot.New()
	defer srv.Close()
	srv.SetMode("s-hang", mockbot.ModeHang)

	p := NewHTTPProber(srv.ProbeURL())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Probe(ctx, "botA", "s-hang")
	if err == nil {
		t.Fatalf("expected probe to fail on timeout")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("probe took %v despite a 100ms context", elapsed)
	}
}
