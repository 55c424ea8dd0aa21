package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPProber checks bot liveness over HTTP. Each bot exposes a status
// endpoint derived from the base URL template; the bot's secret
// authenticates the probe.
type HTTPProber struct {
	// baseURL is a template containing "{secret}", e.g.
	// "https://bots.example.net/{secret}/status". The bot key is sent as
	// a query parameter so shared gateways can route it.
	baseURL    string
	httpClient *http.Client
}

// ProberOption configures an HTTPProber.
type ProberOption func(*HTTPProber)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ProberOption {
	return func(p *HTTPProber) {
		p.httpClient = client
	}
}

// NewHTTPProber creates a prober for the given status URL template.
func NewHTTPProber(baseURL string, opts ...ProberOption) *HTTPProber {
	p := &HTTPProber{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// statusResponse is the liveness payload a bot returns.
type statusResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Probe performs a liveness check for one bot. A non-200 response, a
// malformed payload, or ok=false all count as probe failures. The caller
// bounds the probe through ctx.
func (p *HTTPProber) Probe(ctx context.Context, key, secret string) error {
	url := strings.ReplaceAll(p.baseURL, "{secret}", secret) + "?bot=" + key

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read probe response: %w", err)
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("malformed probe response: %w", err)
	}

	if !status.OK {
		if status.Description != "" {
			return fmt.Errorf("bot reported not ok: %s", status.Description)
		}
		return fmt.Errorf("bot reported not ok")
	}

	return nil
}
