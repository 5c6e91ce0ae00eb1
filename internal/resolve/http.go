package resolve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/signdeck/pkg/types"
)

// defaultProbeTimeout bounds a single HEAD request when the caller supplies
// no client.
const defaultProbeTimeout = 5 * time.Second

// HTTPProber checks clip existence with an HTTP HEAD request. Only a 200
// response counts as existing. 5xx responses are reported as errors so that
// they count against the mirror's breaker; every other status is a clean
// miss.
type HTTPProber struct {
	client    *http.Client
	userAgent string
}

// Compile-time interface check.
var _ Prober = (*HTTPProber)(nil)

// ProberOption configures an [HTTPProber].
type ProberOption func(*HTTPProber)

// WithHTTPClient sets the client used for probes.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *HTTPProber) {
		if c != nil {
			p.client = c
		}
	}
}

// WithUserAgent sets the User-Agent header sent with each probe.
func WithUserAgent(ua string) ProberOption {
	return func(p *HTTPProber) { p.userAgent = ua }
}

// NewHTTPProber returns an [HTTPProber].
func NewHTTPProber(opts ...ProberOption) *HTTPProber {
	p := &HTTPProber{
		client:    &http.Client{Timeout: defaultProbeTimeout},
		userAgent: "signdeck",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Exists implements [Prober].
func (p *HTTPProber) Exists(ctx context.Context, loc types.Locator) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, loc.String(), nil)
	if err != nil {
		return false, fmt.Errorf("resolve: build probe for %q: %w", loc, err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("resolve: probe %q: %w", loc, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("resolve: probe %q: mirror returned %s", loc, resp.Status)
	default:
		return false, nil
	}
}
