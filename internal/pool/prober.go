package pool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"traffic-router/internal/common/errors"
	commonhttp "traffic-router/internal/common/http"
)

// Prober performs a single health check against an endpoint
type Prober interface {
	Probe(ctx context.Context, endpoint Endpoint, path string) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context, endpoint Endpoint, path string) error

// Probe calls f
func (f ProberFunc) Probe(ctx context.Context, endpoint Endpoint, path string) error {
	return f(ctx, endpoint, path)
}

// HTTPProber checks endpoints with an HTTP GET; any 2xx status is healthy
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober. A nil client uses a probe client without an
// overall timeout; each probe is bounded by its context.
func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = commonhttp.NewProbeClient(0)
	}
	return &HTTPProber{client: client}
}

// Probe sends GET http://<address><path>
func (p *HTTPProber) Probe(ctx context.Context, endpoint Endpoint, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ProbeURL(endpoint.Address, path), nil)
	if err != nil {
		return errors.ProbeError(endpoint.Address, err)
	}
	req.Header.Set("User-Agent", "traffic-router-probe")

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.ProbeError(endpoint.Address, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.ProbeError(endpoint.Address, fmt.Errorf("unexpected status %d", resp.StatusCode)).
			WithContext("status", resp.StatusCode)
	}
	return nil
}

// ProbeURL builds the health URL of address. Addresses that already carry a
// scheme are used as is.
func ProbeURL(address, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	address = strings.TrimSuffix(address, "/")
	if strings.Contains(address, "://") {
		return address + path
	}
	return "http://" + address + path
}
