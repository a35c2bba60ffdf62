// Package http builds the outbound HTTP clients used for forwarding and
// health probing.
package http

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	DialTimeout         time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	DisableCompression  bool
	FollowRedirects     bool
	Transport           http.RoundTripper
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		DialTimeout:         5 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the overall client timeout. Zero leaves timing to the
// request context.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithDialTimeout sets the TCP connect timeout
func WithDialTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.DialTimeout = timeout
	}
}

// WithMaxIdleConnsPerHost sets the maximum number of idle connections per host
func WithMaxIdleConnsPerHost(max int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxIdleConnsPerHost = max
	}
}

// WithoutKeepAlives disables keep-alives
func WithoutKeepAlives() ClientOption {
	return func(c *ClientConfig) {
		c.DisableKeepAlives = true
	}
}

// WithoutCompression disables transparent compression
func WithoutCompression() ClientOption {
	return func(c *ClientConfig) {
		c.DisableCompression = true
	}
}

// WithRedirects makes the client follow redirects instead of returning them
func WithRedirects() ClientOption {
	return func(c *ClientConfig) {
		c.FollowRedirects = true
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// NewHTTPClient creates a new HTTP client with the given options.
// Redirects are returned to the caller unless WithRedirects is given.
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		dialer := &net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
			DisableKeepAlives:   cfg.DisableKeepAlives,
			DisableCompression:  cfg.DisableCompression,
		}
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return client
}

// NewForwardingClient returns the client used to proxy requests to endpoints.
// It has no overall timeout; each attempt is bounded by its context.
func NewForwardingClient(opts ...ClientOption) *http.Client {
	base := []ClientOption{
		WithTimeout(0),
		WithMaxIdleConnsPerHost(64),
		WithoutCompression(),
	}
	return NewHTTPClient(append(base, opts...)...)
}

// NewProbeClient returns the client used for health probes
func NewProbeClient(timeout time.Duration) *http.Client {
	return NewHTTPClient(
		WithTimeout(timeout),
		WithDialTimeout(timeout),
		WithMaxIdleConnsPerHost(2),
	)
}
