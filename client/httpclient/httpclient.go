// Package httpclient builds the HTTP clients used for probing. The client
// can be restricted to IPv4 or IPv6 through the request context and is
// instrumented with OpenTelemetry.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// IPVersion is used to specify which IP version to use
type IPVersion int

const (
	// IPAny allows connections over either IPv4 or IPv6
	IPAny IPVersion = iota
	// IPv4Only forces connections over IPv4 only
	IPv4Only
	// IPv6Only forces connections over IPv6 only
	IPv6Only
)

// ParseIPVersion accepts "any", "4" / "ipv4" and "6" / "ipv6".
func ParseIPVersion(s string) (IPVersion, bool) {
	switch s {
	case "", "any":
		return IPAny, true
	case "4", "ipv4":
		return IPv4Only, true
	case "6", "ipv6":
		return IPv6Only, true
	}
	return IPAny, false
}

// ipVersionContextKey is a context key used to pass IP version preference
type ipVersionContextKey struct{}

// NewIPVersionContext creates a new context with IP version preference
func NewIPVersionContext(ctx context.Context, version IPVersion) context.Context {
	return context.WithValue(ctx, ipVersionContextKey{}, version)
}

// getIPVersionFromContext extracts the IP version from context
func getIPVersionFromContext(ctx context.Context) IPVersion {
	if value := ctx.Value(ipVersionContextKey{}); value != nil {
		if version, ok := value.(IPVersion); ok {
			return version
		}
	}
	return IPAny
}

// Options configures the probe client.
type Options struct {
	// Timeout for the whole request including reading the body; the
	// prober also sets a context deadline
	Timeout time.Duration
	// KeepAlive reuses connections between probes. Off by default so every
	// sample includes connection setup, like separate requests would.
	KeepAlive bool
	// MaxRedirects, 0 uses the net/http default of 10
	MaxRedirects int
}

// New creates an HTTP client that respects the IP version preference in
// the request context.
func New(opts Options) *http.Client {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 40 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     !opts.KeepAlive,
	}

	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		switch getIPVersionFromContext(ctx) {
		case IPv4Only:
			network = "tcp4"
		case IPv6Only:
			network = "tcp6"
		}

		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}

		return dialer.DialContext(ctx, network, addr)
	}

	var rt http.RoundTripper = transport
	if opts.KeepAlive {
		rt = NewPoolFlusherTransport(transport)
	}

	client := &http.Client{
		Transport: otelhttp.NewTransport(rt),
		Timeout:   opts.Timeout,
	}

	if opts.MaxRedirects > 0 {
		limit := opts.MaxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return http.ErrUseLastResponse
			}
			return nil
		}
	}

	return client
}
