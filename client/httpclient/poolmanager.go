package httpclient

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"syscall"

	"go.ntppool.org/common/logger"
)

// PoolFlusherTransport wraps an http.Transport and closes idle
// connections after TLS or connection errors, so the next probe starts
// from a fresh connection instead of a broken pooled one. The failed
// request is not retried; it is reported as a failed sample.
type PoolFlusherTransport struct {
	*http.Transport
	log *slog.Logger
}

// NewPoolFlusherTransport creates a new transport wrapper that can flush connection pools
func NewPoolFlusherTransport(transport *http.Transport) *PoolFlusherTransport {
	return &PoolFlusherTransport{
		Transport: transport,
		log:       logger.Setup().WithGroup("pool-flusher"),
	}
}

// RoundTrip implements http.RoundTripper
func (pft *PoolFlusherTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := pft.Transport.RoundTrip(req)

	if shouldFlushConnections(err) {
		pft.log.InfoContext(req.Context(), "connection error, flushing connection pool",
			"url", req.URL.String(),
			"err", err)
		pft.Transport.CloseIdleConnections()
	}

	return resp, err
}

func shouldFlushConnections(err error) bool {
	return isTLSError(err) || isConnectionError(err)
}

// isTLSError checks if the error is related to TLS/certificate issues
func isTLSError(err error) bool {
	if err == nil {
		return false
	}

	var tlsErr *tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return true
	}

	if strings.Contains(err.Error(), "certificate") ||
		strings.Contains(err.Error(), "tls:") ||
		strings.Contains(err.Error(), "x509:") {
		return true
	}

	return false
}

// isConnectionError checks if the error indicates a connection-level problem
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset") {
		return true
	}

	return false
}
