// Package probe makes a single timed HTTP request against a selected
// resource.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"time"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fivecolleges/compassprobe/client/httpclient"
	"github.com/fivecolleges/compassprobe/version"
)

// DefaultTimeout bounds a probe when none is configured.
const DefaultTimeout = 60 * time.Second

// Result is the measurement of one request. Elapsed covers the whole
// transfer including redirects and reading the body; ResponseTime is the
// time until the first byte of the final response.
type Result struct {
	URL           string
	Start         time.Time
	Elapsed       time.Duration
	ResponseTime  time.Duration
	StatusCode    int
	ContentType   string
	ContentLength int64
	Bytes         int64
	Header        http.Header
}

// MBytesPerSecond is the transfer rate in (decimal) megabytes per second
// of the bytes actually received.
func (r *Result) MBytesPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return (float64(r.Bytes) / 1000000) / r.Elapsed.Seconds()
}

func (r *Result) header(key string) string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get(key)
}

// XDrupalCache returns the Drupal page cache status (HIT/MISS).
func (r *Result) XDrupalCache() string {
	return r.header("X-Drupal-Cache")
}

func (r *Result) CacheControl() string {
	return r.header("Cache-Control")
}

// Error is returned when the request failed, timed out or returned a
// non-2xx status.
type Error struct {
	URL        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("probe %s: timeout: %s", e.URL, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("probe %s: %s", e.URL, e.Err)
	default:
		return fmt.Sprintf("probe %s: status %d", e.URL, e.StatusCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Prober issues probe requests.
type Prober struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// New creates a Prober. A nil client gets httpclient defaults.
func New(client *http.Client, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = httpclient.New(httpclient.Options{Timeout: timeout})
	}
	return &Prober{
		client:    client,
		timeout:   timeout,
		userAgent: "compass-probe/" + version.Version(),
	}
}

// Probe GETs url, following redirects, and reads the whole body. A
// *Error is returned for failures; the Result is returned whenever the
// request got far enough to measure something.
func (p *Prober) Probe(ctx context.Context, url string) (*Result, error) {
	log := logger.FromContext(ctx)

	ctx, span := tracing.Start(ctx, "probe")
	defer span.End()
	span.SetAttributes(attribute.String("url.full", url))

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	r := &Result{URL: url}

	var firstByte time.Time
	ct := &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			firstByte = time.Now()
		},
	}
	ctx = httptrace.WithClientTrace(ctx, ct)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, failed(span, &Error{URL: url, Err: err})
	}
	req.Header.Set("User-Agent", p.userAgent)

	r.Start = time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		r.Elapsed = time.Since(r.Start)
		return r, failed(span, &Error{URL: url, Timeout: isTimeout(err), Err: err})
	}
	defer resp.Body.Close()

	r.StatusCode = resp.StatusCode
	r.ContentType = resp.Header.Get("Content-Type")
	r.ContentLength = resp.ContentLength
	r.Header = resp.Header

	n, err := io.Copy(io.Discard, resp.Body)
	r.Bytes = n
	r.Elapsed = time.Since(r.Start)
	if !firstByte.IsZero() {
		r.ResponseTime = firstByte.Sub(r.Start)
	}

	span.SetAttributes(
		attribute.Int("http.response.status_code", r.StatusCode),
		attribute.Int64("probe.bytes", r.Bytes),
	)

	log.DebugContext(ctx, "probe",
		"url", url,
		"status", r.StatusCode,
		"elapsed", r.Elapsed,
		"response_time", r.ResponseTime,
		"bytes", r.Bytes,
		"content_type", r.ContentType,
	)

	if err != nil {
		return r, failed(span, &Error{URL: url, StatusCode: r.StatusCode, Timeout: isTimeout(err), Err: err})
	}

	if r.StatusCode < 200 || r.StatusCode > 299 {
		return r, failed(span, &Error{URL: url, StatusCode: r.StatusCode})
	}

	return r, nil
}

func failed(span trace.Span, err *Error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
