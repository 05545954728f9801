// Package report accumulates probe samples for a run and writes them as
// CSV or JSON.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fivecolleges/compassprobe/client/probe"
)

// Sample is one probe outcome.
type Sample struct {
	Key          string        `json:"key"`
	URL          string        `json:"url"`
	Environment  string        `json:"environment"`
	Time         time.Time     `json:"time"`
	Elapsed      time.Duration `json:"elapsed"`
	ResponseTime time.Duration `json:"response_time"`
	StatusCode   int           `json:"status_code,omitempty"`
	ContentType  string        `json:"content_type,omitempty"`
	Bytes        int64         `json:"bytes"`
	MBPerSecond  float64       `json:"mb_per_second"`
	XDrupalCache string        `json:"x_drupal_cache,omitempty"`
	CacheControl string        `json:"cache_control,omitempty"`
	Headers      string        `json:"headers,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Failed reports whether the probe returned an error.
func (s Sample) Failed() bool {
	return s.Error != ""
}

// NewSample builds a sample from a probe result and error. Either may be
// nil; a failed probe without a result still produces a sample.
func NewSample(env, key, url string, t time.Time, r *probe.Result, err error) Sample {
	s := Sample{
		Key:         key,
		URL:         url,
		Environment: env,
		Time:        t,
	}
	if r != nil {
		s.Elapsed = r.Elapsed
		s.ResponseTime = r.ResponseTime
		s.StatusCode = r.StatusCode
		s.ContentType = r.ContentType
		s.Bytes = r.Bytes
		s.MBPerSecond = r.MBytesPerSecond()
		s.XDrupalCache = r.XDrupalCache()
		s.CacheControl = r.CacheControl()
		s.Headers = formatHeaders(r)
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

func formatHeaders(r *probe.Result) string {
	if len(r.Header) == 0 {
		return ""
	}
	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", k, strings.Join(r.Header[k], ", "))
	}
	return b.String()
}

// Comparison pairs a stage and a prod probe of the same path.
type Comparison struct {
	Time  time.Time `json:"time"`
	Key   string    `json:"key"`
	Stage Sample    `json:"stage"`
	Prod  Sample    `json:"prod"`
}

// Ratio is the stage duration divided by the prod duration, or NaN when
// the prod duration is zero.
func (c Comparison) Ratio() float64 {
	if c.Prod.Elapsed <= 0 {
		return math.NaN()
	}
	return float64(c.Stage.Elapsed) / float64(c.Prod.Elapsed)
}

// Summary aggregates the successful samples of a report.
type Summary struct {
	Count            int           `json:"count"`
	Failures         int           `json:"failures"`
	MeanElapsed      time.Duration `json:"mean_elapsed"`
	MinElapsed       time.Duration `json:"min_elapsed"`
	MaxElapsed       time.Duration `json:"max_elapsed"`
	MeanResponseTime time.Duration `json:"mean_response_time"`
	MeanMBPerSecond  float64       `json:"mean_mb_per_second"`
}

// Report is the accumulator for one run. It is not safe for concurrent
// use.
type Report struct {
	RunID       ulid.ULID
	Environment string
	Started     time.Time

	samples     []Sample
	comparisons []Comparison
}

func New(env string, started time.Time) (*Report, error) {
	id, err := NewRunID(started)
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	return &Report{
		RunID:       id,
		Environment: env,
		Started:     started,
	}, nil
}

func (r *Report) Add(s Sample) {
	r.samples = append(r.samples, s)
}

// AddComparison stores c and adds both of its samples.
func (r *Report) AddComparison(c Comparison) {
	r.comparisons = append(r.comparisons, c)
	r.samples = append(r.samples, c.Stage, c.Prod)
}

func (r *Report) Samples() []Sample {
	return r.samples
}

func (r *Report) Comparisons() []Comparison {
	return r.comparisons
}

func (r *Report) Summary() Summary {
	var (
		sum Summary
		ok  int

		elapsed, responseTime time.Duration
		rate                  float64
	)

	sum.Count = len(r.samples)
	for _, s := range r.samples {
		if s.Failed() {
			sum.Failures++
			continue
		}
		if ok == 0 || s.Elapsed < sum.MinElapsed {
			sum.MinElapsed = s.Elapsed
		}
		if s.Elapsed > sum.MaxElapsed {
			sum.MaxElapsed = s.Elapsed
		}
		elapsed += s.Elapsed
		responseTime += s.ResponseTime
		rate += s.MBPerSecond
		ok++
	}

	if ok > 0 {
		sum.MeanElapsed = elapsed / time.Duration(ok)
		sum.MeanResponseTime = responseTime / time.Duration(ok)
		sum.MeanMBPerSecond = rate / float64(ok)
	}
	return sum
}
