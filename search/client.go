// Package search measures Solr query performance with random phrase
// queries and aggregates the saved results.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fivecolleges/compassprobe/candidates"
)

// sizeField is the string field Solr stores the OBJ datastream size in.
const sizeField = "fedora_datastream_latest_OBJ_SIZE_ms"

type ResponseHeader struct {
	Status int `json:"status"`
	QTime  int `json:"QTime"`
}

type Response struct {
	ResponseHeader ResponseHeader `json:"responseHeader"`
	Response       struct {
		NumFound int64             `json:"numFound"`
		Start    int64             `json:"start"`
		Docs     []json.RawMessage `json:"docs"`
	} `json:"response"`
}

// Client queries a Solr select handler.
type Client struct {
	selectURL string
	http      *http.Client
}

// NewClient returns a client for the select handler at selectURL, e.g.
// http://localhost:8080/solr/collection1/select.
func NewClient(selectURL string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{selectURL: selectURL, http: client}
}

func (c *Client) URL(params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("wt", "json")
	return c.selectURL + "?" + q.Encode()
}

// Select runs a query and returns the parsed response and the wall clock
// time until the body was read.
func (c *Client) Select(ctx context.Context, params url.Values) (*Response, time.Duration, error) {
	ctx, span := tracing.Start(ctx, "solr.select")
	defer span.End()

	u := c.URL(params)
	span.SetAttributes(attribute.String("url.full", u))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, err
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("solr select: status %d", resp.StatusCode)
		span.SetStatus(codes.Error, err.Error())
		return nil, elapsed, err
	}

	r := &Response{}
	if err := json.Unmarshal(b, r); err != nil {
		return nil, elapsed, fmt.Errorf("solr select: %w", err)
	}

	logger.FromContext(ctx).DebugContext(ctx, "solr select",
		"q", params.Get("q"),
		"qtime", r.ResponseHeader.QTime,
		"num_found", r.Response.NumFound,
		"elapsed", elapsed,
	)

	return r, elapsed, nil
}

// LargeObjects lists up to rows objects and keeps those with an OBJ
// datastream larger than minSize bytes. Solr keeps the size in a string
// field so the filtering can't be done with a range query.
func (c *Client) LargeObjects(ctx context.Context, rows int, minSize int64) (candidates.Pool, error) {
	params := url.Values{
		"q":    {"*:*"},
		"rows": {strconv.Itoa(rows)},
		"fl":   {"PID," + sizeField},
	}
	r, _, err := c.Select(ctx, params)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)

	pool := candidates.Pool{}
	for _, doc := range r.Response.Docs {
		var e candidates.Entry
		if err := json.Unmarshal(doc, &e); err != nil {
			log.DebugContext(ctx, "skipping document", "err", err)
			continue
		}
		pool = append(pool, e)
	}
	pool = pool.LargerThan(minSize)

	log.InfoContext(ctx, "large objects", "listed", len(r.Response.Docs), "kept", len(pool), "min_size", minSize)
	return pool, nil
}
