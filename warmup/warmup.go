// Package warmup polls a measurement until consecutive values settle,
// e.g. to warm caches before a timed run.
package warmup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTolerance = 0.1
	DefaultMaxPolls  = 20
)

// ErrNotSettled is returned when MaxPolls measurements did not settle.
var ErrNotSettled = errors.New("measurements did not settle")

// Comparator decides if two measurements are close enough.
type Comparator struct {
	// Tolerance is the allowed relative deviation, 0.1 for 10%.
	Tolerance float64
}

// Settled reports whether |cur-prev| / max(prev, cur) <= Tolerance.
// Two zero values are settled.
func (c Comparator) Settled(prev, cur float64) bool {
	m := math.Max(math.Abs(prev), math.Abs(cur))
	if m == 0 {
		return true
	}
	return math.Abs(cur-prev)/m <= c.Tolerance
}

// MeasureFunc returns one measurement, typically a duration in seconds.
type MeasureFunc func(ctx context.Context) (float64, error)

type Options struct {
	Tolerance       float64
	MaxPolls        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Result lists every measurement taken; the last one is the settled value.
type Result struct {
	Values  []float64
	Settled bool
}

func (r Result) Last() float64 {
	if len(r.Values) == 0 {
		return 0
	}
	return r.Values[len(r.Values)-1]
}

// Poll calls measure until two consecutive values are settled or
// MaxPolls values were taken, waiting with exponential backoff between
// calls. Measurement errors end the poll.
func Poll(ctx context.Context, measure MeasureFunc, opts Options) (Result, error) {
	ctx, span := tracing.Start(ctx, "warmup")
	defer span.End()
	log := logger.FromContext(ctx)

	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = DefaultMaxPolls
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 2 * time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = time.Minute
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = opts.InitialInterval
	boff.MaxInterval = opts.MaxInterval
	boff.RandomizationFactor = 0.3

	cmp := Comparator{Tolerance: opts.Tolerance}
	res := Result{}

	for i := 0; i < opts.MaxPolls; i++ {
		if i > 0 {
			wait := boff.NextBackOff()
			if wait == backoff.Stop {
				wait = boff.MaxInterval
			}
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(wait):
			}
		}

		v, err := measure(ctx)
		if err != nil {
			return res, fmt.Errorf("poll %d: %w", i+1, err)
		}
		res.Values = append(res.Values, v)
		log.DebugContext(ctx, "warmup poll", "n", i+1, "value", v)

		if n := len(res.Values); n > 1 && cmp.Settled(res.Values[n-2], v) {
			res.Settled = true
			span.SetAttributes(attribute.Int("warmup.polls", n))
			log.InfoContext(ctx, "warmed up", "polls", n, "value", v)
			return res, nil
		}
	}

	span.SetAttributes(attribute.Int("warmup.polls", len(res.Values)))
	return res, ErrNotSettled
}
