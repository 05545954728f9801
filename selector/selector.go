package selector

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fivecolleges/compassprobe/candidates"
)

// DefaultMaxAttempts caps the draws per call for very large pools.
const DefaultMaxAttempts = 10000

// Selector draws fresh candidates. It is meant for sequential use by a
// single run loop.
type Selector struct {
	rand        *rand.Rand
	now         func() time.Time
	maxAttempts int
	log         *slog.Logger
	metrics     *Metrics
}

type Option func(*Selector)

// WithRand sets the random source (tests use a seeded one).
func WithRand(r *rand.Rand) Option {
	return func(sl *Selector) {
		sl.rand = r
	}
}

// WithClock sets the time source used for ages and recorded timestamps.
func WithClock(now func() time.Time) Option {
	return func(sl *Selector) {
		sl.now = now
	}
}

// WithMaxAttempts caps the number of draws per call; n <= 0 means only
// the pool size limits it.
func WithMaxAttempts(n int) Option {
	return func(sl *Selector) {
		sl.maxAttempts = n
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(sl *Selector) {
		sl.log = log
	}
}

func WithMetrics(m *Metrics) Option {
	return func(sl *Selector) {
		sl.metrics = m
	}
}

func New(opts ...Option) *Selector {
	sl := &Selector{
		rand:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(sl)
	}
	return sl
}

// SelectFresh returns a candidate whose key is not in rec or was last
// recorded more than maxAge ago. The selection is recorded in rec before
// SelectFresh returns; errors from rec.Record are returned as is.
func (sl *Selector) SelectFresh(ctx context.Context, pool candidates.Pool, rec Recorder, key KeyBuilder, maxAge time.Duration) (Selection, error) {
	ctx, span := tracing.Start(ctx, "selector.SelectFresh")
	defer span.End()

	log := sl.log
	if log == nil {
		log = logger.FromContext(ctx)
	}

	budget := len(pool)
	if sl.maxAttempts > 0 && sl.maxAttempts < budget {
		budget = sl.maxAttempts
	}

	// candidates not yet drawn in this call are kept in remaining[:n]
	remaining := make([]int, len(pool))
	for i := range remaining {
		remaining[i] = i
	}
	n := len(remaining)

	now := sl.now()
	attempts := 0

	exhausted := func(err error) (Selection, error) {
		xerr := &PoolExhaustedError{
			PoolSize: len(pool),
			Attempts: attempts,
			MaxAge:   maxAge,
			Err:      err,
		}
		log.WarnContext(ctx, "exhausted available list of objects",
			"attempts", attempts, "pool_size", len(pool), "max_age", maxAge)
		span.SetStatus(codes.Error, xerr.Error())
		sl.metrics.exhausted(attempts)
		return Selection{}, xerr
	}

	for attempts < budget {
		if err := ctx.Err(); err != nil {
			return exhausted(err)
		}

		j := sl.rand.IntN(n)
		idx := remaining[j]
		remaining[j], remaining[n-1] = remaining[n-1], remaining[j]
		n--
		attempts++

		entry := pool[idx]
		k := key(entry.ID)

		lastSeen, seen := rec.Lookup(k)
		if seen {
			age := now.Sub(lastSeen)
			if age <= maxAge {
				log.DebugContext(ctx, "key younger than max age, drawing again",
					"key", k, "age", age, "max_age", maxAge)
				sl.metrics.rejected()
				continue
			}
			log.DebugContext(ctx, "key older than max age", "key", k, "age", age, "max_age", maxAge)
		} else {
			log.DebugContext(ctx, "key not in history", "key", k)
		}

		if err := rec.Record(ctx, k, now); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "record selection")
			return Selection{}, err
		}

		span.SetAttributes(
			attribute.String("selector.key", k),
			attribute.Int("selector.attempts", attempts),
			attribute.Bool("selector.reused", seen),
		)
		sl.metrics.selected(seen, attempts)

		s := Selection{Key: k, Entry: entry, Attempts: attempts}
		if seen {
			s.LastSeen = lastSeen
		}
		return s, nil
	}

	return exhausted(nil)
}
