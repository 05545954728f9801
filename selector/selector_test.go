package selector

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivecolleges/compassprobe/candidates"
	"github.com/fivecolleges/compassprobe/history"
)

// memRecorder is an in-memory Recorder
type memRecorder struct {
	state   map[string]time.Time
	records int
	err     error
}

func newMemRecorder() *memRecorder {
	return &memRecorder{state: map[string]time.Time{}}
}

func (m *memRecorder) Lookup(key string) (time.Time, bool) {
	ts, ok := m.state[key]
	return ts, ok
}

func (m *memRecorder) Record(_ context.Context, key string, now time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.records++
	m.state[key] = now
	return nil
}

// fakeClock is advanced manually by the tests
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func objectPath(id string) string {
	return "/object/" + id
}

func seeded(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed+1)))
}

func makePool(n int) candidates.Pool {
	pool := candidates.Pool{}
	for i := 0; i < n; i++ {
		pool = append(pool, candidates.Entry{ID: fmt.Sprintf("islandora:%d", i)})
	}
	return pool
}

func TestSelectFreshTwoCandidates(t *testing.T) {
	ctx := context.Background()
	pool := candidates.Pool{{ID: "a"}, {ID: "b"}}

	for seed := uint64(0); seed < 20; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
			rec := newMemRecorder()
			sl := New(seeded(seed), WithClock(clock.Now))

			first, err := sl.SelectFresh(ctx, pool, rec, objectPath, 24*time.Hour)
			require.NoError(t, err)
			assert.Contains(t, []string{"/object/a", "/object/b"}, first.Key)
			assert.False(t, first.Reused())

			ts, ok := rec.Lookup(first.Key)
			require.True(t, ok, "first selection should be recorded")
			assert.Equal(t, clock.Now(), ts)

			second, err := sl.SelectFresh(ctx, pool, rec, objectPath, 24*time.Hour)
			require.NoError(t, err)
			assert.NotEqual(t, first.Key, second.Key, "second call must return the other candidate")

			_, err = sl.SelectFresh(ctx, pool, rec, objectPath, 24*time.Hour)
			var xerr *PoolExhaustedError
			require.True(t, errors.As(err, &xerr))
			assert.Equal(t, 2, xerr.Attempts)
			assert.Equal(t, 2, xerr.PoolSize)
		})
	}
}

func TestSelectFreshNeverReturnsYoungKeys(t *testing.T) {
	ctx := context.Background()
	maxAge := time.Hour
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := newMemRecorder()
	sl := New(seeded(42), WithClock(clock.Now))
	pool := makePool(5)

	returned := map[string]time.Time{}
	selections, exhaustions := 0, 0

	for i := 0; i < 200; i++ {
		clock.Advance(7 * time.Minute)

		s, err := sl.SelectFresh(ctx, pool, rec, objectPath, maxAge)
		if err != nil {
			var xerr *PoolExhaustedError
			require.True(t, errors.As(err, &xerr), "unexpected error %s", err)
			exhaustions++
			continue
		}
		selections++

		if prev, ok := returned[s.Key]; ok {
			assert.Greater(t, clock.Now().Sub(prev), maxAge,
				"key %s returned again after %s", s.Key, clock.Now().Sub(prev))
			assert.Equal(t, prev, s.LastSeen)
		}
		returned[s.Key] = clock.Now()
	}

	assert.Len(t, returned, 5)
	assert.Greater(t, selections, 0)
	assert.Greater(t, exhaustions, 0, "a 5 entry pool at 7 minute steps should run dry")
}

func TestSelectFreshBoundary(t *testing.T) {
	ctx := context.Background()
	maxAge := 24 * time.Hour
	t0 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	pool := candidates.Pool{{ID: "only"}}

	rec := newMemRecorder()
	rec.state["/object/only"] = t0

	clock := &fakeClock{t: t0.Add(maxAge)}
	sl := New(seeded(1), WithClock(clock.Now))

	_, err := sl.SelectFresh(ctx, pool, rec, objectPath, maxAge)
	var xerr *PoolExhaustedError
	require.True(t, errors.As(err, &xerr), "exactly max age old is not fresh")

	clock.Advance(time.Microsecond)
	s, err := sl.SelectFresh(ctx, pool, rec, objectPath, maxAge)
	require.NoError(t, err, "one microsecond older is fresh")
	assert.Equal(t, "/object/only", s.Key)
	assert.True(t, s.Reused())
	assert.Equal(t, t0, s.LastSeen)

	assert.Equal(t, clock.Now(), rec.state["/object/only"], "aged out keys are recorded again")
}

func TestSelectFreshExhaustion(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	pool := candidates.Pool{{ID: "only"}}

	rec := newMemRecorder()
	rec.state["/object/only"] = now

	sl := New(WithClock(func() time.Time { return now }))

	done := make(chan error, 1)
	go func() {
		_, err := sl.SelectFresh(ctx, pool, rec, objectPath, time.Hour)
		done <- err
	}()

	select {
	case err := <-done:
		var xerr *PoolExhaustedError
		require.True(t, errors.As(err, &xerr))
		assert.Equal(t, 1, xerr.Attempts)
		assert.Equal(t, time.Hour, xerr.MaxAge)
		assert.Equal(t, 0, rec.records)
	case <-time.After(5 * time.Second):
		t.Fatal("SelectFresh did not return")
	}
}

func TestSelectFreshEmptyPool(t *testing.T) {
	_, err := New().SelectFresh(context.Background(), candidates.Pool{}, newMemRecorder(), objectPath, time.Hour)

	var xerr *PoolExhaustedError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, 0, xerr.Attempts)
}

func TestSelectFreshMaxAttempts(t *testing.T) {
	now := time.Now()
	pool := makePool(100)
	rec := newMemRecorder()
	for _, e := range pool {
		rec.state[objectPath(e.ID)] = now
	}

	sl := New(seeded(3), WithClock(func() time.Time { return now }), WithMaxAttempts(10))
	_, err := sl.SelectFresh(context.Background(), pool, rec, objectPath, time.Hour)

	var xerr *PoolExhaustedError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, 10, xerr.Attempts)
	assert.Equal(t, 100, xerr.PoolSize)
}

func TestSelectFreshCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().SelectFresh(ctx, makePool(3), newMemRecorder(), objectPath, time.Hour)

	var xerr *PoolExhaustedError
	require.True(t, errors.As(err, &xerr))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelectFreshRecordError(t *testing.T) {
	rec := newMemRecorder()
	rec.err = &history.PersistenceError{Path: "queryhistory.json", Err: errors.New("disk full")}

	_, err := New().SelectFresh(context.Background(), makePool(3), rec, objectPath, time.Hour)

	var perr *history.PersistenceError
	require.True(t, errors.As(err, &perr), "persistence errors are returned to the caller")
}

func TestSelectFreshPersistsBeforeReturning(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queryhistory.json")

	store, err := history.Open(ctx, path)
	require.NoError(t, err)

	sl := New(seeded(9))
	s, err := sl.SelectFresh(ctx, makePool(10), store, objectPath, 24*time.Hour)
	require.NoError(t, err)
	returnedAt := time.Now()

	reloaded, err := history.Open(ctx, path)
	require.NoError(t, err)

	ts, ok := reloaded.Lookup(s.Key)
	require.True(t, ok, "selection must be on disk when SelectFresh returns")
	assert.False(t, ts.After(returnedAt))
}

func TestSelectFreshUniform(t *testing.T) {
	// a recorder that never remembers anything makes every draw fresh
	rec := &forgetfulRecorder{}
	sl := New(seeded(7))
	pool := makePool(4)

	counts := map[string]int{}
	for i := 0; i < 4000; i++ {
		s, err := sl.SelectFresh(context.Background(), pool, rec, objectPath, time.Hour)
		require.NoError(t, err)
		counts[s.Key]++
	}

	require.Len(t, counts, 4)
	for k, c := range counts {
		assert.InDelta(t, 1000, c, 150, "key %s", k)
	}
}

type forgetfulRecorder struct{}

func (forgetfulRecorder) Lookup(string) (time.Time, bool) { return time.Time{}, false }

func (forgetfulRecorder) Record(context.Context, string, time.Time) error { return nil }

func TestSelectorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: now}
	rec := newMemRecorder()
	sl := New(seeded(5), WithClock(clock.Now), WithMetrics(m))
	pool := candidates.Pool{{ID: "a"}}

	_, err := sl.SelectFresh(context.Background(), pool, rec, objectPath, time.Hour)
	require.NoError(t, err)

	_, err = sl.SelectFresh(context.Background(), pool, rec, objectPath, time.Hour)
	require.Error(t, err)

	clock.Advance(2 * time.Hour)
	_, err = sl.SelectFresh(context.Background(), pool, rec, objectPath, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Selections.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Selections.WithLabelValues("reused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Selections.WithLabelValues("exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections))
}
