package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileIsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queryhistory.json")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())

	_, ok := s.Lookup("/object/islandora:1")
	assert.False(t, ok)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "open should not create the file")
}

func TestOpenEmptyFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queryhistory.json")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o644))

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestOpenCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{"a": "2024-01-01 00:00:00.000000"`},
		{"not an object", `["a"]`},
		{"json null", `null`},
		{"null timestamp", `{"a": null}`},
		{"number timestamp", `{"a": 12345}`},
		{"bad timestamp", `{"a": "yesterday"}`},
		{"iso timestamp", `{"a": "2024-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "queryhistory.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := Open(context.Background(), path)
			require.Error(t, err)

			var cerr *CorruptError
			assert.True(t, errors.As(err, &cerr), "expected CorruptError, got %T", err)

			b, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(b), "corrupt file must not be overwritten")
		})
	}
}

func TestUnmarshalLegacyTimestamps(t *testing.T) {
	content := `{
    "/object/islandora:7381": "2019-11-04 13:52:18.519212",
    "/object/islandora:9": "2019-11-04 13:52:19"
}`
	state, err := Unmarshal([]byte(content), time.UTC)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2019, 11, 4, 13, 52, 18, 519212000, time.UTC), state["/object/islandora:7381"])
	assert.Equal(t, time.Date(2019, 11, 4, 13, 52, 19, 0, time.UTC), state["/object/islandora:9"])
}

func TestMarshalFormat(t *testing.T) {
	state := map[string]time.Time{
		"b": time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		"a": time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC),
	}
	b, err := Marshal(state, time.UTC)
	require.NoError(t, err)

	want := "{\n" +
		"    \"a\": \"2024-05-06 07:08:09.123456\",\n" +
		"    \"b\": \"2024-05-06 07:08:09.000000\"\n" +
		"}\n"
	assert.Equal(t, want, string(b))

	_, err = Marshal(map[string]time.Time{"zero": {}}, time.UTC)
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	base := time.Date(2023, 12, 31, 23, 59, 59, 999999000, time.UTC)
	state := map[string]time.Time{
		"https://compass.fivecolleges.edu/islandora/object/islandora:1": base,
		"/object/islandora:2": base.Add(-36 * time.Hour),
		"/object/islandora:3": base.Add(1 * time.Microsecond),
		"":                    base.Add(-time.Second),
	}

	b, err := Marshal(state, time.UTC)
	require.NoError(t, err)

	got, err := Unmarshal(b, time.UTC)
	require.NoError(t, err)

	require.Len(t, got, len(state))
	for k, ts := range state {
		assert.True(t, ts.Equal(got[k]), "key %q: want %s got %s", k, ts, got[k])
	}
}

func TestRecordPersistsBeforeReturning(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queryhistory.json")

	s, err := Open(ctx, path, WithLocation(time.UTC))
	require.NoError(t, err)

	now := time.Date(2024, 2, 29, 10, 0, 0, 123456789, time.UTC)
	require.NoError(t, s.Record(ctx, "/object/a", now))

	ts, ok := s.Lookup("/object/a")
	require.True(t, ok)
	assert.Equal(t, now.Truncate(time.Microsecond), ts)

	reloaded, err := Open(ctx, path, WithLocation(time.UTC))
	require.NoError(t, err)

	rts, ok := reloaded.Lookup("/object/a")
	require.True(t, ok, "reloaded history should contain the key")
	assert.True(t, rts.Equal(ts))
	assert.False(t, rts.After(now))

	// overwriting an existing key
	later := now.Add(25 * time.Hour)
	require.NoError(t, s.Record(ctx, "/object/a", later))
	reloaded, err = Open(ctx, path, WithLocation(time.UTC))
	require.NoError(t, err)
	rts, _ = reloaded.Lookup("/object/a")
	assert.True(t, rts.Equal(later.Truncate(time.Microsecond)))
}

func TestRecordPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	path := filepath.Join(sub, "queryhistory.json")

	s, err := Open(ctx, path, WithLocation(time.UTC))
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(ctx, "kept", now))

	// make the directory unusable
	require.NoError(t, os.RemoveAll(sub))
	require.NoError(t, os.WriteFile(sub, []byte("not a directory"), 0o644))

	err = s.Record(ctx, "new", now.Add(time.Hour))
	require.Error(t, err)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr), "expected PersistenceError, got %T", err)
	assert.Equal(t, "new", perr.Key)

	_, ok := s.Lookup("new")
	assert.False(t, ok, "failed record must be rolled back")

	err = s.Record(ctx, "kept", now.Add(time.Hour))
	require.Error(t, err)
	ts, _ := s.Lookup("kept")
	assert.Equal(t, now, ts, "failed overwrite must restore previous timestamp")
}

func TestWithoutPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queryhistory.json")

	s, err := Open(ctx, path, WithoutPersistence())
	require.NoError(t, err)

	require.NoError(t, s.Record(ctx, "dry", time.Now()))
	_, ok := s.Lookup("dry")
	assert.True(t, ok)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "dry run must not write the history")
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queryhistory.json")

	s1, err := Open(ctx, path, WithLock())
	require.NoError(t, err)

	_, err = Open(ctx, path, WithLock())
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path, WithLock())
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queryhistory.json")
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	s, err := Open(ctx, path, WithLocation(time.UTC))
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, "old", now.Add(-48*time.Hour)))
	require.NoError(t, s.Record(ctx, "boundary", now.Add(-24*time.Hour)))
	require.NoError(t, s.Record(ctx, "new", now.Add(-time.Hour)))

	removed, err := s.Prune(ctx, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"boundary", "new"}, s.Keys())

	reloaded, err := Open(ctx, path, WithLocation(time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"boundary", "new"}, reloaded.Keys())

	removed, err = s.Prune(ctx, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestDefaultLocationRoundTripsAcrossDST(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queryhistory.json")

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// both 01:30 local times on the night clocks fall back
	first := time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC).In(ny)
	second := time.Date(2024, 11, 3, 6, 30, 0, 0, time.UTC).In(ny)
	require.Equal(t, first.Format(TimeLayout), second.Format(TimeLayout))

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, "/object/a:1", first))
	require.NoError(t, s.Record(ctx, "/object/a:2", second))

	reloaded, err := Open(ctx, path)
	require.NoError(t, err)

	got, ok := reloaded.Lookup("/object/a:1")
	require.True(t, ok)
	assert.True(t, got.Equal(first), "got %s want %s", got, first)

	got, ok = reloaded.Lookup("/object/a:2")
	require.True(t, ok)
	assert.True(t, got.Equal(second), "got %s want %s", got, second)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"2024-11-03 06:30:00.000000"`)
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name string
		want *time.Location
	}{
		{"", time.UTC},
		{"UTC", time.UTC},
		{"Local", time.Local},
	}
	for _, tt := range tests {
		loc, err := ParseLocation(tt.name)
		require.NoError(t, err)
		assert.Equal(t, tt.want, loc, tt.name)
	}

	loc, err := ParseLocation("Europe/Oslo")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Oslo", loc.String())

	_, err = ParseLocation("Not/AZone")
	assert.Error(t, err)
}

func TestLockCreatesDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "queryhistory.json")

	s, err := Open(ctx, path, WithLock())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(ctx, "/object/a:1", time.Now()))
	assert.FileExists(t, path)
	assert.FileExists(t, path+".lock")
}

func TestMarshalKeepsURLsReadable(t *testing.T) {
	state := map[string]time.Time{
		"https://example.org/select?q=a&rows=1<2>": time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
	}
	b, err := Marshal(state, time.UTC)
	require.NoError(t, err)

	assert.Contains(t, string(b), `"https://example.org/select?q=a&rows=1<2>"`)
	assert.False(t, strings.Contains(string(b), `\u0026`))

	got, err := Unmarshal(b, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, state, got)
}
