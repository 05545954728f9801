// Package history keeps track of when each resource was last selected so
// that probes don't hit the same (possibly cached) resource too soon.
//
// The state is a JSON object mapping resource keys to timestamps in the
// format "2006-01-02 15:04:05.000000", in UTC unless another zone is
// configured. It is written in full, atomically,
// every time a selection is recorded.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gofrs/flock"
	"go.ntppool.org/common/logger"

	"github.com/fivecolleges/compassprobe/persist"
)

// TimeLayout is the on-disk timestamp format.
const TimeLayout = "2006-01-02 15:04:05.000000"

// parseLayout accepts TimeLayout and timestamps written without the
// fractional part.
const parseLayout = "2006-01-02 15:04:05"

// ParseLocation parses a time zone name for WithLocation; "Local" is the
// system zone.
func ParseLocation(name string) (*time.Location, error) {
	switch name {
	case "", "UTC":
		return time.UTC, nil
	case "Local", "local":
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// ErrLocked is returned by Open when another process holds the history
// lock.
var ErrLocked = errors.New("history file is locked by another process")

// CorruptError means the history file exists but can't be parsed. The
// file is left untouched.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("history file %q is corrupt: %s", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// PersistenceError means the history could not be written to stable
// storage; freshness can't be guaranteed after this.
type PersistenceError struct {
	Path string
	Key  string
	Err  error
}

func (e *PersistenceError) Error() string {
	if len(e.Key) > 0 {
		return fmt.Sprintf("could not persist history %q (recording %q): %s", e.Path, e.Key, e.Err)
	}
	return fmt.Sprintf("could not persist history %q: %s", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store is the selection history for one run. It is not safe for
// concurrent use; a run owns its Store.
type Store struct {
	path    string
	state   map[string]time.Time
	persist bool
	useLock bool
	lock    *flock.Flock
	loc     *time.Location
}

type Option func(*Store)

// WithoutPersistence records selections in memory only (dry runs).
func WithoutPersistence() Option {
	return func(s *Store) {
		s.persist = false
	}
}

// WithLock takes an advisory lock on "<path>.lock" for the lifetime of
// the Store.
func WithLock() Option {
	return func(s *Store) {
		s.useLock = true
	}
}

// WithLocation sets the time zone timestamps are read and written in.
// The file has no zone offsets, so a zone with DST can't represent the
// repeated hour; the default is UTC. Use time.Local for files written by
// older tools in local time.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		s.loc = loc
	}
}

// Open loads the history from path. A missing or empty file is a cold
// start, not an error.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	log := logger.FromContext(ctx)

	s := &Store{
		path:    path,
		state:   map[string]time.Time{},
		persist: true,
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.useLock && s.persist {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history lock: %w", err)
		}
		s.lock = flock.New(path + ".lock")
		ok, err := s.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("history lock: %w", err)
		}
		if !ok {
			return nil, ErrLocked
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.InfoContext(ctx, "no query history file, starting a fresh history", "path", path)
			return s, nil
		}
		s.Close()
		return nil, &CorruptError{Path: path, Err: err}
	}

	state, err := Unmarshal(b, s.loc)
	if err != nil {
		s.Close()
		return nil, &CorruptError{Path: path, Err: err}
	}
	s.state = state

	log.DebugContext(ctx, "loaded query history", "path", path, "entries", len(state))

	return s, nil
}

// Close releases the history lock, if any.
func (s *Store) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Lookup returns when key was last selected.
func (s *Store) Lookup(key string) (time.Time, bool) {
	ts, ok := s.state[key]
	return ts, ok
}

// Len is the number of recorded keys.
func (s *Store) Len() int {
	return len(s.state)
}

// Keys returns the recorded keys in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.state))
	for k := range s.state {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() map[string]time.Time {
	m := make(map[string]time.Time, len(s.state))
	for k, v := range s.state {
		m[k] = v
	}
	return m
}

// Record sets key to now and writes the whole history to disk before
// returning. If the write fails the in-memory state is restored and a
// *PersistenceError is returned.
func (s *Store) Record(ctx context.Context, key string, now time.Time) error {
	now = now.In(s.loc).Truncate(time.Microsecond)

	prev, hadPrev := s.state[key]
	s.state[key] = now

	if err := s.save(); err != nil {
		if hadPrev {
			s.state[key] = prev
		} else {
			delete(s.state, key)
		}
		return &PersistenceError{Path: s.path, Key: key, Err: err}
	}

	logger.FromContext(ctx).DebugContext(ctx, "recorded selection", "key", key, "ts", now.Format(TimeLayout))

	return nil
}

// Prune removes entries last selected more than olderThan before now and
// returns how many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	prev := s.Snapshot()

	removed := 0
	for k, ts := range s.state {
		if now.Sub(ts) > olderThan {
			delete(s.state, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.save(); err != nil {
		s.state = prev
		return 0, &PersistenceError{Path: s.path, Err: err}
	}

	logger.FromContext(ctx).InfoContext(ctx, "pruned history", "removed", removed, "remaining", len(s.state))

	return removed, nil
}

func (s *Store) save() error {
	if !s.persist {
		return nil
	}
	b, err := Marshal(s.state, s.loc)
	if err != nil {
		return err
	}
	return persist.ReplaceFile(s.path, b, 0o644)
}

// Marshal encodes a history as an indented JSON object with sorted keys.
func Marshal(state map[string]time.Time, loc *time.Location) ([]byte, error) {
	m := make(map[string]string, len(state))
	for k, ts := range state {
		if ts.IsZero() {
			return nil, fmt.Errorf("zero timestamp for %q", k)
		}
		m[k] = ts.In(loc).Format(TimeLayout)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a history file. Empty input is an empty history.
func Unmarshal(b []byte, loc *time.Location) (map[string]time.Time, error) {
	state := map[string]time.Time{}

	if len(bytes.TrimSpace(b)) == 0 {
		return state, nil
	}

	var m map[string]*string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("not a JSON object")
	}

	for k, v := range m {
		if v == nil {
			return nil, fmt.Errorf("null timestamp for %q", k)
		}
		ts, err := time.ParseInLocation(parseLayout, *v, loc)
		if err != nil {
			return nil, fmt.Errorf("timestamp for %q: %w", k, err)
		}
		state[k] = ts.Truncate(time.Microsecond)
	}

	return state, nil
}
