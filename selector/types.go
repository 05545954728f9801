package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/fivecolleges/compassprobe/candidates"
)

// KeyBuilder derives the history key (usually the request URL or path)
// from a candidate ID.
type KeyBuilder func(id string) string

// Recorder is the history the selector checks and updates.
type Recorder interface {
	Lookup(key string) (time.Time, bool)
	Record(ctx context.Context, key string, now time.Time) error
}

// Selection is a fresh resource, already recorded in the history.
type Selection struct {
	Key   string
	Entry candidates.Entry
	// Attempts is the number of candidates drawn, including the selected one
	Attempts int
	// LastSeen is when the key was previously selected (zero if never)
	LastSeen time.Time
}

// Reused is true when the key had been selected before and aged out.
func (s Selection) Reused() bool {
	return !s.LastSeen.IsZero()
}

// PoolExhaustedError is returned when no fresh candidate was found within
// the attempt budget.
type PoolExhaustedError struct {
	PoolSize int
	Attempts int
	MaxAge   time.Duration
	// Err is set when the search was cut short by the context
	Err error
}

func (e *PoolExhaustedError) Error() string {
	msg := fmt.Sprintf("no fresh candidate after %d attempts (pool size %d, max age %s)",
		e.Attempts, e.PoolSize, e.MaxAge)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PoolExhaustedError) Unwrap() error {
	return e.Err
}
