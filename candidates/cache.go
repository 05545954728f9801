package candidates

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"go.ntppool.org/common/logger"

	"github.com/fivecolleges/compassprobe/persist"
)

// DefaultCacheMaxAge is how long a fetched candidate list is reused.
const DefaultCacheMaxAge = 30 * 24 * time.Hour

// FetchFunc builds a new candidate list, typically from a Solr query.
type FetchFunc func(ctx context.Context) (Pool, error)

type cacheFile struct {
	DateStamp  time.Time `json:"dateStamp"`
	ObjectList Pool      `json:"objectList"`
}

// LoadCached returns the list cached in path if it is younger than
// maxAge, otherwise it calls fetch and replaces the cache.
func LoadCached(ctx context.Context, path string, maxAge time.Duration, now time.Time, fetch FetchFunc) (Pool, error) {
	log := logger.FromContext(ctx).With("cache", path)

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		cache := cacheFile{}
		if err := json.Unmarshal(b, &cache); err != nil {
			log.WarnContext(ctx, "could not parse candidate cache, refreshing", "err", err)
			break
		}
		age := now.Sub(cache.DateStamp)
		log.DebugContext(ctx, "candidate cache", "timestamp", cache.DateStamp, "age", age, "max_age", maxAge)
		if age <= maxAge && len(cache.ObjectList) > 0 {
			log.DebugContext(ctx, "using cached list", "count", len(cache.ObjectList))
			return cache.ObjectList, nil
		}
		log.DebugContext(ctx, "cache too old, getting a fresh list")
	case errors.Is(err, os.ErrNotExist):
		log.DebugContext(ctx, "no cache file, getting a fresh list")
	default:
		return nil, &MalformedSourceError{Source: path, Reason: "could not read cache", Err: err}
	}

	pool, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, &MalformedSourceError{Source: path, Reason: "fetched list is empty"}
	}

	b, err = json.MarshalIndent(cacheFile{DateStamp: now, ObjectList: pool}, "", "    ")
	if err != nil {
		return nil, err
	}
	if err := persist.ReplaceFile(path, b, 0o644); err != nil {
		// the list is still usable for this run
		log.WarnContext(ctx, "could not write candidate cache", "err", err)
	}

	return pool, nil
}
