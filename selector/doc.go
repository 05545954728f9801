// Package selector picks the next resource to probe.
//
// Probing the same object page or datastream twice in a short time mostly
// measures the caches in front of the repository. The selector draws
// candidates at random and only hands out a resource whose key hasn't been
// selected within a minimum interval (max age).
//
// # Selection
//
// For each call to [Selector.SelectFresh]:
//   - a candidate is drawn uniformly at random from the ones not yet tried
//     in this call
//   - its resource key is built with the caller's [KeyBuilder]
//   - the key is fresh if it is not in the history, or if it was last
//     selected strictly more than max age ago
//   - a fresh key is recorded in the history (and persisted) before it is
//     returned; a key that is too young is discarded and another candidate
//     is drawn
//
// Both fresh branches record the selection, so a reused (aged-out) key
// gets a new timestamp just like a new one.
//
// # Exhaustion
//
// Every candidate is tried at most once per call and the number of draws is
// capped (see [WithMaxAttempts]). When no fresh candidate is found a
// [PoolExhaustedError] is returned.
//
// # Usage
//
//	sel := selector.New(selector.WithLogger(log))
//	s, err := sel.SelectFresh(ctx, pool, store, env.ObjectURL, 24*time.Hour)
//	if err != nil {
//	    return err
//	}
//	probe(s.Key)
package selector
