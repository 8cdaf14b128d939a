// Package cache provides a capacity-bounded LRU cache with per-entry TTL
// and timeout-guarded population, used to front expensive historical
// fetches.
//
// Eviction is strictly LRU by recency with a hard capacity ceiling,
// independent of TTL: an entry can be evicted for space before it expires,
// or found stale-but-present after its TTL lapses. Staleness is evaluated
// lazily on read; there is no background sweep. Concurrent loads for the
// same key are collapsed into a single in-flight loader invocation.
package cache
