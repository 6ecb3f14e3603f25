// Package cache provides response caching for the Semantic Scholar client.
//
// Cached values are opaque JSON payloads addressed by a deterministic key
// derived from the logical operation name and its canonicalized parameters.
// Two identical logical requests always map to the same key, regardless of
// the order in which parameters were supplied.
//
// Two Store implementations are provided:
//
//   - MemoryStore: a bounded in-process store with per-entry TTL and LRU
//     eviction. This is the default. Entries are never returned past their
//     TTL, the store never exceeds its configured capacity, and insertion
//     past capacity evicts the least recently used entry.
//
//   - RedisStore: the same contract backed by Redis with server-side TTL,
//     for deployments that already run Redis and want a shared response
//     cache. Backend errors degrade to cache misses and never fail a call.
//
// Expiry is checked lazily on access; no background timers are spawned.
package cache
