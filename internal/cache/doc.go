// Package cache provides the injected cache layer shared by every pipeline
// run. It keeps three bounded LRU tiers, one per entry kind:
//
//   - embeddings, which never expire because a model always embeds the same
//     text to the same vector;
//   - completion responses, which expire after a provider-defined TTL;
//   - provider model lists, which expire after a fixed TTL (five minutes by
//     default).
//
// Expired entries are evicted lazily when read. Concurrent loads of the same
// key are collapsed into a single call. An optional remote store (Redis) can
// sit behind the in-process tiers so that several processes share results.
package cache
