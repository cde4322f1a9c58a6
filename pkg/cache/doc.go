// Package cache provides Redis-backed caching of immutable Bauplan API
// responses.
//
// Only reads addressed through a ref pinned to a commit hash are cached
// (GET /catalog/v0/refs/main@abc123/...): a pinned ref names catalog content
// that can never change, so a cached copy stays correct. Reads through a bare
// branch name always go to the API. Use Cacheable to make that decision.
//
// Entries are scoped by a hash of the API key (ScopeFor) so callers with
// different credentials never share results.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		Endpoint:    "/catalog/v0/refs/main@abc123/tables",
//		QueryParams: url.Values{"filter_by_namespace": []string{"raw"}},
//		Scope:       cache.ScopeFor(apiKey),
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API
//	}
//
// # Freshness
//
// ResponseToEntry derives the expiry from Cache-Control max-age, then
// Expires, then the caller's TTL. "no-store" and "no-cache" produce an entry
// that is never stored. Entries carrying an ETag or Last-Modified stay in
// Redis for StaleGrace after they expire so they can be revalidated:
//
//	if entry, err := manager.Lookup(ctx, key); err == nil && entry.IsExpired() {
//		cache.AddConditionalHeaders(req, entry) // API answers 304 if unchanged
//	}
//
// # Metrics
//
//   - bauplan_cache_hits_total{layer="redis"}
//   - bauplan_cache_misses_total
//   - bauplan_cache_size_bytes{layer="redis"}
//   - bauplan_cache_conditional_requests_total
//   - bauplan_cache_not_modified_total
//   - bauplan_cache_errors_total{operation}
package cache
