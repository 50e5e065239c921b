// Package cache keeps Apollo enrich responses in Redis.
//
// Apollo charges credits for every enrichment that reveals personal emails
// or phone numbers. The cache keeps successful enrich responses keyed by
// person ID and reveal flags, so repeated runs over overlapping search
// pages do not pay twice for the same person.
//
// # Usage
//
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	entry, err := manager.GetEnrichment(ctx, personID, params)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		resp, err := callEnrich(ctx, personID)
//		// ...
//		stored, err := manager.SetEnrichment(ctx, personID, params, resp)
//	}
//	resp := entry.Response(time.Now())
//
// SetEnrichment stores 200 responses only. Errors, 404s and 422s are never
// kept, so a retry on the next run reaches the API again.
//
// # Metrics
//
//   - apollo_cache_hits_total - Enrichments served from the cache
//   - apollo_cache_misses_total{reason} - absent, expired, invalid
//   - apollo_cache_stores_total{outcome} - stored, skipped
//   - apollo_cache_size_bytes - Bytes written to the cache
//   - apollo_cache_errors_total{operation} - Redis errors
package cache
