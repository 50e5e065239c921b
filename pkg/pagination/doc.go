// Package pagination walks paginated search endpoints one page at a time.
//
// Apollo's people search has no reliable total page count for filtered
// queries, so pages are requested in order starting at page 1 until a page
// comes back empty, a page fails, or the configured page limit is reached.
//
// Example usage:
//
//	walker := pagination.NewWalker[client.PersonSummary](pagination.DefaultConfig())
//	stats, err := walker.Walk(ctx, fetchPage, func(r pagination.PageResult[client.PersonSummary]) error {
//		for _, p := range r.Items {
//			// enrich p
//		}
//		return nil
//	})
//
// The walker:
//   - Fetches strictly sequentially (page N+1 is requested after page N is visited)
//   - Classifies every page as items, empty or failed
//   - Visits every fetched page, including the one that stops the walk
//   - Records why the walk stopped in WalkStats
package pagination
