// Package pagination provides parallel batch fetching for offset-paginated
// Semantic Scholar result sets.
//
// The Graph API pages with offset/limit and reports the total record count
// in each response body. This package implements a worker pool pattern to
// fetch all pages of a result set while the client's rate limiter keeps the
// actual request rate within bounds.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	fetcher := pagination.NewBatchFetcher(pagination.PageFetcherFunc(fetchSearchPage), config)
//	results, err := fetcher.FetchAll(ctx)
//
// The batch fetcher:
//   - Fetches the first page to determine the total record count
//   - Spawns a worker pool (default 4 workers)
//   - Distributes the remaining offsets across workers
//   - Collects results with progress logging
//   - Handles errors gracefully (returns partial data)
package pagination
