// Package pagination provides parallel batch fetching for offset-paginated
// Semantic Scholar endpoints.
package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel page fetches.
	// The client's rate limiter still serializes the actual network
	// calls, so workers beyond the sustained rate simply queue.
	MaxConcurrency int
	// PageSize is the number of records requested per page
	PageSize int
	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultConfig returns safe default configuration for the public
// Semantic Scholar rate limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		PageSize:       100,
		Timeout:        15 * time.Second,
	}
}

// PageFetcher fetches a single page of an offset-paginated result set.
// The client's search and listing operations satisfy this via small
// adapter funcs.
type PageFetcher interface {
	// FetchPage fetches PageSize records starting at offset and returns
	// the raw page data plus the total record count of the result set.
	FetchPage(ctx context.Context, offset, limit int) (data []byte, total int, err error)
}

// PageFetcherFunc adapts a plain function to the PageFetcher interface.
type PageFetcherFunc func(ctx context.Context, offset, limit int) ([]byte, int, error)

// FetchPage implements PageFetcher.
func (f PageFetcherFunc) FetchPage(ctx context.Context, offset, limit int) ([]byte, int, error) {
	return f(ctx, offset, limit)
}

// PageResult represents the result of fetching a single page
type PageResult struct {
	Offset int
	Data   []byte
	Error  error
}

// BatchFetcher handles parallel fetching of all pages of a result set
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	def := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAll fetches every page of the result set in parallel using a worker
// pool. It returns a map of offset -> page data for the pages that
// succeeded, ordered reassembly being the caller's concern.
func (bf *BatchFetcher) FetchAll(ctx context.Context) (map[int][]byte, error) {
	start := time.Now()

	// The first page establishes the total record count.
	firstPage, total, err := bf.fetcher.FetchPage(ctx, 0, bf.config.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	totalPages := (total + bf.config.PageSize - 1) / bf.config.PageSize
	log.Info().
		Int("total_records", total).
		Int("total_pages", totalPages).
		Int("page_size", bf.config.PageSize).
		Msg("Starting parallel page fetch")

	results := map[int][]byte{0: firstPage}
	if totalPages <= 1 {
		log.Info().
			Int("pages", 1).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return results, nil
	}

	var resultsMutex sync.Mutex

	offsetQueue := make(chan int, totalPages)
	pageResults := make(chan PageResult, totalPages)
	errors := make(chan error, bf.config.MaxConcurrency)

	go func() {
		for offset := bf.config.PageSize; offset < total; offset += bf.config.PageSize {
			offsetQueue <- offset
		}
		close(offsetQueue)
	}()

	var wg sync.WaitGroup
	for i := 0; i < bf.config.MaxConcurrency; i++ {
		wg.Add(1)
		go bf.worker(ctx, offsetQueue, pageResults, errors, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
		close(errors)
	}()

	fetchedPages := 1
	for result := range pageResults {
		if result.Error != nil {
			log.Warn().
				Err(result.Error).
				Int("offset", result.Offset).
				Msg("Page fetch failed")
			continue
		}

		resultsMutex.Lock()
		results[result.Offset] = result.Data
		fetchedPages++
		resultsMutex.Unlock()

		if fetchedPages%50 == 0 {
			log.Info().
				Int("fetched", fetchedPages).
				Int("total", totalPages).
				Msg("Fetch progress")
		}
	}

	select {
	case err := <-errors:
		if err != nil {
			log.Warn().
				Err(err).
				Int("fetched_pages", fetchedPages).
				Int("total_pages", totalPages).
				Msg("Worker error - returning partial results")
			return results, fmt.Errorf("worker error (partial data: %d/%d pages): %w", fetchedPages, totalPages, err)
		}
	default:
	}

	log.Info().
		Int("pages", fetchedPages).
		Int("total", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

// worker processes offsets from the queue
func (bf *BatchFetcher) worker(ctx context.Context, offsetQueue <-chan int, results chan<- PageResult, errors chan<- error, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for offset := range offsetQueue {
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		data, _, err := bf.fetcher.FetchPage(pageCtx, offset, bf.config.PageSize)
		cancel()

		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("offset", offset).
				Msg("Page fetch failed")

			// Non-blocking error send
			select {
			case errors <- err:
			default:
			}
			return
		}

		select {
		case results <- PageResult{Offset: offset, Data: data}:
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled after fetch)")
			return
		}

		pagesProcessed++
	}

	if pagesProcessed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}
