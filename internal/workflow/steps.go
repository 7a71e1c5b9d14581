package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/pantryworks/reciperecon/internal/collaborators"
	"github.com/pantryworks/reciperecon/internal/core/resilience"
)

// scrapeResult pairs one URL's outcome with its position so the caller can
// restore input order after a concurrent fan-out.
type scrapeResult struct {
	index   int
	recipe  *collaborators.ScrapedRecipe
	metrics []collaborators.ScrapeMetric
}

// defaultScrapeConcurrencyCap is the recommended concurrency cap; a
// concurrency of 0 or negative on the call means "no cap" (one goroutine per
// URL).
const defaultScrapeConcurrencyCap = 8

// fanOutScrape issues a ScrapeStep call per URL. Launch rate is smoothed by
// a token-bucket rate limiter (resilience.RateLimiter) so a sudden batch of
// URLs doesn't slam the scrape collaborator all at once; simultaneous
// in-flight calls are separately bounded at cap by a semaphore, since the
// limiter's tokens refill on a clock rather than on scrape completion and
// so cannot alone guarantee the in-flight count stays at or below cap when
// scrapes are slow. The returned slice has exactly one entry per input
// URL, in input order; a per-URL error becomes a nil recipe plus a failure
// metric rather than aborting the whole step.
func fanOutScrape(ctx context.Context, urls []string, step collaborators.ScrapeStep, cap int) []scrapeResult {
	if cap <= 0 || cap > len(urls) {
		cap = len(urls)
	}
	if cap == 0 {
		return nil
	}

	results := make([]scrapeResult, len(urls))
	rl := resilience.NewRateLimiter(int64(cap), float64(cap), time.Second, 0)
	sem := make(chan struct{}, cap)
	var wg sync.WaitGroup

urlLoop:
	for idx, url := range urls {
		for !rl.Allow() {
			select {
			case <-ctx.Done():
				results[idx] = scrapeResult{index: idx}
				continue urlLoop
			case <-time.After(2 * time.Millisecond):
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[idx] = scrapeResult{index: idx}
			continue urlLoop
		}

		wg.Add(1)
		go func(idx int, url string) {
			defer wg.Done()
			defer func() { <-sem }()

			recipe, metrics, err := step.Scrape(ctx, url)
			if err != nil {
				metrics = append(metrics, collaborators.ScrapeMetric{
					EventType: "recipe.scrape_failed",
					URL:       url,
				})
				recipe = nil
			}
			results[idx] = scrapeResult{index: idx, recipe: recipe, metrics: metrics}
		}(idx, url)
	}

	wg.Wait()
	return results
}

// durationPtr is a small helper so call sites can pass &d inline.
func durationPtr(d time.Duration) *time.Duration { return &d }
