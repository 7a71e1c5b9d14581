// Package collaborators defines the interfaces the orchestrator drives but
// does not implement: web search, page scraping, the recipe storage sink,
// credential acquisition, and the LLM text-completion call used inside
// scraping. All five are explicitly out of scope; this package is the
// seam, plus thin HTTP-backed defaults usable for manual end-to-end checks.
package collaborators

import (
	"context"
	"time"

	"github.com/pantryworks/reciperecon/internal/envelope"
)

// SearchMetric is one measurement emitted by a WebSearch call.
type SearchMetric struct {
	EventType string
	Duration  time.Duration
}

// WebSearch resolves a query to candidate URLs.
type WebSearch interface {
	Search(ctx context.Context, query string, excludedDomains []string, n int) ([]string, []SearchMetric, error)
}

// ScrapedRecipe is the internal shape a ScrapeStep produces; it is mapped to
// envelope.RecipeSinkPayload before being handed to RecipeSink.
type ScrapedRecipe struct {
	Title             string
	Instructions      string
	PrepTime          int
	CookTime          int
	TotalTime         int
	Servings          int
	SourceURL         string
	Notes             *string
	RecipeIngredients []envelope.RecipeIngredient
}

// ScrapeMetric is one measurement emitted by a single scrape attempt.
type ScrapeMetric struct {
	EventType string
	URL       string
	Duration  time.Duration
}

// ScrapeStep fetches and extracts one recipe from a URL. A nil recipe with a
// nil error means "nothing extractable at this URL"; it is not itself a
// failure.
type ScrapeStep interface {
	Scrape(ctx context.Context, url string) (*ScrapedRecipe, []ScrapeMetric, error)
}

// RecipeSink persists one recipe downstream and returns its assigned id.
type RecipeSink interface {
	Create(ctx context.Context, recipe envelope.RecipeSinkPayload) (string, error)
}

// Credentials resolves an auth token for outbound calls to RecipeSink and
// WebSearch. Token refresh/caching internals are out of scope; this
// interface only states the contract those internals must satisfy.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// TextCompletionProvider is the LLM call used inside scraping to turn raw
// page text into structured fields. Out of scope beyond this seam.
type TextCompletionProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
