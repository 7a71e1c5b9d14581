package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pantryworks/reciperecon/internal/envelope"
)

// defaultHTTPClient mirrors the connection-pooling posture used elsewhere in
// this codebase for outbound calls to external services, with a 10s
// per-request timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// HTTPRecipeSink is a thin default RecipeSink backed by a single JSON POST
// endpoint, usable for manual end-to-end checks against a real sink. Auth
// token acquisition is delegated to Credentials.
type HTTPRecipeSink struct {
	BaseURL     string
	Credentials Credentials
	client      *http.Client
}

func NewHTTPRecipeSink(baseURL string, creds Credentials) *HTTPRecipeSink {
	return &HTTPRecipeSink{BaseURL: baseURL, Credentials: creds, client: defaultHTTPClient()}
}

func (s *HTTPRecipeSink) Create(ctx context.Context, recipe envelope.RecipeSinkPayload) (string, error) {
	body, err := json.Marshal(recipe)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/recipes", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Credentials != nil {
		token, err := s.Credentials.Token(ctx)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("recipe sink: http %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("recipe sink: decode response: %w", err)
	}
	return decoded.ID, nil
}

// HTTPWebSearch is a thin default WebSearch backed by a single JSON GET
// endpoint returning {"urls": [...]}.
type HTTPWebSearch struct {
	BaseURL string
	client  *http.Client
}

func NewHTTPWebSearch(baseURL string) *HTTPWebSearch {
	return &HTTPWebSearch{BaseURL: baseURL, client: defaultHTTPClient()}
}

func (s *HTTPWebSearch) Search(ctx context.Context, query string, excludedDomains []string, n int) ([]string, []SearchMetric, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/search", nil)
	if err != nil {
		return nil, nil, err
	}
	q := req.URL.Query()
	q.Set("query", query)
	q.Set("n", fmt.Sprintf("%d", n))
	for _, domain := range excludedDomains {
		q.Add("excluded_domain", domain)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, []SearchMetric{{EventType: "recipe.search_failed", Duration: time.Since(start)}}, err
	}
	defer resp.Body.Close()

	var decoded struct {
		URLs []string `json:"urls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, []SearchMetric{{EventType: "recipe.search_failed", Duration: time.Since(start)}}, err
	}

	cleaned := make([]string, 0, len(decoded.URLs))
	for _, u := range decoded.URLs {
		if c := CleanURL(u); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	return cleaned, []SearchMetric{{EventType: "recipe.search_completed", Duration: time.Since(start)}}, nil
}

// HTTPScrapeStep is a thin default ScrapeStep backed by a single JSON POST
// endpoint; the LLM extraction call (TextCompletionProvider) lives entirely
// behind that endpoint and is out of scope here.
type HTTPScrapeStep struct {
	BaseURL string
	client  *http.Client
}

func NewHTTPScrapeStep(baseURL string) *HTTPScrapeStep {
	return &HTTPScrapeStep{BaseURL: baseURL, client: defaultHTTPClient()}
}

func (s *HTTPScrapeStep) Scrape(ctx context.Context, url string) (*ScrapedRecipe, []ScrapeMetric, error) {
	start := time.Now()
	cleaned := CleanURL(url)
	if cleaned == "" {
		return nil, []ScrapeMetric{{EventType: "recipe.scrape_failed", URL: url, Duration: time.Since(start)}}, fmt.Errorf("invalid url format: %s", url)
	}

	body, err := json.Marshal(map[string]string{"url": cleaned})
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, []ScrapeMetric{{EventType: "recipe.scrape_failed", URL: cleaned, Duration: time.Since(start)}}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, []ScrapeMetric{{EventType: "recipe.scrape_empty", URL: cleaned, Duration: time.Since(start)}}, nil
	}

	var recipe ScrapedRecipe
	if err := json.NewDecoder(resp.Body).Decode(&recipe); err != nil {
		return nil, []ScrapeMetric{{EventType: "recipe.scrape_failed", URL: cleaned, Duration: time.Since(start)}}, err
	}
	recipe.SourceURL = cleaned
	return &recipe, []ScrapeMetric{{EventType: "recipe.scrape_success", URL: cleaned, Duration: time.Since(start)}}, nil
}
