package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"missioncore/internal/domain/events"
)

const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// SearchTool implements web search via Brave API
type SearchTool struct {
	apiKey     string
	httpClient *http.Client
}

// NewSearchTool creates a new Brave search tool
func NewSearchTool(apiKey string) *SearchTool {
	return &SearchTool{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *SearchTool) Name() string {
	return "search"
}

func (t *SearchTool) Description() string {
	return `Search the web using Brave Search API. Args: {"query": "search terms", "count": 10}`
}

// BraveSearchResponse represents the API response
type BraveSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// WebSearchParams carries the optional filters intelligent_web_search
// derives from a natural-language query: date range, domain include/
// exclude lists, and result depth.
type WebSearchParams struct {
	Query          string
	MaxResults     int
	FromDate       string
	ToDate         string
	IncludeDomains []string
	ExcludeDomains []string
	Depth          string // standard | advanced
}

// SearchStructured runs the search and returns structured hits for
// callers that need provenance rather than a formatted block of text.
// Brave's API has no date-range/domain-filter parameters in the free
// tier, so IncludeDomains/ExcludeDomains are applied as post-filters over
// the raw result set. FromDate, ToDate and Depth are not applied: results
// are not restricted by date.
func (t *SearchTool) SearchStructured(ctx context.Context, p WebSearchParams) ([]events.Source, error) {
	if p.Query == "" {
		return nil, fmt.Errorf("search requires a query")
	}
	count := p.MaxResults
	if count <= 0 {
		count = 10
	}

	params := url.Values{}
	params.Set("q", p.Query)
	params.Set("count", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, "GET", braveSearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search API error %d: %s", resp.StatusCode, string(body))
	}

	var searchResp BraveSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	sources := make([]events.Source, 0, len(searchResp.Web.Results))
	for _, r := range searchResp.Web.Results {
		if domainExcluded(r.URL, p.ExcludeDomains) {
			continue
		}
		if len(p.IncludeDomains) > 0 && !domainIncluded(r.URL, p.IncludeDomains) {
			continue
		}
		sources = append(sources, events.Source{URL: r.URL, Title: r.Title, TextPreview: r.Description})
	}
	return sources, nil
}

func domainExcluded(rawURL string, excluded []string) bool {
	for _, d := range excluded {
		if strings.Contains(rawURL, d) {
			return true
		}
	}
	return false
}

func domainIncluded(rawURL string, included []string) bool {
	for _, d := range included {
		if strings.Contains(rawURL, d) {
			return true
		}
	}
	return false
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", fmt.Errorf("search requires a 'query' argument")
	}

	count := 10
	if c, ok := args["count"].(float64); ok {
		count = int(c)
	}

	sources, err := t.SearchStructured(ctx, WebSearchParams{Query: query, MaxResults: count})
	if err != nil {
		return "", err
	}

	var results []string
	for i, r := range sources {
		results = append(results, fmt.Sprintf("%d. %s\n   URL: %s\n   %s\n",
			i+1, r.Title, r.URL, r.TextPreview))
	}

	if len(results) == 0 {
		return "No results found.", nil
	}

	return strings.Join(results, "\n"), nil
}
