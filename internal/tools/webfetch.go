package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	busevents "missioncore/internal/events"
	"missioncore/internal/governor"
)

// FetchBackend extracts readable text from a URL. Two backends share the
// WebFetchTool's cache through a per-backend namespace prefix: the
// native golang.org/x/net/html extractor below, and optionally a remote
// reader API implementing the same interface.
type FetchBackend interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
	// Namespace prefixes cache keys so two backends never serve each
	// other's extraction format from the shared cache directory.
	Namespace() string
}

// FetchResult is the extracted page content plus whatever metadata the
// backend could recover.
type FetchResult struct {
	URL       string            `json:"url"`
	Title     string            `json:"title,omitempty"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// NativeFetchBackend fetches a page and extracts its readable text
// in-process. It recovers the page title for web citations and skips
// page chrome (scripts, styles, navigation, headers/footers) so note
// synthesis sees article text rather than boilerplate.
type NativeFetchBackend struct {
	client  *http.Client
	maxText int
}

// NewNativeFetchBackend creates the in-process extraction backend.
func NewNativeFetchBackend() *NativeFetchBackend {
	return &NativeFetchBackend{
		client:  &http.Client{Timeout: 30 * time.Second},
		maxText: 250000,
	}
}

func (b *NativeFetchBackend) Namespace() string { return "native" }

func (b *NativeFetchBackend) Fetch(ctx context.Context, url string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; MissionCoreBot/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := b.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("fetch error %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("read body: %w", err)
	}

	title, text := extractReadable(string(body))
	if len(text) > b.maxText {
		text = text[:b.maxText]
	}
	return FetchResult{
		URL: url, Title: title, Text: text, FetchedAt: time.Now(),
		Metadata: map[string]string{
			"content_type": resp.Header.Get("Content-Type"),
			"final_url":    resp.Request.URL.String(),
		},
	}, nil
}

// skippedElements are tags whose subtree never contributes article
// text. Navigation and footer chrome pollute notes with menu labels,
// so they are dropped along with code.
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"nav": true, "header": true, "footer": true, "aside": true,
}

// extractReadable parses HTML and returns the page title plus the
// visible text outside skipped elements, whitespace-collapsed.
func extractReadable(htmlContent string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		stripped := regexp.MustCompile(`<[^>]*>`).ReplaceAllString(htmlContent, " ")
		return "", collapseWhitespace(stripped)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "title" && title == "" && n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			if skippedElements[n.Data] {
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, collapseWhitespace(b.String())
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// WebFetchTool is the cached, semaphore-gated web_fetch tool. Fetches go
// through a FetchBackend; results are cached on disk for a TTL
// (default 24h) keyed by a hash of the URL under the backend's
// namespace, and concurrent fetches are capped by the web-fetch limiter.
type WebFetchTool struct {
	backend FetchBackend
	limiter *governor.ToolLimiter
	bus     *busevents.Bus

	cacheDir string
	ttl      time.Duration

	// cacheMu serializes cache writes; reads go straight to disk.
	cacheMu sync.Mutex

	now func() time.Time
}

// NewWebFetchTool creates the cached fetch tool. bus may be nil when no
// realtime delivery is wired (tests). ttl <= 0 selects the 24h default.
func NewWebFetchTool(backend FetchBackend, limiter *governor.ToolLimiter, bus *busevents.Bus, cacheDir string, ttl time.Duration) *WebFetchTool {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_ = os.MkdirAll(cacheDir, 0755)
	return &WebFetchTool{
		backend:  backend,
		limiter:  limiter,
		bus:      bus,
		cacheDir: cacheDir,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return `Fetch and extract the text content of a web page, with a 24h disk cache. Args: {"url": "https://..."}`
}

func (t *WebFetchTool) cachePath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(t.cacheDir, t.backend.Namespace()+"_"+hex.EncodeToString(sum[:16])+".json")
}

// FetchStructured returns the full FetchResult, serving from cache when a
// fresh entry exists. Cache write failures are swallowed: caching is
// best-effort and never fails a fetch that already succeeded.
func (t *WebFetchTool) FetchStructured(ctx context.Context, missionID, url string) (FetchResult, error) {
	if url == "" {
		return FetchResult{}, fmt.Errorf("web_fetch requires a url")
	}

	if cached, ok := t.readCache(url); ok {
		t.emit(busevents.EventWebFetchCacheHit, missionID, url, true)
		return cached, nil
	}

	t.emit(busevents.EventWebFetchStart, missionID, url, false)

	if t.limiter != nil {
		if err := t.limiter.Acquire(ctx); err != nil {
			return FetchResult{}, err
		}
		defer t.limiter.Release()
	}

	result, err := t.backend.Fetch(ctx, url)
	if err != nil {
		return FetchResult{}, err
	}
	t.writeCache(url, result)
	t.emit(busevents.EventWebFetchComplete, missionID, url, false)
	return result, nil
}

func (t *WebFetchTool) readCache(url string) (FetchResult, bool) {
	data, err := os.ReadFile(t.cachePath(url))
	if err != nil {
		return FetchResult{}, false
	}
	var result FetchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return FetchResult{}, false
	}
	if t.now().Sub(result.FetchedAt) > t.ttl {
		return FetchResult{}, false
	}
	return result, true
}

func (t *WebFetchTool) writeCache(url string, result FetchResult) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = os.WriteFile(t.cachePath(url), data, 0644)
}

func (t *WebFetchTool) emit(typ busevents.EventType, missionID, url string, cacheHit bool) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(busevents.Event{
		Type: typ, MissionID: missionID,
		Data: busevents.WebFetchData{URL: url, CacheHit: cacheHit, FromCache: cacheHit},
	})
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	url, _ := args["url"].(string)
	missionID, _ := args["mission_id"].(string)
	result, err := t.FetchStructured(ctx, missionID, url)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}
