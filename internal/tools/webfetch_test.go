package tools

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// countingBackend counts real fetches so cache hits are observable.
type countingBackend struct {
	mu      sync.Mutex
	fetches int
	fail    bool
}

func (b *countingBackend) Namespace() string { return "test" }

func (b *countingBackend) Fetch(ctx context.Context, url string) (FetchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.fail {
		return FetchResult{}, fmt.Errorf("backend unavailable")
	}
	return FetchResult{URL: url, Title: "Page", Text: "page body for " + url, FetchedAt: time.Now()}, nil
}

func (b *countingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}

func TestFetchCachesWithinTTL(t *testing.T) {
	backend := &countingBackend{}
	tool := NewWebFetchTool(backend, nil, nil, t.TempDir(), time.Hour)
	ctx := context.Background()

	first, err := tool.FetchStructured(ctx, "m1", "https://example.com/a")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	second, err := tool.FetchStructured(ctx, "m1", "https://example.com/a")
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}

	if backend.count() != 1 {
		t.Errorf("backend fetched %d times, want 1 (second should hit cache)", backend.count())
	}
	if first.Text != second.Text || first.Title != second.Title {
		t.Error("cache hit must be structurally equal to the original fetch")
	}
}

func TestFetchCacheExpires(t *testing.T) {
	backend := &countingBackend{}
	tool := NewWebFetchTool(backend, nil, nil, t.TempDir(), time.Hour)
	ctx := context.Background()

	if _, err := tool.FetchStructured(ctx, "m1", "https://example.com/a"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// Move the clock past the TTL.
	tool.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := tool.FetchStructured(ctx, "m1", "https://example.com/a"); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if backend.count() != 2 {
		t.Errorf("expired entry should refetch, got %d fetches", backend.count())
	}
}

func TestFetchDistinctURLsDistinctEntries(t *testing.T) {
	backend := &countingBackend{}
	tool := NewWebFetchTool(backend, nil, nil, t.TempDir(), time.Hour)
	ctx := context.Background()

	_, _ = tool.FetchStructured(ctx, "m1", "https://example.com/a")
	_, _ = tool.FetchStructured(ctx, "m1", "https://example.com/b")
	if backend.count() != 2 {
		t.Errorf("distinct URLs must not share cache entries, got %d fetches", backend.count())
	}
}

func TestFetchErrorNotCached(t *testing.T) {
	backend := &countingBackend{fail: true}
	tool := NewWebFetchTool(backend, nil, nil, t.TempDir(), time.Hour)
	ctx := context.Background()

	if _, err := tool.FetchStructured(ctx, "m1", "https://example.com/a"); err == nil {
		t.Fatal("expected backend error")
	}
	backend.fail = false
	if _, err := tool.FetchStructured(ctx, "m1", "https://example.com/a"); err != nil {
		t.Fatalf("recovery fetch: %v", err)
	}
	if backend.count() != 2 {
		t.Errorf("failure must not be cached, got %d fetches", backend.count())
	}
}

func TestFetchRequiresURL(t *testing.T) {
	tool := NewWebFetchTool(&countingBackend{}, nil, nil, t.TempDir(), time.Hour)
	if _, err := tool.FetchStructured(context.Background(), "m1", ""); err == nil {
		t.Error("empty url must error")
	}
}
