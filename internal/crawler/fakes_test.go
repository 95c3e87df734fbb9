package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

// fakeSleeper records requested waits without blocking.
type fakeSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

func (s *fakeSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// scriptedGetter fails the first failures calls, then succeeds.
type scriptedGetter struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	body     string
}

func (g *scriptedGetter) Get(_ context.Context, url string) (Page, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failures < 0 || g.calls <= g.failures {
		return Page{}, g.err
	}
	return Page{URL: url, StatusCode: 200, Body: []byte(g.body)}, nil
}

func (g *scriptedGetter) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// mapFetcher serves canned results per URL and counts requests.
type mapFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	requests []FetchRequest
}

func (f *mapFetcher) Fetch(_ context.Context, request FetchRequest) FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	body, ok := f.pages[request.URL]
	if !ok {
		return FetchResult{
			Err:      &FetchError{Kind: FetchErrorHTTPStatus, URL: request.URL, StatusCode: 404},
			Attempts: 1,
		}
	}
	return FetchResult{Page: Page{URL: request.URL, StatusCode: 200, Body: []byte(body)}, Attempts: 1}
}

func (f *mapFetcher) requested() []FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FetchRequest(nil), f.requests...)
}

// countingExtractor treats the page body as the number of items to emit.
// A body of "fail" returns an error and "panic" panics.
type countingExtractor struct{}

func (countingExtractor) Extract(_ context.Context, page Page, _ SelectorSet) ([]FieldSet, error) {
	switch string(page.Body) {
	case "fail":
		return nil, errors.New("malformed document")
	case "panic":
		panic("selector engine exploded")
	}
	var n int
	if _, err := fmt.Sscanf(string(page.Body), "%d", &n); err != nil {
		return nil, fmt.Errorf("bad test body %q: %w", page.Body, err)
	}
	sets := make([]FieldSet, 0, n)
	for i := 0; i < n; i++ {
		sets = append(sets, FieldSet{{Name: "title", Value: Text(fmt.Sprintf("%s#%d", page.URL, i))}})
	}
	return sets, nil
}

func mustSite(t *testing.T, cfg SiteConfig) SiteSpec {
	t.Helper()
	spec, err := NewSiteSpec(cfg)
	if err != nil {
		t.Fatalf("NewSiteSpec(%+v) error = %v", cfg, err)
	}
	return spec
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
