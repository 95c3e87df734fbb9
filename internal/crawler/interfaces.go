package crawler

import (
	"context"
	"io"
	"time"
)

// Getter performs a single GET attempt.
type Getter interface {
	Get(ctx context.Context, url string) (Page, error)
}

// Throttle delays a request until the target host may be contacted.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// PageFetcher fetches a page, retrying as configured, and never returns partial content.
type PageFetcher interface {
	Fetch(ctx context.Context, request FetchRequest) FetchResult
}

// Extractor turns page content into field sets according to a selector plan.
type Extractor interface {
	Extract(ctx context.Context, page Page, selectors SelectorSet) ([]FieldSet, error)
}

// SiteRunner crawls one site to completion.
type SiteRunner interface {
	Run(ctx context.Context, spec SiteSpec) SiteOutcome
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration or until the context finishes.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// BackoffPolicy returns the wait before a retry. retry starts at 1.
type BackoffPolicy interface {
	Backoff(retry int) time.Duration
}

// BlobStore writes output artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes crawl completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher produces a hex content digest.
type Hasher interface {
	Hash(data []byte) (string, error)
}
