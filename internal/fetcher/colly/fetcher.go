// Package collyfetcher performs single page GET attempts with gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
)

// DefaultUserAgent is used when no user agents are configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgents   []string
	Timeout      time.Duration
	MaxBodyBytes int
	Transport    http.RoundTripper
}

// Fetcher implements crawler.Getter using the Colly collector.
type Fetcher struct {
	cfg           Config
	userAgent     string
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. One user agent is chosen per Fetcher and reused for every request.
func New(cfg Config) *Fetcher {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	}
	if cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodyBytes))
	}
	c := colly.NewCollector(opts...)

	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)

	// Clones share the backend client, so the timeout is set once here.
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)

	return &Fetcher{
		cfg:           cfg,
		userAgent:     pickUserAgent(cfg.UserAgents),
		baseCollector: c,
	}
}

// UserAgent returns the user agent sent with every request.
func (f *Fetcher) UserAgent() string {
	return f.userAgent
}

// Get executes a single HTTP GET. Non-2xx responses fail with an http_status FetchError.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (crawler.Page, error) {
	if err := validateURL(rawURL); err != nil {
		return crawler.Page{}, err
	}

	var (
		page     crawler.Page
		fetchErr error
	)
	collector := f.buildCollector(ctx, &page, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return crawler.Page{}, err
	}
	return page, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, page *crawler.Page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.userAgent
	collector.Context = ctx
	f.configureCollectorHooks(collector, page, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, page *crawler.Page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := r.Request.URL.String()
		if r.StatusCode < 200 || r.StatusCode > 299 {
			*fetchErr = &crawler.FetchError{
				Kind:       crawler.FetchErrorHTTPStatus,
				URL:        finalURL,
				StatusCode: r.StatusCode,
			}
			return
		}
		*page = crawler.Page{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &crawler.FetchError{Kind: crawler.FetchErrorInvalidURL, URL: rawURL, Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &crawler.FetchError{
			Kind: crawler.FetchErrorInvalidURL,
			URL:  rawURL,
			Err:  fmt.Errorf("unsupported url %q", rawURL),
		}
	}
	return nil
}

func pickUserAgent(agents []string) string {
	if len(agents) == 0 {
		return DefaultUserAgent
	}
	return agents[rand.IntN(len(agents))]
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
