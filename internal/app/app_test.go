package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/multisite-scraper/internal/app"
	"github.com/JakeFAU/multisite-scraper/internal/config"
	"github.com/JakeFAU/multisite-scraper/internal/crawler"
	memorypublisher "github.com/JakeFAU/multisite-scraper/internal/publisher/memory"
	memorystorage "github.com/JakeFAU/multisite-scraper/internal/storage/memory"
)

const quotesPage = `<html><body>
<div class="quote"><span class="text">First</span><small class="author">Ada</small>
  <div class="tags"><a class="tag">life</a><a class="tag">love</a></div></div>
<div class="quote"><span class="text">Second</span></div>
</body></html>`

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func (fixedClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

type fakeRecordWriter struct {
	mu    sync.Mutex
	runID string
	rows  int
}

func (w *fakeRecordWriter) StoreRecords(_ context.Context, runID string, dataset map[string][]crawler.Record) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runID = runID
	for _, records := range dataset {
		w.rows += len(records)
	}
	return w.rows, nil
}

func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page/1/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, quotesPage)
	})
	mux.HandleFunc("/page/2/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, quotesPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string, formats ...string) config.Config {
	disabled := false
	return config.Config{
		Scraper: config.ScraperConfig{
			MaxWorkers:   2,
			DefaultDelay: "0",
			Timeout:      "5s",
			Retries:      1,
		},
		Sites: []config.SiteConfig{
			{
				Name:    "quotes",
				BaseURL: baseURL,
				Pages:   []string{"/page/1/", "/page/2/"},
				Selectors: crawler.SelectorSet{
					Container: "div.quote",
					Fields: []crawler.FieldSelector{
						{Name: "text", Selector: "span.text"},
						{Name: "author", Selector: "small.author"},
						{Name: "tags", Selector: "div.tags a.tag"},
					},
				},
			},
			{
				Name:    "missing",
				BaseURL: baseURL,
				Pages:   []string{"/nope/"},
			},
			{
				Name:    "paused",
				BaseURL: baseURL,
				Enabled: &disabled,
			},
		},
		Storage: config.StorageConfig{Formats: formats},
	}
}

var runStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func buildApp(t *testing.T, cfg config.Config, overrides app.Overrides) *app.App {
	t.Helper()
	if overrides.Clock == nil {
		overrides.Clock = fixedClock{now: runStart}
	}
	if overrides.IDs == nil {
		overrides.IDs = fixedIDs{id: "run-1"}
	}
	a, err := app.Build(context.Background(), cfg, zap.NewNop(), overrides)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestRunCrawlsExportsAndReports(t *testing.T) {
	t.Parallel()

	srv := newSiteServer(t)
	store := memorystorage.NewBlobStore()
	pub := memorypublisher.New()
	a := buildApp(t, testConfig(srv.URL, config.FormatJSON, config.FormatCSV, config.FormatSQLite), app.Overrides{
		BlobStore: store,
		Publisher: pub,
	})

	summary, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 3, summary.Report.TotalWebsites)
	assert.Equal(t, 4, summary.Report.TotalItems)
	assert.Equal(t, crawler.StatusSuccess, summary.Report.Websites["quotes"].Status)
	assert.Equal(t, crawler.StatusNoData, summary.Report.Websites["missing"].Status)
	assert.Equal(t, crawler.StatusNoData, summary.Report.Websites["paused"].Status)
	assert.Equal(t, "memory://scraping_report_20250301_120000.json", summary.ReportLocation)
	assert.Equal(t, "memory-1", summary.Published)

	assert.ElementsMatch(t, []string{
		"scraped_data_20250301_120000.json",
		"scraped_quotes_20250301_120000.csv",
		"scraped_data_20250301_120000.db",
		"scraping_report_20250301_120000.json",
	}, store.Paths())
	for _, res := range summary.Exports {
		assert.NoError(t, res.Err, res.Format)
	}

	raw, ok := store.Get("scraped_data_20250301_120000.json")
	require.True(t, ok)
	var dataset map[string][]map[string]any
	require.NoError(t, json.Unmarshal(raw, &dataset))
	require.Len(t, dataset["quotes"], 4)
	first := dataset["quotes"][0]
	assert.EqualValues(t, 1, first["item_index"])
	assert.Equal(t, "First", first["text"])
	assert.Equal(t, []any{"life", "love"}, first["tags"])
	assert.Nil(t, dataset["quotes"][1]["author"])
	assert.EqualValues(t, 4, dataset["quotes"][3]["item_index"])
	assert.Empty(t, dataset["missing"])

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	published, ok := msgs[0].(crawler.CrawlReport)
	require.True(t, ok)
	assert.Equal(t, summary.Report.TotalItems, published.TotalItems)

	latest, ok := a.Reports().Latest()
	require.True(t, ok)
	assert.Equal(t, "run-1", latest.RunID)
}

func TestRunWritesPostgresRows(t *testing.T) {
	t.Parallel()

	srv := newSiteServer(t)
	writer := &fakeRecordWriter{}
	cfg := testConfig(srv.URL, config.FormatPostgres)
	cfg.Postgres.Table = "scraped_records"
	a := buildApp(t, cfg, app.Overrides{
		BlobStore: memorystorage.NewBlobStore(),
		Publisher: memorypublisher.New(),
		Records:   writer,
	})

	summary, err := a.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Exports, 1)
	assert.Equal(t, []string{"postgres://scraped_records?run_id=run-1&rows=4"}, summary.Exports[0].Locations)
	assert.Equal(t, "run-1", writer.runID)
}

func TestRunCanceledStillSavesReport(t *testing.T) {
	t.Parallel()

	srv := newSiteServer(t)
	store := memorystorage.NewBlobStore()
	a := buildApp(t, testConfig(srv.URL, config.FormatJSON), app.Overrides{
		BlobStore: store,
		Publisher: memorypublisher.New(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := a.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, crawler.StatusError, summary.Report.Websites["quotes"].Status)
	assert.Contains(t, summary.Report.Websites["quotes"].Error, "canceled")
	assert.Equal(t, crawler.StatusNoData, summary.Report.Websites["paused"].Status)
	_, ok := store.Get("scraping_report_20250301_120000.json")
	assert.True(t, ok)
}

type brokenStore struct{}

func (brokenStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

func TestRunReportsSaveFailure(t *testing.T) {
	t.Parallel()

	srv := newSiteServer(t)
	core, logs := observer.New(zap.InfoLevel)
	cfg := testConfig(srv.URL, config.FormatJSON)
	a, err := app.Build(context.Background(), cfg, zap.New(core), app.Overrides{
		BlobStore: brokenStore{},
		Publisher: memorypublisher.New(),
		Clock:     fixedClock{now: runStart},
		IDs:       fixedIDs{id: "run-2"},
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	summary, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 4, summary.Report.TotalItems)
	assert.Equal(t, 1, logs.FilterMessage("export failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("report save failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("crawl finished").Len())
}

func TestRunIDFailure(t *testing.T) {
	t.Parallel()

	a := buildApp(t, testConfig("https://example.com"), app.Overrides{
		BlobStore: memorystorage.NewBlobStore(),
		IDs:       failingIDs{},
	})
	_, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate run id")
}

func TestBuildRejectsInvalidSetup(t *testing.T) {
	t.Parallel()

	dup := testConfig("https://example.com")
	dup.Sites = append(dup.Sites, dup.Sites[0])
	_, err := app.Build(context.Background(), dup, nil, app.Overrides{BlobStore: memorystorage.NewBlobStore()})
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrDuplicateSite)

	badFormat := testConfig("https://example.com", "xml")
	_, err = app.Build(context.Background(), badFormat, nil, app.Overrides{BlobStore: memorystorage.NewBlobStore()})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), `unsupported storage format "xml"`))
}

func TestBuildUsesLocalStorageByDefault(t *testing.T) {
	t.Parallel()

	srv := newSiteServer(t)
	cfg := testConfig(srv.URL, config.FormatJSON)
	cfg.Storage.OutputDirectory = t.TempDir()
	a := buildApp(t, cfg, app.Overrides{})

	summary, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary.ReportLocation, "file://"+cfg.Storage.OutputDirectory))
	assert.Len(t, a.Sites(), 3)
}
