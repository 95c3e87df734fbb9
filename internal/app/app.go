// Package app builds the crawl services from configuration and runs one crawl
// end to end: fetch, extract, aggregate, export, report.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/multisite-scraper/internal/api"
	"github.com/JakeFAU/multisite-scraper/internal/clock/system"
	"github.com/JakeFAU/multisite-scraper/internal/config"
	"github.com/JakeFAU/multisite-scraper/internal/crawler"
	"github.com/JakeFAU/multisite-scraper/internal/export"
	cssextractor "github.com/JakeFAU/multisite-scraper/internal/extractor/css"
	collyfetcher "github.com/JakeFAU/multisite-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/multisite-scraper/internal/hash/sha256"
	"github.com/JakeFAU/multisite-scraper/internal/id/uuid"
	"github.com/JakeFAU/multisite-scraper/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/multisite-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/multisite-scraper/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/multisite-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/multisite-scraper/internal/storage/local"
	pgstore "github.com/JakeFAU/multisite-scraper/internal/storage/postgres"
)

const (
	persistTimeout  = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// Clock combines the time source and the sleeper used for delays and backoff.
type Clock interface {
	crawler.Clock
	crawler.Sleeper
}

// Overrides replaces the default services. Nil fields keep the defaults built from config.
type Overrides struct {
	Getter    crawler.Getter
	Extractor crawler.Extractor
	BlobStore crawler.BlobStore
	Publisher crawler.Publisher
	Records   export.RecordWriter
	Clock     Clock
	IDs       crawler.IDGenerator
}

// Summary describes a finished crawl.
type Summary struct {
	RunID          string
	Duration       time.Duration
	Report         crawler.CrawlReport
	ReportLocation string
	Exports        []export.Result
	Published      string
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	sites     []crawler.SiteSpec
	scheduler *crawler.Scheduler
	pipeline  *export.Pipeline
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	clock     Clock
	ids       crawler.IDGenerator
	reports   *api.ReportHolder
	apiServer *api.Server

	storageClient *storage.Client
	pubsubClient  *pubsub.Client
	gcpPublisher  *gcppublisher.Publisher
	recordStore   *pgstore.RecordStore
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, overrides Overrides) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sites, err := cfg.SiteSpecs()
	if err != nil {
		return nil, fmt.Errorf("site specs: %w", err)
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		sites:     sites,
		clock:     overrides.Clock,
		ids:       overrides.IDs,
		blobStore: overrides.BlobStore,
		publisher: overrides.Publisher,
		reports:   &api.ReportHolder{},
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.ids == nil {
		a.ids = uuid.New()
	}

	a.logger.Info("building application dependencies",
		zap.Int("sites", len(sites)),
		zap.Int("max_workers", cfg.Scraper.MaxWorkers),
		zap.Strings("formats", cfg.Storage.Formats),
	)

	// Close whatever was opened if a later step fails.
	ok := false
	defer func() {
		if !ok {
			a.closeInfrastructure()
		}
	}()

	if a.blobStore == nil {
		if a.blobStore, err = a.setupStorage(ctx); err != nil {
			return nil, err
		}
	}
	if a.publisher == nil {
		if a.publisher, err = a.setupPublisher(ctx); err != nil {
			return nil, err
		}
	}
	exporters, err := a.setupExporters(ctx, overrides.Records)
	if err != nil {
		return nil, err
	}
	a.pipeline = export.NewPipeline(logger.Named("export"), exporters...)
	a.scheduler = a.setupScheduler(overrides)

	if cfg.Server.Addr != "" {
		a.apiServer = api.NewServer(a.reports, logger.Named("api"))
		a.apiServer.MarkReady()
	}

	ok = true
	return a, nil
}

// Sites returns the validated site list in configuration order.
func (a *App) Sites() []crawler.SiteSpec {
	return append([]crawler.SiteSpec(nil), a.sites...)
}

// Reports exposes the latest report for the status server.
func (a *App) Reports() api.ReportSource {
	return a.reports
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch strings.ToLower(a.cfg.Storage.Backend) {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	default:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.OutputDirectory))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.OutputDirectory})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.gcpPublisher = gcppublisher.New(client.Topic(a.cfg.PubSub.Topic), sha256.New())
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.gcpPublisher, nil
}

func (a *App) setupExporters(ctx context.Context, records export.RecordWriter) ([]export.Exporter, error) {
	var exporters []export.Exporter
	for _, format := range a.cfg.Storage.Formats {
		switch strings.ToLower(format) {
		case config.FormatJSON:
			exporters = append(exporters, export.NewJSONExporter(a.blobStore))
		case config.FormatCSV:
			exporters = append(exporters, export.NewCSVExporter(a.blobStore))
		case config.FormatSQLite:
			exporters = append(exporters, export.NewSQLiteExporter(a.blobStore, ""))
		case config.FormatPostgres:
			table := a.cfg.Postgres.Table
			if records == nil {
				store, err := pgstore.NewRecordStore(ctx, pgstore.Config{
					DSN:   a.cfg.Postgres.DSN,
					Table: table,
				})
				if err != nil {
					return nil, fmt.Errorf("postgres record store init failed: %w", err)
				}
				a.recordStore = store
				records = store
			}
			exporters = append(exporters, export.NewPostgresExporter(records, table))
		default:
			return nil, fmt.Errorf("unsupported storage format %q", format)
		}
	}
	return exporters, nil
}

func (a *App) setupScheduler(overrides Overrides) *crawler.Scheduler {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Scraper.RateLimitRPS,
		DefaultBurst: a.cfg.Scraper.RateLimitBurst,
	})
	getter := overrides.Getter
	if getter == nil {
		fetcher := collyfetcher.New(collyfetcher.Config{
			UserAgents:   a.cfg.Scraper.UserAgents,
			Timeout:      a.cfg.RequestTimeout(),
			MaxBodyBytes: a.cfg.Scraper.MaxBodyBytes,
		})
		a.logger.Info("using colly fetcher", zap.String("user_agent", fetcher.UserAgent()))
		getter = fetcher
	}
	extractor := overrides.Extractor
	if extractor == nil {
		extractor = cssextractor.New(a.logger.Named("extractor"))
	}

	retrying := crawler.NewRetryFetcher(getter, a.clock, crawler.FetchOptions{
		Timeout:    a.cfg.RequestTimeout(),
		MaxRetries: a.cfg.Scraper.Retries,
		Backoff:    crawler.NewLinearBackoff(),
		Throttle:   limiter,
	}, a.logger.Named("fetcher"))
	task := crawler.NewSiteTask(
		retrying,
		extractor,
		a.clock,
		a.clock,
		a.cfg.DefaultDelay(),
		a.logger.Named("site"),
	)
	return crawler.NewScheduler(task, a.cfg.Scraper.MaxWorkers, a.logger.Named("scheduler"))
}

// Run performs one crawl. The report is built, saved and published even when
// ctx is canceled mid-crawl.
func (a *App) Run(ctx context.Context) (Summary, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	started := a.clock.Now()
	logger := a.logger.With(zap.String("run_id", runID))
	logger.Info("crawl started", zap.Int("sites", len(a.sites)))

	stopServer := a.startServer(ctx, logger)
	defer stopServer()

	results, err := a.scheduler.RunAll(ctx, a.sites)
	if err != nil {
		return Summary{RunID: runID}, fmt.Errorf("run crawl: %w", err)
	}
	if ctx.Err() != nil {
		logger.Warn("crawl interrupted, saving partial results", zap.Error(ctx.Err()))
	}

	report := crawler.BuildReport(runID, results, a.clock.Now())
	a.reports.Set(report)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	summary := Summary{RunID: runID, Report: report}
	summary.Exports = a.pipeline.Run(persistCtx, export.Run{
		ID:        runID,
		StartedAt: started,
		Dataset:   crawler.Dataset(results),
	})

	location, saveErr := export.SaveReport(persistCtx, a.blobStore, report)
	if saveErr != nil {
		logger.Error("report save failed", zap.Error(saveErr))
		saveErr = fmt.Errorf("save report: %w", saveErr)
	}
	summary.ReportLocation = location

	if a.publisher != nil {
		id, err := a.publisher.Publish(persistCtx, report)
		if err != nil {
			logger.Warn("report publish failed", zap.Error(err))
		} else {
			summary.Published = id
		}
	}

	summary.Duration = a.clock.Now().Sub(started)
	a.logSummary(logger, summary)
	return summary, saveErr
}

func (a *App) logSummary(logger *zap.Logger, s Summary) {
	counts := s.Report.StatusCounts()
	logger.Info("crawl finished",
		zap.Duration("duration", s.Duration),
		zap.Int("total_websites", s.Report.TotalWebsites),
		zap.Int("total_items", s.Report.TotalItems),
		zap.Int("success", counts[crawler.StatusSuccess]),
		zap.Int("no_data", counts[crawler.StatusNoData]),
		zap.Int("error", counts[crawler.StatusError]),
		zap.Int("exports_failed", failedExports(s.Exports)),
		zap.String("report", s.ReportLocation),
	)
}

func failedExports(results []export.Result) int {
	n := 0
	for _, res := range results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// startServer serves the status API for the duration of the run when configured.
func (a *App) startServer(ctx context.Context, logger *zap.Logger) func() {
	if a.apiServer == nil {
		return func() {}
	}
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", zap.Error(err))
		}
	}
}

// Close releases clients opened by Build.
func (a *App) Close() {
	a.closeInfrastructure()
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	a.logger.Debug("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.gcpPublisher != nil {
		a.gcpPublisher.Stop()
		a.gcpPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storageClient = nil
	}
	if a.recordStore != nil {
		a.recordStore.Close()
		a.recordStore = nil
	}
}
