package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/multisite-scraper/internal/metrics"
)

// SiteTask crawls the pages of one site sequentially.
type SiteTask struct {
	fetcher      PageFetcher
	extractor    Extractor
	clock        Clock
	sleeper      Sleeper
	defaultDelay time.Duration
	logger       *zap.Logger
}

// NewSiteTask constructs a SiteTask. defaultDelay applies to sites without an override.
func NewSiteTask(
	fetcher PageFetcher,
	extractor Extractor,
	clock Clock,
	sleeper Sleeper,
	defaultDelay time.Duration,
	logger *zap.Logger,
) *SiteTask {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SiteTask{
		fetcher:      fetcher,
		extractor:    extractor,
		clock:        clock,
		sleeper:      sleeper,
		defaultDelay: defaultDelay,
		logger:       logger,
	}
}

// accumulator owns the records of one site while its task runs.
type accumulator struct {
	site    string
	records []Record
}

func (a *accumulator) nextIndex() int {
	return len(a.records) + 1
}

func (a *accumulator) outcome() SiteOutcome {
	status := StatusNoData
	if len(a.records) > 0 {
		status = StatusSuccess
	}
	return SiteOutcome{Site: a.site, Records: a.snapshot(), Status: status}
}

func (a *accumulator) fail(err error) SiteOutcome {
	return SiteOutcome{
		Site:    a.site,
		Records: a.snapshot(),
		Status:  StatusError,
		Err:     &SiteTaskError{Site: a.site, Err: err},
	}
}

func (a *accumulator) snapshot() []Record {
	out := make([]Record, len(a.records))
	copy(out, a.records)
	return out
}

// Run crawls spec and returns its outcome. It never panics.
func (t *SiteTask) Run(ctx context.Context, spec SiteSpec) (outcome SiteOutcome) {
	logger := t.logger.With(zap.String("site", spec.Name()))
	acc := &accumulator{site: spec.Name()}

	if !spec.Enabled() {
		logger.Info("skipping disabled site")
		return acc.outcome()
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = acc.fail(fmt.Errorf("panic: %v", r))
			logger.Error("site task panicked", zap.Any("panic", r), zap.Int("records", len(acc.records)))
		}
	}()

	pages := spec.Pages()
	delay := t.delayFor(spec)
	logger.Info("starting site", zap.String("base_url", spec.BaseURL()), zap.Int("pages", len(pages)))

	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			logger.Warn("site canceled", zap.Error(err))
			return acc.fail(err)
		}
		if err := t.processPage(ctx, spec, page, acc, logger); err != nil {
			logger.Error("site task failed", zap.String("page", page), zap.Error(err), zap.Int("records", len(acc.records)))
			return acc.fail(err)
		}
		if i == len(pages)-1 || delay <= 0 {
			continue
		}
		logger.Debug("waiting before next page", zap.Duration("delay", delay))
		if err := t.sleeper.Sleep(ctx, delay); err != nil {
			logger.Warn("site canceled during delay", zap.Error(err))
			return acc.fail(err)
		}
	}

	outcome = acc.outcome()
	logger.Info("completed site", zap.Int("records", outcome.Count()), zap.String("status", string(outcome.Status)))
	return outcome
}

func (t *SiteTask) delayFor(spec SiteSpec) time.Duration {
	if d, ok := spec.Delay(); ok {
		return d
	}
	return t.defaultDelay
}

// processPage returns an error only for faults that must end the site.
func (t *SiteTask) processPage(ctx context.Context, spec SiteSpec, page string, acc *accumulator, logger *zap.Logger) error {
	pageURL, err := spec.PageURL(page)
	if err != nil {
		logger.Warn("skipping unresolvable page", zap.String("page", page), zap.Error(err))
		metrics.ObservePage(spec.Name(), metrics.ResultError, 0)
		return nil
	}

	result := t.fetcher.Fetch(ctx, FetchRequest{Site: spec.Name(), URL: pageURL})
	if !result.OK() {
		metrics.ObservePage(spec.Name(), metrics.ResultError, 0)
		if result.Err.Kind == FetchErrorCanceled {
			return result.Err
		}
		logger.Warn("page fetch failed, continuing",
			zap.String("url", pageURL),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err),
		)
		return nil
	}
	metrics.ObservePage(spec.Name(), metrics.ResultOK, len(result.Page.Body))

	sets, err := t.extractor.Extract(ctx, result.Page, spec.Selectors())
	if err != nil {
		logger.Warn("page extraction failed, continuing", zap.String("url", pageURL), zap.Error(err))
		return nil
	}

	source := result.Page.URL
	if source == "" {
		source = pageURL
	}
	for _, set := range sets {
		acc.records = append(acc.records, NewRecord(spec.Name(), acc.nextIndex(), source, t.clock.Now(), set))
	}
	metrics.ObserveRecords(spec.Name(), len(sets))
	logger.Info("extracted items", zap.String("url", source), zap.Int("items", len(sets)))
	return nil
}
