package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/multisite-scraper/internal/metrics"
)

// Scheduler fans site tasks out to a bounded pool of workers.
type Scheduler struct {
	runner     SiteRunner
	maxWorkers int
	logger     *zap.Logger
}

// NewScheduler creates a Scheduler. maxWorkers below 1 is treated as 1.
func NewScheduler(runner SiteRunner, maxWorkers int, logger *zap.Logger) *Scheduler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:     runner,
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

// RunAll crawls every site and returns the outcomes keyed by site name.
// A failing site never cancels or affects the others.
func (s *Scheduler) RunAll(ctx context.Context, sites []SiteSpec) (Results, error) {
	seen := make(map[string]struct{}, len(sites))
	for _, spec := range sites {
		if _, dup := seen[spec.Name()]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSite, spec.Name())
		}
		seen[spec.Name()] = struct{}{}
	}

	s.logger.Info("starting crawl", zap.Int("sites", len(sites)), zap.Int("workers", s.maxWorkers))

	// Each goroutine owns exactly one slot.
	outcomes := make([]SiteOutcome, len(sites))
	var g errgroup.Group
	g.SetLimit(s.maxWorkers)
	for i, spec := range sites {
		g.Go(func() error {
			outcomes[i] = s.dispatch(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()

	results := make(Results, len(outcomes))
	for _, outcome := range outcomes {
		results[outcome.Site] = outcome
	}
	return results, nil
}

func (s *Scheduler) dispatch(ctx context.Context, spec SiteSpec) (outcome SiteOutcome) {
	logger := s.logger.With(zap.String("site", spec.Name()))
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	defer func() {
		if r := recover(); r != nil {
			outcome = SiteOutcome{
				Site:   spec.Name(),
				Status: StatusError,
				Err:    &SchedulerDispatchError{Site: spec.Name(), Err: fmt.Errorf("panic: %v", r)},
			}
			logger.Error("site task crashed", zap.Any("panic", r))
		}
		metrics.ObserveSite(string(outcome.Status))
	}()

	outcome = s.runner.Run(ctx, spec)
	outcome.Site = spec.Name()
	if outcome.Status == "" {
		outcome.Status = classify(outcome)
	}

	if outcome.Status == StatusError {
		logger.Error("site failed", zap.Int("records", outcome.Count()), zap.Error(outcome.Err))
	} else {
		logger.Info("site done", zap.Int("records", outcome.Count()), zap.String("status", string(outcome.Status)))
	}
	return outcome
}
