package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/multisite-scraper/internal/metrics"
)

// DefaultBackoffStep is the linear backoff increment between attempts.
const DefaultBackoffStep = 2 * time.Second

// LinearBackoff waits retry*Step before retry number retry.
type LinearBackoff struct {
	Step time.Duration
}

// NewLinearBackoff builds a policy waiting 2s, 4s, 6s, ...
func NewLinearBackoff() LinearBackoff {
	return LinearBackoff{Step: DefaultBackoffStep}
}

// Backoff returns the wait duration before the given retry.
func (b LinearBackoff) Backoff(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return time.Duration(retry) * b.Step
}

// FetchOptions bounds a single logical fetch.
// Throttle, when set, is waited on before every attempt and outside the attempt timeout.
type FetchOptions struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    BackoffPolicy
	Throttle   Throttle
}

// RetryFetcher implements PageFetcher on top of a single-attempt Getter.
// Every failure is treated as retryable until attempts are exhausted.
type RetryFetcher struct {
	getter  Getter
	sleeper Sleeper
	opts    FetchOptions
	logger  *zap.Logger
}

// NewRetryFetcher constructs a RetryFetcher.
func NewRetryFetcher(getter Getter, sleeper Sleeper, opts FetchOptions, logger *zap.Logger) *RetryFetcher {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff == nil {
		opts.Backoff = NewLinearBackoff()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryFetcher{
		getter:  getter,
		sleeper: sleeper,
		opts:    opts,
		logger:  logger,
	}
}

// Fetch attempts the request up to MaxRetries+1 times.
func (f *RetryFetcher) Fetch(ctx context.Context, request FetchRequest) FetchResult {
	maxAttempts := f.opts.MaxRetries + 1
	logger := f.logger.With(zap.String("site", request.Site), zap.String("url", request.URL))

	var lastErr *FetchError
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		logger.Debug("fetching page", zap.Int("attempt", attempts))

		if f.opts.Throttle != nil {
			if err := f.opts.Throttle.Wait(ctx, request.URL); err != nil {
				lastErr = ClassifyFetchError(request.URL, err)
				break
			}
		}

		page, err := f.attempt(ctx, request.URL)
		if err == nil {
			metrics.ObserveFetchAttempt(request.Site, metrics.ResultOK)
			return FetchResult{Page: page, Attempts: attempts}
		}
		metrics.ObserveFetchAttempt(request.Site, metrics.ResultError)
		lastErr = ClassifyFetchError(request.URL, err)

		if ctx.Err() != nil {
			lastErr = ClassifyFetchError(request.URL, ctx.Err())
			break
		}
		if attempts == maxAttempts {
			break
		}

		wait := f.opts.Backoff.Backoff(attempts)
		logger.Warn("fetch attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("wait", wait),
			zap.Error(lastErr),
		)
		metrics.ObserveRetry(request.Site)
		if err := f.sleeper.Sleep(ctx, wait); err != nil {
			lastErr = ClassifyFetchError(request.URL, err)
			break
		}
	}

	logger.Error("all fetch attempts failed",
		zap.Int("attempts", attempts),
		zap.String("kind", string(lastErr.Kind)),
		zap.Error(lastErr),
	)
	return FetchResult{Err: lastErr, Attempts: attempts}
}

func (f *RetryFetcher) attempt(ctx context.Context, url string) (Page, error) {
	if f.opts.Timeout <= 0 {
		return f.getter.Get(ctx, url)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()
	return f.getter.Get(attemptCtx, url)
}
