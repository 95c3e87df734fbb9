package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLinearBackoff(t *testing.T) {
	t.Parallel()

	b := NewLinearBackoff()
	assert.Equal(t, time.Duration(0), b.Backoff(0))
	assert.Equal(t, 2*time.Second, b.Backoff(1))
	assert.Equal(t, 4*time.Second, b.Backoff(2))
	assert.Equal(t, 6*time.Second, b.Backoff(3))
}

func TestRetryFetcherExhaustsAttempts(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	getter := &scriptedGetter{failures: -1, err: errors.New("connection refused")}
	sleeper := &fakeSleeper{}
	fetcher := NewRetryFetcher(getter, sleeper, FetchOptions{MaxRetries: 2}, zap.New(core))

	result := fetcher.Fetch(context.Background(), FetchRequest{Site: "books", URL: "https://books.example/"})

	require.False(t, result.OK())
	assert.Equal(t, FetchErrorNetwork, result.Err.Kind)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, getter.count())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.recorded())

	retries := logs.FilterMessage("fetch attempt failed, retrying").All()
	require.Len(t, retries, 2)
	assert.Equal(t, 2*time.Second, retries[0].ContextMap()["wait"])
	assert.Equal(t, 4*time.Second, retries[1].ContextMap()["wait"])
	assert.Equal(t, 1, logs.FilterMessage("all fetch attempts failed").Len())
}

func TestRetryFetcherSucceedsAfterFailure(t *testing.T) {
	t.Parallel()

	getter := &scriptedGetter{failures: 1, err: errors.New("reset"), body: "<html></html>"}
	sleeper := &fakeSleeper{}
	fetcher := NewRetryFetcher(getter, sleeper, FetchOptions{MaxRetries: 3}, zap.NewNop())

	result := fetcher.Fetch(context.Background(), FetchRequest{Site: "s", URL: "https://example.com/a"})

	require.True(t, result.OK())
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, "<html></html>", string(result.Page.Body))
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeper.recorded())
}

func TestRetryFetcherZeroRetries(t *testing.T) {
	t.Parallel()

	getter := &scriptedGetter{failures: -1, err: &FetchError{Kind: FetchErrorHTTPStatus, URL: "u", StatusCode: 503}}
	sleeper := &fakeSleeper{}
	fetcher := NewRetryFetcher(getter, sleeper, FetchOptions{MaxRetries: -4}, nil)

	result := fetcher.Fetch(context.Background(), FetchRequest{Site: "s", URL: "u"})

	require.False(t, result.OK())
	assert.Equal(t, FetchErrorHTTPStatus, result.Err.Kind)
	assert.Equal(t, 503, result.Err.StatusCode)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, sleeper.recorded())
}

func TestRetryFetcherStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	getter := &scriptedGetter{failures: -1, err: errors.New("boom")}
	sleeper := &fakeSleeper{}
	fetcher := NewRetryFetcher(getter, sleeper, FetchOptions{MaxRetries: 5}, zap.NewNop())

	result := fetcher.Fetch(ctx, FetchRequest{Site: "s", URL: "https://example.com"})

	require.False(t, result.OK())
	assert.Equal(t, FetchErrorCanceled, result.Err.Kind)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, sleeper.recorded())
}

func TestRetryFetcherSleepInterrupted(t *testing.T) {
	t.Parallel()

	getter := &scriptedGetter{failures: -1, err: errors.New("boom")}
	sleeper := &fakeSleeper{err: context.Canceled}
	fetcher := NewRetryFetcher(getter, sleeper, FetchOptions{MaxRetries: 3}, zap.NewNop())

	result := fetcher.Fetch(context.Background(), FetchRequest{Site: "s", URL: "https://example.com"})

	require.False(t, result.OK())
	assert.Equal(t, FetchErrorCanceled, result.Err.Kind)
	assert.Equal(t, 1, result.Attempts)
}

type deadlineGetter struct{}

func (deadlineGetter) Get(ctx context.Context, _ string) (Page, error) {
	<-ctx.Done()
	return Page{}, ctx.Err()
}

func TestRetryFetcherPerAttemptTimeout(t *testing.T) {
	t.Parallel()

	sleeper := &fakeSleeper{}
	fetcher := NewRetryFetcher(deadlineGetter{}, sleeper, FetchOptions{
		Timeout:    5 * time.Millisecond,
		MaxRetries: 1,
		Backoff:    LinearBackoff{Step: time.Millisecond},
	}, zap.NewNop())

	result := fetcher.Fetch(context.Background(), FetchRequest{Site: "s", URL: "https://slow.example"})

	require.False(t, result.OK())
	assert.Equal(t, FetchErrorTimeout, result.Err.Kind)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, []time.Duration{time.Millisecond}, sleeper.recorded())
}

// slowThrottle waits longer than the attempt timeout and records whether it saw a deadline.
type slowThrottle struct {
	wait        time.Duration
	err         error
	calls       int
	hadDeadline bool
}

func (th *slowThrottle) Wait(ctx context.Context, _ string) error {
	th.calls++
	if _, ok := ctx.Deadline(); ok {
		th.hadDeadline = true
	}
	if th.err != nil {
		return th.err
	}
	select {
	case <-time.After(th.wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRetryFetcherThrottleWaitsOutsideAttemptTimeout(t *testing.T) {
	t.Parallel()

	throttle := &slowThrottle{wait: 30 * time.Millisecond}
	getter := &scriptedGetter{body: "ok"}
	fetcher := NewRetryFetcher(getter, &fakeSleeper{}, FetchOptions{
		Timeout:    10 * time.Millisecond,
		MaxRetries: 2,
		Throttle:   throttle,
	}, zap.NewNop())

	result := fetcher.Fetch(context.Background(), FetchRequest{Site: "s", URL: "https://example.com/a"})

	require.True(t, result.OK(), "throttle delay must not count against the fetch timeout")
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, throttle.calls)
	assert.False(t, throttle.hadDeadline)
}

func TestRetryFetcherThrottleBeforeEveryAttempt(t *testing.T) {
	t.Parallel()

	throttle := &slowThrottle{}
	getter := &scriptedGetter{failures: 2, err: errors.New("reset"), body: "ok"}
	fetcher := NewRetryFetcher(getter, &fakeSleeper{}, FetchOptions{MaxRetries: 2, Throttle: throttle}, zap.NewNop())

	result := fetcher.Fetch(context.Background(), FetchRequest{Site: "s", URL: "https://example.com/a"})

	require.True(t, result.OK())
	assert.Equal(t, 3, throttle.calls)
	assert.Equal(t, 3, getter.count())
}

func TestRetryFetcherThrottleCanceled(t *testing.T) {
	t.Parallel()

	throttle := &slowThrottle{err: context.Canceled}
	getter := &scriptedGetter{body: "ok"}
	fetcher := NewRetryFetcher(getter, &fakeSleeper{}, FetchOptions{MaxRetries: 3, Throttle: throttle}, zap.NewNop())

	result := fetcher.Fetch(context.Background(), FetchRequest{Site: "s", URL: "https://example.com/a"})

	require.False(t, result.OK())
	assert.Equal(t, FetchErrorCanceled, result.Err.Kind)
	assert.Zero(t, getter.count())
}

func TestClassifyFetchError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ClassifyFetchError("u", nil))

	existing := &FetchError{Kind: FetchErrorInvalidURL, URL: "::"}
	assert.Same(t, existing, ClassifyFetchError("u", existing))

	assert.Equal(t, FetchErrorCanceled, ClassifyFetchError("u", context.Canceled).Kind)
	assert.Equal(t, FetchErrorTimeout, ClassifyFetchError("u", context.DeadlineExceeded).Kind)
	assert.Equal(t, FetchErrorNetwork, ClassifyFetchError("u", errors.New("dial tcp")).Kind)

	httpErr := &FetchError{Kind: FetchErrorHTTPStatus, URL: "https://x", StatusCode: 404}
	assert.Equal(t, "fetch https://x: http_status 404", httpErr.Error())
}
