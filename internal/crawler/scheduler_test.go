package crawler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// runnerFunc adapts a function to SiteRunner.
type runnerFunc func(ctx context.Context, spec SiteSpec) SiteOutcome

func (f runnerFunc) Run(ctx context.Context, spec SiteSpec) SiteOutcome {
	return f(ctx, spec)
}

func recordsFor(site string, n int) []Record {
	out := make([]Record, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, NewRecord(site, i, "https://"+site+".example", testNow, nil))
	}
	return out
}

func namedSite(t *testing.T, name string) SiteSpec {
	t.Helper()
	return mustSite(t, SiteConfig{Name: name, BaseURL: "https://" + name + ".example", Enabled: true})
}

func TestSchedulerIsolatesSiteFailures(t *testing.T) {
	t.Parallel()

	runner := runnerFunc(func(_ context.Context, spec SiteSpec) SiteOutcome {
		switch spec.Name() {
		case "a":
			return SiteOutcome{
				Site:    "a",
				Records: recordsFor("a", 2),
				Status:  StatusError,
				Err:     &SiteTaskError{Site: "a", Err: errors.New("broken page")},
			}
		default:
			return SiteOutcome{Site: spec.Name(), Records: recordsFor(spec.Name(), 5), Status: StatusSuccess}
		}
	})

	results, err := NewScheduler(runner, 2, zap.NewNop()).RunAll(context.Background(), []SiteSpec{
		namedSite(t, "a"),
		namedSite(t, "b"),
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, StatusError, results["a"].Status)
	assert.Equal(t, 2, results["a"].Count())
	assert.Equal(t, StatusSuccess, results["b"].Status)
	assert.Equal(t, 5, results["b"].Count())

	report := BuildReport("run-1", results, testNow)
	assert.Equal(t, 7, report.TotalItems)
	assert.Equal(t, 2, report.TotalWebsites)
	assert.Equal(t, "site a: broken page", report.Websites["a"].Error)
}

func TestSchedulerRecoversRunnerPanic(t *testing.T) {
	t.Parallel()

	runner := runnerFunc(func(_ context.Context, spec SiteSpec) SiteOutcome {
		if spec.Name() == "crash" {
			panic("nil map write")
		}
		return SiteOutcome{Records: recordsFor(spec.Name(), 1)}
	})

	results, err := NewScheduler(runner, 4, nil).RunAll(context.Background(), []SiteSpec{
		namedSite(t, "crash"),
		namedSite(t, "fine"),
	})
	require.NoError(t, err)

	crashed := results["crash"]
	assert.Equal(t, StatusError, crashed.Status)
	var dispatchErr *SchedulerDispatchError
	require.ErrorAs(t, crashed.Err, &dispatchErr)
	assert.Equal(t, "crash", dispatchErr.Site)

	fine := results["fine"]
	assert.Equal(t, "fine", fine.Site, "site name is taken from the SiteSpec")
	assert.Equal(t, StatusSuccess, fine.Status, "missing status is derived from the records")
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const workers = 2
	var inFlight, peak atomic.Int32
	runner := runnerFunc(func(_ context.Context, spec SiteSpec) SiteOutcome {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return SiteOutcome{}
	})

	sites := make([]SiteSpec, 0, 6)
	for _, name := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
		sites = append(sites, namedSite(t, name))
	}
	results, err := NewScheduler(runner, workers, zap.NewNop()).RunAll(context.Background(), sites)
	require.NoError(t, err)

	assert.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	for _, name := range results.Names() {
		assert.Equal(t, StatusNoData, results[name].Status)
	}
}

func TestSchedulerRejectsDuplicateNames(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	runner := runnerFunc(func(context.Context, SiteSpec) SiteOutcome {
		calls.Add(1)
		return SiteOutcome{}
	})

	_, err := NewScheduler(runner, 1, zap.NewNop()).RunAll(context.Background(), []SiteSpec{
		namedSite(t, "dup"),
		namedSite(t, "dup"),
	})
	require.ErrorIs(t, err, ErrDuplicateSite)
	assert.Zero(t, calls.Load())
}

func TestSchedulerEmptySiteList(t *testing.T) {
	t.Parallel()

	results, err := NewScheduler(runnerFunc(func(context.Context, SiteSpec) SiteOutcome {
		t.Fatal("runner must not be called")
		return SiteOutcome{}
	}), 0, zap.NewNop()).RunAll(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, results)
}
