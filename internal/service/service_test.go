package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/places-scraper/internal/admission"
	"github.com/JakeFAU/places-scraper/internal/jobs"
	"github.com/JakeFAU/places-scraper/internal/pool"
	"github.com/JakeFAU/places-scraper/internal/scrape"
	"github.com/JakeFAU/places-scraper/internal/storage/memory"
)

type runnerFunc func(ctx context.Context, query string, params scrape.RunParams) ([]scrape.Record, error)

func (f runnerFunc) Run(ctx context.Context, query string, params scrape.RunParams) ([]scrape.Record, error) {
	return f(ctx, query, params)
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]scrape.Record
	sets    int
}

func (c *memoryCache) key(query string, params scrape.RunParams) string {
	return query
}

func (c *memoryCache) Get(_ context.Context, query string, params scrape.RunParams) ([]scrape.Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	records, ok := c.entries[c.key(query, params)]
	return records, ok, nil
}

func (c *memoryCache) Set(_ context.Context, query string, params scrape.RunParams, records []scrape.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string][]scrape.Record)
	}
	c.entries[c.key(query, params)] = records
	c.sets++
	return nil
}

type staticPool struct{ stats pool.Stats }

func (p staticPool) Stats() pool.Stats { return p.stats }

func echoRunner(calls *atomic.Int32) runnerFunc {
	return func(_ context.Context, query string, params scrape.RunParams) ([]scrape.Record, error) {
		calls.Add(1)
		out := make([]scrape.Record, 0, params.MaxResults)
		for i := 0; i < params.MaxResults; i++ {
			out = append(out, scrape.Record{Name: query, URL: query})
		}
		return out, nil
	}
}

func newTestService(t *testing.T, runner Runner, adm Admission, cache scrape.ResultCache) *Service {
	t.Helper()
	reg := jobs.NewRegistry(memory.NewJobStore(), AdmittedRunner(runner, adm), jobs.Options{})
	t.Cleanup(reg.Close)
	svc, err := New(Deps{
		Runner:    runner,
		Admission: adm,
		Jobs:      reg,
		Cache:     cache,
		Pool:      staticPool{stats: pool.Stats{Live: 1, Idle: 1, Max: 2}},
	}, Limits{DefaultMaxResults: 2, MaxResultsLimit: 10, DefaultWorkers: 1, MaxWorkers: 4, BulkBatchSize: 2, BulkMaxQueries: 3})
	require.NoError(t, err)
	return svc
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Limits{})
	require.Error(t, err)
}

func TestNormalizeAppliesDefaultsAndLimits(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, echoRunner(&calls), admission.New(1), nil)

	q, p, err := svc.Normalize("  coffee  ", scrape.RunParams{})
	require.NoError(t, err)
	require.Equal(t, "coffee", q)
	require.Equal(t, scrape.RunParams{MaxResults: 2, Workers: 1}, p)

	cases := []struct {
		name   string
		query  string
		params scrape.RunParams
	}{
		{name: "empty query", query: "  "},
		{name: "negative max", query: "q", params: scrape.RunParams{MaxResults: -1}},
		{name: "max above limit", query: "q", params: scrape.RunParams{MaxResults: 11}},
		{name: "too many workers", query: "q", params: scrape.RunParams{Workers: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Normalize(tc.query, tc.params)
			require.ErrorIs(t, err, scrape.ErrInvalidParams)
		})
	}
}

func TestRunSyncRejectsWhenOverCapacity(t *testing.T) {
	var calls atomic.Int32
	adm := admission.New(1)
	svc := newTestService(t, echoRunner(&calls), adm, nil)

	require.True(t, adm.TryAcquire())
	_, err := svc.RunSync(context.Background(), "coffee", scrape.RunParams{})
	require.ErrorIs(t, err, scrape.ErrOverCapacity)
	require.Zero(t, calls.Load())

	adm.Release()
	records, err := svc.RunSync(context.Background(), "coffee", scrape.RunParams{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Zero(t, adm.Active())
}

func TestRunSyncReleasesSlotOnFailure(t *testing.T) {
	adm := admission.New(1)
	runErr := errors.New("discovery failed")
	svc := newTestService(t, runnerFunc(func(context.Context, string, scrape.RunParams) ([]scrape.Record, error) {
		return nil, runErr
	}), adm, nil)

	_, err := svc.RunSync(context.Background(), "coffee", scrape.RunParams{})
	require.ErrorIs(t, err, runErr)
	require.Zero(t, adm.Active())
}

func TestRunSyncUsesCache(t *testing.T) {
	var calls atomic.Int32
	cache := &memoryCache{}
	svc := newTestService(t, echoRunner(&calls), admission.New(1), cache)

	first, err := svc.RunSync(context.Background(), "coffee", scrape.RunParams{})
	require.NoError(t, err)
	second, err := svc.RunSync(context.Background(), "coffee", scrape.RunParams{})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 1, cache.sets)
}

func TestRunSyncEmptyResultNotCached(t *testing.T) {
	cache := &memoryCache{}
	svc := newTestService(t, runnerFunc(func(context.Context, string, scrape.RunParams) ([]scrape.Record, error) {
		return nil, nil
	}), admission.New(1), cache)

	records, err := svc.RunSync(context.Background(), "nothing", scrape.RunParams{})
	require.NoError(t, err)
	require.NotNil(t, records)
	require.Empty(t, records)
	require.Zero(t, cache.sets)
}

func TestRunBulkDeduplicatesAndKeepsOrder(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, echoRunner(&calls), admission.New(2), nil)

	results, err := svc.RunBulk(context.Background(), []string{"b", "a", " b ", "", "c"}, scrape.RunParams{MaxResults: 1})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "b", results[0].Query)
	require.Equal(t, "a", results[1].Query)
	require.Equal(t, "c", results[2].Query)
	for _, r := range results {
		require.Empty(t, r.Error)
		require.Len(t, r.Records, 1)
	}
	require.Equal(t, int32(3), calls.Load())
}

func TestRunBulkReportsPerQueryFailure(t *testing.T) {
	svc := newTestService(t, runnerFunc(func(_ context.Context, query string, _ scrape.RunParams) ([]scrape.Record, error) {
		if query == "bad" {
			return nil, errors.New("navigation timeout")
		}
		return []scrape.Record{{Name: query}}, nil
	}), admission.New(2), nil)

	results, err := svc.RunBulk(context.Background(), []string{"good", "bad"}, scrape.RunParams{})
	require.NoError(t, err)
	require.Empty(t, results[0].Error)
	require.Contains(t, results[1].Error, "navigation timeout")
}

func TestRunBulkValidation(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, echoRunner(&calls), admission.New(1), nil)

	_, err := svc.RunBulk(context.Background(), []string{" ", ""}, scrape.RunParams{})
	require.ErrorIs(t, err, scrape.ErrInvalidParams)

	_, err = svc.RunBulk(context.Background(), []string{"a", "b", "c", "d"}, scrape.RunParams{})
	require.ErrorIs(t, err, scrape.ErrInvalidParams)

	_, err = svc.RunBulk(context.Background(), []string{"a"}, scrape.RunParams{MaxResults: 99})
	require.ErrorIs(t, err, scrape.ErrInvalidParams)
	require.Zero(t, calls.Load())
}

func TestSubmitAsyncLifecycle(t *testing.T) {
	release := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, query string, _ scrape.RunParams) ([]scrape.Record, error) {
		<-release
		return []scrape.Record{{Name: query}}, nil
	})
	adm := admission.New(1)
	reg := jobs.NewRegistry(memory.NewJobStore(), AdmittedRunner(runner, adm), jobs.Options{})
	t.Cleanup(reg.Close)
	svc, err := New(Deps{Runner: runner, Admission: adm, Jobs: reg}, Limits{})
	require.NoError(t, err)
	ctx := context.Background()

	id, err := svc.SubmitAsync(ctx, "coffee", scrape.RunParams{})
	require.NoError(t, err)

	job, err := svc.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusPending, job.Status)

	close(release)
	require.NoError(t, reg.Wait(ctx, id))
	job, err = svc.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, job.Status)
	require.Len(t, job.Records, 1)

	summaries, err := svc.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Zero(t, adm.Active())
}

func TestSubmitAsyncRejectsInvalidQuery(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, echoRunner(&calls), admission.New(1), nil)

	_, err := svc.SubmitAsync(context.Background(), "", scrape.RunParams{})
	require.ErrorIs(t, err, scrape.ErrInvalidParams)
}

func TestGetStatusUnknownJob(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, echoRunner(&calls), admission.New(1), nil)

	_, err := svc.GetStatus(context.Background(), "nope")
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
}

func TestAdmittedRunnerWaitsForSlot(t *testing.T) {
	var calls atomic.Int32
	adm := admission.New(1)
	runner := AdmittedRunner(echoRunner(&calls), adm)

	require.True(t, adm.TryAcquire())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Run(ctx, "coffee", scrape.RunParams{MaxResults: 1})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls.Load())

	adm.Release()
	records, err := runner.Run(context.Background(), "coffee", scrape.RunParams{MaxResults: 1})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Zero(t, adm.Active())
}

func TestHealthReportsLoad(t *testing.T) {
	var calls atomic.Int32
	adm := admission.New(3)
	svc := newTestService(t, echoRunner(&calls), adm, nil)
	require.True(t, adm.TryAcquire())
	defer adm.Release()

	h := svc.Health(context.Background())
	require.Equal(t, 1, h.ActiveRuns)
	require.Equal(t, 3, h.MaxConcurrency)
	require.NotNil(t, h.Pool)
	require.Equal(t, 2, h.Pool.Max)
	require.Zero(t, h.Jobs)
}
