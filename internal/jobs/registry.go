// Package jobs tracks asynchronous scrape jobs from submission to settlement.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/metrics"
	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// Runner executes one orchestration.
type Runner interface {
	Run(ctx context.Context, query string, params scrape.RunParams) ([]scrape.Record, error)
}

// Options carries the optional collaborators of a Registry.
type Options struct {
	IDs    scrape.IDGenerator
	Clock  scrape.Clock
	Sink   scrape.RecordSink
	Logger *zap.Logger
}

// Registry submits jobs to a Runner in the background and records their
// outcome exactly once.
type Registry struct {
	store  scrape.JobStore
	runner Runner
	ids    scrape.IDGenerator
	clock  scrape.Clock
	sink   scrape.RecordSink
	logger *zap.Logger

	// base is the context every background run executes under; it outlives
	// the submitting request.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	done map[string]chan struct{}
}

// NewRegistry constructs a Registry.
func NewRegistry(store scrape.JobStore, runner Runner, opts Options) *Registry {
	if opts.IDs == nil {
		opts.IDs = UUIDGenerator{}
	}
	if opts.Clock == nil {
		opts.Clock = scrape.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:  store,
		runner: runner,
		ids:    opts.IDs,
		clock:  opts.Clock,
		sink:   opts.Sink,
		logger: opts.Logger,
		base:   base,
		cancel: cancel,
		done:   make(map[string]chan struct{}),
	}
}

// Submit stores a pending job, starts its run, and returns the job ID
// without waiting for the run.
func (r *Registry) Submit(ctx context.Context, query string, params scrape.RunParams) (string, error) {
	jobID, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := scrape.Job{
		ID:        jobID,
		Query:     query,
		Params:    params,
		Status:    scrape.JobStatusPending,
		CreatedAt: r.clock.Now(),
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.done[jobID] = done
	r.mu.Unlock()

	r.wg.Add(1)
	go r.execute(job, done)
	r.logger.Info("job submitted", zap.String("job_id", jobID), zap.String("query", query))
	return jobID, nil
}

// Status returns the job snapshot, or an error wrapping ErrJobNotFound.
func (r *Registry) Status(ctx context.Context, jobID string) (scrape.Job, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return scrape.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns summaries of every known job.
func (r *Registry) List(ctx context.Context) ([]scrape.JobSummary, error) {
	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]scrape.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Summary())
	}
	return out, nil
}

// Count returns the number of known jobs.
func (r *Registry) Count(ctx context.Context) int {
	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		return 0
	}
	return len(jobs)
}

// Wait blocks until jobID settles or ctx ends.
func (r *Registry) Wait(ctx context.Context, jobID string) error {
	r.mu.Lock()
	done, ok := r.done[jobID]
	r.mu.Unlock()
	if !ok {
		if _, err := r.store.GetJob(ctx, jobID); err != nil {
			return fmt.Errorf("wait job: %w", err)
		}
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait job: %w", ctx.Err())
	}
}

// Close cancels in-flight runs and waits for them to settle.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) execute(job scrape.Job, done chan struct{}) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.done, job.ID)
		r.mu.Unlock()
		close(done)
	}()

	logger := r.logger.With(zap.String("job_id", job.ID))
	records, err := r.runSafely(job)
	// Settlement must not be skipped because the base context was canceled.
	ctx := context.WithoutCancel(r.base)
	now := r.clock.Now()
	if err != nil {
		metrics.ObserveJob(string(scrape.JobStatusFailed))
		logger.Warn("job failed", zap.Error(err))
		if serr := r.store.FailJob(ctx, job.ID, err.Error(), now); serr != nil {
			logger.Error("record job failure failed", zap.Error(serr))
		}
		return
	}
	metrics.ObserveJob(string(scrape.JobStatusCompleted))
	if serr := r.store.CompleteJob(ctx, job.ID, records, now); serr != nil {
		logger.Error("record job completion failed", zap.Error(serr))
		return
	}
	logger.Info("job completed", zap.Int("records", len(records)))

	if r.sink != nil && len(records) > 0 {
		if serr := r.sink.WriteRecords(ctx, job.ID, records); serr != nil {
			logger.Error("record sink write failed", zap.Error(serr))
		}
	}
}

func (r *Registry) runSafely(job scrape.Job) (records []scrape.Record, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("run panicked: %v", rec)
		}
	}()
	records, err = r.runner.Run(r.base, job.Query, job.Params)
	if err == nil && records == nil {
		records = []scrape.Record{}
	}
	if errors.Is(err, context.Canceled) && r.base.Err() != nil {
		err = fmt.Errorf("job interrupted by shutdown: %w", err)
	}
	return records, err
}
