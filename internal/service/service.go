// Package service is the entry point the HTTP and CLI layers call into. It
// validates requests, applies admission control, and fronts the result cache
// and the job registry.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/places-scraper/internal/pool"
	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// Runner executes one orchestration.
type Runner interface {
	Run(ctx context.Context, query string, params scrape.RunParams) ([]scrape.Record, error)
}

// Admission bounds concurrent orchestrations.
type Admission interface {
	TryAcquire() bool
	Acquire(ctx context.Context) error
	Release()
	Active() int
	Max() int
}

// JobRegistry owns asynchronous jobs.
type JobRegistry interface {
	Submit(ctx context.Context, query string, params scrape.RunParams) (string, error)
	Status(ctx context.Context, jobID string) (scrape.Job, error)
	List(ctx context.Context) ([]scrape.JobSummary, error)
	Count(ctx context.Context) int
}

// PoolStats reports the browser pool state.
type PoolStats interface {
	Stats() pool.Stats
}

// Limits bound and default the client-supplied parameters.
type Limits struct {
	DefaultMaxResults int
	MaxResultsLimit   int
	DefaultWorkers    int
	MaxWorkers        int
	BulkBatchSize     int
	BulkMaxQueries    int
}

func (l Limits) withDefaults() Limits {
	if l.DefaultMaxResults <= 0 {
		l.DefaultMaxResults = 20
	}
	if l.MaxResultsLimit <= 0 {
		l.MaxResultsLimit = 200
	}
	if l.DefaultWorkers <= 0 {
		l.DefaultWorkers = 3
	}
	if l.MaxWorkers <= 0 {
		l.MaxWorkers = 10
	}
	if l.BulkBatchSize <= 0 {
		l.BulkBatchSize = 2
	}
	if l.BulkMaxQueries <= 0 {
		l.BulkMaxQueries = 20
	}
	return l
}

// Deps are the collaborators of a Service. Cache and Pool are optional.
type Deps struct {
	Runner    Runner
	Admission Admission
	Jobs      JobRegistry
	Cache     scrape.ResultCache
	Pool      PoolStats
	Logger    *zap.Logger
}

// Service implements the sync, bulk, and async scrape operations.
type Service struct {
	runner    Runner
	admission Admission
	jobs      JobRegistry
	cache     scrape.ResultCache
	pool      PoolStats
	limits    Limits
	logger    *zap.Logger
}

// New constructs a Service.
func New(deps Deps, limits Limits) (*Service, error) {
	if deps.Runner == nil {
		return nil, errors.New("service: runner is required")
	}
	if deps.Admission == nil {
		return nil, errors.New("service: admission controller is required")
	}
	if deps.Jobs == nil {
		return nil, errors.New("service: job registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		runner:    deps.Runner,
		admission: deps.Admission,
		jobs:      deps.Jobs,
		cache:     deps.Cache,
		pool:      deps.Pool,
		limits:    limits.withDefaults(),
		logger:    deps.Logger,
	}, nil
}

// Normalize trims query and fills defaulted params, rejecting values outside
// the configured limits with ErrInvalidParams.
func (s *Service) Normalize(query string, params scrape.RunParams) (string, scrape.RunParams, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", params, fmt.Errorf("%w: query is required", scrape.ErrInvalidParams)
	}
	if params.MaxResults == 0 {
		params.MaxResults = s.limits.DefaultMaxResults
	}
	if params.MaxResults < 0 || params.MaxResults > s.limits.MaxResultsLimit {
		return "", params, fmt.Errorf("%w: max_results must be between 1 and %d",
			scrape.ErrInvalidParams, s.limits.MaxResultsLimit)
	}
	if params.Workers == 0 {
		params.Workers = s.limits.DefaultWorkers
	}
	if params.Workers < 0 || params.Workers > s.limits.MaxWorkers {
		return "", params, fmt.Errorf("%w: workers must be between 1 and %d",
			scrape.ErrInvalidParams, s.limits.MaxWorkers)
	}
	return query, params, nil
}

// RunSync runs one orchestration inline. It fails fast with ErrOverCapacity
// when every admission slot is taken. Cached results bypass admission.
func (s *Service) RunSync(ctx context.Context, query string, params scrape.RunParams) ([]scrape.Record, error) {
	query, params, err := s.Normalize(query, params)
	if err != nil {
		return nil, err
	}
	return s.runAdmitted(ctx, query, params)
}

func (s *Service) runAdmitted(ctx context.Context, query string, params scrape.RunParams) ([]scrape.Record, error) {
	logger := s.logger.With(zap.String("query", query))
	if s.cache != nil {
		records, ok, err := s.cache.Get(ctx, query, params)
		switch {
		case err != nil:
			logger.Warn("result cache read failed", zap.Error(err))
		case ok:
			logger.Debug("result cache hit", zap.Int("records", len(records)))
			return records, nil
		}
	}

	if !s.admission.TryAcquire() {
		return nil, fmt.Errorf("%w: %d orchestrations running", scrape.ErrOverCapacity, s.admission.Max())
	}
	defer s.admission.Release()

	records, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []scrape.Record{}
	}
	if s.cache != nil && len(records) > 0 {
		if err := s.cache.Set(ctx, query, params, records); err != nil {
			logger.Warn("result cache write failed", zap.Error(err))
		}
	}
	return records, nil
}

// BulkResult is the outcome of one query in a bulk request.
type BulkResult struct {
	Query   string          `json:"query"`
	Records []scrape.Record `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RunBulk runs each distinct query in fixed-size concurrent batches. Each
// query takes its own admission slot; an over-capacity or failed query is
// reported in its result without failing the others. Results follow the
// first-seen order of the queries.
func (s *Service) RunBulk(ctx context.Context, queries []string, params scrape.RunParams) ([]BulkResult, error) {
	unique := dedupQueries(queries)
	if len(unique) == 0 {
		return nil, fmt.Errorf("%w: at least one query is required", scrape.ErrInvalidParams)
	}
	if len(unique) > s.limits.BulkMaxQueries {
		return nil, fmt.Errorf("%w: at most %d queries per bulk request",
			scrape.ErrInvalidParams, s.limits.BulkMaxQueries)
	}
	_, normalized, err := s.Normalize(unique[0], params)
	if err != nil {
		return nil, err
	}
	params = normalized

	results := make([]BulkResult, len(unique))
	for start := 0; start < len(unique); start += s.limits.BulkBatchSize {
		end := min(start+s.limits.BulkBatchSize, len(unique))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				query := unique[i]
				records, err := s.runAdmitted(ctx, query, params)
				if err != nil {
					s.logger.Warn("bulk query failed", zap.String("query", query), zap.Error(err))
					results[i] = BulkResult{Query: query, Error: err.Error()}
					return nil
				}
				results[i] = BulkResult{Query: query, Records: records}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return results[:end], fmt.Errorf("bulk run interrupted: %w", err)
		}
	}
	return results, nil
}

func dedupQueries(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

// SubmitAsync registers a background job and returns its id immediately.
func (s *Service) SubmitAsync(ctx context.Context, query string, params scrape.RunParams) (string, error) {
	query, params, err := s.Normalize(query, params)
	if err != nil {
		return "", err
	}
	jobID, err := s.jobs.Submit(ctx, query, params)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	return jobID, nil
}

// GetStatus returns the job snapshot or an error wrapping ErrJobNotFound.
func (s *Service) GetStatus(ctx context.Context, jobID string) (scrape.Job, error) {
	return s.jobs.Status(ctx, jobID)
}

// ListJobs returns every known job without its records.
func (s *Service) ListJobs(ctx context.Context) ([]scrape.JobSummary, error) {
	return s.jobs.List(ctx)
}

// Readiness summarizes load for the readiness probe.
type Readiness struct {
	ActiveRuns     int         `json:"active_runs"`
	MaxConcurrency int         `json:"max_concurrency"`
	Pool           *pool.Stats `json:"pool,omitempty"`
	Jobs           int         `json:"jobs"`
}

// Health reports current load.
func (s *Service) Health(ctx context.Context) Readiness {
	r := Readiness{
		ActiveRuns:     s.admission.Active(),
		MaxConcurrency: s.admission.Max(),
		Jobs:           s.jobs.Count(ctx),
	}
	if s.pool != nil {
		stats := s.pool.Stats()
		r.Pool = &stats
	}
	return r
}

// AdmittedRunner wraps runner so each background run waits for an admission
// slot before starting. Jobs therefore stay pending under load rather than
// failing.
func AdmittedRunner(runner Runner, adm Admission) Runner {
	return admittedRunner{runner: runner, admission: adm}
}

type admittedRunner struct {
	runner    Runner
	admission Admission
}

func (a admittedRunner) Run(ctx context.Context, query string, params scrape.RunParams) ([]scrape.Record, error) {
	if err := a.admission.Acquire(ctx); err != nil {
		return nil, err
	}
	defer a.admission.Release()
	return a.runner.Run(ctx, query, params)
}
