// Package orchestrator composes discovery, partitioning, and parallel
// extraction into a single capped, deduplicated run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/places-scraper/internal/extract"
	"github.com/JakeFAU/places-scraper/internal/metrics"
	"github.com/JakeFAU/places-scraper/internal/partition"
	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// ResourcePool is the acquire/release contract the orchestrator depends on.
type ResourcePool interface {
	Acquire(ctx context.Context) (scrape.Resource, error)
	Release(res scrape.Resource)
}

// Discoverer finds candidate work items for a query.
type Discoverer interface {
	Discover(ctx context.Context, res scrape.Resource, query string, target int) ([]scrape.WorkItem, error)
}

// Config controls orchestration.
type Config struct {
	// OvershootFactor multiplies maxResults to size the candidate list.
	OvershootFactor int
	ItemTimeout     time.Duration
}

// Orchestrator runs one query end to end against a pooled browser.
type Orchestrator struct {
	pool       ResourcePool
	discoverer Discoverer
	extractor  scrape.PageExtractor
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Orchestrator.
func New(
	pool ResourcePool,
	discoverer Discoverer,
	extractor scrape.PageExtractor,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.OvershootFactor <= 0 {
		cfg.OvershootFactor = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		pool:       pool,
		discoverer: discoverer,
		extractor:  extractor,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run executes query and returns at most params.MaxResults records with
// unique dedup keys, ordered by worker index then position within the chunk.
// The browser is always returned to the pool.
func (o *Orchestrator) Run(ctx context.Context, query string, params scrape.RunParams) ([]scrape.Record, error) {
	if params.MaxResults <= 0 {
		return nil, fmt.Errorf("%w: max results must be > 0", scrape.ErrInvalidParams)
	}
	workers := max(params.Workers, 1)
	logger := o.logger.With(zap.String("query", query))
	start := time.Now()

	res, err := o.pool.Acquire(ctx)
	if err != nil {
		metrics.ObserveRun("failed")
		return nil, fmt.Errorf("%w: acquire browser: %w", scrape.ErrOrchestrationFailed, err)
	}
	defer o.pool.Release(res)

	records, err := o.run(ctx, res, query, params.MaxResults, workers)
	if err != nil {
		metrics.ObserveRun("failed")
		logger.Error("run failed", zap.Error(err))
		return nil, err
	}
	metrics.ObserveRun("succeeded")
	logger.Info("run finished",
		zap.Int("records", len(records)),
		zap.Int("workers", workers),
		zap.Duration("elapsed", time.Since(start)),
	)
	return records, nil
}

func (o *Orchestrator) run(
	ctx context.Context,
	res scrape.Resource,
	query string,
	maxResults int,
	workers int,
) ([]scrape.Record, error) {
	target := maxResults * o.cfg.OvershootFactor
	found, err := o.discoverer.Discover(ctx, res, query, target)
	if err != nil {
		if !errors.Is(err, scrape.ErrDiscoveryFailed) {
			err = fmt.Errorf("%w: %w", scrape.ErrDiscoveryFailed, err)
		}
		return nil, err
	}
	if len(found) == 0 {
		return []scrape.Record{}, nil
	}
	if len(found) > target {
		found = found[:target]
	}

	chunks := partition.Split(found, workers)
	tracker := extract.NewTracker(maxResults)
	partials := make([][]scrape.Record, len(chunks))

	// Every worker runs to completion; there is no cross-worker short circuit.
	var g errgroup.Group
	for i, chunk := range chunks {
		w := extract.NewWorker(i, o.extractor, o.cfg.ItemTimeout, o.logger)
		g.Go(func() error {
			out, werr := w.Run(ctx, res, chunk, tracker)
			partials[i] = out
			return werr
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", scrape.ErrOrchestrationFailed, err)
	}
	// Workers stop quietly on cancellation; partial output is not a result.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", scrape.ErrOrchestrationFailed, err)
	}
	return merge(partials, maxResults), nil
}

// merge concatenates worker outputs in worker-index order, dropping repeated
// dedup keys, and truncates to limit.
func merge(partials [][]scrape.Record, limit int) []scrape.Record {
	seen := make(map[string]struct{})
	out := make([]scrape.Record, 0, limit)
	for _, part := range partials {
		for _, rec := range part {
			if len(out) >= limit {
				return out
			}
			key := rec.DedupKey()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}
