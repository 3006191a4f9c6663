// Package extract runs the per-chunk extraction workers and the place page
// field extractor.
package extract

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/metrics"
	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// Worker extracts records from one chunk of work items using a single
// rendering context.
type Worker struct {
	index       int
	extractor   scrape.PageExtractor
	itemTimeout time.Duration
	logger      *zap.Logger
	observe     func(outcome string)
}

// NewWorker constructs a Worker. A non-positive itemTimeout disables the
// per-item deadline.
func NewWorker(index int, extractor scrape.PageExtractor, itemTimeout time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		index:       index,
		extractor:   extractor,
		itemTimeout: itemTimeout,
		logger:      logger.With(zap.Int("worker", index)),
		observe:     metrics.ObserveRecord,
	}
}

// Run processes chunk in order. It stops early once tracker's budget is
// exhausted. Per-item failures are skipped; only failing to open the
// rendering context is returned as an error.
func (w *Worker) Run(
	ctx context.Context,
	res scrape.Resource,
	chunk []scrape.WorkItem,
	tracker *Tracker,
) ([]scrape.Record, error) {
	if len(chunk) == 0 {
		return nil, nil
	}
	rc, err := res.NewContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker %d open context: %w", w.index, err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			w.logger.Debug("close worker context failed", zap.Error(cerr))
		}
	}()

	var out []scrape.Record
	for _, item := range chunk {
		if tracker.Exhausted() {
			w.logger.Debug("budget exhausted, stopping chunk early")
			break
		}
		if ctx.Err() != nil {
			break
		}
		rec, err := w.extractOne(ctx, rc, item)
		if err != nil {
			w.observe(metrics.OutcomeFailed)
			w.logger.Debug("item skipped", zap.String("item", string(item)), zap.Error(err))
			continue
		}
		if rec == nil || rec.Name == "" {
			continue
		}
		switch tracker.Offer(rec.DedupKey()) {
		case Duplicate:
			w.observe(metrics.OutcomeDuplicate)
			continue
		case Exhausted:
			w.observe(metrics.OutcomeCapped)
			continue
		}
		w.observe(metrics.OutcomeAccepted)
		out = append(out, *rec)
	}
	w.logger.Debug("chunk finished", zap.Int("items", len(chunk)), zap.Int("records", len(out)))
	return out, nil
}

func (w *Worker) extractOne(
	ctx context.Context,
	rc scrape.RenderContext,
	item scrape.WorkItem,
) (*scrape.Record, error) {
	itemCtx := ctx
	if w.itemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, w.itemTimeout)
		defer cancel()
	}
	rec, err := w.extractor.Extract(itemCtx, rc, item)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", scrape.ErrItemFailed, err)
	}
	return rec, nil
}
