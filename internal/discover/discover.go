// Package discover collects place locators from a search results feed by
// scrolling it until the item count converges.
package discover

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/metrics"
	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// Config controls the discovery render and convergence loop.
type Config struct {
	// SearchURLTemplate holds a single %s replaced by the escaped query.
	SearchURLTemplate string
	FeedSelector      string
	ItemSelector      string
	LinkAttribute     string
	ConsentSelectors  []string
	SettleDelay       time.Duration
	ConsentPause      time.Duration
	InitialWait       time.Duration
	IdleTimeout       time.Duration
	// StableThreshold is the number of consecutive unchanged counts after
	// which no more items are expected.
	StableThreshold int
	// MaxScrolls caps the scroll rounds; zero means no cap.
	MaxScrolls int
}

// DefaultConfig returns selectors and timings for the Google Maps results feed.
func DefaultConfig() Config {
	return Config{
		SearchURLTemplate: "https://www.google.com/maps/search/%s",
		FeedSelector:      `div[role="feed"]`,
		ItemSelector:      `a[href*="/maps/place/"]`,
		LinkAttribute:     "href",
		ConsentSelectors: []string{
			`button[aria-label="Accept all"]`,
			`button[aria-label="Reject all"]`,
			`form[action*="consent"] button`,
			`#L2AGLb`,
		},
		SettleDelay:     3 * time.Second,
		ConsentPause:    time.Second,
		InitialWait:     15 * time.Second,
		IdleTimeout:     2 * time.Second,
		StableThreshold: 3,
	}
}

// Discoverer produces a deduplicated, first-seen ordered list of work items.
type Discoverer struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New constructs a Discoverer; zero-valued config fields take defaults.
func New(cfg Config, logger *zap.Logger) *Discoverer {
	def := DefaultConfig()
	if cfg.SearchURLTemplate == "" {
		cfg.SearchURLTemplate = def.SearchURLTemplate
	}
	if cfg.FeedSelector == "" {
		cfg.FeedSelector = def.FeedSelector
	}
	if cfg.ItemSelector == "" {
		cfg.ItemSelector = def.ItemSelector
	}
	if cfg.LinkAttribute == "" {
		cfg.LinkAttribute = def.LinkAttribute
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = def.StableThreshold
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = def.InitialWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{cfg: cfg, logger: logger, sleep: sleepCtx}
}

// SearchURL renders the search locator for query.
func (d *Discoverer) SearchURL(query string) string {
	return strings.Replace(d.cfg.SearchURLTemplate, "%s", url.QueryEscape(query), 1)
}

// Discover opens a tab on res, runs the search, and scrolls until target
// items are visible or the count stops changing. An empty result is not an
// error.
func (d *Discoverer) Discover(
	ctx context.Context,
	res scrape.Resource,
	query string,
	target int,
) ([]scrape.WorkItem, error) {
	rc, err := res.NewContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open context: %w", scrape.ErrDiscoveryFailed, err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			d.logger.Debug("close discovery context failed", zap.Error(cerr))
		}
	}()

	logger := d.logger.With(zap.String("query", query), zap.Int("target", target))
	if err := rc.Navigate(ctx, d.SearchURL(query)); err != nil {
		return nil, fmt.Errorf("%w: navigate: %w", scrape.ErrDiscoveryFailed, err)
	}
	if err := d.sleep(ctx, d.cfg.SettleDelay); err != nil {
		return nil, fmt.Errorf("%w: settle: %w", scrape.ErrDiscoveryFailed, err)
	}
	d.dismissConsent(ctx, rc, logger)

	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.InitialWait)
	err = rc.WaitVisible(waitCtx, d.cfg.ItemSelector)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", scrape.ErrDiscoveryFailed, ctx.Err())
		}
		// Only the initial wait running out means the search has no results.
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: wait for results: %w", scrape.ErrDiscoveryFailed, err)
		}
		logger.Info("no results appeared", zap.Duration("waited", d.cfg.InitialWait))
		return []scrape.WorkItem{}, nil
	}

	items, err := d.collect(ctx, rc)
	if err != nil {
		return nil, err
	}
	lastCount, stable, rounds := len(items), 0, 0
	for len(items) < target && stable < d.cfg.StableThreshold {
		if d.cfg.MaxScrolls > 0 && rounds >= d.cfg.MaxScrolls {
			logger.Debug("scroll cap reached", zap.Int("max_scrolls", d.cfg.MaxScrolls))
			break
		}
		rounds++
		if err := rc.Scroll(ctx, d.cfg.FeedSelector); err != nil {
			logger.Debug("scroll failed", zap.Error(err))
		}
		// A quiescence timeout is treated as quiet enough.
		if err := rc.WaitIdle(ctx, d.cfg.IdleTimeout); err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", scrape.ErrDiscoveryFailed, ctx.Err())
		}
		if items, err = d.collect(ctx, rc); err != nil {
			return nil, err
		}
		if len(items) == lastCount {
			stable++
		} else {
			stable = 0
			lastCount = len(items)
		}
	}

	metrics.AddDiscovered(len(items))
	logger.Info("discovery finished", zap.Int("items", len(items)), zap.Int("scrolls", rounds))
	return items, nil
}

func (d *Discoverer) dismissConsent(ctx context.Context, rc scrape.RenderContext, logger *zap.Logger) {
	if len(d.cfg.ConsentSelectors) == 0 {
		return
	}
	clicked, err := rc.ClickFirstVisible(ctx, d.cfg.ConsentSelectors)
	if err != nil {
		logger.Debug("consent dismissal failed", zap.Error(err))
		return
	}
	if clicked {
		logger.Debug("consent dialog dismissed")
		_ = d.sleep(ctx, d.cfg.ConsentPause)
	}
}

func (d *Discoverer) collect(ctx context.Context, rc scrape.RenderContext) ([]scrape.WorkItem, error) {
	links, err := rc.Attributes(ctx, d.cfg.ItemSelector, d.cfg.LinkAttribute)
	if err != nil {
		return nil, fmt.Errorf("%w: read items: %w", scrape.ErrDiscoveryFailed, err)
	}
	seen := make(map[string]struct{}, len(links))
	items := make([]scrape.WorkItem, 0, len(links))
	for _, link := range links {
		link = strings.TrimSpace(link)
		if link == "" {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		items = append(items, scrape.WorkItem(link))
	}
	return items, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
