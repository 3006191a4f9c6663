// Package browser implements scrape.Resource on top of headless Chrome via
// chromedp. Each Browser owns one Chrome process; each Tab is one target
// opened inside it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// Config controls how Chrome processes are launched.
type Config struct {
	Headless  bool
	UserAgent string
	// ExecPath overrides the Chrome binary lookup when set.
	ExecPath string
	// Lang is passed as the browser UI and Accept-Language locale.
	Lang string
}

// Factory launches Browsers. It implements scrape.ResourceFactory.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

// NewFactory constructs a Factory.
func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}
}

func (f *Factory) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if f.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 900),
	)
	if f.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.cfg.UserAgent))
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	if f.cfg.Lang != "" {
		opts = append(opts, chromedp.Flag("lang", f.cfg.Lang))
	}
	return opts
}

// Create starts a Chrome process and blocks until it accepts commands.
func (f *Factory) Create(ctx context.Context) (scrape.Resource, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), f.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(f.logger.Sugar().Debugf),
		chromedp.WithErrorf(f.logger.Sugar().Debugf),
	)

	// The first Run binds the process to browserCtx, so the caller's ctx
	// only aborts the launch.
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("launch browser: %w", ctx.Err())
		}
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	f.logger.Debug("browser launched")
	return &Browser{
		cfg:           f.cfg,
		logger:        f.logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Browser is one Chrome process.
type Browser struct {
	cfg           Config
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	dead      atomic.Bool
	terminate sync.Once
}

// IsLive reports whether the process can still serve tabs.
func (b *Browser) IsLive() bool {
	return !b.dead.Load() && b.browserCtx.Err() == nil
}

// NewContext opens a tab with network tracking enabled.
func (b *Browser) NewContext(ctx context.Context) (scrape.RenderContext, error) {
	if !b.IsLive() {
		return nil, errors.New("browser is not live")
	}
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	tracker := newIdleTracker()
	chromedp.ListenTarget(tabCtx, tracker.observe)

	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, network.Enable())
	stop()
	if err != nil {
		tabCancel()
		b.noteError(err)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("open tab: %w", ctx.Err())
		}
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &Tab{browser: b, ctx: tabCtx, cancel: tabCancel, idle: tracker}, nil
}

// Terminate closes Chrome. Repeated calls are no-ops.
func (b *Browser) Terminate() error {
	var err error
	b.terminate.Do(func() {
		b.dead.Store(true)
		err = chromedp.Cancel(b.browserCtx)
		b.browserCancel()
		b.allocCancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	if err != nil {
		return fmt.Errorf("terminate browser: %w", err)
	}
	return nil
}

// noteError marks the browser dead when err shows the connection is gone.
func (b *Browser) noteError(err error) {
	if errors.Is(err, chromedp.ErrChannelClosed) || errors.Is(err, chromedp.ErrInvalidContext) {
		if !b.dead.Swap(true) {
			b.logger.Warn("browser connection lost", zap.Error(err))
		}
	}
}

var (
	_ scrape.ResourceFactory = (*Factory)(nil)
	_ scrape.Resource        = (*Browser)(nil)
	_ scrape.RenderContext   = (*Tab)(nil)
)
