// Package app builds the long-lived services of the scraper and owns their
// lifecycle. It is the dependency injection root for the serve and scrape
// commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/admission"
	"github.com/JakeFAU/places-scraper/internal/api"
	"github.com/JakeFAU/places-scraper/internal/browser"
	"github.com/JakeFAU/places-scraper/internal/cache"
	"github.com/JakeFAU/places-scraper/internal/config"
	"github.com/JakeFAU/places-scraper/internal/discover"
	"github.com/JakeFAU/places-scraper/internal/extract"
	"github.com/JakeFAU/places-scraper/internal/jobs"
	"github.com/JakeFAU/places-scraper/internal/orchestrator"
	"github.com/JakeFAU/places-scraper/internal/pool"
	"github.com/JakeFAU/places-scraper/internal/scrape"
	"github.com/JakeFAU/places-scraper/internal/service"
	"github.com/JakeFAU/places-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/places-scraper/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	pool      *pool.Pool
	registry  *jobs.Registry
	service   *service.Service
	apiServer *api.Server
	cache     *cache.RedisCache
	sink      *pgstore.RecordSink
	closeOnce sync.Once
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	factory scrape.ResourceFactory
	sink    scrape.RecordSink
}

// WithResourceFactory replaces the Chrome factory, mainly for tests.
func WithResourceFactory(f scrape.ResourceFactory) Option {
	return func(o *buildOptions) { o.factory = f }
}

// WithRecordSink replaces the configured record sink.
func WithRecordSink(s scrape.RecordSink) Option {
	return func(o *buildOptions) { o.sink = s }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("max_browsers", cfg.Browser.MaxBrowsers),
		zap.Int("max_concurrency", cfg.Admission.MaxConcurrency),
	)

	factory := bo.factory
	if factory == nil {
		factory = browser.NewFactory(browser.Config{
			Headless:  cfg.Browser.Headless,
			UserAgent: cfg.Browser.UserAgent,
			ExecPath:  cfg.Browser.ExecPath,
			Lang:      cfg.Browser.Lang,
		}, logger.Named("browser"))
	}
	var err error
	app.pool, err = pool.New(factory, pool.Config{
		MaxResources: cfg.Browser.MaxBrowsers,
		PollInterval: cfg.AcquirePoll(),
	}, logger.Named("pool"))
	if err != nil {
		return nil, fmt.Errorf("pool init failed: %w", err)
	}

	orch := orchestrator.New(
		app.pool,
		discover.New(discoveryConfig(cfg.Discovery), logger.Named("discover")),
		extract.NewPlaceExtractor(cfg.Extraction.Selectors, cfg.Browser.NavQPS),
		orchestrator.Config{
			OvershootFactor: cfg.Extraction.OvershootFactor,
			ItemTimeout:     cfg.ItemTimeout(),
		},
		logger.Named("orchestrator"),
	)

	resultCache, err := app.setupCache(ctx)
	if err != nil {
		return nil, err
	}

	sink := bo.sink
	if sink == nil {
		if err := app.setupDatabase(ctx); err != nil {
			app.closeInfrastructure()
			return nil, err
		}
		if app.sink != nil {
			sink = app.sink
		}
	}

	adm := admission.New(cfg.Admission.MaxConcurrency)
	app.registry = jobs.NewRegistry(
		memory.NewJobStore(),
		service.AdmittedRunner(orch, adm),
		jobs.Options{Sink: sink, Logger: logger.Named("jobs")},
	)

	deps := service.Deps{
		Runner:    orch,
		Admission: adm,
		Jobs:      app.registry,
		Pool:      app.pool,
		Logger:    logger.Named("service"),
	}
	if resultCache != nil {
		deps.Cache = resultCache
	}
	app.service, err = service.New(deps, service.Limits{
		DefaultMaxResults: cfg.Extraction.DefaultMaxResults,
		MaxResultsLimit:   cfg.Extraction.MaxResultsLimit,
		DefaultWorkers:    cfg.Extraction.DefaultWorkers,
		MaxWorkers:        cfg.Extraction.MaxWorkers,
		BulkBatchSize:     cfg.Bulk.BatchSize,
		BulkMaxQueries:    cfg.Bulk.MaxQueries,
	})
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("service init failed: %w", err)
	}
	app.apiServer = api.NewServer(app.service, *cfg, logger.Named("api"))
	return app, nil
}

func discoveryConfig(c config.DiscoveryConfig) discover.Config {
	return discover.Config{
		SearchURLTemplate: c.SearchURLTemplate,
		FeedSelector:      c.FeedSelector,
		ItemSelector:      c.ItemSelector,
		ConsentSelectors:  c.ConsentSelectors,
		SettleDelay:       config.Millis(c.SettleMs),
		ConsentPause:      config.Millis(c.ConsentPauseMs),
		InitialWait:       time.Duration(c.InitialWaitSeconds) * time.Second,
		IdleTimeout:       config.Millis(c.IdleTimeoutMs),
		StableThreshold:   c.StableThreshold,
		MaxScrolls:        c.MaxScrolls,
	}
}

func (a *App) setupCache(ctx context.Context) (*cache.RedisCache, error) {
	if a.cfg.Cache.RedisAddr == "" {
		a.logger.Info("result cache disabled")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Cache.RedisAddr,
		Password: a.cfg.Cache.RedisPassword,
		DB:       a.cfg.Cache.RedisDB,
	})
	c, err := cache.NewRedisCache(client, a.cfg.Cache.Prefix, a.cfg.CacheTTL())
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("result cache init failed: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		// The cache is optional; runs proceed without it.
		a.logger.Warn("result cache unreachable", zap.String("addr", a.cfg.Cache.RedisAddr), zap.Error(err))
	}
	a.cache = c
	a.logger.Info("result cache enabled",
		zap.String("addr", a.cfg.Cache.RedisAddr),
		zap.Duration("ttl", a.cfg.CacheTTL()),
	)
	return c, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Info("no database DSN configured, async results stay in memory only")
		return nil
	}
	sink, err := pgstore.NewRecordSink(ctx, pgstore.RecordSinkConfig{
		DSN:      a.cfg.Database.DSN,
		Table:    a.cfg.Database.Table,
		MaxConns: a.cfg.Database.MaxConns,
		MinConns: a.cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("record sink init failed: %w", err)
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		sink.Close()
		return fmt.Errorf("record sink schema failed: %w", err)
	}
	a.sink = sink
	a.logger.Info("record sink initialized", zap.String("table", a.cfg.Database.Table))
	return nil
}

// Service exposes the scrape service for the CLI.
func (a *App) Service() *service.Service {
	return a.service
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()
	return runErr
}

// Close stops background jobs and releases browsers and connections.
// Repeated calls are no-ops.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.registry != nil {
			a.registry.Close()
		}
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
}

func (a *App) closeInfrastructure() {
	if a.pool != nil {
		a.pool.Shutdown()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("result cache close failed", zap.Error(err))
		}
	}
	if a.sink != nil {
		a.sink.Close()
	}
}
