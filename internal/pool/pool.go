// Package pool manages a bounded set of long-lived browser sessions shared by
// every orchestration run.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/metrics"
	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// Config controls pool sizing.
type Config struct {
	MaxResources int
	// PollInterval bounds how long a waiter sleeps before re-checking the idle
	// set when no release notification arrives.
	PollInterval time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Live int `json:"live"`
	Idle int `json:"idle"`
	Max  int `json:"max"`
}

// Pool hands out Resources, creating them lazily up to MaxResources.
type Pool struct {
	factory scrape.ResourceFactory
	cfg     Config
	logger  *zap.Logger

	mu      sync.Mutex
	created []scrape.Resource
	idle    []scrape.Resource
	live    int
	closed  bool
	// released is closed and replaced on every Release to wake waiters.
	released chan struct{}
}

// New constructs a Pool.
func New(factory scrape.ResourceFactory, cfg Config, logger *zap.Logger) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("resource factory is required")
	}
	if cfg.MaxResources <= 0 {
		return nil, fmt.Errorf("max resources must be > 0, got %d", cfg.MaxResources)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		factory:  factory,
		cfg:      cfg,
		logger:   logger,
		released: make(chan struct{}),
	}, nil
}

// Acquire returns a live Resource. Idle resources are reused first; new ones
// are created while below the cap; otherwise Acquire waits for a release.
// There is no timeout here, cancellation belongs to ctx.
func (p *Pool) Acquire(ctx context.Context) (scrape.Resource, error) {
	start := time.Now()
	defer func() { metrics.ObservePoolAcquire(time.Since(start)) }()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, scrape.ErrPoolClosed
		}
		if res := p.popLiveLocked(); res != nil {
			p.publishLocked()
			p.mu.Unlock()
			return res, nil
		}
		if p.live < p.cfg.MaxResources {
			p.live++
			p.publishLocked()
			p.mu.Unlock()
			return p.create(ctx)
		}
		wake := p.released
		p.mu.Unlock()

		timer := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-wake:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire resource: %w", ctx.Err())
		}
		timer.Stop()
	}
}

// Release returns res to the idle set if it is still connected. A
// disconnected resource is dropped and never handed out again; it is
// terminated with the rest at Shutdown.
func (p *Pool) Release(res scrape.Resource) {
	if res == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if res.IsLive() {
		p.idle = append(p.idle, res)
	} else {
		p.live--
		p.logger.Warn("dropping disconnected browser on release")
	}
	p.publishLocked()
	p.notifyLocked()
}

// Shutdown terminates every resource ever created exactly once. Termination
// errors are logged and swallowed.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	created := p.created
	p.created = nil
	p.idle = nil
	p.live = 0
	p.publishLocked()
	p.notifyLocked()
	p.mu.Unlock()

	for _, res := range created {
		if err := res.Terminate(); err != nil {
			p.logger.Debug("terminate browser failed", zap.Error(err))
		}
	}
	p.logger.Info("resource pool shut down", zap.Int("terminated", len(created)))
}

// Stats reports the current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Live: p.live, Idle: len(p.idle), Max: p.cfg.MaxResources}
}

func (p *Pool) create(ctx context.Context) (scrape.Resource, error) {
	res, err := p.factory.Create(ctx)
	p.mu.Lock()
	if err != nil {
		p.live--
		p.publishLocked()
		p.notifyLocked()
		p.mu.Unlock()
		return nil, fmt.Errorf("create resource: %w", err)
	}
	if p.closed {
		p.mu.Unlock()
		if terr := res.Terminate(); terr != nil {
			p.logger.Debug("terminate browser failed", zap.Error(terr))
		}
		return nil, scrape.ErrPoolClosed
	}
	p.created = append(p.created, res)
	live := p.live
	p.mu.Unlock()
	p.logger.Info("browser created", zap.Int("live", live), zap.Int("max", p.cfg.MaxResources))
	return res, nil
}

// popLiveLocked takes the most recently released idle resource that is still
// connected. Resources that died while idle are dropped.
func (p *Pool) popLiveLocked() scrape.Resource {
	for len(p.idle) > 0 {
		last := len(p.idle) - 1
		res := p.idle[last]
		p.idle = p.idle[:last]
		if res.IsLive() {
			return res
		}
		p.live--
		p.logger.Warn("dropping browser that disconnected while idle")
	}
	return nil
}

func (p *Pool) notifyLocked() {
	close(p.released)
	p.released = make(chan struct{})
}

func (p *Pool) publishLocked() {
	metrics.SetPoolBrowsers(p.live, len(p.idle))
}
