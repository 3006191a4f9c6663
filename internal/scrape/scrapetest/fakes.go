// Package scrapetest provides in-memory fakes of the rendering collaborators
// for use in tests.
package scrapetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// Factory creates Resources from NewPage.
type Factory struct {
	// NewPage builds the page served by each NewContext call. Nil means an
	// empty Page.
	NewPage func() *Page
	Err     error

	created atomic.Int32
	mu      sync.Mutex
	all     []*Resource
}

// Create implements scrape.ResourceFactory.
func (f *Factory) Create(_ context.Context) (scrape.Resource, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.created.Add(1)
	res := NewResource(f.NewPage)
	f.mu.Lock()
	f.all = append(f.all, res)
	f.mu.Unlock()
	return res, nil
}

// Created reports how many resources were created.
func (f *Factory) Created() int {
	return int(f.created.Load())
}

// Resources returns every resource created so far.
func (f *Factory) Resources() []*Resource {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Resource, len(f.all))
	copy(out, f.all)
	return out
}

// Resource is a fake browser session.
type Resource struct {
	newPage    func() *Page
	ContextErr error

	dead       atomic.Bool
	terminated atomic.Int32
	opened     atomic.Int32
	mu         sync.Mutex
	pages      []*Page
}

// NewResource constructs a live Resource.
func NewResource(newPage func() *Page) *Resource {
	return &Resource{newPage: newPage}
}

// IsLive implements scrape.Resource.
func (r *Resource) IsLive() bool {
	return !r.dead.Load()
}

// Kill marks the resource as disconnected.
func (r *Resource) Kill() {
	r.dead.Store(true)
}

// NewContext implements scrape.Resource.
func (r *Resource) NewContext(_ context.Context) (scrape.RenderContext, error) {
	if r.ContextErr != nil {
		return nil, r.ContextErr
	}
	r.opened.Add(1)
	page := &Page{}
	if r.newPage != nil {
		page = r.newPage()
	}
	r.mu.Lock()
	r.pages = append(r.pages, page)
	r.mu.Unlock()
	return page, nil
}

// Terminate implements scrape.Resource.
func (r *Resource) Terminate() error {
	r.terminated.Add(1)
	r.dead.Store(true)
	return nil
}

// Terminated reports how many times Terminate was called.
func (r *Resource) Terminated() int {
	return int(r.terminated.Load())
}

// Opened reports how many contexts were opened.
func (r *Resource) Opened() int {
	return int(r.opened.Load())
}

// Pages returns every page opened on the resource.
func (r *Resource) Pages() []*Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Page, len(r.pages))
	copy(out, r.pages)
	return out
}

// Page is a scripted RenderContext. Batches[i] lists the item links visible
// after i scrolls; the last batch repeats once scrolling runs past it.
type Page struct {
	Batches        [][]string
	NavigateErr    error
	// VisibleErr is returned at once by WaitVisible, as a crashed tab would.
	VisibleErr     error
	AttributesErr  error
	ConsentVisible string
	// Fields maps a URL to selector → text, used by Text and Attribute.
	Fields map[string]map[string]string
	// Delay is applied to Navigate to simulate render latency.
	Delay time.Duration

	mu       sync.Mutex
	url      string
	scrolls  int
	clicked  []string
	idles    int
	closed   bool
	navigate []string
}

// Navigate implements scrape.RenderContext.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.navigate = append(p.navigate, url)
	return nil
}

// WaitVisible implements scrape.RenderContext. A page without items blocks
// until ctx ends, like a selector that never appears.
func (p *Page) WaitVisible(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.VisibleErr != nil {
		return p.VisibleErr
	}
	p.mu.Lock()
	visible := p.Fields != nil || (len(p.Batches) > 0 && len(p.Batches[0]) > 0)
	p.mu.Unlock()
	if visible {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// ClickFirstVisible implements scrape.RenderContext.
func (p *Page) ClickFirstVisible(_ context.Context, selectors []string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sel := range selectors {
		if sel == p.ConsentVisible && sel != "" {
			p.clicked = append(p.clicked, sel)
			return true, nil
		}
	}
	return false, nil
}

// Scroll implements scrape.RenderContext.
func (p *Page) Scroll(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	return nil
}

// WaitIdle implements scrape.RenderContext. It always reports a timeout,
// which callers must tolerate.
func (p *Page) WaitIdle(_ context.Context, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idles++
	return context.DeadlineExceeded
}

// Attributes implements scrape.RenderContext.
func (p *Page) Attributes(_ context.Context, _, _ string) ([]string, error) {
	if p.AttributesErr != nil {
		return nil, p.AttributesErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Batches) == 0 {
		return nil, nil
	}
	idx := p.scrolls
	if idx >= len(p.Batches) {
		idx = len(p.Batches) - 1
	}
	out := make([]string, len(p.Batches[idx]))
	copy(out, p.Batches[idx])
	return out, nil
}

// Attribute implements scrape.RenderContext.
func (p *Page) Attribute(ctx context.Context, selector, _ string) (string, error) {
	return p.Text(ctx, selector)
}

// Text implements scrape.RenderContext.
func (p *Page) Text(_ context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Fields[p.url][selector], nil
}

// Location implements scrape.RenderContext.
func (p *Page) Location(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

// Close implements scrape.RenderContext.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Scrolls reports the number of Scroll calls.
func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

// Clicked returns the selectors that were clicked.
func (p *Page) Clicked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicked...)
}

// Visited returns every URL navigated to.
func (p *Page) Visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigate...)
}

// ExtractFunc adapts a function to scrape.PageExtractor.
type ExtractFunc func(ctx context.Context, rc scrape.RenderContext, item scrape.WorkItem) (*scrape.Record, error)

// Extract implements scrape.PageExtractor.
func (f ExtractFunc) Extract(
	ctx context.Context,
	rc scrape.RenderContext,
	item scrape.WorkItem,
) (*scrape.Record, error) {
	return f(ctx, rc, item)
}
