package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	idlePoll  = 100 * time.Millisecond
	idleQuiet = 500 * time.Millisecond
)

// Tab is one browser target. It implements scrape.RenderContext.
type Tab struct {
	browser *Browser
	ctx     context.Context
	cancel  context.CancelFunc
	idle    *idleTracker
	close   sync.Once
}

// run executes actions on the tab while honoring the caller's ctx. Canceling
// a child of the tab context aborts the actions without closing the tab.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.browser.noteError(err)
	return err
}

func (t *Tab) eval(ctx context.Context, script string, out any) error {
	return t.run(ctx, chromedp.Evaluate(script, out))
}

// Navigate loads url in the tab.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitVisible blocks until selector matches a visible node.
func (t *Tab) WaitVisible(ctx context.Context, selector string) error {
	if err := t.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

// ClickFirstVisible clicks the first selector whose node is rendered.
func (t *Tab) ClickFirstVisible(ctx context.Context, selectors []string) (bool, error) {
	script, err := jsCall(clickFirstVisibleJS, selectors)
	if err != nil {
		return false, err
	}
	var clicked bool
	if err := t.eval(ctx, script, &clicked); err != nil {
		return false, fmt.Errorf("click first visible: %w", err)
	}
	return clicked, nil
}

// Scroll moves the scrollable container matched by selector to its end.
func (t *Tab) Scroll(ctx context.Context, selector string) error {
	script, err := jsCall(scrollToEndJS, selector)
	if err != nil {
		return err
	}
	var found bool
	if err := t.eval(ctx, script, &found); err != nil {
		return fmt.Errorf("scroll %q: %w", selector, err)
	}
	if !found {
		return fmt.Errorf("scroll %q: container not found", selector)
	}
	return nil
}

// WaitIdle waits until no request has been in flight for a short quiet
// period. It returns context.DeadlineExceeded when timeout elapses first.
func (t *Tab) WaitIdle(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()
	for {
		now := time.Now()
		if t.idle.quietFor(now) >= idleQuiet {
			return nil
		}
		if !now.Before(deadline) {
			return context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Attributes returns attr for every node matching selector. Nodes lacking
// the attribute yield empty strings.
func (t *Tab) Attributes(ctx context.Context, selector, attr string) ([]string, error) {
	script, err := jsCall(attributesJS, selector, attr)
	if err != nil {
		return nil, err
	}
	var values []string
	if err := t.eval(ctx, script, &values); err != nil {
		return nil, fmt.Errorf("attributes %q: %w", selector, err)
	}
	return values, nil
}

// Attribute returns attr of the first node matching selector, or "".
func (t *Tab) Attribute(ctx context.Context, selector, attr string) (string, error) {
	script, err := jsCall(attributeJS, selector, attr)
	if err != nil {
		return "", err
	}
	var value string
	if err := t.eval(ctx, script, &value); err != nil {
		return "", fmt.Errorf("attribute %q: %w", selector, err)
	}
	return value, nil
}

// Text returns the rendered text of the first node matching selector, or "".
func (t *Tab) Text(ctx context.Context, selector string) (string, error) {
	script, err := jsCall(textJS, selector)
	if err != nil {
		return "", err
	}
	var value string
	if err := t.eval(ctx, script, &value); err != nil {
		return "", fmt.Errorf("text %q: %w", selector, err)
	}
	return strings.TrimSpace(value), nil
}

// Location returns the tab's current URL.
func (t *Tab) Location(ctx context.Context) (string, error) {
	var loc string
	if err := t.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

// Close closes the target. Repeated calls are no-ops.
func (t *Tab) Close() error {
	var err error
	t.close.Do(func() {
		err = chromedp.Cancel(t.ctx)
		t.cancel()
	})
	if err != nil && t.browser.IsLive() {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

const (
	clickFirstVisibleJS = `(selectors) => {
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (el && el.getClientRects().length > 0) {
			el.click();
			return true;
		}
	}
	return false;
}`
	scrollToEndJS = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.scrollTop = el.scrollHeight;
	return true;
}`
	attributesJS = `(sel, attr) => Array.from(document.querySelectorAll(sel), (el) => el.getAttribute(attr) || "")`
	attributeJS  = `(sel, attr) => {
	const el = document.querySelector(sel);
	return el ? (el.getAttribute(attr) || "") : "";
}`
	textJS = `(sel) => {
	const el = document.querySelector(sel);
	return el ? (el.innerText || el.textContent || "") : "";
}`
)

// jsCall renders an immediately invoked call of fn with JSON-encoded args.
func jsCall(fn string, args ...any) (string, error) {
	encoded := make([]string, 0, len(args))
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("encode script argument: %w", err)
		}
		encoded = append(encoded, string(raw))
	}
	return "(" + fn + ")(" + strings.Join(encoded, ", ") + ")", nil
}

// idleTracker counts in-flight network requests for one tab.
type idleTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	changed  time.Time
}

func newIdleTracker() *idleTracker {
	return &idleTracker{inflight: make(map[network.RequestID]struct{}), changed: time.Now()}
}

func (t *idleTracker) observe(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.start(e.RequestID, time.Now())
	case *network.EventLoadingFinished:
		t.finish(e.RequestID, time.Now())
	case *network.EventLoadingFailed:
		t.finish(e.RequestID, time.Now())
	}
}

func (t *idleTracker) start(id network.RequestID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.changed = at
}

func (t *idleTracker) finish(id network.RequestID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	t.changed = at
}

// quietFor reports how long the tab has had nothing in flight, or zero.
func (t *idleTracker) quietFor(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inflight) > 0 {
		return 0
	}
	return now.Sub(t.changed)
}
