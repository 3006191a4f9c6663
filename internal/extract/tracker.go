package extract

import "sync"

// Tracker is the dedup set and remaining result budget shared by every worker
// of one run. Accept is the only mutation and is atomic.
type Tracker struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	remaining int
}

// NewTracker constructs a Tracker allowing budget acceptances.
func NewTracker(budget int) *Tracker {
	return &Tracker{seen: make(map[string]struct{}), remaining: budget}
}

// Exhausted reports whether the budget is used up.
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining <= 0
}

// Verdict is the outcome of offering a key to a Tracker.
type Verdict int

// Offer outcomes.
const (
	Accepted Verdict = iota
	Duplicate
	Exhausted
)

// Offer marks key as seen and consumes one unit of budget when the key is new
// and budget remains. Exhaustion is reported before duplication.
func (t *Tracker) Offer(key string) Verdict {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remaining <= 0 {
		return Exhausted
	}
	if _, ok := t.seen[key]; ok {
		return Duplicate
	}
	t.seen[key] = struct{}{}
	t.remaining--
	return Accepted
}

// Accept reports whether Offer accepted key.
func (t *Tracker) Accept(key string) bool {
	return t.Offer(key) == Accepted
}

// Remaining returns the unused budget.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}
