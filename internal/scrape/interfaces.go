package scrape

import (
	"context"
	"time"
)

// Resource is an expensive long-lived rendering session (a browser).
type Resource interface {
	IsLive() bool
	NewContext(ctx context.Context) (RenderContext, error)
	Terminate() error
}

// ResourceFactory spins up new Resources.
type ResourceFactory interface {
	Create(ctx context.Context) (Resource, error)
}

// RenderContext is a lightweight tab opened on a Resource. All lookups use CSS
// selectors; missing nodes yield empty values rather than errors.
type RenderContext interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	// ClickFirstVisible clicks the first selector that matches a visible node.
	ClickFirstVisible(ctx context.Context, selectors []string) (bool, error)
	Scroll(ctx context.Context, selector string) error
	// WaitIdle blocks until network activity settles or timeout elapses.
	WaitIdle(ctx context.Context, timeout time.Duration) error
	Attributes(ctx context.Context, selector, attr string) ([]string, error)
	Attribute(ctx context.Context, selector, attr string) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	Location(ctx context.Context) (string, error)
	Close() error
}

// PageExtractor turns one work item into a Record. A nil record with a nil
// error means the page held nothing extractable.
type PageExtractor interface {
	Extract(ctx context.Context, rc RenderContext, item WorkItem) (*Record, error)
}

// RecordSink receives the records of a finished job.
type RecordSink interface {
	WriteRecords(ctx context.Context, jobID string, records []Record) error
}

// ResultCache stores sync run results keyed by query and params.
type ResultCache interface {
	Get(ctx context.Context, query string, params RunParams) ([]Record, bool, error)
	Set(ctx context.Context, query string, params RunParams, records []Record) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// SystemClock implements Clock using time.Now in UTC.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// JobStore persists job state for the lifetime of the process.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	// CompleteJob and FailJob settle a pending job; settling twice returns
	// ErrJobSettled.
	CompleteJob(ctx context.Context, jobID string, records []Record, at time.Time) error
	FailJob(ctx context.Context, jobID string, errText string, at time.Time) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
}
