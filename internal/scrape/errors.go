package scrape

import "errors"

var (
	// ErrOverCapacity indicates the admission controller rejected a run.
	ErrOverCapacity = errors.New("over capacity")
	// ErrJobNotFound indicates no job exists for the given id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobSettled indicates a job already left the pending state.
	ErrJobSettled = errors.New("job already settled")
	// ErrDiscoveryFailed wraps navigation or timeout failures during discovery.
	ErrDiscoveryFailed = errors.New("discovery failed")
	// ErrOrchestrationFailed wraps failures during resource acquisition or fan-in.
	ErrOrchestrationFailed = errors.New("orchestration failed")
	// ErrItemFailed marks a single work item that could not be extracted.
	ErrItemFailed = errors.New("extraction item failed")
	// ErrPoolClosed is returned by Acquire after the pool has been shut down.
	ErrPoolClosed = errors.New("resource pool closed")
	// ErrInvalidParams reports a rejected request.
	ErrInvalidParams = errors.New("invalid parameters")
)
