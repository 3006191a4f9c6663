// Package memory provides the in-process job store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// JobStore keeps jobs in a map for the process lifetime. Jobs are never
// evicted.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scrape.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]scrape.Job)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// CompleteJob settles a pending job with its records.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, records []scrape.Record, at time.Time) error {
	return s.settle(jobID, func(job *scrape.Job) {
		job.Status = scrape.JobStatusCompleted
		job.Records = cloneRecords(records)
		job.ResultCount = len(records)
		job.CompletedAt = pointerTime(at)
	})
}

// FailJob settles a pending job with an error message.
func (s *JobStore) FailJob(_ context.Context, jobID string, errText string, at time.Time) error {
	return s.settle(jobID, func(job *scrape.Job) {
		job.Status = scrape.JobStatusFailed
		job.Error = errText
		job.CompletedAt = pointerTime(at)
	})
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	job.Records = cloneRecords(job.Records)
	return job, nil
}

// ListJobs returns every job ordered by creation time.
func (s *JobStore) ListJobs(_ context.Context) ([]scrape.Job, error) {
	s.mu.RLock()
	out := make([]scrape.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *JobStore) settle(jobID string, apply func(*scrape.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", scrape.ErrJobSettled, jobID, job.Status)
	}
	apply(&job)
	s.jobs[jobID] = job
	return nil
}

func cloneRecords(src []scrape.Record) []scrape.Record {
	if src == nil {
		return nil
	}
	dst := make([]scrape.Record, len(src))
	copy(dst, src)
	return dst
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
