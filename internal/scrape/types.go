package scrape

import (
	"strings"
	"time"
	"unicode"
)

// JobStatus represents the lifecycle state of an asynchronous scrape job.
type JobStatus string

// Job status values held in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// WorkItem is an opaque locator (a place URL) produced by discovery.
type WorkItem string

// RunParams captures the per-run knobs requested by the client.
type RunParams struct {
	MaxResults int `json:"max_results" mapstructure:"max_results"`
	Workers    int `json:"workers" mapstructure:"workers"`
}

// Record is one extracted place.
type Record struct {
	Name        string  `json:"name" yaml:"name"`
	Address     string  `json:"address,omitempty" yaml:"address,omitempty"`
	Phone       string  `json:"phone,omitempty" yaml:"phone,omitempty"`
	Website     string  `json:"website,omitempty" yaml:"website,omitempty"`
	Rating      float64 `json:"rating,omitempty" yaml:"rating,omitempty"`
	ReviewCount int     `json:"review_count,omitempty" yaml:"review_count,omitempty"`
	Category    string  `json:"category,omitempty" yaml:"category,omitempty"`
	Latitude    float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	URL         string  `json:"url" yaml:"url"`
}

// DedupKey derives the record identity from its name and phone number.
// Case, surrounding whitespace, and phone punctuation do not affect the key.
func (r Record) DedupKey() string {
	name := strings.ToLower(strings.Join(strings.Fields(r.Name), " "))
	var phone strings.Builder
	for _, c := range r.Phone {
		if unicode.IsDigit(c) {
			phone.WriteRune(c)
		}
	}
	return name + "|" + phone.String()
}

// Job represents one asynchronous orchestration run.
type Job struct {
	ID          string     `json:"id"`
	Query       string     `json:"query"`
	Params      RunParams  `json:"params"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Records     []Record   `json:"records,omitempty"`
	ResultCount int        `json:"result_count"`
	Error       string     `json:"error,omitempty"`
}

// JobSummary is the listing view of a Job without the result payload.
type JobSummary struct {
	ID          string     `json:"id"`
	Query       string     `json:"query"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ResultCount int        `json:"result_count"`
	Error       string     `json:"error,omitempty"`
}

// Summary strips the records from the job.
func (j Job) Summary() JobSummary {
	return JobSummary{
		ID:          j.ID,
		Query:       j.Query,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
		ResultCount: j.ResultCount,
		Error:       j.Error,
	}
}
