package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType names the unit of work a job drives.
type JobType string

const (
	JobScan       JobType = "scan"
	JobDiscovery  JobType = "discovery"
	JobExtraction JobType = "extraction"
	JobComparison JobType = "comparison"
	JobCleanup    JobType = "cleanup"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job status admits no further transitions
// other than an explicit retry.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// DefaultMaxRetries is the retry budget for a new job.
const DefaultMaxRetries = 3

// Job is a scheduled or in-flight unit of work executed by the
// dispatcher.
type Job struct {
	ID     uuid.UUID `json:"id"`
	SiteID uuid.UUID `json:"siteId"`
	Type   JobType   `json:"type"`
	Status JobStatus `json:"status"`

	Priority int `json:"priority"`
	Progress int `json:"progress"`

	CreatedAt    time.Time  `json:"createdAt"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`

	RetryCount int `json:"retryCount"`
	MaxRetries int `json:"maxRetries"`

	Metadata json.RawMessage `json:"metadata,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// QueueMessage is the payload an external queue delivers to a worker.
// The worker idempotently acquires the job lease and proceeds.
type QueueMessage struct {
	JobID     uuid.UUID       `json:"jobID"`
	SiteID    uuid.UUID       `json:"siteID"`
	Type      JobType         `json:"type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
