// internal/batch/types.go - Crawl job types
package batch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"

	"github.com/valpere/tilecutter/internal/store"
	"github.com/valpere/tilecutter/internal/tile"
)

// Job represents one crawl of an extent over a zoom range
type Job struct {
	ID          string         `json:"id"`
	Zooms       tile.ZoomRange `json:"zooms"`
	Extent      orb.Bound      `json:"extent"`
	Config      *JobConfig     `json:"config"`
	Status      JobStatus      `json:"status"`
	Progress    *JobProgress   `json:"progress"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       error          `json:"error,omitempty"`
}

// JobConfig contains the concurrency and batching knobs of a crawl
type JobConfig struct {
	FetchConcurrency int           `json:"fetch_concurrency"`
	WriteConcurrency int           `json:"write_concurrency"`
	BatchSize        int           `json:"batch_size"`
	QueueSize        int           `json:"queue_size"`
	FetchTimeout     time.Duration `json:"fetch_timeout"`
	ProgressInterval time.Duration `json:"progress_interval"`
}

// JobStatus represents the current status of a crawl
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobProgress tracks crawl counters. Fields are updated concurrently by the
// fetch and write stages.
type JobProgress struct {
	TotalTiles       int64     `json:"total_tiles"`
	StartTime        time.Time `json:"start_time"`
	Fetched          atomic.Int64
	Failed           atomic.Int64
	Stored           atomic.Int64
	NewImages        atomic.Int64
	Deduplicated     atomic.Int64
	BatchesCommitted atomic.Int64
	BatchesFailed    atomic.Int64
	BytesFetched     atomic.Int64
}

// ProgressSnapshot is a point-in-time copy of JobProgress
type ProgressSnapshot struct {
	TotalTiles       int64         `json:"total_tiles"`
	Fetched          int64         `json:"fetched"`
	Failed           int64         `json:"failed"`
	Stored           int64         `json:"stored"`
	NewImages        int64         `json:"new_images"`
	Deduplicated     int64         `json:"deduplicated"`
	BatchesCommitted int64         `json:"batches_committed"`
	BatchesFailed    int64         `json:"batches_failed"`
	BytesFetched     int64         `json:"bytes_fetched"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Committer persists one batch atomically
type Committer interface {
	CommitBatch(ctx context.Context, b *store.Batch) (store.BatchResult, error)
}

// Store is the cache the pipeline writes into
type Store interface {
	Committer
	Finalize(ctx context.Context) error
}

// Processor defines the interface for executing crawl jobs
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

// ProgressReporter defines the interface for reporting job progress
type ProgressReporter interface {
	ReportProgress(job *Job) error
	ReportBatchComplete(job *Job, result store.BatchResult, err error) error
	ReportJobComplete(job *Job) error
	ReportJobFailed(job *Job, err error) error
}

// NewJob creates a pending crawl job
func NewJob(id string, zooms tile.ZoomRange, extent orb.Bound, config *JobConfig) *Job {
	if config == nil {
		config = NewJobConfig()
	}
	return &Job{
		ID:        id,
		Zooms:     zooms,
		Extent:    extent,
		Config:    config,
		Status:    JobStatusPending,
		Progress:  NewJobProgress(),
		CreatedAt: time.Now(),
	}
}

// NewJobConfig creates a job configuration with default values
func NewJobConfig() *JobConfig {
	return &JobConfig{
		FetchConcurrency: 10,
		WriteConcurrency: 4,
		BatchSize:        50,
		FetchTimeout:     30 * time.Second,
		ProgressInterval: 500 * time.Millisecond,
	}
}

// normalized returns a copy with unset values replaced by defaults
func (c *JobConfig) normalized() JobConfig {
	n := *c
	d := NewJobConfig()
	if n.FetchConcurrency <= 0 {
		n.FetchConcurrency = d.FetchConcurrency
	}
	if n.WriteConcurrency <= 0 {
		n.WriteConcurrency = d.WriteConcurrency
	}
	if n.BatchSize <= 0 {
		n.BatchSize = d.BatchSize
	}
	if n.QueueSize <= 0 {
		n.QueueSize = 4 * n.BatchSize
	}
	if n.FetchTimeout <= 0 {
		n.FetchTimeout = d.FetchTimeout
	}
	if n.ProgressInterval <= 0 {
		n.ProgressInterval = d.ProgressInterval
	}
	return n
}

// NewJobProgress creates a new job progress tracker
func NewJobProgress() *JobProgress {
	return &JobProgress{StartTime: time.Now()}
}

// Snapshot copies the counters
func (p *JobProgress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		TotalTiles:       p.TotalTiles,
		Fetched:          p.Fetched.Load(),
		Failed:           p.Failed.Load(),
		Stored:           p.Stored.Load(),
		NewImages:        p.NewImages.Load(),
		Deduplicated:     p.Deduplicated.Load(),
		BatchesCommitted: p.BatchesCommitted.Load(),
		BatchesFailed:    p.BatchesFailed.Load(),
		BytesFetched:     p.BytesFetched.Load(),
		Elapsed:          time.Since(p.StartTime),
	}
}

// Attempted returns the number of tiles whose fetch has finished either way
func (s ProgressSnapshot) Attempted() int64 {
	return s.Fetched + s.Failed
}

// CalculateProgress returns the completion percentage (0-100)
func (s ProgressSnapshot) CalculateProgress() float64 {
	if s.TotalTiles == 0 {
		return 0
	}
	return float64(s.Attempted()) / float64(s.TotalTiles) * 100
}

// Throughput returns attempted tiles per second
func (s ProgressSnapshot) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Attempted()) / s.Elapsed.Seconds()
}

// EstimateCompletion estimates the remaining time based on current throughput
func (s ProgressSnapshot) EstimateCompletion() time.Duration {
	rate := s.Throughput()
	remaining := s.TotalTiles - s.Attempted()
	if rate <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}

// IsComplete checks if the job is finished
func (j *Job) IsComplete() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCanceled
}

// IsRunning checks if the job is currently running
func (j *Job) IsRunning() bool {
	return j.Status == JobStatusRunning
}

// Duration returns how long the job ran, or has been running
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}
