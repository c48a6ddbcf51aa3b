// -----------------------------------------------------------------------
// Job - Immutable job structure for queue persistence
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the kind of work a job carries. Handlers are registered
// per type at processor construction, so an unregistered type is rejected at
// enqueue time rather than discovered mid-drain.
type JobType string

const (
	JobTypeSearchExecution    JobType = "search-execution"
	JobTypeOrganizationScrape JobType = "organization-scraping"
	JobTypeResultProcessing   JobType = "result-processing"
	JobTypeDataValidation     JobType = "data-validation"
	JobTypeBookmarkScrape     JobType = "bookmark-scraping"
	JobTypeCleanup            JobType = "cleanup"
)

// AllJobTypes lists every job type the processor knows about, in registration
// order. Each type drains from its own named queue.
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeSearchExecution,
		JobTypeOrganizationScrape,
		JobTypeResultProcessing,
		JobTypeDataValidation,
		JobTypeBookmarkScrape,
		JobTypeCleanup,
	}
}

// Valid returns true if the job type is one the processor dispatches.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeSearchExecution, JobTypeOrganizationScrape, JobTypeResultProcessing,
		JobTypeDataValidation, JobTypeBookmarkScrape, JobTypeCleanup:
		return true
	}
	return false
}

// QueueName returns the name of the queue that drains this job type.
func (t JobType) QueueName() string {
	return string(t)
}

// Priority controls dispatch order within a queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank maps a priority to its numeric dispatch rank. Lower ranks drain first;
// ties break FIFO by enqueue sequence.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 10
	default:
		return 5
	}
}

// JobStatus is the lifecycle state of a job as reported to callers.
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusPaused    JobStatus = "paused"
)

// IsTerminal returns true for states a job never leaves.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the immutable unit of work sent to a queue. Identity never changes;
// Attempts is the only field the queue mutates, incrementing once per delivery.
type Job struct {
	ID           string                 `json:"id"`
	Type         JobType                `json:"type"`
	Payload      map[string]interface{} `json:"payload"`
	Priority     Priority               `json:"priority"`
	Attempts     int                    `json:"attempts"`
	MaxAttempts  int                    `json:"max_attempts"`
	CreatedAt    time.Time              `json:"created_at"`
	ScheduledFor *time.Time             `json:"scheduled_for,omitempty"`
}

// NewJob creates a job with a fresh UUID and normal priority.
func NewJob(jobType JobType, payload map[string]interface{}) *Job {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
	}
}

// Validate validates the job before enqueue.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if !j.Type.Valid() {
		return fmt.Errorf("unknown job type: %s", j.Type)
	}
	if j.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if j.Attempts > j.MaxAttempts {
		return fmt.Errorf("attempts %d exceeds max attempts %d", j.Attempts, j.MaxAttempts)
	}
	return nil
}

// PayloadString retrieves a string value from the payload.
func (j *Job) PayloadString(key string) (string, bool) {
	val, ok := j.Payload[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// PayloadInt retrieves an int value from the payload. JSON round-trips encode
// numbers as float64, so both forms are accepted.
func (j *Job) PayloadInt(key string) (int, bool) {
	val, ok := j.Payload[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// PayloadStringSlice retrieves a string slice from the payload, accepting
// []interface{} produced by JSON unmarshaling.
func (j *Job) PayloadStringSlice(key string) ([]string, bool) {
	val, ok := j.Payload[key]
	if !ok {
		return nil, false
	}
	switch v := val.(type) {
	case []string:
		return v, true
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			result[i] = str
		}
		return result, true
	default:
		return nil, false
	}
}

// JobResult is produced once per attempt and never mutated afterwards.
type JobResult struct {
	Success        bool                   `json:"success"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// JobRecord combines the immutable Job with its mutable runtime state as
// persisted in the job store. Progress is a percentage in [0,100].
type JobRecord struct {
	Job
	Status      JobStatus  `json:"status"`
	Progress    float64    `json:"progress"`
	Result      *JobResult `json:"result,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewJobRecord creates the initial record for a freshly enqueued job.
func NewJobRecord(job *Job) *JobRecord {
	status := JobStatusWaiting
	if job.ScheduledFor != nil && job.ScheduledFor.After(time.Now()) {
		status = JobStatusDelayed
	}
	return &JobRecord{
		Job:       *job,
		Status:    status,
		UpdatedAt: time.Now(),
	}
}

// MarkActive marks the record as picked up by a worker.
func (r *JobRecord) MarkActive() {
	r.Status = JobStatusActive
	now := time.Now()
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	r.UpdatedAt = now
}

// MarkCompleted attaches the successful result and stamps completion.
func (r *JobRecord) MarkCompleted(result *JobResult) {
	r.Status = JobStatusCompleted
	r.Result = result
	r.Progress = 100
	now := time.Now()
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// MarkFailed attaches the failed result. Terminal only once attempts are
// exhausted; the worker pool resets status to delayed when a retry is due.
func (r *JobRecord) MarkFailed(result *JobResult) {
	r.Status = JobStatusFailed
	r.Result = result
	now := time.Now()
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// MarkDelayed resets the record for a retry that becomes visible at readyAt.
func (r *JobRecord) MarkDelayed(readyAt time.Time) {
	r.Status = JobStatusDelayed
	r.ScheduledFor = &readyAt
	r.Result = nil
	r.CompletedAt = nil
	r.UpdatedAt = time.Now()
}

// AttemptMetric is the immutable per-attempt record pushed to the metrics
// channel after every handler completion, success or failure.
type AttemptMetric struct {
	Queue    string        `json:"queue"`
	Type     JobType       `json:"type"`
	JobID    string        `json:"job_id"`
	Attempt  int           `json:"attempt"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RecurringSchedule describes one registered cron schedule.
type RecurringSchedule struct {
	ID       string    `json:"id"`
	Type     JobType   `json:"type"`
	Schedule string    `json:"schedule"`
	Enabled  bool      `json:"enabled"`
	NextRun  time.Time `json:"next_run"`
}

// QueueStats reports per-queue job counts.
type QueueStats struct {
	Queue     string `json:"queue"`
	Waiting   int    `json:"waiting"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Paused    bool   `json:"paused"`
}
