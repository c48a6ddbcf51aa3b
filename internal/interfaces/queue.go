package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/reperio/internal/models"
)

// QueueMessage is one delivery from a durable queue. Done acknowledges and
// removes the message; Release makes it visible again after delay (used for
// retry backoff).
type QueueMessage struct {
	ID      string
	Job     *models.Job
	Done    func() error
	Release func(delay time.Duration) error
}

// Queue is a durable, priority-ordered holding area for jobs of one type.
// Receive returns ErrNoJob when nothing is eligible.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	Receive(ctx context.Context) (*QueueMessage, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// EnqueueOptions tunes a single AddJob call.
type EnqueueOptions struct {
	Priority    models.Priority
	Delay       time.Duration
	MaxAttempts int
}

// JobProcessor is the surface the route layer consumes for queue-based work.
type JobProcessor interface {
	AddJob(ctx context.Context, jobType models.JobType, payload map[string]interface{}, opts *EnqueueOptions) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*models.JobRecord, error)
	GetQueueStats(ctx context.Context) ([]models.QueueStats, error)
	ScheduleRecurringJob(jobType models.JobType, payload map[string]interface{}, cronExpr string) (string, error)
	EnableRecurringJob(id string) error
	DisableRecurringJob(id string) error
	TriggerRecurringJob(ctx context.Context, id string) (string, error)
	ListRecurringJobs() []models.RecurringSchedule
	PauseQueue(queue string) error
	ResumeQueue(queue string) error
	Cleanup() error
}

// SearchOrchestrator runs profile discovery pipelines off the request path.
type SearchOrchestrator interface {
	ExecuteProfileSearch(ctx context.Context, profile *models.Profile, opts *models.SearchOptions) (string, error)
	GetExecutionStatus(id string) (*models.Execution, error)
	CancelExecution(id string) bool
}
