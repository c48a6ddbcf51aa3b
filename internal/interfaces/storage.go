package interfaces

import (
	"context"

	"github.com/ternarybob/reperio/internal/models"
)

// JobStorage persists job records (immutable job + mutable runtime state).
// The queue store is the single source of truth for job state; per-queue
// writes are serialized by the worker pool.
type JobStorage interface {
	SaveJob(ctx context.Context, record *models.JobRecord) error
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	ListJobsByStatus(ctx context.Context, queue string, status models.JobStatus) ([]*models.JobRecord, error)
	CountByStatus(ctx context.Context, queue string, status models.JobStatus) (int, error)
	// EvictCompleted trims the completed bucket for a queue to keep at most
	// retain records, oldest evicted first. Returns the number evicted.
	EvictCompleted(ctx context.Context, queue string, retain int) (int, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// HistoryStorage persists search-history audit summaries.
type HistoryStorage interface {
	SaveHistory(ctx context.Context, history *models.SearchHistory) error
	GetHistory(ctx context.Context, id string) (*models.SearchHistory, error)
	ListByProfile(ctx context.Context, profileID string, limit int) ([]*models.SearchHistory, error)
}

// ExecutionStore holds the in-flight execution registry. Injectable so tests
// substitute their own instance instead of relying on a process-wide map.
// Each execution is mutated by its owning pipeline only; pollers read clones.
type ExecutionStore interface {
	Put(execution *models.Execution)
	Get(id string) (*models.Execution, bool)
	List() []*models.Execution
	Delete(id string)
}
