package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// JobStorage implements the JobStorage interface for Badger.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// Compile-time assertion: JobStorage implements the JobStorage interface.
var _ interfaces.JobStorage = (*JobStorage)(nil)

// NewJobStorage creates a new JobStorage instance.
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, record *models.JobRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	var record models.JobRecord
	if err := s.db.Store().Get(jobID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &record, nil
}

func (s *JobStorage) ListJobsByStatus(ctx context.Context, queue string, status models.JobStatus) ([]*models.JobRecord, error) {
	var records []models.JobRecord
	query := badgerhold.Where("Type").Eq(models.JobType(queue)).And("Status").Eq(status).SortBy("CreatedAt")
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.JobRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *JobStorage) CountByStatus(ctx context.Context, queue string, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.JobRecord{}, badgerhold.Where("Type").Eq(models.JobType(queue)).And("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

// EvictCompleted trims the completed bucket for a queue to at most retain
// records, deleting oldest completions first. Waiting, active, delayed, and
// failed records are never touched.
func (s *JobStorage) EvictCompleted(ctx context.Context, queue string, retain int) (int, error) {
	if retain < 0 {
		retain = 0
	}

	var records []models.JobRecord
	query := badgerhold.Where("Type").Eq(models.JobType(queue)).
		And("Status").Eq(models.JobStatusCompleted).
		SortBy("CompletedAt")
	if err := s.db.Store().Find(&records, query); err != nil {
		return 0, fmt.Errorf("failed to list completed jobs: %w", err)
	}

	excess := len(records) - retain
	if excess <= 0 {
		return 0, nil
	}

	evicted := 0
	for _, record := range records[:excess] {
		if err := s.db.Store().Delete(record.ID, &models.JobRecord{}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", record.ID).Msg("Failed to evict completed job")
			continue
		}
		evicted++
	}

	if evicted > 0 {
		s.logger.Debug().Str("queue", queue).Int("evicted", evicted).Msg("Evicted completed jobs")
	}
	return evicted, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.JobRecord{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}
