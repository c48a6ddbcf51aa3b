package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// memJobStorage is an in-memory JobStorage for worker pool and processor tests.
type memJobStorage struct {
	mu      sync.Mutex
	records map[string]*models.JobRecord
}

var _ interfaces.JobStorage = (*memJobStorage)(nil)

func newMemJobStorage() *memJobStorage {
	return &memJobStorage{records: make(map[string]*models.JobRecord)}
}

func (s *memJobStorage) SaveJob(ctx context.Context, record *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records[record.ID] = &copied
	return nil
}

func (s *memJobStorage) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	copied := *record
	return &copied, nil
}

func (s *memJobStorage) ListJobsByStatus(ctx context.Context, queue string, status models.JobStatus) ([]*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.JobRecord
	for _, record := range s.records {
		if record.Type.QueueName() == queue && record.Status == status {
			copied := *record
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memJobStorage) CountByStatus(ctx context.Context, queue string, status models.JobStatus) (int, error) {
	records, err := s.ListJobsByStatus(ctx, queue, status)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *memJobStorage) EvictCompleted(ctx context.Context, queue string, retain int) (int, error) {
	completed, err := s.ListJobsByStatus(ctx, queue, models.JobStatusCompleted)
	if err != nil {
		return 0, err
	}
	excess := len(completed) - retain
	if excess <= 0 {
		return 0, nil
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].CompletedAt.Before(*completed[j].CompletedAt)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range completed[:excess] {
		delete(s.records, record.ID)
	}
	return excess, nil
}

func (s *memJobStorage) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, jobID)
	return nil
}
