package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newRecord(jobType models.JobType, status models.JobStatus) *models.JobRecord {
	job := models.NewJob(jobType, nil)
	job.MaxAttempts = 3
	record := models.NewJobRecord(job)
	record.Status = status
	if status == models.JobStatusCompleted {
		now := time.Now()
		record.CompletedAt = &now
	}
	return record
}

func TestJobStorageSaveAndGet(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	record := newRecord(models.JobTypeCleanup, models.JobStatusWaiting)
	require.NoError(t, storage.SaveJob(ctx, record))

	got, err := storage.GetJob(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, models.JobStatusWaiting, got.Status)

	_, err = storage.GetJob(ctx, "missing")
	assert.Error(t, err)
}

func TestJobStorageRejectsEmptyID(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())

	err := storage.SaveJob(context.Background(), &models.JobRecord{})
	assert.Error(t, err)
}

func TestJobStorageListAndCountByStatus(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.SaveJob(ctx, newRecord(models.JobTypeCleanup, models.JobStatusWaiting)))
	require.NoError(t, storage.SaveJob(ctx, newRecord(models.JobTypeCleanup, models.JobStatusWaiting)))
	require.NoError(t, storage.SaveJob(ctx, newRecord(models.JobTypeCleanup, models.JobStatusFailed)))
	// A different queue's records must not bleed in.
	require.NoError(t, storage.SaveJob(ctx, newRecord(models.JobTypeDataValidation, models.JobStatusWaiting)))

	waiting, err := storage.ListJobsByStatus(ctx, "cleanup", models.JobStatusWaiting)
	require.NoError(t, err)
	assert.Len(t, waiting, 2)

	count, err := storage.CountByStatus(ctx, "cleanup", models.JobStatusWaiting)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = storage.CountByStatus(ctx, "cleanup", models.JobStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestJobStorageEvictCompleted(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	var records []*models.JobRecord
	for i := 0; i < 5; i++ {
		record := newRecord(models.JobTypeCleanup, models.JobStatusCompleted)
		at := time.Now().Add(time.Duration(i) * time.Second)
		record.CompletedAt = &at
		require.NoError(t, storage.SaveJob(ctx, record))
		records = append(records, record)
	}
	failed := newRecord(models.JobTypeCleanup, models.JobStatusFailed)
	require.NoError(t, storage.SaveJob(ctx, failed))

	evicted, err := storage.EvictCompleted(ctx, "cleanup", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, evicted)

	// The oldest three completions are gone; the newest two survive.
	for _, record := range records[:3] {
		_, err := storage.GetJob(ctx, record.ID)
		assert.Error(t, err)
	}
	for _, record := range records[3:] {
		_, err := storage.GetJob(ctx, record.ID)
		assert.NoError(t, err)
	}

	// Failed records are never evicted.
	_, err = storage.GetJob(ctx, failed.ID)
	assert.NoError(t, err)

	// Nothing more to evict.
	evicted, err = storage.EvictCompleted(ctx, "cleanup", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, evicted)
}

func TestHistoryStorageRoundTrip(t *testing.T) {
	storage := NewHistoryStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	first := &models.SearchHistory{
		ID:          "hist-1",
		ExecutionID: "exec-1",
		ProfileID:   "artist-1",
		Queries:     []string{"artist grants"},
		CreatedAt:   time.Now().Add(-time.Hour),
	}
	second := &models.SearchHistory{
		ID:          "hist-2",
		ExecutionID: "exec-2",
		ProfileID:   "artist-1",
		CreatedAt:   time.Now(),
	}
	other := &models.SearchHistory{
		ID:          "hist-3",
		ExecutionID: "exec-3",
		ProfileID:   "artist-2",
		CreatedAt:   time.Now(),
	}

	require.NoError(t, storage.SaveHistory(ctx, first))
	require.NoError(t, storage.SaveHistory(ctx, second))
	require.NoError(t, storage.SaveHistory(ctx, other))

	got, err := storage.GetHistory(ctx, "hist-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"artist grants"}, got.Queries)

	list, err := storage.ListByProfile(ctx, "artist-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	// Newest first.
	assert.Equal(t, "hist-2", list[0].ID)

	limited, err := storage.ListByProfile(ctx, "artist-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
