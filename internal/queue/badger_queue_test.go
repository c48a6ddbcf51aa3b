package queue

import (
	"context"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/reperio/internal/models"
)

func newTestQueue(t *testing.T, name string) *BadgerQueue {
	t.Helper()

	opts := badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := NewBadgerQueue(db, name, 5*time.Minute)
	require.NoError(t, err)
	return q
}

func newTestJob(priority models.Priority) *models.Job {
	job := models.NewJob(models.JobTypeCleanup, map[string]interface{}{})
	job.Priority = priority
	job.MaxAttempts = 3
	return job
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := newTestQueue(t, "cleanup")
	ctx := context.Background()

	first := newTestJob(models.PriorityNormal)
	second := newTestJob(models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	msg1, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, msg1.Job.ID)

	msg2, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, msg2.Job.ID)
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := newTestQueue(t, "cleanup")
	ctx := context.Background()

	low := newTestJob(models.PriorityLow)
	normal := newTestJob(models.PriorityNormal)
	high := newTestJob(models.PriorityHigh)

	require.NoError(t, q.Enqueue(ctx, low))
	require.NoError(t, q.Enqueue(ctx, normal))
	require.NoError(t, q.Enqueue(ctx, high))

	var order []string
	for i := 0; i < 3; i++ {
		msg, err := q.Receive(ctx)
		require.NoError(t, err)
		order = append(order, msg.Job.ID)
	}

	assert.Equal(t, []string{high.ID, normal.ID, low.ID}, order)
}

func TestQueueDelayedJobNotVisible(t *testing.T) {
	q := newTestQueue(t, "cleanup")
	ctx := context.Background()

	delayed := newTestJob(models.PriorityHigh)
	at := time.Now().Add(time.Hour)
	delayed.ScheduledFor = &at

	ready := newTestJob(models.PriorityLow)

	require.NoError(t, q.Enqueue(ctx, delayed))
	require.NoError(t, q.Enqueue(ctx, ready))

	// The delayed high priority job is skipped; the ready low priority job
	// dispatches.
	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, ready.ID, msg.Job.ID)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestQueueReceiveIncrementsAttempts(t *testing.T) {
	q := newTestQueue(t, "cleanup")
	ctx := context.Background()

	job := newTestJob(models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, job))

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Job.Attempts)

	require.NoError(t, msg.Release(0))

	msg, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Job.Attempts)
}

func TestQueueDoneRemovesJob(t *testing.T) {
	q := newTestQueue(t, "cleanup")
	ctx := context.Background()

	job := newTestJob(models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, job))

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Done())

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestQueueClaimedJobInvisibleToOthers(t *testing.T) {
	q := newTestQueue(t, "cleanup")
	ctx := context.Background()

	job := newTestJob(models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, job))

	_, err := q.Receive(ctx)
	require.NoError(t, err)

	// Claimed but not settled; a second receive finds nothing.
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoJob)

	// The entry still exists for redelivery after the visibility timeout.
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueueReleaseWithDelay(t *testing.T) {
	q := newTestQueue(t, "cleanup")
	ctx := context.Background()

	job := newTestJob(models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, job))

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Release(50*time.Millisecond))

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoJob)

	time.Sleep(80 * time.Millisecond)

	redelivered, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, redelivered.Job.ID)
}

func TestQueueRejectsInvalidJob(t *testing.T) {
	q := newTestQueue(t, "cleanup")

	job := models.NewJob(models.JobTypeCleanup, nil)
	// MaxAttempts left at zero.
	err := q.Enqueue(context.Background(), job)
	assert.Error(t, err)
}
