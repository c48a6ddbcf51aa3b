package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// ProgressFunc reports handler progress as a percentage in [0,100].
type ProgressFunc func(pct float64)

// HandlerFunc processes one job attempt. The returned map becomes the
// JobResult data; an error (or panic) triggers the retry/backoff path.
type HandlerFunc func(ctx context.Context, job *models.Job, progress ProgressFunc) (map[string]interface{}, error)

// WorkerPool drains one queue with a fixed number of workers. Each worker
// processes one job at a time, so the concurrency ceiling is structural:
// at most Concurrency jobs from the queue hold active status simultaneously.
type WorkerPool struct {
	queue   interfaces.Queue
	storage interfaces.JobStorage
	cfg     models.QueueConfig
	handler HandlerFunc
	limiter *Limiter
	metrics chan<- models.AttemptMetric
	logger  arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	active atomic.Int32
	paused atomic.Bool
}

// NewWorkerPool creates a pool for one queue.
func NewWorkerPool(queue interfaces.Queue, storage interfaces.JobStorage, cfg models.QueueConfig, handler HandlerFunc, metrics chan<- models.AttemptMetric, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:   queue,
		storage: storage,
		cfg:     cfg,
		handler: handler,
		limiter: NewLimiter(cfg.RateLimit),
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.logger.Info().
		Str("queue", wp.cfg.Name).
		Int("concurrency", wp.cfg.Concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info().Str("queue", wp.cfg.Name).Msg("Worker pool stopped")
}

// Pause stops workers from pulling new jobs; in-flight jobs finish normally.
func (wp *WorkerPool) Pause() {
	wp.paused.Store(true)
	wp.logger.Info().Str("queue", wp.cfg.Name).Msg("Queue paused")
}

// Resume re-enables job pulls.
func (wp *WorkerPool) Resume() {
	wp.paused.Store(false)
	wp.logger.Info().Str("queue", wp.cfg.Name).Msg("Queue resumed")
}

// Paused reports whether the pool is currently paused.
func (wp *WorkerPool) Paused() bool {
	return wp.paused.Load()
}

// ActiveCount returns the number of jobs currently being processed.
func (wp *WorkerPool) ActiveCount() int {
	return int(wp.active.Load())
}

// worker is the poll loop for one worker slot.
func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	// Stagger worker starts to spread polls across the interval.
	stagger := (wp.cfg.PollInterval / time.Duration(wp.cfg.Concurrency)) * time.Duration(workerID)
	select {
	case <-wp.ctx.Done():
		return
	case <-time.After(stagger):
	}

	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if wp.paused.Load() {
				continue
			}
			if err := wp.pullAndProcess(workerID); err != nil && !errors.Is(err, ErrNoJob) {
				wp.logger.Warn().
					Err(err).
					Str("queue", wp.cfg.Name).
					Int("worker_id", workerID).
					Msg("Error processing job")
			}
		}
	}
}

// pullAndProcess pulls one job and runs it. Rate-limit budget is spent only
// once a job is in hand: an empty pull returns before the limiter is touched,
// so idle polling never consumes tokens.
func (wp *WorkerPool) pullAndProcess(workerID int) error {
	msg, err := wp.queue.Receive(wp.ctx)
	if err != nil {
		return err
	}

	if err := wp.limiter.Wait(wp.ctx); err != nil {
		// Shutdown while waiting for budget; hand the job back for prompt
		// redelivery instead of letting the visibility timeout lapse.
		if relErr := msg.Release(0); relErr != nil {
			wp.logger.Warn().
				Err(relErr).
				Str("job_id", msg.Job.ID).
				Msg("Failed to release job during shutdown")
		}
		return nil
	}

	wp.active.Add(1)
	defer wp.active.Add(-1)

	return wp.process(workerID, msg)
}

// process executes the handler for one delivery and settles the outcome:
// success acknowledges, retryable failure releases with backoff, exhausted
// failure acknowledges into the failed bucket. Handler errors and panics are
// converted to JobResults and never escape the pool.
func (wp *WorkerPool) process(workerID int, msg *interfaces.QueueMessage) error {
	job := msg.Job

	record, err := wp.storage.GetJob(wp.ctx, job.ID)
	if err != nil {
		// Record evicted or never written; rebuild so status stays queryable.
		record = models.NewJobRecord(job)
	}
	record.Attempts = job.Attempts
	record.MarkActive()
	if err := wp.storage.SaveJob(wp.ctx, record); err != nil {
		wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist active status")
	}

	progress := func(pct float64) {
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		record.Progress = pct
		if err := wp.storage.SaveJob(wp.ctx, record); err != nil {
			wp.logger.Debug().Err(err).Str("job_id", job.ID).Msg("Failed to persist progress")
		}
	}

	start := time.Now()
	data, handlerErr := wp.runHandler(job, progress)
	duration := time.Since(start)

	result := &models.JobResult{
		Success:        handlerErr == nil,
		Data:           data,
		ProcessingTime: duration,
		Metadata: map[string]interface{}{
			"queue":     wp.cfg.Name,
			"attempt":   job.Attempts,
			"worker_id": workerID,
		},
	}

	metric := models.AttemptMetric{
		Queue:    wp.cfg.Name,
		Type:     job.Type,
		JobID:    job.ID,
		Attempt:  job.Attempts,
		Success:  handlerErr == nil,
		Duration: duration,
	}

	if handlerErr != nil {
		result.Error = handlerErr.Error()
		metric.Error = handlerErr.Error()

		if job.Attempts < job.MaxAttempts {
			delay := RetryDelay(wp.cfg.Retry.Backoff, job.Attempts)
			record.MarkDelayed(time.Now().Add(delay))
			if err := wp.storage.SaveJob(wp.ctx, record); err != nil {
				wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist retry status")
			}

			wp.logger.Warn().
				Err(handlerErr).
				Str("job_id", job.ID).
				Str("queue", wp.cfg.Name).
				Int("attempt", job.Attempts).
				Dur("retry_delay", delay).
				Msg("Job attempt failed, scheduling retry")

			wp.emit(metric)
			return msg.Release(delay)
		}

		record.MarkFailed(result)
		if err := wp.storage.SaveJob(wp.ctx, record); err != nil {
			wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist failed status")
		}

		wp.logger.Error().
			Err(handlerErr).
			Str("job_id", job.ID).
			Str("queue", wp.cfg.Name).
			Int("attempts", job.Attempts).
			Dur("duration", duration).
			Msg("Job failed permanently")

		wp.emit(metric)
		return msg.Done()
	}

	record.MarkCompleted(result)
	if err := wp.storage.SaveJob(wp.ctx, record); err != nil {
		wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist completed status")
	}

	if _, err := wp.storage.EvictCompleted(wp.ctx, wp.cfg.Name, wp.cfg.CompletedRetention); err != nil {
		wp.logger.Debug().Err(err).Str("queue", wp.cfg.Name).Msg("Completed bucket eviction failed")
	}

	wp.logger.Info().
		Str("job_id", job.ID).
		Str("queue", wp.cfg.Name).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed")

	wp.emit(metric)
	return msg.Done()
}

// runHandler invokes the handler with panic recovery.
func (wp *WorkerPool) runHandler(job *models.Job, progress ProgressFunc) (data map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return wp.handler(wp.ctx, job, progress)
}

// emit pushes one attempt metric without ever blocking job settlement.
func (wp *WorkerPool) emit(metric models.AttemptMetric) {
	if wp.metrics == nil {
		return
	}
	select {
	case wp.metrics <- metric:
	default:
		wp.logger.Debug().Str("job_id", metric.JobID).Msg("Metrics channel full, dropping attempt metric")
	}
}
