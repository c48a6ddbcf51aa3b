// -----------------------------------------------------------------------
// Processor - Queue engine facade: one queue and worker pool per job type
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

var (
	// ErrUnknownJobType is returned by AddJob for a type with no handler.
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrJobNotFound is returned by GetJobStatus for an unknown or evicted job.
	ErrJobNotFound = errors.New("job not found")
	// ErrUnknownQueue is returned by PauseQueue/ResumeQueue for an unknown name.
	ErrUnknownQueue = errors.New("unknown queue")
	// ErrScheduleNotFound is returned for an unknown recurring schedule id.
	ErrScheduleNotFound = errors.New("schedule not found")
)

// recurringJob is one registered cron schedule. Disabling flips the flag; the
// cron entry stays registered and checks it on every fire.
type recurringJob struct {
	id       string
	jobType  models.JobType
	schedule string
	payload  map[string]interface{}
	entryID  cron.EntryID
	enabled  atomic.Bool
}

// Handlers binds one handler to each job type. Every field must be set; the
// constructor rejects a partially wired registry so a missing handler surfaces
// at startup instead of at dispatch.
type Handlers struct {
	SearchExecution    HandlerFunc
	OrganizationScrape HandlerFunc
	ResultProcessing   HandlerFunc
	DataValidation     HandlerFunc
	BookmarkScrape     HandlerFunc
	Cleanup            HandlerFunc
}

// forType returns the handler bound to the given job type, nil if unknown.
func (h Handlers) forType(t models.JobType) HandlerFunc {
	switch t {
	case models.JobTypeSearchExecution:
		return h.SearchExecution
	case models.JobTypeOrganizationScrape:
		return h.OrganizationScrape
	case models.JobTypeResultProcessing:
		return h.ResultProcessing
	case models.JobTypeDataValidation:
		return h.DataValidation
	case models.JobTypeBookmarkScrape:
		return h.BookmarkScrape
	case models.JobTypeCleanup:
		return h.Cleanup
	}
	return nil
}

// validate checks that every job type has a handler bound.
func (h Handlers) validate() error {
	for _, t := range models.AllJobTypes() {
		if h.forType(t) == nil {
			return fmt.Errorf("%w: no handler bound for %s", ErrUnknownJobType, t)
		}
	}
	return nil
}

// Processor owns one durable queue and one worker pool per job type, plus the
// cron scheduler for recurring jobs. It is the single entry point the rest of
// the service uses to submit and inspect background work.
type Processor struct {
	config   *common.Config
	storage  interfaces.JobStorage
	handlers Handlers
	logger   arbor.ILogger

	queues map[models.JobType]interfaces.Queue
	pools  map[models.JobType]*WorkerPool

	recorder  *MetricsRecorder
	scheduler *cron.Cron

	mu        sync.Mutex
	schedules map[string]*recurringJob
	started   bool
	closed    bool
}

// Compile-time assertion: Processor implements the JobProcessor interface.
var _ interfaces.JobProcessor = (*Processor)(nil)

// NewProcessor wires a queue and worker pool for every job type. The handler
// registry is validated here, so construction fails loudly when a type has no
// handler bound.
func NewProcessor(db *badger.DB, storage interfaces.JobStorage, config *common.Config, handlers Handlers, logger arbor.ILogger) (*Processor, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if storage == nil {
		return nil, errors.New("job storage is required")
	}
	if err := handlers.validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		config:    config,
		storage:   storage,
		handlers:  handlers,
		logger:    logger,
		queues:    make(map[models.JobType]interfaces.Queue),
		pools:     make(map[models.JobType]*WorkerPool),
		recorder:  NewMetricsRecorder(0),
		scheduler: cron.New(),
		schedules: make(map[string]*recurringJob),
	}

	for _, jobType := range models.AllJobTypes() {
		qc := config.QueueConfigFor(jobType.QueueName())
		q, err := NewBadgerQueue(db, qc.Name, qc.VisibilityTimeout)
		if err != nil {
			return nil, fmt.Errorf("create queue %s: %w", qc.Name, err)
		}
		p.queues[jobType] = q
		p.pools[jobType] = NewWorkerPool(q, storage, qc, handlers.forType(jobType), p.recorder.Channel(), logger)
	}

	return p, nil
}

// Start recovers orphaned jobs, then launches worker pools, the metrics
// consumer, and the recurring-job scheduler.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("processor is closed")
	}
	if p.started {
		return nil
	}

	if err := p.requeueOrphans(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Orphan recovery failed")
	}

	p.recorder.Start()
	for _, pool := range p.pools {
		pool.Start()
	}
	p.scheduler.Start()
	p.started = true

	p.logger.Info().Int("queues", len(p.pools)).Msg("Job processor started")
	return nil
}

// requeueOrphans resets records left active by a previous process. The queue
// entry itself still exists and redelivers once its visibility timeout lapses;
// this only fixes the reported status so callers do not see phantom actives.
func (p *Processor) requeueOrphans(ctx context.Context) error {
	for _, jobType := range models.AllJobTypes() {
		records, err := p.storage.ListJobsByStatus(ctx, jobType.QueueName(), models.JobStatusActive)
		if err != nil {
			return fmt.Errorf("list active jobs for %s: %w", jobType.QueueName(), err)
		}
		for _, record := range records {
			record.Status = models.JobStatusWaiting
			record.UpdatedAt = time.Now()
			if err := p.storage.SaveJob(ctx, record); err != nil {
				p.logger.Warn().Err(err).Str("job_id", record.ID).Msg("Failed to reset orphaned job")
				continue
			}
			p.logger.Info().
				Str("job_id", record.ID).
				Str("queue", jobType.QueueName()).
				Msg("Reset orphaned active job to waiting")
		}
	}
	return nil
}

// AddJob validates, persists, and enqueues a job, returning its ID. Options
// are optional; defaults are normal priority and the queue's retry attempts.
func (p *Processor) AddJob(ctx context.Context, jobType models.JobType, payload map[string]interface{}, opts *interfaces.EnqueueOptions) (string, error) {
	if p.handlers.forType(jobType) == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	qc := p.config.QueueConfigFor(jobType.QueueName())

	job := models.NewJob(jobType, payload)
	job.MaxAttempts = qc.Retry.Attempts
	if opts != nil {
		if opts.Priority != "" {
			job.Priority = opts.Priority
		}
		if opts.MaxAttempts > 0 {
			job.MaxAttempts = opts.MaxAttempts
		}
		if opts.Delay > 0 {
			at := time.Now().Add(opts.Delay)
			job.ScheduledFor = &at
		}
	}

	if err := job.Validate(); err != nil {
		return "", fmt.Errorf("add job: %w", err)
	}

	// Persist the record before enqueue so status is queryable the moment the
	// ID is returned, even if a worker picks the job up immediately.
	if err := p.storage.SaveJob(ctx, models.NewJobRecord(job)); err != nil {
		return "", fmt.Errorf("save job record: %w", err)
	}

	queue, ok := p.queues[jobType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	if err := queue.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(jobType)).
		Str("priority", string(job.Priority)).
		Msg("Job added")

	return job.ID, nil
}

// GetJobStatus returns the current record for a job, ErrJobNotFound if the
// job is unknown or its completed record has been evicted. Jobs waiting in a
// paused queue report the paused state.
func (p *Processor) GetJobStatus(ctx context.Context, jobID string) (*models.JobRecord, error) {
	record, err := p.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if record.Status == models.JobStatusWaiting {
		if pool, ok := p.pools[record.Type]; ok && pool.Paused() {
			snapshot := *record
			snapshot.Status = models.JobStatusPaused
			return &snapshot, nil
		}
	}
	return record, nil
}

// GetQueueStats reports per-queue counts in job type registration order.
func (p *Processor) GetQueueStats(ctx context.Context) ([]models.QueueStats, error) {
	stats := make([]models.QueueStats, 0, len(p.pools))
	for _, jobType := range models.AllJobTypes() {
		name := jobType.QueueName()
		pool := p.pools[jobType]

		waiting, err := p.storage.CountByStatus(ctx, name, models.JobStatusWaiting)
		if err != nil {
			return nil, fmt.Errorf("count waiting for %s: %w", name, err)
		}
		delayed, err := p.storage.CountByStatus(ctx, name, models.JobStatusDelayed)
		if err != nil {
			return nil, fmt.Errorf("count delayed for %s: %w", name, err)
		}
		completed, err := p.storage.CountByStatus(ctx, name, models.JobStatusCompleted)
		if err != nil {
			return nil, fmt.Errorf("count completed for %s: %w", name, err)
		}
		failed, err := p.storage.CountByStatus(ctx, name, models.JobStatusFailed)
		if err != nil {
			return nil, fmt.Errorf("count failed for %s: %w", name, err)
		}

		stats = append(stats, models.QueueStats{
			Queue:     name,
			Waiting:   waiting + delayed,
			Active:    pool.ActiveCount(),
			Completed: completed,
			Failed:    failed,
			Paused:    pool.Paused(),
		})
	}
	return stats, nil
}

// ScheduleRecurringJob registers a cron schedule that enqueues a fresh job
// with the given payload on every fire. The expression is validated up front.
// The returned id drives Enable/Disable/Trigger on the schedule.
func (p *Processor) ScheduleRecurringJob(jobType models.JobType, payload map[string]interface{}, cronExpr string) (string, error) {
	if p.handlers.forType(jobType) == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	if err := common.ValidateSchedule(cronExpr); err != nil {
		return "", err
	}

	rec := &recurringJob{
		id:       uuid.New().String(),
		jobType:  jobType,
		schedule: cronExpr,
		payload:  payload,
	}
	rec.enabled.Store(true)

	entryID, err := p.scheduler.AddFunc(cronExpr, func() {
		if !rec.enabled.Load() {
			return
		}
		if _, err := p.fireRecurring(context.Background(), rec); err != nil {
			p.logger.Error().Err(err).Str("type", string(jobType)).Msg("Recurring job enqueue failed")
		}
	})
	if err != nil {
		return "", fmt.Errorf("schedule recurring job: %w", err)
	}
	rec.entryID = entryID

	p.mu.Lock()
	p.schedules[rec.id] = rec
	p.mu.Unlock()

	p.logger.Info().
		Str("schedule_id", rec.id).
		Str("type", string(jobType)).
		Str("schedule", cronExpr).
		Msg("Recurring job scheduled")
	return rec.id, nil
}

// fireRecurring enqueues one job for the schedule. The payload is copied so
// successive fires never share mutable state.
func (p *Processor) fireRecurring(ctx context.Context, rec *recurringJob) (string, error) {
	fresh := make(map[string]interface{}, len(rec.payload))
	for k, v := range rec.payload {
		fresh[k] = v
	}
	return p.AddJob(ctx, rec.jobType, fresh, nil)
}

func (p *Processor) scheduleByID(id string) (*recurringJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: schedule %s", ErrScheduleNotFound, id)
	}
	return rec, nil
}

// EnableRecurringJob re-enables a disabled schedule.
func (p *Processor) EnableRecurringJob(id string) error {
	rec, err := p.scheduleByID(id)
	if err != nil {
		return err
	}
	rec.enabled.Store(true)
	return nil
}

// DisableRecurringJob keeps the schedule registered but skips its fires.
func (p *Processor) DisableRecurringJob(id string) error {
	rec, err := p.scheduleByID(id)
	if err != nil {
		return err
	}
	rec.enabled.Store(false)
	return nil
}

// TriggerRecurringJob enqueues one job for the schedule immediately, without
// waiting for its next cron fire. Works on disabled schedules too.
func (p *Processor) TriggerRecurringJob(ctx context.Context, id string) (string, error) {
	rec, err := p.scheduleByID(id)
	if err != nil {
		return "", err
	}
	return p.fireRecurring(ctx, rec)
}

// ListRecurringJobs returns the registered schedules with their next run times.
func (p *Processor) ListRecurringJobs() []models.RecurringSchedule {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.RecurringSchedule, 0, len(p.schedules))
	for _, rec := range p.schedules {
		out = append(out, models.RecurringSchedule{
			ID:       rec.id,
			Type:     rec.jobType,
			Schedule: rec.schedule,
			Enabled:  rec.enabled.Load(),
			NextRun:  p.scheduler.Entry(rec.entryID).Next,
		})
	}
	return out
}

// PauseQueue stops new dispatches from the named queue. In-flight jobs run to
// completion; queued jobs wait.
func (p *Processor) PauseQueue(queue string) error {
	pool, err := p.poolByName(queue)
	if err != nil {
		return err
	}
	pool.Pause()
	return nil
}

// ResumeQueue re-enables dispatches from the named queue.
func (p *Processor) ResumeQueue(queue string) error {
	pool, err := p.poolByName(queue)
	if err != nil {
		return err
	}
	pool.Resume()
	return nil
}

func (p *Processor) poolByName(queue string) (*WorkerPool, error) {
	for jobType, pool := range p.pools {
		if jobType.QueueName() == queue {
			return pool, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
}

// Cleanup stops the scheduler, worker pools, and metrics consumer. Safe to
// call more than once; calls after the first are no-ops.
func (p *Processor) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	schedulerCtx := p.scheduler.Stop()
	<-schedulerCtx.Done()

	if p.started {
		var wg sync.WaitGroup
		for _, pool := range p.pools {
			wg.Add(1)
			go func(wp *WorkerPool) {
				defer wg.Done()
				wp.Stop()
			}(pool)
		}
		wg.Wait()
		p.recorder.Stop()
	}

	for _, q := range p.queues {
		if err := q.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("Queue close failed")
		}
	}

	p.logger.Info().Msg("Job processor stopped")
	return nil
}

// Metrics returns the per-queue attempt aggregates recorded so far.
func (p *Processor) Metrics() map[string]QueueMetrics {
	return p.recorder.Snapshot()
}
