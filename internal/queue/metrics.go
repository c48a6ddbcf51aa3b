package queue

import (
	"sync"
	"time"

	"github.com/ternarybob/reperio/internal/models"
)

// QueueMetrics is an aggregate over the attempt metrics of one queue.
type QueueMetrics struct {
	Queue         string        `json:"queue"`
	Attempts      int64         `json:"attempts"`
	Successes     int64         `json:"successes"`
	Failures      int64         `json:"failures"`
	Retries       int64         `json:"retries"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	LastError     string        `json:"last_error,omitempty"`
}

// AvgDuration returns the mean attempt duration, zero when nothing ran.
func (m QueueMetrics) AvgDuration() time.Duration {
	if m.Attempts == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.Attempts)
}

// MetricsRecorder aggregates attempt metrics consumed from a buffered channel.
// Worker pools publish with a non-blocking send, so a slow or absent consumer
// never stalls job settlement.
type MetricsRecorder struct {
	ch     chan models.AttemptMetric
	mu     sync.RWMutex
	queues map[string]*QueueMetrics
	done   chan struct{}
	once   sync.Once
}

// NewMetricsRecorder creates a recorder with the given channel buffer size.
func NewMetricsRecorder(buffer int) *MetricsRecorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &MetricsRecorder{
		ch:     make(chan models.AttemptMetric, buffer),
		queues: make(map[string]*QueueMetrics),
		done:   make(chan struct{}),
	}
}

// Channel returns the send side handed to worker pools.
func (r *MetricsRecorder) Channel() chan<- models.AttemptMetric {
	return r.ch
}

// Start launches the consumer goroutine.
func (r *MetricsRecorder) Start() {
	go r.consume()
}

// Stop drains remaining buffered metrics and stops the consumer.
func (r *MetricsRecorder) Stop() {
	r.once.Do(func() {
		close(r.ch)
	})
	<-r.done
}

func (r *MetricsRecorder) consume() {
	defer close(r.done)
	for metric := range r.ch {
		r.record(metric)
	}
}

func (r *MetricsRecorder) record(metric models.AttemptMetric) {
	r.mu.Lock()
	defer r.mu.Unlock()

	qm, ok := r.queues[metric.Queue]
	if !ok {
		qm = &QueueMetrics{Queue: metric.Queue}
		r.queues[metric.Queue] = qm
	}

	qm.Attempts++
	qm.TotalDuration += metric.Duration
	if metric.Duration > qm.MaxDuration {
		qm.MaxDuration = metric.Duration
	}
	if metric.Success {
		qm.Successes++
	} else {
		qm.Failures++
		qm.LastError = metric.Error
	}
	if metric.Attempt > 1 {
		qm.Retries++
	}
}

// Snapshot returns a copy of the current per-queue aggregates.
func (r *MetricsRecorder) Snapshot() map[string]QueueMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]QueueMetrics, len(r.queues))
	for name, qm := range r.queues {
		out[name] = *qm
	}
	return out
}
