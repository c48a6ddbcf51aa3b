// -----------------------------------------------------------------------
// BadgerQueue - Durable priority queue on BadgerDB
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// ErrNoJob is returned by Receive when no job is eligible for dispatch.
var ErrNoJob = errors.New("no job available")

// queueEntry wraps a job for queue persistence.
type queueEntry struct {
	ID         string      `json:"id"`
	Job        *models.Job `json:"job"`
	Rank       int         `json:"rank"`
	Seq        uint64      `json:"seq"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	VisibleAt  time.Time   `json:"visible_at"`
}

// BadgerQueue is a persistent priority queue for one named queue.
//
// Two key families per queue:
//   - data:  queue:{name}:msg:{id}                          -> entry JSON
//   - index: queue:{name}:index:{rank:02d}:{visibleAt:020d}:{seq:020d}:{id} -> empty
//
// The index key sorts by priority rank, then readiness time, then enqueue
// sequence, so an iterator yields the next eligible job in dispatch order.
// Receive bumps VisibleAt by the visibility timeout so a crashed worker's job
// becomes eligible again instead of being lost.
type BadgerQueue struct {
	db                *badger.DB
	name              string
	visibilityTimeout time.Duration
	seq               atomic.Uint64
}

// Compile-time assertion: BadgerQueue implements the Queue interface.
var _ interfaces.Queue = (*BadgerQueue)(nil)

// NewBadgerQueue creates a queue over an externally managed Badger instance.
func NewBadgerQueue(db *badger.DB, name string, visibilityTimeout time.Duration) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}

	q := &BadgerQueue{
		db:                db,
		name:              name,
		visibilityTimeout: visibilityTimeout,
	}
	// Seed the FIFO tiebreaker above any sequence a previous process used.
	q.seq.Store(uint64(time.Now().UnixNano()))
	return q, nil
}

// Enqueue makes the job visible immediately, or at Job.ScheduledFor if set.
func (q *BadgerQueue) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	visibleAt := time.Now()
	if job.ScheduledFor != nil && job.ScheduledFor.After(visibleAt) {
		visibleAt = *job.ScheduledFor
	}

	entry := queueEntry{
		ID:         job.ID,
		Job:        job,
		Rank:       job.Priority.Rank(),
		Seq:        q.seq.Add(1),
		EnqueuedAt: time.Now(),
		VisibleAt:  visibleAt,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}

	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(entry.ID), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(entry.Rank, entry.VisibleAt, entry.Seq, entry.ID), []byte{})
	})
}

// Receive pulls the next eligible job: lowest rank first, then earliest
// readiness, then enqueue order. Returns ErrNoJob when nothing is ready.
// The claimed job's visibility moves forward so other workers skip it.
func (q *BadgerQueue) Receive(ctx context.Context) (*interfaces.QueueMessage, error) {
	var claimed queueEntry

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", q.name))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false
		var oldIndexKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			_, visibleAt, _, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}
			// Not ready yet. Entries in a later rank may still be ready, so
			// keep scanning rather than breaking out.
			if visibleAt.After(now) {
				continue
			}

			item, err := txn.Get(q.msgKey(id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphaned index entry; clean it up and move on.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &claimed)
			}); err != nil {
				return err
			}

			found = true
			oldIndexKey = key
			break
		}

		if !found {
			return ErrNoJob
		}

		// Each delivery is one attempt.
		claimed.Job.Attempts++
		claimed.VisibleAt = now.Add(q.visibilityTimeout)

		data, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(claimed.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(claimed.Rank, claimed.VisibleAt, claimed.Seq, claimed.ID), []byte{})
	})
	if err != nil {
		return nil, err
	}

	msgID := claimed.ID
	return &interfaces.QueueMessage{
		ID:  msgID,
		Job: claimed.Job,
		Done: func() error {
			return q.remove(msgID)
		},
		Release: func(delay time.Duration) error {
			return q.release(msgID, delay)
		},
	}, nil
}

// Len returns the number of entries held by the queue, visible or not.
func (q *BadgerQueue) Len(ctx context.Context) (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", q.name))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close is a no-op; the Badger instance is managed by the caller.
func (q *BadgerQueue) Close() error {
	return nil
}

// remove acknowledges a claimed message, deleting data and index entries.
func (q *BadgerQueue) remove(id string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // Already removed
			}
			return err
		}

		var entry queueEntry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}

		idxKey := q.indexKey(entry.Rank, entry.VisibleAt, entry.Seq, entry.ID)
		if err := txn.Delete(idxKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(q.msgKey(id))
	})
}

// release reschedules a claimed message to become visible after delay,
// persisting the job's current state (including its incremented attempt count).
func (q *BadgerQueue) release(id string, delay time.Duration) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(id))
		if err != nil {
			return err
		}

		var entry queueEntry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}

		oldIdxKey := q.indexKey(entry.Rank, entry.VisibleAt, entry.Seq, entry.ID)
		entry.VisibleAt = time.Now().Add(delay)

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(id), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIdxKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(q.indexKey(entry.Rank, entry.VisibleAt, entry.Seq, entry.ID), []byte{})
	})
}

// Helpers

func (q *BadgerQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.name, id))
}

func (q *BadgerQueue) indexKey(rank int, visibleAt time.Time, seq uint64, id string) []byte {
	// Zero padding keeps lexicographic order equal to numeric order.
	return []byte(fmt.Sprintf("queue:%s:index:%02d:%020d:%020d:%s", q.name, rank, visibleAt.UnixNano(), seq, id))
}

func (q *BadgerQueue) parseIndexKey(key []byte) (rank int, visibleAt time.Time, seq uint64, id string, err error) {
	prefix := fmt.Sprintf("queue:%s:index:", q.name)
	if len(key) <= len(prefix) {
		return 0, time.Time{}, 0, "", fmt.Errorf("invalid index key length")
	}
	parts := strings.SplitN(string(key[len(prefix):]), ":", 4)
	if len(parts) != 4 {
		return 0, time.Time{}, 0, "", fmt.Errorf("invalid index key format")
	}
	rank, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, time.Time{}, 0, "", err
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, 0, "", err
	}
	seq, err = strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, time.Time{}, 0, "", err
	}
	return rank, time.Unix(0, nanos), seq, parts[3], nil
}
