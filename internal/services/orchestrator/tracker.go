package orchestrator

import (
	"sync"

	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// ExecutionTracker is the in-memory ExecutionStore. Snapshots are cloned on
// both Put and Get, so pollers never observe a pipeline's working copy
// mid-mutation. State is process-local; restarts start with an empty registry.
type ExecutionTracker struct {
	mu         sync.RWMutex
	executions map[string]*models.Execution
}

// Compile-time assertion: ExecutionTracker implements the ExecutionStore interface.
var _ interfaces.ExecutionStore = (*ExecutionTracker)(nil)

// NewExecutionTracker creates an empty tracker.
func NewExecutionTracker() *ExecutionTracker {
	return &ExecutionTracker{
		executions: make(map[string]*models.Execution),
	}
}

// Put stores a snapshot of the execution, replacing any previous snapshot.
func (t *ExecutionTracker) Put(execution *models.Execution) {
	if execution == nil || execution.ID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions[execution.ID] = execution.Clone()
}

// Get returns a clone of the stored execution.
func (t *ExecutionTracker) Get(id string) (*models.Execution, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	execution, ok := t.executions[id]
	if !ok {
		return nil, false
	}
	return execution.Clone(), true
}

// List returns clones of every stored execution.
func (t *ExecutionTracker) List() []*models.Execution {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*models.Execution, 0, len(t.executions))
	for _, execution := range t.executions {
		out = append(out, execution.Clone())
	}
	return out
}

// Delete removes the execution from the registry.
func (t *ExecutionTracker) Delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.executions, id)
}
