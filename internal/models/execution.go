// -----------------------------------------------------------------------
// Execution - Runtime state of one profile discovery pipeline run
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the state of a discovery pipeline run. Running is the
// only non-terminal state; completed and failed are final.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution tracks one end-to-end discovery pipeline run for a single profile.
// Counters increase monotonically as stages complete; once the status leaves
// running the record is immutable. CompletedAt is set exactly once.
type Execution struct {
	ID                       string          `json:"id"`
	ProfileID                string          `json:"profile_id"`
	Status                   ExecutionStatus `json:"status"`
	QueriesGenerated         int             `json:"queries_generated"`
	QueriesExecuted          int             `json:"queries_executed"`
	OpportunitiesFound       int             `json:"opportunities_found"`
	HighQualityOpportunities int             `json:"high_quality_opportunities"`
	StartedAt                time.Time       `json:"started_at"`
	CompletedAt              *time.Time      `json:"completed_at,omitempty"`
	Error                    string          `json:"error,omitempty"`
}

// NewExecution creates an execution in the running state.
func NewExecution(profileID string) *Execution {
	return &Execution{
		ID:        uuid.New().String(),
		ProfileID: profileID,
		Status:    ExecutionRunning,
		StartedAt: time.Now(),
	}
}

// IsTerminal returns true once the execution has left the running state.
func (e *Execution) IsTerminal() bool {
	return e.Status != ExecutionRunning
}

// MarkCompleted transitions running -> completed. No-op on terminal executions.
func (e *Execution) MarkCompleted() {
	if e.IsTerminal() {
		return
	}
	e.Status = ExecutionCompleted
	now := time.Now()
	e.CompletedAt = &now
}

// MarkFailed transitions running -> failed with the triggering error message.
// Counters accumulated so far stay visible. No-op on terminal executions.
func (e *Execution) MarkFailed(errMsg string) {
	if e.IsTerminal() {
		return
	}
	e.Status = ExecutionFailed
	e.Error = errMsg
	now := time.Now()
	e.CompletedAt = &now
}

// Clone returns a copy safe to hand to pollers while the owner keeps mutating
// the original.
func (e *Execution) Clone() *Execution {
	clone := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}
