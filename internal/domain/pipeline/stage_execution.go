package pipeline

import "time"

// StageExecutionStatus is the per-stage run state.
type StageExecutionStatus string

const (
	StageExecutionPending   StageExecutionStatus = "pending"
	StageExecutionRunning   StageExecutionStatus = "running"
	StageExecutionCompleted StageExecutionStatus = "completed"
	StageExecutionFailed    StageExecutionStatus = "failed"
	StageExecutionSkipped   StageExecutionStatus = "skipped"
)

// StageExecution records one attempt history for a stage within an
// Execution. A stage that is retried accumulates Attempt increments on the
// same record rather than producing a new row per attempt (spec.md §4.7's
// retry loop re-runs the same stage execution in place).
type StageExecution struct {
	ExecutionID string
	StageID     string
	Status      StageExecutionStatus
	Attempt     int
	MaxAttempts int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Output      map[string]interface{}
	Error       string

	// IsAnomaly and AnomalyReason carry the Anomaly Detector's (C4) verdict
	// for this stage's most recent attempt, if one was flagged.
	IsAnomaly     bool
	AnomalyReason string
}

// Validate checks field invariants independent of the attempt lifecycle.
func (se StageExecution) Validate() error {
	if se.ExecutionID == "" {
		return newMissingFieldError("execution_id")
	}
	if se.StageID == "" {
		return newMissingFieldError("stage_id")
	}
	if se.Attempt < 0 {
		return newStateError("attempt must be non-negative", map[string]interface{}{"stage_id": se.StageID})
	}
	if se.MaxAttempts < 1 {
		return newStateError("max_attempts must be at least 1", map[string]interface{}{"stage_id": se.StageID})
	}
	if se.Attempt > se.MaxAttempts {
		return newStateError("attempt exceeds max_attempts", map[string]interface{}{
			"stage_id":     se.StageID,
			"attempt":      se.Attempt,
			"max_attempts": se.MaxAttempts,
		})
	}
	return nil
}

// ExhaustedRetries reports whether no further attempt is permitted, i.e.
// Attempt has reached MaxAttempts.
func (se StageExecution) ExhaustedRetries() bool {
	return se.Attempt >= se.MaxAttempts
}
