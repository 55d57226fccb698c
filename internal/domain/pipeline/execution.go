package pipeline

import "time"

// ExecutionStatus is the execution state machine of spec.md §4.8.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionRunning    ExecutionStatus = "running"
	ExecutionPaused     ExecutionStatus = "paused"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionCancelled  ExecutionStatus = "cancelled"
	ExecutionRolledBack ExecutionStatus = "rolled_back"
)

// IsTerminal reports whether the status is absorbing.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionRolledBack:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the edges of the state machine in spec.md
// §4.8. Terminal states have no outgoing edges.
var validTransitions = map[ExecutionStatus]map[ExecutionStatus]bool{
	ExecutionPending: {
		ExecutionRunning:    true,
		ExecutionCancelled:  true,
		ExecutionFailed:     true,
		ExecutionRolledBack: true,
	},
	ExecutionRunning: {
		ExecutionCompleted:  true,
		ExecutionPaused:     true,
		ExecutionFailed:     true,
		ExecutionCancelled:  true,
		ExecutionRolledBack: true,
	},
	ExecutionPaused: {
		ExecutionRunning:    true,
		ExecutionFailed:     true,
		ExecutionCancelled:  true,
		ExecutionRolledBack: true,
	},
}

// CanTransition reports whether moving from "from" to "to" is a legal edge
// of the state machine, or a no-op re-application of the same terminal
// state (idempotent terminal transitions per spec.md §4.1's guarantee).
func CanTransition(from, to ExecutionStatus) bool {
	if from == to && from.IsTerminal() {
		return true
	}
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Execution is one run of a pipeline.
type Execution struct {
	ID              string
	PipelineID      string
	PipelineName    string
	Status          ExecutionStatus
	TotalStages     int
	CompletedStages int
	CurrentStage    string // empty when none
	StartedAt       time.Time
	CompletedAt     *time.Time
	Duration        *time.Duration
	RiskScore       *float64
	TriggerSource   string
	TriggerMetadata map[string]interface{}
	Variables       map[string]interface{}
	Results         map[string]interface{} // keyed by stage id
	Error           string
}

// Validate checks the invariants of spec.md §3 that apply independent of
// the state machine transition being applied.
func (e Execution) Validate() error {
	if e.ID == "" {
		return newMissingFieldError("id")
	}
	if e.PipelineID == "" {
		return newMissingFieldError("pipeline_id")
	}
	if e.CompletedStages < 0 || e.CompletedStages > e.TotalStages {
		return newStateError("completed_stages out of range", map[string]interface{}{
			"completed_stages": e.CompletedStages,
			"total_stages":     e.TotalStages,
		})
	}
	if e.Status.IsTerminal() {
		if e.CompletedAt == nil {
			return newStateError("terminal execution missing completed_at", map[string]interface{}{"execution_id": e.ID})
		}
		if e.Duration == nil {
			return newStateError("terminal execution missing duration", map[string]interface{}{"execution_id": e.ID})
		}
		want := e.CompletedAt.Sub(e.StartedAt)
		if *e.Duration != want {
			return newStateError("duration does not equal completed_at - started_at", map[string]interface{}{"execution_id": e.ID})
		}
	}
	return nil
}

// Transition validates and applies a status change, stamping CompletedAt and
// Duration when the destination is terminal. It is a pure function: callers
// persist the result.
func (e Execution) Transition(to ExecutionStatus, at time.Time) (Execution, error) {
	if !CanTransition(e.Status, to) {
		return e, newStateError("illegal execution state transition", map[string]interface{}{
			"execution_id": e.ID,
			"from":         string(e.Status),
			"to":           string(to),
		})
	}

	next := e
	next.Status = to
	if to.IsTerminal() && next.CompletedAt == nil {
		completedAt := at
		duration := completedAt.Sub(e.StartedAt)
		next.CompletedAt = &completedAt
		next.Duration = &duration
	}
	return next, nil
}
