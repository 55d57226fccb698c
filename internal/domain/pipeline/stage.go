package pipeline

import (
	"regexp"
	"sort"
)

var stageIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// StageKind enumerates the closed set of built-in stage handlers. Handler
// implementations are registered by kind (see internal/handlers); the kind
// itself is a closed sum type at this API boundary.
type StageKind string

const (
	StageKindInput      StageKind = "input"
	StageKindTransform  StageKind = "transform"
	StageKindValidation StageKind = "validation"
	StageKindOutput     StageKind = "output"
)

var validStageKinds = []StageKind{StageKindInput, StageKindTransform, StageKindValidation, StageKindOutput}

func isValidStageKind(k StageKind) bool {
	for _, candidate := range validStageKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// Stage describes a single unit of work in the pipeline DAG.
type Stage struct {
	ID           string
	Name         string
	Kind         StageKind
	Config       map[string]interface{}
	DependsOn    []string
	Timeout      int // seconds, must be positive
	MaxRetries   int // >= 0
	RetryBase    float64
	RetryBackoff float64 // >= 1
	IsCritical   bool
}

// Validate ensures the stage satisfies the invariants of spec.md §3.
func (s Stage) Validate() error {
	if s.ID == "" {
		return newMissingFieldError("id")
	}
	if !stageIDPattern.MatchString(s.ID) {
		return newValidationError("stage id must match ^[a-zA-Z0-9_-]+$", map[string]interface{}{"stage_id": s.ID})
	}
	if s.Kind == "" {
		return newMissingFieldError("kind")
	}
	if !isValidStageKind(s.Kind) {
		return newTypeError("one of input, transform, validation, output", string(s.Kind)).WithContext(map[string]interface{}{"stage_id": s.ID})
	}
	if s.Timeout <= 0 {
		return newValidationError("stage timeout must be positive", map[string]interface{}{"stage_id": s.ID})
	}
	if s.MaxRetries < 0 {
		return newValidationError("stage max_retries must be non-negative", map[string]interface{}{"stage_id": s.ID})
	}
	if s.RetryBase < 0 {
		return newValidationError("stage retry_base must be non-negative", map[string]interface{}{"stage_id": s.ID})
	}
	if s.RetryBackoff < 1 {
		return newValidationError("stage retry_backoff must be >= 1", map[string]interface{}{"stage_id": s.ID})
	}
	return nil
}

// HasDependency reports whether the stage declares the given dependency.
func (s Stage) HasDependency(id string) bool {
	for _, dep := range s.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

// SortedDependencies returns a sorted copy of the dependency list.
func (s Stage) SortedDependencies() []string {
	deps := append([]string(nil), s.DependsOn...)
	sort.Strings(deps)
	return deps
}

// Clone returns a deep copy of the stage, including its configuration map.
func (s Stage) Clone() Stage {
	clone := s
	clone.DependsOn = append([]string(nil), s.DependsOn...)
	clone.Config = make(map[string]interface{}, len(s.Config))
	for k, v := range s.Config {
		clone.Config[k] = v
	}
	return clone
}
