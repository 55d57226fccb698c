// Package remediation implements the Action Selector (C5): a pure function
// mapping a stage failure or anomaly context to one remediation action.
package remediation

import (
	"fmt"

	"github.com/flowforge/pipelinectl/internal/ports"
)

// Selector is the stateless C5 implementation.
type Selector struct{}

// NewSelector constructs an Action Selector.
func NewSelector() Selector { return Selector{} }

// Select evaluates input against the priority order of spec §4.5,
// safest-first, and returns the first action that applies.
func (Selector) Select(input ports.RemediationInput) ports.RemediationDecision {
	switch {
	case !input.HasError && !input.HasAnomaly:
		return decide(ports.ActionContinue, "no error or anomaly detected")

	case input.HasError && input.RetriesUsed < input.MaxRetries:
		return decide(ports.ActionRetryStage, fmt.Sprintf("recoverable error with retries remaining (%d/%d used)", input.RetriesUsed, input.MaxRetries))

	case input.HasError && !input.IsCritical && input.RetriesUsed >= input.MaxRetries:
		return decide(ports.ActionSkipStage, "non-critical stage exhausted its retry budget")

	case input.IsCritical && input.ErrorBurst && (input.RiskLevel == ports.RiskLevelHigh || input.RiskLevel == ports.RiskLevelCritical):
		return decide(ports.ActionRollback, fmt.Sprintf("critical stage error burst under %s pre-execution risk", input.RiskLevel))

	case input.IsCritical && input.RetriesUsed >= input.MaxRetries:
		return decide(ports.ActionPausePipeline, "critical stage exhausted its retry budget")

	case input.SafetyViolation:
		return decide(ports.ActionTerminate, "unresolved safety violation")

	default:
		return decide(ports.ActionTerminate, "no remediation rule matched; terminating defensively")
	}
}

func decide(action ports.RemediationAction, rationale string) ports.RemediationDecision {
	return ports.RemediationDecision{Action: action, Rationale: rationale}
}
