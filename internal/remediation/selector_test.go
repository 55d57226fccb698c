package remediation

import (
	"testing"

	"github.com/flowforge/pipelinectl/internal/ports"
)

func TestSelectContinuesWhenNoIssue(t *testing.T) {
	decision := NewSelector().Select(ports.RemediationInput{})
	if decision.Action != ports.ActionContinue {
		t.Fatalf("expected continue, got %s", decision.Action)
	}
}

func TestSelectRetriesWhenRetriesRemain(t *testing.T) {
	decision := NewSelector().Select(ports.RemediationInput{HasError: true, RetriesUsed: 1, MaxRetries: 3})
	if decision.Action != ports.ActionRetryStage {
		t.Fatalf("expected retry_stage, got %s", decision.Action)
	}
}

func TestSelectSkipsNonCriticalExhaustedStage(t *testing.T) {
	decision := NewSelector().Select(ports.RemediationInput{HasError: true, IsCritical: false, RetriesUsed: 3, MaxRetries: 3})
	if decision.Action != ports.ActionSkipStage {
		t.Fatalf("expected skip_stage, got %s", decision.Action)
	}
}

func TestSelectRollsBackCriticalErrorBurstUnderHighRisk(t *testing.T) {
	decision := NewSelector().Select(ports.RemediationInput{
		HasError: true, IsCritical: true, ErrorBurst: true, RiskLevel: ports.RiskLevelHigh, RetriesUsed: 3, MaxRetries: 3,
	})
	if decision.Action != ports.ActionRollback {
		t.Fatalf("expected rollback, got %s", decision.Action)
	}
}

func TestSelectPausesCriticalExhaustedStageWithoutBurst(t *testing.T) {
	decision := NewSelector().Select(ports.RemediationInput{
		HasError: true, IsCritical: true, RetriesUsed: 2, MaxRetries: 2, RiskLevel: ports.RiskLevelLow,
	})
	if decision.Action != ports.ActionPausePipeline {
		t.Fatalf("expected pause_pipeline, got %s", decision.Action)
	}
}

func TestSelectTerminatesOnSafetyViolation(t *testing.T) {
	// HasAnomaly alone (no error, non-critical) falls through every earlier
	// rule, leaving the safety violation as the deciding factor.
	decision := NewSelector().Select(ports.RemediationInput{
		HasAnomaly: true, SafetyViolation: true,
	})
	if decision.Action != ports.ActionTerminate {
		t.Fatalf("expected terminate, got %s", decision.Action)
	}
}

func TestSelectPriorityOrderPrefersRetryOverSkip(t *testing.T) {
	decision := NewSelector().Select(ports.RemediationInput{HasError: true, IsCritical: false, RetriesUsed: 0, MaxRetries: 2})
	if decision.Action != ports.ActionRetryStage {
		t.Fatalf("expected retry_stage to take priority over skip_stage, got %s", decision.Action)
	}
}
