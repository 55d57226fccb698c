package pipeline

import "time"

// InsightScope names the entity an Insight is attached to.
type InsightScope string

const (
	InsightScopePipeline  InsightScope = "pipeline"
	InsightScopeExecution InsightScope = "execution"
	InsightScopeStage     InsightScope = "stage"
)

// InsightSeverity ranks an Insight for operator triage. It is assigned by
// the producing component (risk scorer, anomaly detector, selector) and is
// independent of the risk level bands of spec.md §4.3 (§3's design notes
// flag those two vocabularies as not perfectly reconciled in the source).
type InsightSeverity string

const (
	InsightSeverityInfo     InsightSeverity = "info"
	InsightSeverityWarning  InsightSeverity = "warning"
	InsightSeverityCritical InsightSeverity = "critical"
)

// Insight is an advisory record produced by the engine (risk scoring,
// anomaly detection, or remediation) and consumed only by external
// viewers — the engine never reads its own insights back to make a
// decision.
type Insight struct {
	ID             string
	Scope          InsightScope
	PipelineID     string
	ExecutionID    string
	StageID        string // set only when Scope is InsightScopeStage
	Kind           string // e.g. "risk_assessment", "anomaly", "remediation"
	Severity       InsightSeverity
	Title          string
	Message        string
	Recommendation string
	Confidence     float64 // in [0,1]
	RiskScore      *float64
	Factors        []string
	Explanation    string
	Resolved       bool
	CreatedAt      time.Time
}

// Validate checks the insight's field invariants.
func (i Insight) Validate() error {
	if i.Title == "" {
		return newMissingFieldError("title")
	}
	if i.Message == "" {
		return newMissingFieldError("message")
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return newValidationError("confidence must be in [0,1]", map[string]interface{}{"confidence": i.Confidence})
	}
	switch i.Scope {
	case InsightScopePipeline, InsightScopeExecution, InsightScopeStage:
	default:
		return newTypeError("one of pipeline, execution, stage", string(i.Scope))
	}
	if i.Scope == InsightScopeStage && i.StageID == "" {
		return newMissingFieldError("stage_id")
	}
	switch i.Severity {
	case InsightSeverityInfo, InsightSeverityWarning, InsightSeverityCritical:
	default:
		return newTypeError("one of info, warning, critical", string(i.Severity))
	}
	return nil
}
