package ports

// RiskLevel bands the score produced by the Risk Scorer.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskFactor is one weighted term of an assessment, surfaced for the
// insight's explanation and for operator review.
type RiskFactor struct {
	Name       string
	Weight     float64
	SubScore   float64
	Contribution float64
}

// RiskAssessment is the pure-function output of the Risk Scorer (C3).
type RiskAssessment struct {
	Score          float64
	Level          RiskLevel
	Factors        []RiskFactor
	Recommendations []string
	Explanation    string
}

// Scorer computes a deterministic, weighted risk assessment from aggregate
// execution statistics. Implementations must be pure: no randomness, no
// clock reads beyond what is already encoded in ExecutionStats (spec §4.3).
type Scorer interface {
	Score(stats ExecutionStats, thresholds RiskThresholds) RiskAssessment
}

// RiskThresholds configures the band edges and admission policy for C3.
type RiskThresholds struct {
	Low           float64 // default 0.2
	Medium        float64 // default 0.4
	High          float64 // default 0.7
	BlockHighRisk bool
}
