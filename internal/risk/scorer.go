// Package risk implements the Risk Scorer (C3): a deterministic, weighted
// assessment of how risky it is to admit a new execution for a pipeline,
// given its recent track record.
package risk

import (
	"fmt"
	"math"

	"github.com/flowforge/pipelinectl/internal/ports"
)

const defaultTimeoutSeconds = 30 * 60

// Scorer is the stateless C3 implementation. It holds no mutable state; all
// inputs arrive via Score's parameters.
type Scorer struct{}

// NewScorer constructs a Risk Scorer.
func NewScorer() Scorer { return Scorer{} }

// Score computes the weighted risk assessment for stats under thresholds.
// It is a pure function: no randomness, no clock reads beyond what is
// already encoded in stats.DaysSinceSuccess.
func (Scorer) Score(stats ports.ExecutionStats, thresholds ports.RiskThresholds) ports.RiskAssessment {
	factors := []ports.RiskFactor{
		historicalFailureRate(stats),
		recentFailures(stats),
		consecutiveFailures(stats),
		durationAnomaly(stats),
		stageComplexity(stats),
		timeSinceSuccess(stats),
	}

	var score float64
	for _, f := range factors {
		score += f.Contribution
	}
	score = clamp01(round3(score))

	level := levelFor(score, thresholds)
	return ports.RiskAssessment{
		Score:           score,
		Level:           level,
		Factors:         factors,
		Recommendations: recommendationsFor(factors, level),
		Explanation:     explain(stats, score, level),
	}
}

func historicalFailureRate(stats ports.ExecutionStats) ports.RiskFactor {
	const weight = 0.30
	rate := safeRate(stats.FailedExecutions, stats.TotalExecutions)
	sub := math.Min(rate*1.5, 1)
	return newFactor("historical_failure_rate", weight, sub)
}

func recentFailures(stats ports.ExecutionStats) ports.RiskFactor {
	const weight = 0.25
	rate := safeRate(stats.FailuresLast7Days, stats.ExecutionsLast7Days)
	sub := math.Min(rate*2, 1)
	return newFactor("recent_failures", weight, sub)
}

func consecutiveFailures(stats ports.ExecutionStats) ports.RiskFactor {
	const weight = 0.15
	sub := math.Min(float64(stats.ConsecutiveFailures)/3, 1)
	return newFactor("consecutive_failures", weight, sub)
}

func durationAnomaly(stats ports.ExecutionStats) ports.RiskFactor {
	const weight = 0.10
	avg := stats.AverageDuration.Seconds()
	var sub float64
	switch {
	case avg > 0.8*defaultTimeoutSeconds:
		sub = 0.8
	case avg > 120:
		sub = math.Min(avg/300, 0.6)
	default:
		sub = 0
	}
	return newFactor("duration_anomaly", weight, sub)
}

func stageComplexity(stats ports.ExecutionStats) ports.RiskFactor {
	const weight = 0.10
	sub := math.Min(float64(stats.StageCount)/15, 1)
	return newFactor("stage_complexity", weight, sub)
}

func timeSinceSuccess(stats ports.ExecutionStats) ports.RiskFactor {
	const weight = 0.10
	sub := math.Min(stats.DaysSinceSuccess/7, 1)
	return newFactor("time_since_success", weight, sub)
}

func newFactor(name string, weight, sub float64) ports.RiskFactor {
	return ports.RiskFactor{Name: name, Weight: weight, SubScore: sub, Contribution: weight * sub}
}

func safeRate(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func levelFor(score float64, t ports.RiskThresholds) ports.RiskLevel {
	switch {
	case score >= t.High:
		return ports.RiskLevelCritical
	case score >= t.Medium:
		return ports.RiskLevelHigh
	case score >= t.Low:
		return ports.RiskLevelMedium
	default:
		return ports.RiskLevelLow
	}
}

func recommendationsFor(factors []ports.RiskFactor, level ports.RiskLevel) []string {
	var out []string
	for _, f := range factors {
		if f.SubScore < 0.5 {
			continue
		}
		switch f.Name {
		case "historical_failure_rate":
			out = append(out, "review the pipeline's recent failure history before retriggering")
		case "recent_failures":
			out = append(out, "investigate failures from the last 7 days")
		case "consecutive_failures":
			out = append(out, "pipeline has failed repeatedly in a row; consider pausing it")
		case "duration_anomaly":
			out = append(out, "average duration is approaching the execution timeout")
		case "stage_complexity":
			out = append(out, "pipeline has a large stage count; consider splitting it")
		case "time_since_success":
			out = append(out, "pipeline has not succeeded recently")
		}
	}
	if level == ports.RiskLevelCritical {
		out = append(out, "execution will be blocked unless risk blocking is disabled")
	}
	return out
}

func explain(stats ports.ExecutionStats, score float64, level ports.RiskLevel) string {
	return fmt.Sprintf(
		"risk score %.3f (%s) over a %d-day window: %d/%d executions failed, %d consecutive failures, last success %.1f days ago",
		score, level, stats.WindowDays, stats.FailedExecutions, stats.TotalExecutions, stats.ConsecutiveFailures, stats.DaysSinceSuccess,
	)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
