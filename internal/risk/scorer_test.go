package risk

import (
	"testing"
	"time"

	"github.com/flowforge/pipelinectl/internal/ports"
)

func defaultThresholds() ports.RiskThresholds {
	return ports.RiskThresholds{Low: 0.2, Medium: 0.4, High: 0.7, BlockHighRisk: true}
}

func TestScoreHealthyPipelineIsLowRisk(t *testing.T) {
	stats := ports.ExecutionStats{
		WindowDays:          30,
		TotalExecutions:     100,
		FailedExecutions:    1,
		AverageDuration:     30 * time.Second,
		FailuresLast7Days:   0,
		ExecutionsLast7Days: 10,
		ConsecutiveFailures: 0,
		DaysSinceSuccess:    0.1,
		StageCount:          3,
	}

	assessment := NewScorer().Score(stats, defaultThresholds())
	if assessment.Level != ports.RiskLevelLow {
		t.Fatalf("expected low risk, got %s (score=%v)", assessment.Level, assessment.Score)
	}
	if len(assessment.Factors) != 6 {
		t.Fatalf("expected 6 weighted factors, got %d", len(assessment.Factors))
	}
}

func TestScoreStrugglingPipelineIsCritical(t *testing.T) {
	stats := ports.ExecutionStats{
		WindowDays:          30,
		TotalExecutions:     20,
		FailedExecutions:    15,
		AverageDuration:     28 * time.Minute,
		FailuresLast7Days:   5,
		ExecutionsLast7Days: 5,
		ConsecutiveFailures: 6,
		DaysSinceSuccess:    10,
		StageCount:          20,
	}

	assessment := NewScorer().Score(stats, defaultThresholds())
	if assessment.Level != ports.RiskLevelCritical {
		t.Fatalf("expected critical risk, got %s (score=%v)", assessment.Level, assessment.Score)
	}
	if assessment.Score < 0.7 {
		t.Fatalf("expected score >= 0.7, got %v", assessment.Score)
	}
}

func TestScoreIsClampedAndRounded(t *testing.T) {
	stats := ports.ExecutionStats{
		TotalExecutions:     10,
		FailedExecutions:    10,
		FailuresLast7Days:   10,
		ExecutionsLast7Days: 10,
		ConsecutiveFailures: 100,
		AverageDuration:     time.Hour,
		DaysSinceSuccess:    365,
		StageCount:          100,
	}

	assessment := NewScorer().Score(stats, defaultThresholds())
	if assessment.Score > 1 || assessment.Score < 0 {
		t.Fatalf("score out of bounds: %v", assessment.Score)
	}
	rounded := round3(assessment.Score)
	if assessment.Score != rounded {
		t.Fatalf("expected score already rounded to 3 decimals, got %v", assessment.Score)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	stats := ports.ExecutionStats{
		TotalExecutions: 50, FailedExecutions: 5, FailuresLast7Days: 1, ExecutionsLast7Days: 7,
		ConsecutiveFailures: 1, AverageDuration: 45 * time.Second, DaysSinceSuccess: 0.5, StageCount: 4,
	}
	first := NewScorer().Score(stats, defaultThresholds())
	second := NewScorer().Score(stats, defaultThresholds())
	if first.Score != second.Score || first.Level != second.Level {
		t.Fatalf("expected deterministic output, got %v/%v and %v/%v", first.Score, first.Level, second.Score, second.Level)
	}
}

func TestScoreWithNoHistoryIsZero(t *testing.T) {
	assessment := NewScorer().Score(ports.ExecutionStats{}, defaultThresholds())
	if assessment.Score != 0 {
		t.Fatalf("expected zero risk with no history, got %v", assessment.Score)
	}
	if assessment.Level != ports.RiskLevelLow {
		t.Fatalf("expected low level with no history, got %s", assessment.Level)
	}
}
