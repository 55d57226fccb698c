// Package anomaly implements the Anomaly Detector (C4): two independent
// statistical tests run per stage completion (or on request) against a
// duration baseline and the execution's error log stream.
package anomaly

import (
	"fmt"

	"github.com/flowforge/pipelinectl/internal/ports"
)

// Detector is the stateless C4 implementation.
type Detector struct{}

// NewDetector constructs an Anomaly Detector.
func NewDetector() Detector { return Detector{} }

// Detect runs the duration-outlier and error-burst tests and combines their
// verdicts into one result. Either test alone can mark the observation
// anomalous; severity is the higher of the two.
func (Detector) Detect(obs ports.AnomalyObservation, params ports.AnomalyParams) ports.AnomalyResult {
	multiplier := params.TimeMultiplier
	if multiplier <= 0 {
		multiplier = 3
	}
	threshold := params.ErrorThreshold
	if threshold <= 0 {
		threshold = 5
	}

	durationAnomaly, zScore, durationSeverity, durationReason := durationOutlier(obs, multiplier)
	errorBurst, burstSeverity, burstReason := errorBurstTest(obs.ErrorCount, threshold)

	var reasons []string
	if durationAnomaly {
		reasons = append(reasons, durationReason)
	}
	if errorBurst {
		reasons = append(reasons, burstReason)
	}

	severity := ports.AnomalySeverityNone
	if durationAnomaly || errorBurst {
		severity = maxSeverity(durationSeverity, burstSeverity)
	}

	return ports.AnomalyResult{
		IsAnomaly:  durationAnomaly || errorBurst,
		Severity:   severity,
		ZScore:     zScore,
		ErrorBurst: errorBurst,
		Reasons:    reasons,
	}
}

func durationOutlier(obs ports.AnomalyObservation, multiplier float64) (isAnomaly bool, zScore float64, severity ports.AnomalySeverity, reason string) {
	current := obs.Duration.Seconds()
	mean := obs.Baseline.Mean.Seconds()
	std := obs.Baseline.StdDev.Seconds()

	if obs.Baseline.Count == 0 {
		return false, 0, ports.AnomalySeverityNone, ""
	}

	if std > 0 {
		zScore = (current - mean) / std
		if zScore <= multiplier {
			return false, zScore, ports.AnomalySeverityNone, ""
		}
		severity = bandedSeverity(zScore, multiplier, multiplier+2)
		reason = fmt.Sprintf("duration z-score %.2f exceeds multiplier %.1f", zScore, multiplier)
		return true, zScore, severity, reason
	}

	if mean <= 0 || current <= mean*multiplier {
		return false, 0, ports.AnomalySeverityNone, ""
	}
	ratio := current / mean
	severity = bandedSeverity(ratio, multiplier, multiplier+2)
	reason = fmt.Sprintf("duration %.1fs exceeds %.1fx the baseline mean with no variance data", current, multiplier)
	return true, 0, severity, reason
}

func errorBurstTest(count, threshold int) (isAnomaly bool, severity ports.AnomalySeverity, reason string) {
	if count < threshold {
		return false, ports.AnomalySeverityNone, ""
	}
	severity = bandedSeverity(float64(count), float64(threshold), float64(2*threshold))
	reason = fmt.Sprintf("error count %d reached burst threshold %d", count, threshold)
	return true, severity, reason
}

// bandedSeverity implements the medium/high split of spec §4.4: a value up
// to upperBound (inclusive) is medium, beyond it is high. lowerBound is the
// threshold the caller already confirmed value exceeds.
func bandedSeverity(value, lowerBound, upperBound float64) ports.AnomalySeverity {
	_ = lowerBound
	if value <= upperBound {
		return ports.AnomalySeverityMedium
	}
	return ports.AnomalySeverityHigh
}

func maxSeverity(a, b ports.AnomalySeverity) ports.AnomalySeverity {
	rank := func(s ports.AnomalySeverity) int {
		switch s {
		case ports.AnomalySeverityHigh:
			return 3
		case ports.AnomalySeverityMedium:
			return 2
		case ports.AnomalySeverityLow:
			return 1
		default:
			return 0
		}
	}
	if rank(a) >= rank(b) {
		return a
	}
	return b
}
