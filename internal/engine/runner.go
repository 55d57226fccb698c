package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	"github.com/flowforge/pipelinectl/internal/ports"
	apperrors "github.com/flowforge/pipelinectl/pkg/errors"
)

// StageRunContext carries the state a Stage Runner invocation needs beyond
// the stage definition itself: the execution's variables and the results of
// previously completed stages, keyed by stage id, plus the anomaly baseline
// and parameters the supervisor resolved for this execution (spec §4.4).
type StageRunContext struct {
	ExecutionID   string
	Variables     map[string]interface{}
	Results       map[string]map[string]interface{}
	Baseline      ports.DurationBaseline
	AnomalyParams ports.AnomalyParams
}

// StageRunResult is the outcome of running one stage to completion or
// exhaustion of its retry budget.
type StageRunResult struct {
	Status   pipeline.StageExecutionStatus
	Output   map[string]interface{}
	Error    string
	Attempts int
	Anomaly  ports.AnomalyResult
}

// Runner executes a single stage with timeout, retries, and result capture
// (C7). It writes live state to the coordination port and terminal/attempt
// state to the durable store as it goes, per spec §4.7. After each stage
// reaches a terminal outcome it runs the Anomaly Detector (C4) against the
// observed duration and failure count.
type Runner struct {
	store    ports.Store
	coord    ports.Coordination
	handlers ports.HandlerRegistry
	logger   ports.Logger
	metrics  ports.MetricsCollector
	detector ports.Detector
	sleep    func(time.Duration)
}

// NewRunner constructs a Stage Runner. metrics may be nil to disable
// instrumentation (e.g. in unit tests).
func NewRunner(store ports.Store, coord ports.Coordination, handlers ports.HandlerRegistry, logger ports.Logger, metrics ports.MetricsCollector) *Runner {
	return &Runner{
		store:    store,
		coord:    coord,
		handlers: handlers,
		logger:   logger,
		metrics:  metrics,
		sleep:    time.Sleep,
	}
}

// Run executes stage through its full retry budget. The supplied ctx should
// already carry the execution-level cancellation signal; Run layers a
// per-attempt timeout derived from stage.Timeout on top of it.
func (r *Runner) Run(ctx context.Context, stage pipeline.Stage, runCtx StageRunContext) StageRunResult {
	timeout := time.Duration(stage.Timeout) * time.Second
	var lastErr string
	stageStart := time.Now()
	failedAttempts := 0

	for attempt := 0; attempt <= stage.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return StageRunResult{Status: pipeline.StageExecutionFailed, Error: ctx.Err().Error(), Attempts: attempt}
		}

		if attempt > 0 {
			delay := backoffDelay(stage.RetryBase, stage.RetryBackoff, attempt, timeout)
			if !r.sleepInterruptible(ctx, delay) {
				return StageRunResult{Status: pipeline.StageExecutionFailed, Error: ctx.Err().Error(), Attempts: attempt}
			}
		}

		r.markRunning(ctx, runCtx.ExecutionID, stage, attempt)

		output, err := r.invoke(ctx, stage, runCtx, timeout)
		if err == nil {
			duration := time.Since(stageStart)
			anomaly := r.detect(runCtx, stage, duration, failedAttempts)
			r.markCompleted(ctx, runCtx.ExecutionID, stage, attempt, output, duration, anomaly)
			return StageRunResult{Status: pipeline.StageExecutionCompleted, Output: output, Attempts: attempt + 1, Anomaly: anomaly}
		}

		lastErr = err.Error()
		failedAttempts++
		exhausted := attempt == stage.MaxRetries
		var anomaly ports.AnomalyResult
		if exhausted {
			anomaly = r.detect(runCtx, stage, time.Since(stageStart), failedAttempts)
		}
		r.markFailed(ctx, runCtx.ExecutionID, stage, attempt, lastErr, anomaly)
		if exhausted {
			return StageRunResult{Status: pipeline.StageExecutionFailed, Error: lastErr, Attempts: stage.MaxRetries + 1, Anomaly: anomaly}
		}
	}

	return StageRunResult{Status: pipeline.StageExecutionFailed, Error: lastErr, Attempts: failedAttempts}
}

// detect runs the Anomaly Detector (C4) against one stage's terminal
// duration and accumulated failure count. It returns the zero AnomalyResult
// when no detector was configured.
func (r *Runner) detect(runCtx StageRunContext, stage pipeline.Stage, duration time.Duration, errorCount int) ports.AnomalyResult {
	if r.detector == nil {
		return ports.AnomalyResult{}
	}
	obs := ports.AnomalyObservation{Duration: duration, Baseline: runCtx.Baseline, ErrorCount: errorCount}
	return r.detector.Detect(obs, runCtx.AnomalyParams)
}

func (r *Runner) invoke(ctx context.Context, stage pipeline.Stage, runCtx StageRunContext, timeout time.Duration) (map[string]interface{}, error) {
	handler, err := r.handlers.Get(stage.Kind)
	if err != nil {
		return nil, apperrors.NewHandlerError(string(stage.Kind), err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dep := firstDependencyResult(stage, runCtx.Results)
	input := ports.StageInput{Config: stage.Config, DependencyResult: dep}

	type outcome struct {
		output map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := handler.Run(attemptCtx, input)
		done <- outcome{output: out, err: err}
	}()

	select {
	case <-attemptCtx.Done():
		return nil, apperrors.NewExecutionError(stage.ID, attemptCtx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, apperrors.NewExecutionError(stage.ID, res.err)
		}
		return res.output, nil
	}
}

func firstDependencyResult(stage pipeline.Stage, results map[string]map[string]interface{}) map[string]interface{} {
	if len(stage.DependsOn) == 0 {
		return map[string]interface{}{}
	}
	deps := stage.SortedDependencies()
	if out, ok := results[deps[0]]; ok {
		return out
	}
	return map[string]interface{}{}
}

// backoffDelay computes retry_base * backoff^(attempt-1), capped by the
// stage's own timeout so a misconfigured backoff cannot stall a stage
// longer than it would have taken to simply fail (spec §4.7 step 1).
func backoffDelay(base, backoff float64, attempt int, cap time.Duration) time.Duration {
	delay := base * math.Pow(backoff, float64(attempt-1))
	d := time.Duration(delay * float64(time.Second))
	if d > cap {
		return cap
	}
	if d < 0 {
		return 0
	}
	return d
}

func (r *Runner) sleepInterruptible(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) markRunning(ctx context.Context, executionID string, stage pipeline.Stage, attempt int) {
	_ = r.coord.SetStageState(ctx, executionID, stage.ID, "running", nil)
	now := time.Now()
	_ = r.store.UpdateStageExecution(ctx, pipeline.StageExecution{
		ExecutionID: executionID,
		StageID:     stage.ID,
		Status:      pipeline.StageExecutionRunning,
		Attempt:     attempt + 1,
		MaxAttempts: stage.MaxRetries + 1,
		StartedAt:   &now,
	})
}

func (r *Runner) markCompleted(ctx context.Context, executionID string, stage pipeline.Stage, attempt int, output map[string]interface{}, duration time.Duration, anomaly ports.AnomalyResult) {
	_ = r.coord.SetStageState(ctx, executionID, stage.ID, "completed", output)
	_ = r.coord.ResetRetry(ctx, executionID, stage.ID)
	now := time.Now()
	_ = r.store.UpdateStageExecution(ctx, pipeline.StageExecution{
		ExecutionID:   executionID,
		StageID:       stage.ID,
		Status:        pipeline.StageExecutionCompleted,
		Attempt:       attempt + 1,
		MaxAttempts:   stage.MaxRetries + 1,
		CompletedAt:   &now,
		Output:        output,
		IsAnomaly:     anomaly.IsAnomaly,
		AnomalyReason: strings.Join(anomaly.Reasons, "; "),
	})
	if r.metrics != nil {
		r.metrics.ObserveHistogram(ctx, "pipelinectl_stage_duration_seconds", duration.Seconds(), map[string]string{"kind": string(stage.Kind)})
	}
	if r.logger != nil {
		r.logger.Info(ctx, "stage completed", "execution_id", executionID, "stage_id", stage.ID, "attempt", attempt+1)
	}
	if anomaly.IsAnomaly && r.logger != nil {
		r.logger.Warn(ctx, "stage anomaly detected", "execution_id", executionID, "stage_id", stage.ID, "severity", anomaly.Severity, "z_score", anomaly.ZScore, "reasons", anomaly.Reasons)
	}
}

func (r *Runner) markFailed(ctx context.Context, executionID string, stage pipeline.Stage, attempt int, errMsg string, anomaly ports.AnomalyResult) {
	_ = r.coord.SetStageState(ctx, executionID, stage.ID, "failed", map[string]interface{}{"error": errMsg})
	n, _ := r.coord.IncrementRetry(ctx, executionID, stage.ID)
	_ = r.store.AppendLog(ctx, pipeline.LogEntry{
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		Level:       pipeline.LogLevelError,
		StageID:     stage.ID,
		Message:     fmt.Sprintf("stage %s attempt %d failed: %s", stage.ID, attempt+1, errMsg),
	})
	_ = r.store.UpdateStageExecution(ctx, pipeline.StageExecution{
		ExecutionID:   executionID,
		StageID:       stage.ID,
		Status:        pipeline.StageExecutionFailed,
		Attempt:       attempt + 1,
		MaxAttempts:   stage.MaxRetries + 1,
		Error:         errMsg,
		IsAnomaly:     anomaly.IsAnomaly,
		AnomalyReason: strings.Join(anomaly.Reasons, "; "),
	})
	if r.logger != nil {
		r.logger.Warn(ctx, "stage attempt failed", "execution_id", executionID, "stage_id", stage.ID, "attempt", attempt+1, "retry_count", n, "error", errMsg)
	}
	if anomaly.IsAnomaly && r.logger != nil {
		r.logger.Warn(ctx, "stage anomaly detected", "execution_id", executionID, "stage_id", stage.ID, "severity", anomaly.Severity, "z_score", anomaly.ZScore, "reasons", anomaly.Reasons)
	}
}
