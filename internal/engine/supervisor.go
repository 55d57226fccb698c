package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	"github.com/flowforge/pipelinectl/internal/ports"
	apperrors "github.com/flowforge/pipelinectl/pkg/errors"
)

// SupervisorConfig holds the closed set of operator-tunable knobs from
// spec §6 that govern the supervisor's control flow.
type SupervisorConfig struct {
	DefaultExecutionTimeout time.Duration
	StageDefaultTimeout     time.Duration
	RiskThresholds          ports.RiskThresholds
	AnomalyParams           ports.AnomalyParams
	HeartbeatInterval       time.Duration
	HeartbeatTTL            time.Duration
	ShutdownGrace           time.Duration
	StatsWindowDays         int
}

// DefaultSupervisorConfig returns the documented defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		DefaultExecutionTimeout: 30 * time.Minute,
		StageDefaultTimeout:     5 * time.Minute,
		RiskThresholds:          ports.RiskThresholds{Low: 0.2, Medium: 0.4, High: 0.7, BlockHighRisk: true},
		AnomalyParams:           ports.AnomalyParams{TimeMultiplier: 3, ErrorThreshold: 5},
		HeartbeatInterval:       10 * time.Second,
		HeartbeatTTL:            30 * time.Second,
		ShutdownGrace:           5 * time.Second,
		StatsWindowDays:         30,
	}
}

// activeExecution is the supervisor's in-process bookkeeping for one
// running execution: the cooperative cancel/pause flags and the means to
// tear down its heartbeat companion task (spec §4.8 "Cancel/pause/resume").
type activeExecution struct {
	mu        sync.Mutex
	cancelled bool
	paused    bool
	stopHB    context.CancelFunc
}

func (a *activeExecution) setCancelled() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = true
}

func (a *activeExecution) setPaused(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = v
}

func (a *activeExecution) snapshot() (cancelled, paused bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled, a.paused
}

// Supervisor is the Execution Supervisor (C8): admission, locking,
// dependency-ordered dispatch, and terminal-state commit for pipeline
// executions. It is the sole writer of a given execution's rows.
type Supervisor struct {
	store    ports.Store
	coord    ports.Coordination
	planner  ports.Planner
	runner   *Runner
	scorer   ports.Scorer
	selector ports.Selector
	detector ports.Detector
	logger   ports.Logger
	events   ports.EventPublisher
	metrics  ports.MetricsCollector
	cfg      SupervisorConfig

	mu     sync.Mutex
	active map[string]*activeExecution
}

// NewSupervisor wires the Execution Supervisor from its collaborating
// ports. events and metrics may be nil.
func NewSupervisor(
	store ports.Store,
	coord ports.Coordination,
	planner ports.Planner,
	runner *Runner,
	scorer ports.Scorer,
	selector ports.Selector,
	detector ports.Detector,
	logger ports.Logger,
	events ports.EventPublisher,
	metrics ports.MetricsCollector,
	cfg SupervisorConfig,
) *Supervisor {
	runner.detector = detector
	return &Supervisor{
		store:    store,
		coord:    coord,
		planner:  planner,
		runner:   runner,
		scorer:   scorer,
		selector: selector,
		detector: detector,
		logger:   logger,
		events:   events,
		metrics:  metrics,
		cfg:      cfg,
		active:   make(map[string]*activeExecution),
	}
}

// StartRequest is the admission input for one trigger (spec §4.8
// "Admission").
type StartRequest struct {
	PipelineID      string
	Variables       map[string]interface{}
	TriggerSource   string
	TriggerMetadata map[string]interface{}
}

// Start admits a trigger request: it resolves the pipeline, scores risk,
// prevents duplicate runs, and -- if all three pass -- creates the
// execution row and launches its asynchronous run. It returns as soon as
// the execution is admitted; stage execution proceeds in the background.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (string, error) {
	p, err := s.resolvePipeline(ctx, req.PipelineID)
	if err != nil {
		return "", err
	}

	stats, err := s.store.GetExecutionStats(ctx, p.ID, s.cfg.StatsWindowDays)
	if err != nil {
		return "", apperrors.NewExecutionError("", err)
	}
	assessment := s.scorer.Score(stats, s.cfg.RiskThresholds)

	if s.cfg.RiskThresholds.BlockHighRisk && (assessment.Level == ports.RiskLevelHigh || assessment.Level == ports.RiskLevelCritical) {
		_ = s.store.RecordInsight(ctx, riskInsight(p.ID, "", assessment, true))
		return "", apperrors.NewAdmissionError(p.ID, "risk_blocked", nil)
	}

	acquired, err := s.coord.TryPreventDuplicate(ctx, p.ID, s.cfg.DefaultExecutionTimeout)
	if err != nil {
		return "", apperrors.NewExecutionError("", err)
	}
	if !acquired {
		return "", apperrors.NewAdmissionError(p.ID, "duplicate_run", nil)
	}

	holder := uuid.NewString()
	lockAcquired, err := s.store.TryAcquireLock(ctx, p.ID, holder, s.cfg.DefaultExecutionTimeout)
	if err != nil || !lockAcquired {
		_ = s.coord.ReleasePipeline(ctx, p.ID)
		return "", apperrors.NewAdmissionError(p.ID, "duplicate_run", err)
	}

	executionID := newExecutionID()
	score := assessment.Score
	execution := pipeline.Execution{
		ID:              executionID,
		PipelineID:      p.ID,
		PipelineName:    p.Name,
		Status:          pipeline.ExecutionPending,
		TotalStages:     len(p.Stages),
		StartedAt:       time.Now(),
		RiskScore:       &score,
		TriggerSource:   req.TriggerSource,
		TriggerMetadata: req.TriggerMetadata,
		Variables:       req.Variables,
		Results:         map[string]interface{}{},
	}
	if err := s.store.CreateExecution(ctx, execution); err != nil {
		_ = s.coord.ReleasePipeline(ctx, p.ID)
		_ = s.store.ReleaseLock(ctx, p.ID)
		return "", apperrors.NewExecutionError("", err)
	}
	_ = s.store.RecordInsight(ctx, riskInsight(p.ID, executionID, assessment, false))

	for _, st := range p.Stages {
		_ = s.store.CreateStageExecution(ctx, pipeline.StageExecution{
			ExecutionID: executionID,
			StageID:     st.ID,
			Status:      pipeline.StageExecutionPending,
			MaxAttempts: st.MaxRetries + 1,
		})
	}

	active := &activeExecution{}
	s.mu.Lock()
	s.active[executionID] = active
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	active.stopHB = cancel
	go s.runHeartbeat(runCtx, executionID)
	go s.run(context.Background(), p, execution, active, stats)

	return executionID, nil
}

func (s *Supervisor) resolvePipeline(ctx context.Context, pipelineID string) (pipeline.Pipeline, error) {
	if cached, ok, err := s.coord.GetCachedPipeline(ctx, pipelineID); err == nil && ok {
		var snapshot pipeline.Pipeline
		if err := json.Unmarshal(cached, &snapshot); err == nil {
			return snapshot, nil
		}
	}
	p, err := s.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return pipeline.Pipeline{}, err
	}
	snapshot := p.Snapshot()
	if encoded, err := json.Marshal(snapshot); err == nil {
		_ = s.coord.CachePipeline(ctx, pipelineID, encoded, s.cfg.DefaultExecutionTimeout)
	}
	return snapshot, nil
}

// run performs ordering/dispatch and finalization (spec §4.8). It always
// runs in its own goroutine, started from Start. stats is the admission-time
// execution-stats snapshot, reused as the Anomaly Detector's duration
// baseline so every stage in this run is judged against the same window.
func (s *Supervisor) run(ctx context.Context, p pipeline.Pipeline, execution pipeline.Execution, active *activeExecution, stats ports.ExecutionStats) {
	execution, err := s.transition(ctx, execution, pipeline.ExecutionRunning)
	if err != nil {
		s.finalize(ctx, p.ID, execution.ID, active)
		return
	}
	s.publish(ctx, ports.EventExecutionStarted, execution.ID)

	plan, err := s.planner.Plan(p)
	if err != nil {
		s.failExecution(ctx, execution, err.Error())
		s.finalize(ctx, p.ID, execution.ID, active)
		return
	}
	if s.logger != nil {
		s.logger.Info(ctx, "execution plan resolved", "execution_id", execution.ID, "order", plan.StageIDs)
	}

	results := map[string]map[string]interface{}{}
	completed := 0
	baseline := ports.DurationBaseline{Mean: stats.AverageDuration, Count: stats.TotalExecutions}

	for _, stageID := range plan.StageIDs {
		cancelled, _ := active.snapshot()
		if cancelled {
			execution, _ = s.transition(ctx, execution, pipeline.ExecutionCancelled)
			s.publish(ctx, ports.EventExecutionCancelled, execution.ID)
			s.finalize(ctx, p.ID, execution.ID, active)
			return
		}

		for {
			_, paused := active.snapshot()
			if !paused {
				break
			}
			time.Sleep(time.Second)
		}

		stage := p.MustStage(stageID)
		execution.CurrentStage = stageID
		_ = s.coord.SetExecutionState(ctx, execution.ID, string(execution.Status), map[string]interface{}{"current_stage": stageID}, s.cfg.DefaultExecutionTimeout)

		s.publish(ctx, ports.EventStageStarted, execution.ID)
		outcome := s.runner.Run(ctx, stage, StageRunContext{
			ExecutionID:   execution.ID,
			Variables:     execution.Variables,
			Results:       results,
			Baseline:      baseline,
			AnomalyParams: s.cfg.AnomalyParams,
		})

		if outcome.Anomaly.IsAnomaly {
			_ = s.store.RecordInsight(ctx, anomalyInsight(p.ID, execution.ID, stageID, outcome.Anomaly))
		}

		if outcome.Status == pipeline.StageExecutionCompleted {
			results[stageID] = outcome.Output
			completed++
			execution.CompletedStages = completed
			s.publish(ctx, ports.EventStageCompleted, execution.ID)
			continue
		}

		s.publish(ctx, ports.EventStageFailed, execution.ID)
		decision := s.selector.Select(ports.RemediationInput{
			HasError:    true,
			HasAnomaly:  outcome.Anomaly.IsAnomaly,
			ErrorBurst:  outcome.Anomaly.ErrorBurst,
			IsCritical:  stage.IsCritical,
			RetriesUsed: outcome.Attempts - 1,
			MaxRetries:  stage.MaxRetries,
			RiskLevel:   riskLevelFromScore(execution.RiskScore),
		})

		switch decision.Action {
		case ports.ActionSkipStage:
			if s.logger != nil {
				s.logger.Warn(ctx, "skipping stage", "execution_id", execution.ID, "stage_id", stageID, "rationale", decision.Rationale)
			}
			_ = s.store.RecordInsight(ctx, remediationInsight(p.ID, execution.ID, decision))
			s.publish(ctx, ports.EventStageSkipped, execution.ID)
			continue
		case ports.ActionRollback:
			execution, _ = s.transition(ctx, execution, pipeline.ExecutionRolledBack)
			_ = s.store.RecordInsight(ctx, remediationInsight(p.ID, execution.ID, decision))
			s.finalize(ctx, p.ID, execution.ID, active)
			return
		default: // pause_pipeline, terminate, retry_stage (treated as terminal failure post-hoc)
			s.failExecution(ctx, execution, outcome.Error)
			_ = s.store.RecordInsight(ctx, remediationInsight(p.ID, execution.ID, decision))
			s.finalize(ctx, p.ID, execution.ID, active)
			return
		}
	}

	execution, err = s.transition(ctx, execution, pipeline.ExecutionCompleted)
	if err != nil {
		s.finalize(ctx, p.ID, execution.ID, active)
		return
	}
	s.publish(ctx, ports.EventExecutionCompleted, execution.ID)
	s.finalize(ctx, p.ID, execution.ID, active)
}

func (s *Supervisor) failExecution(ctx context.Context, execution pipeline.Execution, reason string) {
	execution.Error = reason
	if _, err := s.transition(ctx, execution, pipeline.ExecutionFailed); err == nil {
		s.publish(ctx, ports.EventExecutionFailed, execution.ID)
	}
}

func (s *Supervisor) transition(ctx context.Context, execution pipeline.Execution, to pipeline.ExecutionStatus) (pipeline.Execution, error) {
	next, err := execution.Transition(to, time.Now())
	if err != nil {
		return execution, err
	}
	completed := next.CompletedStages
	current := next.CurrentStage
	errStr := next.Error
	update := ports.ExecutionStatusUpdate{CompletedStages: &completed, CurrentStage: &current, Error: &errStr}
	if err := s.store.UpdateExecutionStatus(ctx, next.ID, to, update); err != nil {
		if s.logger != nil {
			s.logger.Error(ctx, "failed to persist execution status", "execution_id", next.ID, "status", to, "error", err)
		}
		return next, apperrors.NewExecutionError(next.ID, err)
	}
	if to.IsTerminal() {
		_ = s.coord.SetExecutionState(ctx, next.ID, string(to), map[string]interface{}{}, s.cfg.DefaultExecutionTimeout)
	}
	return next, nil
}

// finalize releases all resources owned by one execution's run, regardless
// of which terminal branch was taken (spec §4.8 "Finalization").
func (s *Supervisor) finalize(ctx context.Context, pipelineID, executionID string, active *activeExecution) {
	if active.stopHB != nil {
		active.stopHB()
	}
	_ = s.coord.ReleasePipeline(ctx, pipelineID)
	_ = s.store.ReleaseLock(ctx, pipelineID)

	s.mu.Lock()
	delete(s.active, executionID)
	s.mu.Unlock()
}

// Stop requests cancellation of a running execution. It is cooperative: the
// current stage completes or times out before the cancel flag is honored
// (spec §4.8 "Cancel/pause/resume").
func (s *Supervisor) Stop(executionID string) error {
	active, err := s.lookupActive(executionID)
	if err != nil {
		return err
	}
	active.setCancelled()
	return nil
}

// Pause requests the execution suspend before its next stage transition.
func (s *Supervisor) Pause(executionID string) error {
	active, err := s.lookupActive(executionID)
	if err != nil {
		return err
	}
	active.setPaused(true)
	return nil
}

// Resume clears a previously requested pause.
func (s *Supervisor) Resume(executionID string) error {
	active, err := s.lookupActive(executionID)
	if err != nil {
		return err
	}
	active.setPaused(false)
	return nil
}

func (s *Supervisor) lookupActive(executionID string) (*activeExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active, ok := s.active[executionID]
	if !ok {
		return nil, &pipeline.DomainError{Code: pipeline.ErrCodeNotFound, Message: "execution not active", Context: map[string]interface{}{"execution_id": executionID}}
	}
	return active, nil
}

func (s *Supervisor) publish(ctx context.Context, eventType, executionID string) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, simpleEvent{eventType: eventType, payload: map[string]interface{}{"execution_id": executionID}})
}

type simpleEvent struct {
	eventType string
	payload   interface{}
}

func (e simpleEvent) EventType() string   { return e.eventType }
func (e simpleEvent) Payload() interface{} { return e.payload }

func newExecutionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func riskLevelFromScore(score *float64) ports.RiskLevel {
	if score == nil {
		return ports.RiskLevelLow
	}
	switch {
	case *score >= 0.7:
		return ports.RiskLevelCritical
	case *score >= 0.4:
		return ports.RiskLevelHigh
	case *score >= 0.2:
		return ports.RiskLevelMedium
	default:
		return ports.RiskLevelLow
	}
}

func riskInsight(pipelineID, executionID string, assessment ports.RiskAssessment, blocked bool) pipeline.Insight {
	severity := pipeline.InsightSeverityInfo
	switch assessment.Level {
	case ports.RiskLevelHigh:
		severity = pipeline.InsightSeverityWarning
	case ports.RiskLevelCritical:
		severity = pipeline.InsightSeverityCritical
	}
	title := "risk assessment"
	if blocked {
		title = "execution blocked by risk assessment"
	}
	score := assessment.Score
	scope := pipeline.InsightScopePipeline
	if executionID != "" {
		scope = pipeline.InsightScopeExecution
	}
	return pipeline.Insight{
		Scope:          scope,
		PipelineID:     pipelineID,
		ExecutionID:    executionID,
		Kind:           "risk_assessment",
		Severity:       severity,
		Title:          title,
		Message:        assessment.Explanation,
		Recommendation: firstOrEmpty(assessment.Recommendations),
		Confidence:     1,
		RiskScore:      &score,
		Factors:        factorNames(assessment.Factors),
		Explanation:    assessment.Explanation,
		CreatedAt:      time.Now(),
	}
}

func anomalyInsight(pipelineID, executionID, stageID string, result ports.AnomalyResult) pipeline.Insight {
	severity := pipeline.InsightSeverityWarning
	if result.Severity == ports.AnomalySeverityHigh {
		severity = pipeline.InsightSeverityCritical
	}
	reason := strings.Join(result.Reasons, "; ")
	return pipeline.Insight{
		Scope:       pipeline.InsightScopeStage,
		PipelineID:  pipelineID,
		ExecutionID: executionID,
		StageID:     stageID,
		Kind:        "anomaly",
		Severity:    severity,
		Title:       fmt.Sprintf("anomaly detected: %s", stageID),
		Message:     reason,
		Confidence:  1,
		Explanation: reason,
		CreatedAt:   time.Now(),
	}
}

func remediationInsight(pipelineID, executionID string, decision ports.RemediationDecision) pipeline.Insight {
	severity := pipeline.InsightSeverityWarning
	if decision.Action == ports.ActionRollback || decision.Action == ports.ActionTerminate {
		severity = pipeline.InsightSeverityCritical
	}
	return pipeline.Insight{
		Scope:       pipeline.InsightScopeExecution,
		PipelineID:  pipelineID,
		ExecutionID: executionID,
		Kind:        "remediation",
		Severity:    severity,
		Title:       fmt.Sprintf("remediation action: %s", decision.Action),
		Message:     decision.Rationale,
		Confidence:  1,
		Explanation: decision.Rationale,
		CreatedAt:   time.Now(),
	}
}

func factorNames(factors []ports.RiskFactor) []string {
	names := make([]string, len(factors))
	for i, f := range factors {
		names[i] = f.Name
	}
	return names
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
