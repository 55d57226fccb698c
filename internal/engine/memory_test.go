package engine

import (
	"context"
	"sync"
	"time"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	"github.com/flowforge/pipelinectl/internal/ports"
)

// memStore and memCoord are minimal, fully in-memory implementations of
// ports.Store and ports.Coordination used to exercise the Execution
// Supervisor without a real database or Redis instance.
type memStore struct {
	mu         sync.Mutex
	pipelines  map[string]pipeline.Pipeline
	executions map[string]pipeline.Execution
	stages     map[string]pipeline.StageExecution
	logs       []pipeline.LogEntry
	insights   []pipeline.Insight
	locks      map[string]string
	stats      ports.ExecutionStats
}

func newMemStore() *memStore {
	return &memStore{
		pipelines:  map[string]pipeline.Pipeline{},
		executions: map[string]pipeline.Execution{},
		stages:     map[string]pipeline.StageExecution{},
		locks:      map[string]string{},
	}
}

func stageKey(executionID, stageID string) string { return executionID + "/" + stageID }

func (m *memStore) CreatePipeline(ctx context.Context, p pipeline.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines[p.ID] = p
	return nil
}
func (m *memStore) GetPipeline(ctx context.Context, id string) (pipeline.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[id]
	if !ok {
		return pipeline.Pipeline{}, &pipeline.DomainError{Code: pipeline.ErrCodeNotFound, Message: "pipeline not found"}
	}
	return p, nil
}
func (m *memStore) ListPipelines(ctx context.Context) ([]pipeline.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		out = append(out, p)
	}
	return out, nil
}
func (m *memStore) UpdatePipeline(ctx context.Context, p pipeline.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines[p.ID] = p
	return nil
}
func (m *memStore) DeletePipeline(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pipelines, id)
	return nil
}
func (m *memStore) CreateExecution(ctx context.Context, e pipeline.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[e.ID] = e
	return nil
}
func (m *memStore) GetExecution(ctx context.Context, id string) (pipeline.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return pipeline.Execution{}, &pipeline.DomainError{Code: pipeline.ErrCodeNotFound, Message: "execution not found"}
	}
	return e, nil
}
func (m *memStore) UpdateExecutionStatus(ctx context.Context, id string, status pipeline.ExecutionStatus, update ports.ExecutionStatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return &pipeline.DomainError{Code: pipeline.ErrCodeNotFound, Message: "execution not found"}
	}
	e.Status = status
	if update.CompletedStages != nil {
		e.CompletedStages = *update.CompletedStages
	}
	if update.CurrentStage != nil {
		e.CurrentStage = *update.CurrentStage
	}
	if update.Error != nil {
		e.Error = *update.Error
	}
	if status.IsTerminal() {
		now := time.Now()
		e.CompletedAt = &now
		d := now.Sub(e.StartedAt)
		e.Duration = &d
	}
	m.executions[id] = e
	return nil
}
func (m *memStore) ListRunningExecutions(ctx context.Context) ([]pipeline.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pipeline.Execution
	for _, e := range m.executions {
		if e.Status == pipeline.ExecutionRunning {
			out = append(out, e)
		}
	}
	return out, nil
}
func (m *memStore) CreateStageExecution(ctx context.Context, se pipeline.StageExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stageKey(se.ExecutionID, se.StageID)] = se
	return nil
}
func (m *memStore) UpdateStageExecution(ctx context.Context, se pipeline.StageExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stageKey(se.ExecutionID, se.StageID)] = se
	return nil
}
func (m *memStore) GetStageExecution(ctx context.Context, executionID, stageID string) (pipeline.StageExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.stages[stageKey(executionID, stageID)]
	if !ok {
		return pipeline.StageExecution{}, &pipeline.DomainError{Code: pipeline.ErrCodeNotFound, Message: "stage execution not found"}
	}
	return se, nil
}
func (m *memStore) AppendLog(ctx context.Context, entry pipeline.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}
func (m *memStore) ListLogs(ctx context.Context, executionID string, level pipeline.LogLevel, limit int) ([]pipeline.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pipeline.LogEntry
	for _, l := range m.logs {
		if l.ExecutionID == executionID {
			out = append(out, l)
		}
	}
	return out, nil
}
func (m *memStore) RecordInsight(ctx context.Context, insight pipeline.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insights = append(m.insights, insight)
	return nil
}
func (m *memStore) RecordMetric(ctx context.Context, name string, value float64, unit string, tags map[string]string) error {
	return nil
}
func (m *memStore) GetExecutionStats(ctx context.Context, pipelineID string, windowDays int) (ports.ExecutionStats, error) {
	return m.stats, nil
}
func (m *memStore) TryAcquireLock(ctx context.Context, pipelineID, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.locks[pipelineID]; exists {
		return false, nil
	}
	m.locks[pipelineID] = holder
	return true, nil
}
func (m *memStore) ReleaseLock(ctx context.Context, pipelineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, pipelineID)
	return nil
}
func (m *memStore) ReapExpiredLocks(ctx context.Context, now time.Time) (int, error) { return 0, nil }

type memCoord struct {
	mu          sync.Mutex
	duplicate   map[string]bool
	heartbeats  map[string]time.Time
	retries     map[string]int
	stageStates map[string]string
}

func newMemCoord() *memCoord {
	return &memCoord{
		duplicate:   map[string]bool{},
		heartbeats:  map[string]time.Time{},
		retries:     map[string]int{},
		stageStates: map[string]string{},
	}
}

func (c *memCoord) TryPreventDuplicate(ctx context.Context, pipelineID string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.duplicate[pipelineID] {
		return false, nil
	}
	c.duplicate[pipelineID] = true
	return true, nil
}
func (c *memCoord) ReleasePipeline(ctx context.Context, pipelineID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.duplicate, pipelineID)
	return nil
}
func (c *memCoord) SetExecutionState(ctx context.Context, executionID, state string, metadata map[string]interface{}, ttl time.Duration) error {
	return nil
}
func (c *memCoord) GetExecutionState(ctx context.Context, executionID string) (string, map[string]interface{}, error) {
	return "", nil, nil
}
func (c *memCoord) SetStageState(ctx context.Context, executionID, stageID, state string, v map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stageStates[stageKey(executionID, stageID)] = state
	return nil
}
func (c *memCoord) IncrementRetry(ctx context.Context, executionID, stageID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[stageKey(executionID, stageID)]++
	return c.retries[stageKey(executionID, stageID)], nil
}
func (c *memCoord) ResetRetry(ctx context.Context, executionID, stageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.retries, stageKey(executionID, stageID))
	return nil
}
func (c *memCoord) Heartbeat(ctx context.Context, executionID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeats[executionID] = time.Now()
	return nil
}
func (c *memCoord) IsAlive(ctx context.Context, executionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.heartbeats[executionID]
	if !ok {
		return false, nil
	}
	return time.Since(last) < 30*time.Second, nil
}
func (c *memCoord) RunningExecutions(ctx context.Context) ([]string, error) { return nil, nil }
func (c *memCoord) CachePipeline(ctx context.Context, pipelineID string, snapshot []byte, ttl time.Duration) error {
	return nil
}
func (c *memCoord) GetCachedPipeline(ctx context.Context, pipelineID string) ([]byte, bool, error) {
	return nil, false, nil
}
func (c *memCoord) InvalidatePipeline(ctx context.Context, pipelineID string) error { return nil }
func (c *memCoord) Health(ctx context.Context) ports.CoordinationHealth            { return ports.CoordinationHealthy }

// fakeScorer, fakeSelector, fakeDetector are deterministic test doubles for
// C3/C5/C4 so supervisor tests don't depend on the real implementations.
type fakeScorer struct{ level ports.RiskLevel }

func (s fakeScorer) Score(stats ports.ExecutionStats, thresholds ports.RiskThresholds) ports.RiskAssessment {
	score := 0.1
	if s.level == ports.RiskLevelCritical {
		score = 0.9
	}
	return ports.RiskAssessment{Score: score, Level: s.level, Explanation: "test assessment"}
}

type fakeSelector struct{ action ports.RemediationAction }

func (s fakeSelector) Select(input ports.RemediationInput) ports.RemediationDecision {
	return ports.RemediationDecision{Action: s.action, Rationale: "test rationale"}
}

type fakeDetector struct{}

func (fakeDetector) Detect(obs ports.AnomalyObservation, params ports.AnomalyParams) ports.AnomalyResult {
	return ports.AnomalyResult{}
}
