package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/pipelinectl/internal/engine"
	"github.com/flowforge/pipelinectl/internal/handlers"
	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	"github.com/flowforge/pipelinectl/internal/ports"
)

// memStore and memCoord are minimal in-memory ports.Store/ports.Coordination
// doubles, mirroring internal/engine's own test fakes, so the Trigger API can
// be exercised against a real Supervisor without a database or Redis.
type memStore struct {
	mu         sync.Mutex
	pipelines  map[string]pipeline.Pipeline
	executions map[string]pipeline.Execution
	logs       []pipeline.LogEntry
}

func newMemStore() *memStore {
	return &memStore{pipelines: map[string]pipeline.Pipeline{}, executions: map[string]pipeline.Execution{}}
}

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
func (m *memStore) ListPipelines(ctx context.Context) ([]pipeline.Pipeline, error) { return nil, nil }
func (m *memStore) UpdatePipeline(ctx context.Context, p pipeline.Pipeline) error   { return nil }
func (m *memStore) DeletePipeline(ctx context.Context, id string) error            { return nil }
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
	if status.IsTerminal() {
		now := time.Now()
		e.CompletedAt = &now
	}
	m.executions[id] = e
	return nil
}
func (m *memStore) ListRunningExecutions(ctx context.Context) ([]pipeline.Execution, error) {
	return nil, nil
}
func (m *memStore) CreateStageExecution(ctx context.Context, se pipeline.StageExecution) error {
	return nil
}
func (m *memStore) UpdateStageExecution(ctx context.Context, se pipeline.StageExecution) error {
	return nil
}
func (m *memStore) GetStageExecution(ctx context.Context, executionID, stageID string) (pipeline.StageExecution, error) {
	return pipeline.StageExecution{}, &pipeline.DomainError{Code: pipeline.ErrCodeNotFound, Message: "not found"}
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
func (m *memStore) RecordInsight(ctx context.Context, insight pipeline.Insight) error { return nil }
func (m *memStore) RecordMetric(ctx context.Context, name string, value float64, unit string, tags map[string]string) error {
	return nil
}
func (m *memStore) GetExecutionStats(ctx context.Context, pipelineID string, windowDays int) (ports.ExecutionStats, error) {
	return ports.ExecutionStats{}, nil
}
func (m *memStore) TryAcquireLock(ctx context.Context, pipelineID, holder string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (m *memStore) ReleaseLock(ctx context.Context, pipelineID string) error { return nil }
func (m *memStore) ReapExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

type memCoord struct {
	mu        sync.Mutex
	duplicate map[string]bool
}

func newMemCoord() *memCoord { return &memCoord{duplicate: map[string]bool{}} }

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
	return nil
}
func (c *memCoord) IncrementRetry(ctx context.Context, executionID, stageID string) (int, error) {
	return 1, nil
}
func (c *memCoord) ResetRetry(ctx context.Context, executionID, stageID string) error { return nil }
func (c *memCoord) Heartbeat(ctx context.Context, executionID string, ttl time.Duration) error {
	return nil
}
func (c *memCoord) IsAlive(ctx context.Context, executionID string) (bool, error) { return true, nil }
func (c *memCoord) RunningExecutions(ctx context.Context) ([]string, error)       { return nil, nil }
func (c *memCoord) CachePipeline(ctx context.Context, pipelineID string, snapshot []byte, ttl time.Duration) error {
	return nil
}
func (c *memCoord) GetCachedPipeline(ctx context.Context, pipelineID string) ([]byte, bool, error) {
	return nil, false, nil
}
func (c *memCoord) InvalidatePipeline(ctx context.Context, pipelineID string) error { return nil }
func (c *memCoord) Health(ctx context.Context) ports.CoordinationHealth {
	return ports.CoordinationHealthy
}

type fakeScorer struct{}

func (fakeScorer) Score(stats ports.ExecutionStats, thresholds ports.RiskThresholds) ports.RiskAssessment {
	return ports.RiskAssessment{Score: 0.05, Level: ports.RiskLevelLow}
}

type fakeSelector struct{}

func (fakeSelector) Select(input ports.RemediationInput) ports.RemediationDecision {
	return ports.RemediationDecision{Action: ports.ActionContinue}
}

type fakeDetector struct{}

func (fakeDetector) Detect(obs ports.AnomalyObservation, params ports.AnomalyParams) ports.AnomalyResult {
	return ports.AnomalyResult{}
}

func testServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	store := newMemStore()
	coord := newMemCoord()
	reg := handlers.NewDefaultRegistry()
	runner := engine.NewRunner(store, coord, reg, nil, nil)
	sup := engine.NewSupervisor(
		store, coord, engine.NewPlanner(), runner,
		fakeScorer{}, fakeSelector{}, fakeDetector{}, nil, nil, nil,
		engine.DefaultSupervisorConfig(),
	)
	return NewServer(sup, store, zerolog.Nop(), "test-secret"), store
}

func TestHandleStartReturns404ForUnknownPipeline(t *testing.T) {
	server, _ := testServer(t)
	body, _ := json.Marshal(startRequest{PipelineID: "missing"})
	req := httptest.NewRequest(http.MethodPost, "/executions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStartAdmitsKnownPipeline(t *testing.T) {
	server, store := testServer(t)
	require.NoError(t, store.CreatePipeline(context.Background(), pipeline.Pipeline{
		ID: "p1", Name: "orders",
		Stages: []pipeline.Stage{{ID: "fetch", Name: "fetch", Kind: pipeline.StageKindInput, Timeout: 5, MaxRetries: 0, RetryBase: 0.001, RetryBackoff: 1}},
	}))

	body, _ := json.Marshal(startRequest{PipelineID: "p1"})
	req := httptest.NewRequest(http.MethodPost, "/executions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp startResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.ExecutionID)
}

func TestHandleStatusReturns404ForUnknownExecution(t *testing.T) {
	server, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/executions/missing", nil)
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStatusReturnsExecutionSnapshot(t *testing.T) {
	server, store := testServer(t)
	require.NoError(t, store.CreateExecution(context.Background(), pipeline.Execution{ID: "e1", PipelineID: "p1", Status: pipeline.ExecutionRunning}))

	req := httptest.NewRequest(http.MethodGet, "/executions/e1", nil)
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStopReturns409WhenAlreadyTerminal(t *testing.T) {
	server, store := testServer(t)
	now := time.Now()
	require.NoError(t, store.CreateExecution(context.Background(), pipeline.Execution{
		ID: "e1", PipelineID: "p1", Status: pipeline.ExecutionCompleted, CompletedAt: &now,
	}))

	req := httptest.NewRequest(http.MethodPost, "/executions/e1/stop", nil)
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlePauseReturns409WhenNotRunning(t *testing.T) {
	server, store := testServer(t)
	require.NoError(t, store.CreateExecution(context.Background(), pipeline.Execution{ID: "e1", PipelineID: "p1", Status: pipeline.ExecutionPending}))

	req := httptest.NewRequest(http.MethodPost, "/executions/e1/pause", nil)
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleLogsReturns404ForUnknownExecution(t *testing.T) {
	server, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/executions/missing/logs", nil)
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
