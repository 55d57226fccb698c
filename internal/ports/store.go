package ports

import (
	"context"
	"time"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
)

// ExecutionStatusUpdate carries the optional fields that accompany a status
// transition so callers need not fetch-then-save the whole row.
type ExecutionStatusUpdate struct {
	CompletedStages *int
	CurrentStage    *string
	Error           *string
}

// ExecutionStats is the aggregate window statistics consumed by the Risk
// Scorer (ports.Scorer).
type ExecutionStats struct {
	PipelineID          string
	WindowDays          int
	TotalExecutions     int
	FailedExecutions    int
	AverageDuration     time.Duration
	FailuresLast7Days   int
	ExecutionsLast7Days int
	ConsecutiveFailures int
	DaysSinceSuccess    float64
	StageCount          int
}

// Store is the durable store port (C1): system-of-record for pipelines,
// executions, stage executions, logs, insights, metrics, and the
// durable-store fallback lock table. Implementations must make
// UpdateExecutionStatus serializable per execution id and idempotent when
// re-applying the same terminal status (see pipeline.CanTransition).
type Store interface {
	CreatePipeline(ctx context.Context, p pipeline.Pipeline) error
	GetPipeline(ctx context.Context, id string) (pipeline.Pipeline, error)
	ListPipelines(ctx context.Context) ([]pipeline.Pipeline, error)
	UpdatePipeline(ctx context.Context, p pipeline.Pipeline) error
	DeletePipeline(ctx context.Context, id string) error

	CreateExecution(ctx context.Context, e pipeline.Execution) error
	GetExecution(ctx context.Context, id string) (pipeline.Execution, error)
	UpdateExecutionStatus(ctx context.Context, id string, status pipeline.ExecutionStatus, update ExecutionStatusUpdate) error
	ListRunningExecutions(ctx context.Context) ([]pipeline.Execution, error)

	CreateStageExecution(ctx context.Context, se pipeline.StageExecution) error
	UpdateStageExecution(ctx context.Context, se pipeline.StageExecution) error
	GetStageExecution(ctx context.Context, executionID, stageID string) (pipeline.StageExecution, error)

	AppendLog(ctx context.Context, entry pipeline.LogEntry) error
	ListLogs(ctx context.Context, executionID string, level pipeline.LogLevel, limit int) ([]pipeline.LogEntry, error)

	RecordInsight(ctx context.Context, insight pipeline.Insight) error
	RecordMetric(ctx context.Context, name string, value float64, unit string, tags map[string]string) error

	GetExecutionStats(ctx context.Context, pipelineID string, windowDays int) (ExecutionStats, error)

	TryAcquireLock(ctx context.Context, pipelineID, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, pipelineID string) error
	ReapExpiredLocks(ctx context.Context, now time.Time) (int, error)
}
