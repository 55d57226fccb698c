package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
)

type pipelineRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Version     string `db:"version"`
	Description string `db:"description"`
	Active      bool   `db:"active"`
	Schedule    string `db:"schedule"`
}

type stageRow struct {
	StageID      string         `db:"stage_id"`
	Name         string         `db:"name"`
	Kind         string         `db:"kind"`
	Config       json.RawMessage `db:"config"`
	Dependencies pq.StringArray `db:"dependencies"`
	Timeout      int            `db:"timeout"`
	MaxRetries   int            `db:"max_retries"`
	RetryBase    float64        `db:"retry_base"`
	RetryBackoff float64        `db:"retry_backoff"`
	IsCritical   bool           `db:"is_critical"`
}

type executionRow struct {
	ID              string          `db:"id"`
	PipelineID      string          `db:"pipeline_id"`
	PipelineName    string          `db:"pipeline_name"`
	Status          string          `db:"status"`
	TotalStages     int             `db:"total_stages"`
	CompletedStages int             `db:"completed_stages"`
	CurrentStage    string          `db:"current_stage"`
	StartedAt       time.Time       `db:"started_at"`
	CompletedAt     sql.NullTime    `db:"completed_at"`
	DurationMs      sql.NullInt64   `db:"duration_ms"`
	RiskScore       sql.NullFloat64 `db:"risk_score"`
	TriggerSource   string          `db:"trigger_source"`
	TriggerMetadata json.RawMessage `db:"trigger_metadata"`
	Variables       json.RawMessage `db:"variables"`
	Results         json.RawMessage `db:"results"`
	Error           string          `db:"error"`
}

func (r executionRow) toDomain() (pipeline.Execution, error) {
	e := pipeline.Execution{
		ID: r.ID, PipelineID: r.PipelineID, PipelineName: r.PipelineName,
		Status: pipeline.ExecutionStatus(r.Status), TotalStages: r.TotalStages,
		CompletedStages: r.CompletedStages, CurrentStage: r.CurrentStage,
		StartedAt: r.StartedAt, TriggerSource: r.TriggerSource, Error: r.Error,
	}
	if r.CompletedAt.Valid {
		e.CompletedAt = &r.CompletedAt.Time
	}
	if r.DurationMs.Valid {
		d := time.Duration(r.DurationMs.Int64) * time.Millisecond
		e.Duration = &d
	}
	if r.RiskScore.Valid {
		score := r.RiskScore.Float64
		e.RiskScore = &score
	}
	if len(r.TriggerMetadata) > 0 {
		if err := json.Unmarshal(r.TriggerMetadata, &e.TriggerMetadata); err != nil {
			return pipeline.Execution{}, err
		}
	}
	if len(r.Variables) > 0 {
		if err := json.Unmarshal(r.Variables, &e.Variables); err != nil {
			return pipeline.Execution{}, err
		}
	}
	if len(r.Results) > 0 {
		if err := json.Unmarshal(r.Results, &e.Results); err != nil {
			return pipeline.Execution{}, err
		}
	}
	return e, nil
}

type stageExecutionRow struct {
	ExecutionID string          `db:"execution_id"`
	StageID     string          `db:"stage_id"`
	Status      string          `db:"status"`
	Attempt     int             `db:"attempt"`
	MaxAttempts int             `db:"max_attempts"`
	StartedAt   sql.NullTime    `db:"started_at"`
	CompletedAt sql.NullTime    `db:"completed_at"`
	Output      json.RawMessage `db:"output"`
	Error       string          `db:"error"`
	IsAnomaly     bool   `db:"is_anomaly"`
	AnomalyReason string `db:"anomaly_reason"`
}

func (r stageExecutionRow) toDomain() (pipeline.StageExecution, error) {
	se := pipeline.StageExecution{
		ExecutionID: r.ExecutionID, StageID: r.StageID, Status: pipeline.StageExecutionStatus(r.Status),
		Attempt: r.Attempt, MaxAttempts: r.MaxAttempts, Error: r.Error,
		IsAnomaly: r.IsAnomaly, AnomalyReason: r.AnomalyReason,
	}
	if r.StartedAt.Valid {
		se.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		se.CompletedAt = &r.CompletedAt.Time
	}
	if len(r.Output) > 0 {
		if err := json.Unmarshal(r.Output, &se.Output); err != nil {
			return pipeline.StageExecution{}, err
		}
	}
	return se, nil
}

type logRow struct {
	ExecutionID string          `db:"execution_id"`
	Sequence    int64           `db:"sequence"`
	StageID     string          `db:"stage_id"`
	Level       string          `db:"level"`
	Message     string          `db:"message"`
	Fields      json.RawMessage `db:"fields"`
	CreatedAt   time.Time       `db:"created_at"`
}

func (r logRow) toDomain() (pipeline.LogEntry, error) {
	entry := pipeline.LogEntry{
		ExecutionID: r.ExecutionID, Sequence: r.Sequence, StageID: r.StageID,
		Level: pipeline.LogLevel(r.Level), Message: r.Message, Timestamp: r.CreatedAt,
	}
	if len(r.Fields) > 0 {
		if err := json.Unmarshal(r.Fields, &entry.Fields); err != nil {
			return pipeline.LogEntry{}, err
		}
	}
	return entry, nil
}

type executionStatsRow struct {
	TotalExecutions     int     `db:"total_executions"`
	FailedExecutions    int     `db:"failed_executions"`
	AverageDurationMs   float64 `db:"average_duration_ms"`
	FailuresLast7Days   int     `db:"failures_last7_days"`
	ExecutionsLast7Days int     `db:"executions_last7_days"`
}
