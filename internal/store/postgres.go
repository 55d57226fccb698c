// Package store implements the Durable Store port (C1) against Postgres,
// the system of record for pipelines, executions, stage executions, logs,
// insights, and metrics (spec §6).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	"github.com/flowforge/pipelinectl/internal/ports"
)

// Postgres implements ports.Store on top of sqlx/lib/pq.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an already-connected *sqlx.DB. Callers are expected to
// have run Migrate against the same *sql.DB beforehand.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) CreatePipeline(ctx context.Context, pl pipeline.Pipeline) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, version, description, active, schedule, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET name = $2, version = $3, description = $4, active = $5, schedule = $6, updated_at = now()
	`, pl.ID, pl.Name, pl.Version, pl.Description, pl.Active, pl.Schedule)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_stages WHERE pipeline_id = $1`, pl.ID); err != nil {
		return err
	}
	for i, s := range pl.Stages {
		cfg, err := json.Marshal(s.Config)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pipeline_stages (pipeline_id, stage_id, name, kind, config, dependencies, timeout, max_retries, retry_base, retry_backoff, is_critical, stage_order)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, pl.ID, s.ID, s.Name, string(s.Kind), cfg, pq.Array(s.DependsOn), s.Timeout, s.MaxRetries, s.RetryBase, s.RetryBackoff, s.IsCritical, i)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *Postgres) GetPipeline(ctx context.Context, id string) (pipeline.Pipeline, error) {
	var row pipelineRow
	err := p.db.GetContext(ctx, &row, `SELECT id, name, version, description, active, schedule FROM pipelines WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return pipeline.Pipeline{}, notFound("pipeline", id)
	}
	if err != nil {
		return pipeline.Pipeline{}, err
	}

	var stageRows []stageRow
	if err := p.db.SelectContext(ctx, &stageRows, `
		SELECT stage_id, name, kind, config, dependencies, timeout, max_retries, retry_base, retry_backoff, is_critical
		FROM pipeline_stages WHERE pipeline_id = $1 ORDER BY stage_order
	`, id); err != nil {
		return pipeline.Pipeline{}, err
	}

	stages := make([]pipeline.Stage, len(stageRows))
	for i, sr := range stageRows {
		var cfg map[string]interface{}
		if len(sr.Config) > 0 {
			if err := json.Unmarshal(sr.Config, &cfg); err != nil {
				return pipeline.Pipeline{}, err
			}
		}
		stages[i] = pipeline.Stage{
			ID: sr.StageID, Name: sr.Name, Kind: pipeline.StageKind(sr.Kind), Config: cfg,
			DependsOn: []string(sr.Dependencies), Timeout: sr.Timeout, MaxRetries: sr.MaxRetries,
			RetryBase: sr.RetryBase, RetryBackoff: sr.RetryBackoff, IsCritical: sr.IsCritical,
		}
	}

	return pipeline.Pipeline{
		ID: row.ID, Name: row.Name, Version: row.Version, Description: row.Description,
		Active: row.Active, Schedule: row.Schedule, Stages: stages,
	}, nil
}

func (p *Postgres) ListPipelines(ctx context.Context) ([]pipeline.Pipeline, error) {
	var ids []string
	if err := p.db.SelectContext(ctx, &ids, `SELECT id FROM pipelines ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]pipeline.Pipeline, 0, len(ids))
	for _, id := range ids {
		pl, err := p.GetPipeline(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, nil
}

func (p *Postgres) UpdatePipeline(ctx context.Context, pl pipeline.Pipeline) error {
	return p.CreatePipeline(ctx, pl)
}

func (p *Postgres) DeletePipeline(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	return err
}

func (p *Postgres) CreateExecution(ctx context.Context, e pipeline.Execution) error {
	variables, err := json.Marshal(e.Variables)
	if err != nil {
		return err
	}
	results, err := json.Marshal(e.Results)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(e.TriggerMetadata)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO executions (id, pipeline_id, pipeline_name, status, total_stages, completed_stages, current_stage, started_at, risk_score, trigger_source, trigger_metadata, variables, results, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, e.ID, e.PipelineID, e.PipelineName, string(e.Status), e.TotalStages, e.CompletedStages, e.CurrentStage, e.StartedAt, e.RiskScore, e.TriggerSource, metadata, variables, results, e.Error)
	return err
}

func (p *Postgres) GetExecution(ctx context.Context, id string) (pipeline.Execution, error) {
	var row executionRow
	err := p.db.GetContext(ctx, &row, `
		SELECT id, pipeline_id, pipeline_name, status, total_stages, completed_stages, current_stage,
		       started_at, completed_at, duration_ms, risk_score, trigger_source, trigger_metadata, variables, results, error
		FROM executions WHERE id = $1
	`, id)
	if err == sql.ErrNoRows {
		return pipeline.Execution{}, notFound("execution", id)
	}
	if err != nil {
		return pipeline.Execution{}, err
	}
	return row.toDomain()
}

func (p *Postgres) UpdateExecutionStatus(ctx context.Context, id string, status pipeline.ExecutionStatus, update ports.ExecutionStatusUpdate) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var currentStatus string
	if err := tx.GetContext(ctx, &currentStatus, `SELECT status FROM executions WHERE id = $1 FOR UPDATE`, id); err != nil {
		return err
	}
	if pipeline.ExecutionStatus(currentStatus) == status && pipeline.ExecutionStatus(currentStatus).IsTerminal() {
		// Re-applying the same terminal status is a no-op: nothing to write,
		// and in particular no re-stamping of completed_at/duration_ms.
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE executions SET status = $1 WHERE id = $2`, string(status), id); err != nil {
		return err
	}
	if update.CompletedStages != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE executions SET completed_stages = $1 WHERE id = $2`, *update.CompletedStages, id); err != nil {
			return err
		}
	}
	if update.CurrentStage != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE executions SET current_stage = $1 WHERE id = $2`, *update.CurrentStage, id); err != nil {
			return err
		}
	}
	if update.Error != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE executions SET error = $1 WHERE id = $2`, *update.Error, id); err != nil {
			return err
		}
	}
	if status.IsTerminal() {
		// completed_at IS NULL keeps this re-stamp from firing a second time
		// if a caller (e.g. the reaper) applies a terminal status to an
		// execution that is already terminal.
		if _, err := tx.ExecContext(ctx, `
			UPDATE executions SET completed_at = now(), duration_ms = EXTRACT(EPOCH FROM (now() - started_at)) * 1000
			WHERE id = $1 AND completed_at IS NULL
		`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) ListRunningExecutions(ctx context.Context) ([]pipeline.Execution, error) {
	var ids []string
	if err := p.db.SelectContext(ctx, &ids, `SELECT id FROM executions WHERE status = $1`, string(pipeline.ExecutionRunning)); err != nil {
		return nil, err
	}
	out := make([]pipeline.Execution, 0, len(ids))
	for _, id := range ids {
		e, err := p.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *Postgres) CreateStageExecution(ctx context.Context, se pipeline.StageExecution) error {
	output, err := json.Marshal(se.Output)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO stage_executions (execution_id, stage_id, status, attempt, max_attempts, started_at, completed_at, output, error, is_anomaly, anomaly_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (execution_id, stage_id) DO UPDATE SET status = $3, attempt = $4, max_attempts = $5, started_at = $6, completed_at = $7, output = $8, error = $9, is_anomaly = $10, anomaly_reason = $11
	`, se.ExecutionID, se.StageID, string(se.Status), se.Attempt, se.MaxAttempts, se.StartedAt, se.CompletedAt, output, se.Error, se.IsAnomaly, se.AnomalyReason)
	return err
}

func (p *Postgres) UpdateStageExecution(ctx context.Context, se pipeline.StageExecution) error {
	return p.CreateStageExecution(ctx, se)
}

func (p *Postgres) GetStageExecution(ctx context.Context, executionID, stageID string) (pipeline.StageExecution, error) {
	var row stageExecutionRow
	err := p.db.GetContext(ctx, &row, `
		SELECT execution_id, stage_id, status, attempt, max_attempts, started_at, completed_at, output, error, is_anomaly, anomaly_reason
		FROM stage_executions WHERE execution_id = $1 AND stage_id = $2
	`, executionID, stageID)
	if err == sql.ErrNoRows {
		return pipeline.StageExecution{}, notFound("stage_execution", executionID+"/"+stageID)
	}
	if err != nil {
		return pipeline.StageExecution{}, err
	}
	return row.toDomain()
}

func (p *Postgres) AppendLog(ctx context.Context, entry pipeline.LogEntry) error {
	fields, err := json.Marshal(entry.Fields)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO logs (execution_id, sequence, stage_id, level, message, fields, created_at)
		VALUES ($1, nextval(pg_get_serial_sequence('logs', 'id')), $2, $3, $4, $5, $6)
	`, entry.ExecutionID, entry.StageID, string(entry.Level), entry.Message, fields, entry.Timestamp)
	return err
}

func (p *Postgres) ListLogs(ctx context.Context, executionID string, level pipeline.LogLevel, limit int) ([]pipeline.LogEntry, error) {
	query := `SELECT execution_id, sequence, stage_id, level, message, fields, created_at FROM logs WHERE execution_id = $1`
	args := []interface{}{executionID}
	if level != "" {
		query += ` AND level = $2`
		args = append(args, string(level))
	}
	query += ` ORDER BY sequence ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	var rows []logRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]pipeline.LogEntry, len(rows))
	for i, r := range rows {
		entry, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = entry
	}
	return out, nil
}

func (p *Postgres) RecordInsight(ctx context.Context, insight pipeline.Insight) error {
	factors := pq.Array(insight.Factors)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ai_insights (id, scope, pipeline_id, execution_id, stage_id, kind, severity, title, message, recommendation, confidence, risk_score, factors, explanation, resolved, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, insightID(insight), string(insight.Scope), insight.PipelineID, insight.ExecutionID, insight.StageID,
		insight.Kind, string(insight.Severity), insight.Title, insight.Message, insight.Recommendation,
		insight.Confidence, insight.RiskScore, factors, insight.Explanation, insight.Resolved, insight.CreatedAt)
	return err
}

func (p *Postgres) RecordMetric(ctx context.Context, name string, value float64, unit string, tags map[string]string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO metrics (name, value, unit, tags, recorded_at) VALUES ($1,$2,$3,$4,now())
	`, name, value, unit, tagsJSON)
	return err
}

func (p *Postgres) GetExecutionStats(ctx context.Context, pipelineID string, windowDays int) (ports.ExecutionStats, error) {
	var agg executionStatsRow
	err := p.db.GetContext(ctx, &agg, `
		SELECT
			count(*) AS total_executions,
			count(*) FILTER (WHERE status = 'failed') AS failed_executions,
			coalesce(avg(duration_ms), 0) AS average_duration_ms,
			count(*) FILTER (WHERE status = 'failed' AND started_at > now() - interval '7 days') AS failures_last7_days,
			count(*) FILTER (WHERE started_at > now() - interval '7 days') AS executions_last7_days
		FROM executions
		WHERE pipeline_id = $1 AND started_at > now() - make_interval(days => $2)
	`, pipelineID, windowDays)
	if err != nil {
		return ports.ExecutionStats{}, err
	}
	stats := ports.ExecutionStats{
		PipelineID:          pipelineID,
		WindowDays:          windowDays,
		TotalExecutions:     agg.TotalExecutions,
		FailedExecutions:    agg.FailedExecutions,
		AverageDuration:     time.Duration(agg.AverageDurationMs) * time.Millisecond,
		FailuresLast7Days:   agg.FailuresLast7Days,
		ExecutionsLast7Days: agg.ExecutionsLast7Days,
	}

	var consecutive int
	if err := p.db.GetContext(ctx, &consecutive, `
		WITH ordered AS (
			SELECT status FROM executions WHERE pipeline_id = $1 ORDER BY started_at DESC
		), failing AS (
			SELECT status, row_number() OVER () AS rn FROM ordered
		)
		SELECT count(*) FROM failing WHERE status = 'failed' AND rn <= (
			SELECT min(rn) FROM failing WHERE status != 'failed'
		) - 1
	`, pipelineID); err == nil {
		stats.ConsecutiveFailures = consecutive
	}

	var daysSinceSuccess sql.NullFloat64
	_ = p.db.GetContext(ctx, &daysSinceSuccess, `
		SELECT EXTRACT(EPOCH FROM (now() - max(completed_at))) / 86400
		FROM executions WHERE pipeline_id = $1 AND status = 'completed'
	`, pipelineID)
	if daysSinceSuccess.Valid {
		stats.DaysSinceSuccess = daysSinceSuccess.Float64
	}

	var stageCount int
	_ = p.db.GetContext(ctx, &stageCount, `SELECT count(*) FROM pipeline_stages WHERE pipeline_id = $1`, pipelineID)
	stats.StageCount = stageCount

	return stats, nil
}

func (p *Postgres) TryAcquireLock(ctx context.Context, pipelineID, holder string, ttl time.Duration) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO execution_locks (pipeline_id, holder, acquired_at, expires_at)
		VALUES ($1, $2, now(), now() + $3::interval)
		ON CONFLICT (pipeline_id) DO UPDATE SET holder = $2, acquired_at = now(), expires_at = now() + $3::interval
		WHERE execution_locks.expires_at < now()
	`, pipelineID, holder, toPGInterval(ttl))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Postgres) ReleaseLock(ctx context.Context, pipelineID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM execution_locks WHERE pipeline_id = $1`, pipelineID)
	return err
}

func (p *Postgres) ReapExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM execution_locks WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func notFound(kind, id string) error {
	return &pipeline.DomainError{Code: pipeline.ErrCodeNotFound, Message: kind + " not found", Context: map[string]interface{}{"id": id}}
}

func insightID(i pipeline.Insight) string {
	if i.ID != "" {
		return i.ID
	}
	return i.ExecutionID + ":" + i.Kind + ":" + i.CreatedAt.Format(time.RFC3339Nano)
}

func toPGInterval(d time.Duration) string {
	return d.String()
}
