package engine

import (
	"context"
	"time"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	"github.com/flowforge/pipelinectl/internal/ports"
)

// runHeartbeat is the per-execution companion task of C9: it calls
// Coordination.Heartbeat every HeartbeatInterval until ctx is cancelled,
// which happens when the execution is finalized. The supervisor has no
// shutdown signal of its own that stops this loop.
func (s *Supervisor) runHeartbeat(ctx context.Context, executionID string) {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ttl := s.cfg.HeartbeatTTL
	if ttl <= 0 {
		ttl = 3 * interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = s.coord.Heartbeat(ctx, executionID, ttl)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.coord.Heartbeat(ctx, executionID, ttl); err != nil && s.logger != nil {
				s.logger.Warn(ctx, "heartbeat publish failed", "execution_id", executionID, "error", err)
			}
		}
	}
}

// Reaper periodically lists running executions from the durable store and
// fails any whose coordination-port heartbeat has gone stale, releasing
// its pipeline lock (spec §4.9). It is safe to run on any engine instance
// since ReleaseLock and UpdateExecutionStatus are idempotent / race-safe
// against the owning supervisor's own finalization.
type Reaper struct {
	store    ports.Store
	coord    ports.Coordination
	logger   ports.Logger
	interval time.Duration
}

// NewReaper constructs a background liveness reaper.
func NewReaper(store ports.Store, coord ports.Coordination, logger ports.Logger, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reaper{store: store, coord: coord, logger: logger, interval: interval}
}

// Run blocks, sweeping on Reaper.interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	running, err := r.store.ListRunningExecutions(ctx)
	if err != nil {
		if r.logger != nil {
			r.logger.Error(ctx, "reaper failed to list running executions", "error", err)
		}
		return
	}

	for _, execution := range running {
		alive, err := r.coord.IsAlive(ctx, execution.ID)
		if err != nil {
			continue
		}
		if alive {
			continue
		}

		reason := "liveness lost"
		completed := execution.CompletedStages
		current := execution.CurrentStage
		update := ports.ExecutionStatusUpdate{CompletedStages: &completed, CurrentStage: &current, Error: &reason}
		if err := r.store.UpdateExecutionStatus(ctx, execution.ID, pipeline.ExecutionFailed, update); err != nil {
			if r.logger != nil {
				r.logger.Error(ctx, "reaper failed to mark execution failed", "execution_id", execution.ID, "error", err)
			}
			continue
		}
		_ = r.store.ReleaseLock(ctx, execution.PipelineID)
		if r.logger != nil {
			r.logger.Warn(ctx, "execution reaped for liveness loss", "execution_id", execution.ID, "pipeline_id", execution.PipelineID)
		}
	}
}
