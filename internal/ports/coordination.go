package ports

import (
	"context"
	"time"
)

// CoordinationHealth distinguishes the operating mode of the Coordination
// port so the supervisor and operators can tell a transient blip from a
// sustained outage.
type CoordinationHealth string

const (
	CoordinationHealthy   CoordinationHealth = "healthy"
	CoordinationDegraded  CoordinationHealth = "degraded"  // serving from local in-process fallback
	CoordinationDown      CoordinationHealth = "unreachable"
)

// Coordination is the coordination port (C2): distributed locks,
// execution/stage live state, retry counters, heartbeats, and the pipeline
// definition cache. Implementations must keep serving every method even
// when the backing store (Redis) is unreachable, falling back to a local
// in-process map and reporting CoordinationDegraded via Health -- the only
// observable consequence is that duplicate-run prevention and heartbeats
// lose cross-process reach (spec §4.2, §7).
type Coordination interface {
	TryPreventDuplicate(ctx context.Context, pipelineID string, ttl time.Duration) (acquired bool, err error)
	ReleasePipeline(ctx context.Context, pipelineID string) error

	SetExecutionState(ctx context.Context, executionID string, state string, metadata map[string]interface{}, ttl time.Duration) error
	GetExecutionState(ctx context.Context, executionID string) (state string, metadata map[string]interface{}, err error)

	SetStageState(ctx context.Context, executionID, stageID, state string, outputOrError map[string]interface{}) error

	IncrementRetry(ctx context.Context, executionID, stageID string) (int, error)
	ResetRetry(ctx context.Context, executionID, stageID string) error

	Heartbeat(ctx context.Context, executionID string, ttl time.Duration) error
	IsAlive(ctx context.Context, executionID string) (bool, error)
	RunningExecutions(ctx context.Context) ([]string, error)

	CachePipeline(ctx context.Context, pipelineID string, snapshot []byte, ttl time.Duration) error
	GetCachedPipeline(ctx context.Context, pipelineID string) ([]byte, bool, error)
	InvalidatePipeline(ctx context.Context, pipelineID string) error

	Health(ctx context.Context) CoordinationHealth
}
