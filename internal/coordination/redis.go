// Package coordination implements the Coordination port (C2): distributed
// locks, execution/stage live state, retry counters, heartbeats, and the
// pipeline definition cache, backed by Redis with an in-process fallback
// for degraded operation (spec §4.2, §6, §7).
package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowforge/pipelinectl/internal/ports"
)

const runningExecutionsKey = "running_executions"

var (
	_ ports.Coordination = (*Redis)(nil)
	_ ports.Coordination = (*Fallback)(nil)
)

// Redis implements ports.Coordination on top of a go-redis/v9 client.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an already-connected *redis.Client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func lockKey(pipelineID string) string       { return "lock:pipeline:" + pipelineID }
func execStateKey(executionID string) string { return "state:execution:" + executionID }
func stageStateKey(executionID, stageID string) string {
	return "state:stage:" + executionID + ":" + stageID
}
func retryKey(executionID, stageID string) string { return "retry:" + executionID + ":" + stageID }
func heartbeatKey(executionID string) string      { return "heartbeat:" + executionID }
func cacheKey(pipelineID string) string           { return "cache:pipeline:" + pipelineID }

func (r *Redis) TryPreventDuplicate(ctx context.Context, pipelineID string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKey(pipelineID), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		if err := r.client.SAdd(ctx, runningExecutionsKey, pipelineID).Err(); err != nil {
			return false, err
		}
	}
	return ok, nil
}

func (r *Redis) ReleasePipeline(ctx context.Context, pipelineID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, lockKey(pipelineID))
	pipe.SRem(ctx, runningExecutionsKey, pipelineID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) SetExecutionState(ctx context.Context, executionID string, state string, metadata map[string]interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(stateEnvelope{State: state, Metadata: metadata})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, execStateKey(executionID), payload, ttl).Err()
}

func (r *Redis) GetExecutionState(ctx context.Context, executionID string) (string, map[string]interface{}, error) {
	raw, err := r.client.Get(ctx, execStateKey(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	var env stateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	return env.State, env.Metadata, nil
}

func (r *Redis) SetStageState(ctx context.Context, executionID, stageID, state string, outputOrError map[string]interface{}) error {
	payload, err := json.Marshal(stateEnvelope{State: state, Metadata: outputOrError})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, stageStateKey(executionID, stageID), payload, 0).Err()
}

func (r *Redis) IncrementRetry(ctx context.Context, executionID, stageID string) (int, error) {
	n, err := r.client.Incr(ctx, retryKey(executionID, stageID)).Result()
	return int(n), err
}

func (r *Redis) ResetRetry(ctx context.Context, executionID, stageID string) error {
	return r.client.Del(ctx, retryKey(executionID, stageID)).Err()
}

func (r *Redis) Heartbeat(ctx context.Context, executionID string, ttl time.Duration) error {
	return r.client.Set(ctx, heartbeatKey(executionID), time.Now().UTC().Format(time.RFC3339Nano), ttl).Err()
}

func (r *Redis) IsAlive(ctx context.Context, executionID string) (bool, error) {
	n, err := r.client.Exists(ctx, heartbeatKey(executionID)).Result()
	return n > 0, err
}

func (r *Redis) RunningExecutions(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, runningExecutionsKey).Result()
}

func (r *Redis) CachePipeline(ctx context.Context, pipelineID string, snapshot []byte, ttl time.Duration) error {
	return r.client.Set(ctx, cacheKey(pipelineID), snapshot, ttl).Err()
}

func (r *Redis) GetCachedPipeline(ctx context.Context, pipelineID string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, cacheKey(pipelineID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (r *Redis) InvalidatePipeline(ctx context.Context, pipelineID string) error {
	return r.client.Del(ctx, cacheKey(pipelineID)).Err()
}

func (r *Redis) Health(ctx context.Context) ports.CoordinationHealth {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return ports.CoordinationDown
	}
	return ports.CoordinationHealthy
}

type stateEnvelope struct {
	State    string                 `json:"state"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
