package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/flowforge/pipelinectl/internal/ports"
)

// Fallback wraps a Coordination backend (normally Redis) behind a circuit
// breaker and serves every method from a local in-process map once the
// breaker trips, trading cross-process reach for availability (spec §7):
// duplicate-run prevention and heartbeats degrade to single-process scope
// until the backend recovers.
type Fallback struct {
	backend ports.Coordination
	breaker *gobreaker.CircuitBreaker

	mu         sync.Mutex
	locks      map[string]time.Time
	execState  map[string]stateEnvelope
	stageState map[string]stateEnvelope
	retries    map[string]int
	heartbeats map[string]time.Time
	cache      map[string][]byte
}

// NewFallback wraps backend with a circuit breaker configured per
// the supplied settings. A nil settings.ReadyToTrip gets a 3-requests /
// 60%-failure-ratio default.
func NewFallback(backend ports.Coordination, settings gobreaker.Settings) *Fallback {
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		}
	}
	return &Fallback{
		backend:    backend,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		locks:      make(map[string]time.Time),
		execState:  make(map[string]stateEnvelope),
		stageState: make(map[string]stateEnvelope),
		retries:    make(map[string]int),
		heartbeats: make(map[string]time.Time),
		cache:      make(map[string][]byte),
	}
}

func (f *Fallback) degraded() bool {
	return f.breaker.State() != gobreaker.StateClosed
}

func (f *Fallback) TryPreventDuplicate(ctx context.Context, pipelineID string, ttl time.Duration) (bool, error) {
	if f.degraded() {
		return f.localTryPreventDuplicate(pipelineID, ttl), nil
	}
	v, err := f.breaker.Execute(func() (interface{}, error) {
		return f.backend.TryPreventDuplicate(ctx, pipelineID, ttl)
	})
	if err != nil {
		return f.localTryPreventDuplicate(pipelineID, ttl), nil
	}
	return v.(bool), nil
}

func (f *Fallback) localTryPreventDuplicate(pipelineID string, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if expires, ok := f.locks[pipelineID]; ok && time.Now().Before(expires) {
		return false
	}
	f.locks[pipelineID] = time.Now().Add(ttl)
	return true
}

func (f *Fallback) ReleasePipeline(ctx context.Context, pipelineID string) error {
	f.mu.Lock()
	delete(f.locks, pipelineID)
	f.mu.Unlock()
	if f.degraded() {
		return nil
	}
	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.backend.ReleasePipeline(ctx, pipelineID)
	})
	return err
}

func (f *Fallback) SetExecutionState(ctx context.Context, executionID, state string, metadata map[string]interface{}, ttl time.Duration) error {
	f.mu.Lock()
	f.execState[executionID] = stateEnvelope{State: state, Metadata: metadata}
	f.mu.Unlock()
	if f.degraded() {
		return nil
	}
	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.backend.SetExecutionState(ctx, executionID, state, metadata, ttl)
	})
	return err
}

func (f *Fallback) GetExecutionState(ctx context.Context, executionID string) (string, map[string]interface{}, error) {
	if !f.degraded() {
		v, err := f.breaker.Execute(func() (interface{}, error) {
			state, metadata, err := f.backend.GetExecutionState(ctx, executionID)
			if err != nil {
				return nil, err
			}
			return stateEnvelope{State: state, Metadata: metadata}, nil
		})
		if err == nil {
			env := v.(stateEnvelope)
			return env.State, env.Metadata, nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	env := f.execState[executionID]
	return env.State, env.Metadata, nil
}

func (f *Fallback) SetStageState(ctx context.Context, executionID, stageID, state string, outputOrError map[string]interface{}) error {
	f.mu.Lock()
	f.stageState[executionID+":"+stageID] = stateEnvelope{State: state, Metadata: outputOrError}
	f.mu.Unlock()
	if f.degraded() {
		return nil
	}
	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.backend.SetStageState(ctx, executionID, stageID, state, outputOrError)
	})
	return err
}

func (f *Fallback) IncrementRetry(ctx context.Context, executionID, stageID string) (int, error) {
	key := executionID + ":" + stageID
	if !f.degraded() {
		v, err := f.breaker.Execute(func() (interface{}, error) {
			return f.backend.IncrementRetry(ctx, executionID, stageID)
		})
		if err == nil {
			n := v.(int)
			f.mu.Lock()
			f.retries[key] = n
			f.mu.Unlock()
			return n, nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries[key]++
	return f.retries[key], nil
}

func (f *Fallback) ResetRetry(ctx context.Context, executionID, stageID string) error {
	key := executionID + ":" + stageID
	f.mu.Lock()
	delete(f.retries, key)
	f.mu.Unlock()
	if f.degraded() {
		return nil
	}
	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.backend.ResetRetry(ctx, executionID, stageID)
	})
	return err
}

func (f *Fallback) Heartbeat(ctx context.Context, executionID string, ttl time.Duration) error {
	f.mu.Lock()
	f.heartbeats[executionID] = time.Now().Add(ttl)
	f.mu.Unlock()
	if f.degraded() {
		return nil
	}
	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.backend.Heartbeat(ctx, executionID, ttl)
	})
	return err
}

func (f *Fallback) IsAlive(ctx context.Context, executionID string) (bool, error) {
	if !f.degraded() {
		v, err := f.breaker.Execute(func() (interface{}, error) {
			return f.backend.IsAlive(ctx, executionID)
		})
		if err == nil {
			return v.(bool), nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	expires, ok := f.heartbeats[executionID]
	return ok && time.Now().Before(expires), nil
}

func (f *Fallback) RunningExecutions(ctx context.Context) ([]string, error) {
	if !f.degraded() {
		v, err := f.breaker.Execute(func() (interface{}, error) {
			return f.backend.RunningExecutions(ctx)
		})
		if err == nil {
			return v.([]string), nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.locks))
	for id, expires := range f.locks {
		if time.Now().Before(expires) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *Fallback) CachePipeline(ctx context.Context, pipelineID string, snapshot []byte, ttl time.Duration) error {
	f.mu.Lock()
	f.cache[pipelineID] = snapshot
	f.mu.Unlock()
	if f.degraded() {
		return nil
	}
	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.backend.CachePipeline(ctx, pipelineID, snapshot, ttl)
	})
	return err
}

func (f *Fallback) GetCachedPipeline(ctx context.Context, pipelineID string) ([]byte, bool, error) {
	if !f.degraded() {
		v, err := f.breaker.Execute(func() (interface{}, error) {
			snapshot, ok, err := f.backend.GetCachedPipeline(ctx, pipelineID)
			if err != nil {
				return nil, err
			}
			return cacheResult{snapshot: snapshot, ok: ok}, nil
		})
		if err == nil {
			res := v.(cacheResult)
			return res.snapshot, res.ok, nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot, ok := f.cache[pipelineID]
	return snapshot, ok, nil
}

func (f *Fallback) InvalidatePipeline(ctx context.Context, pipelineID string) error {
	f.mu.Lock()
	delete(f.cache, pipelineID)
	f.mu.Unlock()
	if f.degraded() {
		return nil
	}
	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.backend.InvalidatePipeline(ctx, pipelineID)
	})
	return err
}

func (f *Fallback) Health(ctx context.Context) ports.CoordinationHealth {
	switch f.breaker.State() {
	case gobreaker.StateClosed:
		return f.backend.Health(ctx)
	case gobreaker.StateHalfOpen:
		return ports.CoordinationDegraded
	default:
		return ports.CoordinationDegraded
	}
}

type cacheResult struct {
	snapshot []byte
	ok       bool
}
