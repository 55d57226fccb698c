package pipeline

import "time"

// Heartbeat records liveness for one running execution, refreshed
// periodically by the Heartbeat Loop (C9) and checked by the reaper to
// detect supervisor crashes mid-run (spec.md §4.9).
type Heartbeat struct {
	ExecutionID string
	WorkerID    string
	LastBeatAt  time.Time
	TTL         time.Duration
}

// Stale reports whether the heartbeat has not been refreshed within its TTL
// as of now, meaning the owning supervisor should be presumed dead.
func (h Heartbeat) Stale(now time.Time) bool {
	return now.Sub(h.LastBeatAt) > h.TTL
}
