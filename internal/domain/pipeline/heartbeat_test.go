package pipeline

import (
	"testing"
	"time"
)

func TestHeartbeatStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := Heartbeat{ExecutionID: "e1", LastBeatAt: now, TTL: 30 * time.Second}

	if h.Stale(now.Add(10 * time.Second)) {
		t.Fatal("heartbeat should not be stale within TTL")
	}
	if !h.Stale(now.Add(time.Minute)) {
		t.Fatal("heartbeat should be stale once TTL has elapsed")
	}
}
