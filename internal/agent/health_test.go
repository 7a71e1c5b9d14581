package agent

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type recordingSupervisor struct {
	mu       sync.Mutex
	restarts []string
}

func (s *recordingSupervisor) Restart(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts = append(s.restarts, agentID)
	return nil
}

func TestHealthLoopMarksTimedOutAgentFailedAndRestarts(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"scrape"})
	// force the last heartbeat far enough in the past to count as timed out
	r.mu.Lock()
	r.entries["agent-1"].Health.LastHeartbeat = time.Now().UTC().Add(-time.Hour)
	r.mu.Unlock()

	sup := &recordingSupervisor{}
	loop := NewHealthLoop(r, NewDispatcher(r, &fakePublisher{}), sup, slog.Default())
	loop.heartbeatInterval = time.Millisecond

	loop.scan(context.Background())

	snap, _ := r.Snapshot("agent-1")
	if snap.Health.State != HealthFailed {
		t.Fatalf("expected agent marked failed, got %s", snap.Health.State)
	}
	if len(sup.restarts) != 1 || sup.restarts[0] != "agent-1" {
		t.Fatalf("expected supervisor restart called for agent-1, got %v", sup.restarts)
	}
}

func TestHealthLoopIgnoresHealthyAgent(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"scrape"})
	sup := &recordingSupervisor{}
	loop := NewHealthLoop(r, NewDispatcher(r, &fakePublisher{}), sup, slog.Default())

	loop.scan(context.Background())

	snap, _ := r.Snapshot("agent-1")
	if snap.Health.State != HealthActive {
		t.Fatalf("expected agent to remain active, got %s", snap.Health.State)
	}
	if len(sup.restarts) != 0 {
		t.Fatalf("expected no restarts, got %v", sup.restarts)
	}
}
