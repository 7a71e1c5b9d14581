package agent

import "testing"

func TestRegisterDeregisterIdempotence(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"recipe_workflow_full"})

	first := r.Deregister("agent-1")
	second := r.Deregister("agent-1")
	if !first {
		t.Fatalf("expected first deregister to report true")
	}
	if second {
		t.Fatalf("expected second deregister to report false")
	}
	if _, ok := r.Snapshot("agent-1"); ok {
		t.Fatalf("expected registry to be empty after deregister")
	}
}

func TestSelectAndIncrementPrefersLeastLoaded(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-b", []string{"scrape"})
	r.Register("agent-a", []string{"scrape"})

	// load agent-a up so agent-b should win next
	r.SelectAndIncrement("scrape")

	chosen, ok := r.SelectAndIncrement("scrape")
	if !ok {
		t.Fatalf("expected a candidate")
	}
	if chosen != "agent-b" {
		t.Fatalf("expected least-loaded agent-b, got %q", chosen)
	}
}

func TestSelectAndIncrementTieBreaksLexicographically(t *testing.T) {
	r := NewRegistry()
	r.Register("zeta", []string{"scrape"})
	r.Register("alpha", []string{"scrape"})

	chosen, ok := r.SelectAndIncrement("scrape")
	if !ok {
		t.Fatalf("expected a candidate")
	}
	if chosen != "alpha" {
		t.Fatalf("expected lexicographically first agent_id alpha, got %q", chosen)
	}
}

func TestSelectAndIncrementNoCapableAgent(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"other_capability"})

	_, ok := r.SelectAndIncrement("scrape")
	if ok {
		t.Fatalf("expected no candidate for unadvertised capability")
	}
}

func TestSelectAndIncrementSkipsFailedAgents(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"scrape"})
	r.MarkFailed("agent-1")

	_, ok := r.SelectAndIncrement("scrape")
	if ok {
		t.Fatalf("expected failed agent to be excluded from selection")
	}
}

func TestDecrementFlooredAtZero(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"scrape"})
	r.Decrement("agent-1")
	r.Decrement("agent-1")
	if got := r.ActiveTaskCount("agent-1"); got != 0 {
		t.Fatalf("expected load floored at 0, got %d", got)
	}
}

func TestRecordErrorMarksFailedAtThreshold(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"scrape"})
	for i := 0; i < DefaultMaxErrorCount; i++ {
		r.RecordError("agent-1", DefaultMaxErrorCount)
	}
	snap, _ := r.Snapshot("agent-1")
	if snap.Health.State != HealthFailed {
		t.Fatalf("expected state failed after %d errors, got %s", DefaultMaxErrorCount, snap.Health.State)
	}
}
