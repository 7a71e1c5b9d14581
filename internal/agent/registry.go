// Package agent implements the capability registry and load-aware task
// dispatcher: registration/health tracking of worker agents, the
// least-loaded selection algorithm, and result correlation back to
// dispatched tasks.
package agent

import (
	"sort"
	"sync"
	"time"
)

// HealthState is an agent's lifecycle state, with a wider enum than this
// package produces: initializing/idle/busy are declared but nothing in this
// package sets them (Register sets active, the health loop and RecordError
// set failed).
type HealthState string

const (
	HealthInitializing HealthState = "initializing"
	HealthActive       HealthState = "active"
	HealthIdle         HealthState = "idle"
	HealthBusy         HealthState = "busy"
	HealthFailed       HealthState = "failed"
	HealthTerminated   HealthState = "terminated"
)

// Health is the health sub-record of a registry entry.
type Health struct {
	State         HealthState
	LastHeartbeat time.Time
	ErrorCount    int
}

// Entry is one agent's registry record. activeTaskCount is the load
// metric the selection algorithm minimizes.
type Entry struct {
	AgentID         string
	Capabilities    map[string]struct{}
	Health          Health
	activeTaskCount int
}

func (e Entry) hasCapability(taskType string) bool {
	_, ok := e.Capabilities[taskType]
	return ok
}

// Registry is the dispatcher's shared, mutex-serialized agent table.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register inserts an entry with active_task_count=0 and state=active.
// Re-registering an existing agent_id replaces its capability set
// but preserves its current load and health, since the agent process is
// presumed to be re-announcing, not restarting with zero load.
func (r *Registry) Register(agentID string, capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	caps := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		caps[c] = struct{}{}
	}

	if existing, ok := r.entries[agentID]; ok {
		existing.Capabilities = caps
		return
	}
	r.entries[agentID] = &Entry{
		AgentID:      agentID,
		Capabilities: caps,
		Health:       Health{State: HealthActive, LastHeartbeat: time.Now().UTC()},
	}
}

// Deregister removes the entry. Idempotent: the second call on the same id
// reports false.
func (r *Registry) Deregister(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[agentID]; !ok {
		return false
	}
	delete(r.entries, agentID)
	return true
}

// Heartbeat records a liveness signal from agentID and resets its error
// count to 0, unless the agent is already failed or terminated, in which
// case only the heartbeat time is updated and the state is left as is.
func (r *Registry) Heartbeat(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[agentID]
	if !ok {
		return
	}
	e.Health.LastHeartbeat = time.Now().UTC()
	if e.Health.State != HealthFailed && e.Health.State != HealthTerminated {
		e.Health.ErrorCount = 0
	}
}

// RecordError increments an agent's error count; state becomes failed once
// it reaches MAX_ERROR_COUNT.
func (r *Registry) RecordError(agentID string, maxErrorCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[agentID]
	if !ok {
		return
	}
	e.Health.ErrorCount++
	if e.Health.ErrorCount >= maxErrorCount {
		e.Health.State = HealthFailed
	}
}

// selectCandidate returns the least-loaded active agent with the required
// capability, ties broken by lexicographic agent_id. Callers
// must hold r.mu.
func (r *Registry) selectCandidate(capability string) (*Entry, bool) {
	var candidates []*Entry
	for _, e := range r.entries {
		if e.Health.State == HealthActive && e.hasCapability(capability) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].activeTaskCount != candidates[j].activeTaskCount {
			return candidates[i].activeTaskCount < candidates[j].activeTaskCount
		}
		return candidates[i].AgentID < candidates[j].AgentID
	})
	return candidates[0], true
}

// SelectAndIncrement performs selection and the load increment atomically.
// Returns ("", false) if no capable active agent exists.
func (r *Registry) SelectAndIncrement(capability string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	candidate, ok := r.selectCandidate(capability)
	if !ok {
		return "", false
	}
	candidate.activeTaskCount++
	return candidate.AgentID, true
}

// Decrement lowers agentID's load by one, floored at 0 (result
// correlation).
func (r *Registry) Decrement(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[agentID]
	if !ok {
		return
	}
	if e.activeTaskCount > 0 {
		e.activeTaskCount--
	}
}

// Rollback undoes a SelectAndIncrement when the subsequent publish fails.
// Equivalent to Decrement but named for call-site clarity.
func (r *Registry) Rollback(agentID string) {
	r.Decrement(agentID)
}

// ActiveTaskCount returns an agent's current load, or -1 if unknown.
func (r *Registry) ActiveTaskCount(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[agentID]
	if !ok {
		return -1
	}
	return e.activeTaskCount
}

// Snapshot returns a point-in-time copy of one entry, for tests and health
// scans.
func (r *Registry) Snapshot(agentID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[agentID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// All returns a snapshot of every entry, used by the health loop.
func (r *Registry) All() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

// MarkFailed transitions an entry straight to failed, used by the health
// loop on heartbeat timeout.
func (r *Registry) MarkFailed(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[agentID]; ok {
		e.Health.State = HealthFailed
	}
}
