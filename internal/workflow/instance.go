// Package workflow implements the per-instance state machine: a sequential
// pipeline of search, bounded-parallel scrape, and save steps, with a
// lifecycle metric emitted on every transition.
package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pantryworks/reciperecon/internal/envelope"
)

// Status is the workflow instance's lifecycle state.
type Status string

const (
	StatusPending          Status = "pending"
	StatusSearchInProgress Status = "search_in_progress"
	StatusSearchCompleted  Status = "search_completed"
	StatusScrapeInProgress Status = "scrape_in_progress"
	StatusScrapeCompleted  Status = "scrape_completed"
	StatusSaveInProgress   Status = "save_in_progress"
	StatusSaveCompleted    Status = "save_completed"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Instance is the orchestrator's exclusive, in-memory view of one running
// workflow. No other component mutates it; it is deleted from the live
// map once a terminal metric has been published.
type Instance struct {
	WorkflowID   uuid.UUID
	WorkflowType envelope.WorkflowType
	Payload      envelope.RecipeWorkflowFullPayload

	mu                   sync.Mutex
	status               Status
	currentStep          string
	contextData          map[string]any
	startTimestamp       time.Time
	lastUpdatedTimestamp time.Time
	errorDetails         *envelope.ErrorDetail
}

func newInstance(payload envelope.RecipeWorkflowFullPayload) *Instance {
	now := time.Now().UTC()
	return &Instance{
		WorkflowID:           uuid.New(),
		WorkflowType:         envelope.RecipeWorkflowFull,
		Payload:              payload,
		status:               StatusPending,
		contextData:          map[string]any{},
		startTimestamp:       now,
		lastUpdatedTimestamp: now,
	}
}

// transition updates status and current_step, and refreshes
// last_updated_timestamp with the same strict-monotonicity guarantee as
// envelope.Envelope.Touch.
func (i *Instance) transition(status Status, step string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = status
	i.currentStep = step
	now := time.Now().UTC()
	if now.After(i.lastUpdatedTimestamp) {
		i.lastUpdatedTimestamp = now
	} else {
		i.lastUpdatedTimestamp = i.lastUpdatedTimestamp.Add(time.Nanosecond)
	}
}

func (i *Instance) setContext(key string, value any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.contextData[key] = value
}

func (i *Instance) getContext(key string) (any, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.contextData[key]
	return v, ok
}

func (i *Instance) fail(errDetails *envelope.ErrorDetail) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = StatusFailed
	i.errorDetails = errDetails
	now := time.Now().UTC()
	if now.After(i.lastUpdatedTimestamp) {
		i.lastUpdatedTimestamp = now
	} else {
		i.lastUpdatedTimestamp = i.lastUpdatedTimestamp.Add(time.Nanosecond)
	}
}

// Snapshot is an immutable, race-free view of an instance for inspection
// (tests, admin surfaces).
type Snapshot struct {
	WorkflowID           uuid.UUID
	WorkflowType         envelope.WorkflowType
	Status               Status
	CurrentStep          string
	LastUpdatedTimestamp time.Time
	ErrorDetails         *envelope.ErrorDetail
}

func (i *Instance) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Snapshot{
		WorkflowID:           i.WorkflowID,
		WorkflowType:         i.WorkflowType,
		Status:               i.status,
		CurrentStep:          i.currentStep,
		LastUpdatedTimestamp: i.lastUpdatedTimestamp,
		ErrorDetails:         i.errorDetails,
	}
}
