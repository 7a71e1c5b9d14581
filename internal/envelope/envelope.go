// Package envelope defines the canonical message schema that crosses every
// queue boundary in the system, plus the type-indexed
// schema table used to validate it on consume and on mutation.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of envelope variants.
type Type string

const (
	TypeWorkflowInitiate Type = "workflow.initiate"
	TypeAgentTask        Type = "agent.task"
	TypeAgentResult      Type = "agent.result"
	TypeMetric           Type = "metric"
)

// Status is the envelope lifecycle status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// ErrorDetail populates Envelope.Error; invariant: Status == StatusFailed
// implies ErrorDetail != nil.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Envelope is the only thing that crosses a queue boundary.
type Envelope struct {
	MessageID       uuid.UUID       `json:"message_id"`
	ParentMessageID *uuid.UUID      `json:"parent_message_id,omitempty"`
	Type            Type            `json:"type"`
	Status          Status          `json:"status"`
	Payload         json.RawMessage `json:"payload"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Error           *ErrorDetail    `json:"error,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// New creates an envelope in the pending state with a fresh message id and
// both timestamps set to now.
func New(typ Type, payload any, maxRetries int) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Envelope{
		MessageID:  uuid.New(),
		Type:       typ,
		Status:     StatusPending,
		Payload:    raw,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   map[string]any{},
	}, nil
}

// Touch refreshes UpdatedAt; callers must invoke this on every mutation so
// the monotonic-UpdatedAt testable property holds.
func (e *Envelope) Touch() {
	now := time.Now().UTC()
	if now.After(e.UpdatedAt) {
		e.UpdatedAt = now
	} else {
		// Guarantee strict monotonicity even under a coarse system clock.
		e.UpdatedAt = e.UpdatedAt.Add(time.Nanosecond)
	}
}

// MarkFailed transitions the envelope to failed and attaches the error,
// preserving the invariant status=failed => error != nil.
func (e *Envelope) MarkFailed(code, message string, details map[string]any) {
	e.Status = StatusFailed
	e.Error = &ErrorDetail{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	e.Touch()
}

// CanRetry reports whether another retry is within budget. retry_count >
// max_retries is never allowed to occur; callers must route to the DLQ
// instead of incrementing past this.
func (e *Envelope) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}
