package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pantryworks/reciperecon/internal/core/resilience"
	"github.com/pantryworks/reciperecon/internal/envelope"
	"github.com/pantryworks/reciperecon/internal/queue"
)

// dispatchBurstCapacity/dispatchRefillRate/dispatchQueueSize/dispatchLeakRate
// size the hybrid rate limiter guarding publishes onto the bounded
// agent.tasks stream: a 20-task burst, refilling at 10/s, with up to
// 50 tasks queued behind the token bucket and leaking out one every 20ms.
const (
	dispatchBurstCapacity = 20
	dispatchRefillRate    = 10.0
	dispatchQueueSize     = 50
	dispatchLeakRate      = 20 * time.Millisecond
)

// TaskStatus is an active task record's lifecycle.
type TaskStatus string

const (
	TaskAssigned  TaskStatus = "assigned"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskRecord is the dispatcher's bookkeeping for one dispatched task.
// Deleted on completed; retained on failed until a bounded sweep.
type TaskRecord struct {
	TaskID    uuid.UUID
	AgentID   string
	Status    TaskStatus
	StartedAt time.Time
	Envelope  *envelope.Envelope
}

// ErrNoCapableAgent is returned when selection finds nothing active and
// capable; callers decide whether to queue, fail, or wait.
var ErrNoCapableAgent = fmt.Errorf("agent: no active agent advertises the required capability")

// Publisher is the narrow surface Dispatcher needs from the queue gateway;
// satisfied by *queue.Gateway, and fakeable in tests without a broker.
type Publisher interface {
	Publish(ctx context.Context, queueName queue.Name, env *envelope.Envelope) error
}

// Dispatcher selects a worker for a task, publishes it to the tasks queue,
// and correlates results back to the registry's load counters.
type Dispatcher struct {
	registry *Registry
	gw       Publisher
	limiter  *resilience.HybridRateLimiter

	mu      sync.Mutex
	tasks   map[uuid.UUID]*TaskRecord
	waiters map[uuid.UUID]chan *envelope.AgentResultPayload
}

func NewDispatcher(registry *Registry, gw Publisher) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		gw:       gw,
		limiter:  resilience.NewHybridRateLimiter(dispatchBurstCapacity, dispatchRefillRate, dispatchQueueSize, dispatchLeakRate),
		tasks:    make(map[uuid.UUID]*TaskRecord),
		waiters:  make(map[uuid.UUID]chan *envelope.AgentResultPayload),
	}
}

// Close stops the dispatcher's rate limiter background goroutines. Callers
// should invoke this once during shutdown, after the consumer loop feeding
// Dispatch has been drained.
func (d *Dispatcher) Close() {
	d.limiter.Stop()
}

// Dispatch performs selection, increments the chosen agent's load, inserts
// an active-task record, and publishes the task envelope with target_agent
// set in the envelope's metadata; no broker-level routing header is set.
// On publish failure the increment is rolled back and the record is marked
// failed.
func (d *Dispatcher) Dispatch(ctx context.Context, capability string, task envelope.AgentTaskPayload, maxRetries int) (uuid.UUID, error) {
	agentID, ok := d.registry.SelectAndIncrement(capability)
	if !ok {
		return uuid.Nil, ErrNoCapableAgent
	}

	task.TargetAgentID = agentID
	env, err := envelope.New(envelope.TypeAgentTask, task, maxRetries)
	if err != nil {
		d.registry.Rollback(agentID)
		return uuid.Nil, err
	}
	if env.Metadata == nil {
		env.Metadata = map[string]any{}
	}
	env.Metadata["target_agent"] = agentID

	record := &TaskRecord{
		TaskID:    env.MessageID,
		AgentID:   agentID,
		Status:    TaskAssigned,
		StartedAt: time.Now().UTC(),
		Envelope:  env,
	}
	d.mu.Lock()
	d.tasks[env.MessageID] = record
	d.mu.Unlock()

	if err := d.limiter.AllowOrWait(ctx); err != nil {
		d.registry.Rollback(agentID)
		d.mu.Lock()
		record.Status = TaskFailed
		d.mu.Unlock()
		return uuid.Nil, err
	}

	if err := d.gw.Publish(ctx, queue.Tasks, env); err != nil {
		d.registry.Rollback(agentID)
		d.mu.Lock()
		record.Status = TaskFailed
		d.mu.Unlock()
		return uuid.Nil, err
	}
	return env.MessageID, nil
}

// AwaitResult blocks until a result for taskID is correlated or ctx is
// canceled. Used by the orchestrator's synchronous path for steps handed
// off to an agent.
func (d *Dispatcher) AwaitResult(ctx context.Context, taskID uuid.UUID) (*envelope.AgentResultPayload, error) {
	ch := make(chan *envelope.AgentResultPayload, 1)
	d.mu.Lock()
	d.waiters[taskID] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.waiters, taskID)
		d.mu.Unlock()
	}()

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CorrelateResult looks up task_id, decrements the agent's load (floor 0),
// records status, and notifies any waiter. A second result for the
// same task_id is a no-op past the first: exactly one load decrement
// happens per task.
func (d *Dispatcher) CorrelateResult(result envelope.AgentResultPayload) (known bool) {
	taskID, err := uuid.Parse(result.TaskID)
	if err != nil {
		return false
	}

	d.mu.Lock()
	record, ok := d.tasks[taskID]
	if !ok || record.Status != TaskAssigned {
		d.mu.Unlock()
		return false
	}
	if result.Error != nil {
		record.Status = TaskFailed
	} else {
		record.Status = TaskCompleted
	}
	waiter := d.waiters[taskID]
	if record.Status == TaskCompleted {
		delete(d.tasks, taskID)
	}
	d.mu.Unlock()

	d.registry.Decrement(record.AgentID)
	if waiter != nil {
		select {
		case waiter <- &result:
		default:
		}
	}
	return true
}

// DeregisterAgent removes agentID from the registry and marks its still-
// assigned task records failed. Returns whatever Registry.Deregister
// reports, for idempotence.
func (d *Dispatcher) DeregisterAgent(agentID string) bool {
	removed := d.registry.Deregister(agentID)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, record := range d.tasks {
		if record.AgentID == agentID && record.Status == TaskAssigned {
			record.Status = TaskFailed
		}
	}
	return removed
}

// SweepFailed removes failed task records older than maxAge: they are
// retained for diagnostics until this bounded sweep runs.
func (d *Dispatcher) SweepFailed(maxAge time.Duration) {
	cutoff := time.Now().UTC().Add(-maxAge)
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, record := range d.tasks {
		if record.Status == TaskFailed && record.StartedAt.Before(cutoff) {
			delete(d.tasks, id)
		}
	}
}
