package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pantryworks/reciperecon/internal/envelope"
	"github.com/pantryworks/reciperecon/internal/queue"
)

type fakePublisher struct {
	mu   sync.Mutex
	fail bool
	sent []*envelope.Envelope
}

func (f *fakePublisher) Publish(ctx context.Context, queueName queue.Name, env *envelope.Envelope) error {
	if f.fail {
		return errors.New("publish failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func taskPayload(query string) envelope.AgentTaskPayload {
	return envelope.AgentTaskPayload{
		WorkflowInitiatePayload: envelope.WorkflowInitiatePayload{
			WorkflowType: envelope.RecipeWorkflowFull,
			WorkflowPayload: map[string]any{
				"search_query": query,
			},
		},
	}
}

func TestDispatchIncrementsLoadAndPublishes(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"scrape"})
	pub := &fakePublisher{}
	d := NewDispatcher(r, pub)

	taskID, err := d.Dispatch(context.Background(), "scrape", taskPayload("chili"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taskID.String() == "" {
		t.Fatalf("expected a task id")
	}
	if got := r.ActiveTaskCount("agent-1"); got != 1 {
		t.Fatalf("expected load 1, got %d", got)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.sent))
	}
}

func TestDispatchRollsBackLoadOnPublishFailure(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"scrape"})
	pub := &fakePublisher{fail: true}
	d := NewDispatcher(r, pub)

	_, err := d.Dispatch(context.Background(), "scrape", taskPayload("chili"), 3)
	if err == nil {
		t.Fatalf("expected publish error to propagate")
	}
	if got := r.ActiveTaskCount("agent-1"); got != 0 {
		t.Fatalf("expected load rolled back to 0, got %d", got)
	}
}

func TestDispatchNoCapableAgent(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, &fakePublisher{})
	_, err := d.Dispatch(context.Background(), "scrape", taskPayload("chili"), 3)
	if !errors.Is(err, ErrNoCapableAgent) {
		t.Fatalf("expected ErrNoCapableAgent, got %v", err)
	}
}

func TestCorrelateResultDecrementsLoadOnce(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"scrape"})
	pub := &fakePublisher{}
	d := NewDispatcher(r, pub)

	taskID, err := d.Dispatch(context.Background(), "scrape", taskPayload("chili"), 3)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	result := envelope.AgentResultPayload{TaskID: taskID.String(), Output: map[string]any{}}
	if ok := d.CorrelateResult(result); !ok {
		t.Fatalf("expected first correlation to be known")
	}
	if got := r.ActiveTaskCount("agent-1"); got != 0 {
		t.Fatalf("expected load decremented to 0, got %d", got)
	}

	// a duplicate result for the same task_id must not decrement again
	if ok := d.CorrelateResult(result); ok {
		t.Fatalf("expected duplicate correlation to report unknown")
	}
	if got := r.ActiveTaskCount("agent-1"); got != 0 {
		t.Fatalf("expected load to remain 0 after duplicate result, got %d", got)
	}
}

func TestCorrelateResultUnknownTaskIDIsNoop(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, &fakePublisher{})
	ok := d.CorrelateResult(envelope.AgentResultPayload{TaskID: "00000000-0000-0000-0000-000000000000"})
	if ok {
		t.Fatalf("expected unknown task_id to report unknown")
	}
}

func TestAwaitResultUnblocksOnCorrelation(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"scrape"})
	pub := &fakePublisher{}
	d := NewDispatcher(r, pub)

	taskID, err := d.Dispatch(context.Background(), "scrape", taskPayload("chili"), 3)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	done := make(chan *envelope.AgentResultPayload, 1)
	go func() {
		result, err := d.AwaitResult(context.Background(), taskID)
		if err != nil {
			t.Errorf("unexpected await error: %v", err)
			return
		}
		done <- result
	}()

	time.Sleep(10 * time.Millisecond)
	d.CorrelateResult(envelope.AgentResultPayload{TaskID: taskID.String(), Output: map[string]any{"ok": true}})

	select {
	case result := <-done:
		if result.TaskID != taskID.String() {
			t.Fatalf("expected matching task id")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for awaited result")
	}
}

func TestDeregisterAgentMarksPendingTasksFailed(t *testing.T) {
	r := NewRegistry()
	r.Register("agent-1", []string{"scrape"})
	pub := &fakePublisher{}
	d := NewDispatcher(r, pub)

	taskID, err := d.Dispatch(context.Background(), "scrape", taskPayload("chili"), 3)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if !d.DeregisterAgent("agent-1") {
		t.Fatalf("expected deregister to report true on first call")
	}
	if d.DeregisterAgent("agent-1") {
		t.Fatalf("expected deregister to report false on second call")
	}

	d.mu.Lock()
	record := d.tasks[taskID]
	d.mu.Unlock()
	if record.Status != TaskFailed {
		t.Fatalf("expected pending task to be marked failed, got %s", record.Status)
	}
}
