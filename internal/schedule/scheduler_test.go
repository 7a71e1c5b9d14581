package schedule

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pantryworks/reciperecon/internal/envelope"
)

type countingSubmitter struct {
	mu    sync.Mutex
	count int
}

func (c *countingSubmitter) Submit(ctx context.Context, initiate envelope.WorkflowInitiatePayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func (c *countingSubmitter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestSchedulerFiresTriggerOnCronMatch(t *testing.T) {
	sub := &countingSubmitter{}
	s := New(sub, slog.Default())

	if err := s.AddTrigger(Trigger{
		Name:     "every-second",
		CronExpr: "* * * * * *",
		Payload: envelope.WorkflowInitiatePayload{
			WorkflowType: envelope.RecipeWorkflowFull,
			WorkflowPayload: map[string]any{
				"search_query": "vegan chili",
			},
		},
	}); err != nil {
		t.Fatalf("add trigger: %v", err)
	}

	s.Start()
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sub.calls() > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected at least one scheduled submission, got %d", sub.calls())
}

func TestRemoveTriggerStopsFutureFires(t *testing.T) {
	sub := &countingSubmitter{}
	s := New(sub, slog.Default())
	_ = s.AddTrigger(Trigger{Name: "t", CronExpr: "* * * * * *", Payload: envelope.WorkflowInitiatePayload{}})
	s.RemoveTrigger("t")
	s.Start()
	defer s.Stop(context.Background())

	time.Sleep(200 * time.Millisecond)
	if sub.calls() != 0 {
		t.Fatalf("expected no submissions after removal, got %d", sub.calls())
	}
}
