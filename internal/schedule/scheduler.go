// Package schedule adds recurring workflow submission on a cron schedule.
// Recurring ingestion is not core to the workflow pipeline itself, but an
// operator-facing recipe pipeline benefits from
// "search for new vegan chili recipes every morning" without a human
// publishing the workflow.initiate envelope by hand.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pantryworks/reciperecon/internal/envelope"
)

// Submitter is the narrow surface Scheduler needs. The orchestrator's
// Submit returns a snapshot the scheduler has no use for, so callers adapt
// it to this single-error-return shape at the wiring site.
type Submitter interface {
	Submit(ctx context.Context, initiate envelope.WorkflowInitiatePayload) error
}

// Trigger is one recurring workflow submission.
type Trigger struct {
	Name     string
	CronExpr string
	Payload  envelope.WorkflowInitiatePayload
}

// Scheduler wraps robfig/cron to fire recurring workflow.initiate
// submissions on a seconds-precision cron expression.
type Scheduler struct {
	cron   *cron.Cron
	submit Submitter
	logger *slog.Logger

	mu       sync.Mutex
	triggers map[string]cron.EntryID
}

func New(submit Submitter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		submit:   submit,
		logger:   logger,
		triggers: make(map[string]cron.EntryID),
	}
}

// AddTrigger registers a recurring submission; re-adding the same name
// replaces the previous schedule.
func (s *Scheduler) AddTrigger(t Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.triggers[t.Name]; ok {
		s.cron.Remove(existing)
	}

	id, err := s.cron.AddFunc(t.CronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.submit.Submit(ctx, t.Payload); err != nil {
			s.logger.Error("scheduled workflow submission failed", "trigger", t.Name, "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.triggers[t.Name] = id
	return nil
}

func (s *Scheduler) RemoveTrigger(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.triggers[name]; ok {
		s.cron.Remove(id)
		delete(s.triggers, name)
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop blocks until all in-flight jobs finish or ctx is canceled.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
