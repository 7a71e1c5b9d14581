package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pantryworks/reciperecon/internal/collaborators"
	coreerrors "github.com/pantryworks/reciperecon/internal/core/errors"
	"github.com/pantryworks/reciperecon/internal/core/resilience"
	"github.com/pantryworks/reciperecon/internal/envelope"
	"github.com/pantryworks/reciperecon/internal/metrics"
)

// breakerWindow/breakerBuckets/breakerMinSamples/breakerFailureRateOpen/
// breakerHalfOpenAfter/breakerHalfOpenProbes size the adaptive circuit
// breaker guarding each external collaborator call path: a 30s
// sliding window in 6 buckets, tripping open once at least 4 samples have
// been seen and half have failed, with two half-open probes every 5s.
const (
	breakerWindow          = 30 * time.Second
	breakerBuckets         = 6
	breakerMinSamples      = 4
	breakerFailureRateOpen = 0.5
	breakerHalfOpenAfter   = 5 * time.Second
	breakerHalfOpenProbes  = 2
)

func newCollaboratorBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreakerAdaptive(breakerWindow, breakerBuckets, breakerMinSamples, breakerFailureRateOpen, breakerHalfOpenAfter, breakerHalfOpenProbes)
}

// breakerGuardedScrape wraps a ScrapeStep with a circuit breaker so the
// bounded fan-out in fanOutScrape (which calls Scrape from many goroutines)
// shares one breaker across the whole step rather than tripping per-call.
type breakerGuardedScrape struct {
	inner   collaborators.ScrapeStep
	breaker *resilience.CircuitBreaker
}

func (b breakerGuardedScrape) Scrape(ctx context.Context, url string) (*collaborators.ScrapedRecipe, []collaborators.ScrapeMetric, error) {
	if !b.breaker.Allow() {
		return nil, nil, coreerrors.NewTransientError("scrape", errors.New("scrape circuit open"))
	}
	recipe, metrics, err := b.inner.Scrape(ctx, url)
	b.breaker.RecordResult(err == nil)
	return recipe, metrics, err
}

// taskRetryDelays is the soft retry budget the orchestrator applies to the
// search call and to each sink call; scrape calls are not retried. It is a
// fixed delay list, not resilience.Retry's exponential backoff.
var taskRetryDelays = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}

// retryUnlessFatal runs fn on the fixed task-retry budget via
// resilience.RetrySchedule, but aborts on the first attempt that returns a
// FatalError, since those (e.g. "auth missing") are never transient.
// RetrySchedule itself has no concept of a terminal error, so a FatalError
// is smuggled out as a sentinel: the wrapped fn reports it as a success to
// stop the schedule from sleeping and retrying, and the captured error is
// restored to the caller afterward.
func retryUnlessFatal[T any](ctx context.Context, fn func(attempt int) (T, error)) (T, error) {
	var fatalErr error
	result, err := resilience.RetrySchedule(ctx, taskRetryDelays, func(attempt int) (T, error) {
		v, err := fn(attempt)
		if err == nil {
			return v, nil
		}
		var fatal *coreerrors.FatalError
		if errors.As(err, &fatal) {
			fatalErr = err
			return v, nil
		}
		return v, err
	})
	if fatalErr != nil {
		return result, fatalErr
	}
	return result, err
}

// Collaborators bundles the external seams the orchestrator drives for one
// run. Holding them as an interface bundle (rather than three separate
// constructor params threaded everywhere) matches the shape most call sites
// need.
type Collaborators struct {
	Search collaborators.WebSearch
	Scrape collaborators.ScrapeStep
	Sink   collaborators.RecipeSink
}

// Orchestrator owns the live workflow-instance map exclusively. Multiple
// instances progress independently; no ordering is guaranteed between
// them.
type Orchestrator struct {
	collab            Collaborators
	publisher         metrics.Publisher
	scrapeConcurrency int
	logger            *slog.Logger

	searchBreaker *resilience.CircuitBreaker
	scrapeBreaker *resilience.CircuitBreaker
	sinkBreaker   *resilience.CircuitBreaker

	mu        sync.Mutex
	instances map[uuid.UUID]*Instance
}

func NewOrchestrator(collab Collaborators, publisher metrics.Publisher, scrapeConcurrency int, logger *slog.Logger) *Orchestrator {
	if scrapeConcurrency <= 0 {
		scrapeConcurrency = defaultScrapeConcurrencyCap
	}
	return &Orchestrator{
		collab:            collab,
		publisher:         publisher,
		scrapeConcurrency: scrapeConcurrency,
		logger:            logger,
		searchBreaker:     newCollaboratorBreaker(),
		scrapeBreaker:     newCollaboratorBreaker(),
		sinkBreaker:       newCollaboratorBreaker(),
		instances:         make(map[uuid.UUID]*Instance),
	}
}

// Submit validates and registers a new workflow instance, then runs it to
// completion synchronously in the caller's goroutine. Callers that want
// concurrent instances invoke Submit from their own goroutine per workflow;
// the orchestrator's shared state (the instance map) is safe for concurrent
// Submit calls.
func (o *Orchestrator) Submit(ctx context.Context, initiate envelope.WorkflowInitiatePayload) (Snapshot, error) {
	payload, err := envelope.ValidateWorkflowInitiate(initiate)
	if err != nil {
		return Snapshot{}, err
	}

	inst := newInstance(payload)
	o.register(inst)
	defer o.deregister(inst)

	o.emitStatus(ctx, inst, "workflow started")
	o.run(ctx, inst)

	snap := inst.Snapshot()
	if snap.Status == StatusCompleted {
		o.publisher.Emit(ctx, "workflow.completed", durationPtr(time.Since(inst.startTimestamp)), map[string]any{
			"workflow_id": inst.WorkflowID.String(),
		})
	} else {
		meta := map[string]any{"workflow_id": inst.WorkflowID.String()}
		if snap.ErrorDetails != nil {
			meta["error"] = snap.ErrorDetails.Message
		}
		o.publisher.Emit(ctx, "workflow.failed", durationPtr(time.Since(inst.startTimestamp)), meta)
	}
	return snap, nil
}

func (o *Orchestrator) register(inst *Instance) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.instances[inst.WorkflowID] = inst
}

// deregister removes the instance from the live map after at most one
// terminal metric publish attempt.
func (o *Orchestrator) deregister(inst *Instance) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.instances, inst.WorkflowID)
}

// Lookup returns a point-in-time snapshot of a still-live instance.
func (o *Orchestrator) Lookup(id uuid.UUID) (Snapshot, bool) {
	o.mu.Lock()
	inst, ok := o.instances[id]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return inst.Snapshot(), true
}

func (o *Orchestrator) emitStatus(ctx context.Context, inst *Instance, note string) {
	snap := inst.Snapshot()
	o.publisher.Emit(ctx, string(inst.WorkflowType)+".status", nil, map[string]any{
		"workflow_id":  inst.WorkflowID.String(),
		"status":       string(snap.Status),
		"current_step": snap.CurrentStep,
		"note":         note,
	})
}

// run drives the three-step pipeline. No step k+1 begins before step k has
// reached a terminal (step-level) state.
func (o *Orchestrator) run(ctx context.Context, inst *Instance) {
	urls, err := o.runSearch(ctx, inst)
	if err != nil {
		o.failStep(ctx, inst, "search", err)
		return
	}

	scraped, err := o.runScrape(ctx, inst, urls)
	if err != nil {
		o.failStep(ctx, inst, "scrape", err)
		return
	}

	if err := o.runSave(ctx, inst, scraped); err != nil {
		o.failStep(ctx, inst, "save", err)
		return
	}

	inst.transition(StatusCompleted, "save")
	o.emitStatus(ctx, inst, "workflow completed")
}

func (o *Orchestrator) failStep(ctx context.Context, inst *Instance, step string, err error) {
	var fatal *coreerrors.FatalError
	code := "step_error"
	if errors.As(err, &fatal) {
		code = "fatal_error"
	}
	inst.fail(&envelope.ErrorDetail{
		Code:      code,
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	})
	o.emitStatus(ctx, inst, step+" failed")
	o.logger.Error("workflow step failed", "workflow_id", inst.WorkflowID, "step", step, "error", err)
}

// runSearch is step 1: resolve candidate URLs via the external
// WebSearch. Fewer than one URL is not an error; the workflow still
// completes, possibly with zero scrapes.
func (o *Orchestrator) runSearch(ctx context.Context, inst *Instance) ([]string, error) {
	inst.transition(StatusSearchInProgress, "search")
	o.emitStatus(ctx, inst, "search started")

	start := time.Now()
	type searchOutcome struct {
		urls    []string
		metrics []collaborators.SearchMetric
	}
	outcome, err := retryUnlessFatal(ctx, func(int) (searchOutcome, error) {
		if !o.searchBreaker.Allow() {
			return searchOutcome{}, coreerrors.NewTransientError("search", errors.New("search circuit open"))
		}
		urls, m, err := o.collab.Search.Search(ctx, inst.Payload.SearchQuery, inst.Payload.ExcludedDomains, inst.Payload.NumberOfURLs)
		o.searchBreaker.RecordResult(err == nil)
		return searchOutcome{urls: urls, metrics: m}, err
	})
	urls, searchMetrics := outcome.urls, outcome.metrics
	for _, m := range searchMetrics {
		o.publisher.Emit(ctx, m.EventType, durationPtr(m.Duration), map[string]any{"workflow_id": inst.WorkflowID.String()})
	}
	if err != nil {
		return nil, coreerrors.NewStepError("search", err)
	}

	inst.setContext("recipe_search_results", urls)
	o.publisher.Emit(ctx, "recipe.search_completed", durationPtr(time.Since(start)), map[string]any{
		"workflow_id": inst.WorkflowID.String(),
		"url_count":   len(urls),
	})
	inst.transition(StatusSearchCompleted, "search")
	o.emitStatus(ctx, inst, "search completed")
	return urls, nil
}

// runScrape is step 2: bounded-concurrency fan-out, one entry per
// URL, input order preserved.
func (o *Orchestrator) runScrape(ctx context.Context, inst *Instance, urls []string) ([]scrapeResult, error) {
	inst.transition(StatusScrapeInProgress, "scrape")
	o.emitStatus(ctx, inst, "scrape started")
	o.publisher.Emit(ctx, "recipe.scraping_started", nil, map[string]any{
		"workflow_id": inst.WorkflowID.String(),
	})

	guarded := breakerGuardedScrape{inner: o.collab.Scrape, breaker: o.scrapeBreaker}
	results := fanOutScrape(ctx, urls, guarded, o.scrapeConcurrency)
	for _, r := range results {
		for _, m := range r.metrics {
			o.publisher.Emit(ctx, m.EventType, durationPtr(m.Duration), map[string]any{
				"workflow_id": inst.WorkflowID.String(),
				"url":         m.URL,
			})
		}
	}

	inst.setContext("scraped_recipes", results)
	o.publisher.Emit(ctx, "recipe.scraping_completed", nil, map[string]any{
		"workflow_id":     inst.WorkflowID.String(),
		"scraped_recipes": len(results),
	})
	inst.transition(StatusScrapeCompleted, "scrape")
	o.emitStatus(ctx, inst, "scrape completed")
	return results, nil
}

// runSave is step 3: persist each non-null recipe via RecipeSink,
// continuing past per-recipe failures; a fatal sink error aborts the step.
func (o *Orchestrator) runSave(ctx context.Context, inst *Instance, results []scrapeResult) error {
	inst.transition(StatusSaveInProgress, "save")
	o.emitStatus(ctx, inst, "save started")

	for _, r := range results {
		if r.recipe == nil {
			continue
		}
		sinkPayload := toSinkPayload(*r.recipe, inst.Payload.SearchQuery)
		recipeID, err := retryUnlessFatal(ctx, func(int) (string, error) {
			if !o.sinkBreaker.Allow() {
				return "", coreerrors.NewTransientError("save", errors.New("sink circuit open"))
			}
			id, err := o.collab.Sink.Create(ctx, sinkPayload)
			o.sinkBreaker.RecordResult(err == nil)
			return id, err
		})
		if err != nil {
			var fatal *coreerrors.FatalError
			if errors.As(err, &fatal) {
				return coreerrors.NewStepError("save", err)
			}
			o.publisher.Emit(ctx, "recipe.save_failed", nil, map[string]any{
				"workflow_id": inst.WorkflowID.String(),
				"source_url":  r.recipe.SourceURL,
				"error":       err.Error(),
			})
			continue
		}
		o.publisher.Emit(ctx, "recipe.saved", nil, map[string]any{
			"recipe_id":   recipeID,
			"workflow_id": inst.WorkflowID.String(),
			"url":         r.recipe.SourceURL,
		})
	}

	inst.transition(StatusSaveCompleted, "save")
	o.emitStatus(ctx, inst, "save completed")
	return nil
}

func toSinkPayload(r collaborators.ScrapedRecipe, query string) envelope.RecipeSinkPayload {
	return envelope.RecipeSinkPayload{
		Title:             r.Title,
		Instructions:      r.Instructions,
		PrepTime:          r.PrepTime,
		CookTime:          r.CookTime,
		TotalTime:         r.TotalTime,
		Servings:          r.Servings,
		SourceURL:         r.SourceURL,
		Notes:             r.Notes,
		RecipeIngredients: collaborators.ValidateIngredients(r.RecipeIngredients),
		CreatedFromQuery:  query,
	}
}
