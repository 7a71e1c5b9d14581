package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pantryworks/reciperecon/internal/agent"
	"github.com/pantryworks/reciperecon/internal/audit"
	"github.com/pantryworks/reciperecon/internal/collaborators"
	coreerrors "github.com/pantryworks/reciperecon/internal/core/errors"
	"github.com/pantryworks/reciperecon/internal/core/otelinit"
	"github.com/pantryworks/reciperecon/internal/envelope"
	"github.com/pantryworks/reciperecon/internal/metrics"
	"github.com/pantryworks/reciperecon/internal/queue"
	"github.com/pantryworks/reciperecon/internal/schedule"
	"github.com/pantryworks/reciperecon/internal/workflow"
)

// logSupervisor is the default Supervisor: recovery is an external
// collaborator, so absent a real one this just logs the loss for an
// operator to act on.
type logSupervisor struct{ logger *slog.Logger }

func (s logSupervisor) Restart(_ context.Context, agentID string) error {
	s.logger.Warn("agent failed and has no recovery collaborator configured", "agent_id", agentID)
	return nil
}

// submitAdapter lets the orchestrator satisfy schedule.Submitter, whose
// narrow interface has no use for the richer Snapshot return.
type submitAdapter struct{ orch *workflow.Orchestrator }

func (a submitAdapter) Submit(ctx context.Context, initiate envelope.WorkflowInitiatePayload) error {
	_, err := a.orch.Submit(ctx, initiate)
	return err
}

// NewServeCmd builds the long-running daemon: it consumes workflow.initiate
// envelopes off the commands queue, runs them through the orchestrator, and
// consumes agent.result envelopes to correlate dispatcher load.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon",
		RunE:  runServe,
	}

	cmd.Flags().Int("scrape-concurrency", 8, "Max concurrent scrape calls per workflow instance")
	cmd.Flags().Duration("shutdown-grace", 30*time.Second, "Time allowed for in-flight work to drain on shutdown")
	cmd.Flags().String("audit-db", "reciperecon-audit.db", "Path to the hash-chained outcome audit log (bbolt file)")
	cmd.Flags().String("search-base-url", os.Getenv("SEARCH_SERVICE_URL"), "Base URL of the WebSearch collaborator")
	cmd.Flags().String("scrape-base-url", os.Getenv("SCRAPE_SERVICE_URL"), "Base URL of the ScrapeStep collaborator")
	cmd.Flags().String("sink-base-url", os.Getenv("RECIPE_SINK_URL"), "Base URL of the RecipeSink collaborator")
	cmd.Flags().String("sink-token", os.Getenv("RECIPE_SINK_TOKEN"), "Bearer token for the RecipeSink collaborator")
	cmd.Flags().String("cron-query", "", "If set, runs a recurring search with this query on --cron-expr")
	cmd.Flags().String("cron-expr", "0 0 8 * * *", "Seconds-precision cron expression for --cron-query (default: daily at 08:00)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := initLogging(cmd, "reciperecon-orchestrator")
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, "reciperecon-orchestrator")
	shutdownMetrics := otelinit.InitMetrics(ctx, "reciperecon-orchestrator")
	defer func() {
		flushCtx, c := context.WithTimeout(context.Background(), 3*time.Second)
		defer c()
		otelinit.Flush(flushCtx, shutdownTrace)
		_ = shutdownMetrics(flushCtx)
	}()

	gw, err := connectGateway(ctx, logger)
	if err != nil {
		logger.Error("broker bootstrap failed", "error", err)
		return err
	}
	defer gw.Close()

	auditPath, _ := cmd.Flags().GetString("audit-db")
	store, err := audit.Open(filepath.Clean(auditPath))
	if err != nil {
		logger.Error("audit store open failed", "error", err)
		return err
	}
	defer store.Close()

	publisher := metrics.NewGatewayPublisher(gw, logger)

	searchURL, _ := cmd.Flags().GetString("search-base-url")
	scrapeURL, _ := cmd.Flags().GetString("scrape-base-url")
	sinkURL, _ := cmd.Flags().GetString("sink-base-url")
	sinkToken, _ := cmd.Flags().GetString("sink-token")
	scrapeConcurrency, _ := cmd.Flags().GetInt("scrape-concurrency")

	collab := workflow.Collaborators{
		Search: collaborators.NewHTTPWebSearch(searchURL),
		Scrape: collaborators.NewHTTPScrapeStep(scrapeURL),
		Sink:   collaborators.NewHTTPRecipeSink(sinkURL, collaborators.NewStaticCredentials(sinkToken)),
	}
	orch := workflow.NewOrchestrator(collab, publisher, scrapeConcurrency, logger)

	registry := agent.NewRegistry()
	dispatcher := agent.NewDispatcher(registry, gw)
	defer dispatcher.Close()
	healthLoop := agent.NewHealthLoop(registry, dispatcher, logSupervisor{logger: logger}, logger)
	go healthLoop.Run(ctx)

	sched := schedule.New(submitAdapter{orch: orch}, logger)
	if cronQuery, _ := cmd.Flags().GetString("cron-query"); cronQuery != "" {
		cronExpr, _ := cmd.Flags().GetString("cron-expr")
		if err := sched.AddTrigger(schedule.Trigger{
			Name:     "cron-query",
			CronExpr: cronExpr,
			Payload: envelope.WorkflowInitiatePayload{
				WorkflowType:    envelope.RecipeWorkflowFull,
				WorkflowPayload: map[string]any{"search_query": cronQuery},
			},
		}); err != nil {
			logger.Error("failed to register cron trigger", "error", err)
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = sched.Stop(stopCtx)
		}()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); consumeCommands(ctx, gw, orch, store, logger) }()
	go func() { defer wg.Done(); consumeResults(ctx, gw, dispatcher, logger) }()

	logger.Info("reciperecon orchestrator started")
	<-ctx.Done()
	logger.Info("shutdown initiated")

	grace, _ := cmd.Flags().GetDuration("shutdown-grace")
	drained := make(chan struct{})
	go func() { wg.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(grace):
		logger.Warn("shutdown grace period elapsed with consumers still draining")
	}
	logger.Info("shutdown complete")
	return nil
}

// consumeCommands drives workflow.initiate envelopes from the commands
// queue through the orchestrator and records the terminal outcome to the
// audit log.
func consumeCommands(ctx context.Context, gw *queue.Gateway, orch *workflow.Orchestrator, store *audit.Store, logger *slog.Logger) {
	err := gw.Consume(ctx, queue.Commands, func(msgCtx context.Context, env *envelope.Envelope, ack func(), nackRequeue func(), nackDLQ func(string)) {
		if err := envelope.ValidateEnvelope(env); err != nil {
			nackDLQ(err.Error())
			return
		}
		var initiate envelope.WorkflowInitiatePayload
		if err := json.Unmarshal(env.Payload, &initiate); err != nil {
			nackDLQ("malformed workflow.initiate payload: " + err.Error())
			return
		}

		snap, err := orch.Submit(msgCtx, initiate)
		if err != nil {
			var validationErr *coreerrors.ValidationError
			if errors.As(err, &validationErr) {
				nackDLQ(err.Error())
				return
			}
			nackRequeue()
			return
		}

		errMsg := ""
		if snap.ErrorDetails != nil {
			errMsg = snap.ErrorDetails.Message
		}
		if _, err := store.RecordOutcome(snap.WorkflowID.String(), string(snap.WorkflowType), string(snap.Status), errMsg); err != nil {
			logger.Error("failed to record workflow outcome", "workflow_id", snap.WorkflowID, "error", err)
		}
		ack()
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("commands consumer exited", "error", err)
	}
}

// consumeResults drives agent.result envelopes into the dispatcher's result
// correlation path.
func consumeResults(ctx context.Context, gw *queue.Gateway, dispatcher *agent.Dispatcher, logger *slog.Logger) {
	err := gw.Consume(ctx, queue.Results, func(_ context.Context, env *envelope.Envelope, ack func(), nackRequeue func(), nackDLQ func(string)) {
		var result envelope.AgentResultPayload
		if err := json.Unmarshal(env.Payload, &result); err != nil {
			nackDLQ("malformed agent.result payload: " + err.Error())
			return
		}
		dispatcher.CorrelateResult(result)
		ack()
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("results consumer exited", "error", err)
	}
}
