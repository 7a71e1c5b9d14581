package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pantryworks/reciperecon/internal/envelope"
	"github.com/pantryworks/reciperecon/internal/queue"
)

// NewSubmitCmd publishes a single workflow.initiate envelope onto the
// commands queue and exits; it does not wait for the workflow to complete,
// since completion is observed via the audit log or metrics stream.
func NewSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Publish a recipe search workflow onto the commands queue",
		RunE:  runSubmit,
	}

	cmd.Flags().String("query", "", "Search query (required)")
	cmd.Flags().StringArray("exclude-domain", nil, "Domain to exclude from search results (repeatable)")
	cmd.Flags().Int("number-of-urls", 10, "Number of candidate URLs to request (1..50)")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	logger := initLogging(cmd, "reciperecon-submit")
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	gw, err := connectGateway(ctx, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	query, _ := cmd.Flags().GetString("query")
	excluded, _ := cmd.Flags().GetStringArray("exclude-domain")
	n, _ := cmd.Flags().GetInt("number-of-urls")

	initiate := envelope.WorkflowInitiatePayload{
		WorkflowType: envelope.RecipeWorkflowFull,
		WorkflowPayload: map[string]any{
			"search_query":     query,
			"excluded_domains": excluded,
			"number_of_urls":   n,
		},
	}
	env, err := envelope.New(envelope.TypeWorkflowInitiate, initiate, 0)
	if err != nil {
		return err
	}
	if err := gw.Publish(ctx, queue.Commands, env); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "submitted workflow %s\n", env.MessageID)
	return nil
}
