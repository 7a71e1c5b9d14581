// Package cli assembles the reciperecon subcommands: serve (the long-running
// orchestrator daemon), submit (one-shot workflow submission), and topology
// (broker bootstrap). Each NewXCmd mirrors the flag-driven cobra.Command
// shape used across the rest of this codebase's subcommands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pantryworks/reciperecon/internal/core/logging"
	"github.com/pantryworks/reciperecon/internal/queue"
)

const defaultBrokerConnectTimeout = 30 * time.Second

// initLogging applies --json-log before logging.Init reads its environment
// switch, then returns the configured logger.
func initLogging(cmd *cobra.Command, service string) *slog.Logger {
	if jsonLog, _ := cmd.Flags().GetBool("json-log"); jsonLog {
		_ = os.Setenv("RECIPERECON_JSON_LOG", "1")
	}
	return logging.Init(service)
}

// connectGateway dials the broker with retry and declares the topology.
// Any failure is returned wrapped; the command then returns it and main
// exits the process with code 1.
func connectGateway(ctx context.Context, logger *slog.Logger) (*queue.Gateway, error) {
	cfg := queue.ConfigFromEnv()
	gw, err := queue.ConnectWithRetry(ctx, cfg, logger, defaultBrokerConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	if err := gw.DeclareTopology(); err != nil {
		gw.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}
	return gw, nil
}
