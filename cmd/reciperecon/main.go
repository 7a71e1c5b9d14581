// Command reciperecon runs the recipe search/scrape/save workflow platform:
// the orchestrator daemon, a one-shot workflow submitter, and a topology
// bootstrap helper, all as subcommands of a single binary.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pantryworks/reciperecon/internal/cli"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "reciperecon",
	Short:        "Recipe search/scrape/save workflow orchestrator",
	Long:         "reciperecon runs the recipe discovery pipeline: workflow orchestration, agent dispatch, and the supporting broker topology.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("json-log", false, "Emit structured JSON logs instead of text")
	rootCmd.Version = version

	rootCmd.AddCommand(cli.NewServeCmd())
	rootCmd.AddCommand(cli.NewSubmitCmd())
	rootCmd.AddCommand(cli.NewTopologyCmd())
}
