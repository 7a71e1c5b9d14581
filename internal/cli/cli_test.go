package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
)

// newTestRoot creates a fresh cobra root command wired to all subcommands,
// mirroring each test's need for an isolated command tree.
func newTestRoot() *cobra.Command {
	root := &cobra.Command{Use: "reciperecon", SilenceUsage: true}
	root.PersistentFlags().Bool("json-log", false, "")
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewSubmitCmd())
	root.AddCommand(NewTopologyCmd())
	return root
}

func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

func TestSubmitRequiresQueryFlag(t *testing.T) {
	root := newTestRoot()
	_, _, err := executeCommand(root, "submit")
	if err == nil {
		t.Fatalf("expected an error when --query is omitted")
	}
}

func TestServeFlagDefaults(t *testing.T) {
	cmd := NewServeCmd()
	grace, err := cmd.Flags().GetDuration("shutdown-grace")
	if err != nil {
		t.Fatalf("shutdown-grace: %v", err)
	}
	if grace.Seconds() != 30 {
		t.Fatalf("expected default shutdown-grace of 30s, got %v", grace)
	}
	concurrency, _ := cmd.Flags().GetInt("scrape-concurrency")
	if concurrency != 8 {
		t.Fatalf("expected default scrape-concurrency of 8, got %d", concurrency)
	}
}

func TestSubmitFlagDefaults(t *testing.T) {
	cmd := NewSubmitCmd()
	n, err := cmd.Flags().GetInt("number-of-urls")
	if err != nil {
		t.Fatalf("number-of-urls: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected default number-of-urls of 10, got %d", n)
	}
}
