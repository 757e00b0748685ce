package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signetai/signet/cmd/signet/commands"
	"github.com/signetai/signet/logger"
)

var rootCmd = &cobra.Command{
	Use:   "signet",
	Short: "Signet - ambient memory daemon for personal agents",
	Long: `Signet - local-first memory infrastructure for AI coding assistants.

Signet runs a background daemon that ambiently observes your machine,
refines those observations into durable memories, and serves them back
to coding assistants through lifecycle hooks and a hybrid search API.

Available commands:
  daemon  - Run the capture and memory host in the foreground
  status  - Show whether the daemon is running and its counters
  db      - Manage the memory database (migrate, stats, backfill)
  memory  - Remember, recall, audit, and prune memories
  distill - Run the profile/graph/card synthesis passes
  export  - Write the portable agent state to a directory
  import  - Restore agent state from an export directory
  hook    - Harness lifecycle hooks (reads JSON on stdin)

Examples:
  signet daemon            # Start the daemon in foreground
  signet status            # Check the daemon
  signet memory recall "sqlite busy retry"
  signet db stats          # Show database statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The daemon builds its own logger with the ring and file sinks.
		// Hook commands stay on the no-op logger: their stdout is JSON
		// consumed by a harness and must never carry log lines.
		if cmd.Name() == "daemon" || underHook(cmd) {
			return nil
		}
		debug, _ := cmd.Flags().GetBool("debug")
		if err := logger.Initialize(logger.Options{Debug: debug}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func underHook(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "hook" {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.MemoryCmd)
	rootCmd.AddCommand(commands.DistillCmd)
	rootCmd.AddCommand(commands.ExportCmd)
	rootCmd.AddCommand(commands.ImportCmd)
	rootCmd.AddCommand(commands.HookCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
