package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/daemon"
	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/logger"
	"github.com/signetai/signet/sym"
	"github.com/signetai/signet/version"
)

// DaemonCmd runs the Signet host in the foreground.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: sym.Daemon + " Run the Signet daemon",
	Long: sym.Daemon + ` daemon — the ambient capture and memory host.

The daemon:
- starts the enabled capture adapters (screen, files, terminal, comms, voice)
- refines captures into memories on a fixed cadence
- distills the cognitive profile, expertise graph, and agent card daily
- serves the loopback HTTP API for hooks, recall, and logs

Runs in the foreground until interrupted; Ctrl+C shuts down cleanly.

Example:
  signet daemon                 # run with the manifest's settings
  signet daemon --port 3850     # override the API port`,
	RunE: runDaemon,
}

var (
	daemonPort     int
	daemonJSONLogs bool
)

func init() {
	DaemonCmd.Flags().IntVar(&daemonPort, "port", 0, "HTTP API port (overrides manifest)")
	DaemonCmd.Flags().BoolVar(&daemonJSONLogs, "json-logs", false, "JSON console log output")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	if err := logger.Initialize(logger.Options{
		JSON:  daemonJSONLogs,
		Dir:   config.LogDir(),
		Debug: debug,
	}); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	defer logger.Cleanup()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if daemonPort > 0 {
		cfg.Server.Port = daemonPort
	}
	port := cfg.Server.Port
	if port <= 0 {
		port = config.DefaultPort
	}

	stateRoot := config.StateRoot()
	d, err := daemon.New(cfg, stateRoot, version.Get().Version, logger.Logger)
	if err != nil {
		return err
	}

	fmt.Printf("%s Signet daemon starting\n", sym.Daemon)
	fmt.Printf("  State root: %s\n", stateRoot)
	fmt.Printf("  Database:   %s\n", config.DatabasePath(cfg))
	fmt.Printf("  API:        http://127.0.0.1:%d\n", port)
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Daemon)

	return d.Run(cmd.Context())
}
