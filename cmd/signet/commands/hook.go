package commands

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/sym"
)

// Hook commands are invoked by harness configurations, not by humans.
// Contract: read a JSON payload on stdin, print a JSON response on stdout,
// always exit 0. A harness must never block or fail because of us, so an
// unreachable daemon degrades to the endpoint's no-op shape.

const (
	hookTimeout    = 10 * time.Second
	maxHookPayload = 1 << 20
)

// HookCmd represents the hook command group.
var HookCmd = &cobra.Command{
	Use:   "hook",
	Short: sym.Hook + " Harness lifecycle hooks (reads JSON on stdin)",
	Long: sym.Hook + ` hook — Integration points for AI coding assistants

Each subcommand forwards its stdin JSON payload to the daemon and prints
the response. With SIGNET_NO_HOOKS=1 (set for spawned agents to break
recursion) or an unreachable daemon, the no-op shape is printed instead.

Wire these into a harness's hook configuration, for example:
  signet hook session-start < payload.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var hookSessionStartCmd = &cobra.Command{
	Use:   "session-start",
	Short: "Inject session-start context",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHook("/api/hooks/session-start",
			map[string]interface{}{"inject": "", "memories": 0})
	},
}

var hookUserPromptCmd = &cobra.Command{
	Use:   "user-prompt-submit",
	Short: "Inject prompt-scoped context",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHook("/api/hooks/user-prompt-submit",
			map[string]interface{}{"inject": "", "memoryCount": 0})
	},
}

var hookSessionEndCmd = &cobra.Command{
	Use:   "session-end",
	Short: "Extract memories from the session transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHook("/api/hooks/session-end",
			map[string]interface{}{"memoriesSaved": 0})
	},
}

var hookPreCompactionCmd = &cobra.Command{
	Use:   "pre-compaction",
	Short: "Acknowledge an imminent compaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHook("/api/hooks/pre-compaction", map[string]bool{"ok": true})
	},
}

var hookCompactionCompleteCmd = &cobra.Command{
	Use:   "compaction-complete",
	Short: "Acknowledge a finished compaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHook("/api/hooks/compaction-complete", map[string]bool{"ok": true})
	},
}

func init() {
	HookCmd.AddCommand(hookSessionStartCmd)
	HookCmd.AddCommand(hookUserPromptCmd)
	HookCmd.AddCommand(hookSessionEndCmd)
	HookCmd.AddCommand(hookPreCompactionCmd)
	HookCmd.AddCommand(hookCompactionCompleteCmd)
}

func runHook(endpoint string, fallback interface{}) error {
	if config.NoHooks() {
		return printJSON(fallback)
	}

	payload, err := io.ReadAll(io.LimitReader(os.Stdin, maxHookPayload))
	if err != nil || len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}

	client := &http.Client{Timeout: hookTimeout}
	resp, err := client.Post(daemonBaseURL()+endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return printJSON(fallback)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return printJSON(fallback)
	}

	fmt.Println(string(bytes.TrimSpace(body)))
	return nil
}
