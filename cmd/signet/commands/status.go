package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/sym"
)

// StatusCmd reports whether the daemon is running and its live counters.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: sym.Daemon + " Show daemon status",
	Long: sym.Daemon + ` status — Query the running daemon for its live counters.

Reports pid, uptime, memory count, capture counts, and resident set size.
Falls back to the pid file when the HTTP API is unreachable.`,
	RunE: runStatus,
}

var statusJSON bool

func init() {
	StatusCmd.Flags().BoolVar(&statusJSON, "json", false, "Machine-readable JSON output")
}

// daemonBaseURL resolves the loopback API address from the manifest.
// SIGNET_PORT overrides are applied by config loading.
func daemonBaseURL() string {
	port := config.DefaultPort
	if cfg, err := config.Load(); err == nil && cfg.Server.Port > 0 {
		port = cfg.Server.Port
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

type statusPayload struct {
	Pid                    int            `json:"pid"`
	Uptime                 string         `json:"uptime"`
	Version                string         `json:"version"`
	RssBytes               uint64         `json:"rssBytes"`
	Memories               int            `json:"memories"`
	Captures               map[string]int `json:"captures"`
	MemoriesExtractedToday int            `json:"memoriesExtractedToday"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(daemonBaseURL() + "/api/status")
	if err != nil {
		return reportDaemonDown()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return reportDaemonDown()
	}

	if statusJSON {
		fmt.Println(string(body))
		return nil
	}

	var status statusPayload
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("unexpected status response: %w", err)
	}

	fmt.Printf("%s Signet daemon\n", sym.Daemon)
	fmt.Printf("  PID:      %d\n", status.Pid)
	fmt.Printf("  Version:  %s\n", status.Version)
	fmt.Printf("  Uptime:   %s\n", status.Uptime)
	if status.RssBytes > 0 {
		fmt.Printf("  RSS:      %.1f MB\n", float64(status.RssBytes)/(1024*1024))
	}
	fmt.Printf("  Memories: %d\n", status.Memories)
	if len(status.Captures) > 0 {
		fmt.Printf("  Captures: %s\n", formatCounts(status.Captures))
	}
	fmt.Printf("  Extracted today: %d\n", status.MemoriesExtractedToday)
	return nil
}

// reportDaemonDown checks the pid file so a crashed daemon reads differently
// from one that was never started.
func reportDaemonDown() error {
	if statusJSON {
		return printJSON(map[string]bool{"running": false})
	}

	if raw, err := os.ReadFile(config.PidPath()); err == nil {
		pid, _ := strconv.Atoi(strings.TrimSpace(string(raw)))
		pterm.Warning.Printf("Daemon not responding (stale pid file: %d)\n", pid)
		pterm.Info.Println("Remove " + config.PidPath() + " if the process is gone, then run: signet daemon")
		return nil
	}

	pterm.Warning.Println("Daemon is not running")
	pterm.Info.Println("Start it with: signet daemon")
	return nil
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
