package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/memory"
	"github.com/signetai/signet/sym"
)

// MemoryCmd represents the memory command
var MemoryCmd = &cobra.Command{
	Use:   "memory",
	Short: sym.Memory + " Manage agent memories",
	Long: sym.Memory + ` memory — Remember, recall, and maintain agent memories

Talks to the memory database directly; the daemon does not need to be
running. Writes made here are visible to a running daemon immediately.

Examples:
  signet memory remember "CI uses the builder image from infra/docker"
  signet memory remember --type preference --pinned "prefers table-driven tests"
  signet memory recall "sqlite busy retry" --limit 5
  signet memory audit
  signet memory prune --days 60`,
}

var memoryRememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Save a memory",
	Long:  "Persist a memory with optional type, tags, importance, and pinning. Embeds immediately when a provider is configured.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemoryRemember,
}

var memoryRecallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search memories",
	Long:  "Hybrid keyword + semantic search over active memories, ranked by blended score.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemoryRecall,
}

var memoryAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report embedding coverage",
	RunE:  runMemoryAudit,
}

var memoryPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Retire stale auto-extracted memories",
	Long: `Soft-delete auto-extracted memories that are old, unimportant, unpinned,
and were never recalled. Explicit memories are never pruned.`,
	RunE: runMemoryPrune,
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Soft-delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryForget,
}

var memoryPinCmd = &cobra.Command{
	Use:   "pin <id>",
	Short: "Pin a memory so it always ranks first",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryPin,
}

var (
	rememberType       string
	rememberTags       string
	rememberImportance float64
	rememberPinned     bool
	rememberWho        string
	rememberProject    string

	recallLimit int
	recallType  string
	recallJSON  bool

	auditJSON bool

	pruneDays          int
	pruneMaxImportance float64

	pinRemove bool
)

func init() {
	MemoryCmd.AddCommand(memoryRememberCmd)
	MemoryCmd.AddCommand(memoryRecallCmd)
	MemoryCmd.AddCommand(memoryAuditCmd)
	MemoryCmd.AddCommand(memoryPruneCmd)
	MemoryCmd.AddCommand(memoryForgetCmd)
	MemoryCmd.AddCommand(memoryPinCmd)

	memoryRememberCmd.Flags().StringVar(&rememberType, "type", "", "Memory type (fact, decision, preference, skill, procedural, ...)")
	memoryRememberCmd.Flags().StringVar(&rememberTags, "tags", "", "Comma-separated tags")
	memoryRememberCmd.Flags().Float64Var(&rememberImportance, "importance", -1, "Importance 0..1 (default 0.5)")
	memoryRememberCmd.Flags().BoolVar(&rememberPinned, "pinned", false, "Pin the memory")
	memoryRememberCmd.Flags().StringVar(&rememberWho, "who", "", "Attribution")
	memoryRememberCmd.Flags().StringVar(&rememberProject, "project", "", "Project scope")

	memoryRecallCmd.Flags().IntVar(&recallLimit, "limit", 10, "Maximum results")
	memoryRecallCmd.Flags().StringVar(&recallType, "type", "", "Filter by memory type")
	memoryRecallCmd.Flags().BoolVar(&recallJSON, "json", false, "Machine-readable JSON output")

	memoryAuditCmd.Flags().BoolVar(&auditJSON, "json", false, "Machine-readable JSON output")

	memoryPruneCmd.Flags().IntVar(&pruneDays, "days", memory.PruneAfterDays, "Minimum age in days")
	memoryPruneCmd.Flags().Float64Var(&pruneMaxImportance, "max-importance", memory.PruneMaxImportance, "Prune only below this importance")

	memoryPinCmd.Flags().BoolVar(&pinRemove, "unpin", false, "Remove the pin instead")
}

func runMemoryRemember(cmd *cobra.Command, args []string) error {
	store, database, err := openStore("")
	if err != nil {
		return err
	}
	defer database.Close()

	input := memory.RememberInput{
		Content: strings.Join(args, " "),
		Type:    rememberType,
		Pinned:  rememberPinned,
		Who:     rememberWho,
		Project: rememberProject,
	}
	if rememberImportance >= 0 {
		input.Importance = &rememberImportance
	}
	if rememberTags != "" {
		for _, tag := range strings.Split(rememberTags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				input.Tags = append(input.Tags, tag)
			}
		}
	}

	result, err := store.Remember(cmd.Context(), input)
	if err != nil {
		return errors.Wrap(err, "failed to save memory")
	}

	pterm.Success.Printf("Memory saved: %s\n", result.ID)
	if !result.Embedded {
		pterm.Info.Println("No embedding written (provider unconfigured or unreachable); keyword search still applies")
	}
	return nil
}

func runMemoryRecall(cmd *cobra.Command, args []string) error {
	store, database, err := openStore("")
	if err != nil {
		return err
	}
	defer database.Close()

	query := strings.Join(args, " ")
	results, method, err := store.Recall(cmd.Context(), memory.RecallQuery{
		Query: query,
		Limit: recallLimit,
		Type:  recallType,
	})
	if err != nil {
		return errors.Wrap(err, "search failed")
	}

	if recallJSON {
		return printJSON(map[string]interface{}{
			"query":   query,
			"method":  method,
			"results": results,
		})
	}

	if len(results) == 0 {
		pterm.Info.Printf("No memories match %q\n", query)
		return nil
	}

	fmt.Printf("%s %d result(s) for %q (%s)\n\n", sym.Memory, len(results), query, method)
	for _, res := range results {
		marker := " "
		if res.Pinned {
			marker = "*"
		}
		fmt.Printf("%s %.2f  [%s]  %s\n", marker, res.Score, res.Type, firstLine(res.Content, 110))
		if len(res.Tags) > 0 {
			fmt.Printf("         tags: %s\n", strings.Join(res.Tags, ", "))
		}
		fmt.Printf("         id: %s\n", res.ID)
	}
	return nil
}

func runMemoryAudit(cmd *cobra.Command, args []string) error {
	store, database, err := openStore("")
	if err != nil {
		return err
	}
	defer database.Close()

	audit, err := store.Audit(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "audit failed")
	}

	if auditJSON {
		return printJSON(audit)
	}

	fmt.Printf("%s Embedding coverage\n", sym.Memory)
	fmt.Printf("  Memories:   %d\n", audit.Total)
	fmt.Printf("  Unembedded: %d\n", audit.Unembedded)
	fmt.Printf("  Coverage:   %.1f%%\n", audit.Coverage)
	if audit.Unembedded > 0 {
		pterm.Info.Println("Run: signet db backfill")
	}
	return nil
}

func runMemoryPrune(cmd *cobra.Command, args []string) error {
	store, database, err := openStore("")
	if err != nil {
		return err
	}
	defer database.Close()

	n, err := store.Prune(cmd.Context(), pruneDays, pruneMaxImportance)
	if err != nil {
		return errors.Wrap(err, "prune failed")
	}

	if n == 0 {
		fmt.Printf("%s Nothing to prune\n", sym.Memory)
		return nil
	}
	pterm.Success.Printf("Pruned %d stale auto-extracted memories\n", n)
	return nil
}

func runMemoryForget(cmd *cobra.Command, args []string) error {
	store, database, err := openStore("")
	if err != nil {
		return err
	}
	defer database.Close()

	if err := store.Forget(cmd.Context(), args[0]); err != nil {
		return errors.Wrap(err, "forget failed")
	}
	pterm.Success.Printf("Memory forgotten: %s\n", args[0])
	return nil
}

func runMemoryPin(cmd *cobra.Command, args []string) error {
	store, database, err := openStore("")
	if err != nil {
		return err
	}
	defer database.Close()

	if err := store.Pin(cmd.Context(), args[0], !pinRemove); err != nil {
		return errors.Wrap(err, "pin failed")
	}
	if pinRemove {
		pterm.Success.Printf("Memory unpinned: %s\n", args[0])
	} else {
		pterm.Success.Printf("Memory pinned: %s\n", args[0])
	}
	return nil
}

// firstLine flattens content to its first line, capped at max runes.
func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max-1]) + "…"
	}
	return s
}
