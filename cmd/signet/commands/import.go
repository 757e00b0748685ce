package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/memory"
	"github.com/signetai/signet/sym"
)

// ImportCmd restores agent state from an export directory.
var ImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: sym.Import + " Import agent state from an export",
	Long: sym.Import + ` import — Restore agent state from an export directory

Memories honor the conflict strategy:
  skip      - keep existing rows on id collision (default)
  overwrite - imported rows replace existing ones
  merge     - keep whichever side was updated more recently

Identity documents and the manifest land back at the state root; skills
are restored verbatim.

Example:
  signet import ./signet-backup
  signet import ./signet-backup --strategy merge`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var importStrategy string

func init() {
	ImportCmd.Flags().StringVar(&importStrategy, "strategy", memory.StrategySkip, "Conflict strategy: skip, overwrite, merge")
}

func runImport(cmd *cobra.Command, args []string) error {
	files, err := memory.ReadExport(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to read export at %s", args[0])
	}

	store, database, err := openStore("")
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := store.Import(cmd.Context(), config.StateRoot(), files, importStrategy)
	if err != nil {
		return errors.Wrap(err, "import failed")
	}

	pterm.Success.Println("Import complete")
	fmt.Printf("  Memories:  %d imported, %d skipped\n", stats.Memories, stats.Skipped)
	fmt.Printf("  Entities:  %d\n", stats.Entities)
	fmt.Printf("  Relations: %d\n", stats.Relations)
	fmt.Printf("  Files:     %d\n", stats.Files)
	return nil
}
