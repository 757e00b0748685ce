package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/memory"
	"github.com/signetai/signet/sym"
)

// ExportCmd writes the portable agent state to a directory.
var ExportCmd = &cobra.Command{
	Use:   "export",
	Short: sym.Export + " Export the portable agent state",
	Long: sym.Export + ` export — Write the agent's portable state to a directory

Carries the manifest, identity documents, memories and knowledge graph as
JSONL, and the skills tree. The export imports cleanly on another machine
with: signet import <dir>

Example:
  signet export --out ./signet-backup
  signet export --embeddings       # include vectors, skip re-embedding on import`,
	RunE: runExport,
}

var (
	exportOut        string
	exportEmbeddings bool
)

func init() {
	ExportCmd.Flags().StringVar(&exportOut, "out", "", "Destination directory (default signet-export-<date>)")
	ExportCmd.Flags().BoolVar(&exportEmbeddings, "embeddings", false, "Inline embedding vectors")
}

func runExport(cmd *cobra.Command, args []string) error {
	store, database, err := openStore("")
	if err != nil {
		return err
	}
	defer database.Close()

	out := exportOut
	if out == "" {
		out = fmt.Sprintf("signet-export-%s", time.Now().Format("2006-01-02"))
	}

	stateRoot := config.StateRoot()
	files, err := store.Export(cmd.Context(), stateRoot, memory.ExportOptions{
		IncludeEmbeddings: exportEmbeddings,
	})
	if err != nil {
		return errors.Wrap(err, "export failed")
	}

	if err := memory.WriteExport(files, out); err != nil {
		return errors.Wrap(err, "failed to write export")
	}

	pterm.Success.Printf("Exported %d file(s) to %s\n", len(files), out)
	return nil
}
