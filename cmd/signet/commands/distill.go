package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/distill"
	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/llm"
	"github.com/signetai/signet/logger"
	"github.com/signetai/signet/sym"
	"github.com/signetai/signet/version"
)

// DistillCmd represents the distill command
var DistillCmd = &cobra.Command{
	Use:   "distill",
	Short: sym.Distill + " Run distillation passes",
	Long: sym.Distill + ` distill — Long-cycle synthesis over accumulated memories

The daemon runs these passes daily; this command forces a pass now.

  run   - cognitive profile, expertise graph, agent card
  card  - print the current agent card without recomputing

Example:
  signet distill run
  signet distill card --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var distillRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full distillation pass now",
	Long:  "Rebuild the cognitive profile, the expertise graph, and the agent card from the current memory store.",
	RunE:  runDistill,
}

var distillCardCmd = &cobra.Command{
	Use:   "card",
	Short: "Print the current agent card",
	RunE:  runDistillCard,
}

var cardJSON bool

func init() {
	DistillCmd.AddCommand(distillRunCmd)
	DistillCmd.AddCommand(distillCardCmd)
	distillCardCmd.Flags().BoolVar(&cardJSON, "json", false, "Machine-readable JSON output")
}

func newDistiller() (*distill.Distiller, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}

	store, database, err := openStore("")
	if err != nil {
		return nil, nil, err
	}

	client := llm.NewClient(cfg.Perception.OllamaURL, cfg.Perception.RefinerModel, logger.Logger)
	d := distill.New(database, store, client, version.Get().Version, logger.Logger)
	return d, func() { database.Close() }, nil
}

func runDistill(cmd *cobra.Command, args []string) error {
	d, closeDB, err := newDistiller()
	if err != nil {
		return err
	}
	defer closeDB()

	spinner, _ := pterm.DefaultSpinner.Start("Running distillation passes...")
	if err := d.Run(cmd.Context()); err != nil {
		if spinner != nil {
			spinner.Fail("Distillation failed")
		}
		return err
	}
	if spinner != nil {
		spinner.Success("Distillation complete")
	}

	card, err := d.Card(cmd.Context())
	if err == nil {
		fmt.Printf("\n%s Agent card: %s — %d skill(s)\n", sym.Distill, card.Name, len(card.Skills))
	}
	return nil
}

func runDistillCard(cmd *cobra.Command, args []string) error {
	d, closeDB, err := newDistiller()
	if err != nil {
		return err
	}
	defer closeDB()

	card, err := d.Card(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "failed to assemble agent card")
	}

	if cardJSON {
		return printJSON(card)
	}

	fmt.Printf("%s %s (v%s)\n", sym.Distill, card.Name, card.Version)
	fmt.Printf("  %s\n", card.Description)
	if len(card.Skills) == 0 {
		pterm.Info.Println("No skills yet; run the daemon to accumulate observations, then: signet distill run")
		return nil
	}
	fmt.Println()
	fmt.Printf("Skills:\n")
	for _, skill := range card.Skills {
		fmt.Printf("  %-24s %s\n", skill.Name, skill.Description)
	}
	return nil
}
