package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all graphs, progress and alignments",
	Long: `Delete every concept, edge, mastery record, evidence row, alignment,
embedding, snapshot and logged chat turn.

Examples:
  synapse reset --yes`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		return runReset(yes)
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "Confirm the reset")
}

func runReset(yes bool) error {
	if !yes {
		return fmt.Errorf("refusing to reset without --yes")
	}
	svc, done, err := openService()
	if err != nil {
		return err
	}
	defer done()

	if err := svc.Reset(context.Background()); err != nil {
		return err
	}
	fmt.Println("✅ Store reset.")
	return nil
}
