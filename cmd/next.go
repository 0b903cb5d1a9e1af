package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Recommend what to study next",
	Long: `List syllabus concepts the learner hasn't shown yet, ready ones first,
ranked by assessment, due dates and prerequisites met.

Run 'synapse align' first so syllabus concepts are linked to the domain.

Examples:
  synapse next
  synapse next --limit 10 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		return runNext(limit, asJSON)
	},
}

func init() {
	nextCmd.Flags().Int("limit", 5, "Maximum number of recommendations")
	nextCmd.Flags().Bool("json", false, "Print JSON")
}

func runNext(limit int, asJSON bool) error {
	svc, done, err := openService()
	if err != nil {
		return err
	}
	defer done()

	recs, err := svc.NextUp(context.Background(), limit)
	if err != nil {
		return err
	}
	if asJSON {
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	if len(recs) == 0 {
		fmt.Println("Nothing to recommend yet. Ingest a syllabus and run 'synapse align'.")
		return nil
	}
	for i, r := range recs {
		fmt.Printf("%d. %s  (%.2f)\n", i+1, r.Label, r.Score)
		fmt.Printf("   %s\n", r.Why)
		if len(r.MissingPrereqs) > 0 {
			fmt.Printf("   missing: %s\n", strings.Join(r.MissingPrereqs, ", "))
		}
		if r.DueInDays != nil {
			fmt.Printf("   due in %d day(s)\n", *r.DueInDays)
		}
		if r.Link != "" {
			fmt.Printf("   %s\n", r.Link)
		}
	}
	return nil
}
