package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/store"
)

var graphCmd = &cobra.Command{
	Use:   "graph <domain|syllabus|personal>",
	Short: "Print the latest mermaid snapshot of a graph",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runGraph(args[0]) },
}

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "List mastery per concept",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return runProgress() },
}

func runGraph(name string) error {
	src, err := graph.ParseSource(name)
	if err != nil {
		return err
	}
	svc, done, err := openService()
	if err != nil {
		return err
	}
	defer done()

	snap, err := svc.Snapshot(context.Background(), src)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Printf("No %s graph yet.\n", src)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(snap.Text)
	return nil
}

func runProgress() error {
	svc, done, err := openService()
	if err != nil {
		return err
	}
	defer done()

	rep, err := svc.Progress(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Known: %d  Learning: %d  Unknown: %d\n",
		rep.Counts[graph.Known], rep.Counts[graph.Learning], rep.Counts[graph.Unknown])
	for _, p := range rep.Items {
		fmt.Printf("  %-8s %.2f  %s\n", p.Mastery, p.Score, p.Label)
	}
	return nil
}
