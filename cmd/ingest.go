package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/synapse"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <domain|syllabus> [file]",
	Short: "Load a domain or syllabus graph from mermaid",
	Long: `Load a mermaid flowchart into the domain or syllabus graph.

Concepts are matched by normalized label, so re-ingesting a graph only adds
what is new. Syllabus graphs may come with a provenance file (YAML or JSON)
listing where each concept comes from in the course:

  - label: Linear Regression
    provenance:
      type: assignment
      id: 42
      html_url: https://lms.example.edu/courses/1/assignments/42
      due_at: 2025-03-14T23:59:00Z

With --topic and no file, the domain graph is drafted by the configured
model (requires OPENAI_API_KEY).

Examples:
  synapse ingest domain ml.mmd
  synapse ingest syllabus course.mmd --meta provenance.yaml
  synapse ingest domain --topic "machine learning"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		metaPath, _ := cmd.Flags().GetString("meta")
		topic, _ := cmd.Flags().GetString("topic")
		file := ""
		if len(args) == 2 {
			file = args[1]
		}
		return runIngest(args[0], file, metaPath, topic)
	},
}

func init() {
	ingestCmd.Flags().String("meta", "", "Provenance file for syllabus concepts (YAML or JSON)")
	ingestCmd.Flags().String("topic", "", "Generate the domain graph for this topic instead of reading a file")
}

func runIngest(target, file, metaPath, topic string) error {
	src, err := graph.ParseSource(target)
	if err != nil {
		return err
	}
	if file == "" && topic == "" {
		return fmt.Errorf("a mermaid file (or --topic for the domain graph) is required")
	}
	if topic != "" && (src != graph.Domain || file != "") {
		return fmt.Errorf("--topic only generates the domain graph and takes no file")
	}

	var meta []synapse.Meta
	if metaPath != "" {
		data, err := os.ReadFile(metaPath)
		if err != nil {
			return fmt.Errorf("failed to read provenance file: %w", err)
		}
		if meta, err = synapse.ParseMeta(data); err != nil {
			return err
		}
	}

	svc, done, err := openService()
	if err != nil {
		return err
	}
	defer done()
	ctx := context.Background()

	var res *synapse.IngestResult
	if topic != "" {
		fmt.Printf("Generating a domain graph for %q...\n", topic)
		res, err = svc.GenerateDomain(ctx, topic)
	} else {
		var text []byte
		text, err = os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read graph file: %w", err)
		}
		res, err = svc.IngestGraph(ctx, src, string(text), meta)
	}
	if err != nil {
		return err
	}

	fmt.Printf("✅ Ingested %s graph: %d concept(s), %d edge(s)", res.Source, res.Concepts, res.Edges)
	if res.SkippedEdges > 0 {
		fmt.Printf(", %d edge(s) skipped", res.SkippedEdges)
	}
	if res.Provenance > 0 {
		fmt.Printf(", provenance on %d concept(s)", res.Provenance)
	}
	fmt.Println()
	return nil
}
