package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/importer"
	"github.com/CanopyHQ/synapse/internal/mermaid"
)

var importCmd = &cobra.Command{
	Use:   "import <source> <path>",
	Short: "Replay AI chat history (chatgpt or claude)",
	Long: `Replay exported ChatGPT or Claude conversations as learner turns, so past
chats count as evidence of what the learner knows.

Supported sources:
  chatgpt  - ChatGPT conversations.json export
  claude   - Claude JSON or JSONL export

The path can be a single file or a directory.

Examples:
  synapse import chatgpt ~/Downloads/conversations.json
  synapse import claude ~/Downloads/claude-export/`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error { return runImport(args[0], args[1]) },
}

var exportCmd = &cobra.Command{
	Use:   "export [format] [output]",
	Short: "Export graphs, progress and alignments",
	Long: `Export the learner state to a file.

Supported formats:
  json     - snapshots, progress and alignments (default)
  mermaid  - the latest snapshot of each graph

If no output path is given, a default filename is generated.

Examples:
  synapse export
  synapse export json state.json
  synapse export mermaid graphs.md`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, output := "json", ""
		if len(args) >= 1 {
			format = args[0]
		}
		if len(args) >= 2 {
			output = args[1]
		}
		return runExport(format, output)
	},
}

type fileImporter interface {
	ImportFromFile(ctx context.Context, path string) (*importer.ImportResult, error)
	ImportFromDirectory(ctx context.Context, path string) (*importer.ImportResult, error)
}

func runImport(source, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access path: %w", err)
	}

	svc, done, err := openService()
	if err != nil {
		return err
	}
	defer done()
	ctx := context.Background()

	var imp fileImporter
	switch source {
	case "chatgpt":
		imp = importer.NewChatGPTImporter(svc)
	case "claude":
		imp = importer.NewClaudeImporter(svc)
	default:
		return fmt.Errorf("unknown source: %s (supported: chatgpt, claude)", source)
	}

	var result *importer.ImportResult
	if info.IsDir() {
		fmt.Printf("Importing %s conversations from directory: %s\n", source, path)
		result, err = imp.ImportFromDirectory(ctx, path)
	} else {
		fmt.Printf("Importing %s conversations from file: %s\n", source, path)
		result, err = imp.ImportFromFile(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("\n✅ Import Complete!\n")
	fmt.Printf("   Conversations processed: %d\n", result.ConversationsProcessed)
	fmt.Printf("   Turns tracked: %d (skipped %d)\n", result.TurnsTracked, result.TurnsSkipped)
	fmt.Printf("   Concept mentions: %d, promotions: %d\n", result.Hits, result.Promotions)
	fmt.Printf("   Duration: %s\n", result.Duration.Round(time.Millisecond))

	if len(result.Errors) > 0 {
		fmt.Printf("\n⚠️  Errors (%d):\n", len(result.Errors))
		for i, e := range result.Errors {
			if i >= 5 {
				fmt.Printf("   ... and %d more\n", len(result.Errors)-5)
				break
			}
			fmt.Printf("   - %s\n", e)
		}
	}
	return nil
}

func runExport(format, output string) error {
	switch format {
	case "json", "mermaid", "md":
	default:
		return fmt.Errorf("unknown format: %s (supported: json, mermaid)", format)
	}
	svc, done, err := openService()
	if err != nil {
		return err
	}
	defer done()

	exp, err := svc.Export(context.Background())
	if err != nil {
		return err
	}
	if len(exp.Snapshots) == 0 && len(exp.Progress) == 0 {
		fmt.Println("Nothing to export.")
		return nil
	}

	var data []byte
	ext := format
	switch format {
	case "json":
		data, err = json.MarshalIndent(exp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
	case "mermaid", "md":
		ext = "md"
		var sb strings.Builder
		sb.WriteString("# Synapse Export\n\n")
		sb.WriteString(fmt.Sprintf("Exported: %s\n", exp.ExportedAt.Format("2006-01-02 15:04:05")))
		for _, src := range graph.Sources {
			text, ok := exp.Snapshots[src]
			if !ok {
				continue
			}
			sb.WriteString(fmt.Sprintf("\n## %s (%d concepts)\n\n```mermaid\n%s\n```\n", src, mermaid.CountNodes(text), strings.TrimSpace(text)))
		}
		data = []byte(sb.String())
	}

	if output == "" {
		output = fmt.Sprintf("synapse-export-%s.%s", time.Now().Format("2006-01-02"), ext)
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	fmt.Printf("✅ Exported %d graph(s) and %d progress record(s) to %s\n", len(exp.Snapshots), len(exp.Progress), output)
	return nil
}
