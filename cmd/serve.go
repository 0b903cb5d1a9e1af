package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/CanopyHQ/synapse/internal/config"
	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/logger"
	"github.com/CanopyHQ/synapse/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"mcp"},
	Short:   "Start MCP server (default)",
	Long: `Start the MCP server using stdio transport.

The server communicates via JSON-RPC over stdin/stdout and is designed
to be connected to by an MCP client such as Claude Code, Cursor, etc.

Examples:
  synapse serve
  synapse mcp`,
	RunE: func(cmd *cobra.Command, args []string) error { return runServe() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("synapse %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store statistics",
	Long: `Show concept, edge, mastery and alignment counts and the database size.

Examples:
  synapse status`,
	RunE: func(cmd *cobra.Command, args []string) error { return runStatus() },
}

func runServe() error {
	fmt.Fprintln(os.Stderr, "🧠 Synapse MCP server")
	fmt.Fprintln(os.Stderr, "Starting MCP server (stdio transport)...")
	fmt.Fprintln(os.Stderr, "Connect an MCP client (Claude Code, Cursor, etc.). Press Ctrl+C to stop.")
	fmt.Fprintln(os.Stderr, "")

	mcp.Version = Version

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	server, err := mcp.NewServer(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer server.Stop()

	return server.Start()
}

func runStatus() error {
	svc, done, err := openService()
	if err != nil {
		return err
	}
	defer done()

	st, err := svc.Stats(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Synapse Status:\n")
	fmt.Printf("  Database: %s (%s)\n", svc.Store().Path(), humanSize(st.SizeBytes))
	fmt.Printf("  Vector index: %s\n", availability(svc.Store().VecAvailable()))
	for _, src := range graph.Sources {
		fmt.Printf("  %-9s %4d concepts, %4d edges\n", src+":", st.Concepts[src], st.Edges[src])
	}
	fmt.Printf("  Mastery: %d known, %d learning, %d unknown\n",
		st.Mastery[graph.Known], st.Mastery[graph.Learning], st.Mastery[graph.Unknown])

	methods := make([]string, 0, len(st.Alignments))
	for m := range st.Alignments {
		methods = append(methods, string(m))
	}
	sort.Strings(methods)
	fmt.Printf("  Alignments:")
	if len(methods) == 0 {
		fmt.Printf(" none")
	}
	for _, m := range methods {
		fmt.Printf(" %s=%d", m, st.Alignments[graph.Method(m)])
	}
	fmt.Println()
	fmt.Printf("  Evidence: %d, embeddings: %d, snapshots: %d, chat turns: %d\n",
		st.Evidence, st.Embeddings, st.Snapshots, st.Events)
	return nil
}

func availability(ok bool) string {
	if ok {
		return "sqlite-vec"
	}
	return "linear scan"
}
