package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CanopyHQ/synapse/internal/config"
	"github.com/CanopyHQ/synapse/internal/logger"
	"github.com/CanopyHQ/synapse/internal/synapse"
)

// Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersion sets the version info from main
func SetVersion(v, c, d string) {
	Version = v
	Commit = c
	Date = d
}

var rootCmd = &cobra.Command{
	Use:   "synapse",
	Short: "Synapse - learner knowledge graphs",
	Long: `Synapse aligns a domain graph, a course syllabus graph and a learner's
personal graph, tracks mastery from chat, and recommends what to study next.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the synapse command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// serve, version, status (serve.go)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)

	// engine verbs
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(alignCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(resetCmd)

	// import, export (import_export.go)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)

	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(setupCmd)
}

// openService loads the configuration and opens the engine. The returned
// func closes the store and flushes logs.
func openService() (*synapse.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	svc, err := synapse.Open(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return svc, func() {
		svc.Close()
		log.Sync()
	}, nil
}
