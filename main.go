// Synapse - learner knowledge graphs
// Aligns domain, syllabus and personal graphs and serves them over MCP
package main

import (
	"fmt"
	"os"

	"github.com/CanopyHQ/synapse/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
