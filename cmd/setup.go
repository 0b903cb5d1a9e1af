package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CanopyHQ/synapse/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Auto-configure IDE",
	Long: `Auto-detect and configure IDEs to run the synapse MCP server.

Without arguments, auto-detects installed IDEs and configures them.
Specify an IDE to configure only that one.

Examples:
  synapse setup              # auto-detect and configure all IDEs
  synapse setup cursor       # configure Cursor only
  synapse setup windsurf     # configure Windsurf only
  synapse setup claude-code  # configure Claude Code only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup()
	},
}

func init() {
	setupCmd.AddCommand(&cobra.Command{
		Use:   "cursor",
		Short: "Configure synapse for Cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetupCursor()
		},
	})

	setupCmd.AddCommand(&cobra.Command{
		Use:   "windsurf",
		Short: "Configure synapse for Windsurf",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetupWindsurf()
		},
	})

	setupCmd.AddCommand(&cobra.Command{
		Use:   "claude-code",
		Short: "Configure synapse for Claude Code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetupClaudeCode()
		},
	})
}

// synapseBinary finds the binary MCP clients should launch: the one in PATH,
// else the running executable.
func synapseBinary() (string, error) {
	if p, err := exec.LookPath("synapse"); err == nil {
		return p, nil
	}
	p, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("synapse binary not found in PATH: %w", err)
	}
	return p, nil
}

func runSetup() error {
	fmt.Println("🔍 Auto-detecting IDEs for synapse setup...")
	fmt.Println()

	home, _ := os.UserHomeDir()
	detected := 0

	if _, err := os.Stat(filepath.Join(home, ".cursor")); err == nil {
		fmt.Println("👉 Detected Cursor")
		if err := runSetupCursor(); err != nil {
			fmt.Printf("   ❌ Cursor setup failed: %v\n", err)
		} else {
			detected++
		}
	}

	if _, err := os.Stat(filepath.Join(home, ".windsurf")); err == nil {
		fmt.Println("👉 Detected Windsurf")
		if err := runSetupWindsurf(); err != nil {
			fmt.Printf("   ❌ Windsurf setup failed: %v\n", err)
		} else {
			detected++
		}
	}

	if _, err := exec.LookPath("claude"); err == nil {
		fmt.Println("👉 Detected Claude Code")
		if err := runSetupClaudeCode(); err != nil {
			fmt.Printf("   ❌ Claude Code setup failed: %v\n", err)
		} else {
			detected++
		}
	}

	if detected == 0 {
		fmt.Println("⚠️  No IDEs automatically detected.")
		fmt.Println("   You can still set up manually using:")
		fmt.Println("   synapse setup cursor")
		fmt.Println("   synapse setup windsurf")
		fmt.Println("   synapse setup claude-code")
	} else {
		fmt.Printf("\n✅ Successfully configured %d IDE(s)!\n", detected)
	}
	return nil
}

// writeMCPConfig adds or replaces the synapse entry under mcpServers in a
// JSON config file, keeping every other server.
func writeMCPConfig(configPath, binary string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var cfg map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse existing %s: %w", filepath.Base(configPath), err)
		}
		fmt.Printf("✓ Found existing %s\n", filepath.Base(configPath))
	}
	if cfg == nil {
		cfg = make(map[string]interface{})
		fmt.Printf("✓ Creating new %s\n", filepath.Base(configPath))
	}

	servers, ok := cfg["mcpServers"].(map[string]interface{})
	if !ok {
		servers = make(map[string]interface{})
		cfg["mcpServers"] = servers
	}
	entry := map[string]interface{}{
		"command": binary,
		"args":    []string{"serve"},
	}
	if dir := os.Getenv("SYNAPSE_DATA_DIR"); dir != "" {
		entry["env"] = map[string]string{"SYNAPSE_DATA_DIR": dir}
	}
	servers["synapse"] = entry

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(configPath), err)
	}
	fmt.Printf("✓ Updated %s\n", configPath)
	return nil
}

func setupJSONClient(name, dir, file string) error {
	fmt.Printf("🔧 Setting up synapse for %s...\n\n", name)

	binary, err := synapseBinary()
	if err != nil {
		return err
	}
	fmt.Printf("✓ Found synapse at: %s\n", binary)

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}
	if err := writeMCPConfig(filepath.Join(home, dir, file), binary); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("✅ synapse is now configured for %s!\n", name)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Restart %s\n", name)
	fmt.Println("  2. Load your graphs: synapse ingest domain <file>, synapse ingest syllabus <file>")
	fmt.Println("  3. Chat as usual; track_conversation updates your personal graph")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	return nil
}

func runSetupCursor() error {
	return setupJSONClient("Cursor", ".cursor", "mcp.json")
}

func runSetupWindsurf() error {
	return setupJSONClient("Windsurf", ".windsurf", "mcp_config.json")
}

// runSetupClaudeCode registers synapse with `claude mcp add`.
func runSetupClaudeCode() error {
	fmt.Println("🔧 Setting up synapse for Claude Code...")
	fmt.Println()

	claudePath, err := exec.LookPath("claude")
	if err != nil {
		return fmt.Errorf("claude binary not found in PATH. Install Claude Code first")
	}
	fmt.Printf("✓ Found claude at: %s\n", claudePath)

	binary, err := synapseBinary()
	if err != nil {
		return err
	}
	fmt.Printf("✓ Found synapse at: %s\n", binary)

	fmt.Print("✓ Checking existing MCP registrations... ")
	if out, err := exec.Command(claudePath, "mcp", "list").CombinedOutput(); err != nil {
		fmt.Println("⚠️  Could not list MCP servers (continuing)")
	} else if strings.Contains(string(out), "synapse") {
		fmt.Println("already registered")
		fmt.Println("To re-register, run 'claude mcp remove synapse' first.")
		return nil
	} else {
		fmt.Println("not yet registered")
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	fmt.Print("✓ Registering synapse MCP server... ")
	addOutput, err := exec.Command(claudePath, "mcp", "add",
		"-e", "SYNAPSE_DATA_DIR="+dataDir,
		"--scope", "user",
		"synapse",
		"--",
		binary, "serve",
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to register MCP server: %w\nOutput: %s", err, string(addOutput))
	}
	fmt.Println("done")
	fmt.Println()
	fmt.Println("✅ synapse is now configured for Claude Code! Start a new session to use it.")
	return nil
}
