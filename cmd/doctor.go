package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/CanopyHQ/synapse/internal/config"
	"github.com/CanopyHQ/synapse/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common setup issues",
	Long: `Diagnose common setup issues and optionally fix them.

Examples:
  synapse doctor        # check for issues
  synapse doctor --fix  # check and auto-fix issues`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fix, _ := cmd.Flags().GetBool("fix")
		return runDoctor(fix)
	},
}

func init() {
	doctorCmd.Flags().Bool("fix", false, "Attempt to automatically fix issues")
}

// redact returns the first n and last n chars of s, or "***" if too short.
func redact(s string, n int) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= n*2 {
		return "***"
	}
	return s[:n] + "..." + s[len(s)-n:]
}

func runDoctor(fix bool) error {
	fmt.Println("🔍 Synapse Doctor - Diagnosing Setup")
	if fix {
		fmt.Println("🛠️  Auto-fix enabled")
	}
	fmt.Println()

	issues, warnings, fixed := 0, 0, 0

	// 1. binary
	fmt.Print("✓ Checking if synapse is in PATH... ")
	if path, err := exec.LookPath("synapse"); err != nil {
		fmt.Println("⚠️  WARNING")
		fmt.Println("  synapse binary not found in PATH; MCP clients need its full path")
		warnings++
	} else {
		fmt.Printf("✅ OK (%s)\n", path)
	}

	// 2. configuration
	fmt.Print("✓ Checking configuration... ")
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("❌ FAILED")
		fmt.Printf("  Issue: %v\n", err)
		issues++
		cfg = config.Default()
		if dir, derr := config.DataDir(); derr == nil {
			cfg.DataDir = dir
		}
	} else {
		fmt.Printf("✅ OK (detect=%s, embeddings=%s)\n", cfg.DetectMode, cfg.Embeddings)
	}

	// 3. data directory
	fmt.Print("✓ Checking data directory... ")
	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		if fix {
			fmt.Print("🛠️  Creating... ")
			if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
				fmt.Printf("❌ FAILED: %v\n", err)
				issues++
			} else {
				fmt.Println("✅ FIXED")
				fixed++
			}
		} else {
			fmt.Println("⚠️  WARNING")
			fmt.Printf("  Data directory does not exist: %s\n", cfg.DataDir)
			fmt.Println("  It will be created on first run")
			warnings++
		}
	} else {
		fmt.Printf("✅ OK (%s)\n", cfg.DataDir)
	}

	// 4. database and vector index
	fmt.Print("✓ Checking SQLite database... ")
	dbPath := filepath.Join(cfg.DataDir, store.DBFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("⚠️  WARNING")
		fmt.Printf("  Database not found: %s (created on first run)\n", dbPath)
		warnings++
	} else if s, err := store.Open(dbPath, nil); err != nil {
		fmt.Println("❌ FAILED")
		fmt.Printf("  Issue: %v\n", err)
		issues++
	} else {
		fmt.Printf("✅ OK (vector index: %s)\n", availability(s.VecAvailable()))
		s.Close()
	}

	// 5. inference credentials
	fmt.Print("✓ Checking OpenAI credentials... ")
	if cfg.OpenAIAPIKey == "" {
		fmt.Println("⚠️  WARNING")
		fmt.Println("  OPENAI_API_KEY not set: detection uses label matching only and --topic is unavailable")
		if cfg.Embeddings == "openai" {
			fmt.Println("  SYNAPSE_EMBEDDINGS=openai also needs the key; embedding alignment will be skipped")
			issues++
		} else {
			warnings++
		}
	} else {
		fmt.Printf("✅ OK (%s)\n", redact(cfg.OpenAIAPIKey, 4))
	}

	// 6. Cursor
	fmt.Print("✓ Checking Cursor MCP configuration... ")
	home, _ := os.UserHomeDir()
	cursorConfig := filepath.Join(home, ".cursor", "mcp.json")
	if _, err := os.Stat(cursorConfig); os.IsNotExist(err) {
		if fix {
			fmt.Print("🛠️  Setting up... ")
			if err := runSetupCursor(); err != nil {
				fmt.Printf("❌ FAILED: %v\n", err)
				issues++
			} else {
				fixed++
			}
		} else {
			fmt.Println("⚠️  WARNING")
			fmt.Println("  Run 'synapse setup cursor' to configure")
			warnings++
		}
	} else {
		fmt.Println("✅ OK")
	}

	// 7. environment
	fmt.Print("✓ Checking environment... ")
	fmt.Printf("✅ OK (%s/%s)\n", runtime.GOOS, runtime.GOARCH)

	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if issues == 0 && warnings == 0 {
		fmt.Println("✅ All checks passed! Synapse is ready to use.")
	} else {
		if fixed > 0 {
			fmt.Printf("🛠️  Auto-fixed %d issue(s)\n", fixed)
		}
		if issues > 0 {
			fmt.Printf("❌ Found %d critical issue(s)\n", issues)
		}
		if warnings > 0 {
			fmt.Printf("⚠️  Found %d warning(s)\n", warnings)
		}
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if issues > 0 {
		return fmt.Errorf("found %d critical issue(s)", issues)
	}
	return nil
}
