package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setupTestHome points HOME and the data directory at a temp dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SYNAPSE_DATA_DIR", filepath.Join(home, ".synapse"))
	return home
}

// readJSONConfig reads a JSON file into a generic map.
func readJSONConfig(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	var config map[string]interface{}
	if err := json.Unmarshal(data, &config); err != nil {
		t.Fatalf("failed to parse %s: %v", path, err)
	}
	return config
}

// getMCPServers extracts the mcpServers map from a parsed config.
func getMCPServers(t *testing.T, config map[string]interface{}) map[string]interface{} {
	t.Helper()
	servers, ok := config["mcpServers"].(map[string]interface{})
	if !ok {
		t.Fatal("mcpServers not found or not a map")
	}
	return servers
}

func TestSynapseBinary(t *testing.T) {
	path, err := synapseBinary()
	if err != nil {
		t.Fatalf("synapseBinary: %v", err)
	}
	if path == "" {
		t.Error("expected a binary path")
	}
}

func TestSetupCursor_CreatesConfig(t *testing.T) {
	home := setupTestHome(t)

	_, err := captureStdout(func() {
		if e := runSetupCursor(); e != nil {
			t.Fatalf("runSetupCursor: %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	config := readJSONConfig(t, filepath.Join(home, ".cursor", "mcp.json"))
	servers := getMCPServers(t, config)

	server, ok := servers["synapse"].(map[string]interface{})
	if !ok {
		t.Fatal("synapse server is not a map")
	}
	if _, ok := server["command"]; !ok {
		t.Error("synapse server missing 'command' field")
	}
	args, ok := server["args"].([]interface{})
	if !ok || len(args) != 1 || args[0] != "serve" {
		t.Errorf("synapse server args: got %v want [serve]", server["args"])
	}
	env, ok := server["env"].(map[string]interface{})
	if !ok || env["SYNAPSE_DATA_DIR"] != filepath.Join(home, ".synapse") {
		t.Errorf("synapse server should carry SYNAPSE_DATA_DIR: %v", server["env"])
	}
}

func TestSetupCursor_PreservesExistingServers(t *testing.T) {
	home := setupTestHome(t)
	cursorDir := filepath.Join(home, ".cursor")
	if err := os.MkdirAll(cursorDir, 0755); err != nil {
		t.Fatal(err)
	}
	existing := `{"mcpServers":{"other":{"command":"/usr/bin/other","args":[]}},"theme":"dark"}`
	writeTestFile(t, cursorDir, "mcp.json", existing)

	_, err := captureStdout(func() {
		if e := runSetupCursor(); e != nil {
			t.Fatalf("runSetupCursor: %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	config := readJSONConfig(t, filepath.Join(cursorDir, "mcp.json"))
	if config["theme"] != "dark" {
		t.Error("unrelated keys should be preserved")
	}
	servers := getMCPServers(t, config)
	if _, ok := servers["other"]; !ok {
		t.Error("existing server was removed")
	}
	if _, ok := servers["synapse"]; !ok {
		t.Error("synapse server was not added")
	}
}

func TestSetupCursor_InvalidExistingConfig(t *testing.T) {
	home := setupTestHome(t)
	cursorDir := filepath.Join(home, ".cursor")
	if err := os.MkdirAll(cursorDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, cursorDir, "mcp.json", "{broken")

	var runErr error
	_, _ = captureStdout(func() { runErr = runSetupCursor() })
	if runErr == nil {
		t.Error("a broken config should not be overwritten")
	}
}

func TestSetupCursor_Idempotent(t *testing.T) {
	home := setupTestHome(t)

	for i := 0; i < 2; i++ {
		_, err := captureStdout(func() {
			if e := runSetupCursor(); e != nil {
				t.Fatalf("runSetupCursor (run %d): %v", i+1, e)
			}
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	servers := getMCPServers(t, readJSONConfig(t, filepath.Join(home, ".cursor", "mcp.json")))
	if len(servers) != 1 {
		t.Errorf("expected exactly one server after two runs, got %d", len(servers))
	}
}

func TestSetupWindsurf_CreatesConfig(t *testing.T) {
	home := setupTestHome(t)

	_, err := captureStdout(func() {
		if e := runSetupWindsurf(); e != nil {
			t.Fatalf("runSetupWindsurf: %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	servers := getMCPServers(t, readJSONConfig(t, filepath.Join(home, ".windsurf", "mcp_config.json")))
	if _, ok := servers["synapse"]; !ok {
		t.Error("expected synapse server in mcpServers")
	}
}

func TestSetupAutoDetect(t *testing.T) {
	home := setupTestHome(t)
	t.Setenv("PATH", t.TempDir())

	os.MkdirAll(filepath.Join(home, ".cursor"), 0755)
	os.MkdirAll(filepath.Join(home, ".windsurf"), 0755)

	out, err := captureStdout(func() {
		if e := runSetup(); e != nil {
			t.Fatalf("runSetup: %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out, "Detected Cursor") {
		t.Error("auto-detect did not find Cursor")
	}
	if !strings.Contains(out, "Detected Windsurf") {
		t.Error("auto-detect did not find Windsurf")
	}
	if !strings.Contains(out, "configured 2 IDE(s)") {
		t.Errorf("expected two configured IDEs: %q", out)
	}
}

func TestSetupAutoDetect_Nothing(t *testing.T) {
	setupTestHome(t)
	t.Setenv("PATH", t.TempDir())

	out, err := captureStdout(func() {
		if e := runSetup(); e != nil {
			t.Fatalf("runSetup: %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No IDEs automatically detected") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestSetupClaudeCode_NoClaude(t *testing.T) {
	setupTestHome(t)
	t.Setenv("PATH", t.TempDir())

	var runErr error
	_, _ = captureStdout(func() { runErr = runSetupClaudeCode() })
	if runErr == nil || !strings.Contains(runErr.Error(), "claude binary not found") {
		t.Errorf("expected missing claude error, got %v", runErr)
	}
}
