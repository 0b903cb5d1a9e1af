package cmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testDomainGraph = `graph TD
  C1["Linear Algebra"] --> C2["Regression"]
  C3["Clustering"]
  C2 --- C3`

const testSyllabusGraph = `graph TD
  SYL["Syllabus"]
  S1["Regression"] -->|part_of| SYL
  S2["Clustering"] -->|part_of| SYL`

const testMeta = `- label: Regression
  provenance:
    type: assignment
    id: 42
    html_url: https://lms.example/assignments/42
`

func setArgs(args ...string) func() {
	orig := os.Args
	os.Args = args
	return func() { os.Args = orig }
}

func captureStdout(f func()) (string, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old; w.Close() }()
	f()
	w.Close()
	data, _ := io.ReadAll(r)
	return string(data), nil
}

// useTempDataDir points synapse at an empty data directory with inference
// disabled and returns the directory.
func useTempDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SYNAPSE_DATA_DIR", dir)
	t.Setenv("SYNAPSE_CONFIG", "")
	t.Setenv("SYNAPSE_LOG_MODE", "prod")
	t.Setenv("SYNAPSE_EMBEDDINGS", "local")
	t.Setenv("OPENAI_API_KEY", "")
	return dir
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// seedGraphs ingests the domain and syllabus fixtures into the current data dir.
func seedGraphs(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	domain := writeTestFile(t, dir, "domain.mmd", testDomainGraph)
	syllabus := writeTestFile(t, dir, "syllabus.mmd", testSyllabusGraph)
	meta := writeTestFile(t, dir, "meta.yaml", testMeta)

	_, err := captureStdout(func() {
		if e := runIngest("domain", domain, "", ""); e != nil {
			t.Fatalf("runIngest(domain): %v", e)
		}
		if e := runIngest("syllabus", syllabus, meta, ""); e != nil {
			t.Fatalf("runIngest(syllabus): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExecute_Help(t *testing.T) {
	defer setArgs("synapse", "help")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(help): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Synapse") {
		t.Errorf("help output should contain 'Synapse': %q", out)
	}
	for _, verb := range []string{"ingest", "track", "align", "next", "export"} {
		if !strings.Contains(out, verb) {
			t.Errorf("help output should list %q", verb)
		}
	}
}

func TestExecute_HelpShortFlag(t *testing.T) {
	defer setArgs("synapse", "-h")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(-h): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) == 0 {
		t.Error("help -h should print")
	}
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")
	if Version != "1.2.3" || Commit != "abc123" || Date != "2026-01-01" {
		t.Errorf("SetVersion: got Version=%q Commit=%q Date=%q", Version, Commit, Date)
	}
	// Restore for other tests
	SetVersion("dev", "none", "unknown")
}
