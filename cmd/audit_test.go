package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func auditOutput(t *testing.T) string {
	t.Helper()
	out, err := captureStdout(func() {
		if e := runAudit(); e != nil {
			t.Fatalf("runAudit: %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// lockDown makes every file in the data directory owner-only.
func lockDown(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := os.Chmod(filepath.Join(dir, e.Name()), 0600); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunAudit_EmptyDataDir(t *testing.T) {
	useTempDataDir(t)

	out := auditOutput(t)
	for _, want := range []string{"Data Audit", "Learner Data", "Nothing stored yet", "makes no network connections", "no issues found"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output: %q", want, out)
		}
	}
}

func TestRunAudit_CountsLearnerData(t *testing.T) {
	dir := useTempDataDir(t)
	seedGraphs(t)
	if _, err := captureStdout(func() {
		if e := runTrack("I understand linear algebra pretty well", "user", ""); e != nil {
			t.Fatalf("runTrack: %v", e)
		}
		if e := runTrack("Linear algebra underpins regression.", "assistant", ""); e != nil {
			t.Fatalf("runTrack: %v", e)
		}
	}); err != nil {
		t.Fatal(err)
	}
	lockDown(t, dir)

	out := auditOutput(t)
	for _, want := range []string{
		"Chat turns (verbatim):  2 (1 user, 1 assistant)",
		"0 known, 1 learning",
		"3 syllabus concepts, 1 assignments (0 overdue)",
		"3 domain concepts, 2 edges",
		" exact",
		"synapse.db",
		"no issues found",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output: %q", want, out)
		}
	}
	for _, secret := range []string{"Linear Algebra", "linear algebra", "underpins"} {
		if strings.Contains(out, secret) {
			t.Errorf("audit must not print learner content, found %q", secret)
		}
	}
}

func TestRunAudit_FlagsReadableDatabase(t *testing.T) {
	dir := useTempDataDir(t)
	seedGraphs(t)
	lockDown(t, dir)
	if err := os.Chmod(filepath.Join(dir, "synapse.db"), 0644); err != nil {
		t.Fatal(err)
	}

	out := auditOutput(t)
	if !strings.Contains(out, "readable by other users. Fix: chmod 600") {
		t.Errorf("expected a permission warning: %q", out)
	}
	if !strings.Contains(out, "issue(s) found") {
		t.Errorf("expected the warning to count as an issue: %q", out)
	}
}

func TestRunAudit_WithKey(t *testing.T) {
	useTempDataDir(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-0123456789")
	t.Setenv("SYNAPSE_EMBEDDINGS", "openai")

	out := auditOutput(t)
	if !strings.Contains(out, "sk-t...6789") {
		t.Errorf("expected a redacted key: %q", out)
	}
	if strings.Contains(out, "sk-test-0123456789") {
		t.Error("the full key must never be printed")
	}
	if !strings.Contains(out, "concept labels, for embeddings") {
		t.Errorf("openai embeddings should be listed as an outbound call: %q", out)
	}
}

func TestExecute_Audit(t *testing.T) {
	useTempDataDir(t)

	defer setArgs("synapse", "audit")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(audit): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Data Audit") {
		t.Errorf("expected audit output: %q", out)
	}
}
