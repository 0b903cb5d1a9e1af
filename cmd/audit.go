package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CanopyHQ/synapse/internal/config"
	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/store"
	"github.com/CanopyHQ/synapse/internal/synapse"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show what synapse keeps about the learner and where it is sent",
	Long: `Audit what synapse keeps about the learner.

Sections:
  1. Learner data: chat turns, personal graph, mastery and course data, as counts only
  2. Files: what each file in the data directory holds and who can read it
  3. Outbound calls: which settings send learner text to a model provider`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAudit()
	},
}

// humanSize formats bytes into a human-readable string.
func humanSize(bytes int64) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// dataFiles are the files synapse writes, with what each one holds.
var dataFiles = []struct {
	name  string
	holds string
}{
	{store.DBFile, "graphs, mastery, evidence and verbatim chat turns"},
	{store.DBFile + "-wal", "database writes not yet checkpointed"},
	{store.DBFile + "-shm", "database lock state"},
	{"config.yaml", "settings"},
	{".env", "environment overrides, may hold OPENAI_API_KEY"},
}

type dataAudit struct {
	dataDir string
	cfg     *config.Config
	issues  int
}

func runAudit() error {
	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("⚠️  Cannot load configuration, auditing defaults: %v\n", err)
		cfg = config.Default()
	}
	cfg.DataDir = dataDir
	a := &dataAudit{dataDir: dataDir, cfg: cfg}

	fmt.Println("🔒 Synapse Data Audit")
	fmt.Printf("   %s\n\n", dataDir)

	auditSection("📚 Section 1: Learner Data")
	if err := a.learnerData(context.Background()); err != nil {
		fmt.Printf("  ⚠️  Cannot read the database: %v\n", err)
		a.issues++
	}

	auditSection("🔐 Section 2: Files")
	a.files()

	auditSection("🌐 Section 3: Outbound Calls")
	a.network()

	fmt.Println(strings.Repeat("━", 40))
	if a.issues == 0 {
		fmt.Println("✅ Audit complete, no issues found.")
	} else {
		fmt.Printf("⚠️  Audit complete, %d issue(s) found. See above.\n", a.issues)
	}
	return nil
}

func auditSection(title string) {
	bar := strings.Repeat("━", 40)
	fmt.Printf("%s\n%s\n%s\n\n", bar, title, bar)
}

// learnerData prints counts from the store, never labels or message text.
func (a *dataAudit) learnerData(ctx context.Context) error {
	dbPath := filepath.Join(a.dataDir, store.DBFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("  Nothing stored yet: synapse has not been used in this data directory.")
		fmt.Println()
		return nil
	}

	s, err := store.Open(dbPath, nil)
	if err != nil {
		return err
	}
	svc := synapse.New(s, a.cfg, nil, synapse.Options{})
	defer svc.Close()

	st, err := svc.Stats(ctx)
	if err != nil {
		return err
	}
	chat, err := svc.ConversationSummary(ctx, "", 1)
	if err != nil {
		return err
	}
	work, err := svc.Assignments(ctx, "")
	if err != nil {
		return err
	}

	fmt.Printf("  Chat turns (verbatim):  %d (%d user, %d assistant)\n",
		st.Events, chat.ByRole["user"], chat.ByRole["assistant"])
	fmt.Printf("  Personal graph:         %d concepts, %d edges\n", st.Concepts[graph.Personal], st.Edges[graph.Personal])
	fmt.Printf("  Mastery records:        %d known, %d learning, %d unknown\n",
		st.Mastery[graph.Known], st.Mastery[graph.Learning], st.Mastery[graph.Unknown])
	fmt.Printf("  Evidence rows:          %d\n", st.Evidence)
	fmt.Printf("  Course data:            %d syllabus concepts, %d assignments (%d overdue)\n",
		st.Concepts[graph.Syllabus], work.Summary.Total, work.Summary.Overdue)
	fmt.Printf("  Reference data:         %d domain concepts, %d edges\n", st.Concepts[graph.Domain], st.Edges[graph.Domain])

	var methods []string
	for _, m := range []graph.Method{graph.MethodExact, graph.MethodEmbedding, graph.MethodLLM} {
		if n := st.Alignments[m]; n > 0 {
			methods = append(methods, fmt.Sprintf("%d %s", n, m))
		}
	}
	if len(methods) == 0 {
		methods = []string{"none"}
	}
	fmt.Printf("  Alignments:             %s\n", strings.Join(methods, ", "))
	fmt.Printf("  Derived:                %d embeddings (%s), %d snapshots\n",
		st.Embeddings, availability(s.VecAvailable()), st.Snapshots)
	fmt.Println()
	fmt.Println("  Only counts are shown. `synapse export` dumps the derived state;")
	fmt.Println("  `synapse reset --yes` deletes all of it, chat turns included.")
	fmt.Println()
	return nil
}

// files lists the known data files with size and mode, flagging anything
// other users can read.
func (a *dataAudit) files() {
	info, err := os.Stat(a.dataDir)
	switch {
	case os.IsNotExist(err):
		fmt.Println("  Data directory does not exist yet.")
		fmt.Println()
		return
	case err != nil:
		fmt.Printf("  ⚠️  Cannot stat data directory: %v\n\n", err)
		a.issues++
		return
	}
	a.checkMode("data directory", a.dataDir, info.Mode().Perm(), "", "chmod 700")

	known := make(map[string]bool)
	var total int64
	for _, f := range dataFiles {
		known[f.name] = true
		path := filepath.Join(a.dataDir, f.name)
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		total += fi.Size()
		a.checkMode(f.name, path, fi.Mode().Perm(), fmt.Sprintf("%s, %s", humanSize(fi.Size()), f.holds), "chmod 600")
	}

	others := 0
	entries, _ := os.ReadDir(a.dataDir)
	for _, e := range entries {
		if !known[e.Name()] {
			others++
		}
	}
	fmt.Println()
	fmt.Printf("  Known files total %s", humanSize(total))
	if others > 0 {
		fmt.Printf("; %d other entr(ies) not written by synapse", others)
	}
	fmt.Println()
	fmt.Println()
}

func (a *dataAudit) checkMode(name, path string, mode os.FileMode, detail, fix string) {
	line := fmt.Sprintf("  %-18s %04o", name, mode)
	if detail != "" {
		line += "  " + detail
	}
	if mode&0007 != 0 {
		fmt.Printf("%s\n    ⚠️  readable by other users. Fix: %s %s\n", line, fix, path)
		a.issues++
		return
	}
	fmt.Printf("%s  ✅\n", line)
}

// network reports which configured features send learner text off the machine.
func (a *dataAudit) network() {
	cfg := a.cfg
	var calls []string
	if cfg.OpenAIAPIKey != "" {
		calls = append(calls,
			fmt.Sprintf("tracked user turns with the domain and syllabus labels, for concept inference (%s detection)", cfg.DetectMode),
			"topics passed to `synapse ingest domain --topic` or start_learning")
		if cfg.Embeddings == "openai" {
			calls = append(calls, fmt.Sprintf("concept labels, for embeddings (%s)", cfg.EmbedModel))
		}
	}

	if len(calls) == 0 {
		fmt.Println("  OPENAI_API_KEY is not set: synapse makes no network connections.")
		fmt.Println("  Concepts are matched against graph labels and embedded on this machine.")
		if cfg.Embeddings == "openai" {
			fmt.Println("  ⚠️  SYNAPSE_EMBEDDINGS=openai has no key, so embedding alignment is skipped.")
		}
	} else {
		base := cfg.OpenAIBaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		fmt.Printf("  OPENAI_API_KEY is set (%s). Sent to %s:\n", redact(cfg.OpenAIAPIKey, 4), base)
		for _, c := range calls {
			fmt.Printf("    - %s\n", c)
		}
		fmt.Println("  Assistant turns and mastery records are never sent.")
	}
	fmt.Println()
	fmt.Println("  Verify while synapse is active:")
	if runtime.GOOS == "darwin" {
		fmt.Println("    sudo lsof -i -P | grep synapse")
	} else {
		fmt.Println("    ss -tnp | grep synapse")
	}
	fmt.Println()
}
