package synapse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanopyHQ/synapse/internal/config"
	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/mermaid"
	"github.com/CanopyHQ/synapse/internal/store"
)

const domainGraph = `graph TD
  C1["Linear Algebra"] --> C2["Regression"]
  C3["Clustering"]
  C2 --- C3`

const syllabusGraph = `graph TD
  SYL["Syllabus"]
  S1["Regression"] -->|part_of| SYL
  S2["Clustering"] -->|part_of| SYL`

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeGenerator struct {
	text  string
	topic string
}

func (f *fakeGenerator) GenerateDomainGraph(ctx context.Context, topic string) (string, error) {
	f.topic = topic
	return f.text, nil
}

func setupTestService(t *testing.T, opts Options) (*Service, func()) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	s, err := store.OpenInDir(cfg.DataDir, nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	svc := New(s, cfg, nil, opts)
	svc.Ranker().Now = func() time.Time { return testNow }
	return svc, func() { svc.Close() }
}

func seedGraphs(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.IngestGraph(ctx, graph.Domain, domainGraph, nil)
	require.NoError(t, err)

	due := testNow.Add(71 * time.Hour).Format(time.RFC3339)
	meta, err := ParseMeta([]byte(fmt.Sprintf(`
- label: Regression
  provenance:
    type: assignment
    id: 42
    html_url: https://lms.example/assignments/42
    due_at: %s
`, due)))
	require.NoError(t, err)
	res, err := svc.IngestGraph(ctx, graph.Syllabus, syllabusGraph, meta)
	require.NoError(t, err)
	require.Equal(t, 1, res.Provenance)
}

// ============================================================================
// Ingest
// ============================================================================

func TestIngestGraph(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()

	res, err := svc.IngestGraph(ctx, graph.Domain, domainGraph+"\n  C2 --> C9", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Concepts)
	assert.Equal(t, 2, res.Edges)
	assert.Equal(t, 1, res.SkippedEdges, "C9 has no label")

	snap, err := svc.Snapshot(ctx, graph.Domain)
	require.NoError(t, err)
	assert.Contains(t, snap.Text, "Linear Algebra")

	edges, err := svc.Store().Edges(ctx, graph.Domain)
	require.NoError(t, err)
	assert.Equal(t, graph.RelatesTo, edges[1].Relation)
}

func TestIngestGraph_rejectsPersonalAndEmpty(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()

	_, err := svc.IngestGraph(ctx, graph.Personal, domainGraph, nil)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageIngest, se.Stage)

	_, err = svc.IngestGraph(ctx, graph.Domain, "graph TD;\n%% nothing", nil)
	assert.ErrorIs(t, err, mermaid.ErrEmpty)
}

func TestParseMeta(t *testing.T) {
	meta, err := ParseMeta([]byte(`[{"label":"Week 1","provenance":{"type":"module","id":7}}]`))
	require.NoError(t, err)
	require.Len(t, meta, 1)
	assert.Equal(t, graph.KindModule, meta[0].Provenance.Kind)
	assert.Equal(t, int64(7), meta[0].Provenance.ID)

	meta, err = ParseMeta([]byte("- label: HW1\n  provenance:\n    type: assignment\n    due_at: 2025-03-13T09:00:00Z\n"))
	require.NoError(t, err)
	require.NotNil(t, meta[0].Provenance.DueAt)
	assert.Equal(t, 13, meta[0].Provenance.DueAt.Day())

	_, err = ParseMeta([]byte(`[{"label":"x","provenance":{"type":"wiki"}}]`))
	assert.Error(t, err)

	meta, err = ParseMeta([]byte("  "))
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestGenerateDomain(t *testing.T) {
	gen := &fakeGenerator{text: domainGraph}
	svc, cleanup := setupTestService(t, Options{Generator: gen})
	defer cleanup()

	res, err := svc.GenerateDomain(context.Background(), "  Machine Learning ")
	require.NoError(t, err)
	assert.Equal(t, "Machine Learning", gen.topic)
	assert.Equal(t, graph.Domain, res.Source)
	assert.Equal(t, 3, res.Concepts)
}

// ============================================================================
// Tracking and ranking
// ============================================================================

func TestEndToEnd_regressionRankedFirst(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()
	seedGraphs(t, svc)

	res, err := svc.TrackMessage(ctx, Message{Role: "user", Text: "I understand linear algebra pretty well"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "linear algebra", res.Hits[0].NormLabel)
	require.Len(t, res.Promoted, 1)
	assert.Equal(t, graph.Learning, res.Promoted[0].To)
	assert.Positive(t, res.Exact)

	recs, err := svc.NextUp(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Regression", recs[0].Label)
	require.NotNil(t, recs[0].DueInDays)
	assert.Equal(t, 3, *recs[0].DueInDays)
	assert.True(t, recs[0].Assessed)
	assert.Equal(t, "Clustering", recs[1].Label)
	assert.Nil(t, recs[1].DueInDays)
	assert.Greater(t, recs[0].Score, recs[1].Score)

	prog, err := svc.Progress(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, prog.Counts[graph.Learning])

	snap, err := svc.Snapshot(ctx, graph.Personal)
	require.NoError(t, err)
	assert.Contains(t, snap.Text, `P001["Linear Algebra"]`)
	assert.Contains(t, snap.Text, `R001["Regression"]`)
}

func TestTrackMessage_nonUserTurnOnlyLogged(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()
	seedGraphs(t, svc)

	res, err := svc.TrackMessage(ctx, Message{Role: "assistant", Text: "Linear algebra is about vectors."})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Nil(t, res.Projection)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Events)
	assert.Zero(t, st.Evidence)
}

func TestTrackMessage_emptyText(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()

	_, err := svc.TrackMessage(context.Background(), Message{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageDetection, se.Stage)
}

// ============================================================================
// Alignment, export and reset
// ============================================================================

func TestAlign_localEmbeddings(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()
	seedGraphs(t, svc)

	rep, err := svc.Align(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Exact)
	require.NotNil(t, rep.Embedding)
	assert.Empty(t, rep.EmbeddingError)
	assert.Equal(t, 2, rep.Raw.DomainSyllabus)
	assert.GreaterOrEqual(t, rep.Aligned.DomainSyllabus, 2)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, st.Embeddings)
}

func TestExportAndReset(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()
	seedGraphs(t, svc)
	_, err := svc.TrackMessage(ctx, Message{Text: "linear algebra"})
	require.NoError(t, err)

	exp, err := svc.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, exp.Snapshots, 3)
	assert.Len(t, exp.Progress, 1)
	assert.NotEmpty(t, exp.Alignments)

	require.NoError(t, svc.Reset(ctx))
	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Events)
	assert.Zero(t, st.Evidence)

	_, err = svc.Snapshot(ctx, graph.Domain)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStageError(t *testing.T) {
	inner := errors.New("boom")
	err := wrap(StageAlignment, inner)
	assert.Equal(t, "alignment: boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Same(t, err, wrap(StageRanking, err), "already staged errors pass through")
	assert.NoError(t, wrap(StageReset, nil))
}

func TestReports_failuresCarryReportStage(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()
	seedGraphs(t, svc)
	require.NoError(t, svc.Close())

	calls := map[string]func() error{
		"progress": func() error { _, err := svc.Progress(ctx); return err },
		"snapshot": func() error { _, err := svc.Snapshot(ctx, graph.Domain); return err },
		"stats":    func() error { _, err := svc.Stats(ctx); return err },
		"export":   func() error { _, err := svc.Export(ctx); return err },
	}
	for name, fn := range calls {
		t.Run(name, func(t *testing.T) {
			err := fn()
			var se *StageError
			require.True(t, errors.As(err, &se), "%v", err)
			assert.Equal(t, StageReport, se.Stage)
		})
	}
}

// ============================================================================
// Learner reports
// ============================================================================

const courseGraph = `graph TD
  SYL["Syllabus"]
  S1["Regression"] -->|part_of| SYL
  S2["Clustering"] -->|part_of| SYL
  S3["Linear Algebra"] -->|part_of| SYL`

func seedCourse(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.IngestGraph(ctx, graph.Domain, domainGraph, nil)
	require.NoError(t, err)

	meta, err := ParseMeta([]byte(fmt.Sprintf(`
- label: Regression
  provenance:
    type: assignment
    id: 42
    html_url: https://lms.example/assignments/42
    due_at: %s
- label: Clustering
  provenance:
    type: assignment
    id: 43
    due_at: %s
- label: Linear Algebra
  provenance:
    type: outcome
    id: 7
    html_url: https://lms.example/outcomes/7
`, testNow.Add(71*time.Hour).Format(time.RFC3339), testNow.Add(-2*time.Hour).Format(time.RFC3339))))
	require.NoError(t, err)
	res, err := svc.IngestGraph(ctx, graph.Syllabus, courseGraph, meta)
	require.NoError(t, err)
	require.Equal(t, 3, res.Provenance)
	_, err = svc.RunExactAlignments(ctx)
	require.NoError(t, err)
}

// master drives a domain concept to known with two high-confidence observations.
func master(t *testing.T, svc *Service, label string) {
	t.Helper()
	ctx := context.Background()
	c, err := svc.Store().ConceptByNorm(ctx, graph.Domain, strings.ToLower(label))
	require.NoError(t, err)
	hit := graph.Hit{ConceptID: c.ID, NormLabel: c.NormLabel, Label: c.Label, Confidence: 0.95}
	for i := 0; i < 2; i++ {
		_, err = svc.ApplyEvidence(ctx, []graph.Hit{hit})
		require.NoError(t, err)
	}
	_, err = svc.RunExactAlignments(ctx)
	require.NoError(t, err)
}

func TestConversationSummary(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()
	seedGraphs(t, svc)

	empty, err := svc.ConversationSummary(ctx, "", 0)
	require.NoError(t, err)
	assert.Zero(t, empty.Turns)
	assert.Empty(t, empty.Recent)

	for _, m := range []Message{
		{Role: "user", Text: "I understand linear algebra", TopicHint: "ML"},
		{Role: "assistant", Text: "Great, regression builds on it.", TopicHint: "ml"},
		{Role: "user", Text: "hello"},
	} {
		_, err := svc.TrackMessage(ctx, m)
		require.NoError(t, err)
	}

	sum, err := svc.ConversationSummary(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Turns)
	assert.Equal(t, map[string]int{"user": 2, "assistant": 1}, sum.ByRole)
	require.Len(t, sum.Recent, 3)
	assert.Equal(t, "hello", sum.Recent[0].Content)
	assert.Equal(t, "ml", sum.Topics[0].Topic)
	assert.Equal(t, 2, sum.Topics[0].Turns)
	assert.Equal(t, 1, sum.Mastery[graph.Learning])

	ml, err := svc.ConversationSummary(ctx, " ML ", 1)
	require.NoError(t, err)
	assert.Equal(t, "ML", ml.Topic)
	assert.Equal(t, 2, ml.Turns)
	require.Len(t, ml.Recent, 1)
	assert.Equal(t, "assistant", ml.Recent[0].Role)
}

func TestAssignments_statusFromDueDateAndMastery(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()
	seedCourse(t, svc)

	rep, err := svc.Assignments(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, AssignmentSummary{Total: 2, Pending: 1, Overdue: 1}, rep.Summary)
	require.Len(t, rep.Assignments, 2)

	first := rep.Assignments[0]
	assert.Equal(t, "Clustering", first.Label, "soonest due first")
	assert.Equal(t, StatusOverdue, first.Status)
	assert.Equal(t, int64(43), first.AssignmentID)

	second := rep.Assignments[1]
	assert.Equal(t, "Regression", second.Label)
	assert.Equal(t, StatusPending, second.Status)
	assert.Equal(t, graph.Unknown, second.Mastery)
	require.NotNil(t, second.DueInDays)
	assert.Equal(t, 3, *second.DueInDays)
	assert.Equal(t, "https://lms.example/assignments/42", second.Link)

	master(t, svc, "Regression")
	master(t, svc, "Clustering")

	done, err := svc.Assignments(ctx, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, AssignmentSummary{Total: 2, Completed: 2}, done.Summary)
	require.Len(t, done.Assignments, 2)
	assert.Equal(t, graph.Known, done.Assignments[0].Mastery)

	overdue, err := svc.Assignments(ctx, StatusOverdue)
	require.NoError(t, err)
	assert.Empty(t, overdue.Assignments, "known work is never overdue")
}

func TestParseAssignmentStatus(t *testing.T) {
	st, err := ParseAssignmentStatus(" Overdue ")
	require.NoError(t, err)
	assert.Equal(t, StatusOverdue, st)
	st, err = ParseAssignmentStatus("all")
	require.NoError(t, err)
	assert.Empty(t, st)
	_, err = ParseAssignmentStatus("late")
	assert.Error(t, err)
}

func TestLearningGoals(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()
	seedCourse(t, svc)

	rep, err := svc.LearningGoals(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Goals, 1)
	assert.Equal(t, "Linear Algebra", rep.Goals[0].Label)
	assert.Equal(t, "https://lms.example/outcomes/7", rep.Goals[0].Link)
	assert.False(t, rep.Goals[0].Met)
	assert.Equal(t, 4, rep.SyllabusConcepts)
	assert.Equal(t, 3, rep.AlignedConcepts)
	assert.Equal(t, 75, rep.AlignmentPercent)

	master(t, svc, "Linear Algebra")
	rep, err = svc.LearningGoals(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Goals[0].Met)
	assert.Equal(t, graph.Known, rep.Goals[0].Mastery)
	assert.Equal(t, 1, rep.Met)
}

func TestStartLearning(t *testing.T) {
	gen := &fakeGenerator{text: domainGraph}
	svc, cleanup := setupTestService(t, Options{Generator: gen})
	defer cleanup()
	ctx := context.Background()

	_, err := svc.StartLearning(ctx, "   ", false)
	assert.ErrorIs(t, err, ErrEmptyTopic)

	_, err = svc.IngestGraph(ctx, graph.Syllabus, syllabusGraph, nil)
	require.NoError(t, err)
	res, err := svc.StartLearning(ctx, " Machine Learning ", false)
	require.NoError(t, err)
	assert.Equal(t, "Machine Learning", gen.topic)
	assert.False(t, res.Reset)
	assert.Equal(t, 3, res.Domain.Concepts)
	assert.Equal(t, 2, res.Exact)

	_, err = svc.TrackMessage(ctx, Message{Text: "linear algebra"})
	require.NoError(t, err)
	res, err = svc.StartLearning(ctx, "Machine Learning", true)
	require.NoError(t, err)
	assert.True(t, res.Reset)
	assert.Zero(t, res.Exact, "syllabus was cleared")

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Events)
	assert.Zero(t, st.Concepts[graph.Syllabus])
	assert.Equal(t, 3, st.Concepts[graph.Domain])
}

func TestStartLearning_noGeneratorKeepsState(t *testing.T) {
	svc, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()
	seedGraphs(t, svc)

	_, err := svc.StartLearning(ctx, "Machine Learning", true)
	assert.ErrorIs(t, err, ErrNoGenerator)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Concepts[graph.Domain])
	assert.Equal(t, 3, st.Concepts[graph.Syllabus])
}
