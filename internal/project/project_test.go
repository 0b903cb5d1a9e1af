package project

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/mastery"
	"github.com/CanopyHQ/synapse/internal/store"
)

func setupTestStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	s, err := store.OpenInDir(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s, func() { s.Close() }
}

func mustUpsert(t *testing.T, s *store.Store, label string, source graph.Source) int64 {
	t.Helper()
	id, err := s.UpsertConcept(context.Background(), graph.Concept{Label: label, Source: source})
	require.NoError(t, err)
	return id
}

func mustEdge(t *testing.T, s *store.Store, src, dst int64, rel graph.Relation) {
	t.Helper()
	require.NoError(t, s.InsertEdge(context.Background(), graph.Edge{SrcID: src, DstID: dst, Relation: rel, Source: graph.Domain}))
}

// seedDomain builds Linear Algebra -> Gradient Descent -> Backpropagation,
// with the first edge stored twice.
func seedDomain(t *testing.T, s *store.Store) (la, gd, bp int64) {
	la = mustUpsert(t, s, "Linear Algebra", graph.Domain)
	gd = mustUpsert(t, s, "Gradient Descent", graph.Domain)
	bp = mustUpsert(t, s, "Backpropagation", graph.Domain)
	mustEdge(t, s, la, gd, graph.Prereq)
	mustEdge(t, s, la, gd, graph.Prereq)
	mustEdge(t, s, gd, bp, graph.Prereq)
	return la, gd, bp
}

// ============================================================================
// Evidence and mastery
// ============================================================================

func TestApply_createsMirrorEvidenceAndMastery(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	_, gd, _ := seedDomain(t, s)

	p := New(s, mastery.DefaultThresholds(), 0, nil)
	res, err := p.Apply(ctx, []graph.Hit{{ConceptID: gd, Confidence: 0.95}})
	require.NoError(t, err)
	require.Len(t, res.Mirrors, 1)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, graph.Learning, res.Transitions[0].To, "first evidence is capped at learning")

	mirror, err := s.ConceptByNorm(ctx, graph.Personal, "gradient descent")
	require.NoError(t, err)
	assert.Equal(t, res.Mirrors[0], mirror.ID)

	ev, err := s.Evidence(ctx, mirror.ID)
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Equal(t, "chat", ev[0].Kind)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(ev[0].Payload), &payload))
	assert.Equal(t, "chat", payload["from"])
	assert.Equal(t, "gradient descent", payload["norm_label"])
	assert.EqualValues(t, gd, payload["source_concept_id"])

	res, err = p.Apply(ctx, []graph.Hit{{ConceptID: gd, Confidence: 0.8}})
	require.NoError(t, err)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, graph.Known, res.Transitions[0].To)

	prog, err := s.Progress(ctx, mirror.ID)
	require.NoError(t, err)
	assert.Equal(t, graph.Known, prog.Mastery)
	assert.InDelta(t, 0.95, prog.Score, 1e-9, "score keeps the max")
}

func TestApply_lowConfidenceLeavesNoProgress(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	_, gd, _ := seedDomain(t, s)

	p := New(s, mastery.DefaultThresholds(), 0, nil)
	res, err := p.Apply(ctx, []graph.Hit{{ConceptID: gd, Confidence: 0.3}})
	require.NoError(t, err)
	assert.Empty(t, res.Transitions)

	_, err = s.Progress(ctx, res.Mirrors[0])
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApply_sharedLabelUsesOneMirror(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	_, gd, _ := seedDomain(t, s)
	sg := mustUpsert(t, s, "gradient descent", graph.Syllabus)

	p := New(s, mastery.DefaultThresholds(), 0, nil)
	res, err := p.Apply(ctx, []graph.Hit{{ConceptID: gd, Confidence: 0.7}, {ConceptID: sg, Confidence: 0.9}})
	require.NoError(t, err)
	assert.Len(t, res.Mirrors, 1)

	ev, err := s.Evidence(ctx, res.Mirrors[0])
	require.NoError(t, err)
	assert.Len(t, ev, 2)
}

func TestApply_skipsStructuralAndMissing(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	mod := mustUpsert(t, s, "Module: Week 1", graph.Syllabus)
	page := mustUpsert(t, s, "Optimization Basics", graph.Syllabus)
	require.NoError(t, s.SetProvenance(ctx, page, &graph.Provenance{Kind: graph.KindPage, ID: 7}))

	p := New(s, mastery.DefaultThresholds(), 0, nil)
	res, err := p.Apply(ctx, []graph.Hit{
		{ConceptID: mod, Confidence: 0.9},
		{ConceptID: page, Confidence: 0.9},
		{ConceptID: 9999, Confidence: 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	assert.Empty(t, res.Mirrors)

	personal, err := s.Concepts(ctx, graph.Personal)
	require.NoError(t, err)
	assert.Empty(t, personal)
}

// ============================================================================
// Personal graph rebuild
// ============================================================================

func TestApply_mirrorsDomainEdges(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	la, gd, _ := seedDomain(t, s)

	p := New(s, mastery.DefaultThresholds(), 0, nil)
	res, err := p.Apply(ctx, []graph.Hit{{ConceptID: la, Confidence: 0.7}, {ConceptID: gd, Confidence: 0.7}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Nodes)
	assert.Equal(t, 1, res.Edges, "duplicate domain edges collapse")
	assert.Equal(t, 1, res.Placeholders)

	edges, err := s.Edges(ctx, graph.Personal)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "linear algebra", edges[0].SrcNorm)
	assert.Equal(t, "gradient descent", edges[0].DstNorm)
	assert.Equal(t, graph.Prereq, edges[0].Relation)

	// P001 = Gradient Descent, P002 = Linear Algebra (label order), R001 = Backpropagation
	assert.Contains(t, res.Mermaid, "classDef known fill:#1b5e20,stroke:#2e7d32,color:#ffffff;")
	assert.Contains(t, res.Mermaid, "classDef learning fill:#524600,stroke:#d4af37,color:#ffffff;")
	assert.Contains(t, res.Mermaid, `P001["Gradient Descent"]`)
	assert.Contains(t, res.Mermaid, "class P002 learning;")
	assert.Contains(t, res.Mermaid, "P002 --> P001")
	assert.Contains(t, res.Mermaid, `R001["Backpropagation"]`)
	assert.Contains(t, res.Mermaid, "class R001 related;")
	assert.Contains(t, res.Mermaid, "P001 --> R001")
	assert.Equal(t, 1, strings.Count(res.Mermaid, "P002 --> P001"))

	snap, err := s.LatestSnapshot(ctx, graph.Personal)
	require.NoError(t, err)
	assert.Equal(t, res.Mermaid, snap.Text)

	// placeholders are never persisted
	personal, err := s.Concepts(ctx, graph.Personal)
	require.NoError(t, err)
	assert.Len(t, personal, 2)
}

func TestApply_rebuildReplacesEdges(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	la, gd, bp := seedDomain(t, s)

	p := New(s, mastery.DefaultThresholds(), 0, nil)
	_, err := p.Apply(ctx, []graph.Hit{{ConceptID: la, Confidence: 0.7}, {ConceptID: gd, Confidence: 0.7}})
	require.NoError(t, err)
	res, err := p.Apply(ctx, []graph.Hit{{ConceptID: bp, Confidence: 0.7}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Edges)
	assert.Zero(t, res.Placeholders)

	edges, err := s.Edges(ctx, graph.Personal)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestApply_nodeCap(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	la, gd, bp := seedDomain(t, s)

	p := New(s, mastery.DefaultThresholds(), 2, nil)
	_, err := p.Apply(ctx, []graph.Hit{{ConceptID: la, Confidence: 0.7}, {ConceptID: gd, Confidence: 0.7}})
	require.NoError(t, err)
	_, err = p.Apply(ctx, []graph.Hit{{ConceptID: bp, Confidence: 0.7}, {ConceptID: bp, Confidence: 0.9}})
	require.NoError(t, err)

	// Backpropagation is now known and sorts first; one learning node drops out.
	res, err := p.Apply(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Nodes)
	assert.Contains(t, res.Mermaid, `P001["Backpropagation"]`)
	assert.Contains(t, res.Mermaid, "class P001 known;")
}
