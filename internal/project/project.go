// Package project turns detection hits into personal-graph state: evidence,
// mastery, and a personal graph rebuilt from the domain graph.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/logger"
	"github.com/CanopyHQ/synapse/internal/mastery"
	"github.com/CanopyHQ/synapse/internal/mermaid"
	"github.com/CanopyHQ/synapse/internal/store"
)

const DefaultMaxNodes = 250

// Style classes of the personal snapshot.
var classDefs = []mermaid.ClassDef{
	{Name: "known", Style: "fill:#1b5e20,stroke:#2e7d32,color:#ffffff"},
	{Name: "learning", Style: "fill:#524600,stroke:#d4af37,color:#ffffff"},
	{Name: "related", Style: "fill:#263238,stroke:#90a4ae,color:#cfd8dc,stroke-dasharray:4 2"},
}

// Transition records one mastery change caused by a hit.
type Transition struct {
	ConceptID int64
	Label     string
	From      graph.Mastery
	To        graph.Mastery
	Score     float64
}

// Result summarizes one Apply call.
type Result struct {
	Mirrors      []int64
	Skipped      int
	Transitions  []Transition
	Nodes        int
	Edges        int
	Placeholders int
	Mermaid      string
}

// Projector owns the personal graph.
type Projector struct {
	store      *store.Store
	thresholds mastery.Thresholds
	maxNodes   int
	log        *logger.Logger
}

func New(s *store.Store, th mastery.Thresholds, maxNodes int, log *logger.Logger) *Projector {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Projector{store: s, thresholds: th, maxNodes: maxNodes, log: log.With("component", "project")}
}

type evidencePayload struct {
	From            string `json:"from"`
	NormLabel       string `json:"norm_label"`
	SourceConceptID int64  `json:"source_concept_id"`
}

// Apply records the hits and rebuilds the personal graph, all in one transaction.
func (p *Projector) Apply(ctx context.Context, hits []graph.Hit) (*Result, error) {
	res := &Result{}
	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		mirrors := make(map[string]int64)
		for _, h := range hits {
			c, err := tx.Concept(ctx, h.ConceptID)
			if errors.Is(err, store.ErrNotFound) {
				res.Skipped++
				continue
			}
			if err != nil {
				return err
			}
			if c.IsStructural() {
				res.Skipped++
				continue
			}

			pid, ok := mirrors[c.NormLabel]
			if !ok {
				pid, err = tx.UpsertConcept(ctx, graph.Concept{Label: c.Label, Source: graph.Personal})
				if err != nil {
					return err
				}
				mirrors[c.NormLabel] = pid
				res.Mirrors = append(res.Mirrors, pid)
			}

			payload, err := json.Marshal(evidencePayload{From: "chat", NormLabel: c.NormLabel, SourceConceptID: c.ID})
			if err != nil {
				return fmt.Errorf("failed to encode evidence: %w", err)
			}
			if _, err := tx.InsertEvidence(ctx, graph.Evidence{
				ConceptID:  pid,
				Kind:       "chat",
				Payload:    string(payload),
				Confidence: h.Confidence,
			}); err != nil {
				return err
			}

			t, err := p.advance(ctx, tx, pid, c.Label, h.Confidence)
			if err != nil {
				return err
			}
			if t != nil {
				res.Transitions = append(res.Transitions, *t)
			}
		}
		return p.rebuild(ctx, tx, res)
	})
	if err != nil {
		return nil, err
	}
	p.log.Debug("personal graph rebuilt", "hits", len(hits), "nodes", res.Nodes, "edges", res.Edges, "placeholders", res.Placeholders)
	return res, nil
}

func (p *Projector) advance(ctx context.Context, tx *store.Tx, id int64, label string, conf float64) (*Transition, error) {
	var prev *mastery.State
	stored, err := tx.Progress(ctx, id)
	switch {
	case err == nil:
		prev = &mastery.State{Mastery: stored.Mastery, Score: stored.Score}
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	next, ok := mastery.Next(prev, conf, p.thresholds)
	if !ok {
		return nil, nil
	}
	if err := tx.SaveProgress(ctx, id, next.Mastery, next.Score); err != nil {
		return nil, err
	}
	if !mastery.Promoted(prev, next) {
		return nil, nil
	}
	from := graph.Unknown
	if prev != nil {
		from = prev.Mastery
	}
	return &Transition{ConceptID: id, Label: label, From: from, To: next.Mastery, Score: next.Score}, nil
}

type edgeKey struct {
	src, dst int64
	rel      graph.Relation
}

// rebuild replaces the personal edges from the domain graph and writes a snapshot.
func (p *Projector) rebuild(ctx context.Context, tx *store.Tx, res *Result) error {
	mastered, err := tx.Mastered(ctx, p.maxNodes)
	if err != nil {
		return err
	}
	domainEdges, err := tx.Edges(ctx, graph.Domain)
	if err != nil {
		return err
	}
	if _, err := tx.DeleteEdges(ctx, graph.Personal); err != nil {
		return err
	}

	g := &mermaid.Graph{ClassDefs: classDefs}
	type node struct {
		id  int64
		ref string
	}
	byNorm := make(map[string]node, len(mastered))
	for i, m := range mastered {
		ref := fmt.Sprintf("P%03d", i+1)
		byNorm[m.NormLabel] = node{id: m.ID, ref: ref}
		g.Nodes = append(g.Nodes, mermaid.Node{ID: ref, Label: m.Label, Class: string(m.Mastery)})
	}

	related := make(map[string]string)
	relatedRef := func(norm, label string) string {
		if ref, ok := related[norm]; ok {
			return ref
		}
		ref := fmt.Sprintf("R%03d", len(related)+1)
		related[norm] = ref
		g.Nodes = append(g.Nodes, mermaid.Node{ID: ref, Label: label, Class: "related"})
		return ref
	}

	written := make(map[edgeKey]bool)
	rendered := make(map[string]bool)
	render := func(src, dst string, rel graph.Relation) {
		k := src + "\x00" + dst + "\x00" + string(rel)
		if rendered[k] {
			return
		}
		rendered[k] = true
		g.Edges = append(g.Edges, mermaid.Edge{Src: src, Dst: dst, Relation: rel})
	}

	for _, de := range domainEdges {
		s, sOK := byNorm[de.SrcNorm]
		d, dOK := byNorm[de.DstNorm]
		switch {
		case sOK && dOK:
			if s.id == d.id {
				continue
			}
			render(s.ref, d.ref, de.Relation)
			k := edgeKey{s.id, d.id, de.Relation}
			if written[k] {
				continue
			}
			written[k] = true
			if err := tx.InsertEdge(ctx, graph.Edge{SrcID: s.id, DstID: d.id, Relation: de.Relation, Source: graph.Personal}); err != nil {
				return err
			}
		case sOK:
			render(s.ref, relatedRef(de.DstNorm, de.DstLabel), de.Relation)
		case dOK:
			render(relatedRef(de.SrcNorm, de.SrcLabel), d.ref, de.Relation)
		}
	}

	res.Nodes = len(mastered)
	res.Edges = len(written)
	res.Placeholders = len(related)
	res.Mermaid = mermaid.Serialize(g)
	return tx.InsertSnapshot(ctx, graph.Personal, res.Mermaid)
}
