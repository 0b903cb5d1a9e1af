package synapse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/mermaid"
	"github.com/CanopyHQ/synapse/internal/normalize"
	"github.com/CanopyHQ/synapse/internal/store"
)

// Meta attaches provenance to a syllabus concept, matched by normalized label.
type Meta struct {
	Label      string           `json:"label" yaml:"label"`
	Provenance graph.Provenance `json:"provenance" yaml:"provenance"`
}

// ParseMeta reads a provenance list as JSON (when it looks like JSON) or YAML.
func ParseMeta(data []byte) ([]Meta, error) {
	var meta []Meta
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var err error
	if trimmed[0] == '[' || trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &meta)
	} else {
		err = yaml.Unmarshal(trimmed, &meta)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse provenance: %w", err)
	}
	for i := range meta {
		if err := meta[i].Provenance.Validate(); err != nil {
			return nil, fmt.Errorf("provenance for %q: %w", meta[i].Label, err)
		}
	}
	return meta, nil
}

// IngestResult summarizes one graph ingest.
type IngestResult struct {
	Source       graph.Source `json:"source"`
	Nodes        int          `json:"nodes"`
	Concepts     int          `json:"concepts"`
	Edges        int          `json:"edges"`
	SkippedEdges int          `json:"skipped_edges"`
	Provenance   int          `json:"provenance_applied"`
}

// IngestGraph loads a domain or syllabus mermaid graph. Concepts are upserted,
// edges appended when both endpoints resolve, and the raw text is snapshotted,
// all in one transaction.
func (s *Service) IngestGraph(ctx context.Context, source graph.Source, text string, meta []Meta) (*IngestResult, error) {
	if source != graph.Domain && source != graph.Syllabus {
		return nil, wrap(StageIngest, fmt.Errorf("cannot ingest into the %s graph", source))
	}
	if len(meta) > 0 && source != graph.Syllabus {
		return nil, wrap(StageIngest, errors.New("provenance applies to the syllabus graph only"))
	}
	g, err := mermaid.Parse(text)
	if err != nil {
		return nil, wrap(StageIngest, err)
	}

	res := &IngestResult{Source: source, Nodes: len(g.Nodes)}
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertSnapshot(ctx, source, text); err != nil {
			return err
		}
		ids := make(map[string]int64, len(g.Nodes))
		seen := make(map[int64]bool)
		for _, n := range g.Nodes {
			id, err := tx.UpsertConcept(ctx, graph.Concept{Label: n.Label, Source: source})
			if errors.Is(err, store.ErrEmptyLabel) {
				s.log.Debug("skipping node with empty label", "node", n.ID)
				continue
			}
			if err != nil {
				return err
			}
			ids[n.ID] = id
			if !seen[id] {
				seen[id] = true
				res.Concepts++
			}
		}
		for _, e := range g.Edges {
			src, okS := ids[e.Src]
			dst, okD := ids[e.Dst]
			if !okS || !okD {
				res.SkippedEdges++
				continue
			}
			if err := tx.InsertEdge(ctx, graph.Edge{SrcID: src, DstID: dst, Relation: e.Relation, Source: source}); err != nil {
				return err
			}
			res.Edges++
		}
		for _, m := range meta {
			c, err := tx.ConceptByNorm(ctx, graph.Syllabus, normalize.Label(m.Label))
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			p := m.Provenance
			if err := tx.SetProvenance(ctx, c.ID, &p); err != nil {
				return err
			}
			res.Provenance++
		}
		return nil
	})
	if err != nil {
		return nil, wrap(StageIngest, err)
	}
	s.log.Info("graph ingested", "source", string(source), "concepts", res.Concepts, "edges", res.Edges, "skipped_edges", res.SkippedEdges)
	return res, nil
}

// GenerateDomain asks the configured model for a domain graph on topic and ingests it.
func (s *Service) GenerateDomain(ctx context.Context, topic string) (*IngestResult, error) {
	text, err := s.draftDomain(ctx, strings.TrimSpace(topic))
	if err != nil {
		return nil, err
	}
	return s.IngestGraph(ctx, graph.Domain, text, nil)
}

// ErrNoGenerator is returned when no model is configured to draft graphs.
var ErrNoGenerator = errors.New("no graph generator configured (set OPENAI_API_KEY)")

func (s *Service) draftDomain(ctx context.Context, topic string) (string, error) {
	if s.generator == nil {
		return "", wrap(StageIngest, ErrNoGenerator)
	}
	text, err := s.generator.GenerateDomainGraph(ctx, topic)
	if err != nil {
		return "", wrap(StageIngest, err)
	}
	return text, nil
}
