package synapse

import (
	"context"
	"errors"
	"time"

	"github.com/CanopyHQ/synapse/internal/align"
	"github.com/CanopyHQ/synapse/internal/embed"
	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/store"
)

// ProgressReport lists mastery records with per-state counts.
type ProgressReport struct {
	Counts map[graph.Mastery]int `json:"counts"`
	Items  []graph.Progress      `json:"items"`
}

// Progress returns every mastery record, most advanced first.
func (s *Service) Progress(ctx context.Context) (*ProgressReport, error) {
	items, err := s.store.ListProgress(ctx)
	if err != nil {
		return nil, wrap(StageReport, err)
	}
	rep := &ProgressReport{Counts: make(map[graph.Mastery]int), Items: items}
	for _, p := range items {
		rep.Counts[p.Mastery]++
	}
	if rep.Items == nil {
		rep.Items = []graph.Progress{}
	}
	return rep, nil
}

// OverlapReport pairs raw label overlaps with stored alignment counts.
type OverlapReport struct {
	Raw     *align.Overlap `json:"overlaps"`
	Aligned *align.Overlap `json:"aligned"`
}

// Overlaps reads both overlap views without recomputing anything.
func (s *Service) Overlaps(ctx context.Context) (*OverlapReport, error) {
	raw, err := s.aligner.Overlaps(ctx)
	if err != nil {
		return nil, wrap(StageAlignment, err)
	}
	aligned, err := s.aligner.AlignedOverlaps(ctx)
	if err != nil {
		return nil, wrap(StageAlignment, err)
	}
	return &OverlapReport{Raw: raw, Aligned: aligned}, nil
}

// AlignReport is the outcome of a full alignment pass.
type AlignReport struct {
	Exact          int           `json:"exact"`
	Embedding      *align.Counts `json:"embedding,omitempty"`
	EmbeddingError string        `json:"embedding_error,omitempty"`
	OverlapReport
}

// Align runs exact then embedding alignment. A missing embedding provider is
// reported, not returned; any other embedding failure is an error.
func (s *Service) Align(ctx context.Context) (*AlignReport, error) {
	n, err := s.RunExactAlignments(ctx)
	if err != nil {
		return nil, err
	}
	rep := &AlignReport{Exact: n}

	counts, err := s.RunEmbeddingAlignments(ctx)
	switch {
	case err == nil:
		rep.Embedding = counts
	case errors.Is(err, embed.ErrNotConfigured):
		rep.EmbeddingError = err.Error()
		s.log.Warn("skipping embedding alignment", "error", err)
	default:
		return nil, err
	}

	ov, err := s.Overlaps(ctx)
	if err != nil {
		return nil, err
	}
	rep.OverlapReport = *ov
	return rep, nil
}

// Snapshot returns the latest stored mermaid text of a graph.
func (s *Service) Snapshot(ctx context.Context, source graph.Source) (*graph.Snapshot, error) {
	snap, err := s.store.LatestSnapshot(ctx, source)
	if err != nil {
		return nil, wrap(StageReport, err)
	}
	return snap, nil
}

// Stats counts stored rows.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	st, err := s.store.Stats(ctx)
	return st, wrap(StageReport, err)
}

// Export is a portable dump of derived learner state.
type Export struct {
	ExportedAt time.Time               `json:"exported_at"`
	Snapshots  map[graph.Source]string `json:"snapshots"`
	Progress   []graph.Progress        `json:"progress"`
	Alignments []graph.Alignment       `json:"alignments"`
}

// Export collects the latest snapshots, progress and alignments.
func (s *Service) Export(ctx context.Context) (*Export, error) {
	out := &Export{ExportedAt: time.Now().UTC(), Snapshots: make(map[graph.Source]string)}
	for _, src := range graph.Sources {
		snap, err := s.store.LatestSnapshot(ctx, src)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, wrap(StageReport, err)
		}
		out.Snapshots[src] = snap.Text
	}
	var err error
	if out.Progress, err = s.store.ListProgress(ctx); err != nil {
		return nil, wrap(StageReport, err)
	}
	if out.Alignments, err = s.store.Alignments(ctx); err != nil {
		return nil, wrap(StageReport, err)
	}
	return out, nil
}
