package align

import (
	"context"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/normalize"
)

// Overlap counts shared concepts per pair of graphs.
type Overlap struct {
	DomainSyllabus   int `json:"dg_sg"`
	DomainPersonal   int `json:"dg_pg"`
	SyllabusPersonal int `json:"sg_pg"`
}

// Overlaps counts raw label intersections between graphs, singular variants included.
func (e *Engine) Overlaps(ctx context.Context) (*Overlap, error) {
	concepts, err := e.store.Concepts(ctx, graph.Sources...)
	if err != nil {
		return nil, err
	}
	sets := make(map[graph.Source]map[string]bool, len(graph.Sources))
	for _, s := range graph.Sources {
		sets[s] = make(map[string]bool)
	}
	for _, c := range concepts {
		for _, k := range normalize.Keys(c.NormLabel) {
			sets[c.Source][k] = true
		}
	}
	intersect := func(a, b map[string]bool) int {
		n := 0
		for k := range a {
			if b[k] {
				n++
			}
		}
		return n
	}
	return &Overlap{
		DomainSyllabus:   intersect(sets[graph.Domain], sets[graph.Syllabus]),
		DomainPersonal:   intersect(sets[graph.Domain], sets[graph.Personal]),
		SyllabusPersonal: intersect(sets[graph.Syllabus], sets[graph.Personal]),
	}, nil
}

// AlignedOverlaps counts stored alignments of every method per pair of graphs.
func (e *Engine) AlignedOverlaps(ctx context.Context) (*Overlap, error) {
	counts, err := e.store.AlignmentCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := &Overlap{}
	for _, pc := range counts {
		switch {
		case pc.ASource == graph.Domain && pc.BSource == graph.Syllabus:
			out.DomainSyllabus += pc.Count
		case pc.ASource == graph.Domain && pc.BSource == graph.Personal:
			out.DomainPersonal += pc.Count
		case pc.ASource == graph.Personal && pc.BSource == graph.Syllabus,
			pc.ASource == graph.Syllabus && pc.BSource == graph.Personal:
			out.SyllabusPersonal += pc.Count
		}
	}
	return out, nil
}
