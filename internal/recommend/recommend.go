// Package recommend ranks the domain concepts a learner should study next.
package recommend

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/store"
)

const DefaultLimit = 5

// Reader is the part of the store the ranker reads.
type Reader interface {
	Concepts(ctx context.Context, sources ...graph.Source) ([]graph.Concept, error)
	Edges(ctx context.Context, source graph.Source) ([]store.LabeledEdge, error)
	Alignments(ctx context.Context, methods ...graph.Method) ([]graph.Alignment, error)
}

// Recommendation is one ranked concept.
type Recommendation struct {
	ConceptID      int64    `json:"concept_id"`
	Label          string   `json:"label"`
	Why            string   `json:"why"`
	MissingPrereqs []string `json:"missing_prereqs"`
	DueInDays      *int     `json:"due_in_days"`
	Link           string   `json:"link,omitempty"`
	Score          float64  `json:"score"`
	Assessed       bool     `json:"assessed"`
}

// Ranker scores domain concepts that the syllabus covers and the learner has
// not yet shown.
type Ranker struct {
	reader Reader
	// Now is the clock used for due dates.
	Now func() time.Time
}

func New(r Reader) *Ranker {
	return &Ranker{reader: r, Now: time.Now}
}

type candidate struct {
	Recommendation
	frac    float64
	missing []string
}

// NextUp returns at most limit recommendations. Concepts whose prerequisites
// are all shown are preferred; partially ready ones are returned only when no
// concept is fully ready.
func (r *Ranker) NextUp(ctx context.Context, limit int) ([]Recommendation, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	concepts, err := r.reader.Concepts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]graph.Concept, len(concepts))
	for _, c := range concepts {
		byID[c.ID] = c
	}
	edges, err := r.reader.Edges(ctx, graph.Domain)
	if err != nil {
		return nil, err
	}
	aligns, err := r.reader.Alignments(ctx)
	if err != nil {
		return nil, err
	}

	prereqs := make(map[int64][]int64)
	outDegree := make(map[int64]int)
	for _, e := range edges {
		outDegree[e.SrcID]++
		if e.Relation == graph.Prereq {
			prereqs[e.DstID] = append(prereqs[e.DstID], e.SrcID)
		}
	}

	shown := make(map[int64]bool)
	syllabusOf := make(map[int64][]int64)
	var order []int64
	for _, a := range aligns {
		if dg, other, ok := domainSide(a); ok {
			switch other {
			case graph.Personal:
				shown[dg] = true
			case graph.Syllabus:
				sg := a.BID
				if a.ASource == graph.Syllabus {
					sg = a.AID
				}
				if _, seen := syllabusOf[dg]; !seen {
					order = append(order, dg)
				}
				syllabusOf[dg] = append(syllabusOf[dg], sg)
			}
		}
	}

	now := r.Now()
	var ready, partial []candidate
	for _, dg := range order {
		if shown[dg] {
			continue
		}
		c := r.score(dg, byID, prereqs[dg], shown, syllabusOf[dg], outDegree[dg], now)
		if c.frac == 1 {
			ready = append(ready, c)
		} else {
			partial = append(partial, c)
		}
	}

	picks := ready
	if len(picks) == 0 {
		picks = partial
	}
	sort.SliceStable(picks, func(i, j int) bool {
		if picks[i].Score != picks[j].Score {
			return picks[i].Score > picks[j].Score
		}
		return picks[i].Label < picks[j].Label
	})
	if len(picks) > limit {
		picks = picks[:limit]
	}

	out := make([]Recommendation, len(picks))
	for i, p := range picks {
		out[i] = p.Recommendation
	}
	return out, nil
}

// domainSide returns the domain concept of an alignment and the graph on the other side.
func domainSide(a graph.Alignment) (int64, graph.Source, bool) {
	switch {
	case a.ASource == graph.Domain && a.BSource != graph.Domain:
		return a.AID, a.BSource, true
	case a.BSource == graph.Domain && a.ASource != graph.Domain:
		return a.BID, a.ASource, true
	}
	return 0, "", false
}

func (r *Ranker) score(dg int64, byID map[int64]graph.Concept, reqs []int64, shown map[int64]bool,
	syllabus []int64, outDegree int, now time.Time) candidate {

	c := candidate{frac: 1}
	c.ConceptID = dg
	c.Label = labelOf(byID, dg)

	if len(reqs) > 0 {
		met := 0
		for _, req := range reqs {
			if shown[req] {
				met++
			} else {
				c.missing = append(c.missing, labelOf(byID, req))
			}
		}
		c.frac = float64(met) / float64(len(reqs))
	}

	prov := pickProvenance(byID, syllabus)
	c.Assessed = prov.IsAssessed()
	c.Link = prov.Link()
	due := 0.0
	if prov != nil && prov.DueAt != nil {
		days := int(math.Ceil(prov.DueAt.Sub(now).Hours() / 24))
		c.DueInDays = &days
		if days >= 0 && days <= 7 {
			due = math.Min(1, float64(7-days)/7)
		}
	}

	assessed := 0.0
	if c.Assessed {
		assessed = 1
	}
	c.Score = 1 + assessed + due + c.frac + 0.05*float64(outDegree)

	switch {
	case c.frac == 1 && c.Assessed:
		c.Why = "Assessed; all prerequisites satisfied"
	case c.frac == 1:
		c.Why = "All prerequisites satisfied; appears in syllabus"
	default:
		c.Why = fmt.Sprintf("Almost ready (%d%% prereqs met)", int(math.Round(c.frac*100)))
		if c.Assessed {
			c.Why += "; assessed"
		}
	}
	c.MissingPrereqs = []string{}
	if c.frac < 1 {
		c.MissingPrereqs = c.missing
	}
	return c
}

// pickProvenance prefers an assessed syllabus match, then the first one.
func pickProvenance(byID map[int64]graph.Concept, syllabus []int64) *graph.Provenance {
	var first *graph.Provenance
	for _, id := range syllabus {
		p := byID[id].Provenance
		if p == nil {
			continue
		}
		if p.IsAssessed() {
			return p
		}
		if first == nil {
			first = p
		}
	}
	return first
}

func labelOf(byID map[int64]graph.Concept, id int64) string {
	if c, ok := byID[id]; ok {
		return c.Label
	}
	return fmt.Sprintf("Concept %d", id)
}
