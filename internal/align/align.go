// Package align computes cross-graph correspondences between concepts, by exact
// normalized label and by embedding similarity.
package align

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CanopyHQ/synapse/internal/embed"
	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/logger"
	"github.com/CanopyHQ/synapse/internal/normalize"
	"github.com/CanopyHQ/synapse/internal/store"
)

const (
	DefaultTopK        = 3
	DefaultThreshold   = 0.82
	DefaultBatchSize   = 100
	DefaultConcurrency = 2
)

// Config tunes embedding alignment.
type Config struct {
	TopK         int
	Threshold    float64
	BatchSize    int
	Concurrency  int
	EmbedTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TopK:         DefaultTopK,
		Threshold:    DefaultThreshold,
		BatchSize:    DefaultBatchSize,
		Concurrency:  DefaultConcurrency,
		EmbedTimeout: 60 * time.Second,
	}
}

// Engine runs alignments against the store. embedder may be nil, in which
// case RunEmbedding fails with embed.ErrNotConfigured.
type Engine struct {
	store    *store.Store
	embedder embed.Embedder
	cfg      Config
	log      *logger.Logger
}

func New(s *store.Store, embedder embed.Embedder, cfg Config, log *logger.Logger) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{store: s, embedder: embedder, cfg: cfg, log: log.With("component", "align")}
}

// RunExact replaces every exact alignment with the pairs of concepts from
// different graphs that share a normalized (or singularized) label. It returns
// the number of rows written.
func (e *Engine) RunExact(ctx context.Context) (int, error) {
	concepts, err := e.store.Concepts(ctx, graph.Sources...)
	if err != nil {
		return 0, err
	}

	buckets := make(map[string]map[graph.Source][]int64)
	var order []string
	for _, c := range concepts {
		for _, key := range normalize.Keys(c.NormLabel) {
			b, ok := buckets[key]
			if !ok {
				b = make(map[graph.Source][]int64)
				buckets[key] = b
				order = append(order, key)
			}
			b[c.Source] = append(b[c.Source], c.ID)
		}
	}

	var pairs []graph.Alignment
	for _, key := range order {
		b := buckets[key]
		for i, sa := range graph.Sources {
			for _, sb := range graph.Sources[i+1:] {
				for _, a := range b[sa] {
					for _, bID := range b[sb] {
						pairs = append(pairs, graph.Alignment{
							AID: a, BID: bID, ASource: sa, BSource: sb,
							Method: graph.MethodExact, Confidence: 1.0,
						})
					}
				}
			}
		}
	}

	written := 0
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.DeleteAlignments(ctx, graph.MethodExact); err != nil {
			return err
		}
		for _, p := range pairs {
			ok, err := tx.InsertAlignment(ctx, p)
			if err != nil {
				return err
			}
			if ok {
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.log.Debug("exact alignments rebuilt", "pairs", written)
	return written, nil
}

// Counts is the number of pairs found per source pair.
type Counts struct {
	DomainSyllabus   int `json:"ds"`
	DomainPersonal   int `json:"dp"`
	SyllabusPersonal int `json:"sp"`
}

type vecConcept struct {
	graph.Concept
	vec []float32
}

// RunEmbedding embeds any concept that lacks a current embedding, then adds
// the top-K nearest neighbours above the threshold for each source pair.
// Existing embedding alignments are kept.
func (e *Engine) RunEmbedding(ctx context.Context) (*Counts, error) {
	if e.embedder == nil {
		return nil, embed.ErrNotConfigured
	}
	if err := e.ensureEmbeddings(ctx); err != nil {
		return nil, err
	}

	concepts, err := e.store.Concepts(ctx, graph.Sources...)
	if err != nil {
		return nil, err
	}
	stored, err := e.store.Embeddings(ctx, graph.Sources...)
	if err != nil {
		return nil, err
	}

	model := e.embedder.Model()
	bySource := make(map[graph.Source][]vecConcept)
	norms := make(map[graph.Source]map[string]bool)
	for _, c := range concepts {
		if norms[c.Source] == nil {
			norms[c.Source] = make(map[string]bool)
		}
		norms[c.Source][c.NormLabel] = true
		if emb, ok := stored[c.ID]; ok && emb.Model == model {
			bySource[c.Source] = append(bySource[c.Source], vecConcept{Concept: c, vec: emb.Vector})
		}
	}

	domain := bySource[graph.Domain]
	var syllabus, personal []vecConcept
	for _, c := range bySource[graph.Syllabus] {
		if !norms[graph.Domain][c.NormLabel] {
			syllabus = append(syllabus, c)
		}
	}
	for _, c := range bySource[graph.Personal] {
		if !norms[graph.Domain][c.NormLabel] && !norms[graph.Syllabus][c.NormLabel] {
			personal = append(personal, c)
		}
	}

	ds, err := e.nearestPairs(ctx, domain, syllabus)
	if err != nil {
		return nil, err
	}
	dp, err := e.nearestPairs(ctx, domain, personal)
	if err != nil {
		return nil, err
	}
	sp, err := e.nearestPairs(ctx, syllabus, personal)
	if err != nil {
		return nil, err
	}
	// syllabus×personal is queried from the syllabus side but stored canonically
	for i := range sp {
		sp[i].AID, sp[i].BID = sp[i].BID, sp[i].AID
		sp[i].ASource, sp[i].BSource = sp[i].BSource, sp[i].ASource
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, group := range [][]graph.Alignment{ds, dp, sp} {
			for _, p := range group {
				if _, err := tx.InsertAlignment(ctx, p); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	counts := &Counts{DomainSyllabus: len(ds), DomainPersonal: len(dp), SyllabusPersonal: len(sp)}
	e.log.Info("embedding alignments computed", "model", model, "ds", counts.DomainSyllabus, "dp", counts.DomainPersonal, "sp", counts.SyllabusPersonal)
	return counts, nil
}

// nearestPairs keeps, for each concept of as, its top-K most similar concepts
// of bs at or above the threshold. Similarity is always the Go cosine of the
// stored vectors; the vector index only narrows the candidates.
func (e *Engine) nearestPairs(ctx context.Context, as, bs []vecConcept) ([]graph.Alignment, error) {
	if len(as) == 0 || len(bs) == 0 {
		return nil, nil
	}
	candidates := make(map[int64]vecConcept, len(bs))
	for _, b := range bs {
		candidates[b.ID] = b
	}
	want := min(e.cfg.TopK, len(bs))
	accept := func(id int64) bool {
		_, ok := candidates[id]
		return ok
	}

	var out []graph.Alignment
	for _, a := range as {
		var top []scored
		neighbors, err := e.store.Nearest(ctx, a.vec, want, accept)
		switch {
		case err == nil && len(neighbors) == want:
			for _, n := range neighbors {
				b := candidates[n.ConceptID]
				top = append(top, scored{id: b.ID, sim: embed.Cosine(a.vec, b.vec)})
			}
			sortScored(top)
		case err == nil || errors.Is(err, store.ErrVecUnavailable):
			top = linearTopK(a.vec, bs, want)
		default:
			return nil, fmt.Errorf("nearest neighbour search failed: %w", err)
		}

		for _, s := range top {
			if s.sim < e.cfg.Threshold {
				continue
			}
			out = append(out, graph.Alignment{
				AID: a.ID, BID: s.id,
				ASource: a.Source, BSource: candidates[s.id].Source,
				Method: graph.MethodEmbedding, Confidence: s.sim,
			})
		}
	}
	return out, nil
}
