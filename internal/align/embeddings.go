package align

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/CanopyHQ/synapse/internal/embed"
	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/store"
)

// ensureEmbeddings computes vectors for concepts with no embedding or one from
// another model. Provider calls happen before the write transaction.
func (e *Engine) ensureEmbeddings(ctx context.Context) error {
	concepts, err := e.store.Concepts(ctx, graph.Sources...)
	if err != nil {
		return err
	}
	stored, err := e.store.Embeddings(ctx, graph.Sources...)
	if err != nil {
		return err
	}
	model := e.embedder.Model()
	var need []graph.Concept
	for _, c := range concepts {
		if emb, ok := stored[c.ID]; !ok || emb.Model != model {
			need = append(need, c)
		}
	}
	if len(need) == 0 {
		return nil
	}

	var chunks [][]graph.Concept
	for i := 0; i < len(need); i += e.cfg.BatchSize {
		chunks = append(chunks, need[i:min(i+e.cfg.BatchSize, len(need))])
	}
	batches := make([]embed.Batch, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			cctx := gctx
			if e.cfg.EmbedTimeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(gctx, e.cfg.EmbedTimeout)
				defer cancel()
			}
			labels := make([]string, len(chunk))
			for j, c := range chunk {
				labels[j] = c.Label
			}
			b, err := e.embedder.EmbedBatch(cctx, labels)
			if err != nil {
				return fmt.Errorf("embedding batch %d failed: %w", i, err)
			}
			if len(b.Vectors) != len(chunk) || b.Dim == 0 {
				return fmt.Errorf("embedding batch %d: %w (%d vectors for %d labels)", i, embed.ErrEmptyBatch, len(b.Vectors), len(chunk))
			}
			batches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	dim := batches[0].Dim
	for i, b := range batches {
		if b.Dim != dim {
			return fmt.Errorf("embedding batch %d has dimension %d, want %d", i, b.Dim, dim)
		}
	}
	if err := e.store.PrepareVectors(ctx, dim); err != nil {
		e.log.Warn("vector index unavailable, using linear scan", "error", err)
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		for i, chunk := range chunks {
			for j, c := range chunk {
				if err := tx.SaveEmbedding(ctx, store.Embedding{
					ConceptID: c.ID,
					Model:     batches[i].Model,
					Dim:       batches[i].Dim,
					Vector:    batches[i].Vectors[j],
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Info("embedded concepts", "count", len(need), "batches", len(chunks), "model", model, "dim", dim)
	return nil
}

type scored struct {
	id  int64
	sim float64
}

func sortScored(s []scored) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].sim != s[j].sim {
			return s[i].sim > s[j].sim
		}
		return s[i].id < s[j].id
	})
}

func linearTopK(q []float32, bs []vecConcept, k int) []scored {
	all := make([]scored, 0, len(bs))
	for _, b := range bs {
		all = append(all, scored{id: b.ID, sim: embed.Cosine(q, b.vec)})
	}
	sortScored(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}
