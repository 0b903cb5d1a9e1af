package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/CanopyHQ/synapse/internal/graph"
)

// Embedding is the stored vector of one concept.
type Embedding struct {
	ConceptID int64
	Model     string
	Dim       int
	Vector    []float32
}

// SaveEmbedding replaces the embedding of a concept and mirrors it into the
// vector index when the index has the same dimension.
func (q *Queries) SaveEmbedding(ctx context.Context, e Embedding) error {
	if len(e.Vector) == 0 || len(e.Vector) != e.Dim {
		return fmt.Errorf("concept %d: embedding has %d values, want dim %d", e.ConceptID, len(e.Vector), e.Dim)
	}
	blob, err := sqlite_vec.SerializeFloat32(e.Vector)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO embeddings (concept_id, model, dim, vector)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(concept_id) DO UPDATE SET
			model = excluded.model,
			dim = excluded.dim,
			vector = excluded.vector,
			created_at = CURRENT_TIMESTAMP
	`, e.ConceptID, e.Model, e.Dim, blob)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return q.vec.insert(ctx, q.q, e.ConceptID, blob, e.Dim)
}

// Embeddings loads the embeddings of every concept in the given graphs.
func (q *Queries) Embeddings(ctx context.Context, sources ...graph.Source) (map[int64]Embedding, error) {
	query := `SELECT e.concept_id, e.model, e.dim, e.vector FROM embeddings e JOIN concepts c ON c.id = e.concept_id`
	var args []interface{}
	if len(sources) > 0 {
		query += ` WHERE c.source_graph IN (` + placeholders(len(sources)) + `)`
		for _, s := range sources {
			args = append(args, string(s))
		}
	}
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]Embedding)
	for rows.Next() {
		var e Embedding
		var blob []byte
		if err := rows.Scan(&e.ConceptID, &e.Model, &e.Dim, &blob); err != nil {
			return nil, err
		}
		e.Vector = decodeFloat32(blob)
		out[e.ConceptID] = e
	}
	return out, rows.Err()
}

// decodeFloat32 is the inverse of sqlite_vec.SerializeFloat32.
func decodeFloat32(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

// PrepareVectors makes the vector index ready for vectors of dim, rebuilding it
// when the dimension changed. Call it before the transaction that saves embeddings.
func (s *Store) PrepareVectors(ctx context.Context, dim int) error {
	return s.vec.ensure(ctx, s.db, dim)
}

// Neighbor is one KNN result.
type Neighbor struct {
	ConceptID  int64
	Similarity float64
}

// Nearest returns up to k concepts closest to query (cosine) among those accepted
// by the filter, best first. It returns ErrVecUnavailable when the index can't
// answer for this dimension; callers then scan linearly.
func (s *Store) Nearest(ctx context.Context, query []float32, k int, accept func(id int64) bool) ([]Neighbor, error) {
	if !s.vec.ready(len(query)) {
		return nil, ErrVecUnavailable
	}
	if k <= 0 {
		return nil, nil
	}
	total, err := s.vec.count(ctx, s.db)
	if err != nil {
		return nil, err
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query: %w", err)
	}

	// vec0 scans exhaustively, so widening the window until k accepted rows
	// survive the filter (or the window covers the table) keeps the result exact.
	limit := k * 4
	if limit < 16 {
		limit = 16
	}
	for {
		results, err := s.vec.search(ctx, s.db, blob, limit)
		if err != nil {
			return nil, err
		}
		var out []Neighbor
		for _, r := range results {
			if accept != nil && !accept(r.ConceptID) {
				continue
			}
			out = append(out, Neighbor{ConceptID: r.ConceptID, Similarity: 1 - r.Distance})
			if len(out) == k {
				return out, nil
			}
		}
		if limit >= total {
			return out, nil
		}
		limit *= 2
	}
}
