package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/normalize"
)

// ErrEmptyLabel is returned when a label normalizes to nothing.
var ErrEmptyLabel = errors.New("label normalizes to an empty key")

const conceptColumns = `id, label, norm_label, source_graph, COALESCE(description, ''), COALESCE(provenance, '')`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConcept(row scanner) (*graph.Concept, error) {
	var c graph.Concept
	var source, prov string
	if err := row.Scan(&c.ID, &c.Label, &c.NormLabel, &source, &c.Description, &prov); err != nil {
		return nil, err
	}
	c.Source = graph.Source(source)
	p, err := graph.DecodeProvenance(prov)
	if err != nil {
		return nil, fmt.Errorf("concept %d: %w", c.ID, err)
	}
	c.Provenance = p
	return &c, nil
}

// UpsertConcept creates the concept keyed by (normalized label, source) or
// returns the id of the existing one. Existing rows are never modified.
func (q *Queries) UpsertConcept(ctx context.Context, c graph.Concept) (int64, error) {
	norm := normalize.Label(c.Label)
	if norm == "" {
		return 0, ErrEmptyLabel
	}
	prov, err := graph.EncodeProvenance(c.Provenance)
	if err != nil {
		return 0, fmt.Errorf("failed to encode provenance: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO concepts (label, norm_label, source_graph, description, provenance)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))
	`, strings.TrimSpace(c.Label), norm, string(c.Source), c.Description, prov)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert concept: %w", err)
	}

	var id int64
	err = q.q.QueryRowContext(ctx,
		`SELECT id FROM concepts WHERE norm_label = ? AND source_graph = ?`, norm, string(c.Source)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to load upserted concept: %w", err)
	}
	return id, nil
}

// SetProvenance overwrites a concept's provenance.
func (q *Queries) SetProvenance(ctx context.Context, id int64, p *graph.Provenance) error {
	prov, err := graph.EncodeProvenance(p)
	if err != nil {
		return fmt.Errorf("failed to encode provenance: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `UPDATE concepts SET provenance = NULLIF(?, '') WHERE id = ?`, prov, id)
	return err
}

// Concept loads one concept by id.
func (q *Queries) Concept(ctx context.Context, id int64) (*graph.Concept, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+conceptColumns+` FROM concepts WHERE id = ?`, id)
	c, err := scanConcept(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// ConceptByNorm loads the concept with the given normalized label in a graph.
func (q *Queries) ConceptByNorm(ctx context.Context, source graph.Source, norm string) (*graph.Concept, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE source_graph = ? AND norm_label = ?`, string(source), norm)
	c, err := scanConcept(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// Concepts lists the concepts of the given graphs (all graphs when none given), by id.
func (q *Queries) Concepts(ctx context.Context, sources ...graph.Source) ([]graph.Concept, error) {
	query := `SELECT ` + conceptColumns + ` FROM concepts`
	var args []interface{}
	if len(sources) > 0 {
		query += ` WHERE source_graph IN (` + placeholders(len(sources)) + `)`
		for _, s := range sources {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY id`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	defer rows.Close()

	var out []graph.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// InsertEdge appends an edge. Duplicates are allowed.
func (q *Queries) InsertEdge(ctx context.Context, e graph.Edge) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO edges (src_concept_id, dst_concept_id, relation, source_graph)
		VALUES (?, ?, ?, ?)
	`, e.SrcID, e.DstID, string(e.Relation), string(e.Source))
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	return nil
}

// DeleteEdges removes every edge of a graph.
func (q *Queries) DeleteEdges(ctx context.Context, source graph.Source) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM edges WHERE source_graph = ?`, string(source))
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s edges: %w", source, err)
	}
	return res.RowsAffected()
}

// LabeledEdge is an edge joined with both endpoint concepts.
type LabeledEdge struct {
	graph.Edge
	SrcLabel string
	SrcNorm  string
	DstLabel string
	DstNorm  string
}

// Edges lists the edges of a graph with their endpoint labels, in insertion order.
func (q *Queries) Edges(ctx context.Context, source graph.Source) ([]LabeledEdge, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT e.id, e.src_concept_id, e.dst_concept_id, e.relation, e.source_graph,
		       s.label, s.norm_label, d.label, d.norm_label
		FROM edges e
		JOIN concepts s ON s.id = e.src_concept_id
		JOIN concepts d ON d.id = e.dst_concept_id
		WHERE e.source_graph = ?
		ORDER BY e.id
	`, string(source))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s edges: %w", source, err)
	}
	defer rows.Close()

	var out []LabeledEdge
	for rows.Next() {
		var e LabeledEdge
		var rel, src string
		if err := rows.Scan(&e.ID, &e.SrcID, &e.DstID, &rel, &src, &e.SrcLabel, &e.SrcNorm, &e.DstLabel, &e.DstNorm); err != nil {
			return nil, err
		}
		e.Relation = graph.Relation(rel)
		e.Source = graph.Source(src)
		out = append(out, e)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
