package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/CanopyHQ/synapse/internal/graph"
)

// Progress loads the mastery record of a concept.
func (q *Queries) Progress(ctx context.Context, conceptID int64) (*graph.Progress, error) {
	var p graph.Progress
	var m string
	err := q.q.QueryRowContext(ctx, `
		SELECT p.concept_id, c.label, p.mastery, p.score, p.last_updated
		FROM progress p JOIN concepts c ON c.id = p.concept_id
		WHERE p.concept_id = ?
	`, conceptID).Scan(&p.ConceptID, &p.Label, &m, &p.Score, &p.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	p.Mastery = graph.Mastery(m)
	return &p, nil
}

// SaveProgress creates or replaces the mastery record of a concept.
func (q *Queries) SaveProgress(ctx context.Context, conceptID int64, m graph.Mastery, score float64) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO progress (concept_id, mastery, score, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(concept_id) DO UPDATE SET
			mastery = excluded.mastery,
			score = excluded.score,
			last_updated = excluded.last_updated
	`, conceptID, string(m), score, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// MasteredConcept is a personal concept in state learning or known.
type MasteredConcept struct {
	graph.Concept
	Mastery graph.Mastery
	Score   float64
}

// Mastered lists personal concepts in learning or known, known first then by
// label, capped at limit.
func (q *Queries) Mastered(ctx context.Context, limit int) ([]MasteredConcept, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT c.id, c.label, c.norm_label, p.mastery, p.score
		FROM progress p
		JOIN concepts c ON c.id = p.concept_id
		WHERE c.source_graph = 'personal' AND p.mastery IN ('learning','known')
		ORDER BY CASE p.mastery WHEN 'known' THEN 0 ELSE 1 END, c.label, c.id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list mastered concepts: %w", err)
	}
	defer rows.Close()

	var out []MasteredConcept
	for rows.Next() {
		var m MasteredConcept
		var mastery string
		if err := rows.Scan(&m.ID, &m.Label, &m.NormLabel, &mastery, &m.Score); err != nil {
			return nil, err
		}
		m.Source = graph.Personal
		m.Mastery = graph.Mastery(mastery)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListProgress returns every mastery record, highest mastery and score first.
func (q *Queries) ListProgress(ctx context.Context) ([]graph.Progress, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT p.concept_id, c.label, p.mastery, p.score, p.last_updated
		FROM progress p JOIN concepts c ON c.id = p.concept_id
		ORDER BY CASE p.mastery WHEN 'known' THEN 0 WHEN 'learning' THEN 1 ELSE 2 END, p.score DESC, c.label
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var out []graph.Progress
	for rows.Next() {
		var p graph.Progress
		var m string
		if err := rows.Scan(&p.ConceptID, &p.Label, &m, &p.Score, &p.LastUpdated); err != nil {
			return nil, err
		}
		p.Mastery = graph.Mastery(m)
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertEvidence appends one evidence row.
func (q *Queries) InsertEvidence(ctx context.Context, e graph.Evidence) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO evidence (concept_id, kind, payload, confidence)
		VALUES (?, ?, ?, ?)
	`, e.ConceptID, e.Kind, e.Payload, e.Confidence)
	if err != nil {
		return 0, fmt.Errorf("failed to insert evidence: %w", err)
	}
	return res.LastInsertId()
}

// Evidence lists the evidence recorded against a concept, oldest first.
func (q *Queries) Evidence(ctx context.Context, conceptID int64) ([]graph.Evidence, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, concept_id, kind, COALESCE(payload, ''), confidence, created_at
		FROM evidence WHERE concept_id = ? ORDER BY id
	`, conceptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var out []graph.Evidence
	for rows.Next() {
		var e graph.Evidence
		if err := rows.Scan(&e.ID, &e.ConceptID, &e.Kind, &e.Payload, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
