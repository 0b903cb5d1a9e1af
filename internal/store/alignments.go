package store

import (
	"context"
	"fmt"

	"github.com/CanopyHQ/synapse/internal/graph"
)

// DeleteAlignments removes every alignment produced by a method.
func (q *Queries) DeleteAlignments(ctx context.Context, method graph.Method) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM alignments WHERE method = ?`, string(method))
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s alignments: %w", method, err)
	}
	return res.RowsAffected()
}

// InsertAlignment stores an alignment unless (a, b, method) already exists.
// Self-alignments are dropped. Reports whether a row was written.
func (q *Queries) InsertAlignment(ctx context.Context, a graph.Alignment) (bool, error) {
	if a.AID == a.BID {
		return false, nil
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO alignments (a_id, b_id, a_source, b_source, method, confidence, notes)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''))
	`, a.AID, a.BID, string(a.ASource), string(a.BSource), string(a.Method), a.Confidence, a.Notes)
	if err != nil {
		return false, fmt.Errorf("failed to insert alignment: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Alignments lists alignments, optionally restricted to some methods.
func (q *Queries) Alignments(ctx context.Context, methods ...graph.Method) ([]graph.Alignment, error) {
	query := `SELECT a_id, b_id, a_source, b_source, method, confidence, COALESCE(notes, '') FROM alignments`
	var args []interface{}
	if len(methods) > 0 {
		query += ` WHERE method IN (` + placeholders(len(methods)) + `)`
		for _, m := range methods {
			args = append(args, string(m))
		}
	}
	query += ` ORDER BY id`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alignments: %w", err)
	}
	defer rows.Close()

	var out []graph.Alignment
	for rows.Next() {
		var a graph.Alignment
		var as, bs, m string
		if err := rows.Scan(&a.AID, &a.BID, &as, &bs, &m, &a.Confidence, &a.Notes); err != nil {
			return nil, err
		}
		a.ASource, a.BSource, a.Method = graph.Source(as), graph.Source(bs), graph.Method(m)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAlignments counts the alignments of one method.
func (q *Queries) CountAlignments(ctx context.Context, method graph.Method) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM alignments WHERE method = ?`, string(method)).Scan(&n)
	return n, err
}

// PairCount is the number of alignments between two graphs.
type PairCount struct {
	ASource graph.Source `json:"a_source"`
	BSource graph.Source `json:"b_source"`
	Count   int          `json:"count"`
}

// AlignmentCounts groups all alignments by source pair.
func (q *Queries) AlignmentCounts(ctx context.Context) ([]PairCount, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT a_source, b_source, COUNT(*)
		FROM alignments
		GROUP BY a_source, b_source
		ORDER BY a_source, b_source
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count alignments: %w", err)
	}
	defer rows.Close()

	var out []PairCount
	for rows.Next() {
		var pc PairCount
		var as, bs string
		if err := rows.Scan(&as, &bs, &pc.Count); err != nil {
			return nil, err
		}
		pc.ASource, pc.BSource = graph.Source(as), graph.Source(bs)
		out = append(out, pc)
	}
	return out, rows.Err()
}
