package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/CanopyHQ/synapse/internal/graph"
)

// InsertSnapshot stores the serialized text of a graph.
func (q *Queries) InsertSnapshot(ctx context.Context, source graph.Source, text string) error {
	_, err := q.q.ExecContext(ctx, `INSERT INTO snapshots (graph, mermaid) VALUES (?, ?)`, string(source), text)
	if err != nil {
		return fmt.Errorf("failed to insert %s snapshot: %w", source, err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot of a graph.
func (q *Queries) LatestSnapshot(ctx context.Context, source graph.Source) (*graph.Snapshot, error) {
	s := graph.Snapshot{Graph: source}
	err := q.q.QueryRowContext(ctx, `
		SELECT mermaid, created_at FROM snapshots WHERE graph = ? ORDER BY id DESC LIMIT 1
	`, string(source)).Scan(&s.Text, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s snapshot: %w", source, err)
	}
	return &s, nil
}

// Stats summarizes the store contents.
type Stats struct {
	Concepts   map[graph.Source]int  `json:"concepts"`
	Edges      map[graph.Source]int  `json:"edges"`
	Mastery    map[graph.Mastery]int `json:"mastery"`
	Alignments map[graph.Method]int  `json:"alignments"`
	Evidence   int                   `json:"evidence"`
	Embeddings int                   `json:"embeddings"`
	Snapshots  int                   `json:"snapshots"`
	Events     int                   `json:"events"`
	SizeBytes  int64                 `json:"size_bytes"`
}

// Stats counts rows per graph, mastery state and alignment method.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		Concepts:   map[graph.Source]int{},
		Edges:      map[graph.Source]int{},
		Mastery:    map[graph.Mastery]int{},
		Alignments: map[graph.Method]int{},
	}
	grouped := []struct {
		query string
		add   func(key string, n int)
	}{
		{`SELECT source_graph, COUNT(*) FROM concepts GROUP BY source_graph`, func(k string, n int) { st.Concepts[graph.Source(k)] = n }},
		{`SELECT source_graph, COUNT(*) FROM edges GROUP BY source_graph`, func(k string, n int) { st.Edges[graph.Source(k)] = n }},
		{`SELECT mastery, COUNT(*) FROM progress GROUP BY mastery`, func(k string, n int) { st.Mastery[graph.Mastery(k)] = n }},
		{`SELECT method, COUNT(*) FROM alignments GROUP BY method`, func(k string, n int) { st.Alignments[graph.Method(k)] = n }},
	}
	for _, g := range grouped {
		rows, err := s.db.QueryContext(ctx, g.query)
		if err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, err
			}
			g.add(key, n)
		}
		rows.Close()
	}

	counts := map[string]*int{
		"evidence":   &st.Evidence,
		"embeddings": &st.Embeddings,
		"snapshots":  &st.Snapshots,
		"events":     &st.Events,
	}
	for table, dst := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
	}

	if info, err := os.Stat(s.path); err == nil {
		st.SizeBytes = info.Size()
	}
	return st, nil
}
