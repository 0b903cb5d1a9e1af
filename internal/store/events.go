package store

import (
	"context"
	"fmt"
	"time"
)

// Event is one logged chat turn.
type Event struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Topic     string    `json:"topic,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TopicCount is the number of turns logged under one topic hint.
type TopicCount struct {
	Topic string `json:"topic"`
	Turns int    `json:"turns"`
}

// InsertEvent logs one conversation turn.
func (q *Queries) InsertEvent(ctx context.Context, role, content, topic string) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO events (role, content, topic) VALUES (?, ?, NULLIF(?, ''))
	`, role, content, topic)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit turns, newest first. A non-empty topic
// restricts the result to turns logged with that hint (case-insensitive).
func (q *Queries) RecentEvents(ctx context.Context, topic string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, role, content, COALESCE(topic, ''), created_at
		FROM events
		WHERE ? = '' OR LOWER(topic) = LOWER(?)
		ORDER BY id DESC
		LIMIT ?
	`, topic, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Role, &e.Content, &e.Topic, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventCounts counts logged turns per role and per lowercased topic hint.
// Turns without a hint are grouped under the empty topic.
func (q *Queries) EventCounts(ctx context.Context, topic string) (map[string]int, []TopicCount, error) {
	byRole := make(map[string]int)
	rows, err := q.q.QueryContext(ctx, `
		SELECT role, COUNT(*) FROM events
		WHERE ? = '' OR LOWER(topic) = LOWER(?)
		GROUP BY role
	`, topic, topic)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count events: %w", err)
	}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			rows.Close()
			return nil, nil, err
		}
		byRole[role] = n
	}
	rows.Close()

	rows, err = q.q.QueryContext(ctx, `
		SELECT LOWER(COALESCE(topic, '')) AS t, COUNT(*) FROM events
		WHERE ? = '' OR LOWER(topic) = LOWER(?)
		GROUP BY t
		ORDER BY COUNT(*) DESC, t
	`, topic, topic)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count topics: %w", err)
	}
	defer rows.Close()
	var topics []TopicCount
	for rows.Next() {
		var tc TopicCount
		if err := rows.Scan(&tc.Topic, &tc.Turns); err != nil {
			return nil, nil, err
		}
		topics = append(topics, tc)
	}
	return byRole, topics, rows.Err()
}
