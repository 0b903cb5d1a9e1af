package synapse

import (
	"context"
	"errors"
	"strings"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/project"
)

// ErrEmptyMessage is returned for blank chat turns.
var ErrEmptyMessage = errors.New("message text is empty")

// Message is one chat turn.
type Message struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	TopicHint string `json:"topic_hint,omitempty"`
}

// TrackResult reports what one tracked turn changed.
type TrackResult struct {
	Hits       []graph.Hit          `json:"hits"`
	Projection *project.Result      `json:"projection,omitempty"`
	Exact      int                  `json:"exact_alignments"`
	Promoted   []project.Transition `json:"promoted,omitempty"`
}

// TrackMessage logs a chat turn and, for user turns, runs detection, evidence
// application and exact alignment.
func (s *Service) TrackMessage(ctx context.Context, m Message) (*TrackResult, error) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return nil, wrap(StageDetection, ErrEmptyMessage)
	}
	role := strings.ToLower(strings.TrimSpace(m.Role))
	if role == "" {
		role = "user"
	}
	if err := s.store.InsertEvent(ctx, role, text, m.TopicHint); err != nil {
		return nil, wrap(StageDetection, err)
	}

	res := &TrackResult{Hits: []graph.Hit{}}
	if role != "user" {
		return res, nil
	}

	hits, err := s.DetectConceptMentions(ctx, text, m.TopicHint)
	if err != nil {
		return nil, err
	}
	res.Hits = hits
	if len(hits) == 0 {
		return res, nil
	}

	proj, err := s.ApplyEvidence(ctx, hits)
	if err != nil {
		return nil, err
	}
	res.Projection = proj
	res.Promoted = proj.Transitions

	n, err := s.RunExactAlignments(ctx)
	if err != nil {
		return nil, err
	}
	res.Exact = n
	return res, nil
}
