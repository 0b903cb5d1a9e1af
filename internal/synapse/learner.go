package synapse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/store"
)

const DefaultSummaryLimit = 10

// ConversationSummary describes the logged chat turns.
type ConversationSummary struct {
	Topic   string                `json:"topic,omitempty"`
	Turns   int                   `json:"turns"`
	ByRole  map[string]int        `json:"by_role"`
	Topics  []store.TopicCount    `json:"topics"`
	Recent  []store.Event         `json:"recent"`
	Mastery map[graph.Mastery]int `json:"mastery"`
}

// ConversationSummary reads back the turn log, optionally restricted to one
// topic hint, with the newest limit turns and the current mastery counts.
func (s *Service) ConversationSummary(ctx context.Context, topic string, limit int) (*ConversationSummary, error) {
	if limit <= 0 {
		limit = DefaultSummaryLimit
	}
	topic = strings.TrimSpace(topic)
	byRole, topics, err := s.store.EventCounts(ctx, topic)
	if err != nil {
		return nil, wrap(StageReport, err)
	}
	recent, err := s.store.RecentEvents(ctx, topic, limit)
	if err != nil {
		return nil, wrap(StageReport, err)
	}
	prog, err := s.Progress(ctx)
	if err != nil {
		return nil, err
	}

	out := &ConversationSummary{
		Topic:   topic,
		ByRole:  byRole,
		Topics:  topics,
		Recent:  recent,
		Mastery: prog.Counts,
	}
	for _, n := range byRole {
		out.Turns += n
	}
	if out.Topics == nil {
		out.Topics = []store.TopicCount{}
	}
	if out.Recent == nil {
		out.Recent = []store.Event{}
	}
	return out, nil
}

// AssignmentStatus is derived from due date and learner mastery.
type AssignmentStatus string

const (
	StatusPending   AssignmentStatus = "pending"
	StatusCompleted AssignmentStatus = "completed"
	StatusOverdue   AssignmentStatus = "overdue"
)

// ParseAssignmentStatus accepts a status filter. "" and "all" mean no filter.
func ParseAssignmentStatus(s string) (AssignmentStatus, error) {
	switch st := AssignmentStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case "", "all":
		return "", nil
	case StatusPending, StatusCompleted, StatusOverdue:
		return st, nil
	}
	return "", fmt.Errorf("unknown assignment status %q (want all, pending, completed or overdue)", s)
}

// Assignment is a syllabus concept with assignment provenance.
type Assignment struct {
	ConceptID    int64            `json:"concept_id"`
	Label        string           `json:"label"`
	AssignmentID int64            `json:"assignment_id,omitempty"`
	DueAt        *time.Time       `json:"due_at"`
	DueInDays    *int             `json:"due_in_days"`
	Link         string           `json:"link,omitempty"`
	Mastery      graph.Mastery    `json:"mastery"`
	Status       AssignmentStatus `json:"status"`
}

// AssignmentSummary counts assignments per status, before filtering.
type AssignmentSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
}

// AssignmentReport lists assignments, soonest due first.
type AssignmentReport struct {
	Assignments []Assignment      `json:"assignments"`
	Summary     AssignmentSummary `json:"summary"`
}

// Assignments lists syllabus assignments with a status: completed once the
// aligned personal concept is known, overdue once the due date has passed,
// pending otherwise. A non-empty filter keeps only that status.
func (s *Service) Assignments(ctx context.Context, filter AssignmentStatus) (*AssignmentReport, error) {
	view, err := s.learnerView(ctx)
	if err != nil {
		return nil, err
	}
	now := s.ranker.Now()

	var all []Assignment
	for _, c := range view.syllabus {
		if c.Provenance == nil || c.Provenance.Kind != graph.KindAssignment {
			continue
		}
		a := Assignment{
			ConceptID:    c.ID,
			Label:        c.Label,
			AssignmentID: c.Provenance.ID,
			DueAt:        c.Provenance.DueAt,
			Link:         c.Provenance.Link(),
			Mastery:      view.mastery(c.ID),
		}
		if a.DueAt != nil {
			days := int(math.Ceil(a.DueAt.Sub(now).Hours() / 24))
			a.DueInDays = &days
		}
		switch {
		case a.Mastery == graph.Known:
			a.Status = StatusCompleted
		case a.DueAt != nil && a.DueAt.Before(now):
			a.Status = StatusOverdue
		default:
			a.Status = StatusPending
		}
		all = append(all, a)
	}
	sort.SliceStable(all, func(i, j int) bool {
		di, dj := all[i].DueAt, all[j].DueAt
		switch {
		case di != nil && dj != nil && !di.Equal(*dj):
			return di.Before(*dj)
		case (di == nil) != (dj == nil):
			return di != nil
		}
		return all[i].Label < all[j].Label
	})

	rep := &AssignmentReport{Assignments: []Assignment{}}
	for _, a := range all {
		rep.Summary.Total++
		switch a.Status {
		case StatusPending:
			rep.Summary.Pending++
		case StatusCompleted:
			rep.Summary.Completed++
		case StatusOverdue:
			rep.Summary.Overdue++
		}
		if filter == "" || a.Status == filter {
			rep.Assignments = append(rep.Assignments, a)
		}
	}
	return rep, nil
}

// Goal is a syllabus outcome and how far the learner is towards it.
type Goal struct {
	ConceptID int64         `json:"concept_id"`
	Label     string        `json:"label"`
	Link      string        `json:"link,omitempty"`
	Mastery   graph.Mastery `json:"mastery"`
	Met       bool          `json:"met"`
}

// GoalsReport lists outcomes plus how much of the syllabus the domain graph covers.
type GoalsReport struct {
	Goals            []Goal `json:"goals"`
	Met              int    `json:"met"`
	SyllabusConcepts int    `json:"syllabus_concepts"`
	AlignedConcepts  int    `json:"aligned_concepts"`
	AlignmentPercent int    `json:"alignment_percent"`
}

// LearningGoals checks every outcome-typed syllabus concept against progress.
// A goal is met when the aligned personal concept is known.
func (s *Service) LearningGoals(ctx context.Context) (*GoalsReport, error) {
	view, err := s.learnerView(ctx)
	if err != nil {
		return nil, err
	}
	rep := &GoalsReport{Goals: []Goal{}, SyllabusConcepts: len(view.syllabus)}
	for _, c := range view.syllabus {
		if view.domainAligned[c.ID] {
			rep.AlignedConcepts++
		}
		if c.Provenance == nil || c.Provenance.Kind != graph.KindOutcome {
			continue
		}
		g := Goal{ConceptID: c.ID, Label: c.Label, Link: c.Provenance.Link(), Mastery: view.mastery(c.ID)}
		g.Met = g.Mastery == graph.Known
		if g.Met {
			rep.Met++
		}
		rep.Goals = append(rep.Goals, g)
	}
	if rep.SyllabusConcepts > 0 {
		rep.AlignmentPercent = int(math.Round(float64(rep.AlignedConcepts) / float64(rep.SyllabusConcepts) * 100))
	}
	return rep, nil
}

// learnerView joins syllabus concepts to personal mastery through alignments,
// either directly or by way of an aligned domain concept.
type learnerView struct {
	syllabus      []graph.Concept
	domainAligned map[int64]bool
	personalOf    map[int64][]int64
	progress      map[int64]graph.Mastery
}

func (s *Service) learnerView(ctx context.Context) (*learnerView, error) {
	syllabus, err := s.store.Concepts(ctx, graph.Syllabus)
	if err != nil {
		return nil, wrap(StageReport, err)
	}
	aligns, err := s.store.Alignments(ctx)
	if err != nil {
		return nil, wrap(StageReport, err)
	}
	items, err := s.store.ListProgress(ctx)
	if err != nil {
		return nil, wrap(StageReport, err)
	}

	v := &learnerView{
		syllabus:      syllabus,
		domainAligned: make(map[int64]bool),
		personalOf:    make(map[int64][]int64),
		progress:      make(map[int64]graph.Mastery, len(items)),
	}
	for _, p := range items {
		v.progress[p.ConceptID] = p.Mastery
	}

	// one hop: syllabus->personal, syllabus->domain, domain->personal
	domainOf := make(map[int64][]int64)
	personalOfDomain := make(map[int64][]int64)
	for _, a := range aligns {
		pair := func(src, dst graph.Source) (int64, int64, bool) {
			switch {
			case a.ASource == src && a.BSource == dst:
				return a.AID, a.BID, true
			case a.BSource == src && a.ASource == dst:
				return a.BID, a.AID, true
			}
			return 0, 0, false
		}
		if sg, pg, ok := pair(graph.Syllabus, graph.Personal); ok {
			v.personalOf[sg] = append(v.personalOf[sg], pg)
		}
		if sg, dg, ok := pair(graph.Syllabus, graph.Domain); ok {
			domainOf[sg] = append(domainOf[sg], dg)
			v.domainAligned[sg] = true
		}
		if dg, pg, ok := pair(graph.Domain, graph.Personal); ok {
			personalOfDomain[dg] = append(personalOfDomain[dg], pg)
		}
	}
	for sg, dgs := range domainOf {
		for _, dg := range dgs {
			v.personalOf[sg] = append(v.personalOf[sg], personalOfDomain[dg]...)
		}
	}
	return v, nil
}

// mastery is the best mastery among personal concepts aligned to a syllabus concept.
func (v *learnerView) mastery(syllabusID int64) graph.Mastery {
	best := graph.Unknown
	for _, pg := range v.personalOf[syllabusID] {
		if m, ok := v.progress[pg]; ok && m.Rank() > best.Rank() {
			best = m
		}
	}
	return best
}

// StartResult reports a learning session started on a topic.
type StartResult struct {
	Topic  string        `json:"topic"`
	Reset  bool          `json:"reset"`
	Domain *IngestResult `json:"domain"`
	Exact  int           `json:"exact_alignments"`
}

// ErrEmptyTopic is returned when a session is started without a topic.
var ErrEmptyTopic = errors.New("topic is required")

// StartLearning drafts a domain graph for topic and aligns it against what is
// already stored. With fresh set, all stored state is cleared first. The
// draft is generated before anything is cleared, so a failed draft leaves
// the store untouched.
func (s *Service) StartLearning(ctx context.Context, topic string, fresh bool) (*StartResult, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, wrap(StageIngest, ErrEmptyTopic)
	}
	text, err := s.draftDomain(ctx, topic)
	if err != nil {
		return nil, err
	}
	res := &StartResult{Topic: topic}
	if fresh {
		if err := s.Reset(ctx); err != nil {
			return nil, err
		}
		res.Reset = true
	}
	if res.Domain, err = s.IngestGraph(ctx, graph.Domain, text, nil); err != nil {
		return nil, err
	}
	if res.Exact, err = s.RunExactAlignments(ctx); err != nil {
		return nil, err
	}
	s.log.Info("learning session started", "topic", topic, "fresh", fresh, "concepts", res.Domain.Concepts)
	return res, nil
}
