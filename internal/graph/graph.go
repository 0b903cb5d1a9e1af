// Package graph holds the domain types shared by every synapse component:
// concepts, edges, mastery records, evidence, alignments and provenance.
package graph

import (
	"fmt"
	"time"
)

// Source identifies which of the three graphs a concept or edge belongs to.
type Source string

const (
	Domain   Source = "domain"
	Syllabus Source = "syllabus"
	Personal Source = "personal"
)

// Sources lists the graphs in canonical alignment order.
var Sources = []Source{Domain, Personal, Syllabus}

// ParseSource validates a graph name.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case Domain, Syllabus, Personal:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown graph %q (want domain, syllabus or personal)", s)
}

// Rank orders sources canonically: domain < personal < syllabus.
func (s Source) Rank() int {
	switch s {
	case Domain:
		return 0
	case Personal:
		return 1
	case Syllabus:
		return 2
	}
	return 3
}

// Relation is the kind of an edge.
type Relation string

const (
	Prereq    Relation = "prereq"
	RelatesTo Relation = "relates_to"
	PartOf    Relation = "part_of"
)

// Mastery is the progress state of a personal concept.
type Mastery string

const (
	Unknown  Mastery = "unknown"
	Learning Mastery = "learning"
	Known    Mastery = "known"
)

// Rank orders mastery states: unknown < learning < known.
func (m Mastery) Rank() int {
	switch m {
	case Learning:
		return 1
	case Known:
		return 2
	}
	return 0
}

// Concept is a node in one of the three graphs. (NormLabel, Source) is unique.
type Concept struct {
	ID          int64       `json:"id"`
	Label       string      `json:"label"`
	NormLabel   string      `json:"norm_label"`
	Source      Source      `json:"source_graph"`
	Description string      `json:"description,omitempty"`
	Provenance  *Provenance `json:"provenance,omitempty"`
}

// Edge connects two concepts of the same graph.
type Edge struct {
	ID       int64    `json:"id"`
	SrcID    int64    `json:"src_concept_id"`
	DstID    int64    `json:"dst_concept_id"`
	Relation Relation `json:"relation"`
	Source   Source   `json:"source_graph"`
}

// Progress is the mastery record of a personal concept.
type Progress struct {
	ConceptID   int64     `json:"concept_id"`
	Label       string    `json:"label,omitempty"`
	Mastery     Mastery   `json:"mastery"`
	Score       float64   `json:"score"`
	LastUpdated time.Time `json:"last_updated"`
}

// Evidence is one append-only observation behind a mastery update.
type Evidence struct {
	ID         int64     `json:"id"`
	ConceptID  int64     `json:"concept_id"`
	Kind       string    `json:"kind"`
	Payload    string    `json:"payload"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Method is how an alignment was derived.
type Method string

const (
	MethodExact     Method = "exact"
	MethodEmbedding Method = "embedding"
	MethodLLM       Method = "llm"
)

// Alignment asserts that two concepts in different graphs correspond.
// (AID, BID, Method) is unique.
type Alignment struct {
	AID        int64   `json:"a_id"`
	BID        int64   `json:"b_id"`
	ASource    Source  `json:"a_source"`
	BSource    Source  `json:"b_source"`
	Method     Method  `json:"method"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

// Hit is a detected mention of a catalog concept.
type Hit struct {
	ConceptID  int64   `json:"concept_id"`
	NormLabel  string  `json:"norm_label"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Why        string  `json:"why,omitempty"`
}

// Snapshot is the serialized form of a graph at a point in time.
type Snapshot struct {
	Graph     Source    `json:"graph"`
	Text      string    `json:"mermaid"`
	CreatedAt time.Time `json:"created_at"`
}
