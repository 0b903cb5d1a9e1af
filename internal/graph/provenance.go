package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ProvenanceKind tags where a syllabus concept came from.
type ProvenanceKind string

const (
	KindSyllabus       ProvenanceKind = "syllabus"
	KindCourse         ProvenanceKind = "course"
	KindModule         ProvenanceKind = "module"
	KindModuleItem     ProvenanceKind = "module_item"
	KindPage           ProvenanceKind = "page"
	KindPageAnchor     ProvenanceKind = "page_anchor"
	KindPageHeading    ProvenanceKind = "page_heading"
	KindFile           ProvenanceKind = "file"
	KindFilePage       ProvenanceKind = "file_page"
	KindAssignment     ProvenanceKind = "assignment"
	KindAssignmentDesc ProvenanceKind = "assignment_desc"
	KindOutcome        ProvenanceKind = "outcome"
)

// Provenance is a tagged union keyed by Kind. Which fields are meaningful
// depends on the kind: DueAt only for assignments, Page only for file pages, etc.
type Provenance struct {
	Kind     ProvenanceKind `json:"type" yaml:"type"`
	ID       int64          `json:"id,omitempty" yaml:"id,omitempty"`
	CourseID int64          `json:"course_id,omitempty" yaml:"course_id,omitempty"`
	ModuleID int64          `json:"module_id,omitempty" yaml:"module_id,omitempty"`
	FileID   int64          `json:"file_id,omitempty" yaml:"file_id,omitempty"`
	Page     int            `json:"page,omitempty" yaml:"page,omitempty"`
	HTMLURL  string         `json:"html_url,omitempty" yaml:"html_url,omitempty"`
	URL      string         `json:"url,omitempty" yaml:"url,omitempty"`
	DueAt    *time.Time     `json:"due_at,omitempty" yaml:"due_at,omitempty"`
}

// Validate rejects unknown kinds and fields that don't belong to the kind.
func (p *Provenance) Validate() error {
	switch p.Kind {
	case KindSyllabus, KindCourse, KindModule, KindModuleItem, KindPage, KindPageAnchor,
		KindPageHeading, KindFile, KindFilePage, KindAssignmentDesc, KindOutcome:
		if p.DueAt != nil {
			return fmt.Errorf("provenance %s cannot carry a due date", p.Kind)
		}
		return nil
	case KindAssignment:
		return nil
	}
	return fmt.Errorf("unknown provenance type %q", p.Kind)
}

// IsStructural reports whether the concept is a course-structure artifact
// (a wrapper node) rather than a learnable topic.
func (p *Provenance) IsStructural() bool {
	if p == nil {
		return false
	}
	switch p.Kind {
	case KindCourse, KindModule, KindModuleItem, KindPage, KindPageAnchor, KindFile,
		KindAssignment, KindOutcome:
		return true
	case KindSyllabus, KindPageHeading, KindFilePage, KindAssignmentDesc:
		return false
	}
	return false
}

// IsAssessed reports whether the concept is graded.
func (p *Provenance) IsAssessed() bool {
	if p == nil {
		return false
	}
	switch p.Kind {
	case KindAssignment, KindOutcome:
		return true
	}
	return false
}

// Link returns the best URL for the concept, if any.
func (p *Provenance) Link() string {
	if p == nil {
		return ""
	}
	if p.HTMLURL != "" {
		return p.HTMLURL
	}
	return p.URL
}

// EncodeProvenance serializes provenance for storage; nil encodes to "".
func EncodeProvenance(p *Provenance) (string, error) {
	if p == nil {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeProvenance parses stored provenance; "" decodes to nil.
func DecodeProvenance(s string) (*Provenance, error) {
	if strings.TrimSpace(s) == "" || s == "null" {
		return nil, nil
	}
	var p Provenance
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("failed to decode provenance: %w", err)
	}
	return &p, nil
}

var structuralPrefixes = []string{
	"module:", "page:", "file:", "assignment:", "outcome:", "course:", "__page_anchor__",
}

var structuralWrappers = map[string]bool{
	"syllabus":    true,
	"outcomes":    true,
	"pages":       true,
	"files":       true,
	"modules":     true,
	"assignments": true,
}

// IsStructuralLabel reports whether a raw label looks like a course-structure
// wrapper ("Module: Week 2", "Pages", ...).
func IsStructuralLabel(label string) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	if structuralWrappers[l] {
		return true
	}
	for _, prefix := range structuralPrefixes {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// IsStructural reports whether the concept should be kept out of the personal graph.
func (c *Concept) IsStructural() bool {
	return IsStructuralLabel(c.Label) || c.Provenance.IsStructural()
}
