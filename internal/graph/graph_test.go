package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	for _, s := range []string{"domain", "syllabus", "personal"} {
		got, err := ParseSource(s)
		require.NoError(t, err)
		assert.Equal(t, Source(s), got)
	}
	_, err := ParseSource("global")
	assert.Error(t, err)
}

func TestSourceRankCanonicalOrder(t *testing.T) {
	assert.Less(t, Domain.Rank(), Personal.Rank())
	assert.Less(t, Personal.Rank(), Syllabus.Rank())
}

func TestProvenanceStructural(t *testing.T) {
	structural := []ProvenanceKind{KindCourse, KindModule, KindModuleItem, KindPage, KindPageAnchor, KindFile, KindAssignment, KindOutcome}
	topics := []ProvenanceKind{KindSyllabus, KindPageHeading, KindFilePage, KindAssignmentDesc}

	for _, k := range structural {
		assert.True(t, (&Provenance{Kind: k}).IsStructural(), k)
	}
	for _, k := range topics {
		assert.False(t, (&Provenance{Kind: k}).IsStructural(), k)
	}
	var nilProv *Provenance
	assert.False(t, nilProv.IsStructural())
	assert.False(t, nilProv.IsAssessed())
	assert.Equal(t, "", nilProv.Link())
}

func TestProvenanceAssessedAndLink(t *testing.T) {
	assert.True(t, (&Provenance{Kind: KindAssignment}).IsAssessed())
	assert.True(t, (&Provenance{Kind: KindOutcome}).IsAssessed())
	assert.False(t, (&Provenance{Kind: KindAssignmentDesc}).IsAssessed())

	assert.Equal(t, "https://lms/a/1", (&Provenance{HTMLURL: "https://lms/a/1", URL: "https://api/a/1"}).Link())
	assert.Equal(t, "https://api/a/1", (&Provenance{URL: "https://api/a/1"}).Link())
}

func TestProvenanceValidate(t *testing.T) {
	due := time.Now()
	assert.NoError(t, (&Provenance{Kind: KindAssignment, DueAt: &due}).Validate())
	assert.Error(t, (&Provenance{Kind: KindPage, DueAt: &due}).Validate())
	assert.Error(t, (&Provenance{Kind: "quiz"}).Validate())
}

func TestProvenanceRoundTrip(t *testing.T) {
	due := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	in := &Provenance{Kind: KindAssignment, ID: 42, HTMLURL: "https://lms/a/42", DueAt: &due}

	s, err := EncodeProvenance(in)
	require.NoError(t, err)
	out, err := DecodeProvenance(s)
	require.NoError(t, err)
	assert.Equal(t, in.Kind, out.Kind)
	assert.True(t, due.Equal(*out.DueAt))

	empty, err := EncodeProvenance(nil)
	require.NoError(t, err)
	assert.Equal(t, "", empty)
	none, err := DecodeProvenance("")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestIsStructuralLabel(t *testing.T) {
	for _, l := range []string{"Module: Week 1", "Page: Intro", "Assignment: HW1", "Outcomes", "  syllabus ", "Course: Stats 101", "__PAGE_ANCHOR__intro"} {
		assert.True(t, IsStructuralLabel(l), l)
	}
	for _, l := range []string{"Linear Regression", "Modules of groups", "Page rank"} {
		assert.False(t, IsStructuralLabel(l), l)
	}
	c := &Concept{Label: "Regression", Provenance: &Provenance{Kind: KindModuleItem}}
	assert.True(t, c.IsStructural())
}
