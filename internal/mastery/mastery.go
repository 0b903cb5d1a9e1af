// Package mastery implements the per-concept unknown → learning → known ratchet.
package mastery

import (
	"math"

	"github.com/CanopyHQ/synapse/internal/graph"
)

const (
	DefaultLearningThreshold = 0.55
	DefaultKnownThreshold    = 0.78
)

// Thresholds are the confidence levels that promote a concept.
type Thresholds struct {
	Learning float64
	Known    float64
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Learning: DefaultLearningThreshold, Known: DefaultKnownThreshold}
}

// State is a stored mastery record.
type State struct {
	Mastery graph.Mastery
	Score   float64
}

// Next computes the state after one piece of evidence. prev is nil when the
// concept has no record yet. The returned bool is false when no record should
// exist (first evidence below the learning threshold).
//
// A concept moves at most one step per call, so a fresh concept can never
// reach known directly however high the confidence.
func Next(prev *State, confidence float64, th Thresholds) (State, bool) {
	if prev == nil {
		if confidence >= th.Learning {
			return State{Mastery: graph.Learning, Score: confidence}, true
		}
		return State{}, false
	}

	next := State{Mastery: prev.Mastery, Score: math.Max(prev.Score, confidence)}
	switch {
	case prev.Mastery == graph.Unknown && confidence >= th.Learning:
		next.Mastery = graph.Learning
	case prev.Mastery == graph.Learning && confidence >= th.Known:
		next.Mastery = graph.Known
	}
	return next, true
}

// Promoted reports whether next is a strictly higher mastery than prev.
func Promoted(prev *State, next State) bool {
	if prev == nil {
		return next.Mastery.Rank() > graph.Unknown.Rank()
	}
	return next.Mastery.Rank() > prev.Mastery.Rank()
}
