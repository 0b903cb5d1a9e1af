package detect

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/normalize"
)

const defaultInferConfidence = 0.6

type inferItem struct {
	Label      string      `json:"label"`
	Confidence interface{} `json:"confidence"`
	Why        string      `json:"why"`
}

var errNoArray = errors.New("no JSON array in reply")

// parseInference extracts the JSON array from a model reply, tolerating code
// fences and prose around it.
func parseInference(raw string) ([]inferItem, error) {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end < start {
		return nil, errNoArray
	}
	var items []inferItem
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("invalid inference JSON: %w", err)
	}
	return items, nil
}

// confidence defaults a missing value to 0.6. Anything present but not a
// finite number scores 0, which the threshold filter then drops.
func (it inferItem) confidence() float64 {
	var c float64
	switch v := it.Confidence.(type) {
	case nil:
		return defaultInferConfidence
	case float64:
		c = v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		c = f
	default:
		return 0
	}
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return math.Min(math.Max(c, 0), 1)
}

// mapInference resolves returned labels to every catalog concept sharing the
// normalized form.
func mapInference(items []inferItem, catalog []graph.Concept, mode Mode, lt float64) []graph.Hit {
	byNorm := make(map[string][]graph.Concept)
	for _, c := range catalog {
		if c.NormLabel != "" {
			byNorm[c.NormLabel] = append(byNorm[c.NormLabel], c)
		}
	}

	var hits []graph.Hit
	for _, it := range items {
		norm := normalize.Label(it.Label)
		if norm == "" {
			continue
		}
		conf := it.confidence()
		if mode == Aggressive && conf > 0 {
			conf = math.Max(conf, lt)
		}
		for _, c := range byNorm[norm] {
			why := it.Why
			if why == "" {
				why = "inferred"
			}
			hits = append(hits, graph.Hit{
				ConceptID:  c.ID,
				NormLabel:  c.NormLabel,
				Label:      c.Label,
				Confidence: conf,
				Why:        why,
			})
		}
	}
	return hits
}
