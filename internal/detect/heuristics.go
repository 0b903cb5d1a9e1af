package detect

import (
	"math"
	"strings"

	"github.com/CanopyHQ/synapse/internal/graph"
)

// exactMentions runs the string heuristics against already normalized text.
// The first catalog concept per normalized label wins.
func exactMentions(normText string, catalog []graph.Concept, mode Mode, lt float64, maxCells int) []graph.Hit {
	if normText == "" {
		return nil
	}
	hay := " " + normText + " "
	seen := make(map[string]bool)
	var hits []graph.Hit

	for _, c := range catalog {
		if c.NormLabel == "" || seen[c.NormLabel] {
			continue
		}
		conf, why, ok := matchConcept(c.NormLabel, normText, hay, mode, lt, maxCells)
		if !ok {
			continue
		}
		seen[c.NormLabel] = true
		hits = append(hits, graph.Hit{
			ConceptID:  c.ID,
			NormLabel:  c.NormLabel,
			Label:      c.Label,
			Confidence: conf,
			Why:        why,
		})
	}
	return hits
}

func matchConcept(label, normText, hay string, mode Mode, lt float64, maxCells int) (float64, string, bool) {
	padded := strings.Contains(hay, " "+label+" ")
	if mode == Conservative {
		if padded {
			return math.Max(lt, 0.6), "exact", true
		}
		return 0, "", false
	}

	if padded {
		return math.Max(lt+0.1, 0.7), "exact", true
	}
	if partialMatch(label, normText) {
		return lt + 0.05, "partial", true
	}
	if len(label) > 4 && strings.Contains(normText, label) {
		return lt, "substring", true
	}
	if lcsRatio(label, normText, maxCells) > fuzzyMinRatio {
		return lt, "fuzzy", true
	}
	return 0, "", false
}

// partialMatch reports whether enough of a multi-word label's long words occur in the text.
func partialMatch(label, normText string) bool {
	if !strings.Contains(label, " ") {
		return false
	}
	words := strings.Split(label, " ")
	found := 0
	for _, w := range words {
		if len(w) > 3 && strings.Contains(normText, w) {
			found++
		}
	}
	return found >= int(math.Ceil(float64(len(words))*partialMinShare))
}

// lcsRatio is |LCS(a, b)| / len(longer). Pairs whose DP table would exceed
// maxCells, or whose length ratio already rules out a match, score 0.
func lcsRatio(a, b string, maxCells int) float64 {
	longer, shorter := a, b
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}
	if len(longer) == 0 {
		return 1
	}
	if float64(len(shorter))/float64(len(longer)) <= fuzzyMinRatio {
		return 0
	}
	if maxCells > 0 && len(longer)*len(shorter) > maxCells {
		return 0
	}
	return float64(lcsLen(longer, shorter)) / float64(len(longer))
}

func lcsLen(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
