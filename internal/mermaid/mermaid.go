// Package mermaid reads and writes the small subset of Mermaid flowchart syntax
// synapse uses to exchange graphs:
//
//	graph TD;
//	  A["Linear Algebra"] --> B["Regression"]
//	  B --- C
//	  D -->|part_of| B
//	  class A known;
package mermaid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/CanopyHQ/synapse/internal/graph"
)

// Node is a labeled node. Class is the optional style class from a `class` line.
type Node struct {
	ID    string
	Label string
	Class string
}

// Edge connects two node IDs.
type Edge struct {
	Src      string
	Dst      string
	Relation graph.Relation
}

// ClassDef is a style definition line.
type ClassDef struct {
	Name  string
	Style string
}

// Graph is a parsed or to-be-serialized flowchart.
type Graph struct {
	Nodes     []Node
	Edges     []Edge
	ClassDefs []ClassDef
}

var (
	nodeRe      = regexp.MustCompile(`([A-Za-z0-9_]+)\s*\[\s*(?:"((?:[^"\\]|\\.)*)"|([^\]"]+))\s*\]`)
	connectorRe = regexp.MustCompile(`\s*(-->\s*(?:\|\s*([^|]*?)\s*\|)?|---)\s*`)
	idRe        = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	classDefRe  = regexp.MustCompile(`^classDef\s+([A-Za-z0-9_]+)\s+(.+)$`)
	classRe     = regexp.MustCompile(`^class\s+([A-Za-z0-9_,\s]+?)\s+([A-Za-z0-9_]+)$`)
)

// ErrEmpty is returned when the text defines no labeled nodes.
var ErrEmpty = errors.New("mermaid: no labeled nodes")

// Parse reads flowchart text. Unknown statements are ignored; edges whose
// endpoints never receive a label are kept and left for the caller to drop.
func Parse(text string) (*Graph, error) {
	g := &Graph{}
	index := make(map[string]int)
	addNode := func(id, label string) {
		if _, ok := index[id]; ok {
			return
		}
		index[id] = len(g.Nodes)
		g.Nodes = append(g.Nodes, Node{ID: id, Label: label})
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		line = strings.TrimSpace(strings.TrimSuffix(line, ";"))
		if line == "" || strings.HasPrefix(line, "%%") {
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "graph") || strings.HasPrefix(lower, "flowchart") {
			continue
		}
		if m := classDefRe.FindStringSubmatch(line); m != nil {
			g.ClassDefs = append(g.ClassDefs, ClassDef{Name: m[1], Style: strings.TrimSuffix(m[2], ";")})
			continue
		}
		if m := classRe.FindStringSubmatch(line); m != nil {
			for _, id := range strings.Split(m[1], ",") {
				if i, ok := index[strings.TrimSpace(id)]; ok {
					g.Nodes[i].Class = m[2]
				}
			}
			continue
		}

		// replace inline node definitions by their bare IDs
		reduced := nodeRe.ReplaceAllStringFunc(line, func(def string) string {
			m := nodeRe.FindStringSubmatch(def)
			label := m[3]
			if m[2] != "" || m[3] == "" {
				label = unescape(m[2])
			}
			addNode(m[1], strings.TrimSpace(label))
			return m[1]
		})

		locs := connectorRe.FindAllStringSubmatchIndex(reduced, -1)
		if len(locs) == 0 {
			continue
		}
		if edges, ok := parseChain(reduced, locs); ok {
			g.Edges = append(g.Edges, edges...)
		}
	}
	if len(g.Nodes) == 0 {
		return nil, ErrEmpty
	}
	return g, nil
}

// parseChain splits `A --> B --- C` into edges. Chains with anything other
// than bare IDs between connectors are not understood and are skipped.
func parseChain(line string, locs [][]int) ([]Edge, bool) {
	var edges []Edge
	prev := strings.TrimSpace(line[:locs[0][0]])
	for i, loc := range locs {
		end := len(line)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		next := strings.TrimSpace(line[loc[1]:end])
		if !idRe.MatchString(prev) || !idRe.MatchString(next) {
			return nil, false
		}
		connector := strings.TrimSpace(line[loc[2]:loc[3]])
		label := ""
		if loc[4] >= 0 {
			label = line[loc[4]:loc[5]]
		}
		edges = append(edges, Edge{Src: prev, Dst: next, Relation: relationFor(connector, label)})
		prev = next
	}
	return edges, true
}

func relationFor(connector, label string) graph.Relation {
	if connector == "---" {
		return graph.RelatesTo
	}
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "part_of", "part of":
		return graph.PartOf
	case "relates_to", "relates to":
		return graph.RelatesTo
	}
	return graph.Prereq
}

// Serialize writes the graph in the same syntax Parse accepts.
func Serialize(g *Graph) string {
	var b strings.Builder
	b.WriteString("graph TD;")
	for _, cd := range g.ClassDefs {
		fmt.Fprintf(&b, "\nclassDef %s %s;", cd.Name, cd.Style)
	}
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "\n  %s[\"%s\"]", n.ID, Escape(n.Label))
		if n.Class != "" {
			fmt.Fprintf(&b, "\n  class %s %s;", n.ID, n.Class)
		}
	}
	for _, e := range g.Edges {
		switch e.Relation {
		case graph.RelatesTo:
			fmt.Fprintf(&b, "\n  %s --- %s", e.Src, e.Dst)
		case graph.PartOf:
			fmt.Fprintf(&b, "\n  %s -->|part_of| %s", e.Src, e.Dst)
		default:
			fmt.Fprintf(&b, "\n  %s --> %s", e.Src, e.Dst)
		}
	}
	return b.String()
}

// Escape quotes a label for use inside ["..."].
func Escape(label string) string {
	label = strings.ReplaceAll(label, `\`, `\\`)
	label = strings.ReplaceAll(label, "\n", " ")
	return strings.ReplaceAll(label, `"`, `\"`)
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// CountNodes returns the number of labeled nodes in the text.
func CountNodes(text string) int {
	g, err := Parse(text)
	if err != nil {
		return len(nodeRe.FindAllString(text, -1))
	}
	n := 0
	for _, node := range g.Nodes {
		if node.Label != "" {
			n++
		}
	}
	return n
}

// Labels maps node IDs to labels.
func (g *Graph) Labels() map[string]string {
	out := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		out[n.ID] = n.Label
	}
	return out
}
