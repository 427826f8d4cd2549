// Package coupling models the hardware adjacency constraint used by
// qubit routing: an undirected graph over qubit indices, read from an
// inline literal or a file.
package coupling

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Graph is an undirected adjacency relation over qubit indices.
// Out-of-range indices are tolerated by creating buckets on demand.
type Graph struct {
	adj map[int]map[int]struct{}
}

// New builds a graph from undirected edges. Malformed pairs (fewer than
// two entries) are skipped.
func New(edges [][]int) *Graph {
	g := &Graph{adj: make(map[int]map[int]struct{})}
	for _, e := range edges {
		if len(e) < 2 {
			continue
		}
		g.addEdge(e[0], e[1])
	}
	return g
}

func (g *Graph) addEdge(a, b int) {
	if g.adj[a] == nil {
		g.adj[a] = make(map[int]struct{})
	}
	if g.adj[b] == nil {
		g.adj[b] = make(map[int]struct{})
	}
	g.adj[a][b] = struct{}{}
	g.adj[b][a] = struct{}{}
}

// Parse reads a coupling map from spec: either an inline YAML/JSON list
// of index pairs (e.g. [[0,1],[1,2]]) or the path of a file holding
// one. Entries that are not index pairs are skipped, not rejected.
func Parse(spec string) (*Graph, error) {
	text := strings.TrimSpace(spec)
	if text == "" {
		return nil, fmt.Errorf("empty coupling spec")
	}
	if !strings.HasPrefix(text, "[") {
		data, err := os.ReadFile(text)
		if err != nil {
			return nil, fmt.Errorf("reading coupling map: %w", err)
		}
		text = string(data)
	}

	return parseYAML(text)
}

func parseYAML(text string) (*Graph, error) {
	var entries [][]interface{}
	if err := yaml.Unmarshal([]byte(text), &entries); err != nil {
		return nil, fmt.Errorf("parsing coupling map: %w", err)
	}
	g := &Graph{adj: make(map[int]map[int]struct{})}
	for _, pair := range entries {
		if len(pair) < 2 {
			continue
		}
		a, aok := coerceInt(pair[0])
		b, bok := coerceInt(pair[1])
		if !aok || !bok {
			continue
		}
		g.addEdge(a, b)
	}
	return g, nil
}

func coerceInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(x), "%d", &n); err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Empty reports whether the graph has no edges.
func (g *Graph) Empty() bool {
	return g == nil || len(g.adj) == 0
}

// Adjacent reports whether a and b share an edge.
func (g *Graph) Adjacent(a, b int) bool {
	if g == nil {
		return false
	}
	_, ok := g.adj[a][b]
	return ok
}

// Neighbors returns the sorted neighbor set of u.
func (g *Graph) Neighbors(u int) []int {
	if g == nil {
		return nil
	}
	out := make([]int, 0, len(g.adj[u]))
	for v := range g.adj[u] {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// ShortestPath returns a shortest path from s to t via breadth-first
// search, inclusive of both endpoints, or nil if t is unreachable.
func (g *Graph) ShortestPath(s, t int) []int {
	if g == nil {
		return nil
	}
	if s == t {
		return []int{s}
	}
	prev := map[int]int{s: s}
	queue := []int{s}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range g.Neighbors(u) {
			if _, seen := prev[v]; seen {
				continue
			}
			prev[v] = u
			if v == t {
				path := []int{t}
				for cur := t; cur != s; {
					cur = prev[cur]
					path = append(path, cur)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			queue = append(queue, v)
		}
	}
	return nil
}
