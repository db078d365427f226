// Package topology holds the static facility graph: locations as nodes and
// physical adjacencies with distances as edges. The graph is read-mostly
// shared state; reloads replace it atomically under a write lock so an
// association run mid-flight never observes a half-updated graph.
package topology

import (
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/meditrack/backend/pkg/track"
)

// Node is one facility location. The identifier is stable and unique;
// detections and links reference it, they never own it.
type Node struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

// Edge is an unordered adjacency between two locations with a physical
// distance in meters. Absence of an edge means "not directly reachable",
// not "infinite distance".
type Edge struct {
	From     string  `json:"from" yaml:"from"`
	To       string  `json:"to" yaml:"to"`
	Distance float64 `json:"distance_m" yaml:"distance_m"`
}

// Graph is the topology store. All lookups take a brief read lock; Load is
// the only writer.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	adj   map[string]map[string]float64
	edges []Edge
}

func New() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		adj:   make(map[string]map[string]float64),
	}
}

// Load validates nodes and edges and replaces the whole graph atomically.
// Edges must reference loaded nodes, carry a positive distance, and not
// self-loop; any violation fails with ErrInvalidTopology and leaves the
// previous graph untouched.
func (g *Graph) Load(nodes []Node, edges []Edge) error {
	nodeSet := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node with empty identifier", track.ErrInvalidTopology)
		}
		if _, dup := nodeSet[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node %q", track.ErrInvalidTopology, n.ID)
		}
		nodeSet[n.ID] = n
	}
	adj := make(map[string]map[string]float64, len(nodes))
	for _, e := range edges {
		if _, ok := nodeSet[e.From]; !ok {
			return fmt.Errorf("%w: edge references unknown node %q", track.ErrInvalidTopology, e.From)
		}
		if _, ok := nodeSet[e.To]; !ok {
			return fmt.Errorf("%w: edge references unknown node %q", track.ErrInvalidTopology, e.To)
		}
		if e.From == e.To {
			return fmt.Errorf("%w: self-loop on node %q", track.ErrInvalidTopology, e.From)
		}
		if e.Distance <= 0 {
			return fmt.Errorf("%w: edge %s-%s has non-positive distance %.2f",
				track.ErrInvalidTopology, e.From, e.To, e.Distance)
		}
		if adj[e.From] == nil {
			adj[e.From] = make(map[string]float64)
		}
		if adj[e.To] == nil {
			adj[e.To] = make(map[string]float64)
		}
		adj[e.From][e.To] = e.Distance
		adj[e.To][e.From] = e.Distance
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = nodeSet
	g.adj = adj
	g.edges = append([]Edge(nil), edges...)
	return nil
}

// Contains reports whether a location identifier is part of the graph.
func (g *Graph) Contains(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// NodeName returns the display name for a location, or the identifier
// itself when the location is unknown.
func (g *Graph) NodeName(id string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return n.Name
	}
	return id
}

// IsAdjacent reports whether an edge exists between a and b, in either
// order.
func (g *Graph) IsAdjacent(a, b string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.adj[a][b]
	return ok
}

// Distance returns the registered edge distance between a and b. The
// second return value is false when the locations are not adjacent;
// callers must not treat adjacency as line-of-sight, only as registered
// physical distance.
func (g *Graph) Distance(a, b string) (float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.adj[a][b]
	return d, ok
}

// Neighbors returns a lazy, restartable sequence of the locations adjacent
// to a, in stable identifier order. The neighbor set is snapshotted under
// a brief read lock so iteration never holds the graph lock.
func (g *Graph) Neighbors(a string) iter.Seq[string] {
	g.mu.RLock()
	ids := make([]string, 0, len(g.adj[a]))
	for id := range g.adj[a] {
		ids = append(ids, id)
	}
	g.mu.RUnlock()
	sort.Strings(ids)

	return func(yield func(string) bool) {
		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

// Snapshot returns copies of the loaded nodes and edges, nodes in stable
// identifier order.
func (g *Graph) Snapshot() ([]Node, []Edge) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, append([]Edge(nil), g.edges...)
}
