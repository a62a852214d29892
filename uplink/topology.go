package uplink

import (
	"sync"

	"github.com/meshtdma/tdmh/proto"
)

// Graph is the master's live undirected topology graph: edges are added
// on neighbor presence and removed on absence, with a modified flag the
// schedule computation worker watches (spec §4.5, §4.6).
type Graph struct {
	mu       sync.Mutex
	edges    map[NodeType]map[NodeType]bool
	modified bool
}

// NewGraph constructs an empty topology graph.
func NewGraph() *Graph {
	return &Graph{edges: make(map[NodeType]map[NodeType]bool)}
}

func (g *Graph) ensure(node NodeType) {
	if g.edges[node] == nil {
		g.edges[node] = make(map[NodeType]bool)
	}
}

// AddEdge records a (possibly already-known) edge between a and b.
// Adding an edge that already exists does not set modified.
func (g *Graph) AddEdge(a, b NodeType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensure(a)
	g.ensure(b)
	if g.edges[a][b] {
		return
	}
	g.edges[a][b] = true
	g.edges[b][a] = true
	g.modified = true
}

// RemoveEdge drops the edge between a and b, if present.
func (g *Graph) RemoveEdge(a, b NodeType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.edges[a] == nil || !g.edges[a][b] {
		return
	}
	delete(g.edges[a], b)
	delete(g.edges[b], a)
	g.modified = true
}

// HasEdge reports whether a and b are direct neighbors in the graph.
func (g *Graph) HasEdge(a, b NodeType) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.edges[a] != nil && g.edges[a][b]
}

// Neighbors returns node's current graph neighbors.
func (g *Graph) Neighbors(node NodeType) []NodeType {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]NodeType, 0, len(g.edges[node]))
	for n := range g.edges[node] {
		out = append(out, n)
	}
	return out
}

// Modified reports and clears the modified flag, so a single reader (the
// schedule computation worker) can snapshot-and-reset it under the same
// lock discipline as the rest of the graph.
func (g *Graph) Modified() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.modified
	g.modified = false
	return m
}

// ReplaceNeighbors sets node's complete neighbor set from a freshly
// received NeighborTable, adding/removing edges as needed (spec §4.5:
// "add edge on presence, remove on absence").
func (g *Graph) ReplaceNeighbors(node NodeType, table proto.NeighborTable, maxNodes int) {
	current := g.Neighbors(node)
	reported := make(map[NodeType]bool)
	for _, id := range table.Neighbors(maxNodes) {
		reported[id] = true
		g.AddEdge(node, id)
	}
	for _, id := range current {
		if !reported[id] {
			g.RemoveEdge(node, id)
		}
	}
}

// SMEMap is the master's live map of stream management elements keyed by
// StreamId, with a modified flag the schedule computation worker watches
// (spec §4.5, §4.6).
type SMEMap struct {
	mu       sync.Mutex
	entries  map[proto.StreamID]proto.SME
	modified bool
}

// NewSMEMap constructs an empty SME map.
func NewSMEMap() *SMEMap {
	return &SMEMap{entries: make(map[proto.StreamID]proto.SME)}
}

// Put records or replaces the SME for its StreamId.
func (m *SMEMap) Put(sme proto.SME) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sme.ID] = sme
	m.modified = true
}

// Remove deletes the SME for id, if present.
func (m *SMEMap) Remove(id proto.StreamID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; ok {
		delete(m.entries, id)
		m.modified = true
	}
}

// Get returns the current SME for id.
func (m *SMEMap) Get(id proto.StreamID) (proto.SME, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[id]
	return v, ok
}

// Snapshot returns a copy of every SME currently tracked.
func (m *SMEMap) Snapshot() []proto.SME {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]proto.SME, 0, len(m.entries))
	for _, v := range m.entries {
		out = append(out, v)
	}
	return out
}

// Modified reports and clears the modified flag.
func (m *SMEMap) Modified() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod := m.modified
	m.modified = false
	return mod
}
