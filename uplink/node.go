package uplink

import (
	"sync"

	"github.com/meshtdma/tdmh/proto"
)

// NeighborSet is one node's local view of its neighbors: who it has
// heard recently, their hop counts and smoothed RSSI, pruned after
// maxRoundsUnavailableBecomesDead consecutive misses (spec §3, §4.5).
type NeighborSet struct {
	mu        sync.Mutex
	neighbors map[NodeType]*Neighbor
}

// NewNeighborSet constructs an empty neighbor set.
func NewNeighborSet() *NeighborSet {
	return &NeighborSet{neighbors: make(map[NodeType]*Neighbor)}
}

// Observe records hearing from node this round with the given reported
// hop count and measured RSSI, creating a new Neighbor record if this is
// the first sighting.
func (s *NeighborSet) Observe(node NodeType, hop uint8, rssi int8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.neighbors[node]; ok {
		n.Seen(hop, rssi)
		return
	}
	s.neighbors[node] = NewNeighbor(node, hop, rssi)
}

// MarkUnseen records one round in which node was not heard, returning
// its new consecutive-miss count (0 if node was not known).
func (s *NeighborSet) MarkUnseen(node NodeType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.neighbors[node]
	if !ok {
		return 0
	}
	return n.Missed()
}

// Purge removes every neighbor stale for at least
// maxRoundsUnavailableBecomesDead consecutive rounds, returning the
// removed node ids.
func (s *NeighborSet) Purge(maxRoundsUnavailableBecomesDead int) []NodeType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []NodeType
	for id, n := range s.neighbors {
		if n.Stale(maxRoundsUnavailableBecomesDead) {
			removed = append(removed, id)
			delete(s.neighbors, id)
		}
	}
	return removed
}

// Snapshot returns a copy of the current neighbor table, safe to read
// without holding the set's lock.
func (s *NeighborSet) Snapshot() map[NodeType]Neighbor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[NodeType]Neighbor, len(s.neighbors))
	for id, n := range s.neighbors {
		out[id] = *n
	}
	return out
}

// OwnTable builds the bitset this node advertises as its own NeighborTable
// in the uplink tile: one bit set for every currently-known, non-stale
// neighbor (spec §3 "Topology element": "For each node: a bitset of
// neighbors ... plus that node's hop count").
func (s *NeighborSet) OwnTable(maxNodes int, maxRoundsUnavailableBecomesDead int) proto.NeighborTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	table := proto.NewNeighborTable(maxNodes)
	for id, n := range s.neighbors {
		if n.Stale(maxRoundsUnavailableBecomesDead) {
			continue
		}
		_ = table.Set(id)
	}
	return table
}

// BestPredecessor returns the non-stale neighbor with a strictly smaller
// hop count (i.e. closer to the master) with the highest smoothed RSSI --
// the "chosen predecessor" the spec defines as argmax RSSI among
// predecessors not stale (spec §3 invariants, §4.5 "assignee is the
// node's best predecessor"). ok is false if no eligible predecessor
// exists.
func (s *NeighborSet) BestPredecessor(selfHop uint8, maxRoundsUnavailableBecomesDead int) (best NodeType, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var bestRSSI int8 = -128
	for id, n := range s.neighbors {
		if n.Stale(maxRoundsUnavailableBecomesDead) {
			continue
		}
		if n.Hop >= selfHop {
			continue
		}
		rssi := n.SmoothedRSSI()
		if !ok || rssi > bestRSSI {
			best, bestRSSI, ok = id, rssi, true
		}
	}
	return best, ok
}
