package uplink

import "github.com/meshtdma/tdmh/proto"

// rssiHistoryLen is the depth of the RSSI ring buffer used to smooth link
// quality estimates (supplemented from
// original_source/network_module/uplink/topology/mesh_topology_context.h's
// per-round RSSI decay).
const rssiHistoryLen = 4

// Neighbor tracks what a node currently knows about one neighbor: its
// last reported hop count, a smoothed RSSI estimate, and how many
// consecutive uplink rounds it has gone unseen.
type Neighbor struct {
	Node NodeType
	Hop  uint8

	rssiHistory [rssiHistoryLen]int8
	rssiCount   int
	rssiNext    int

	missedRounds int
}

// NodeType aliases proto.NodeID so this package reads naturally without a
// qualified import at every use site.
type NodeType = proto.NodeID

// NewNeighbor constructs a freshly-seen neighbor record.
func NewNeighbor(node NodeType, hop uint8, rssi int8) *Neighbor {
	n := &Neighbor{Node: node, Hop: hop}
	n.Seen(hop, rssi)
	return n
}

// Seen records a fresh sighting of this neighbor, resetting its miss
// counter and feeding the RSSI ring buffer.
func (n *Neighbor) Seen(hop uint8, rssi int8) {
	n.Hop = hop
	n.missedRounds = 0
	n.rssiHistory[n.rssiNext] = rssi
	n.rssiNext = (n.rssiNext + 1) % rssiHistoryLen
	if n.rssiCount < rssiHistoryLen {
		n.rssiCount++
	}
}

// Missed records one uplink round in which this neighbor was not heard
// from, returning the new consecutive-miss count.
func (n *Neighbor) Missed() int {
	n.missedRounds++
	return n.missedRounds
}

// Stale reports whether this neighbor has been unseen for
// maxRoundsUnavailableBecomesDead consecutive rounds (spec §4.5, §3
// "chosen predecessor ... not stale").
func (n *Neighbor) Stale(maxRoundsUnavailableBecomesDead int) bool {
	return n.missedRounds >= maxRoundsUnavailableBecomesDead
}

// SmoothedRSSI averages the RSSI ring buffer's filled entries.
func (n *Neighbor) SmoothedRSSI() int8 {
	if n.rssiCount == 0 {
		return 0
	}
	var sum int32
	for i := 0; i < n.rssiCount; i++ {
		sum += int32(n.rssiHistory[i])
	}
	return int8(sum / int32(n.rssiCount))
}
