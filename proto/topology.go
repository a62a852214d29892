package proto

import "fmt"

// NeighborTableSize returns ceil(maxNodes/8), the byte length of a
// NeighborTable for a network with maxNodes nodes (spec §6).
func NeighborTableSize(maxNodes int) int {
	return (maxNodes + 7) / 8
}

// NeighborTable is a bitset of neighbors: bit i set iff node i is a
// neighbor (spec §3, §6). It carries no maxNodes of its own -- callers
// size it via NeighborTableSize and must agree on maxNodes out of band
// (the node's static configuration).
type NeighborTable []byte

// NewNeighborTable allocates a zeroed table sized for maxNodes.
func NewNeighborTable(maxNodes int) NeighborTable {
	return make(NeighborTable, NeighborTableSize(maxNodes))
}

// Set marks node id as a neighbor.
func (t NeighborTable) Set(id NodeID) error {
	idx, bit, err := t.locate(id)
	if err != nil {
		return err
	}
	t[idx] |= 1 << bit
	return nil
}

// Clear marks node id as not a neighbor.
func (t NeighborTable) Clear(id NodeID) error {
	idx, bit, err := t.locate(id)
	if err != nil {
		return err
	}
	t[idx] &^= 1 << bit
	return nil
}

// Has reports whether node id is marked as a neighbor.
func (t NeighborTable) Has(id NodeID) (bool, error) {
	idx, bit, err := t.locate(id)
	if err != nil {
		return false, err
	}
	return t[idx]&(1<<bit) != 0, nil
}

func (t NeighborTable) locate(id NodeID) (idx int, bit uint, err error) {
	idx = int(id) / 8
	if idx >= len(t) {
		return 0, 0, fmt.Errorf("proto: neighbor id %d out of range for table of %d bytes", id, len(t))
	}
	return idx, uint(7 - int(id)%8), nil
}

// Neighbors returns the node ids currently set, for a table covering
// maxNodes nodes.
func (t NeighborTable) Neighbors(maxNodes int) []NodeID {
	var out []NodeID
	for i := 0; i < maxNodes; i++ {
		if ok, _ := t.Has(NodeID(i)); ok {
			out = append(out, NodeID(i))
		}
	}
	return out
}

// TopologyElement pairs a node's NeighborTable with its hop count, the
// per-node record the master aggregates into its topology graph (spec §3).
type TopologyElement struct {
	Node      NodeID
	Hop       uint8
	Neighbors NeighborTable
}

// ForwardedNeighborMessageSize returns the packed size for a given
// maxNodes: a 1-byte node id plus the NeighborTable (spec §6).
func ForwardedNeighborMessageSize(maxNodes int) int {
	return 1 + NeighborTableSize(maxNodes)
}

// ForwardedNeighborMessage is a neighbor table re-broadcast by an
// intermediate node on behalf of another (spec §6).
type ForwardedNeighborMessage struct {
	NodeID    NodeID
	Neighbors NeighborTable
}

// Marshal writes {nodeId:u8, NeighborTable}.
func (m ForwardedNeighborMessage) Marshal() []byte {
	out := make([]byte, 1+len(m.Neighbors))
	out[0] = byte(m.NodeID)
	copy(out[1:], m.Neighbors)
	return out
}

// UnmarshalForwardedNeighborMessage reads a ForwardedNeighborMessage
// whose NeighborTable is maxNodes bits wide.
func UnmarshalForwardedNeighborMessage(b []byte, maxNodes int) (ForwardedNeighborMessage, error) {
	var m ForwardedNeighborMessage
	size := ForwardedNeighborMessageSize(maxNodes)
	if len(b) < size {
		return m, fmt.Errorf("proto: ForwardedNeighborMessage short buffer: %d want %d", len(b), size)
	}
	m.NodeID = NodeID(b[0])
	m.Neighbors = make(NeighborTable, NeighborTableSize(maxNodes))
	copy(m.Neighbors, b[1:size])
	return m, nil
}

// UplinkHeaderSize is the packed size of an UplinkHeader.
const UplinkHeaderSize = 4

// UplinkHeader precedes a node's own NeighborTable and forwarded records
// in an uplink sub-packet (spec §4.5, §6).
type UplinkHeader struct {
	Hop         uint8
	Assignee    NodeID
	NumTopology uint8
	NumSME      uint8
}

// Marshal writes the packed {hop, assignee, numTopology, numSME} header.
func (h UplinkHeader) Marshal() [UplinkHeaderSize]byte {
	return [UplinkHeaderSize]byte{h.Hop, byte(h.Assignee), h.NumTopology, h.NumSME}
}

// UnmarshalUplinkHeader reads an UplinkHeader.
func UnmarshalUplinkHeader(b []byte) (UplinkHeader, error) {
	var h UplinkHeader
	if len(b) < UplinkHeaderSize {
		return h, fmt.Errorf("proto: UplinkHeader short buffer: %d", len(b))
	}
	h.Hop = b[0]
	h.Assignee = NodeID(b[1])
	h.NumTopology = b[2]
	h.NumSME = b[3]
	return h, nil
}
