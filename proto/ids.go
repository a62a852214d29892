// Package proto implements the on-air data model and wire elements named
// in spec §3 (DATA MODEL) and §6 (EXTERNAL INTERFACES): node/stream
// identifiers, stream parameters, topology and schedule elements. Bit
// layouts are exact per spec §6; serialization goes through core/bitops.
package proto

import (
	"fmt"

	"github.com/meshtdma/tdmh/core/bitops"
)

// NodeID is an 8-bit node identifier. Master is always 0.
type NodeID uint8

// MasterID is the network id reserved for the master node.
const MasterID NodeID = 0

// Port is a 4-bit stream endpoint port.
type Port uint8

const maxPort = 0xF

// StreamID is the quadruple (src, dst, srcPort, dstPort) identifying a
// stream, serialized to exactly 3 bytes (spec §3).
type StreamID struct {
	Src     NodeID
	Dst     NodeID
	SrcPort Port
	DstPort Port
}

// StreamIDSize is the serialized size of a StreamID in bytes.
const StreamIDSize = 3

// ServerID returns the server identifier that listen(port) on dst
// matches: (dst, dst, 0, dstPort).
func ServerID(dst NodeID, dstPort Port) StreamID {
	return StreamID{Src: dst, Dst: dst, SrcPort: 0, DstPort: dstPort}
}

// IsServerID reports whether id is a server (listen-matching) identifier.
func (id StreamID) IsServerID() bool {
	return id.Src == id.Dst && id.SrcPort == 0
}

// Marshal writes the StreamID into a 3-byte buffer: src(8) dst(8)
// srcPort(4) dstPort(4).
func (id StreamID) Marshal() ([StreamIDSize]byte, error) {
	var out [StreamIDSize]byte
	if id.SrcPort > maxPort || id.DstPort > maxPort {
		return out, fmt.Errorf("proto: port out of range: src=%d dst=%d", id.SrcPort, id.DstPort)
	}
	if err := bitops.Put(out[:], 0, 8, uint64(id.Src)); err != nil {
		return out, err
	}
	if err := bitops.Put(out[:], 8, 8, uint64(id.Dst)); err != nil {
		return out, err
	}
	if err := bitops.Put(out[:], 16, 4, uint64(id.SrcPort)); err != nil {
		return out, err
	}
	if err := bitops.Put(out[:], 20, 4, uint64(id.DstPort)); err != nil {
		return out, err
	}
	return out, nil
}

// UnmarshalStreamID reads a StreamID from a 3-byte buffer.
func UnmarshalStreamID(b []byte) (StreamID, error) {
	var id StreamID
	if len(b) < StreamIDSize {
		return id, fmt.Errorf("proto: StreamID short buffer: %d", len(b))
	}
	src, err := bitops.Get(b, 0, 8)
	if err != nil {
		return id, err
	}
	dst, err := bitops.Get(b, 8, 8)
	if err != nil {
		return id, err
	}
	srcPort, err := bitops.Get(b, 16, 4)
	if err != nil {
		return id, err
	}
	dstPort, err := bitops.Get(b, 20, 4)
	if err != nil {
		return id, err
	}
	id.Src = NodeID(src)
	id.Dst = NodeID(dst)
	id.SrcPort = Port(srcPort)
	id.DstPort = Port(dstPort)
	return id, nil
}

func (id StreamID) String() string {
	return fmt.Sprintf("%d:%d->%d:%d", id.Src, id.SrcPort, id.Dst, id.DstPort)
}
