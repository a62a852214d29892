package proto

import (
	"fmt"

	"github.com/meshtdma/tdmh/core/bitops"
)

// ScheduleHeaderSize is the packed size of a ScheduleHeader: 114 bits
// rounded up to whole bytes (spec §6).
const ScheduleHeaderSize = 15

// NoSchedule is the sentinel ScheduleID meaning "no schedule yet"
// (spec §3).
const NoSchedule uint32 = 0

// ScheduleHeader precedes a run of ScheduleElement records in a schedule
// distribution packet (spec §4.7, §6).
type ScheduleHeader struct {
	TotalPacket    uint16
	CurrentPacket  uint16
	ScheduleID     uint32
	ActivationTile uint32
	ScheduleTiles  uint16
	Repetition     uint8 // 1, 2 or 3
}

// Marshal packs the header: totalPacket:16, currentPacket:16,
// scheduleID:32, activationTile:32, scheduleTiles:16, repetition:2.
func (h ScheduleHeader) Marshal() ([ScheduleHeaderSize]byte, error) {
	var out [ScheduleHeaderSize]byte
	if h.Repetition > 3 {
		return out, fmt.Errorf("proto: repetition out of range: %d", h.Repetition)
	}
	fields := []struct {
		start, length int
		value         uint64
	}{
		{0, 16, uint64(h.TotalPacket)},
		{16, 16, uint64(h.CurrentPacket)},
		{32, 32, uint64(h.ScheduleID)},
		{64, 32, uint64(h.ActivationTile)},
		{96, 16, uint64(h.ScheduleTiles)},
		{112, 2, uint64(h.Repetition)},
	}
	for _, f := range fields {
		if err := bitops.Put(out[:], f.start, f.length, f.value); err != nil {
			return out, err
		}
	}
	return out, nil
}

// UnmarshalScheduleHeader reads a ScheduleHeader.
func UnmarshalScheduleHeader(b []byte) (ScheduleHeader, error) {
	var h ScheduleHeader
	if len(b) < ScheduleHeaderSize {
		return h, fmt.Errorf("proto: ScheduleHeader short buffer: %d", len(b))
	}
	totalPacket, err := bitops.Get(b, 0, 16)
	if err != nil {
		return h, err
	}
	currentPacket, err := bitops.Get(b, 16, 16)
	if err != nil {
		return h, err
	}
	scheduleID, err := bitops.Get(b, 32, 32)
	if err != nil {
		return h, err
	}
	activationTile, err := bitops.Get(b, 64, 32)
	if err != nil {
		return h, err
	}
	scheduleTiles, err := bitops.Get(b, 96, 16)
	if err != nil {
		return h, err
	}
	repetition, err := bitops.Get(b, 112, 2)
	if err != nil {
		return h, err
	}
	h.TotalPacket = uint16(totalPacket)
	h.CurrentPacket = uint16(currentPacket)
	h.ScheduleID = uint32(scheduleID)
	h.ActivationTile = uint32(activationTile)
	h.ScheduleTiles = uint16(scheduleTiles)
	h.Repetition = uint8(repetition)
	return h, nil
}

// ScheduleElementSize is the packed size of an implicit schedule element
// (64 bits, spec §6).
const ScheduleElementSize = 8

const maxOffset = (1 << 20) - 1

// ScheduleElement is the implicit schedule's unit: a stream's hop from
// tx to rx, with the period and slot offset at which it occurs
// (spec §3, §6). tx/rx may differ from the stream's src/dst for
// intermediate hops.
type ScheduleElement struct {
	Src, Dst         NodeID
	SrcPort, DstPort Port
	Tx, Rx           NodeID
	Period           Period
	Offset           uint32 // slot index, < 2^20
}

// StreamID reconstructs the stream identifier this element belongs to.
func (e ScheduleElement) StreamID() StreamID {
	return StreamID{Src: e.Src, Dst: e.Dst, SrcPort: e.SrcPort, DstPort: e.DstPort}
}

// Marshal packs src:8 dst:8 srcPort:4 dstPort:4 tx:8 rx:8 period:4
// offset:20.
func (e ScheduleElement) Marshal() ([ScheduleElementSize]byte, error) {
	var out [ScheduleElementSize]byte
	if e.SrcPort > maxPort || e.DstPort > maxPort {
		return out, fmt.Errorf("proto: port out of range in schedule element")
	}
	if e.Offset > maxOffset {
		return out, fmt.Errorf("proto: offset out of range: %d", e.Offset)
	}
	fields := []struct {
		start, length int
		value         uint64
	}{
		{0, 8, uint64(e.Src)},
		{8, 8, uint64(e.Dst)},
		{16, 4, uint64(e.SrcPort)},
		{20, 4, uint64(e.DstPort)},
		{24, 8, uint64(e.Tx)},
		{32, 8, uint64(e.Rx)},
		{40, 4, uint64(e.Period)},
		{44, 20, uint64(e.Offset)},
	}
	for _, f := range fields {
		if err := bitops.Put(out[:], f.start, f.length, f.value); err != nil {
			return out, err
		}
	}
	return out, nil
}

// UnmarshalScheduleElement reads an implicit schedule element.
func UnmarshalScheduleElement(b []byte) (ScheduleElement, error) {
	var e ScheduleElement
	if len(b) < ScheduleElementSize {
		return e, fmt.Errorf("proto: ScheduleElement short buffer: %d", len(b))
	}
	src, err := bitops.Get(b, 0, 8)
	if err != nil {
		return e, err
	}
	dst, err := bitops.Get(b, 8, 8)
	if err != nil {
		return e, err
	}
	srcPort, err := bitops.Get(b, 16, 4)
	if err != nil {
		return e, err
	}
	dstPort, err := bitops.Get(b, 20, 4)
	if err != nil {
		return e, err
	}
	tx, err := bitops.Get(b, 24, 8)
	if err != nil {
		return e, err
	}
	rx, err := bitops.Get(b, 32, 8)
	if err != nil {
		return e, err
	}
	period, err := bitops.Get(b, 40, 4)
	if err != nil {
		return e, err
	}
	offset, err := bitops.Get(b, 44, 20)
	if err != nil {
		return e, err
	}
	e.Src, e.Dst = NodeID(src), NodeID(dst)
	e.SrcPort, e.DstPort = Port(srcPort), Port(dstPort)
	e.Tx, e.Rx = NodeID(tx), NodeID(rx)
	e.Period = Period(period)
	e.Offset = uint32(offset)
	return e, nil
}

// ExplicitAction is the per-slot action a node's expanded schedule
// dispatches on (spec §3, §4.9).
type ExplicitAction uint8

const (
	ActionSleep ExplicitAction = iota
	ActionSendStream
	ActionRecvStream
	ActionSendBuffer
	ActionRecvBuffer
)

func (a ExplicitAction) String() string {
	switch a {
	case ActionSleep:
		return "SLEEP"
	case ActionSendStream:
		return "SENDSTREAM"
	case ActionRecvStream:
		return "RECVSTREAM"
	case ActionSendBuffer:
		return "SENDBUFFER"
	case ActionRecvBuffer:
		return "RECVBUFFER"
	default:
		return "UNKNOWN"
	}
}

// ExplicitScheduleElementSize is the packed size of an
// ExplicitScheduleElement (7 bits rounded up to 1 byte, spec §6).
const ExplicitScheduleElementSize = 1

const maxExplicitPort = 0xF

// ExplicitScheduleElement is one slot of a node's locally expanded
// schedule (spec §3, §6). Port names the stream endpoint for
// SENDSTREAM/RECVSTREAM actions and the forwarder relay for
// SENDBUFFER/RECVBUFFER actions.
type ExplicitScheduleElement struct {
	Action ExplicitAction
	Port   Port
}

// Marshal packs action:3 port:4 into a single byte.
func (e ExplicitScheduleElement) Marshal() (byte, error) {
	var out [1]byte
	if e.Port > maxExplicitPort {
		return 0, fmt.Errorf("proto: port out of range in explicit element: %d", e.Port)
	}
	if err := bitops.Put(out[:], 0, 3, uint64(e.Action)); err != nil {
		return 0, err
	}
	if err := bitops.Put(out[:], 3, 4, uint64(e.Port)); err != nil {
		return 0, err
	}
	return out[0], nil
}

// UnmarshalExplicitScheduleElement reads a packed ExplicitScheduleElement
// byte.
func UnmarshalExplicitScheduleElement(b byte) (ExplicitScheduleElement, error) {
	buf := [1]byte{b}
	action, err := bitops.Get(buf[:], 0, 3)
	if err != nil {
		return ExplicitScheduleElement{}, err
	}
	port, err := bitops.Get(buf[:], 3, 4)
	if err != nil {
		return ExplicitScheduleElement{}, err
	}
	return ExplicitScheduleElement{Action: ExplicitAction(action), Port: Port(port)}, nil
}
