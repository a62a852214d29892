package proto

import (
	"encoding/binary"
	"fmt"
)

// FrameHeaderSize is the size of the IEEE 802.15.4-subset outer header
// (spec §6): [0x46, 0x08, hopOrSeq, panIdHi, panIdLo, 0xFF, 0xFF].
const FrameHeaderSize = 7

// FrameHeader is the over-the-air outer header shared by every packet
// type: a fixed intra-PAN short-broadcast 802.15.4 subset. Byte 2 carries
// the Glossy hop count on timesync packets, and a sequence placeholder on
// data-phase packets.
type FrameHeader struct {
	HopOrSeq byte
	PanID    uint16
}

// Marshal writes the 7-byte outer header.
func (h FrameHeader) Marshal() [FrameHeaderSize]byte {
	var out [FrameHeaderSize]byte
	out[0] = 0x46
	out[1] = 0x08
	out[2] = h.HopOrSeq
	out[3] = byte(h.PanID >> 8)
	out[4] = byte(h.PanID)
	out[5] = 0xFF
	out[6] = 0xFF
	return out
}

// UnmarshalFrameHeader reads and validates the fixed outer header bytes.
func UnmarshalFrameHeader(b []byte) (FrameHeader, error) {
	var h FrameHeader
	if len(b) < FrameHeaderSize {
		return h, fmt.Errorf("proto: frame header short buffer: %d", len(b))
	}
	if b[0] != 0x46 || b[1] != 0x08 || b[5] != 0xFF || b[6] != 0xFF {
		return h, fmt.Errorf("proto: frame header magic mismatch: % x", b[:FrameHeaderSize])
	}
	h.HopOrSeq = b[2]
	h.PanID = uint16(b[3])<<8 | uint16(b[4])
	return h, nil
}

// TimesyncPacketSize is the outer header plus the 4-byte counter.
const TimesyncPacketSize = FrameHeaderSize + 4

// TimesyncPacket is the master's periodic sync beacon: outer header plus
// a little-endian 32-bit monotonic sync-packet counter (spec §4.4, §6).
type TimesyncPacket struct {
	Header  FrameHeader
	Counter uint32
}

// Marshal serializes the timesync packet.
func (p TimesyncPacket) Marshal() [TimesyncPacketSize]byte {
	var out [TimesyncPacketSize]byte
	copy(out[:FrameHeaderSize], p.Header.Marshal()[:])
	binary.LittleEndian.PutUint32(out[FrameHeaderSize:], p.Counter)
	return out
}

// UnmarshalTimesyncPacket parses a timesync beacon.
func UnmarshalTimesyncPacket(b []byte) (TimesyncPacket, error) {
	var p TimesyncPacket
	if len(b) < TimesyncPacketSize {
		return p, fmt.Errorf("proto: timesync packet short buffer: %d", len(b))
	}
	h, err := UnmarshalFrameHeader(b)
	if err != nil {
		return p, err
	}
	p.Header = h
	p.Counter = binary.LittleEndian.Uint32(b[FrameHeaderSize:])
	return p, nil
}
