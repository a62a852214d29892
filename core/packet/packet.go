// Package packet implements C1's byte-aligned half: a fixed-capacity
// packet buffer exposing range-checked put/get, grounded on
// original_source/network_module/packet.h and packet.cpp.
package packet

import "errors"

// MaxDataBytes is the maximum payload a Packet may hold, excluding the
// trailing CRC (spec §4.1: "≤ 125 data bytes + 2-byte CRC").
const MaxDataBytes = 125

// CRCSize is the size in bytes of the trailing CRC field.
const CRCSize = 2

// Capacity is the total fixed buffer size: data + CRC.
const Capacity = MaxDataBytes + CRCSize

// ErrOverflow is returned when a Put would exceed the packet's capacity.
var ErrOverflow = errors.New("packet: overflow")

// ErrUnderflow is returned when a Get would read past the written length.
var ErrUnderflow = errors.New("packet: underflow")

// Packet is a fixed-capacity byte buffer with a read/write cursor.
type Packet struct {
	buf    [Capacity]byte
	length int // bytes actually written
	cursor int // read/write position
}

// New returns an empty Packet.
func New() *Packet {
	return &Packet{}
}

// Len returns the number of bytes currently in the packet.
func (p *Packet) Len() int { return p.length }

// Cursor returns the current read/write offset.
func (p *Packet) Cursor() int { return p.cursor }

// SetCursor repositions the cursor, e.g. to re-read a packet from the
// start.
func (p *Packet) SetCursor(pos int) error {
	if pos < 0 || pos > p.length {
		return ErrUnderflow
	}
	p.cursor = pos
	return nil
}

// Reset clears the packet to empty.
func (p *Packet) Reset() {
	p.length = 0
	p.cursor = 0
}

// Bytes returns the written portion of the buffer.
func (p *Packet) Bytes() []byte {
	return p.buf[:p.length]
}

// Put appends data at the cursor, extending length, failing with
// ErrOverflow if it would exceed Capacity.
func (p *Packet) Put(data []byte) error {
	if p.cursor+len(data) > Capacity {
		return ErrOverflow
	}
	n := copy(p.buf[p.cursor:], data)
	p.cursor += n
	if p.cursor > p.length {
		p.length = p.cursor
	}
	return nil
}

// PutByte appends a single byte.
func (p *Packet) PutByte(b byte) error {
	return p.Put([]byte{b})
}

// Get reads len(dst) bytes from the cursor into dst, failing with
// ErrUnderflow if fewer than len(dst) bytes remain.
func (p *Packet) Get(dst []byte) error {
	if p.cursor+len(dst) > p.length {
		return ErrUnderflow
	}
	copy(dst, p.buf[p.cursor:p.cursor+len(dst)])
	p.cursor += len(dst)
	return nil
}

// GetByte reads a single byte.
func (p *Packet) GetByte() (byte, error) {
	var b [1]byte
	if err := p.Get(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// Remaining returns how many unread bytes remain after the cursor.
func (p *Packet) Remaining() int {
	return p.length - p.cursor
}

// LoadFrom replaces the packet's contents (and resets the cursor) with
// data, failing with ErrOverflow if data exceeds Capacity.
func (p *Packet) LoadFrom(data []byte) error {
	if len(data) > Capacity {
		return ErrOverflow
	}
	p.Reset()
	n := copy(p.buf[:], data)
	p.length = n
	p.cursor = 0
	return nil
}
