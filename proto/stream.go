package proto

import (
	"fmt"

	"github.com/meshtdma/tdmh/core/bitops"
)

// Redundancy controls how many consecutive transmissions form one
// redundancy group for a stream (spec §3, §4.9). DOUBLE_SPATIAL/
// TRIPLE_SPATIAL select spatially-diverse paths in routing but still
// transmit the same number of times as their non-spatial counterpart.
type Redundancy uint8

const (
	RedundancyNone Redundancy = iota
	RedundancyDouble
	RedundancyDoubleSpatial
	RedundancyTriple
	RedundancyTripleSpatial
)

// Count returns k, the number of transmissions/receptions in one
// redundancy group.
func (r Redundancy) Count() int {
	switch r {
	case RedundancyNone:
		return 1
	case RedundancyDouble, RedundancyDoubleSpatial:
		return 2
	case RedundancyTriple, RedundancyTripleSpatial:
		return 3
	default:
		return 1
	}
}

func (r Redundancy) String() string {
	switch r {
	case RedundancyNone:
		return "NONE"
	case RedundancyDouble:
		return "DOUBLE"
	case RedundancyDoubleSpatial:
		return "DOUBLE_SPATIAL"
	case RedundancyTriple:
		return "TRIPLE"
	case RedundancyTripleSpatial:
		return "TRIPLE_SPATIAL"
	default:
		return "UNKNOWN"
	}
}

// Period is the stream's transmission period expressed as a number of
// tiles, encoded in 4 bits (spec §3).
type Period uint8

const (
	P1 Period = iota
	P2
	P5
	P10
	P20
	P50
	P100
)

// Tiles returns the period in tile units.
func (p Period) Tiles() int {
	switch p {
	case P1:
		return 1
	case P2:
		return 2
	case P5:
		return 5
	case P10:
		return 10
	case P20:
		return 20
	case P50:
		return 50
	case P100:
		return 100
	default:
		return 1
	}
}

// Direction is the data flow direction of a stream relative to its
// opener.
type Direction uint8

const (
	DirTX Direction = iota
	DirRX
	DirTXRX
)

// StreamParametersSize is the packed size in bytes of StreamParameters.
const StreamParametersSize = 2

// StreamParameters packs redundancy(3) period(4) payloadSize(7)
// direction(2) into 16 bits (spec §3).
type StreamParameters struct {
	Redundancy  Redundancy
	Period      Period
	PayloadSize uint8 // ≤ 127
	Direction   Direction
}

const maxPayloadSize = 0x7F

// Marshal packs the parameters into 2 bytes.
func (p StreamParameters) Marshal() ([StreamParametersSize]byte, error) {
	var out [StreamParametersSize]byte
	if p.PayloadSize > maxPayloadSize {
		return out, fmt.Errorf("proto: payloadSize out of range: %d", p.PayloadSize)
	}
	if err := bitops.Put(out[:], 0, 3, uint64(p.Redundancy)); err != nil {
		return out, err
	}
	if err := bitops.Put(out[:], 3, 4, uint64(p.Period)); err != nil {
		return out, err
	}
	if err := bitops.Put(out[:], 7, 7, uint64(p.PayloadSize)); err != nil {
		return out, err
	}
	if err := bitops.Put(out[:], 14, 2, uint64(p.Direction)); err != nil {
		return out, err
	}
	return out, nil
}

// UnmarshalStreamParameters reads a packed StreamParameters.
func UnmarshalStreamParameters(b []byte) (StreamParameters, error) {
	var p StreamParameters
	if len(b) < StreamParametersSize {
		return p, fmt.Errorf("proto: StreamParameters short buffer: %d", len(b))
	}
	redundancy, err := bitops.Get(b, 0, 3)
	if err != nil {
		return p, err
	}
	period, err := bitops.Get(b, 3, 4)
	if err != nil {
		return p, err
	}
	payloadSize, err := bitops.Get(b, 7, 7)
	if err != nil {
		return p, err
	}
	direction, err := bitops.Get(b, 14, 2)
	if err != nil {
		return p, err
	}
	p.Redundancy = Redundancy(redundancy)
	p.Period = Period(period)
	p.PayloadSize = uint8(payloadSize)
	p.Direction = Direction(direction)
	return p, nil
}

// StreamStatus is the client-visible lifecycle state of a stream (spec §3).
type StreamStatus uint8

const (
	StreamConnecting StreamStatus = iota
	StreamConnectFailed
	StreamAcceptWait
	StreamEstablished
	StreamRemotelyClosed
	StreamReopened
	StreamCloseWait
	StreamListenWait
	StreamListenFailed
	StreamListen
	StreamUninitialized
)

func (s StreamStatus) String() string {
	names := [...]string{
		"CONNECTING", "CONNECT_FAILED", "ACCEPT_WAIT", "ESTABLISHED",
		"REMOTELY_CLOSED", "REOPENED", "CLOSE_WAIT", "LISTEN_WAIT",
		"LISTEN_FAILED", "LISTEN", "UNINITIALIZED",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "UNKNOWN"
}

// ServerStatus is the master-side lifecycle state of a listen request
// (spec §3).
type ServerStatus uint8

const (
	ServerAccepted ServerStatus = iota
	ServerEstablished
	ServerRejected
	ServerListen
)

func (s ServerStatus) String() string {
	names := [...]string{"ACCEPTED", "ESTABLISHED", "REJECTED", "LISTEN"}
	if int(s) < len(names) {
		return names[s]
	}
	return "UNKNOWN"
}
