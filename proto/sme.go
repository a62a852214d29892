package proto

import (
	"fmt"

	"github.com/meshtdma/tdmh/core/bitops"
)

// SMESize is the packed size of a StreamManagementElement: the 3-byte
// StreamId plus a 3-byte status+parameters field (spec §6: "total
// serialization exactly equals StreamId.size() + 3").
const SMESize = StreamIDSize + 3

// SME is a compact (src, dst, status, parameters) record exchanged in the
// uplink phase to request or close streams (spec §3, §4.5). Uniqueness
// key is the StreamId.
type SME struct {
	ID         StreamID
	Status     StreamStatus
	Parameters StreamParameters
}

// Marshal packs the SME: StreamId (3 bytes), then status(3 bits) +
// parameters(16 bits) packed MSB-first into a trailing 3-byte field.
func (s SME) Marshal() ([SMESize]byte, error) {
	var out [SMESize]byte
	idBytes, err := s.ID.Marshal()
	if err != nil {
		return out, err
	}
	copy(out[:StreamIDSize], idBytes[:])

	tail := out[StreamIDSize:]
	if err := bitops.Put(tail, 0, 3, uint64(s.Status)); err != nil {
		return out, err
	}
	params, err := s.Parameters.Marshal()
	if err != nil {
		return out, err
	}
	paramsVal, err := bitops.Get(params[:], 0, 16)
	if err != nil {
		return out, err
	}
	if err := bitops.Put(tail, 3, 16, paramsVal); err != nil {
		return out, err
	}
	return out, nil
}

// UnmarshalSME reads a StreamManagementElement.
func UnmarshalSME(b []byte) (SME, error) {
	var s SME
	if len(b) < SMESize {
		return s, fmt.Errorf("proto: SME short buffer: %d", len(b))
	}
	id, err := UnmarshalStreamID(b[:StreamIDSize])
	if err != nil {
		return s, err
	}
	tail := b[StreamIDSize:SMESize]
	status, err := bitops.Get(tail, 0, 3)
	if err != nil {
		return s, err
	}
	paramsVal, err := bitops.Get(tail, 3, 16)
	if err != nil {
		return s, err
	}
	var paramsBytes [StreamParametersSize]byte
	if err := bitops.Put(paramsBytes[:], 0, 16, paramsVal); err != nil {
		return s, err
	}
	params, err := UnmarshalStreamParameters(paramsBytes[:])
	if err != nil {
		return s, err
	}
	s.ID = id
	s.Status = StreamStatus(status)
	s.Parameters = params
	return s, nil
}
