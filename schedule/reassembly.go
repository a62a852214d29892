package schedule

import (
	"github.com/meshtdma/tdmh/proto"
)

// Reassembler accumulates a dynamic node's view of a distribution in
// progress across downlink tiles, applying it once the master's
// repetition-3 pass has filled every chunk (spec §4.7, §8 P8: "a dynamic
// node only applies a new schedule once it has received every packet at
// least once across the three repetitions").
//
// The real element count of a chunk is derived from the radio's reported
// byte count rather than a transmitted count field, because
// core/packet.Packet.Put never zero-pads: the bytes actually received
// are exactly the bytes the master wrote (see DESIGN.md).
type Reassembler struct {
	scheduleID    uint32
	scheduleTiles uint16
	activation    uint32
	total         int
	chunks        map[int][]proto.ScheduleElement
	have          map[int]bool
	maxRepSeen    uint8
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{chunks: map[int][]proto.ScheduleElement{}, have: map[int]bool{}}
}

// Feed processes one received distribution packet payload, starting
// right after the outer FrameHeader. It returns the completed Plan once
// every chunk of the current scheduleID has been seen and the master has
// moved on to (or finished) its third repetition, and resets state
// whenever a new ScheduleID appears (spec §4.7: "a new scheduleID
// invalidates any in-progress reassembly").
func (r *Reassembler) Feed(payload []byte) (*Plan, bool) {
	if len(payload) < proto.ScheduleHeaderSize {
		return nil, false
	}
	header, err := proto.UnmarshalScheduleHeader(payload)
	if err != nil {
		return nil, false
	}

	if header.ScheduleID != r.scheduleID || r.total == 0 {
		r.reset(header)
	}
	if header.Repetition > r.maxRepSeen {
		r.maxRepSeen = header.Repetition
	}

	body := payload[proto.ScheduleHeaderSize:]
	n := len(body) / proto.ScheduleElementSize
	elements := make([]proto.ScheduleElement, 0, n)
	for i := 0; i < n; i++ {
		start := i * proto.ScheduleElementSize
		e, err := proto.UnmarshalScheduleElement(body[start : start+proto.ScheduleElementSize])
		if err != nil {
			return nil, false
		}
		elements = append(elements, e)
	}

	r.chunks[int(header.CurrentPacket)] = elements
	r.have[int(header.CurrentPacket)] = true

	if len(r.have) < r.total || r.maxRepSeen < 3 {
		return nil, false
	}

	var all []proto.ScheduleElement
	for i := 0; i < r.total; i++ {
		all = append(all, r.chunks[i]...)
	}
	return &Plan{ScheduleID: r.scheduleID, ScheduleTiles: r.scheduleTiles, Elements: all}, true
}

// Activation returns the activation tile of the schedule currently being
// (or most recently) reassembled.
func (r *Reassembler) Activation() uint32 {
	return r.activation
}

func (r *Reassembler) reset(header proto.ScheduleHeader) {
	r.scheduleID = header.ScheduleID
	r.scheduleTiles = header.ScheduleTiles
	r.activation = header.ActivationTile
	r.total = int(header.TotalPacket)
	if r.total == 0 {
		r.total = 1
	}
	r.chunks = make(map[int][]proto.ScheduleElement, r.total)
	r.have = make(map[int]bool, r.total)
	r.maxRepSeen = 0
}
