package timesync

import (
	"time"

	"github.com/meshtdma/tdmh/core/radio"
)

// ProbeRequest is the optional round-trip probe subphase (supplemented
// from original_source/network_module/downlink_phase/timesync/roundtrip):
// a node that has missed several consecutive beacons (see ShouldProbe)
// may explicitly ask the master for a fresh timestamp instead of only
// passively waiting. The distilled spec is silent on this path; it is
// never required to reach IN_SYNC, only an optional fast path.
type ProbeRequest struct {
	PanID uint16
	Hop   uint8
}

// probeMagic marks a round-trip ask/reply packet distinctly from a
// regular timesync beacon so a listener never confuses the two.
const probeMagic = 0xF0

// Marshal packs the probe request: the same outer-header shape as a
// timesync beacon with the hop field XORed with probeMagic so a
// receiver can tell ask from reply without a separate type byte.
func (p ProbeRequest) Marshal() [7]byte {
	return [7]byte{0x46, 0x08, p.Hop ^ probeMagic, byte(p.PanID >> 8), byte(p.PanID), 0xFF, 0xFF}
}

// ShouldProbe reports whether a dynamic node should issue a round-trip
// probe: it has missed at least half of maxMissedTimesyncs consecutive
// beacons while still in sync (not yet desynchronized), a sign the
// regular beacon path is degraded for this node specifically rather than
// network-wide.
func (d *Dynamic) ShouldProbe() bool {
	return d.status == InSync && d.missedPackets*2 >= d.cfg.MaxMissedTimesyncs
}

// SendProbe transmits a round-trip ask packet toward the master and waits
// until deadline for a reply, returning half the measured round trip on
// success.
func SendProbe(r radio.Radio, recvBuf []byte, req ProbeRequest, sentAt time.Duration, deadline time.Duration) (time.Duration, bool) {
	wire := req.Marshal()
	if err := r.SendAt(wire[:], len(wire), sentAt); err != nil {
		return 0, false
	}
	result := r.Recv(recvBuf, deadline)
	if result.Error != radio.RecvOK {
		return 0, false
	}
	roundTrip := result.Timestamp - sentAt
	return roundTrip / 2, true
}
