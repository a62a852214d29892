package wakeup

import (
	"time"

	"github.com/meshtdma/tdmh/proto"
)

// PortBinding tells BuildQueues which stream owns a send-capable local
// port and how far ahead of its slot that stream's application thread
// must be woken.
type PortBinding struct {
	StreamID      proto.StreamID
	WakeupAdvance time.Duration
}

// BuildQueues scans node's expanded explicit schedule and produces the
// two ordered wake-up queues (spec §4.10): one STREAM entry per
// SENDSTREAM slot this node owns, each recurring every full schedule
// cycle (the explicit vector itself already enumerates every occurrence
// within one cycle, so the entry's natural period is the cycle length),
// plus one DOWNLINK entry waking downlinkAdvance before the first data
// slot of every cycle so application threads have a chance to queue
// writes before the next activation-sensitive downlink tile (spec
// §4.7's "leaving time for stream endpoints to issue their first
// writes").
//
// superframeStart anchors slot 0 of the schedule to an absolute local
// time; slotDuration is tileDuration/slotsPerTile.
func BuildQueues(schedule []proto.ExplicitScheduleElement, ports map[proto.Port]PortBinding, superframeStart, slotDuration time.Duration, downlinkAdvance time.Duration) Queues {
	q := NewQueues()
	if len(schedule) == 0 {
		return q
	}
	cycle := time.Duration(len(schedule)) * slotDuration

	for slot, elem := range schedule {
		if elem.Action != proto.ActionSendStream {
			continue
		}
		binding, ok := ports[elem.Port]
		if !ok {
			continue
		}
		slotStart := superframeStart + time.Duration(slot)*slotDuration
		wake := slotStart - binding.WakeupAdvance
		q.Curr.Insert(&Info{
			Kind:       KindStream,
			StreamID:   binding.StreamID,
			WakeupTime: wake,
			Period:     cycle,
		})
	}

	if downlinkAdvance > 0 {
		q.Curr.Insert(&Info{
			Kind:       KindDownlink,
			WakeupTime: superframeStart - downlinkAdvance,
			Period:     cycle,
		})
	}

	return q
}
