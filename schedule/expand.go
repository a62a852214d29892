package schedule

import "github.com/meshtdma/tdmh/proto"

// Expand turns plan's implicit schedule into the explicit, slot-by-slot
// schedule one node executes during the data phase (spec §4.9). A hop's
// redundancy.Count() consecutive occupied slots are carried as that many
// ScheduleElement entries, one offset apart (schedule/plan.go's place),
// so expansion needs no separate width lookup: each element maps
// directly to the one slot it names. The returned slice has length
// plan.ScheduleTiles*slotsPerTile, one entry per slot of the full
// schedule period, defaulting to ActionSleep.
//
// A node that is tx or rx of a hop but not the stream's actual src/dst is
// a multi-hop forwarder: it gets SENDBUFFER/RECVBUFFER instead of
// SENDSTREAM/RECVSTREAM (spec §4.9, scenario 2).
func Expand(plan *Plan, node proto.NodeID, slotsPerTile int) []proto.ExplicitScheduleElement {
	total := int(plan.ScheduleTiles) * slotsPerTile
	out := make([]proto.ExplicitScheduleElement, total)

	for _, e := range plan.Elements {
		var action proto.ExplicitAction
		switch {
		case node == e.Tx && node == e.Src:
			action = proto.ActionSendStream
		case node == e.Tx:
			action = proto.ActionSendBuffer
		case node == e.Rx && node == e.Dst:
			action = proto.ActionRecvStream
		case node == e.Rx:
			action = proto.ActionRecvBuffer
		default:
			continue
		}
		slot := int(e.Offset)
		if slot < 0 || slot >= total {
			continue
		}
		out[slot] = proto.ExplicitScheduleElement{Action: action, Port: e.SrcPort}
	}
	return out
}
