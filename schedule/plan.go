package schedule

import (
	"github.com/meshtdma/tdmh/core/config"
	"github.com/meshtdma/tdmh/proto"
)

// Plan is the object schedule computation produces: the complete implicit
// schedule plus the per-stream status it decided on this round (spec
// §4.6: "the produced object is a list of implicit-schedule elements plus
// (scheduleID, scheduleTiles)").
type Plan struct {
	ScheduleID    uint32
	ScheduleTiles uint16
	Elements      []proto.ScheduleElement
	Streams       map[proto.StreamID]proto.SME

	order            []proto.StreamID
	elementsByStream map[proto.StreamID][]proto.ScheduleElement
}

// StreamStatus returns the admission status this plan decided for id, if
// any.
func (p *Plan) StreamStatus(id proto.StreamID) (proto.StreamStatus, bool) {
	if p == nil {
		return 0, false
	}
	sme, ok := p.Streams[id]
	return sme.Status, ok
}

// placement is one already-committed transmission the conflict checker
// tests new candidates against: a node pair occupying `width` consecutive
// slots starting at `offset`, repeating every `periodSlots` slots (spec
// §4.6 step 5).
type placement struct {
	tx, rx      proto.NodeID
	offset      int
	periodSlots int
	width       int
}

// planner accumulates placements across one Compute() pass and answers
// "does candidate X conflict with anything placed so far" (spec §4.6
// step 5's Unicity/Interference tests).
type planner struct {
	g             graph
	cfg           *config.Config
	placements    []placement
	scheduleSlots int
}

func newPlanner(g graph, cfg *config.Config) *planner {
	return &planner{g: g, cfg: cfg, scheduleSlots: int(cfg.SlotsPerTile)}
}

func (p *planner) scheduleTiles() int {
	if p.cfg.SlotsPerTile == 0 {
		return 0
	}
	return p.scheduleSlots / int(p.cfg.SlotsPerTile)
}

// adopt seeds the planner with an already-scheduled stream's elements, so
// that newly placed streams do not collide with streams kept unchanged
// from the previous plan (spec §8 P7: "scheduling new streams never
// evicts an already-ESTABLISHED stream"). elements carries one
// ScheduleElement per occupied slot -- redundancy.Count() consecutive
// entries per hop sharing the same Tx/Rx/Period, one offset apart (see
// place below) -- so each hop's true width is recovered by counting that
// run rather than needing it passed in separately.
func (p *planner) adopt(elements []proto.ScheduleElement, _ int) {
	for _, run := range groupHopRuns(elements) {
		first := run[0]
		periodSlots := first.Period.Tiles() * int(p.cfg.SlotsPerTile)
		p.placements = append(p.placements, placement{tx: first.Tx, rx: first.Rx, offset: int(first.Offset), periodSlots: periodSlots, width: len(run)})
		p.scheduleSlots = lcmInt(p.scheduleSlots, periodSlots)
	}
}

// groupHopRuns splits a stream's flat element list (each hop replicated
// redundancy.Count() times at consecutive offsets, emitted hop by hop in
// path order by place) back into one run per hop.
func groupHopRuns(elements []proto.ScheduleElement) [][]proto.ScheduleElement {
	var runs [][]proto.ScheduleElement
	var cur []proto.ScheduleElement
	for _, e := range elements {
		if len(cur) > 0 {
			last := cur[len(cur)-1]
			sameHop := last.Tx == e.Tx && last.Rx == e.Rx && last.Period == e.Period
			consecutive := e.Offset == last.Offset+1
			if !sameHop || !consecutive {
				runs = append(runs, cur)
				cur = nil
			}
		}
		cur = append(cur, e)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

// place routes and slot-assigns one stream, returning its implicit
// schedule elements or false if routing or slot assignment failed for
// any hop -- in which case the whole stream is rejected and nothing is
// committed to the planner (spec §4.6 step 5: "any hop that fails forces
// rollback of the whole stream"). Each hop contributes
// redundancy.Count() consecutive ScheduleElement entries (offset,
// offset+1, ..., offset+width-1), so the slot width a hop occupies is
// recoverable from the schedule itself -- see Expand and groupHopRuns --
// without needing a dedicated width field in the wire format.
func (p *planner) place(sme proto.SME) ([]proto.ScheduleElement, bool) {
	path, ok := route(p.g, sme.ID.Src, sme.ID.Dst)
	if !ok {
		return nil, false
	}

	width := sme.Parameters.Redundancy.Count()
	periodSlots := sme.Parameters.Period.Tiles() * int(p.cfg.SlotsPerTile)
	if periodSlots == 0 {
		return nil, false
	}

	var newPlacements []placement
	var elements []proto.ScheduleElement
	lastOffset := 0

	for i := 0; i+1 < len(path); i++ {
		tx, rx := path[i], path[i+1]
		offset, ok := p.findOffset(lastOffset, periodSlots, width, tx, rx, newPlacements)
		if !ok {
			return nil, false
		}
		newPlacements = append(newPlacements, placement{tx: tx, rx: rx, offset: offset, periodSlots: periodSlots, width: width})
		for s := 0; s < width; s++ {
			elements = append(elements, proto.ScheduleElement{
				Src: sme.ID.Src, Dst: sme.ID.Dst,
				SrcPort: sme.ID.SrcPort, DstPort: sme.ID.DstPort,
				Tx: tx, Rx: rx,
				Period: sme.Parameters.Period,
				Offset: uint32(offset + s),
			})
		}
		lastOffset = offset
	}

	p.placements = append(p.placements, newPlacements...)
	p.scheduleSlots = lcmInt(p.scheduleSlots, periodSlots)
	return elements, true
}

// findOffset walks candidate offsets starting at `start` (spec §4.6:
// "walk candidate offset in [last_offset, period*slotsPerTile - 1]"),
// rejecting offsets that conflict with anything already placed, including
// the hops of this same stream placed earlier in this call (`inFlight`).
// Every tile -- downlink, uplink, schedule-distribution, or data -- keeps
// its unused portion available for data slots (spec §2), so the search
// does not restrict candidates to tiles tagged RoleData.
func (p *planner) findOffset(start, periodSlots, width int, tx, rx proto.NodeID, inFlight []placement) (int, bool) {
	for offset := start; offset+width <= periodSlots; offset++ {
		if p.conflicts(offset, periodSlots, width, tx, rx, p.placements) {
			continue
		}
		if p.conflicts(offset, periodSlots, width, tx, rx, inFlight) {
			continue
		}
		return offset, true
	}
	return 0, false
}

func (p *planner) conflicts(offset, periodSlots, width int, tx, rx proto.NodeID, against []placement) bool {
	for _, existing := range against {
		if !periodsOverlap(offset, periodSlots, width, existing.offset, existing.periodSlots, existing.width) {
			continue
		}
		if nodeOverlap(tx, rx, existing.tx, existing.rx) {
			return true
		}
		if p.g.HasEdge(tx, existing.rx) || p.g.HasEdge(rx, existing.tx) {
			return true
		}
	}
	return false
}

// nodeOverlap is the Unicity conflict test (spec §4.6 step 5): any shared
// node id between the two transmissions' {tx, rx} sets.
func nodeOverlap(tx1, rx1, tx2, rx2 proto.NodeID) bool {
	return tx1 == tx2 || tx1 == rx2 || rx1 == tx2 || rx1 == rx2
}

// periodsOverlap reports whether the interval [offsetA, offsetA+widthA),
// repeated every periodA slots, ever shares a slot with [offsetB,
// offsetB+widthB) repeated every periodB slots (spec §4.6 step 5:
// "conflicts are only possible when offset_a mod tilesPerTile ==
// offset_b mod tilesPerTile; an exhaustive check then verifies shared
// slots across the LCM of periods"). Period is always drawn from the
// fixed {P1,P2,P5,P10,P20,P50,P100} set so lcm(periodA,periodB) stays
// small and a direct double loop over one LCM cycle is cheap.
func periodsOverlap(offsetA, periodA, widthA, offsetB, periodB, widthB int) bool {
	l := lcmInt(periodA, periodB)
	for i := 0; i*periodA < l; i++ {
		a0 := offsetA + i*periodA
		a1 := a0 + widthA
		for j := 0; j*periodB < l; j++ {
			b0 := offsetB + j*periodB
			b1 := b0 + widthB
			if a0 < b1 && b0 < a1 {
				return true
			}
		}
	}
	return false
}

func gcdInt(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func lcmInt(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	g := gcdInt(a, b)
	return a / g * b
}
