// Package schedule implements C6 (schedule computation) and C7 (schedule
// distribution), master-only responsibilities grounded on
// original_source/network_module/schedule/schedule_computation.cpp and
// {master_,}schedule_distribution.cpp.
package schedule

import (
	"sort"
	"sync"

	"github.com/meshtdma/tdmh/core/config"
	"github.com/meshtdma/tdmh/core/log"
	"github.com/meshtdma/tdmh/proto"
	"github.com/meshtdma/tdmh/uplink"
)

var logger = log.GetLogger("schedule")

// Computation runs the master-only schedule recomputation pass (spec
// §4.6). It reads the live topology Graph and SMEMap the uplink phase
// maintains and produces successive Plans.
type Computation struct {
	cfg    *config.Config
	graph  *uplink.Graph
	smeMap *uplink.SMEMap

	mu             sync.Mutex
	plan           *Plan
	nextScheduleID uint32
}

// NewComputation constructs a schedule computation bound to the master's
// live graph and SME map.
func NewComputation(cfg *config.Config, graph *uplink.Graph, smeMap *uplink.SMEMap) *Computation {
	return &Computation{cfg: cfg, graph: graph, smeMap: smeMap, nextScheduleID: 1}
}

// Current returns the most recently computed plan, or nil before the
// first computation.
func (c *Computation) Current() *Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// Compute runs one full recomputation pass: snapshot, partition into
// established/new, route, sort, and slot-assign (spec §4.6 steps 1-5).
// topologyChanged should be the uplink-observed Graph.Modified() value
// for this round; it decides whether already-ESTABLISHED streams are
// re-routed from scratch or kept verbatim (spec §4.6 step 2: "re-scheduled
// if graph changed or any stream removed").
func (c *Computation) Compute(topologyChanged bool) *Plan {
	smes := c.smeMap.Snapshot()
	candidates := make(map[proto.StreamID]proto.SME, len(smes))
	for _, s := range smes {
		if s.Status == proto.StreamCloseWait {
			continue
		}
		candidates[s.ID] = s
	}

	c.mu.Lock()
	prev := c.plan
	c.mu.Unlock()

	var establishedIDs []proto.StreamID
	removed := false
	if prev != nil {
		for _, id := range prev.order {
			prevSME, wasEstablished := prev.Streams[id]
			if !wasEstablished || prevSME.Status != proto.StreamEstablished {
				continue
			}
			if _, stillWanted := candidates[id]; !stillWanted {
				removed = true
				continue
			}
			establishedIDs = append(establishedIDs, id)
		}
	}

	fullRecompute := prev == nil || topologyChanged || removed

	planner := newPlanner(c.graph, c.cfg)
	elements := make([]proto.ScheduleElement, 0)
	streams := make(map[proto.StreamID]proto.SME, len(candidates))
	var order []proto.StreamID

	if !fullRecompute {
		for _, id := range establishedIDs {
			els := prev.elementsByStream[id]
			elements = append(elements, els...)
			sme := candidates[id]
			sme.Status = proto.StreamEstablished
			streams[id] = sme
			order = append(order, id)
			planner.adopt(els, sme.Parameters.Redundancy.Count())
		}
	}

	var newIDs []proto.StreamID
	establishedSet := make(map[proto.StreamID]bool, len(establishedIDs))
	if !fullRecompute {
		for _, id := range establishedIDs {
			establishedSet[id] = true
		}
	}
	for id := range candidates {
		if !establishedSet[id] {
			newIDs = append(newIDs, id)
		}
	}
	// spec §4.6 step 4: sort new streams by decreasing period.
	sort.Slice(newIDs, func(i, j int) bool {
		return candidates[newIDs[i]].Parameters.Period.Tiles() > candidates[newIDs[j]].Parameters.Period.Tiles()
	})
	if fullRecompute {
		sort.Slice(establishedIDs, func(i, j int) bool {
			return candidates[establishedIDs[i]].Parameters.Period.Tiles() > candidates[establishedIDs[j]].Parameters.Period.Tiles()
		})
	}

	toPlace := newIDs
	if fullRecompute {
		toPlace = append(append([]proto.StreamID{}, establishedIDs...), newIDs...)
	}

	elementsByStream := make(map[proto.StreamID][]proto.ScheduleElement, len(candidates))
	for _, id := range order {
		elementsByStream[id] = prev.elementsByStream[id]
	}

	for _, id := range toPlace {
		sme := candidates[id]
		els, ok := planner.place(sme)
		if !ok {
			// Status reported to candidates that fail routing or slot
			// assignment: spec §3 defines CONNECT_FAILED/LISTEN_FAILED
			// as the per-endpoint rejection signals rather than a single
			// generic "rejected" state, so computation reports the same
			// value the connecting endpoint polls for (stream.Manager
			// maps this to LISTEN_FAILED on the accepting side, see
			// Manager.ApplySchedule).
			sme.Status = proto.StreamConnectFailed
			streams[id] = sme
			logger.Warningf("schedule: stream %s rejected (no path or no conflict-free slot)", id.String())
			continue
		}
		elements = append(elements, els...)
		elementsByStream[id] = els
		sme.Status = proto.StreamEstablished
		streams[id] = sme
		order = append(order, id)
	}

	c.mu.Lock()
	scheduleID := c.nextScheduleID
	c.nextScheduleID++
	plan := &Plan{
		ScheduleID:       scheduleID,
		ScheduleTiles:    uint16(planner.scheduleTiles()),
		Elements:         elements,
		Streams:          streams,
		order:            order,
		elementsByStream: elementsByStream,
	}
	c.plan = plan
	c.mu.Unlock()
	return plan
}
