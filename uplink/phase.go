package uplink

import (
	"time"

	"github.com/meshtdma/tdmh/core/log"
	"github.com/meshtdma/tdmh/core/packet"
	"github.com/meshtdma/tdmh/core/radio"
	"github.com/meshtdma/tdmh/proto"
)

var logger = log.GetLogger("uplink")

// Config is the subset of static node configuration the uplink phase
// needs (spec §6 config surface).
type Config struct {
	PanID                           uint16
	Self                            proto.NodeID
	NumNodes                        int          // N, total node count for the round-robin schedule
	MaxNodes                        int          // maxNodes, sizes every NeighborTable
	MaxForwardedTopologies          int
	MaxRoundsUnavailableBecomesDead int
	IsMaster                        bool
}

// Phase runs the uplink round-robin on one node (spec §4.5). Master and
// dynamic nodes share the same listener/forwarder logic; only the master
// additionally drains forwarded records into the live topology Graph and
// SMEMap that the schedule computation worker watches.
type Phase struct {
	cfg Config
	r   radio.Radio

	Neighbors *NeighborSet
	TopoQueue *Queue[proto.NodeID, proto.TopologyElement]
	SMEQueue  *Queue[proto.StreamID, proto.SME]

	// Master-only aggregation targets; nil on dynamic nodes.
	Graph  *Graph
	SMEMap *SMEMap

	phaseCount int
}

// NewPhase constructs an uplink phase. On the master, pass non-nil graph
// and smeMap; on dynamic nodes pass nil for both.
func NewPhase(cfg Config, r radio.Radio, graph *Graph, smeMap *SMEMap) *Phase {
	return &Phase{
		cfg:       cfg,
		r:         r,
		Neighbors: NewNeighborSet(),
		TopoQueue: NewQueue[proto.NodeID, proto.TopologyElement](),
		SMEQueue:  NewQueue[proto.StreamID, proto.SME](),
		Graph:     graph,
		SMEMap:    smeMap,
	}
}

// AlignToNetworkTime seeds the round-robin cursor on (re)sync (spec §4.4).
func (p *Phase) AlignToNetworkTime(now time.Duration) {
	period := now / time.Millisecond // coarse: any monotonically increasing tick works, the
	// round robin only needs phaseCount mod (N-1) to be in lockstep across the mesh.
	if p.cfg.NumNodes > 1 {
		p.phaseCount = int(period) % (p.cfg.NumNodes - 1)
	}
}

// nominee returns the node id scheduled to transmit in the current uplink
// tile (spec §4.5: "node N-1-(phaseCount mod (N-1)) transmits ... master
// never transmits here").
func (p *Phase) nominee() proto.NodeID {
	if p.cfg.NumNodes <= 1 {
		return proto.MasterID
	}
	return proto.NodeID(p.cfg.NumNodes - 1 - (p.phaseCount % (p.cfg.NumNodes - 1)))
}

// Execute runs one uplink tile: either transmit (if self is nominated) or
// listen. own is this node's current NeighborTable; selfHop is this
// node's current hop count (used to pick a predecessor and carried in the
// uplink header; the frame's seqno byte carries phaseCount). slotStart is
// the tile's corrected local-clock-domain start time.
func (p *Phase) Execute(own proto.NeighborTable, selfHop uint8, slotStart, deadline time.Duration) error {
	defer func() { p.phaseCount++ }()

	if p.cfg.IsMaster {
		return p.listen(deadline)
	}
	if p.nominee() == p.cfg.Self {
		return p.transmit(own, selfHop, slotStart)
	}
	return p.listen(deadline)
}

const maxUplinkPayload = packet.MaxDataBytes

func (p *Phase) transmit(own proto.NeighborTable, selfHop uint8, slotStart time.Duration) error {
	assignee, ok := p.Neighbors.BestPredecessor(selfHop, p.cfg.MaxRoundsUnavailableBecomesDead)
	if !ok {
		assignee = proto.MasterID
	}

	pkt := packet.New()
	frame := proto.FrameHeader{HopOrSeq: byte(p.phaseCount), PanID: p.cfg.PanID}
	fb := frame.Marshal()
	if err := pkt.Put(fb[:]); err != nil {
		return err
	}

	var topo []proto.TopologyElement
	var smes []proto.SME
	for len(topo) < p.cfg.MaxForwardedTopologies {
		_, v, err := p.TopoQueue.Dequeue()
		if err != nil {
			break
		}
		topo = append(topo, v)
	}
	for {
		_, v, err := p.SMEQueue.Dequeue()
		if err != nil {
			break
		}
		smes = append(smes, v)
	}

	header := proto.UplinkHeader{
		Hop:         selfHop,
		Assignee:    assignee,
		NumTopology: uint8(len(topo)),
		NumSME:      uint8(len(smes)),
	}
	hb := header.Marshal()
	if err := pkt.Put(hb[:]); err != nil {
		return err
	}
	if err := pkt.Put(own); err != nil {
		return err
	}
	for _, t := range topo {
		if err := pkt.PutByte(byte(t.Node)); err != nil {
			return err
		}
		if err := pkt.PutByte(t.Hop); err != nil {
			return err
		}
		if err := pkt.Put(t.Neighbors); err != nil {
			return err
		}
	}
	for _, s := range smes {
		b, err := s.Marshal()
		if err != nil {
			return err
		}
		if err := pkt.Put(b[:]); err != nil {
			return err
		}
	}

	return p.r.SendAt(pkt.Bytes(), pkt.Len(), slotStart)
}

func (p *Phase) listen(deadline time.Duration) error {
	buf := make([]byte, maxUplinkPayload)
	result := p.r.Recv(buf, deadline)
	if result.Error != radio.RecvOK {
		return nil
	}
	frame, err := proto.UnmarshalFrameHeader(buf)
	if err != nil || frame.PanID != p.cfg.PanID {
		return nil
	}
	header, err := proto.UnmarshalUplinkHeader(buf[proto.FrameHeaderSize:])
	if err != nil {
		return nil
	}
	cursor := proto.FrameHeaderSize + proto.UplinkHeaderSize
	tableSize := proto.NeighborTableSize(p.cfg.MaxNodes)
	if cursor+tableSize > result.Size {
		return nil
	}
	table := make(proto.NeighborTable, tableSize)
	copy(table, buf[cursor:cursor+tableSize])
	cursor += tableSize

	// Determine the sender from the assignee's perspective is not
	// directly carried; the sender is identified implicitly by being the
	// node whose NeighborTable this is -- the radio layer is expected to
	// stamp the source node id on RecvResult in a future iteration, but
	// today that is derived from which node self believes is nominated.
	sender := p.nominee()
	p.Neighbors.Observe(sender, header.Hop, result.RSSI)

	if header.Assignee != p.cfg.Self {
		return nil
	}

	elem := proto.TopologyElement{Node: sender, Hop: header.Hop, Neighbors: table}
	if p.cfg.IsMaster {
		p.Graph.ReplaceNeighbors(sender, table, p.cfg.MaxNodes)
	} else {
		p.TopoQueue.Enqueue(sender, elem)
	}

	for i := 0; i < int(header.NumTopology); i++ {
		if cursor+2+tableSize > result.Size {
			break
		}
		node := proto.NodeID(buf[cursor])
		hop := buf[cursor+1]
		cursor += 2
		inner := make(proto.NeighborTable, tableSize)
		copy(inner, buf[cursor:cursor+tableSize])
		cursor += tableSize
		if p.cfg.IsMaster {
			p.Graph.ReplaceNeighbors(node, inner, p.cfg.MaxNodes)
		} else {
			p.TopoQueue.Enqueue(node, proto.TopologyElement{Node: node, Hop: hop, Neighbors: inner})
		}
	}

	for i := 0; i < int(header.NumSME); i++ {
		if cursor+proto.SMESize > result.Size {
			break
		}
		sme, err := proto.UnmarshalSME(buf[cursor : cursor+proto.SMESize])
		cursor += proto.SMESize
		if err != nil {
			continue
		}
		if p.cfg.IsMaster {
			if sme.Status == proto.StreamCloseWait {
				p.SMEMap.Remove(sme.ID)
			} else {
				p.SMEMap.Put(sme)
			}
		} else {
			p.SMEQueue.Enqueue(sme.ID, sme)
		}
	}

	logger.Debugf("uplink recv sender=%d assignee=%d numTopo=%d numSME=%d", sender, header.Assignee, header.NumTopology, header.NumSME)
	return nil
}
