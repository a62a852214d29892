// Package dataphase implements C9, per-slot schedule playback: dispatch
// on each node's expanded explicit schedule to the stream endpoint (C8)
// send/recv buffers or, for forwarders, a shared relay buffer, grounded
// on original_source/network_module/data_phase/dataphase.cpp.
package dataphase

import (
	"time"

	"github.com/meshtdma/tdmh/core/clock"
	"github.com/meshtdma/tdmh/core/config"
	"github.com/meshtdma/tdmh/core/log"
	"github.com/meshtdma/tdmh/core/packet"
	"github.com/meshtdma/tdmh/core/radio"
	"github.com/meshtdma/tdmh/proto"
	"github.com/meshtdma/tdmh/stream"
)

var logger = log.GetLogger("dataphase")

// streamIDHeaderSize covers the frame header plus the StreamID carried
// right after it in every data slot packet, identifying which stream this
// payload belongs to (spec §4.9: "embedded StreamId ... equals id").
const streamIDHeaderSize = proto.FrameHeaderSize + proto.StreamIDSize

// Endpoint binds one local ExplicitScheduleElement Port this node owns
// as a stream source or sink to its live stream.Stream (spec §4.9
// SENDSTREAM/RECVSTREAM).
type Endpoint struct {
	ID     proto.StreamID
	Stream *stream.Stream
	seq    uint32
}

// Forward is a multi-hop relay slot: a shared single-packet buffer a
// forwarder receives into at its RECVBUFFER slot and re-emits from at
// its SENDBUFFER slot, counting toward the stream's k transmissions
// before the buffer is cleared (spec §4.9 SENDBUFFER/RECVBUFFER).
type Forward struct {
	ID    proto.StreamID
	K     int
	count int
	buf   []byte
}

// Phase runs one node's per-slot schedule playback.
type Phase struct {
	cfg  *config.Config
	r    radio.Radio
	self proto.NodeID
	aead AEAD // nil when authentication/encryption is disabled

	radioTime time.Duration // Open Question (i): fixed per-slot radio budget

	schedule   []proto.ExplicitScheduleElement
	slotIndex  int
	superframe uint32

	endpoints map[proto.Port]*Endpoint
	forwards  map[proto.Port]*Forward
}

// NewPhase constructs a data phase. aead may be nil if
// cfg.AuthenticateData/EncryptData are both false.
func NewPhase(cfg *config.Config, r radio.Radio, self proto.NodeID, aead AEAD, radioTime time.Duration) *Phase {
	return &Phase{
		cfg: cfg, r: r, self: self, aead: aead, radioTime: radioTime,
		endpoints: make(map[proto.Port]*Endpoint),
		forwards:  make(map[proto.Port]*Forward),
	}
}

// SetSchedule installs a freshly expanded explicit schedule, resetting
// the slot cursor (spec §4.7: a new schedule is applied atomically at
// its activation tile).
func (p *Phase) SetSchedule(schedule []proto.ExplicitScheduleElement) {
	p.schedule = schedule
	p.slotIndex = 0
}

// BindEndpoint associates a local explicit-schedule port with the live
// stream whose payloads it sends or receives.
func (p *Phase) BindEndpoint(port proto.Port, id proto.StreamID, st *stream.Stream) {
	p.endpoints[port] = &Endpoint{ID: id, Stream: st}
}

// BindForward associates a local explicit-schedule port with a
// forwarder relay for a multi-hop stream this node is not an endpoint
// of.
func (p *Phase) BindForward(port proto.Port, id proto.StreamID, k int) {
	p.forwards[port] = &Forward{ID: id, K: k}
}

// Unbind drops any endpoint/forward binding for port, e.g. after a
// stream closes.
func (p *Phase) Unbind(port proto.Port) {
	delete(p.endpoints, port)
	delete(p.forwards, port)
}

// ClearBindings drops every endpoint/forward binding at once, so a newly
// applied schedule rebinds its ports from scratch rather than inheriting
// stale bindings from the previous schedule (spec §4.7 schedule
// replacement, §4.12 REMOTELY_CLOSED/REOPENED transitions).
func (p *Phase) ClearBindings() {
	p.endpoints = make(map[proto.Port]*Endpoint)
	p.forwards = make(map[proto.Port]*Forward)
}

// Len reports the number of slots in the installed schedule.
func (p *Phase) Len() int { return len(p.schedule) }

// Execute dispatches the current slot's action at slotStart and
// advances the cursor (spec §4.9).
func (p *Phase) Execute(slotStart time.Duration) {
	if len(p.schedule) == 0 {
		return
	}
	action := p.schedule[p.slotIndex]
	switch action.Action {
	case proto.ActionSendStream:
		p.sendStream(action.Port, slotStart)
	case proto.ActionRecvStream:
		p.recvStream(action.Port, slotStart)
	case proto.ActionSendBuffer:
		p.sendBuffer(action.Port, slotStart)
	case proto.ActionRecvBuffer:
		p.recvBuffer(action.Port, slotStart)
	}
	p.advanceCursor()
}

// Advance is called instead of Execute while the node is desynchronized:
// it only moves the cursor, running the same stream bookkeeping a missed
// send/recv slot would (spec §4.9: "invokes missPacket so sequence
// numbers stay aligned across the mesh").
func (p *Phase) Advance() {
	if len(p.schedule) == 0 {
		return
	}
	action := p.schedule[p.slotIndex]
	if action.Action == proto.ActionRecvStream {
		if ep, ok := p.endpoints[action.Port]; ok {
			ep.seq++
			ep.Stream.MissPacket()
		}
	}
	p.advanceCursor()
}

func (p *Phase) advanceCursor() {
	p.slotIndex++
	if p.slotIndex >= len(p.schedule) {
		p.slotIndex = 0
		for _, ep := range p.endpoints {
			ep.seq = 0
		}
		p.superframe++
	}
}

func (p *Phase) frameBytes(id proto.StreamID, payload []byte) ([]byte, error) {
	pkt := packet.New()
	frame := proto.FrameHeader{HopOrSeq: byte(p.slotIndex), PanID: p.cfg.PanID}
	fb := frame.Marshal()
	if err := pkt.Put(fb[:]); err != nil {
		return nil, err
	}
	idb, err := id.Marshal()
	if err != nil {
		return nil, err
	}
	if err := pkt.Put(idb[:]); err != nil {
		return nil, err
	}
	if err := pkt.Put(payload); err != nil {
		return nil, err
	}
	return pkt.Bytes(), nil
}

func (p *Phase) sendStream(port proto.Port, slotStart time.Duration) {
	ep, ok := p.endpoints[port]
	if !ok {
		return
	}
	payload, ok := ep.Stream.NextSendPayload()
	if !ok {
		logger.Debugf("dataphase: no payload ready for stream %s, sleeping slot", ep.ID.String())
		return
	}
	seq := ep.seq
	ep.seq++

	if p.aead != nil {
		payload = p.aead.Seal(p.superframe, seq, uint8(p.self), payload)
	}
	buf, err := p.frameBytes(ep.ID, payload)
	if err != nil {
		logger.Warningf("dataphase: frame stream %s: %v", ep.ID.String(), err)
		return
	}
	if err := p.r.SendAt(buf, len(buf), slotStart); err != nil {
		logger.Warningf("dataphase: sendAt stream %s: %v", ep.ID.String(), err)
	}
}

func (p *Phase) recvStream(port proto.Port, slotStart time.Duration) {
	ep, ok := p.endpoints[port]
	if !ok {
		return
	}
	deadline := slotStart + p.radioTime
	defer clock.SleepUntil(deadline)
	buf := make([]byte, packet.Capacity)
	result := p.r.Recv(buf, deadline)

	seq := ep.seq
	ep.seq++

	payload, ok := p.validate(ep.ID, buf, result)
	if !ok {
		ep.Stream.Deposit(nil, false)
		return
	}
	if p.aead != nil {
		opened, ok := p.aead.Open(p.superframe, seq, uint8(p.self), payload)
		if !ok {
			ep.Stream.Deposit(nil, false)
			return
		}
		payload = opened
	}
	ep.Stream.Deposit(payload, true)
}

func (p *Phase) validate(id proto.StreamID, buf []byte, result radio.RecvResult) ([]byte, bool) {
	if result.Error != radio.RecvOK || result.Size < streamIDHeaderSize {
		return nil, false
	}
	frame, err := proto.UnmarshalFrameHeader(buf)
	if err != nil || frame.PanID != p.cfg.PanID {
		return nil, false
	}
	gotID, err := proto.UnmarshalStreamID(buf[proto.FrameHeaderSize:streamIDHeaderSize])
	if err != nil || gotID != id {
		return nil, false
	}
	return append([]byte(nil), buf[streamIDHeaderSize:result.Size]...), true
}

func (p *Phase) sendBuffer(port proto.Port, slotStart time.Duration) {
	f, ok := p.forwards[port]
	if !ok || f.buf == nil {
		return
	}
	buf, err := p.frameBytes(f.ID, f.buf)
	if err != nil {
		logger.Warningf("dataphase: frame forward %s: %v", f.ID.String(), err)
		return
	}
	if err := p.r.SendAt(buf, len(buf), slotStart); err != nil {
		logger.Warningf("dataphase: sendAt forward %s: %v", f.ID.String(), err)
		return
	}
	f.count++
	if f.count >= f.K {
		f.buf = nil
		f.count = 0
	}
}

func (p *Phase) recvBuffer(port proto.Port, slotStart time.Duration) {
	f, ok := p.forwards[port]
	if !ok {
		return
	}
	deadline := slotStart + p.radioTime
	buf := make([]byte, packet.Capacity)
	result := p.r.Recv(buf, deadline)
	payload, ok := p.validate(f.ID, buf, result)
	if !ok {
		return
	}
	f.buf = payload
	f.count = 0
}
