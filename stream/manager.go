package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/meshtdma/tdmh/proto"
)

// ErrConnectFailed is returned by Connect when the master rejects the
// stream (spec §4.8: "CONNECT_FAILED if rejected").
var ErrConnectFailed = errors.New("stream: connect failed")

// ErrListenFailed is returned by Listen when the master rejects the
// listener (spec §4.8: "LISTEN_FAILED").
var ErrListenFailed = errors.New("stream: listen failed")

// ErrUnknownHandle is returned when a Handle does not name a live
// stream or server.
var ErrUnknownHandle = errors.New("stream: unknown handle")

// ErrNoFreePort is returned when a node has exhausted its 16 local
// stream ports.
var ErrNoFreePort = errors.New("stream: no free local port")

const statusPollInterval = 200 * time.Millisecond

// server is the local bookkeeping for one listen(port) call: the master
// admits stream requests matching (dst=self, dstPort=port) against it,
// and accept() pulls the resulting client stream handles off accepted.
type server struct {
	id       proto.StreamID
	params   proto.StreamParameters
	status   proto.ServerStatus
	accepted chan Handle
}

// Manager is a node's local stream/server registry: the application-
// facing connect/listen/accept/read/write/wait/getInfo/close surface of
// spec §4.8, wired to the uplink phase's SME channel for outbound
// requests and to schedule application (C7) for status resolution --
// per DESIGN.md, a node learns its own stream's admission status by
// checking the applied schedule's stream map rather than from a
// dedicated wire confirmation record.
type Manager struct {
	self proto.NodeID

	mu       sync.Mutex
	nextPort proto.Port
	handles  map[Handle]*Stream
	byID     map[proto.StreamID]*Stream
	servers  map[proto.Port]*server
	nextH    Handle

	// EnqueueSME is invoked for every locally originated or
	// locally-closed SME so it can travel uplink toward the master. The
	// mac wiring sets this to SMEMap.Put directly on the master, or to
	// the uplink Phase's SMEQueue.Enqueue on dynamic nodes.
	EnqueueSME func(proto.SME)
}

// NewManager constructs an empty stream manager for self.
func NewManager(self proto.NodeID) *Manager {
	return &Manager{
		self:    self,
		handles: make(map[Handle]*Stream),
		byID:    make(map[proto.StreamID]*Stream),
		servers: make(map[proto.Port]*server),
	}
}

func (m *Manager) emit(sme proto.SME) {
	if m.EnqueueSME != nil {
		m.EnqueueSME(sme)
	}
}

func (m *Manager) allocatePort() (proto.Port, error) {
	for i := 0; i < 16; i++ {
		p := m.nextPort
		m.nextPort = (m.nextPort + 1) % 16
		inUse := false
		for _, s := range m.byID {
			if s.id.Src == m.self && s.id.SrcPort == p {
				inUse = true
				break
			}
		}
		if !inUse {
			return p, nil
		}
	}
	return 0, ErrNoFreePort
}

func (m *Manager) registerLocked(st *Stream) Handle {
	h := m.nextH
	m.nextH++
	m.handles[h] = st
	m.byID[st.id] = st
	return h
}

// Connect requests a new stream to (dst, dstPort) and blocks until the
// master admits or rejects it (spec §4.8 connect). wakeupAdvance is
// handed to the wake-up scheduler (C10) as the lead time this stream's
// application thread needs before its next send slot.
func (m *Manager) Connect(dst proto.NodeID, dstPort proto.Port, params proto.StreamParameters, wakeupAdvance time.Duration) (Handle, error) {
	m.mu.Lock()
	srcPort, err := m.allocatePort()
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	id := proto.StreamID{Src: m.self, Dst: dst, SrcPort: srcPort, DstPort: dstPort}
	st := newStream(id, params, proto.StreamConnecting)
	st.SetWakeupAdvance(wakeupAdvance)
	h := m.registerLocked(st)
	m.mu.Unlock()

	m.emit(proto.SME{ID: id, Status: proto.StreamConnecting, Parameters: params})

	for {
		switch st.Status() {
		case proto.StreamEstablished, proto.StreamReopened:
			return h, nil
		case proto.StreamConnectFailed:
			return h, ErrConnectFailed
		}
		st.waitStatusChange(statusPollInterval)
	}
}

// Listen registers a server on port and blocks until the master confirms
// it (spec §4.8 listen).
func (m *Manager) Listen(port proto.Port, params proto.StreamParameters) (Handle, error) {
	id := proto.ServerID(m.self, port)
	m.mu.Lock()
	srv := &server{id: id, params: params, status: proto.ServerListen, accepted: make(chan Handle, 8)}
	m.servers[port] = srv
	st := newStream(id, params, proto.StreamListenWait)
	h := m.registerLocked(st)
	m.mu.Unlock()

	m.emit(proto.SME{ID: id, Status: proto.StreamListenWait, Parameters: params})

	for {
		switch st.Status() {
		case proto.StreamListen:
			return h, nil
		case proto.StreamListenFailed:
			return h, ErrListenFailed
		}
		st.waitStatusChange(statusPollInterval)
	}
}

// Accept blocks until a client connects to the server named by
// serverHandle, returning a handle for the resulting stream (spec §4.8
// accept).
func (m *Manager) Accept(serverHandle Handle) (Handle, error) {
	m.mu.Lock()
	st, ok := m.handles[serverHandle]
	if !ok {
		m.mu.Unlock()
		return 0, ErrUnknownHandle
	}
	srv, ok := m.servers[st.id.DstPort]
	m.mu.Unlock()
	if !ok {
		return 0, ErrUnknownHandle
	}
	h, ok := <-srv.accepted
	if !ok {
		return 0, ErrClosed
	}
	return h, nil
}

// Write stores payload into the stream's send buffer (spec §4.8 write).
func (m *Manager) Write(h Handle, payload []byte) (int, error) {
	m.mu.Lock()
	st, ok := m.handles[h]
	m.mu.Unlock()
	if !ok {
		return 0, ErrUnknownHandle
	}
	return st.Write(payload)
}

// Read returns the next delivered payload from the stream's recv buffer
// (spec §4.8 read).
func (m *Manager) Read(h Handle) ([]byte, error) {
	m.mu.Lock()
	st, ok := m.handles[h]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownHandle
	}
	return st.Read()
}

// Wait blocks until the stream's next transmit opportunity (spec §4.8
// wait), driven by the wake-up scheduler (C10).
func (m *Manager) Wait(h Handle) error {
	m.mu.Lock()
	st, ok := m.handles[h]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	st.Wait()
	return nil
}

// GetInfo returns the stream's negotiated parameters and current status
// (spec §4.8 getInfo).
func (m *Manager) GetInfo(h Handle) (proto.StreamParameters, proto.StreamStatus, error) {
	m.mu.Lock()
	st, ok := m.handles[h]
	m.mu.Unlock()
	if !ok {
		return proto.StreamParameters{}, 0, ErrUnknownHandle
	}
	params, status := st.Info()
	return params, status, nil
}

// Close tears the stream down locally and tells the master it is closing
// (spec §4.8 close, §4.12 ESTABLISHED -> CLOSE_WAIT -> closed).
func (m *Manager) Close(h Handle) error {
	m.mu.Lock()
	st, ok := m.handles[h]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownHandle
	}
	delete(m.handles, h)
	delete(m.byID, st.id)
	if srv, ok := m.servers[st.id.DstPort]; ok && srv.id == st.id {
		delete(m.servers, st.id.DstPort)
	}
	m.mu.Unlock()

	st.setStatus(proto.StreamCloseWait)
	m.emit(proto.SME{ID: st.id, Status: proto.StreamCloseWait, Parameters: st.params})
	st.close()
	return nil
}

// Lookup returns the live Stream for id, used by the data phase (C9) to
// resolve a schedule element's StreamId to its buffers.
func (m *Manager) Lookup(id proto.StreamID) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.byID[id]
	return st, ok
}

// ApplySchedule reconciles every locally known stream/server against a
// newly applied schedule's admission decisions (spec §4.7, §4.12): known
// streams simply adopt the new status, except that a rejected server
// (CONNECT_FAILED on a server id) becomes LISTEN_FAILED; an unseen
// StreamID whose destination is a local, listening server is a freshly
// admitted incoming connection, surfaced to a blocked Accept.
func (m *Manager) ApplySchedule(streams map[proto.StreamID]proto.SME) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sme := range streams {
		if st, ok := m.byID[id]; ok {
			status := sme.Status
			if id.IsServerID() && status == proto.StreamConnectFailed {
				status = proto.StreamListenFailed
			}
			st.setStatus(status)
			continue
		}
		if id.IsServerID() || id.Dst != m.self || sme.Status != proto.StreamEstablished {
			continue
		}
		srv, ok := m.servers[id.DstPort]
		if !ok {
			continue
		}
		st := newStream(id, sme.Parameters, proto.StreamEstablished)
		h := m.registerLocked(st)
		select {
		case srv.accepted <- h:
		default:
		}
	}
}
