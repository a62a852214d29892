// Package stream implements C8, the application-facing stream endpoint
// API: connect/listen/accept/read/write/wait/getInfo/close over
// single-packet send/recv buffers that the data phase (C9) drains and
// fills slot by slot.
package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/meshtdma/tdmh/proto"
)

// ErrClosed is returned by Read/Write once the stream has been closed.
var ErrClosed = errors.New("stream: closed")

// Handle identifies one stream endpoint to the application, stable for
// the lifetime of that endpoint (spec §4.8: "handle stream_id >= 0").
type Handle int

// Stream is one endpoint's live view of a stream: negotiated parameters,
// admission status, and the single-packet send/recv buffers the data
// phase reads and writes. Buffering and wake-channel idiom grounded on
// the teacher's Stream type (buffered size-1 `onX chan struct{}` signals
// guarded by a mutex, drained via select in Read/Write).
type Stream struct {
	mu sync.Mutex

	id     proto.StreamID
	params proto.StreamParameters
	status proto.StreamStatus
	k      int // redundancy.Count(): transmissions/receptions per buffer cycle

	sendBuf   []byte
	sendCount int
	onDrain   chan struct{}

	recvBuf   []byte
	recvGood  bool
	recvCount int
	onArrive  chan struct{}

	onStatus chan struct{}
	onWake   chan struct{}

	closed bool

	// wakeupAdvance is the lead time the wake-up scheduler (C10) must
	// give this stream's application thread before its next scheduled
	// send slot (spec §4.8 connect: "wakeupAdvance").
	wakeupAdvance time.Duration
}

// New constructs a Stream directly, for callers outside Manager that
// need to bind a stream endpoint ahead of schedule application, e.g.
// dataphase tests and the mac wiring layer.
func New(id proto.StreamID, params proto.StreamParameters, status proto.StreamStatus) *Stream {
	return newStream(id, params, status)
}

func newStream(id proto.StreamID, params proto.StreamParameters, status proto.StreamStatus) *Stream {
	return &Stream{
		id:       id,
		params:   params,
		status:   status,
		k:        params.Redundancy.Count(),
		onDrain:  make(chan struct{}, 1),
		onArrive: make(chan struct{}, 1),
		onStatus: make(chan struct{}, 1),
		onWake:   make(chan struct{}, 1),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// ID returns the stream's wire identifier.
func (s *Stream) ID() proto.StreamID { return s.id }

// WakeupAdvance returns the lead time requested at connect() time.
func (s *Stream) WakeupAdvance() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakeupAdvance
}

// SetWakeupAdvance records the lead time the wake-up scheduler (C10)
// should give this stream's application thread before its next send
// slot.
func (s *Stream) SetWakeupAdvance(d time.Duration) {
	s.mu.Lock()
	s.wakeupAdvance = d
	s.mu.Unlock()
}

// Status returns the stream's current lifecycle status (spec §4.12).
func (s *Stream) Status() proto.StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Info returns the negotiated parameters and current status together
// (spec §4.8 getInfo).
func (s *Stream) Info() (proto.StreamParameters, proto.StreamStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params, s.status
}

// setStatus applies a new status and wakes anything blocked in Wait,
// Read or Write on a status transition.
func (s *Stream) setStatus(status proto.StreamStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	notify(s.onStatus)
}

// Write blocks until the send buffer is empty (spec §4.8: "write blocks
// until the per-stream send buffer is empty, then stores one payload"),
// then stores payload and returns its length. Returns ErrClosed if the
// stream is closed before or while waiting.
func (s *Stream) Write(payload []byte) (int, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, ErrClosed
		}
		if s.sendBuf == nil {
			s.sendBuf = append([]byte(nil), payload...)
			s.sendCount = 0
			s.mu.Unlock()
			return len(payload), nil
		}
		s.mu.Unlock()
		<-s.onDrain
	}
}

// Read blocks until the recv buffer has a delivered payload (spec §4.8:
// "read blocks until the recv buffer is non-empty"), then returns (and
// clears) it. Returns ErrClosed if the stream is closed before or while
// waiting.
func (s *Stream) Read() ([]byte, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if s.recvBuf != nil && !s.recvGood {
			out := s.recvBuf
			s.recvBuf = nil
			s.mu.Unlock()
			return out, nil
		}
		s.mu.Unlock()
		<-s.onArrive
	}
}

// Wait blocks until the wake-up scheduler (C10) signals this stream's
// next transmit opportunity (spec §4.8 wait).
func (s *Stream) Wait() {
	<-s.onWake
}

// Wake is called by the wake-up scheduler to satisfy a pending Wait.
func (s *Stream) Wake() {
	notify(s.onWake)
}

// NextSendPayload is called by the data phase on a SENDSTREAM slot
// (spec §4.9): it returns the buffered payload if one is waiting, and
// increments the draw count; once k draws have happened the buffer is
// cleared and any blocked Write is released (spec §4.8: "the send
// buffer is cleared only after k transmissions").
func (s *Stream) NextSendPayload() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendBuf == nil {
		return nil, false
	}
	payload := s.sendBuf
	s.sendCount++
	if s.sendCount >= s.k {
		s.sendBuf = nil
		s.sendCount = 0
		defer notify(s.onDrain)
	}
	return payload, true
}

// Deposit is called by the data phase on a RECVSTREAM slot (spec §4.9):
// ok reports whether this reception in the current redundancy window was
// good. The first good payload in a window wins and is kept across
// subsequent misses ("preserving any previously-good data inside the
// redundancy window"); once k depositions have been made in the window,
// a good payload (if any) is delivered to Read and the window resets.
func (s *Stream) Deposit(payload []byte, ok bool) {
	s.mu.Lock()
	if ok && !s.recvGood {
		s.recvBuf = append([]byte(nil), payload...)
		s.recvGood = true
	}
	s.recvCount++
	delivered := s.recvCount >= s.k
	if delivered {
		s.recvCount = 0
		s.recvGood = false
	}
	s.mu.Unlock()
	if delivered && s.recvBuf != nil {
		notify(s.onArrive)
	}
}

// MissPacket is called by the data phase's advance() path when the node
// is desynchronized, to keep sequence/window bookkeeping aligned across
// the mesh without an actual reception attempt (spec §4.9).
func (s *Stream) MissPacket() {
	s.Deposit(nil, false)
}

// close marks the stream closed and releases anything blocked on it.
func (s *Stream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	notify(s.onDrain)
	notify(s.onArrive)
	notify(s.onStatus)
	notify(s.onWake)
}

// waitStatusChange blocks until the next status transition or d elapses,
// returning false on timeout.
func (s *Stream) waitStatusChange(d time.Duration) bool {
	select {
	case <-s.onStatus:
		return true
	case <-time.After(d):
		return false
	}
}
