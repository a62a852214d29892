// Package radiotest provides an in-memory radio.Radio implementation used
// to exercise phases and the top-level MAC loop without real hardware.
// Nodes sharing a *Medium can "hear" each other's SendAt calls.
package radiotest

import (
	"sync"
	"time"

	"github.com/meshtdma/tdmh/core/radio"
)

// frame is a transmission in flight on the shared medium.
type frame struct {
	data      []byte
	rssi      int8
	sentAt    time.Duration
	fromNode  int
}

// Medium is a shared broadcast domain connecting multiple mock radios.
// It is intentionally simplistic: every SendAt is instantly queued for
// every other registered radio (up to 8 pending frames each; further
// frames are dropped), whether or not a Recv call is pending — good
// enough to drive deterministic protocol-logic tests without modeling
// propagation.
type Medium struct {
	mu        sync.Mutex
	listeners map[*Radio]chan frame
}

// NewMedium creates an empty shared medium.
func NewMedium() *Medium {
	return &Medium{listeners: make(map[*Radio]chan frame)}
}

func (m *Medium) register(r *Radio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[r] = make(chan frame, 8)
}

func (m *Medium) unregister(r *Radio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, r)
}

func (m *Medium) broadcast(from *Radio, f frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for r, ch := range m.listeners {
		if r == from {
			continue
		}
		select {
		case ch <- f:
		default:
		}
	}
}

// Radio is a mock radio.Radio backed by a Medium. Local-clock-domain
// durations passed to SendAt/Recv are interpreted relative to the wall
// clock time at which the Radio was constructed, so tests can use small
// synthetic durations without waiting real wall-clock time for anything
// except the gap between "now" and a deadline.
type Radio struct {
	Node   int
	RSSI   int8 // RSSI this radio reports on receipt, for test determinism
	medium *Medium
	cfg    radio.Config
	ch     chan frame
	on     bool
	start  time.Time
}

// NewRadio creates a mock radio for node id attached to medium.
func NewRadio(medium *Medium, node int) *Radio {
	r := &Radio{Node: node, RSSI: -50, medium: medium, start: time.Now()}
	medium.register(r)
	r.ch = medium.listeners[r]
	return r
}

func (r *Radio) Configure(cfg radio.Config) error {
	r.cfg = cfg
	return nil
}

func (r *Radio) TurnOn() error  { r.on = true; return nil }
func (r *Radio) TurnOff() error { r.on = false; return nil }
func (r *Radio) Idle() error    { return nil }

func (r *Radio) SendAt(buf []byte, n int, absoluteTimestamp time.Duration) error {
	data := make([]byte, n)
	copy(data, buf[:n])
	r.medium.broadcast(r, frame{data: data, rssi: r.RSSI, sentAt: absoluteTimestamp, fromNode: r.Node})
	return nil
}

func (r *Radio) Recv(buf []byte, absoluteDeadline time.Duration) radio.RecvResult {
	if !r.on {
		return radio.RecvResult{Error: radio.RecvUninitialized}
	}
	timeout := time.Until(r.start.Add(absoluteDeadline))
	if timeout < 0 {
		timeout = 0
	}
	select {
	case f := <-r.ch:
		if len(f.data) > len(buf) {
			return radio.RecvResult{Error: radio.RecvTooLong}
		}
		n := copy(buf, f.data)
		return radio.RecvResult{Error: radio.RecvOK, Timestamp: f.sentAt, RSSI: f.rssi, Size: n}
	case <-time.After(timeout):
		return radio.RecvResult{Error: radio.RecvTimeout}
	}
}

// Close detaches the radio from its medium.
func (r *Radio) Close() {
	r.medium.unregister(r)
}
