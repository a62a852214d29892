// Package wakeup implements C10, the stream wake-up scheduler: given a
// node's explicit schedule it computes when each stream's application
// thread must be woken ahead of its next transmit opportunity, and runs
// its own cooperative task that sleeps to each wake-up time in turn and
// signals the corresponding stream (spec §4.10).
//
// Ordered-queue data structure grounded on the teacher's
// server/internal/decoy/decoy.go surbETAs field, an
// gitlab.com/yawning/avl.git tree kept ordered by wake time.
package wakeup

import (
	"sync"
	"time"

	"gitlab.com/yawning/avl.git"

	"github.com/meshtdma/tdmh/core/clock"
	"github.com/meshtdma/tdmh/core/log"
	"github.com/meshtdma/tdmh/core/worker"
	"github.com/meshtdma/tdmh/proto"
	"github.com/meshtdma/tdmh/stream"
)

var logger = log.GetLogger("wakeup")

// Kind tags what a wake-up entry is for (spec §4.10).
type Kind int

const (
	KindStream Kind = iota
	KindDownlink
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "STREAM"
	case KindDownlink:
		return "DOWNLINK"
	default:
		return "EMPTY"
	}
}

// Info is one pending wake-up: a stream (or the downlink slack point)
// that must be woken at WakeupTime, recurring every Period (spec §4.10:
// "StreamWakeupInfo{kind, streamId, wakeupTime, period}").
type Info struct {
	Kind       Kind
	StreamID   proto.StreamID
	WakeupTime time.Duration
	Period     time.Duration
}

// compare orders two Infos ascending by WakeupTime, tie-broken by
// shorter period first, then STREAM before DOWNLINK (spec §4.10:
// "Order: ascending wakeupTime; tie-break (a) shorter period first, (b)
// STREAM before DOWNLINK."), with a final deterministic tie-break on
// StreamID so the tree never treats two distinct entries as equal.
func compare(a, b *Info) int {
	if a.WakeupTime != b.WakeupTime {
		if a.WakeupTime < b.WakeupTime {
			return -1
		}
		return 1
	}
	if a.Period != b.Period {
		if a.Period < b.Period {
			return -1
		}
		return 1
	}
	if a.Kind != b.Kind {
		if a.Kind == KindStream {
			return -1
		}
		if b.Kind == KindStream {
			return 1
		}
	}
	return a.StreamID.Compare(b.StreamID)
}

func newTree() *avl.Tree {
	return avl.New(func(x, y interface{}) int {
		return compare(x.(*Info), y.(*Info))
	})
}

// State is the wake-up scheduler's lifecycle (spec §4.12).
type State int

const (
	StateIdle State = iota
	StateAwaitingActivation
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingActivation:
		return "AWAITING_ACTIVATION"
	default:
		return "ACTIVE"
	}
}

// Queues is a prepared pair of ordered wake-up queues, ready to be
// swapped in atomically at a schedule's activation tile (spec §4.10:
// "currWakeupQueue: slots inside the next superframe. nextWakeupQueue:
// slots of the following superframe whose wake-advance reaches back
// into the current one.").
type Queues struct {
	Curr *avl.Tree
	Next *avl.Tree
}

// NewQueues returns an empty pair of queues.
func NewQueues() Queues {
	return Queues{Curr: newTree(), Next: newTree()}
}

// Scheduler runs the C10 wake-up task: one cooperative goroutine that
// repeatedly sleeps to the earliest pending wake-up and fires it (spec
// §4.10's ACTIVE-state loop).
type Scheduler struct {
	worker.Worker

	mu    sync.Mutex
	state State
	live  Queues

	pending    Queues
	hasPending bool

	streams map[proto.StreamID]*stream.Stream
	onWake  func(Kind)

	changed chan struct{}
}

// NewScheduler constructs an idle wake-up scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		state:   StateIdle,
		live:    NewQueues(),
		streams: make(map[proto.StreamID]*stream.Stream),
		changed: make(chan struct{}, 1),
	}
}

// OnWake registers a callback invoked (on the scheduler's own goroutine)
// whenever a non-stream entry fires, e.g. the DOWNLINK slack point. May
// be nil.
func (s *Scheduler) OnWake(fn func(Kind)) {
	s.mu.Lock()
	s.onWake = fn
	s.mu.Unlock()
}

// BindStream registers id's live Stream so the scheduler can call its
// Wake() when the corresponding entry fires.
func (s *Scheduler) BindStream(id proto.StreamID, st *stream.Stream) {
	s.mu.Lock()
	s.streams[id] = st
	s.mu.Unlock()
}

// UnbindStream drops a stream binding, e.g. after the stream closes.
func (s *Scheduler) UnbindStream(id proto.StreamID) {
	s.mu.Lock()
	delete(s.streams, id)
	s.mu.Unlock()
}

// State reports the scheduler's current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NotifyNewSchedule stashes a freshly built pair of queues (from
// BuildQueues) as pending and transitions to AWAITING_ACTIVATION, per
// spec §4.12: "re-enters AWAITING on each schedule change notified by
// the downlink phase." The queues only become live once Activate is
// called, at the schedule's activation tile.
func (s *Scheduler) NotifyNewSchedule(q Queues) {
	s.mu.Lock()
	s.pending = q
	s.hasPending = true
	s.state = StateAwaitingActivation
	s.mu.Unlock()
	s.poke()
}

// Activate swaps in the most recently notified queues and enters ACTIVE,
// atomically replacing whatever queues were live (spec §4.10: "a new
// schedule replaces queues atomically at its activation tile").
func (s *Scheduler) Activate() {
	s.mu.Lock()
	if s.hasPending {
		s.live = s.pending
		s.hasPending = false
	}
	s.state = StateActive
	s.mu.Unlock()
	s.poke()
}

func (s *Scheduler) poke() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Start launches the scheduler's goroutine (spec §4.10 ACTIVE loop).
func (s *Scheduler) Start() {
	s.Go(s.run)
}

func (s *Scheduler) run() {
	for {
		item, fromNext, ok := s.popEarliest()
		if !ok {
			select {
			case <-s.HaltCh():
				return
			case <-s.changed:
			}
			continue
		}

		wait := item.WakeupTime - clock.LocalNow()
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.HaltCh():
			timer.Stop()
			return
		case <-s.changed:
			timer.Stop()
			s.reinsert(item, fromNext)
			continue
		case <-timer.C:
		}

		s.fire(item)
		item.WakeupTime += item.Period
		s.reinsert(item, fromNext)
	}
}

func (s *Scheduler) popEarliest() (*Info, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return nil, false, false
	}
	cNode := treeFirstNode(s.live.Curr)
	nNode := treeFirstNode(s.live.Next)
	switch {
	case cNode == nil && nNode == nil:
		return nil, false, false
	case cNode == nil:
		item := nNode.Value.(*Info)
		s.live.Next.Remove(nNode)
		return item, true, true
	case nNode == nil:
		item := cNode.Value.(*Info)
		s.live.Curr.Remove(cNode)
		return item, false, true
	default:
		cItem, nItem := cNode.Value.(*Info), nNode.Value.(*Info)
		if compare(cItem, nItem) <= 0 {
			s.live.Curr.Remove(cNode)
			return cItem, false, true
		}
		s.live.Next.Remove(nNode)
		return nItem, true, true
	}
}

func (s *Scheduler) reinsert(item *Info, toNext bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if toNext {
		s.live.Next.Insert(item)
	} else {
		s.live.Curr.Insert(item)
	}
}

func (s *Scheduler) fire(item *Info) {
	s.mu.Lock()
	st := s.streams[item.StreamID]
	cb := s.onWake
	s.mu.Unlock()

	switch item.Kind {
	case KindStream:
		if st != nil {
			st.Wake()
		}
		logger.Debugf("wake stream=%s", item.StreamID.String())
	case KindDownlink:
		if cb != nil {
			cb(item.Kind)
		}
	}
}

func treeFirstNode(t *avl.Tree) *avl.Node {
	if t == nil || t.Len() == 0 {
		return nil
	}
	return t.Iterator(avl.Forward).First()
}
