// Package clock implements C3, network time: a monotonic local clock plus
// a per-node offset to master time. Grounded on the teacher's
// core/epochtime usage (client2/connection.go: epochtime.FromUnix,
// epochtime.Period; server/internal/decoy/decoy.go: epochtime.Now()) and
// original_source/network_module/timesync/networktime.h.
package clock

import (
	"sync/atomic"
	"time"
)

// LocalNow returns the node's raw monotonic local time, measured as
// elapsed time since the node's boot (process start) rather than wall-clock
// epoch time -- the same convention radio.Radio uses for the timestamps it
// hands to SendAt/Recv, so durations from the two compose directly. Only
// NetworkTime may be compared across nodes; raw local time may never be
// (spec §4.3).
func LocalNow() time.Duration {
	return time.Duration(nowNanos())
}

var processStart = time.Now()

// overridable for deterministic tests.
var nowNanos = func() int64 { return int64(time.Since(processStart)) }

// sleep is the primitive time.Sleep wraps; overridable in tests so
// SleepUntil never actually blocks for real wall-clock time.
var sleep = time.Sleep

// SleepUntil blocks the calling cooperative task until local time reaches
// deadline (spec §5: "it may only yield via the sleepUntil(absoluteLocalTime)
// and recv(timeout) primitives"). A deadline already in the past returns
// immediately -- this is the MAC task's only form of waiting and has no
// cancellation, consistent with "no cancellation tokens" (spec §5).
func SleepUntil(deadline time.Duration) {
	if d := deadline - LocalNow(); d > 0 {
		sleep(d)
	}
}

// Clock holds the single 64-bit local-to-network offset for one node, set
// exactly once per (re)sync (spec §4.3).
type Clock struct {
	// offsetNanos is localToNetworkOffset, stored as atomic nanoseconds so
	// that Now() never takes a lock.
	offsetNanos int64
}

// New constructs a Clock with a zero offset (equivalent to local time until
// the first sync beacon is processed).
func New() *Clock {
	return &Clock{}
}

// Now returns NetworkTime::now() = localNow() + offset.
func (c *Clock) Now() time.Duration {
	return LocalNow() + time.Duration(atomic.LoadInt64(&c.offsetNanos))
}

// SetOffset sets localToNetworkOffset directly. Used in tests and by
// SetFromSyncCounter's derivation.
func (c *Clock) SetOffset(offset time.Duration) {
	atomic.StoreInt64(&c.offsetNanos, int64(offset))
}

// Offset returns the currently applied offset.
func (c *Clock) Offset() time.Duration {
	return time.Duration(atomic.LoadInt64(&c.offsetNanos))
}

// SetFromSyncCounter implements Open Question (ii): offset = counter *
// clockSyncPeriod - uncorrectedLocalArrival, where uncorrectedLocalArrival
// is the raw local timestamp at which the sync beacon was captured (already
// uncorrected, so a single scalar suffices -- see DESIGN.md).
func (c *Clock) SetFromSyncCounter(counter uint32, clockSyncPeriod time.Duration, uncorrectedLocalArrival time.Duration) {
	network := time.Duration(uint64(counter)) * clockSyncPeriod
	c.SetOffset(network - uncorrectedLocalArrival)
}

// Correct applies a small FLOPSYNC-derived correction to an uncorrected
// local deadline, so that every phase that schedules local deadlines goes
// through the same correction path (spec §4.4: "All other phases
// multiply-apply correct(uncorrected)").
func Correct(uncorrected time.Duration, correctionPPM int32) time.Duration {
	if correctionPPM == 0 {
		return uncorrected
	}
	delta := (int64(uncorrected) * int64(correctionPPM)) / 1_000_000
	return uncorrected + time.Duration(delta)
}
