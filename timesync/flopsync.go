// Package timesync implements C4, the timesync downlink: the master's
// periodic beacon, each dynamic node's DESYNCHRONIZED/IN_SYNC state
// machine, and the FLOPSYNC controller that turns a measured beacon
// error into a clock correction and a receive window. Grounded on
// original_source/network_module/timesync/{master,dynamic}_timesync_downlink.cpp.
package timesync

import "time"

// Controller is the black-box clock-synchronization controller named in
// the glossary ("FLOPSYNC"): it consumes a beacon error (or a lost-packet
// signal) and produces a (clockCorrection, receiverWindow) pair. This
// implements the FLOPSYNC-2 discrete control law: a proportional-integral
// correction on the error sequence, with the receiver window widening
// geometrically on consecutive misses and collapsing back to the minimum
// once a beacon is received.
type Controller struct {
	minWindow time.Duration
	maxWindow time.Duration

	integral     time.Duration
	lastError    time.Duration
	consecutiveMiss int
}

// NewController constructs a FLOPSYNC controller whose receiver window
// never shrinks below minWindow nor grows past maxWindow.
func NewController(minWindow, maxWindow time.Duration) *Controller {
	return &Controller{minWindow: minWindow, maxWindow: maxWindow}
}

// Reset clears all accumulated state, used when a node desynchronizes and
// later resyncs (spec §4.4: "reset the controller").
func (c *Controller) Reset() {
	c.integral = 0
	c.lastError = 0
	c.consecutiveMiss = 0
}

// ReceiverWindow returns the currently computed receive window without
// altering controller state.
func (c *Controller) ReceiverWindow() time.Duration {
	w := c.minWindow * time.Duration(1<<uint(c.consecutiveMiss))
	if w > c.maxWindow {
		w = c.maxWindow
	}
	if w < c.minWindow {
		w = c.minWindow
	}
	return w
}

// ComputeCorrection feeds a newly measured error (measured - computed
// frame start) into the controller and returns the new (clockCorrection,
// receiverWindow) pair (spec §4.4).
func (c *Controller) ComputeCorrection(measuredError time.Duration) (clockCorrection, receiverWindow time.Duration) {
	c.consecutiveMiss = 0
	// Proportional-integral law: half the instantaneous error plus a
	// slowly accumulating integral term, matching FLOPSYNC-2's damped
	// response to jitter without chasing every single sample.
	c.integral += measuredError / 8
	proportional := measuredError / 2
	clockCorrection = proportional + c.integral
	c.lastError = measuredError
	receiverWindow = c.ReceiverWindow()
	return
}

// LostPacket signals a missed beacon, widening the receiver window and
// returning the controller's best estimate of the correction to keep
// applying until the next successful reception (spec §4.4:
// "tell controller lostPacket()").
func (c *Controller) LostPacket() (clockCorrection, receiverWindow time.Duration) {
	c.consecutiveMiss++
	return c.lastError / 2, c.ReceiverWindow()
}
