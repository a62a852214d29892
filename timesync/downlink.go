package timesync

import (
	"time"

	"github.com/meshtdma/tdmh/core/clock"
	"github.com/meshtdma/tdmh/core/log"
	"github.com/meshtdma/tdmh/core/radio"
	"github.com/meshtdma/tdmh/proto"
)

var logger = log.GetLogger("timesync")

// Status is a dynamic node's timesync downlink state (spec §4.4).
type Status int

const (
	Desynchronized Status = iota
	InSync
)

func (s Status) String() string {
	if s == InSync {
		return "IN_SYNC"
	}
	return "DESYNCHRONIZED"
}

// Config carries the subset of the node's static configuration this
// package needs (spec §6 config surface).
type Config struct {
	PanID                 uint16
	MaxHops               uint8
	ClockSyncPeriod       time.Duration
	MaxMissedTimesyncs    int
	RebroadcastDelay      time.Duration
	SenderWakeupAdvance   time.Duration
	ReceiverWakeupAdvance time.Duration
	MinReceiverWindow     time.Duration
	MaxReceiverWindow     time.Duration
}

// Master runs the timesync downlink on the master node: it owns network
// time (its offset is always zero) and periodically broadcasts a sync
// beacon carrying a monotonically increasing counter (spec §4.4).
type Master struct {
	cfg           Config
	r             radio.Radio
	counter       uint32
	slotframeTime time.Duration
}

// NewMaster constructs a master timesync downlink bound to r.
func NewMaster(cfg Config, r radio.Radio, firstSlotframeTime time.Duration) *Master {
	return &Master{cfg: cfg, r: r, slotframeTime: firstSlotframeTime}
}

// Execute runs one sync tile: advance the schedule clock, sleep until the
// sender wakeup point, then transmit exactly at slotframeTime (spec §4.4:
// "waits until slotframeTime - senderWakeupAdvance, then sendAt(syncPkt,
// slotframeTime)").
func (m *Master) Execute(sleepUntil func(time.Duration)) error {
	m.next()
	wake := m.slotframeTime - m.cfg.SenderWakeupAdvance
	if now := clock.LocalNow(); now < wake {
		sleepUntil(wake)
	}
	pkt := proto.TimesyncPacket{
		Header:  proto.FrameHeader{HopOrSeq: 0, PanID: m.cfg.PanID},
		Counter: m.counter,
	}
	wire := pkt.Marshal()
	if err := m.r.SendAt(wire[:], len(wire), m.slotframeTime); err != nil {
		return err
	}
	// incrementTimesyncPacketCounter (Open Question iii): a real
	// post-increment, unlike the source's no-op `*ptr++`.
	m.counter++
	return nil
}

func (m *Master) next() {
	m.slotframeTime += m.cfg.ClockSyncPeriod
}

// SlotframeTime returns the master's own clock-sync tile boundary, for
// use by the master's Uplink/DataPhase to align their cursors.
func (m *Master) SlotframeTime() time.Duration { return m.slotframeTime }

// Dynamic runs the timesync downlink on a non-master node: a
// DESYNCHRONIZED/IN_SYNC state machine built on a Controller (spec §4.4).
type Dynamic struct {
	cfg    Config
	r      radio.Radio
	clk    *clock.Clock
	ctrl   *Controller
	status Status

	hop uint8

	theoreticalFrameStart time.Duration
	computedFrameStart    time.Duration
	measuredFrameStart    time.Duration
	clockCorrection       time.Duration
	receiverWindow        time.Duration
	missedPackets         int
	lastCounter           uint32

	// AlignToNetworkTime is called after every successful resync (the
	// first sync and each one after a desync) with the network time just
	// established, so the owner can seed its round-robin cursors (spec
	// §4.4).
	AlignToNetworkTime func(now time.Duration)
}

// NewDynamic constructs a dynamic node's timesync downlink, starting
// desynchronized.
func NewDynamic(cfg Config, r radio.Radio, clk *clock.Clock) *Dynamic {
	return &Dynamic{
		cfg:    cfg,
		r:      r,
		clk:    clk,
		ctrl:   NewController(cfg.MinReceiverWindow, cfg.MaxReceiverWindow),
		status: Desynchronized,
	}
}

// Status reports the current synchronization state.
func (d *Dynamic) Status() Status { return d.status }

// Hop returns the node's current hop count as derived from the last
// accepted beacon.
func (d *Dynamic) Hop() uint8 { return d.hop }

// correct applies the FLOPSYNC clockCorrection the same way every other
// phase applies correct(uncorrected) (spec §4.4).
func (d *Dynamic) correct(uncorrected time.Duration) time.Duration {
	return uncorrected + d.clockCorrection
}

// Execute runs one sync tile, dispatching to resync() while
// desynchronized or periodicSync() while in sync (spec §4.4).
func (d *Dynamic) Execute(recvBuf []byte) error {
	if d.status == Desynchronized {
		return d.resync(recvBuf)
	}
	return d.periodicSync(recvBuf)
}

const infiniteTimeout = time.Duration(1<<63 - 1)

func (d *Dynamic) resync(recvBuf []byte) error {
	result := d.r.Recv(recvBuf, clock.LocalNow()+infiniteTimeout)
	if result.Error != radio.RecvOK {
		return nil
	}
	pkt, err := proto.UnmarshalTimesyncPacket(recvBuf[:result.Size])
	if err != nil {
		return nil
	}
	start := result.Timestamp - time.Duration(pkt.Header.HopOrSeq)*d.cfg.RebroadcastDelay
	newHop := pkt.Header.HopOrSeq + 1
	d.reset(result.Timestamp)
	d.hop = newHop

	correctedArrival := d.correct(result.Timestamp)
	d.rebroadcast(pkt, newHop, correctedArrival)

	d.lastCounter = pkt.Counter
	d.clk.SetFromSyncCounter(pkt.Counter, d.cfg.ClockSyncPeriod, d.correct(start))

	now := d.clk.Now()
	if d.AlignToNetworkTime != nil {
		d.AlignToNetworkTime(now)
	}
	logger.Infof("resync hop=%d counter=%d rssi=%d", newHop, pkt.Counter, result.RSSI)
	return nil
}

func (d *Dynamic) periodicSync(recvBuf []byte) error {
	d.next()
	correctedStart := d.correct(d.computedFrameStart)
	result := d.r.Recv(recvBuf, correctedStart+d.receiverWindow)
	if result.Error != radio.RecvOK {
		n := d.missedPacket()
		if n >= d.cfg.MaxMissedTimesyncs {
			logger.Warningf("lost sync after %d missed beacons", n)
		}
		return nil
	}
	pkt, err := proto.UnmarshalTimesyncPacket(recvBuf[:result.Size])
	if err != nil || pkt.Header.PanID != d.cfg.PanID {
		d.missedPacket()
		return nil
	}

	d.measuredFrameStart = d.correct(result.Timestamp)
	d.rebroadcast(pkt, pkt.Header.HopOrSeq+1, d.measuredFrameStart)

	d.lastCounter = pkt.Counter
	measuredError := result.Timestamp - d.computedFrameStart
	d.clockCorrection, d.receiverWindow = d.ctrl.ComputeCorrection(measuredError)
	d.missedPackets = 0
	logger.Debugf("sync hop=%d err=%v corr=%v win=%v", pkt.Header.HopOrSeq, measuredError, d.clockCorrection, d.receiverWindow)
	return nil
}

func (d *Dynamic) rebroadcast(pkt proto.TimesyncPacket, newHop uint8, arrivalTs time.Duration) {
	if newHop >= d.cfg.MaxHops {
		return
	}
	pkt.Header.HopOrSeq = newHop
	wire := pkt.Marshal()
	_ = d.r.SendAt(wire[:], len(wire), arrivalTs+d.cfg.RebroadcastDelay)
}

func (d *Dynamic) reset(hookTime time.Duration) {
	d.ctrl.Reset()
	d.measuredFrameStart = hookTime
	d.computedFrameStart = hookTime
	d.theoreticalFrameStart = hookTime
	d.receiverWindow = d.ctrl.ReceiverWindow()
	d.clockCorrection = 0
	d.missedPackets = 0
	d.status = InSync
}

func (d *Dynamic) next() {
	d.theoreticalFrameStart += d.cfg.ClockSyncPeriod
	d.computedFrameStart += d.cfg.ClockSyncPeriod + d.clockCorrection
}

// missedPacket implements the missed-beacon bookkeeping (spec §4.4): on
// reaching maxMissedTimesyncs, transition to DESYNCHRONIZED and reset the
// controller; otherwise keep the cursor from drifting and ask the
// controller for a degraded correction/window.
func (d *Dynamic) missedPacket() int {
	d.missedPackets++
	if d.missedPackets >= d.cfg.MaxMissedTimesyncs {
		d.status = Desynchronized
		d.ctrl.Reset()
		return d.missedPackets
	}
	d.measuredFrameStart = d.computedFrameStart
	d.clockCorrection, d.receiverWindow = d.ctrl.LostPacket()
	return d.missedPackets
}
