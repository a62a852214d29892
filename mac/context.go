// Package mac implements C11, the MAC context and top-level loop: it owns
// every other component (timesync, uplink, schedule, data phase, wake-up
// scheduler, stream manager) and drives them tile by tile according to the
// node's control-superframe structure (spec §4.11, §4.12).
//
// Grounded on the teacher's top-level session/connection management
// pattern (client2/connection.go embeds worker.Worker and owns every
// sub-protocol handler), generalized here to own the TDMA phase objects
// instead of mixnet session state.
package mac

import (
	"sync"
	"time"

	"github.com/meshtdma/tdmh/core/clock"
	"github.com/meshtdma/tdmh/core/config"
	"github.com/meshtdma/tdmh/core/log"
	"github.com/meshtdma/tdmh/core/metrics"
	"github.com/meshtdma/tdmh/core/packet"
	"github.com/meshtdma/tdmh/core/radio"
	"github.com/meshtdma/tdmh/core/worker"
	"github.com/meshtdma/tdmh/dataphase"
	"github.com/meshtdma/tdmh/proto"
	"github.com/meshtdma/tdmh/schedule"
	"github.com/meshtdma/tdmh/stream"
	"github.com/meshtdma/tdmh/timesync"
	"github.com/meshtdma/tdmh/uplink"
	"github.com/meshtdma/tdmh/wakeup"
)

var logger = log.GetLogger("mac")

// State is the per-node top-level synchronization lifecycle (spec §4.12).
type State int

const (
	StateUnsynchronized State = iota
	StateSynchronized
)

func (s State) String() string {
	if s == StateSynchronized {
		return "SYNCHRONIZED"
	}
	return "UNSYNCHRONIZED"
}

// Context owns every phase object for one node and drives the top-level
// per-tile dispatch loop (spec §4.11). Exactly one of tsMaster/tsDynamic is
// non-nil, selected by whether self is proto.MasterID.
type Context struct {
	worker.Worker

	cfg      *config.Config
	r        radio.Radio
	self     proto.NodeID
	isMaster bool

	clk *clock.Clock

	tsMaster  *timesync.Master
	tsDynamic *timesync.Dynamic

	up     *uplink.Phase
	graph  *uplink.Graph
	smeMap *uplink.SMEMap

	schedWorker *schedule.Worker
	computation *schedule.Computation
	reassembler *schedule.Reassembler

	dp *dataphase.Phase
	wk *wakeup.Scheduler

	Streams *stream.Manager

	mu    sync.Mutex
	state State
	hop   uint8

	// master-only distribution bookkeeping (spec §4.7)
	distQueue      [][]byte
	distCursor     int
	prevPlan       *schedule.Plan
	prevActivation uint32

	// shared activation bookkeeping
	pendingPlan       *schedule.Plan
	pendingActivation uint32
	hasPending        bool
	appliedPlan       *schedule.Plan

	tileIndex uint32
	tileStart time.Duration
}

// NewContext constructs a MAC context for self on radio r. If self equals
// proto.MasterID, the context runs the master's timesync/schedule-
// computation/distribution responsibilities; otherwise it runs the
// dynamic-node timesync/uplink-listener/reassembly responsibilities (spec
// §4.11, §4.12).
func NewContext(cfg *config.Config, r radio.Radio, self proto.NodeID, aead dataphase.AEAD) *Context {
	isMaster := self == proto.MasterID

	c := &Context{
		cfg:      cfg,
		r:        r,
		self:     self,
		isMaster: isMaster,
		clk:      clock.New(),
		Streams:  stream.NewManager(self),
	}

	slotDuration := time.Duration(0)
	if cfg.SlotsPerTile > 0 {
		slotDuration = cfg.TileDuration / time.Duration(cfg.SlotsPerTile)
	}
	c.dp = dataphase.NewPhase(cfg, r, self, aead, slotDuration)
	c.wk = wakeup.NewScheduler()
	c.wk.OnWake(c.onDownlinkWake)

	uplinkCfg := uplink.Config{
		PanID:                           cfg.PanID,
		Self:                            self,
		NumNodes:                        int(cfg.MaxNodes),
		MaxNodes:                        int(cfg.MaxNodes),
		MaxForwardedTopologies:          cfg.MaxForwardedTopologies,
		MaxRoundsUnavailableBecomesDead: cfg.MaxRoundsUnavailableBecomesDead,
		IsMaster:                        isMaster,
	}

	if isMaster {
		c.graph = uplink.NewGraph()
		c.smeMap = uplink.NewSMEMap()
		c.up = uplink.NewPhase(uplinkCfg, r, c.graph, c.smeMap)
		c.tsMaster = timesync.NewMaster(c.timesyncConfig(), r, cfg.TileDuration)
		c.computation = schedule.NewComputation(cfg, c.graph, c.smeMap)
		c.schedWorker = schedule.NewWorker(c.computation, c.graph, c.smeMap)
		c.schedWorker.OnPlan = c.onMasterPlan
		c.Streams.EnqueueSME = c.smeMap.Put
	} else {
		c.up = uplink.NewPhase(uplinkCfg, r, nil, nil)
		c.tsDynamic = timesync.NewDynamic(c.timesyncConfig(), r, c.clk)
		c.tsDynamic.AlignToNetworkTime = c.onSynchronized
		c.reassembler = schedule.NewReassembler()
		c.Streams.EnqueueSME = func(sme proto.SME) { c.up.SMEQueue.Enqueue(sme.ID, sme) }
	}

	return c
}

func (c *Context) timesyncConfig() timesync.Config {
	return timesync.Config{
		PanID:                 c.cfg.PanID,
		MaxHops:               c.cfg.MaxHops,
		ClockSyncPeriod:       c.cfg.ClockSyncPeriod,
		MaxMissedTimesyncs:    c.cfg.MaxMissedTimesyncs,
		RebroadcastDelay:      c.cfg.RebroadcastDelay,
		SenderWakeupAdvance:   c.cfg.SenderWakeupAdvance,
		ReceiverWakeupAdvance: c.cfg.ReceiverWakeupAdvance,
		MinReceiverWindow:     c.cfg.MinReceiverWindow,
		MaxReceiverWindow:     c.cfg.MaxReceiverWindow,
	}
}

// State reports the node's current synchronization lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// onSynchronized is wired to timesync.Dynamic.AlignToNetworkTime: it fires
// each time a dynamic node (re)locks onto the master's beacon, resetting
// the tile cursor and seeding the uplink phase's round-robin cursor (spec
// §4.4, §4.11). The data phase's slot cursor is not realigned here.
func (c *Context) onSynchronized(now time.Duration) {
	c.mu.Lock()
	c.state = StateSynchronized
	c.hop = c.tsDynamic.Hop()
	c.tileIndex = 0
	c.tileStart = now
	c.mu.Unlock()

	c.up.AlignToNetworkTime(now)
	metrics.Resyncs.Inc()
	logger.Noticef("synchronized hop=%d", c.hop)
}

// onDownlinkWake is wired to wakeup.Scheduler.OnWake: it fires
// downlinkAdvance before the next superframe's downlink tile, giving
// blocked application threads a last chance to queue writes before the
// schedule that admits them changes (spec §4.10).
func (c *Context) onDownlinkWake(wakeup.Kind) {
	logger.Debugf("wakeup: downlink slack point reached")
}

// Start launches the MAC context's top-level loop and every sub-worker it
// owns (spec §4.11).
func (c *Context) Start() {
	c.wk.Start()
	if c.isMaster {
		c.schedWorker.Start()
	}
	c.Go(c.run)
}

// Stop halts the top-level loop and every sub-worker, blocking until all
// have exited.
func (c *Context) Stop() {
	c.Halt()
	c.wk.Halt()
	if c.isMaster {
		c.schedWorker.Halt()
	}
	c.Wait()
}

// run is the top-level per-tile dispatch loop (spec §4.11): it computes
// each tile's slot boundaries from the node's tile cursor and dispatches
// to Timesync | Uplink | ScheduleDownlink | Data according to the
// control-superframe structure (spec §9's collapsed Phase variant).
func (c *Context) run() {
	if c.isMaster {
		c.runMaster()
		return
	}
	c.runDynamic()
}

func (c *Context) slotDuration() time.Duration {
	if c.cfg.SlotsPerTile == 0 {
		return 0
	}
	return c.cfg.TileDuration / time.Duration(c.cfg.SlotsPerTile)
}

// runMaster drives the master's tile loop: it is always synchronized (it
// defines network time zero) and additionally owns timesync origination
// and schedule distribution (spec §4.4, §4.7).
func (c *Context) runMaster() {
	slotDuration := c.slotDuration()

	for {
		select {
		case <-c.HaltCh():
			return
		default:
		}

		c.mu.Lock()
		tileIndex, tileStart := c.tileIndex, c.tileStart
		c.mu.Unlock()

		clock.SleepUntil(tileStart)

		switch c.cfg.TileRoleAt(int(tileIndex)) {
		case config.RoleDownlink:
			if err := c.tsMaster.Execute(clock.SleepUntil); err != nil {
				logger.Warningf("timesync: master execute: %v", err)
			}
		case config.RoleUplink:
			c.runUplinkTile(tileStart, proto.MasterID, 0)
			c.schedWorker.Notify()
		case config.RoleSchedule:
			c.sendScheduleChunk(tileStart)
		case config.RoleData:
			c.runDataTile(tileStart, slotDuration, true)
		}

		c.maybeActivate(tileIndex, tileStart)

		c.mu.Lock()
		c.tileIndex++
		c.tileStart += c.cfg.TileDuration
		c.mu.Unlock()
	}
}

// runDynamic drives a non-master node's tile loop: while desynchronized
// it only listens for the master's beacon with an infinite timeout (spec
// §4.4 resync); once in sync it follows the same tile cadence as the
// master, deriving tile boundaries from the timesync-corrected clock
// (spec §4.12).
func (c *Context) runDynamic() {
	recvBuf := make([]byte, packet.Capacity)
	slotDuration := c.slotDuration()

	for {
		select {
		case <-c.HaltCh():
			return
		default:
		}

		if c.State() != StateSynchronized {
			if err := c.tsDynamic.Execute(recvBuf); err != nil {
				logger.Warningf("timesync: resync: %v", err)
			}
			continue
		}

		c.mu.Lock()
		tileIndex, tileStart, hop := c.tileIndex, c.tileStart, c.hop
		c.mu.Unlock()

		clock.SleepUntil(tileStart)

		switch c.cfg.TileRoleAt(int(tileIndex)) {
		case config.RoleDownlink:
			if err := c.tsDynamic.Execute(recvBuf); err != nil {
				logger.Warningf("timesync: periodic: %v", err)
			}
			if c.tsDynamic.Status() == timesync.Desynchronized {
				c.mu.Lock()
				c.state = StateUnsynchronized
				c.mu.Unlock()
				metrics.MissedTimesyncs.Inc()
				logger.Warningf("desynchronized, waiting to resync")
				continue
			}
		case config.RoleUplink:
			c.runUplinkTile(tileStart, c.self, hop)
		case config.RoleSchedule:
			c.recvScheduleChunk(tileStart)
		case config.RoleData:
			c.runDataTile(tileStart, slotDuration, true)
		}

		c.maybeActivate(tileIndex, tileStart)

		c.mu.Lock()
		c.tileIndex++
		c.tileStart += c.cfg.TileDuration
		c.mu.Unlock()
	}
}

// runUplinkTile executes one uplink round-robin tile and ages the
// neighbor set (spec §4.5: "after maxRoundsUnavailableBecomesDead it is
// purged from the predecessor/neighbor sets").
func (c *Context) runUplinkTile(tileStart time.Duration, self proto.NodeID, hop uint8) {
	own := c.up.Neighbors.OwnTable(int(c.cfg.MaxNodes), c.cfg.MaxRoundsUnavailableBecomesDead)
	deadline := tileStart + c.cfg.TileDuration
	if err := c.up.Execute(own, hop, tileStart, deadline); err != nil {
		logger.Warningf("uplink: execute: %v", err)
	}
	c.up.Neighbors.Purge(c.cfg.MaxRoundsUnavailableBecomesDead)
}

// runDataTile plays back every slot of one data tile via the data phase
// (C9), or just advances its cursor while desynchronized (spec §4.9).
func (c *Context) runDataTile(tileStart, slotDuration time.Duration, synced bool) {
	n := int(c.cfg.SlotsPerTile)
	for s := 0; s < n; s++ {
		slotStart := tileStart + time.Duration(s)*slotDuration
		clock.SleepUntil(slotStart)
		if synced {
			c.dp.Execute(slotStart)
		} else {
			c.dp.Advance()
		}
	}
}

// sendScheduleChunk transmits the master's next queued distribution
// packet, if any remain (spec §4.7).
func (c *Context) sendScheduleChunk(tileStart time.Duration) {
	c.mu.Lock()
	if c.distCursor >= len(c.distQueue) {
		c.mu.Unlock()
		return
	}
	chunk := c.distQueue[c.distCursor]
	c.distCursor++
	c.mu.Unlock()

	if err := c.r.SendAt(chunk, len(chunk), tileStart); err != nil {
		logger.Warningf("schedule: send chunk: %v", err)
	}
}

// recvScheduleChunk listens for one schedule-distribution packet and
// feeds it to the Reassembler, stashing the result as pending once a
// full schedule has been reassembled (spec §4.7, §8 P8).
func (c *Context) recvScheduleChunk(tileStart time.Duration) {
	buf := make([]byte, packet.Capacity)
	deadline := tileStart + c.cfg.TileDuration
	result := c.r.Recv(buf, deadline)
	if result.Error != radio.RecvOK || result.Size <= proto.FrameHeaderSize {
		return
	}
	frame, err := proto.UnmarshalFrameHeader(buf)
	if err != nil || frame.PanID != c.cfg.PanID {
		return
	}
	plan, done := c.reassembler.Feed(buf[proto.FrameHeaderSize:result.Size])
	if !done {
		return
	}

	c.mu.Lock()
	c.pendingPlan = plan
	c.pendingActivation = c.reassembler.Activation()
	c.hasPending = true
	c.mu.Unlock()
	logger.Noticef("schedule: reassembled plan id=%d activation=%d", plan.ScheduleID, c.reassembler.Activation())
}

// onMasterPlan is wired to schedule.Worker.OnPlan: every freshly computed
// Plan is chunked into distribution packets and queued for the master's
// own schedule tiles, and staged as the node's own pending activation
// (spec §4.6, §4.7).
func (c *Context) onMasterPlan(plan *schedule.Plan) {
	metrics.ScheduleRecomputations.Inc()

	c.mu.Lock()
	prevPlan, prevActivation, currentTile := c.prevPlan, c.prevActivation, c.tileIndex
	c.mu.Unlock()

	superframeLen := uint32(len(c.cfg.ControlSuperframeStructure))
	distTiles := schedule.DistributionTiles(plan)
	activation := schedule.ActivationTile(superframeLen, prevPlan, prevActivation, currentTile, distTiles)
	packets := schedule.BuildDistributionPackets(c.cfg.PanID, plan, activation)

	c.mu.Lock()
	c.distQueue = packets
	c.distCursor = 0
	c.prevPlan = plan
	c.prevActivation = activation
	c.pendingPlan = plan
	c.pendingActivation = activation
	c.hasPending = true
	c.mu.Unlock()

	logger.Noticef("schedule: computed plan id=%d tiles=%d streams=%d activation=%d",
		plan.ScheduleID, plan.ScheduleTiles, len(plan.Streams), activation)
}

// maybeActivate applies the pending plan exactly at its activation tile
// (spec §4.7, §4.12: "a new schedule replaces queues atomically at its
// activation tile").
func (c *Context) maybeActivate(tileIndex uint32, tileStart time.Duration) {
	c.mu.Lock()
	if !c.hasPending || tileIndex != c.pendingActivation {
		c.mu.Unlock()
		return
	}
	plan := c.pendingPlan
	c.hasPending = false
	c.appliedPlan = plan
	c.mu.Unlock()

	c.applyPlan(plan, tileStart)
}

// applyPlan expands plan into this node's explicit schedule, rebinds
// every local stream endpoint and forwarder, reconciles stream/server
// status, and swaps in the wake-up scheduler's queues (spec §4.7 step
// "dynamics reassemble, validate, and apply at a future tile", §4.9,
// §4.10).
func (c *Context) applyPlan(plan *schedule.Plan, superframeStart time.Duration) {
	slotsPerTile := int(c.cfg.SlotsPerTile)
	explicit := schedule.Expand(plan, c.self, slotsPerTile)

	c.Streams.ApplySchedule(plan.Streams)

	c.dp.ClearBindings()
	ports := make(map[proto.Port]wakeup.PortBinding)

	for _, e := range plan.Elements {
		id := e.StreamID()
		switch {
		case c.self == e.Tx && c.self == e.Src:
			st, ok := c.Streams.Lookup(id)
			if !ok {
				continue
			}
			c.dp.BindEndpoint(e.SrcPort, id, st)
			c.wk.BindStream(id, st)
			ports[e.SrcPort] = wakeup.PortBinding{StreamID: id, WakeupAdvance: st.WakeupAdvance()}
		case c.self == e.Rx && c.self == e.Dst:
			if st, ok := c.Streams.Lookup(id); ok {
				c.dp.BindEndpoint(e.SrcPort, id, st)
			}
		case c.self == e.Tx || c.self == e.Rx:
			k := 1
			if sme, ok := plan.Streams[id]; ok {
				if n := sme.Parameters.Redundancy.Count(); n > 0 {
					k = n
				}
			}
			c.dp.BindForward(e.SrcPort, id, k)
		}
	}

	c.dp.SetSchedule(explicit)

	queues := wakeup.BuildQueues(explicit, ports, superframeStart, c.slotDuration(), c.cfg.DownlinkToDataSlack)
	c.wk.NotifyNewSchedule(queues)
	c.wk.Activate()

	metrics.CurrentScheduleID.Set(float64(plan.ScheduleID))
	logger.Noticef("schedule: applied plan id=%d tiles=%d", plan.ScheduleID, plan.ScheduleTiles)
}
