package mac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshtdma/tdmh/core/config"
	"github.com/meshtdma/tdmh/core/radio/radiotest"
	"github.com/meshtdma/tdmh/proto"
)

func testConfig() *config.Config {
	return &config.Config{
		PanID:                           0xCD,
		MaxNodes:                        4,
		MaxHops:                         4,
		TileDuration:                    6 * time.Millisecond,
		SlotsPerTile:                    2,
		ControlSuperframeStructure:      []config.TileRole{config.RoleDownlink, config.RoleUplink, config.RoleData},
		ClockSyncPeriod:                 18 * time.Millisecond,
		MaxMissedTimesyncs:              3,
		MaxRoundsUnavailableBecomesDead: 3,
		MaxForwardedTopologies:          4,
		RebroadcastDelay:                time.Millisecond,
		SenderWakeupAdvance:             time.Millisecond,
		ReceiverWakeupAdvance:           time.Millisecond,
		MinReceiverWindow:               2 * time.Millisecond,
		MaxReceiverWindow:               20 * time.Millisecond,
	}
}

// TestDynamicNodeSynchronizesThroughRunLoop exercises Context.run end to
// end for a two-node network: the master's top-level loop originates
// timesync beacons on its RoleDownlink tiles, and the dynamic node's loop
// resyncs to them purely by dispatching through run/runDynamic, with no
// test code reaching into either context's internals.
func TestDynamicNodeSynchronizesThroughRunLoop(t *testing.T) {
	medium := radiotest.NewMedium()
	masterRadio := radiotest.NewRadio(medium, int(proto.MasterID))
	dynRadio := radiotest.NewRadio(medium, 1)
	require.NoError(t, masterRadio.TurnOn())
	require.NoError(t, dynRadio.TurnOn())
	defer masterRadio.Close()
	defer dynRadio.Close()

	cfg := testConfig()
	master := NewContext(cfg, masterRadio, proto.MasterID, nil)
	dyn := NewContext(cfg, dynRadio, proto.NodeID(1), nil)

	master.Start()
	defer master.Stop()
	dyn.Start()
	defer dyn.Stop()

	require.Eventually(t, func() bool {
		return dyn.State() == StateSynchronized
	}, 500*time.Millisecond, time.Millisecond)
}
