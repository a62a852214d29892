package uplink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshtdma/tdmh/core/clock"
	"github.com/meshtdma/tdmh/core/radio/radiotest"
	"github.com/meshtdma/tdmh/proto"
)

func TestPhaseTransmitAssignsToMasterAndMasterAggregates(t *testing.T) {
	const maxNodes = 8
	medium := radiotest.NewMedium()
	masterRadio := radiotest.NewRadio(medium, 0)
	senderRadio := radiotest.NewRadio(medium, 1)
	require.NoError(t, masterRadio.TurnOn())
	require.NoError(t, senderRadio.TurnOn())
	defer masterRadio.Close()
	defer senderRadio.Close()

	graph := NewGraph()
	smeMap := NewSMEMap()
	masterPhase := NewPhase(Config{
		PanID: 0x11, Self: 0, NumNodes: 2, MaxNodes: maxNodes,
		MaxForwardedTopologies: 4, MaxRoundsUnavailableBecomesDead: 3, IsMaster: true,
	}, masterRadio, graph, smeMap)

	senderPhase := NewPhase(Config{
		PanID: 0x11, Self: 1, NumNodes: 2, MaxNodes: maxNodes,
		MaxForwardedTopologies: 4, MaxRoundsUnavailableBecomesDead: 3, IsMaster: false,
	}, senderRadio, nil, nil)
	// Sender's best predecessor is the master itself (hop 0).
	senderPhase.Neighbors.Observe(0, 0, -20)
	senderPhase.SMEQueue.Enqueue(
		proto.StreamID{Src: 1, Dst: 0, DstPort: 5},
		proto.SME{ID: proto.StreamID{Src: 1, Dst: 0, DstPort: 5}, Status: proto.StreamConnecting},
	)

	ownTable := proto.NewNeighborTable(maxNodes)
	require.NoError(t, ownTable.Set(0))
	require.NoError(t, ownTable.Set(2))

	future := clock.LocalNow() + time.Second
	require.NoError(t, senderPhase.Execute(ownTable, 1, future, future))
	require.NoError(t, masterPhase.Execute(nil, 0, future, future))

	require.True(t, graph.HasEdge(1, 0))
	require.True(t, graph.HasEdge(1, 2))
	sme, ok := smeMap.Get(proto.StreamID{Src: 1, Dst: 0, DstPort: 5})
	require.True(t, ok)
	require.Equal(t, proto.StreamConnecting, sme.Status)
}

func TestNomineeRoundRobin(t *testing.T) {
	p := NewPhase(Config{NumNodes: 4}, nil, nil, nil)
	require.Equal(t, proto.NodeID(3), p.nominee())
	p.phaseCount = 1
	require.Equal(t, proto.NodeID(2), p.nominee())
	p.phaseCount = 2
	require.Equal(t, proto.NodeID(1), p.nominee())
	p.phaseCount = 3
	require.Equal(t, proto.NodeID(3), p.nominee())
}
