package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamIDRoundTrip(t *testing.T) {
	id := StreamID{Src: 3, Dst: 9, SrcPort: 1, DstPort: 15}
	b, err := id.Marshal()
	require.NoError(t, err)
	got, err := UnmarshalStreamID(b[:])
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestStreamIDPortOutOfRange(t *testing.T) {
	id := StreamID{SrcPort: 16}
	_, err := id.Marshal()
	require.Error(t, err)
}

func TestServerID(t *testing.T) {
	id := ServerID(5, 2)
	require.True(t, id.IsServerID())
	require.Equal(t, NodeID(5), id.Src)
	require.Equal(t, NodeID(5), id.Dst)
}

func TestStreamParametersRoundTrip(t *testing.T) {
	p := StreamParameters{Redundancy: RedundancyTripleSpatial, Period: P50, PayloadSize: 100, Direction: DirTXRX}
	b, err := p.Marshal()
	require.NoError(t, err)
	got, err := UnmarshalStreamParameters(b[:])
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestStreamParametersPayloadOutOfRange(t *testing.T) {
	p := StreamParameters{PayloadSize: 200}
	_, err := p.Marshal()
	require.Error(t, err)
}

func TestSMERoundTrip(t *testing.T) {
	sme := SME{
		ID:         StreamID{Src: 1, Dst: 0, SrcPort: 3, DstPort: 4},
		Status:     StreamEstablished,
		Parameters: StreamParameters{Redundancy: RedundancyDouble, Period: P10, PayloadSize: 64, Direction: DirTX},
	}
	b, err := sme.Marshal()
	require.NoError(t, err)
	require.Equal(t, SMESize, len(b))
	got, err := UnmarshalSME(b[:])
	require.NoError(t, err)
	require.Equal(t, sme, got)
}

// TestNeighborTableIdentity is property P5: serialize/deserialize is the
// identity over {0,...,maxNodes-1}.
func TestNeighborTableIdentity(t *testing.T) {
	const maxNodes = 37
	table := NewNeighborTable(maxNodes)
	set := map[NodeID]bool{2: true, 5: true, 36: true, 0: true}
	for id := range set {
		require.NoError(t, table.Set(id))
	}
	for i := 0; i < maxNodes; i++ {
		has, err := table.Has(NodeID(i))
		require.NoError(t, err)
		require.Equal(t, set[NodeID(i)], has)
	}
	require.ElementsMatch(t, []NodeID{0, 2, 5, 36}, table.Neighbors(maxNodes))
}

func TestForwardedNeighborMessageRoundTrip(t *testing.T) {
	const maxNodes = 20
	table := NewNeighborTable(maxNodes)
	require.NoError(t, table.Set(3))
	require.NoError(t, table.Set(19))
	msg := ForwardedNeighborMessage{NodeID: 7, Neighbors: table}
	b := msg.Marshal()
	got, err := UnmarshalForwardedNeighborMessage(b, maxNodes)
	require.NoError(t, err)
	require.Equal(t, msg.NodeID, got.NodeID)
	require.Equal(t, []byte(msg.Neighbors), []byte(got.Neighbors))
}

func TestUplinkHeaderRoundTrip(t *testing.T) {
	h := UplinkHeader{Hop: 2, Assignee: 9, NumTopology: 3, NumSME: 4}
	b := h.Marshal()
	got, err := UnmarshalUplinkHeader(b[:])
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestScheduleHeaderRoundTrip(t *testing.T) {
	h := ScheduleHeader{
		TotalPacket:    12,
		CurrentPacket:  3,
		ScheduleID:     0xDEADBEEF,
		ActivationTile: 0x01020304,
		ScheduleTiles:  500,
		Repetition:     3,
	}
	b, err := h.Marshal()
	require.NoError(t, err)
	got, err := UnmarshalScheduleHeader(b[:])
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestScheduleHeaderRepetitionOutOfRange(t *testing.T) {
	h := ScheduleHeader{Repetition: 4}
	_, err := h.Marshal()
	require.Error(t, err)
}

func TestScheduleElementRoundTrip(t *testing.T) {
	e := ScheduleElement{
		Src: 2, Dst: 0, SrcPort: 1, DstPort: 15,
		Tx: 2, Rx: 1, Period: P20, Offset: maxOffset,
	}
	b, err := e.Marshal()
	require.NoError(t, err)
	require.Equal(t, ScheduleElementSize, len(b))
	got, err := UnmarshalScheduleElement(b[:])
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestExplicitScheduleElementRoundTrip(t *testing.T) {
	for _, e := range []ExplicitScheduleElement{
		{Action: ActionSleep, Port: 0},
		{Action: ActionSendStream, Port: 9},
		{Action: ActionRecvBuffer, Port: 15},
	} {
		b, err := e.Marshal()
		require.NoError(t, err)
		got, err := UnmarshalExplicitScheduleElement(b)
		require.NoError(t, err)
		require.Equal(t, e, got)
	}
}

func TestFrameHeaderRoundTrip(t *testing.T) {
	h := FrameHeader{HopOrSeq: 5, PanID: 0xBEEF}
	b := h.Marshal()
	got, err := UnmarshalFrameHeader(b[:])
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestTimesyncPacketRoundTrip(t *testing.T) {
	p := TimesyncPacket{Header: FrameHeader{HopOrSeq: 1, PanID: 0x1234}, Counter: 123456}
	b := p.Marshal()
	got, err := UnmarshalTimesyncPacket(b[:])
	require.NoError(t, err)
	require.Equal(t, p, got)
}
