package schedule

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshtdma/tdmh/proto"
)

func buildTestPlan(n int) *Plan {
	elements := make([]proto.ScheduleElement, n)
	for i := range elements {
		elements[i] = proto.ScheduleElement{
			Src: 1, Dst: 2, SrcPort: 1, DstPort: 1,
			Tx: 1, Rx: 2, Period: proto.P1, Offset: uint32(i),
		}
	}
	return &Plan{ScheduleID: 7, ScheduleTiles: 8, Elements: elements}
}

func TestBuildDistributionPacketsRepeatsThreeTimes(t *testing.T) {
	plan := buildTestPlan(2)
	packets := BuildDistributionPackets(0x1234, plan, 100)

	perPkt := ElementsPerPacket()
	require.Greater(t, perPkt, 0)
	expectedTotal := (len(plan.Elements) + perPkt - 1) / perPkt
	require.Equal(t, expectedTotal*3, len(packets))
}

func TestBuildDistributionPacketsRoundTrip(t *testing.T) {
	plan := buildTestPlan(ElementsPerPacket() + 1)
	packets := BuildDistributionPackets(0x1234, plan, 100)

	r := NewReassembler()
	var got *Plan
	for _, pkt := range packets {
		body := pkt[proto.FrameHeaderSize:]
		if p, ok := r.Feed(body); ok {
			got = p
		}
	}

	require.NotNil(t, got)
	require.Equal(t, plan.ScheduleID, got.ScheduleID)
	require.Equal(t, plan.ScheduleTiles, got.ScheduleTiles)
	require.Len(t, got.Elements, len(plan.Elements))
	for i, e := range plan.Elements {
		require.Equal(t, e.Offset, got.Elements[i].Offset)
	}
}

func TestReassemblerResetsOnNewScheduleID(t *testing.T) {
	planA := buildTestPlan(1)
	planB := buildTestPlan(1)
	planB.ScheduleID = planA.ScheduleID + 1

	r := NewReassembler()
	for _, pkt := range BuildDistributionPackets(1, planA, 10) {
		r.Feed(pkt[proto.FrameHeaderSize:])
	}

	var got *Plan
	for _, pkt := range BuildDistributionPackets(1, planB, 20) {
		body := pkt[proto.FrameHeaderSize:]
		if p, ok := r.Feed(body); ok {
			got = p
		}
	}

	require.NotNil(t, got)
	require.Equal(t, planB.ScheduleID, got.ScheduleID)
}

func TestActivationTileFirstScheduleRoundsUpToSuperframe(t *testing.T) {
	tile := ActivationTile(8, nil, 0, 3, 5)
	require.Zero(t, tile%8)
	require.GreaterOrEqual(t, tile, uint32(8))
}

func TestActivationTileSubsequentScheduleFollowsPrevious(t *testing.T) {
	prev := &Plan{ScheduleTiles: 16}
	tile := ActivationTile(8, prev, 32, 10, 2)
	require.Zero(t, tile%16)
	require.GreaterOrEqual(t, tile, uint32(48))
}
