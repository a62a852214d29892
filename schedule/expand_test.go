package schedule

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshtdma/tdmh/proto"
)

func TestExpandMarksSenderAndReceiverSlots(t *testing.T) {
	plan := &Plan{
		ScheduleTiles: 2,
		Elements: []proto.ScheduleElement{
			{Src: 1, Dst: 2, SrcPort: 3, Tx: 1, Rx: 2, Period: proto.P1, Offset: 0},
			{Src: 1, Dst: 2, SrcPort: 3, Tx: 1, Rx: 2, Period: proto.P1, Offset: 1},
		},
	}

	tx := Expand(plan, 1, 4)
	rx := Expand(plan, 2, 4)
	bystander := Expand(plan, 9, 4)

	require.Equal(t, proto.ActionSendStream, tx[0].Action)
	require.Equal(t, proto.ActionSendStream, tx[1].Action)
	require.Equal(t, proto.ActionRecvStream, rx[0].Action)
	require.Equal(t, proto.ActionRecvStream, rx[1].Action)
	for _, slot := range bystander {
		require.Equal(t, proto.ActionSleep, slot.Action)
	}
	require.Equal(t, proto.ActionSleep, tx[2].Action)
}

func TestExpandMarksForwarderSlots(t *testing.T) {
	// Scenario 2 (spec §8): nodes 0-1-2 chain, node 2 connects to 0.
	// Node 1 is a pure forwarder: RECVBUFFER from 2, then SENDBUFFER to 0.
	plan := &Plan{
		ScheduleTiles: 1,
		Elements: []proto.ScheduleElement{
			{Src: 2, Dst: 0, SrcPort: 1, Tx: 2, Rx: 1, Period: proto.P1, Offset: 0},
			{Src: 2, Dst: 0, SrcPort: 1, Tx: 1, Rx: 0, Period: proto.P1, Offset: 1},
		},
	}

	fwd := Expand(plan, 1, 4)
	src := Expand(plan, 2, 4)
	dst := Expand(plan, 0, 4)

	require.Equal(t, proto.ActionRecvBuffer, fwd[0].Action)
	require.Equal(t, proto.ActionSendBuffer, fwd[1].Action)
	require.Equal(t, proto.ActionSendStream, src[0].Action)
	require.Equal(t, proto.ActionSleep, src[1].Action)
	require.Equal(t, proto.ActionSleep, dst[0].Action)
	require.Equal(t, proto.ActionRecvStream, dst[1].Action)
}
