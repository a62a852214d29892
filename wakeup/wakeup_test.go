package wakeup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/yawning/avl.git"

	"github.com/meshtdma/tdmh/proto"
	"github.com/meshtdma/tdmh/stream"
)

func TestCompareOrdersByTimeThenPeriodThenKind(t *testing.T) {
	a := &Info{WakeupTime: 10, Period: 5, Kind: KindStream}
	b := &Info{WakeupTime: 20, Period: 1, Kind: KindStream}
	require.Negative(t, compare(a, b))

	c := &Info{WakeupTime: 10, Period: 1, Kind: KindStream}
	d := &Info{WakeupTime: 10, Period: 5, Kind: KindStream}
	require.Negative(t, compare(c, d))

	e := &Info{WakeupTime: 10, Period: 1, Kind: KindDownlink}
	f := &Info{WakeupTime: 10, Period: 1, Kind: KindStream}
	require.Positive(t, compare(e, f))
}

func TestBuildQueuesOneEntryPerSendSlot(t *testing.T) {
	id := proto.StreamID{Src: 1, Dst: 2, SrcPort: 3, DstPort: 4}
	schedule := []proto.ExplicitScheduleElement{
		{Action: proto.ActionSleep},
		{Action: proto.ActionSendStream, Port: 3},
		{Action: proto.ActionRecvStream, Port: 3},
	}
	ports := map[proto.Port]PortBinding{3: {StreamID: id, WakeupAdvance: 2 * time.Millisecond}}

	q := BuildQueues(schedule, ports, 0, 10*time.Millisecond, 0)
	require.Equal(t, 1, q.Curr.Len())

	node := q.Curr.Iterator(avl.Forward).First()
	info := node.Value.(*Info)
	require.Equal(t, KindStream, info.Kind)
	require.Equal(t, id, info.StreamID)
	require.Equal(t, 10*time.Millisecond-2*time.Millisecond, info.WakeupTime)
	require.Equal(t, 30*time.Millisecond, info.Period)
}

func TestSchedulerFiresStreamWake(t *testing.T) {
	id := proto.StreamID{Src: 1, Dst: 2, SrcPort: 3, DstPort: 4}
	st := stream.New(id, proto.StreamParameters{}, proto.StreamEstablished)

	s := NewScheduler()
	s.BindStream(id, st)
	s.Start()
	defer s.Halt()

	q := NewQueues()
	q.Curr.Insert(&Info{Kind: KindStream, StreamID: id, WakeupTime: 0, Period: time.Hour})
	s.NotifyNewSchedule(q)
	require.Equal(t, StateAwaitingActivation, s.State())
	s.Activate()
	require.Equal(t, StateActive, s.State())

	select {
	case <-waitWoken(st):
	case <-time.After(time.Second):
		t.Fatal("stream was never woken")
	}
}

func waitWoken(st *stream.Stream) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		st.Wait()
		close(done)
	}()
	return done
}
