package dataphase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshtdma/tdmh/core/config"
	"github.com/meshtdma/tdmh/core/radio"
	"github.com/meshtdma/tdmh/proto"
	"github.com/meshtdma/tdmh/stream"
)

// fakeRadio records SendAt calls and replays a queued inbound frame
// from Recv, standing in for a physical transceiver in tests.
type fakeRadio struct {
	sent    [][]byte
	sentAt  []time.Duration
	inbound []byte
	result  radio.RecvResult
}

func (f *fakeRadio) Configure(radio.Config) error { return nil }
func (f *fakeRadio) TurnOn() error                { return nil }
func (f *fakeRadio) TurnOff() error               { return nil }
func (f *fakeRadio) Idle() error                  { return nil }

func (f *fakeRadio) SendAt(buf []byte, n int, absoluteTimestamp time.Duration) error {
	f.sent = append(f.sent, append([]byte(nil), buf[:n]...))
	f.sentAt = append(f.sentAt, absoluteTimestamp)
	return nil
}

func (f *fakeRadio) Recv(buf []byte, absoluteDeadline time.Duration) radio.RecvResult {
	if f.inbound != nil {
		n := copy(buf, f.inbound)
		r := f.result
		r.Size = n
		return r
	}
	return radio.RecvResult{Error: radio.RecvTimeout}
}

func streamSchedule(action proto.ExplicitAction, port proto.Port) []proto.ExplicitScheduleElement {
	return []proto.ExplicitScheduleElement{{Action: action, Port: port}}
}

func TestExecuteSleepIsNoop(t *testing.T) {
	r := &fakeRadio{}
	p := NewPhase(&config.Config{}, r, 1, nil, time.Millisecond)
	p.SetSchedule(streamSchedule(proto.ActionSleep, 0))

	p.Execute(0)
	require.Empty(t, r.sent)
}

func TestSendStreamDrawsPayloadAndTransmits(t *testing.T) {
	r := &fakeRadio{}
	cfg := &config.Config{PanID: 7}
	p := NewPhase(cfg, r, 1, nil, time.Millisecond)
	id := proto.StreamID{Src: 1, Dst: 2, SrcPort: 3, DstPort: 4}
	st := stream.New(id, proto.StreamParameters{Redundancy: proto.RedundancyNone, Period: proto.P1}, proto.StreamEstablished)
	p.BindEndpoint(3, id, st)
	p.SetSchedule(streamSchedule(proto.ActionSendStream, 3))

	_, err := st.Write([]byte("hello"))
	require.NoError(t, err)

	p.Execute(100 * time.Millisecond)
	require.Len(t, r.sent, 1)
	require.Equal(t, 100*time.Millisecond, r.sentAt[0])

	frame, err := proto.UnmarshalFrameHeader(r.sent[0])
	require.NoError(t, err)
	require.Equal(t, uint16(7), frame.PanID)

	gotID, err := proto.UnmarshalStreamID(r.sent[0][proto.FrameHeaderSize:streamIDHeaderSize])
	require.NoError(t, err)
	require.Equal(t, id, gotID)
	require.Equal(t, []byte("hello"), r.sent[0][streamIDHeaderSize:])
}

func TestSendStreamNoPayloadSleepsSlot(t *testing.T) {
	r := &fakeRadio{}
	p := NewPhase(&config.Config{}, r, 1, nil, time.Millisecond)
	id := proto.StreamID{Src: 1, Dst: 2, SrcPort: 3, DstPort: 4}
	st := stream.New(id, proto.StreamParameters{Redundancy: proto.RedundancyNone, Period: proto.P1}, proto.StreamEstablished)
	p.BindEndpoint(3, id, st)
	p.SetSchedule(streamSchedule(proto.ActionSendStream, 3))

	p.Execute(0)
	require.Empty(t, r.sent)
}


// expectNoDelivery reports whether st.Read() does NOT return within a
// short window, used to assert a miss/rejection left nothing delivered
// without blocking the test forever.
func expectNoDelivery(t *testing.T, st *stream.Stream) {
	t.Helper()
	done := make(chan []byte, 1)
	go func() {
		payload, err := st.Read()
		if err == nil {
			done <- payload
		}
	}()
	select {
	case payload := <-done:
		t.Fatalf("expected no delivery, got %q", payload)
	case <-time.After(20 * time.Millisecond):
	}
}

func buildInbound(t *testing.T, cfg *config.Config, id proto.StreamID, payload []byte) []byte {
	t.Helper()
	ph := NewPhase(cfg, &fakeRadio{}, 9, nil, time.Millisecond)
	b, err := ph.frameBytes(id, payload)
	require.NoError(t, err)
	return b
}

func TestRecvStreamDeliversOnMatchingFrame(t *testing.T) {
	cfg := &config.Config{PanID: 7}
	id := proto.StreamID{Src: 2, Dst: 1, SrcPort: 4, DstPort: 3}
	inbound := buildInbound(t, cfg, id, []byte("world"))
	r := &fakeRadio{inbound: inbound, result: radio.RecvResult{Error: radio.RecvOK}}

	p := NewPhase(cfg, r, 1, nil, time.Millisecond)
	st := stream.New(id, proto.StreamParameters{Redundancy: proto.RedundancyNone, Period: proto.P1}, proto.StreamEstablished)
	p.BindEndpoint(3, id, st)
	p.SetSchedule(streamSchedule(proto.ActionRecvStream, 3))

	p.Execute(0)

	payload, err := st.Read()
	require.NoError(t, err)
	require.Equal(t, []byte("world"), payload)
}

func TestRecvStreamMissRegistersAsMiss(t *testing.T) {
	cfg := &config.Config{PanID: 7}
	id := proto.StreamID{Src: 2, Dst: 1, SrcPort: 4, DstPort: 3}
	r := &fakeRadio{} // no inbound frame queued -> RecvTimeout

	p := NewPhase(cfg, r, 1, nil, time.Millisecond)
	st := stream.New(id, proto.StreamParameters{Redundancy: proto.RedundancyDouble, Period: proto.P1}, proto.StreamEstablished)
	p.BindEndpoint(3, id, st)
	p.SetSchedule(streamSchedule(proto.ActionRecvStream, 3))

	p.Execute(0) // miss 1 of 2
	p.Execute(0) // miss 2 of 2 -> delivered as nothing

	expectNoDelivery(t, st)
}

func TestRecvStreamWrongStreamIDIsRejected(t *testing.T) {
	cfg := &config.Config{PanID: 7}
	wireID := proto.StreamID{Src: 9, Dst: 1, SrcPort: 4, DstPort: 3}
	inbound := buildInbound(t, cfg, wireID, []byte("nope"))
	r := &fakeRadio{inbound: inbound, result: radio.RecvResult{Error: radio.RecvOK}}

	boundID := proto.StreamID{Src: 2, Dst: 1, SrcPort: 4, DstPort: 3}
	p := NewPhase(cfg, r, 1, nil, time.Millisecond)
	st := stream.New(boundID, proto.StreamParameters{Redundancy: proto.RedundancyNone, Period: proto.P1}, proto.StreamEstablished)
	p.BindEndpoint(3, boundID, st)
	p.SetSchedule(streamSchedule(proto.ActionRecvStream, 3))

	p.Execute(0)

	expectNoDelivery(t, st)
}

func TestAdvanceCountsAsMissWithoutTouchingRadio(t *testing.T) {
	r := &fakeRadio{}
	id := proto.StreamID{Src: 2, Dst: 1, SrcPort: 4, DstPort: 3}
	p := NewPhase(&config.Config{}, r, 1, nil, time.Millisecond)
	st := stream.New(id, proto.StreamParameters{Redundancy: proto.RedundancyNone, Period: proto.P1}, proto.StreamEstablished)
	p.BindEndpoint(3, id, st)
	p.SetSchedule(streamSchedule(proto.ActionRecvStream, 3))

	p.Advance()
	require.Empty(t, r.sent)

	expectNoDelivery(t, st)
}

func TestSendBufferForwarderClearsAfterKTransmissions(t *testing.T) {
	r := &fakeRadio{}
	id := proto.StreamID{Src: 2, Dst: 4, SrcPort: 1, DstPort: 1}
	p := NewPhase(&config.Config{}, r, 3, nil, time.Millisecond)
	p.BindForward(5, id, 2)
	p.forwards[5].buf = []byte("relay")

	schedule := []proto.ExplicitScheduleElement{
		{Action: proto.ActionSendBuffer, Port: 5},
		{Action: proto.ActionSendBuffer, Port: 5},
	}
	p.SetSchedule(schedule)

	p.Execute(0)
	require.Len(t, r.sent, 1)
	require.NotNil(t, p.forwards[5].buf)

	p.Execute(time.Millisecond)
	require.Len(t, r.sent, 2)
	require.Nil(t, p.forwards[5].buf)
}

func TestRecvBufferForwarderFillsAndResetsCount(t *testing.T) {
	cfg := &config.Config{PanID: 1}
	id := proto.StreamID{Src: 2, Dst: 4, SrcPort: 1, DstPort: 1}
	inbound := buildInbound(t, cfg, id, []byte("hop"))
	r := &fakeRadio{inbound: inbound, result: radio.RecvResult{Error: radio.RecvOK}}

	p := NewPhase(cfg, r, 3, nil, time.Millisecond)
	p.BindForward(5, id, 2)
	p.SetSchedule(streamSchedule(proto.ActionRecvBuffer, 5))

	p.Execute(0)
	require.Equal(t, []byte("hop"), p.forwards[5].buf)
}
