package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshtdma/tdmh/proto"
)

func TestWriteBlocksUntilDrained(t *testing.T) {
	params := proto.StreamParameters{Redundancy: proto.RedundancyNone, Period: proto.P1}
	st := newStream(proto.StreamID{Src: 1, Dst: 2}, params, proto.StreamEstablished)

	n, err := st.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	payload, ok := st.NextSendPayload()
	require.True(t, ok)
	require.Equal(t, []byte("hello"), payload)

	n, err = st.Write([]byte("world"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestNextSendPayloadClearsAfterKDraws(t *testing.T) {
	params := proto.StreamParameters{Redundancy: proto.RedundancyTriple, Period: proto.P1}
	st := newStream(proto.StreamID{Src: 1, Dst: 2}, params, proto.StreamEstablished)
	_, _ = st.Write([]byte("x"))

	for i := 0; i < 3; i++ {
		_, ok := st.NextSendPayload()
		require.True(t, ok, "draw %d", i)
	}
	_, ok := st.NextSendPayload()
	require.False(t, ok, "buffer should be empty after k draws")
}

func TestDepositDeliversAfterKReceptionsKeepingFirstGood(t *testing.T) {
	params := proto.StreamParameters{Redundancy: proto.RedundancyTriple, Period: proto.P1}
	st := newStream(proto.StreamID{Src: 1, Dst: 2}, params, proto.StreamEstablished)

	st.Deposit([]byte("first"), true)
	st.Deposit(nil, false)
	st.Deposit(nil, false)

	payload, err := st.Read()
	require.NoError(t, err)
	require.Equal(t, []byte("first"), payload)
}

func TestDepositAllMissesDeliversNothing(t *testing.T) {
	params := proto.StreamParameters{Redundancy: proto.RedundancyDouble, Period: proto.P1}
	st := newStream(proto.StreamID{Src: 1, Dst: 2}, params, proto.StreamEstablished)

	st.Deposit(nil, false)
	st.Deposit(nil, false)

	select {
	case <-st.onArrive:
		t.Fatal("onArrive should not fire when no good payload was deposited")
	default:
	}
}

func TestCloseUnblocksReadAndWrite(t *testing.T) {
	params := proto.StreamParameters{Redundancy: proto.RedundancyNone, Period: proto.P1}
	st := newStream(proto.StreamID{Src: 1, Dst: 2}, params, proto.StreamEstablished)
	_, _ = st.Write([]byte("held"))

	done := make(chan error, 1)
	go func() {
		_, err := st.Write([]byte("second"))
		done <- err
	}()

	st.close()
	require.ErrorIs(t, <-done, ErrClosed)

	_, err := st.Read()
	require.ErrorIs(t, err, ErrClosed)
}
