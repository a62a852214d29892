package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHaltStopsGoroutine(t *testing.T) {
	var w Worker
	done := make(chan struct{})
	w.Go(func() {
		<-w.HaltCh()
		close(done)
	})
	w.Halt()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not observe Halt")
	}
	w.Wait()
}

func TestHaltIdempotent(t *testing.T) {
	var w Worker
	require.NotPanics(t, func() {
		w.Halt()
		w.Halt()
	})
}

func TestHaltChSharedAcrossGoroutines(t *testing.T) {
	var w Worker
	const n = 8
	counted := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		w.Go(func() {
			<-w.HaltCh()
			counted <- struct{}{}
		})
	}
	w.Halt()
	for i := 0; i < n; i++ {
		select {
		case <-counted:
		case <-time.After(time.Second):
			t.Fatal("not all goroutines observed halt")
		}
	}
}
