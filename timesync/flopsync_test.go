package timesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestControllerWindowGrowsOnMiss(t *testing.T) {
	c := NewController(10*time.Millisecond, 160*time.Millisecond)
	require.Equal(t, 10*time.Millisecond, c.ReceiverWindow())
	_, w1 := c.LostPacket()
	require.Equal(t, 20*time.Millisecond, w1)
	_, w2 := c.LostPacket()
	require.Equal(t, 40*time.Millisecond, w2)
}

func TestControllerWindowCapsAtMax(t *testing.T) {
	c := NewController(10*time.Millisecond, 30*time.Millisecond)
	for i := 0; i < 10; i++ {
		c.LostPacket()
	}
	require.Equal(t, 30*time.Millisecond, c.ReceiverWindow())
}

func TestControllerWindowCollapsesOnSuccess(t *testing.T) {
	c := NewController(10*time.Millisecond, 160*time.Millisecond)
	c.LostPacket()
	c.LostPacket()
	require.Greater(t, c.ReceiverWindow(), 10*time.Millisecond)
	_, w := c.ComputeCorrection(5 * time.Millisecond)
	require.Equal(t, 10*time.Millisecond, w)
}

func TestControllerReset(t *testing.T) {
	c := NewController(10*time.Millisecond, 160*time.Millisecond)
	c.ComputeCorrection(50 * time.Millisecond)
	c.Reset()
	require.Equal(t, 10*time.Millisecond, c.ReceiverWindow())
}

func TestComputeCorrectionProportionalToError(t *testing.T) {
	c := NewController(10*time.Millisecond, 160*time.Millisecond)
	corr, _ := c.ComputeCorrection(8 * time.Millisecond)
	// proportional half plus an eighth-weighted integral contribution
	require.Equal(t, 4*time.Millisecond+1*time.Millisecond, corr)
}
