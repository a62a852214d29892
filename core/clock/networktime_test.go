package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetFromSyncCounter(t *testing.T) {
	c := New()
	period := 100 * time.Millisecond
	// counter=5 means network time at beacon emission was 500ms.
	// if the uncorrected local arrival was 480ms, offset should be 20ms.
	c.SetFromSyncCounter(5, period, 480*time.Millisecond)
	require.Equal(t, 20*time.Millisecond, c.Offset())
}

func TestOffsetAppliedToNow(t *testing.T) {
	orig := nowNanos
	defer func() { nowNanos = orig }()
	nowNanos = func() int64 { return int64(10 * time.Second) }

	c := New()
	c.SetOffset(2 * time.Second)
	require.Equal(t, 12*time.Second, c.Now())
}

func TestCorrectZeroPPMIsIdentity(t *testing.T) {
	require.Equal(t, 5*time.Second, Correct(5*time.Second, 0))
}

func TestCorrectAppliesPPM(t *testing.T) {
	// 1,000,000 us at 100ppm correction => +100us
	got := Correct(1_000_000*time.Microsecond, 100)
	require.Equal(t, 1_000_000*time.Microsecond+100*time.Microsecond, got)
}
