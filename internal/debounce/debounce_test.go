package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// captureTimers replaces afterFunc with one that records callbacks instead
// of scheduling them.
func captureTimers(t *testing.T) *[]func() {
	t.Helper()
	orig := afterFunc
	t.Cleanup(func() { afterFunc = orig })
	var callbacks []func()
	afterFunc = func(_ time.Duration, f func()) *time.Timer {
		callbacks = append(callbacks, f)
		timer := time.NewTimer(time.Hour)
		timer.Stop()
		return timer
	}
	return &callbacks
}

func TestOnlyLatestTriggerRuns(t *testing.T) {
	callbacks := captureTimers(t)
	var calls atomic.Int32
	d := New(time.Second, func() { calls.Add(1) })

	d.Trigger()
	d.Trigger()
	d.Trigger()
	require.Len(t, *callbacks, 3)

	for _, cb := range *callbacks {
		cb()
	}
	require.EqualValues(t, 1, calls.Load())
}

func TestStopDiscardsFiredTimer(t *testing.T) {
	callbacks := captureTimers(t)
	var calls atomic.Int32
	d := New(time.Second, func() { calls.Add(1) })

	d.Trigger()
	d.Stop()
	require.Len(t, *callbacks, 1)
	(*callbacks)[0]()
	require.Zero(t, calls.Load())

	// The debouncer is usable again after Stop.
	d.Trigger()
	(*callbacks)[1]()
	require.EqualValues(t, 1, calls.Load())
}

func TestBurstCollapsesIntoOneCall(t *testing.T) {
	done := make(chan struct{})
	var calls atomic.Int32
	d := New(10*time.Millisecond, func() {
		if calls.Add(1) == 1 {
			close(done)
		}
	})
	for range 5 {
		d.Trigger()
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debouncer did not fire")
	}
	time.Sleep(30 * time.Millisecond)
	require.EqualValues(t, 1, calls.Load())
}

func TestStopBeforeDelay(t *testing.T) {
	var calls atomic.Int32
	d := New(20*time.Millisecond, func() { calls.Add(1) })
	d.Trigger()
	d.Stop()
	d.Stop()
	time.Sleep(40 * time.Millisecond)
	require.Zero(t, calls.Load())
}
