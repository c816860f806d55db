package client

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerSchedulerRuns(t *testing.T) {
	s := NewTimerScheduler()
	done := make(chan struct{})

	s.Schedule("k", 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled task did not run")
	}
	assert.Eventually(t, func() bool { return s.pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTimerSchedulerReplaces(t *testing.T) {
	s := NewTimerScheduler()
	var first, second atomic.Int32
	done := make(chan struct{})

	s.Schedule("k", 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule("k", 40*time.Millisecond, func() {
		second.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("replacement task did not run")
	}

	assert.Equal(t, int32(0), first.Load(), "expected replaced task not to run")
	assert.Equal(t, int32(1), second.Load())
}

func TestTimerSchedulerCancel(t *testing.T) {
	s := NewTimerScheduler()
	var ran atomic.Bool

	s.Schedule("k", 10*time.Millisecond, func() { ran.Store(true) })
	s.Cancel("k")
	s.Cancel("missing")

	require.Equal(t, 0, s.pending())
	time.Sleep(30 * time.Millisecond)
	assert.False(t, ran.Load())
}
