package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestService_AfterFires(t *testing.T) {
	s := NewService(arbor.NewLogger())
	defer s.Stop()

	fired := make(chan struct{})
	s.After(10*time.Millisecond, "test", func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed callback did not fire")
	}
	assert.Equal(t, 0, s.PendingTimers())
}

func TestService_AfterCancel(t *testing.T) {
	s := NewService(arbor.NewLogger())
	defer s.Stop()

	var fired atomic.Bool
	cancel := s.After(50*time.Millisecond, "test", func() { fired.Store(true) })

	assert.True(t, cancel())
	assert.False(t, cancel(), "second cancel reports nothing was prevented")

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestService_PanicInCallbackIsRecovered(t *testing.T) {
	s := NewService(arbor.NewLogger())
	defer s.Stop()

	done := make(chan struct{})
	s.After(time.Millisecond, "panics", func() { panic("boom") })
	s.After(20*time.Millisecond, "after panic", func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler stopped working after a panic")
	}
}

func TestService_StopDropsPendingTimers(t *testing.T) {
	s := NewService(arbor.NewLogger())

	var fired atomic.Bool
	s.After(30*time.Millisecond, "pending", func() { fired.Store(true) })
	require.Equal(t, 1, s.PendingTimers())

	s.Stop()
	time.Sleep(60 * time.Millisecond)

	assert.False(t, fired.Load())
	assert.Equal(t, 0, s.PendingTimers())

	cancel := s.After(time.Millisecond, "after stop", func() { fired.Store(true) })
	assert.False(t, cancel())
	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestService_EveryAndTrigger(t *testing.T) {
	s := NewService(arbor.NewLogger())
	defer s.Stop()

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Every("@every 10m", "sweep", func() { ran <- struct{}{} }))
	assert.Error(t, s.Every("@every 10m", "sweep", func() {}), "duplicate names are rejected")
	assert.Error(t, s.Every("not a schedule", "bad", func() {}))

	s.Start()
	assert.True(t, s.IsRunning())

	require.NoError(t, s.TriggerJob("sweep"))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered job did not run")
	}

	assert.Error(t, s.TriggerJob("missing"))
}
