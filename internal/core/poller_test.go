package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoller_NoOverlappingTicks(t *testing.T) {
	var inFlight, maxInFlight, ticks atomic.Int32

	p := NewPoller(time.Millisecond, func(ctx context.Context) bool {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		return ticks.Add(1) >= 5
	}, nil)

	if !p.Start(context.Background()) {
		t.Fatal("Start returned false on a stopped poller")
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if p.Running() {
		t.Fatal("poller still running after tick asked to stop")
	}
	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max ticks in flight = %d, want 1", got)
	}
	if got := ticks.Load(); got != 5 {
		t.Errorf("ticks = %d, want 5", got)
	}
}

func TestPoller_StartTwice(t *testing.T) {
	p := NewPoller(time.Hour, func(context.Context) bool { return false }, nil)
	if !p.Start(context.Background()) {
		t.Fatal("first Start should succeed")
	}
	defer p.Stop()

	if p.Start(context.Background()) {
		t.Error("second Start should report already running")
	}
}

func TestPoller_StopCancelsInFlightTick(t *testing.T) {
	entered := make(chan struct{})
	var sawCancel atomic.Bool

	p := NewPoller(time.Millisecond, func(ctx context.Context) bool {
		close(entered)
		<-ctx.Done()
		sawCancel.Store(true)
		return false
	}, nil)
	p.Start(context.Background())
	<-entered

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	if !sawCancel.Load() {
		t.Error("tick context was not cancelled")
	}
	if p.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestPoller_RestartAfterStop(t *testing.T) {
	var ticks atomic.Int32
	p := NewPoller(time.Millisecond, func(context.Context) bool {
		ticks.Add(1)
		return true
	}, nil)

	p.Start(context.Background())
	p.Stop()
	p.Stop()

	if !p.Start(context.Background()) {
		t.Fatal("Start after Stop should succeed")
	}
	deadline := time.Now().Add(time.Second)
	for p.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ticks.Load() == 0 {
		t.Error("restarted poller never ticked")
	}
}

func TestPoller_ReportsLifecycle(t *testing.T) {
	obs := newRecordingObserver()
	p := NewPoller(time.Millisecond, func(context.Context) bool { return true }, obs)
	p.Start(context.Background())

	counts := func() (int, int) {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.started, obs.stopped
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, stopped := counts(); stopped > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if started, stopped := counts(); started != 1 || stopped != 1 {
		t.Errorf("started/stopped = %d/%d, want 1/1", started, stopped)
	}
}
