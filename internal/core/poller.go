package core

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval is the delay between the end of one tick and the start of the next.
const DefaultPollInterval = 2 * time.Second

// TickFunc performs one observation. Returning true stops the poller.
type TickFunc func(ctx context.Context) (stop bool)

// Poller runs a TickFunc on a fixed period with at most one tick in flight.
//
// The timer is re-armed only after a tick returns, so slow ticks stretch the
// period instead of overlapping. Stop cancels the tick's context and waits
// for the loop to exit.
type Poller struct {
	interval time.Duration
	tick     TickFunc
	observer Observer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a stopped poller.
func NewPoller(interval time.Duration, tick TickFunc, observer Observer) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Poller{interval: interval, tick: tick, observer: observer}
}

// Start launches the loop. It returns false if the poller is already running.
func (p *Poller) Start(parent context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	p.observer.PollerStarted()
	go p.run(ctx, cancel, done)
	return true
}

// Stop cancels the loop and blocks until it has exited. Calling it from
// inside a TickFunc deadlocks; return true from the tick instead.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil
}

func (p *Poller) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer func() {
		cancel()
		p.mu.Lock()
		if p.done == done {
			p.cancel = nil
			p.done = nil
		}
		p.mu.Unlock()
		p.observer.PollerStopped()
		close(done)
	}()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if p.tick(ctx) || ctx.Err() != nil {
			return
		}
		timer.Reset(p.interval)
	}
}
