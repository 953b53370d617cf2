package callback

import (
	"sync"
	"sync/atomic"

	"github.com/timandy/routine"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/errors"
)

// DefaultQueueSize bounds pending non-blocking deliveries. A full queue
// blocks the native caller until the dispatcher catches up.
const DefaultQueueSize = 1024

// Dispatcher runs callback handlers on a single goroutine in arrival order.
// Native threads hand work to it; they never run Go handlers themselves.
type Dispatcher struct {
	queue  chan func()
	done   chan struct{}
	goid   atomic.Uint64
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher with room for size pending deliveries.
func NewDispatcher(size int) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
	started := make(chan struct{})
	go d.loop(started)
	<-started
	return d
}

func (d *Dispatcher) loop(started chan struct{}) {
	d.goid.Store(routine.Goid())
	close(started)
	defer close(d.done)

	for fn := range d.queue {
		d.run(fn)
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("callback delivery panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// OnLoop reports whether the caller is the dispatcher goroutine.
func (d *Dispatcher) OnLoop() bool {
	return routine.Goid() == d.goid.Load()
}

// Pending is the number of queued deliveries.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Dispatch queues fn. With wait set it returns after fn has run.
// A waiting dispatch made from the dispatcher goroutine itself, as happens
// when a handler calls into native code that calls back, runs fn inline.
func (d *Dispatcher) Dispatch(fn func(), wait bool) error {
	if d.OnLoop() {
		return d.dispatchOnLoop(fn, wait)
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return errors.Closed(errors.PhaseCallback, "dispatcher")
	}
	if !wait {
		d.queue <- fn
		d.mu.RUnlock()
		return nil
	}
	done := make(chan struct{})
	d.queue <- func() {
		defer close(done)
		fn()
	}
	d.mu.RUnlock()

	<-done
	return nil
}

// dispatchOnLoop never waits for the lock: a pending Close may be queued
// behind a sender blocked on a full queue that only this goroutine drains.
func (d *Dispatcher) dispatchOnLoop(fn func(), wait bool) error {
	if !d.mu.TryRLock() {
		return errors.Closed(errors.PhaseCallback, "dispatcher")
	}
	if d.closed {
		d.mu.RUnlock()
		return errors.Closed(errors.PhaseCallback, "dispatcher")
	}
	if !wait {
		select {
		case d.queue <- fn:
			d.mu.RUnlock()
			return nil
		default:
			// The loop cannot drain its own queue while blocked on it.
		}
	}
	d.mu.RUnlock()
	d.run(fn)
	return nil
}

// Close stops accepting deliveries and waits for queued ones to finish.
// Called from a handler it returns without waiting.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	if !d.OnLoop() {
		<-d.done
	}
	return nil
}
