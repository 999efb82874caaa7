// Package eventloop runs callbacks one at a time on a single goroutine.
//
// Producers on other goroutines hand work to the loop with Post; periodic
// work is registered with SchedulePeriodic. Everything the loop executes is
// serialized, so state touched only from loop callbacks needs no locking.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the event queue depth used when New is given zero.
const DefaultQueueSize = 1024

// ErrStopped indicates the loop has been stopped
var ErrStopped = errors.New("event loop stopped")

// Loop is a single-threaded dispatcher.
type Loop struct {
	events  chan func()
	clock   TimeProvider
	stopped chan struct{}
	once    sync.Once
	running atomic.Bool
	wg      sync.WaitGroup
	log     *logrus.Entry
}

// New creates a loop with room for queueSize pending events. A nil clock
// uses the real time and a nil log the standard logger.
func New(queueSize int, clock TimeProvider, log *logrus.Entry) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{
		events:  make(chan func(), queueSize),
		clock:   getTimeProvider(clock),
		stopped: make(chan struct{}),
		log:     log,
	}
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post queues fn for execution on the loop goroutine. It waits while the
// queue is full and reports false if the loop stops first.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}

	select {
	case l.events <- fn:
		return true
	case <-l.stopped:
		return false
	}
}

// Run dispatches events until ctx is done or Stop is called. Events still
// queued at that point are discarded. Run returns nil after Stop and the
// context's cause otherwise.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("event loop already running")
	}
	defer l.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return context.Cause(ctx)
		case <-l.stopped:
			return nil
		case fn := <-l.events:
			fn()
		}
	}
}

// Stop ends Run and every periodic schedule. It is safe to call more than
// once and from any goroutine.
func (l *Loop) Stop() {
	l.once.Do(func() {
		close(l.stopped)
		l.log.WithFields(logrus.Fields{
			"function": "Stop",
			"pending":  len(l.events),
		}).Debug("Event loop stopped")
	})
}

// Wait blocks until every schedule goroutine has exited.
func (l *Loop) Wait() {
	l.wg.Wait()
}

// Handle identifies a periodic schedule.
type Handle struct {
	cancelled atomic.Bool
	done      chan struct{}
	once      sync.Once
}

// Cancel stops the schedule. When called from the loop goroutine no further
// invocation of the callback happens after Cancel returns.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.cancelled.Store(true)
		close(h.done)
	})
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// SchedulePeriodic runs fn on the loop every interval until the handle is
// cancelled or the loop stops. Ticks that arrive while a previous one is
// still queued are dropped.
func (l *Loop) SchedulePeriodic(interval time.Duration, fn func()) *Handle {
	h := &Handle{done: make(chan struct{})}
	ticker := l.clock.NewTicker(interval)

	var pending atomic.Bool
	tick := func() {
		pending.Store(false)
		if !h.cancelled.Load() {
			fn()
		}
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				return
			case <-l.stopped:
				return
			case <-ticker.C():
				if !pending.CompareAndSwap(false, true) {
					continue
				}
				if !l.Post(tick) {
					return
				}
			}
		}
	}()

	return h
}
