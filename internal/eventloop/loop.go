// Package eventloop runs every client component on a single goroutine.
// Adapters post work to the loop instead of touching component state.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ErrStopped is returned when work is submitted to a stopped loop
var ErrStopped = errors.New("event loop stopped")

// Timer is a cancelable scheduled callback
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped a pending callback.
	Stop() bool
}

// Loop is an unbounded FIFO of functions executed one at a time
type Loop struct {
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop using clk for timers. A nil clock means wall time.
func New(clk clock.Clock, logger *zap.Logger) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		clock:  clk,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Clock returns the clock driving the loop's timers
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Post appends fn to the queue. It never blocks and is safe from any
// goroutine. It returns false once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call posts fn and waits until it has run
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// Run executes queued functions until ctx is done or Stop is called
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("Event loop started")
	defer l.logger.Debug("Event loop exited")

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return nil
		default:
		}

		if fn, ok := l.next(); ok {
			l.invoke(fn)
			continue
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// Stop makes Run return and rejects further posts. Pending work is dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// Done is closed when the loop stops
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// AfterFunc posts fn once d has elapsed
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Swap(true) {
				return
			}
			fn()
		})
	})
	return t
}

// Every posts fn each time d elapses until the timer is stopped
func (l *Loop) Every(d time.Duration, fn func()) Timer {
	t := &loopTimer{
		ticker: l.clock.Ticker(d),
		quit:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-t.ticker.C:
				l.Post(func() {
					if t.stopped.Load() {
						return
					}
					fn()
				})
			case <-t.quit:
				return
			case <-l.done:
				return
			}
		}
	}()
	return t
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered panic in event handler", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

type loopTimer struct {
	timer   *clock.Timer
	ticker  *clock.Ticker
	quit    chan struct{}
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.quit)
	}
	return true
}
