package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by calls on a closed loop.
var ErrClosed = errors.New("session: closed")

// Loop runs functions on one goroutine. It owns the editor of a session so
// no locks are needed around it.
//
// Calls from other goroutines go through a channel. Work deferred from inside
// the loop waits in a queue and runs whenever no call is ready, so a call that
// arrives between two deferred chunks runs first.
type Loop struct {
	calls    chan func()
	deferred []func()

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewLoop starts a loop.
func NewLoop() *Loop {
	l := &Loop{
		calls:   make(chan func(), 64),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		if len(l.deferred) > 0 {
			select {
			case <-l.stopCh:
				return
			case fn := <-l.calls:
				fn()
			default:
				fn := l.deferred[0]
				l.deferred = l.deferred[1:]
				fn()
			}
			continue
		}
		select {
		case <-l.stopCh:
			return
		case fn := <-l.calls:
			fn()
		}
	}
}

// Do runs fn on the loop and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if l.closed.Load() {
		return ErrClosed
	}
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case l.calls <- wrapped:
	case <-l.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		return ErrClosed
	}
}

// Post queues fn without waiting. It must not be called from the loop itself.
func (l *Loop) Post(fn func()) {
	if l.closed.Load() {
		return
	}
	select {
	case l.calls <- fn:
	case <-l.stopped:
	}
}

// Defer queues fn for a later tick. It must be called from the loop.
func (l *Loop) Defer(fn func()) {
	l.deferred = append(l.deferred, fn)
}

// After posts fn to the loop once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Post(fn) })
}

// Close stops the loop. Deferred work that has not run is dropped.
func (l *Loop) Close() {
	if l.closed.CompareAndSwap(false, true) {
		close(l.stopCh)
	}
	<-l.stopped
}
