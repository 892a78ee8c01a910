package reconcile

import (
	"sort"
	"time"
)

// Scheduler hands control back to the host loop between units of work.
// Functions it runs must execute on the goroutine that owns the editor.
type Scheduler interface {
	// Defer runs fn on the next tick.
	Defer(fn func())
	// After runs fn once d has elapsed.
	After(d time.Duration, fn func())
}

// ManualScheduler runs deferred work only when told to. Tests use it to step
// through chunked syncing and busy retries.
type ManualScheduler struct {
	now    time.Duration
	queue  []func()
	timers []manualTimer
}

type manualTimer struct {
	at time.Duration
	fn func()
}

// Defer queues fn for the next Step.
func (s *ManualScheduler) Defer(fn func()) {
	s.queue = append(s.queue, fn)
}

// After schedules fn to fire when Advance moves the clock past d.
func (s *ManualScheduler) After(d time.Duration, fn func()) {
	s.timers = append(s.timers, manualTimer{at: s.now + d, fn: fn})
}

// Step runs the functions queued so far and reports how many ran.
func (s *ManualScheduler) Step() int {
	q := s.queue
	s.queue = nil
	for _, fn := range q {
		fn()
	}
	return len(q)
}

// Drain steps until the queue stays empty.
func (s *ManualScheduler) Drain() {
	for s.Step() > 0 {
	}
}

// Advance moves the clock by d, fires due timers in order and drains the
// queue after each.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.now += d
	for {
		sort.SliceStable(s.timers, func(i, j int) bool { return s.timers[i].at < s.timers[j].at })
		if len(s.timers) == 0 || s.timers[0].at > s.now {
			return
		}
		t := s.timers[0]
		s.timers = s.timers[1:]
		t.fn()
		s.Drain()
	}
}

// Pending reports queued functions plus unfired timers.
func (s *ManualScheduler) Pending() int {
	return len(s.queue) + len(s.timers)
}
