// Package loop provides the cooperative session scheduler.
//
// Everything that mutates session state runs on the loop goroutine. Work that
// finishes elsewhere (resource loads, module activation) re-enters the loop
// through Post, so callbacks never race each other or the synchronous entry
// points.
package loop

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomz197/skirmish/internal/loop/config"
)

// Clock reports the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Scheduler is the subset of Loop used by session components.
type Scheduler interface {
	Post(fn func())
	NextTick(fn func())
	AfterFunc(d time.Duration, fn func()) *Timer
}

// Compile-time check that Loop implements Scheduler.
var _ Scheduler = (*Loop)(nil)

// Loop runs posted functions, next-tick callbacks and timers on one goroutine.
type Loop struct {
	clock    Clock
	tickTime time.Duration

	mu    sync.Mutex
	inbox []func()

	nextTick  []func()
	timers    []*Timer
	afterTick func()
	timerSeq  uint64
	ticks     uint64
}

// Timer is a fire-once callback armed with AfterFunc.
type Timer struct {
	deadline time.Time
	seq      uint64
	fn       func()
	stopped  bool
	fired    bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used for timer deadlines.
func WithClock(c Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithTickRate sets how many ticks Run performs per second.
func WithTickRate(hz int) Option {
	return func(l *Loop) {
		if hz > 0 {
			l.tickTime = time.Second / time.Duration(hz)
		}
	}
}

// WithAfterTick runs fn at the end of every tick, e.g. to publish a status
// snapshot for other goroutines.
func WithAfterTick(fn func()) Option {
	return func(l *Loop) { l.afterTick = fn }
}

// New creates a new loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		clock:    realClock{},
		tickTime: config.SessionTickTime,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run ticks the loop until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frameStart := time.Now()

		l.Tick()

		// Frame timing
		elapsed := time.Since(frameStart)
		if elapsed < l.tickTime {
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.tickTime - elapsed):
			}
		}
	}
}

// Tick runs one scheduling pass: posted functions, then next-tick callbacks
// queued before this tick, then due timers in deadline order.
func (l *Loop) Tick() {
	l.ticks++

	// Process work marshaled from other goroutines
	l.mu.Lock()
	posted := l.inbox
	l.inbox = nil
	l.mu.Unlock()
	for _, fn := range posted {
		fn()
	}

	// Callbacks scheduled during this pass wait for the next one
	pending := l.nextTick
	l.nextTick = nil
	for _, fn := range pending {
		fn()
	}

	l.fireTimers()

	if l.afterTick != nil {
		l.afterTick()
	}
}

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() uint64 {
	return l.ticks
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post queues fn to run on the loop goroutine. Safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.inbox = append(l.inbox, fn)
	l.mu.Unlock()
}

// NextTick queues fn to run at the start of the next tick. Loop goroutine only.
func (l *Loop) NextTick(fn func()) {
	l.nextTick = append(l.nextTick, fn)
}

// AfterFunc arms a timer that runs fn on the first tick at or after d has
// elapsed. Loop goroutine only.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	l.timerSeq++
	t := &Timer{
		deadline: l.clock.Now().Add(d),
		seq:      l.timerSeq,
		fn:       fn,
	}
	l.timers = append(l.timers, t)
	return t
}

// Stop cancels the timer. Returns false if it already fired or was stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Deadline returns when the timer is due.
func (t *Timer) Deadline() time.Time {
	return t.deadline
}

func (l *Loop) fireTimers() {
	if len(l.timers) == 0 {
		return
	}
	now := l.clock.Now()

	var due []*Timer
	kept := l.timers[:0]
	for _, t := range l.timers {
		switch {
		case t.stopped:
		case !t.deadline.After(now):
			due = append(due, t)
		default:
			kept = append(kept, t)
		}
	}
	// Clear the tail so dropped timers can be collected
	for i := len(kept); i < len(l.timers); i++ {
		l.timers[i] = nil
	}
	l.timers = kept

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		// An earlier callback in this pass may have stopped it
		if t.stopped {
			continue
		}
		t.fired = true
		t.fn()
	}
}
