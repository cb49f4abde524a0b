package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLoop() (*Loop, *manualClock) {
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	return New(WithClock(clock)), clock
}

func TestNextTickRunsOnFollowingTick(t *testing.T) {
	l, _ := newTestLoop()
	var order []string

	l.NextTick(func() {
		order = append(order, "first")
		l.NextTick(func() { order = append(order, "second") })
	})

	l.Tick()
	assert.Equal(t, []string{"first"}, order)

	l.Tick()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPostRunsBeforeNextTick(t *testing.T) {
	l, _ := newTestLoop()
	var order []string

	l.NextTick(func() { order = append(order, "next") })
	l.Post(func() { order = append(order, "posted") })
	l.Tick()

	assert.Equal(t, []string{"posted", "next"}, order)
}

func TestPostFromManyGoroutines(t *testing.T) {
	l, _ := newTestLoop()
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Post(func() { count++ })
		}()
	}
	wg.Wait()
	l.Tick()

	assert.Equal(t, 50, count)
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	l, clock := newTestLoop()
	var fired []string

	l.AfterFunc(3*time.Second, func() { fired = append(fired, "3s") })
	l.AfterFunc(time.Second, func() { fired = append(fired, "1s") })
	l.AfterFunc(2*time.Second, func() { fired = append(fired, "2s") })

	l.Tick()
	assert.Empty(t, fired)

	clock.Advance(2 * time.Second)
	l.Tick()
	assert.Equal(t, []string{"1s", "2s"}, fired)

	clock.Advance(time.Second)
	l.Tick()
	assert.Equal(t, []string{"1s", "2s", "3s"}, fired)
}

func TestTimerStop(t *testing.T) {
	l, clock := newTestLoop()
	fired := false

	timer := l.AfterFunc(time.Second, func() { fired = true })
	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	clock.Advance(time.Second)
	l.Tick()
	assert.False(t, fired)
}

func TestTimerStoppedByEarlierTimerInSamePass(t *testing.T) {
	l, clock := newTestLoop()
	var second *Timer
	secondFired := false

	l.AfterFunc(time.Second, func() { second.Stop() })
	second = l.AfterFunc(time.Second, func() { secondFired = true })

	clock.Advance(time.Second)
	l.Tick()
	assert.False(t, secondFired)
}

func TestTimerArmedFromCallbackWaitsForNextPass(t *testing.T) {
	l, clock := newTestLoop()
	count := 0

	var rearm func()
	rearm = func() {
		count++
		l.AfterFunc(0, rearm)
	}
	l.AfterFunc(0, rearm)

	l.Tick()
	assert.Equal(t, 1, count)

	clock.Advance(time.Millisecond)
	l.Tick()
	assert.Equal(t, 2, count)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := New(WithTickRate(200))
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{})
	l.Post(func() { close(ran) })

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("posted function never ran")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Positive(t, l.Ticks())
}

func TestAfterTickRunsLast(t *testing.T) {
	var order []string
	l := New(WithAfterTick(func() { order = append(order, "after") }))
	l.Post(func() { order = append(order, "posted") })
	l.Tick()

	assert.Equal(t, []string{"posted", "after"}, order)
}
