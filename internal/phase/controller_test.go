package phase

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/loop"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

type fakeCoordinator struct {
	requests []experience.ID
	failed   bool
}

func (f *fakeCoordinator) RequestConfiguration(id experience.ID) error {
	f.requests = append(f.requests, id)
	f.failed = false
	return nil
}

func (f *fakeCoordinator) HasFailed() bool { return f.failed }

type fakePublisher struct{ phases []string }

func (f *fakePublisher) SetPhase(p string) { f.phases = append(f.phases, p) }

type fakeAnnouncer struct{ calls []string }

func (f *fakeAnnouncer) StartMatchTimer(n int) {
	f.calls = append(f.calls, fmt.Sprintf("timer:%d", n))
}
func (f *fakeAnnouncer) StopMatchTimer() { f.calls = append(f.calls, "timer:stop") }
func (f *fakeAnnouncer) StartText(text string, s int) {
	f.calls = append(f.calls, fmt.Sprintf("text:%s:%d", text, s))
}
func (f *fakeAnnouncer) StartCountdown(prefix string, from int) {
	f.calls = append(f.calls, fmt.Sprintf("countdown:%s:%d", prefix, from))
}
func (f *fakeAnnouncer) StopAnnouncement() { f.calls = append(f.calls, "banner:stop") }

type harness struct {
	clock *manualClock
	loop  *loop.Loop
	coord *fakeCoordinator
	pub   *fakePublisher
	ann   *fakeAnnouncer
	ctrl  *Controller
	exits int
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		clock: &manualClock{now: time.Unix(0, 0)},
		coord: &fakeCoordinator{},
		pub:   &fakePublisher{},
		ann:   &fakeAnnouncer{},
	}
	h.loop = loop.New(loop.WithClock(h.clock))
	opts = append([]Option{WithExit(func() { h.exits++ }), WithRetry(0, 0)}, opts...)
	h.ctrl = NewController(h.coord, h.pub, h.ann, h.loop, opts...)
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock.now = h.clock.now.Add(d)
	h.loop.Tick()
}

func TestAdvanceVisitsPhasesInOrder(t *testing.T) {
	h := newHarness()
	require.Equal(t, WaitingForPlayers, h.ctrl.Current())

	var visited []Phase
	for i := 0; i < 3; i++ {
		h.ctrl.AdvancePhase()
		visited = append(visited, h.ctrl.Current())
	}

	assert.Equal(t, []Phase{Warmup, Combat, Result}, visited)
	assert.Equal(t, []experience.ID{experience.MatchWarmup, experience.MatchCombat, experience.MatchResult}, h.coord.requests)
	assert.Equal(t, []string{"WaitingForPlayers", "Warmup", "Combat", "Result"}, h.pub.phases)
	assert.Zero(t, h.exits)

	h.ctrl.AdvancePhase()
	assert.Equal(t, 1, h.exits)
	assert.Equal(t, Result, h.ctrl.Current())

	h.ctrl.AdvancePhase()
	assert.Equal(t, 1, h.exits, "exit runs once")
}

func TestSetPhaseTwiceIsNoOp(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.ctrl.SetPhase(Combat))
	deadline := h.ctrl.ExpiresAt()
	calls := len(h.ann.calls)

	h.clock.now = h.clock.now.Add(5 * time.Second)
	require.NoError(t, h.ctrl.SetPhase(Combat))

	assert.Len(t, h.coord.requests, 1)
	assert.Equal(t, deadline, h.ctrl.ExpiresAt(), "timer is not reset")
	assert.Len(t, h.ann.calls, calls)
}

func TestSetPhaseStartsTimerAndBanner(t *testing.T) {
	h := newHarness(WithTable(NewTable(Durations{Warmup: 30 * time.Second, Combat: 1500 * time.Millisecond, Result: 10 * time.Second})))

	require.NoError(t, h.ctrl.SetPhase(Warmup))
	require.NoError(t, h.ctrl.SetPhase(Combat))
	require.NoError(t, h.ctrl.SetPhase(Result))

	assert.Equal(t, []string{
		"timer:30", "text:Warmup started:3",
		"timer:2", "text:Match started:3",
		"timer:10", "countdown:Returning to lobby in:10",
	}, h.ann.calls)
}

func TestExpiryAdvancesPhase(t *testing.T) {
	h := newHarness(WithTable(NewTable(Durations{Warmup: 2 * time.Second, Combat: 3 * time.Second, Result: time.Second})))
	require.NoError(t, h.ctrl.SetPhase(Warmup))

	h.advance(time.Second)
	assert.Equal(t, Warmup, h.ctrl.Current())

	h.advance(time.Second)
	assert.Equal(t, Combat, h.ctrl.Current())

	h.advance(3 * time.Second)
	assert.Equal(t, Result, h.ctrl.Current())

	h.advance(time.Second)
	assert.Equal(t, 1, h.exits)
	assert.True(t, h.ctrl.Exited())
	assert.Equal(t, []string{"banner:stop", "timer:stop"}, h.ann.calls[len(h.ann.calls)-2:])
}

func TestEarlyAdvanceCancelsOldTimer(t *testing.T) {
	h := newHarness(WithTable(NewTable(Durations{Warmup: 2 * time.Second, Combat: 10 * time.Second, Result: 10 * time.Second})))
	require.NoError(t, h.ctrl.SetPhase(Warmup))

	h.ctrl.AdvancePhase()
	require.Equal(t, Combat, h.ctrl.Current())

	// The warmup timer would have fired here
	h.advance(2 * time.Second)
	assert.Equal(t, Combat, h.ctrl.Current())
}

func TestWaitingForPlayersNeverExpires(t *testing.T) {
	h := newHarness()
	assert.True(t, h.ctrl.ExpiresAt().IsZero())

	h.advance(time.Hour)
	assert.Equal(t, WaitingForPlayers, h.ctrl.Current())
}

type fakeRoster []string

func (r fakeRoster) MembersWithoutEntity() []string { return r }

type fakeSpawner struct{ ids []string }

func (s *fakeSpawner) TryCreateOrQueue(id string) bool {
	s.ids = append(s.ids, id)
	return false
}

func TestStartSessionFlow(t *testing.T) {
	h := newHarness()
	spawner := &fakeSpawner{}

	h.ctrl.StartSessionFlow(fakeRoster{"a", "b"}, spawner)

	assert.Equal(t, []string{"a", "b"}, spawner.ids)
	assert.Equal(t, Warmup, h.ctrl.Current())
}

func TestRetryReRequestsFailedLoad(t *testing.T) {
	h := newHarness(WithRetry(time.Second, 2))
	require.NoError(t, h.ctrl.SetPhase(Combat))
	require.Len(t, h.coord.requests, 1)

	h.advance(time.Second)
	assert.Len(t, h.coord.requests, 1, "no retry while healthy")

	for i := 0; i < 4; i++ {
		h.coord.failed = true
		h.advance(time.Second)
	}
	assert.Equal(t, []experience.ID{experience.MatchCombat, experience.MatchCombat, experience.MatchCombat}, h.coord.requests)
}

func TestUnknownPhase(t *testing.T) {
	h := newHarness(WithTable(Table{}))
	assert.ErrorIs(t, h.ctrl.SetPhase(Combat), ErrUnknownPhase)

	_, err := Parse("Overtime")
	assert.ErrorIs(t, err, ErrUnknownPhase)

	p, err := Parse("Result")
	require.NoError(t, err)
	assert.Equal(t, Result, p)
}
