package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	got []Snapshot
	err error
}

func (r *recordingTransport) PublishState(_ context.Context, s Snapshot) error {
	r.got = append(r.got, s)
	return r.err
}

func TestAuthorityPublishesOnlyChanges(t *testing.T) {
	tr := &recordingTransport{}
	a := NewAuthority("s1", tr, "test", nil)

	a.SetExperienceID("Experience:Exp_Match_Warmup")
	a.SetExperienceID("Experience:Exp_Match_Warmup")
	a.SetPhase("Warmup")
	a.SetRemainingSeconds(30)
	a.SetAnnouncement(Announcement{Active: true, Text: "Warmup started", RemainingSeconds: 3})
	a.SetAnnouncement(Announcement{Active: true, Text: "Warmup started", RemainingSeconds: 3})

	require.Len(t, tr.got, 4)
	for i, s := range tr.got {
		assert.Equal(t, uint64(i+1), s.Seq)
		assert.Equal(t, "s1", s.SessionID)
	}

	want := Snapshot{
		SessionID:        "s1",
		Seq:              4,
		ExperienceID:     "Experience:Exp_Match_Warmup",
		Phase:            "Warmup",
		RemainingSeconds: 30,
		Announcement:     Announcement{Active: true, Text: "Warmup started", RemainingSeconds: 3},
	}
	if diff := cmp.Diff(want, a.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Warmup started", a.Snapshot().CountdownText())
}

func TestAuthorityKeepsStateWhenTransportFails(t *testing.T) {
	tr := &recordingTransport{err: errors.New("down")}
	a := NewAuthority("s1", tr, "test", nil)

	a.SetPhase("Combat")

	assert.Equal(t, "Combat", a.Snapshot().Phase)
	assert.Len(t, tr.got, 1)
}

func TestMirrorAppliesOnlyNewer(t *testing.T) {
	m := NewMirror()
	var changes []uint64
	cancel := m.OnChange(func(_, next Snapshot) { changes = append(changes, next.Seq) })

	assert.True(t, m.Apply(Snapshot{SessionID: "s1", Seq: 2, Phase: "Warmup"}))
	assert.False(t, m.Apply(Snapshot{SessionID: "s1", Seq: 1, Phase: "WaitingForPlayers"}))
	assert.False(t, m.Apply(Snapshot{SessionID: "s1", Seq: 2, Phase: "Combat"}))
	assert.True(t, m.Apply(Snapshot{SessionID: "s1", Seq: 3, Phase: "Combat", RemainingSeconds: 600}))

	assert.Equal(t, "Combat", m.Phase())
	assert.Equal(t, 600, m.RemainingSeconds())

	// A restarted authority starts over at a low sequence
	assert.True(t, m.Apply(Snapshot{SessionID: "s2", Seq: 1, Phase: "WaitingForPlayers"}))

	cancel()
	m.Apply(Snapshot{SessionID: "s2", Seq: 5})
	assert.Equal(t, []uint64{2, 3, 1}, changes)
}

func TestMirrorDeliversInApplyOrder(t *testing.T) {
	m := NewMirror()
	var (
		mu    sync.Mutex
		order []uint64
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	m.OnChange(func(_, next Snapshot) {
		if next.Seq == 1 {
			close(entered)
			<-release
		}
		mu.Lock()
		order = append(order, next.Seq)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Apply(Snapshot{SessionID: "s", Seq: 1, ExperienceID: "Experience:Exp_Match_Warmup"})
	}()
	<-entered

	applied := make(chan bool, 1)
	go func() {
		defer wg.Done()
		applied <- m.Apply(Snapshot{SessionID: "s", Seq: 2, ExperienceID: "Experience:Exp_Match_Combat"})
	}()

	// The newer snapshot waits for the older delivery to finish
	select {
	case <-applied:
		t.Fatal("seq 2 delivered while seq 1 was still being delivered")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	assert.True(t, <-applied)
	assert.Equal(t, []uint64{1, 2}, order)
	assert.Equal(t, "Experience:Exp_Match_Combat", m.ExperienceID())
}

func TestMirrorCountdownText(t *testing.T) {
	m := NewMirror()
	_, ok := m.Snapshot()
	assert.False(t, ok)

	m.Apply(Snapshot{SessionID: "s", Seq: 1, Announcement: Announcement{Text: "stale"}})
	assert.Empty(t, m.CountdownText())

	m.Apply(Snapshot{SessionID: "s", Seq: 2, Announcement: Announcement{Active: true, Countdown: true, Text: "Returning to lobby in 5", RemainingSeconds: 5}})
	assert.Equal(t, "Returning to lobby in 5", m.CountdownText())
}

func TestHubDeliversLatest(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	require.NoError(t, h.PublishState(ctx, Snapshot{Seq: 1}))
	ch, cancel := h.Subscribe()
	defer cancel()

	assert.Equal(t, uint64(1), (<-ch).Seq, "new subscribers get the last snapshot")

	require.NoError(t, h.PublishState(ctx, Snapshot{Seq: 2}))
	require.NoError(t, h.PublishState(ctx, Snapshot{Seq: 3}))
	assert.Equal(t, uint64(3), (<-ch).Seq)
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)
	cancel()

	late, _ := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	assert.NoError(t, h.PublishState(context.Background(), Snapshot{Seq: 1}))
}

func TestFanoutTriesEveryTransport(t *testing.T) {
	bad := &recordingTransport{err: errors.New("nope")}
	good := &recordingTransport{}

	err := Fanout{bad, good}.PublishState(context.Background(), Snapshot{Seq: 7})

	assert.EqualError(t, err, "nope")
	assert.Len(t, good.got, 1)
}

func TestEncodeDecode(t *testing.T) {
	in := Snapshot{SessionID: "s", Seq: 9, ExperienceID: "Experience:Exp_Lobby", Phase: "Result",
		Announcement: Announcement{Active: true, Countdown: true, Text: "Returning to lobby in 3", RemainingSeconds: 3}}
	data, err := Encode(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"experience_id":"Experience:Exp_Lobby"`)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Decode([]byte("{"))
	assert.Error(t, err)
}
