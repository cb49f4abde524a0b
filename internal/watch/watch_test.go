package watch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomz197/skirmish/internal/catalog"
	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/replication"
	"go.uber.org/goleak"
)

type postingLoader struct {
	catalog   *catalog.Catalog
	f         *Follower
	requested []experience.ID
}

func (l *postingLoader) Load(id experience.ID, done func(*experience.Definition, error)) {
	l.requested = append(l.requested, id)
	def, ok := l.catalog.Definition(id)
	l.f.Loop().Post(func() {
		if !ok {
			done(nil, experience.ErrConfigNotFound)
			return
		}
		done(def, nil)
	})
}

type postingFeatures struct {
	f *Follower
}

func (p *postingFeatures) LoadAndActivate(_ string, done func(error)) {
	p.f.Loop().Post(func() { done(nil) })
}
func (p *postingFeatures) Deactivate(string) {}
func (p *postingFeatures) Unload(string)     {}

func newTestFollower(t *testing.T) (*Follower, *postingLoader) {
	t.Helper()
	loader := &postingLoader{catalog: catalog.Default()}
	features := &postingFeatures{}
	f, err := New(Deps{Loader: loader, Features: features})
	require.NoError(t, err)
	loader.f = f
	features.f = f
	t.Cleanup(f.Close)
	return f, loader
}

func settle(f *Follower) {
	for range 6 {
		f.Loop().Tick()
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestFollowerLoadsMirroredExperience(t *testing.T) {
	f, loader := newTestFollower(t)

	assert.False(t, f.Status().HasSnapshot)

	f.Mirror().Apply(replication.Snapshot{SessionID: "s1", Seq: 1, ExperienceID: "Experience:Exp_Match_Warmup", Phase: "Warmup"})
	settle(f)

	st := f.Status()
	require.True(t, st.HasSnapshot)
	assert.Equal(t, "Warmup", st.Snapshot.Phase)
	assert.Equal(t, experience.MatchWarmup, st.Experience)
	assert.Equal(t, experience.Ready, st.LoadState)
	assert.ElementsMatch(t, []string{"GF_Match_Core", "GF_Warmup_Rules"}, st.Modules)
	assert.Equal(t, uint64(1), st.Applied)
	assert.Equal(t, []experience.ID{experience.MatchWarmup}, loader.requested)
}

func TestFollowerIgnoresTimerOnlyChanges(t *testing.T) {
	f, loader := newTestFollower(t)

	f.Mirror().Apply(replication.Snapshot{SessionID: "s1", Seq: 1, ExperienceID: "Experience:Exp_Match_Warmup", RemainingSeconds: 30})
	settle(f)
	f.Mirror().Apply(replication.Snapshot{SessionID: "s1", Seq: 2, ExperienceID: "Experience:Exp_Match_Warmup", RemainingSeconds: 29})
	settle(f)

	assert.Len(t, loader.requested, 1)
	assert.Equal(t, 29, f.Status().Snapshot.RemainingSeconds)
}

func TestFollowerSwitchesExperience(t *testing.T) {
	f, loader := newTestFollower(t)

	f.Mirror().Apply(replication.Snapshot{SessionID: "s1", Seq: 1, ExperienceID: "Experience:Exp_Match_Warmup"})
	settle(f)
	f.Mirror().Apply(replication.Snapshot{SessionID: "s1", Seq: 2, ExperienceID: "Experience:Exp_Match_Combat"})
	settle(f)

	st := f.Status()
	assert.Equal(t, experience.MatchCombat, st.Experience)
	assert.Equal(t, experience.Ready, st.LoadState)
	assert.Equal(t, uint64(2), st.Applied)
	assert.Equal(t, []experience.ID{experience.MatchWarmup, experience.MatchCombat}, loader.requested)
}

func TestFollowerLateNotificationDoesNotRollBack(t *testing.T) {
	f, loader := newTestFollower(t)

	f.Mirror().Apply(replication.Snapshot{SessionID: "s1", Seq: 1, ExperienceID: "Experience:Exp_Match_Warmup"})
	f.Mirror().Apply(replication.Snapshot{SessionID: "s1", Seq: 2, ExperienceID: "Experience:Exp_Match_Combat"})
	// The warmup notification lands after the combat one was delivered
	f.onChange(replication.Snapshot{}, replication.Snapshot{SessionID: "s1", Seq: 1, ExperienceID: "Experience:Exp_Match_Warmup"})
	settle(f)

	st := f.Status()
	assert.Equal(t, experience.MatchCombat, st.Experience)
	assert.Equal(t, experience.Ready, st.LoadState)
	assert.Equal(t, uint64(1), st.Applied)
	assert.Equal(t, []experience.ID{experience.MatchCombat}, loader.requested)
}

func TestFollowerReappliesForNewSession(t *testing.T) {
	f, loader := newTestFollower(t)

	f.Mirror().Apply(replication.Snapshot{SessionID: "s1", Seq: 4, ExperienceID: "Experience:Exp_Lobby"})
	settle(f)
	f.Mirror().Apply(replication.Snapshot{SessionID: "s2", Seq: 1, ExperienceID: "Experience:Exp_Lobby"})
	settle(f)

	assert.Equal(t, experience.Lobby, f.Status().Experience)
	assert.Equal(t, uint64(2), f.Status().Applied)
	assert.Len(t, loader.requested, 1)
}

func TestFollowerReportsUnknownExperience(t *testing.T) {
	f, _ := newTestFollower(t)

	f.Mirror().Apply(replication.Snapshot{SessionID: "s1", Seq: 1, ExperienceID: "Experience:Exp_Nope"})
	settle(f)

	st := f.Status()
	assert.Equal(t, experience.Failed, st.LoadState)
	assert.NotEmpty(t, st.Failure)
}

func TestFollowerWithCatalogStore(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, err := catalog.Parse([]byte(instantCatalog))
	require.NoError(t, err)
	f, err := New(Deps{Store: catalog.NewStore(c, "", nil)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.Run(ctx)
	}()

	f.Mirror().Apply(replication.Snapshot{SessionID: "s1", Seq: 1, ExperienceID: "Experience:Exp_Lobby"})

	require.Eventually(t, func() bool {
		return f.Status().LoadState == experience.Ready
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"GF_Lobby"}, f.Status().Modules)

	cancel()
	wg.Wait()
	f.Close()
}

func TestRender(t *testing.T) {
	r := lipgloss.NewRenderer(&strings.Builder{})

	out := Render(r, "nats", Status{})
	assert.Contains(t, out, "Waiting for session state")
	assert.Contains(t, out, "none")

	out = Render(r, "nats", Status{
		HasSnapshot: true,
		Snapshot: replication.Snapshot{
			SessionID:        "s1",
			Seq:              7,
			ExperienceID:     "Experience:Exp_Match_Result",
			Phase:            "Result",
			RemainingSeconds: 75,
			Announcement:     replication.Announcement{Active: true, Countdown: true, Text: "Returning to lobby in 5"},
		},
		Experience: experience.MatchResult,
		LoadState:  experience.Ready,
		Modules:    []string{"GF_Match_Core", "GF_Scoreboard"},
		Applied:    3,
	})
	assert.Contains(t, out, "01:15")
	assert.Contains(t, out, "Returning to lobby in 5")
	assert.Contains(t, out, "GF_Match_Core, GF_Scoreboard")
	assert.Contains(t, out, "ready")
}

const instantCatalog = `
experiences:
  - id: Exp_Lobby
    default_template: PD_Lobby
    features: [GF_Lobby]
modules:
  - name: GF_Lobby
`
