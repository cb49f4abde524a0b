package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/loop"
)

type pendingLoad struct {
	id   experience.ID
	done func(*experience.Definition, error)
}

// manualLoader holds every load until the test completes it.
type manualLoader struct{ loads []pendingLoad }

func (l *manualLoader) Load(id experience.ID, done func(*experience.Definition, error)) {
	l.loads = append(l.loads, pendingLoad{id: id, done: done})
}

func (l *manualLoader) last() pendingLoad { return l.loads[len(l.loads)-1] }

type manualFeatures struct {
	ops     []string
	pending map[string][]func(error)
}

func (f *manualFeatures) LoadAndActivate(name string, done func(error)) {
	f.ops = append(f.ops, "load:"+name)
	f.pending[name] = append(f.pending[name], done)
}
func (f *manualFeatures) Deactivate(name string) { f.ops = append(f.ops, "deactivate:"+name) }
func (f *manualFeatures) Unload(name string)     { f.ops = append(f.ops, "unload:"+name) }

func (f *manualFeatures) complete(t *testing.T, name string) {
	t.Helper()
	q := f.pending[name]
	require.NotEmpty(t, q, "no pending activation for %s", name)
	f.pending[name] = q[1:]
	q[0](nil)
}

type coordHarness struct {
	loader   *manualLoader
	features *manualFeatures
	coord    *experience.Manager
	ctrl     *Controller
	readyFor []experience.ID // Every ready notification
}

func newCoordHarness() *coordHarness {
	h := &coordHarness{
		loader:   &manualLoader{},
		features: &manualFeatures{pending: make(map[string][]func(error))},
	}
	h.coord = experience.NewManager(h.loader, h.features)
	h.coord.OnLoaded(func(def *experience.Definition) { h.readyFor = append(h.readyFor, def.ID) })
	sched := loop.New(loop.WithClock(&manualClock{now: time.Unix(0, 0)}))
	h.ctrl = NewController(h.coord, &fakePublisher{}, &fakeAnnouncer{}, sched, WithRetry(0, 0))
	return h
}

func TestAdvanceWhileResolvingDiscardsStaleLoad(t *testing.T) {
	h := newCoordHarness()

	require.NoError(t, h.ctrl.SetPhase(Warmup))
	warmup := h.loader.last()
	require.Equal(t, experience.MatchWarmup, warmup.id)

	var once []experience.ID
	h.coord.CallOrRegisterOnReady(func(def *experience.Definition) { once = append(once, def.ID) })

	h.ctrl.AdvancePhase()
	require.Equal(t, Combat, h.ctrl.Current())
	combat := h.loader.last()
	require.Equal(t, experience.MatchCombat, combat.id)

	warmup.done(&experience.Definition{DefaultTemplate: "PD_Hero"}, nil)
	assert.Equal(t, experience.LoadingResources, h.coord.State())
	assert.Equal(t, experience.MatchCombat, h.coord.CurrentID())
	assert.Empty(t, h.readyFor)

	combat.done(&experience.Definition{DefaultTemplate: "PD_Hero"}, nil)
	require.True(t, h.coord.IsReady())
	assert.Equal(t, experience.MatchCombat, h.coord.Definition().ID)
	assert.Equal(t, []experience.ID{experience.MatchCombat}, h.readyFor)
	assert.Empty(t, once, "the warmup listener is dropped by the advance")

	// Delivering the warmup completion again changes nothing
	warmup.done(&experience.Definition{}, nil)
	assert.Equal(t, experience.MatchCombat, h.coord.CurrentID())
	assert.Equal(t, []experience.ID{experience.MatchCombat}, h.readyFor)
}

func TestAdvanceWhileActivatingDiscardsStaleModules(t *testing.T) {
	h := newCoordHarness()

	require.NoError(t, h.ctrl.SetPhase(Warmup))
	h.loader.last().done(&experience.Definition{Features: []string{"GF_Match_Core", "GF_Warmup_Rules"}}, nil)
	require.Equal(t, experience.LoadingModules, h.coord.State())

	h.ctrl.AdvancePhase()
	h.loader.last().done(&experience.Definition{Features: []string{"GF_Match_Core", "GF_Combat_Rules"}}, nil)

	// Warmup activations finish late
	h.features.complete(t, "GF_Match_Core")
	h.features.complete(t, "GF_Warmup_Rules")
	assert.False(t, h.coord.IsReady())
	assert.Empty(t, h.coord.ActivatedModules())
	assert.Contains(t, h.features.ops, "deactivate:GF_Warmup_Rules")
	assert.NotContains(t, h.features.ops, "deactivate:GF_Match_Core")

	h.features.complete(t, "GF_Match_Core")
	h.features.complete(t, "GF_Combat_Rules")

	require.True(t, h.coord.IsReady())
	assert.Equal(t, experience.MatchCombat, h.coord.CurrentID())
	assert.ElementsMatch(t, []string{"GF_Match_Core", "GF_Combat_Rules"}, h.coord.ActivatedModules())
	assert.Equal(t, []experience.ID{experience.MatchCombat}, h.readyFor)
}
