// Package watch runs a non-authoritative follower of a session: it mirrors
// the replicated state and loads the same experience locally.
package watch

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/tomz197/skirmish/internal/catalog"
	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/feature"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/loop"
	"github.com/tomz197/skirmish/internal/replication"
)

// Deps are the collaborators of a follower. Loader and Features default to
// catalog- and registry-backed implementations over Store.
type Deps struct {
	Store    *catalog.Store
	Loader   experience.DefinitionLoader
	Features experience.FeatureClient
	Logger   *log.Logger
}

// Status is a copy of the follower state, safe to read from any goroutine.
type Status struct {
	Snapshot    replication.Snapshot
	HasSnapshot bool
	Experience  experience.ID // Locally loaded experience
	LoadState   experience.LoadState
	Failure     string
	Modules     []string
	Applied     uint64 // Experience switches applied locally
}

// Follower keeps a mirror and a follower experience manager in step.
type Follower struct {
	log     *log.Logger
	loop    *loop.Loop
	mirror  *replication.Mirror
	coord   *experience.Manager
	closers []func()
	cancel  func()

	applied   uint64               // Loop only
	following replication.Snapshot // Loop only; session and experience last applied
	status    atomic.Pointer[Status]
}

// New builds a follower. Nothing is loaded until snapshots arrive and Run
// drives the loop.
func New(deps Deps, opts ...loop.Option) (*Follower, error) {
	if deps.Store == nil && (deps.Loader == nil || deps.Features == nil) {
		return nil, errors.New("follower needs a catalog store or both a loader and a feature client")
	}
	l := deps.Logger
	if l == nil {
		l = logging.Discard()
	}

	f := &Follower{log: l, mirror: replication.NewMirror()}
	f.loop = loop.New(append(opts, loop.WithAfterTick(f.refreshStatus))...)

	loader := deps.Loader
	if loader == nil {
		cl := catalog.NewLoader(deps.Store, f.loop, logging.WithComponent(l, "catalog"))
		f.closers = append(f.closers, cl.Close)
		loader = cl
	}
	features := deps.Features
	if features == nil {
		fm := feature.NewManager(f.loop, deps.Store, logging.WithComponent(l, "feature"))
		f.closers = append(f.closers, fm.Close)
		features = fm
	}

	f.coord = experience.NewManager(loader, features,
		experience.AsFollower(),
		experience.WithLogger(logging.WithComponent(l, "experience")),
		experience.WithClock(f.loop.Now),
	)
	f.cancel = f.mirror.OnChange(f.onChange)
	f.refreshStatus()
	return f, nil
}

// Mirror is the read-only view transports apply snapshots to.
func (f *Follower) Mirror() *replication.Mirror { return f.mirror }

// Loop exposes the follower scheduler.
func (f *Follower) Loop() *loop.Loop { return f.loop }

// Run drives the loop until ctx is cancelled.
func (f *Follower) Run(ctx context.Context) {
	f.loop.Run(ctx)
}

// Status returns the state as of the last tick.
func (f *Follower) Status() Status {
	return *f.status.Load()
}

// Close stops following and tears the local experience down.
func (f *Follower) Close() {
	f.cancel()
	f.coord.Close()
	for _, fn := range f.closers {
		fn()
	}
}

// onChange runs on the transport goroutine.
func (f *Follower) onChange(prev, next replication.Snapshot) {
	if next.ExperienceID == "" || (prev.ExperienceID == next.ExperienceID && prev.SessionID == next.SessionID) {
		return
	}
	f.loop.Post(f.sync)
}

// sync applies whatever the mirror holds when the loop gets to it, so a
// notification that arrives late never rolls the follower back.
func (f *Follower) sync() {
	snap, ok := f.mirror.Snapshot()
	if !ok || snap.ExperienceID == "" {
		return
	}
	if snap.SessionID == f.following.SessionID && snap.ExperienceID == f.following.ExperienceID {
		return
	}
	f.following = snap

	raw := snap.ExperienceID
	id, err := experience.ParseID(raw)
	if err != nil {
		f.log.Warn("Ignoring malformed experience id", "id", raw, "err", err)
		return
	}
	if err := f.coord.ApplyReplicated(id); err != nil {
		f.log.Warn("Failed to apply replicated experience", "id", id, "err", err)
		return
	}
	f.applied++
	f.log.Info("Following experience", "id", id)
}

func (f *Follower) refreshStatus() {
	snap, ok := f.mirror.Snapshot()
	st := &Status{
		Snapshot:    snap,
		HasSnapshot: ok,
		Experience:  f.coord.CurrentID(),
		LoadState:   f.coord.State(),
		Modules:     f.coord.ActivatedModules(),
		Applied:     f.applied,
	}
	if err := f.coord.Failure(); err != nil {
		st.Failure = err.Error()
	}
	f.status.Store(st)
}
