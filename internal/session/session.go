// Package session owns every per-session component and wires them to one
// cooperative loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/tomz197/skirmish/internal/announce"
	"github.com/tomz197/skirmish/internal/catalog"
	"github.com/tomz197/skirmish/internal/entity"
	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/feature"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/loop"
	"github.com/tomz197/skirmish/internal/loop/config"
	"github.com/tomz197/skirmish/internal/metrics"
	"github.com/tomz197/skirmish/internal/phase"
	"github.com/tomz197/skirmish/internal/replication"
	"github.com/tomz197/skirmish/internal/spawn"
)

var (
	ErrUnknownMember  = errors.New("unknown member")
	ErrSessionFull    = errors.New("session is full")
	ErrNotReady       = errors.New("experience not ready")
	ErrAlreadyStarted = errors.New("session already started")
)

// Catalog reports which experiences exist.
type Catalog interface {
	Has(id experience.ID) bool
}

// Config holds the per-session settings.
type Config struct {
	SessionID  string // Generated when empty
	MapName    string
	Durations  phase.Durations
	RetryEvery time.Duration
	MaxRetries int
	StartSpots int
	TickRate   int
	Clock      loop.Clock // Real time when nil
	Rand       *rand.Rand // Spot picking; seeded randomly when nil
}

// DefaultConfig returns the standard session settings.
func DefaultConfig() Config {
	return Config{
		MapName:    "MatchLevel",
		Durations:  phase.DefaultDurations(),
		RetryEvery: config.LoadRetryInterval,
		MaxRetries: config.LoadMaxRetries,
		StartSpots: config.StartSpotCount,
		TickRate:   config.SessionTickRate,
	}
}

// Deps are the collaborators a session is built from. Loader and Features
// default to catalog- and registry-backed implementations over Store.
type Deps struct {
	Store     *catalog.Store
	Catalog   Catalog
	Loader    experience.DefinitionLoader
	Features  experience.FeatureClient
	Transport replication.Transport // Extra transport next to the in-process hub
	Logger    *log.Logger
}

// Session is the ownership struct for one match.
type Session struct {
	id  string
	cfg Config
	log *log.Logger

	loop      *loop.Loop
	hub       *replication.Hub
	authority *replication.Authority
	coord     *experience.Manager
	gate      *spawn.Gate
	announcer *announce.Broadcaster
	phases    *phase.Controller
	spots     *entity.Spots
	catalog   Catalog
	closers   []func()

	status atomic.Pointer[Status]

	mu      sync.RWMutex
	members map[string]*member
	order   []string // Member IDs in join order

	started  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// New builds a session. Nothing runs until Run and Start are called.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Store == nil && (deps.Loader == nil || deps.Features == nil) {
		return nil, errors.New("session needs a catalog store or both a loader and a feature client")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.StartSpots <= 0 {
		cfg.StartSpots = config.StartSpotCount
	}
	l := deps.Logger
	if l == nil {
		l = logging.Discard()
	}
	l = l.With("session", cfg.SessionID)

	s := &Session{
		id:      cfg.SessionID,
		cfg:     cfg,
		log:     l,
		members: make(map[string]*member),
		done:    make(chan struct{}),
	}

	loopOpts := []loop.Option{loop.WithTickRate(cfg.TickRate), loop.WithAfterTick(s.refreshStatus)}
	if cfg.Clock != nil {
		loopOpts = append(loopOpts, loop.WithClock(cfg.Clock))
	}
	s.loop = loop.New(loopOpts...)

	s.hub = replication.NewHub()
	var transport replication.Transport = s.hub
	if deps.Transport != nil {
		transport = replication.Fanout{s.hub, deps.Transport}
	}
	s.authority = replication.NewAuthority(s.id, transport, "session", logging.WithComponent(l, "replication"))

	loader := deps.Loader
	if loader == nil {
		cl := catalog.NewLoader(deps.Store, s.loop, logging.WithComponent(l, "catalog"))
		s.closers = append(s.closers, cl.Close)
		loader = cl
	}
	features := deps.Features
	if features == nil {
		fm := feature.NewManager(s.loop, deps.Store, logging.WithComponent(l, "feature"))
		s.closers = append(s.closers, fm.Close)
		features = fm
	}
	s.catalog = deps.Catalog
	if s.catalog == nil && deps.Store != nil {
		s.catalog = deps.Store
	}

	s.coord = experience.NewManager(loader, features,
		experience.WithLogger(logging.WithComponent(l, "experience")),
		experience.WithReplicator(s.authority),
		experience.WithClock(s.loop.Now),
	)
	s.gate = spawn.New(s.coord, s.loop, s, s, logging.WithComponent(l, "spawn"))
	s.announcer = announce.New(s.loop, s.authority, logging.WithComponent(l, "announce"))
	s.phases = phase.NewController(s.coord, s.authority, s.announcer, s.loop,
		phase.WithTable(phase.NewTable(cfg.Durations)),
		phase.WithRetry(cfg.RetryEvery, cfg.MaxRetries),
		phase.WithExit(s.returnToLobby),
		phase.WithLogger(logging.WithComponent(l, "phase")),
	)
	s.spots = entity.NewSpots(cfg.StartSpots, cfg.Rand)

	s.refreshStatus()
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Start resolves the initial experience from the option string and map name
// and requests it. The session flow starts once an experience is ready.
func (s *Session) Start(options string) error {
	id, err := InitialExperience(options, s.cfg.MapName)
	if err != nil {
		return err
	}
	if s.catalog != nil && !s.catalog.Has(id) {
		return fmt.Errorf("%w: %s", experience.ErrConfigNotFound, id)
	}

	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.loop.Post(func() {
		s.log.Info("Starting session", "experience", id, "map", s.cfg.MapName)
		// The flow starts on the first ready experience, even when the
		// initial request is superseded before it loads.
		var cancel func()
		cancel = s.coord.OnLoaded(func(*experience.Definition) {
			cancel()
			s.phases.StartSessionFlow(s, s.gate)
		})
		if err := s.coord.RequestConfiguration(id); err != nil {
			s.log.Error("Initial experience request failed", "experience", id, "err", err)
		}
	})
	return nil
}

// Run drives the loop until ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	s.log.Debug("Session loop running", "tick", s.cfg.TickRate)
	s.loop.Run(ctx)
}

// Loop exposes the scheduler for components that post onto the session.
func (s *Session) Loop() *loop.Loop { return s.loop }

// Done is closed once the match has finished and members were sent back to
// the lobby.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns the latest replicated state.
func (s *Session) Snapshot() replication.Snapshot {
	return s.authority.Snapshot()
}

// Subscribe streams replicated state to an in-process viewer.
func (s *Session) Subscribe() (<-chan replication.Snapshot, func()) {
	return s.hub.Subscribe()
}

// AdvancePhase moves to the next phase on the next loop pass.
func (s *Session) AdvancePhase() {
	s.loop.Post(s.phases.AdvancePhase)
}

// Republish re-sends the current snapshot, e.g. after a transport reconnects.
func (s *Session) Republish() {
	s.loop.Post(s.authority.Republish)
}

// Shutdown notifies all connected members and waits for them to leave, up
// to the given timeout. The caller should cancel the loop context after
// Shutdown returns.
func (s *Session) Shutdown(timeout time.Duration) {
	s.broadcast(MemberEvent{Type: EventServerShutdown})

	deadline := time.After(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return
		case <-ticker.C:
			s.mu.RLock()
			remaining := len(s.members)
			s.mu.RUnlock()
			if remaining == 0 {
				return
			}
		}
	}
}

// Close tears every component down. Call it after Run has returned.
func (s *Session) Close() {
	s.phases.Stop()
	s.announcer.Stop()
	s.gate.Close()
	s.coord.Close()
	for _, fn := range s.closers {
		fn()
	}
	s.hub.Close()

	s.mu.Lock()
	for id, m := range s.members {
		close(m.events)
		delete(s.members, id)
	}
	s.order = nil
	s.mu.Unlock()
	metrics.ConnectedMembers.Set(0)
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) returnToLobby() {
	s.log.Info("Returning members to lobby")
	if err := s.coord.RequestConfiguration(experience.Lobby); err != nil {
		s.log.Warn("Failed to request lobby", "err", err)
	}
	s.broadcast(MemberEvent{Type: EventReturnToLobby})
	s.doneOnce.Do(func() { close(s.done) })
}
