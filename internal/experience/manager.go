package experience

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/metrics"
)

// FeatureClient loads and activates feature modules. Completions must be
// delivered on the session loop.
type FeatureClient interface {
	LoadAndActivate(name string, done func(error))
	Deactivate(name string)
	Unload(name string)
}

// DefinitionLoader resolves an experience ID into its Definition. The
// completion must be delivered on the session loop.
type DefinitionLoader interface {
	Load(id ID, done func(*Definition, error))
}

// Replicator receives the authoritative experience ID whenever it changes.
type Replicator interface {
	SetExperienceID(id string)
}

// ReadyFunc is called with the definition that became ready.
type ReadyFunc func(*Definition)

// Manager drives experience loading for one session. All methods must be
// called from the session loop.
type Manager struct {
	log        *log.Logger
	loader     DefinitionLoader
	features   FeatureClient
	replicator Replicator
	authority  bool
	now        func() time.Time

	current     ID
	pending     ID
	attempt     uint64 // Bumped on every request; completions capture it
	state       LoadState
	definition  *Definition
	activated   []string // Modules activated for the current experience, in completion order
	fanIn       fanIn
	failure     error
	requestedAt time.Time

	listeners   []ReadyFunc
	subscribers []subscriber
	nextSubID   int
}

// fanIn counts module completions for one load attempt.
type fanIn struct {
	requested    int
	completed    int
	anyFailed    bool
	firstFailure error
}

type subscriber struct {
	id int
	fn ReadyFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithReplicator publishes the current experience ID on every request.
func WithReplicator(r Replicator) Option {
	return func(m *Manager) { m.replicator = r }
}

// AsFollower makes the manager non-authoritative: it only loads what
// ApplyReplicated tells it to.
func AsFollower() Option {
	return func(m *Manager) { m.authority = false }
}

// WithClock sets the time source used for load latency.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an authoritative experience manager.
func NewManager(loader DefinitionLoader, features FeatureClient, opts ...Option) *Manager {
	m := &Manager{
		log:       logging.Discard(),
		loader:    loader,
		features:  features,
		authority: true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	metrics.SetLoadState(m.state.String(), loadStateNames())
	return m
}

// RequestConfiguration switches the session to id. Requesting the experience
// that is already loading or ready is a no-op.
func (m *Manager) RequestConfiguration(id ID) error {
	if !m.authority {
		return ErrNotAuthority
	}
	return m.request(id)
}

// ApplyReplicated loads the experience the authoritative side switched to.
func (m *Manager) ApplyReplicated(id ID) error {
	if m.authority {
		return errors.New("ApplyReplicated called on the authoritative manager")
	}
	return m.request(id)
}

func (m *Manager) request(id ID) error {
	if id == m.current && m.state != Unloaded && m.state != Failed {
		m.log.Debug("Ignoring duplicate experience request", "id", id, "state", m.state)
		return nil
	}

	if !id.IsValid() {
		err := fmt.Errorf("%w: %q", ErrInvalidID, id.String())
		m.requestedAt = m.now()
		m.fail(err, metrics.OutcomeInvalidID)
		return err
	}

	if m.state != Unloaded {
		m.resetForNewExperience()
	}

	m.attempt++
	attempt := m.attempt
	m.current = id
	m.pending = id
	m.requestedAt = m.now()
	m.setState(LoadingResources)

	if m.replicator != nil {
		m.replicator.SetExperienceID(id.String())
	}

	m.log.Info("Loading experience", "id", id, "attempt", attempt)
	m.loader.Load(id, func(def *Definition, err error) {
		m.onResourcesLoaded(id, attempt, def, err)
	})
	return nil
}

// resetForNewExperience tears down whatever the previous experience left
// active. Teardown is requested but not awaited.
// Listeners registered for the superseded experience are dropped.
func (m *Manager) resetForNewExperience() {
	m.teardownActivated()
	m.fanIn = fanIn{}
	m.definition = nil
	m.failure = nil
	if n := len(m.listeners); n > 0 {
		m.log.Debug("Dropping ready listeners of superseded experience", "count", n)
		m.listeners = nil
	}
}

func (m *Manager) onResourcesLoaded(id ID, attempt uint64, def *Definition, err error) {
	if !m.isCurrent(id, attempt) || m.state != LoadingResources {
		m.log.Debug("Discarding stale resource load", "id", id, "attempt", attempt, "pending", m.pending)
		metrics.StaleCompletions.WithLabelValues("resources").Inc()
		return
	}

	if err != nil {
		m.fail(fmt.Errorf("%w: %s: %w", ErrResourceLoad, id, err), metrics.OutcomeResourceError)
		return
	}
	if def == nil {
		m.fail(fmt.Errorf("%w: %s: empty definition", ErrResourceLoad, id), metrics.OutcomeResourceError)
		return
	}

	m.definition = def.Clone()
	m.definition.ID = id

	if len(m.definition.Features) == 0 {
		m.finishLoad()
		return
	}

	m.setState(LoadingModules)
	m.fanIn = fanIn{requested: len(m.definition.Features)}

	for _, name := range m.definition.Features {
		if strings.TrimSpace(name) == "" {
			m.onModuleDone(id, attempt, name, fmt.Errorf("%w: empty module name", ErrModuleActivation))
			continue
		}
		m.features.LoadAndActivate(name, func(err error) {
			m.onModuleDone(id, attempt, name, err)
		})
	}
}

func (m *Manager) onModuleDone(id ID, attempt uint64, name string, err error) {
	if !m.isCurrent(id, attempt) || m.state != LoadingModules {
		m.log.Debug("Discarding stale module completion", "id", id, "module", name, "attempt", attempt)
		metrics.StaleCompletions.WithLabelValues("module").Inc()
		if err == nil && strings.TrimSpace(name) != "" && !m.wantsModule(name) {
			m.log.Debug("Releasing stale module activation", "module", name)
			m.features.Deactivate(name)
			m.features.Unload(name)
		}
		return
	}

	m.fanIn.completed++

	if err == nil {
		if !slices.Contains(m.activated, name) {
			m.activated = append(m.activated, name)
		}
		m.log.Debug("Feature module active", "module", name,
			"completed", m.fanIn.completed, "requested", m.fanIn.requested)
	} else if !m.fanIn.anyFailed {
		m.fanIn.anyFailed = true
		if !errors.Is(err, ErrModuleActivation) {
			err = fmt.Errorf("%w: %s: %w", ErrModuleActivation, name, err)
		}
		m.fanIn.firstFailure = err
		m.log.Warn("Feature module failed", "module", name, "err", err)
	} else {
		m.log.Warn("Additional feature module failure", "module", name, "err", err)
	}

	if m.fanIn.completed < m.fanIn.requested {
		return
	}
	if m.fanIn.anyFailed {
		m.fail(m.fanIn.firstFailure, metrics.OutcomeModuleError)
		return
	}
	m.finishLoad()
}

// wantsModule reports whether the load in progress or the ready experience
// uses the module.
func (m *Manager) wantsModule(name string) bool {
	if m.definition == nil || (m.state != LoadingModules && m.state != Ready) {
		return false
	}
	return slices.Contains(m.definition.Features, name)
}

func (m *Manager) finishLoad() {
	m.pending = ID{}
	m.setState(Ready)
	metrics.ObserveLoad(m.current.String(), metrics.OutcomeReady, m.now().Sub(m.requestedAt))
	m.log.Info("Experience ready", "id", m.current, "modules", len(m.activated))

	def := m.definition

	subs := slices.Clone(m.subscribers)
	for _, s := range subs {
		s.fn(def)
	}

	listeners := m.listeners
	m.listeners = nil
	for _, fn := range listeners {
		fn(def)
	}
}

func (m *Manager) fail(reason error, outcome string) {
	m.pending = ID{}
	m.failure = reason
	m.attempt++ // Late completions of this attempt are stale from here on
	m.setState(Failed)
	metrics.ObserveLoad(m.current.String(), outcome, m.now().Sub(m.requestedAt))
	m.log.Error("Experience load failed", "id", m.current, "err", reason)

	m.teardownActivated()
	m.fanIn = fanIn{}
}

func (m *Manager) teardownActivated() {
	for _, name := range m.activated {
		m.log.Debug("Deactivating feature module", "module", name)
		m.features.Deactivate(name)
		m.features.Unload(name)
	}
	m.activated = nil
}

// Close deactivates every module and returns the manager to Unloaded.
// Pending listeners are dropped.
func (m *Manager) Close() {
	m.teardownActivated()
	m.attempt++
	m.pending = ID{}
	m.definition = nil
	m.fanIn = fanIn{}
	m.listeners = nil
	m.subscribers = nil
	m.setState(Unloaded)
}

// CallOrRegisterOnReady calls fn immediately if the experience is ready,
// otherwise once when it next becomes ready. A request for a different
// experience before then drops fn.
func (m *Manager) CallOrRegisterOnReady(fn ReadyFunc) {
	if m.state == Ready {
		fn(m.definition)
		return
	}
	m.listeners = append(m.listeners, fn)
}

// OnLoaded calls fn every time an experience becomes ready, until the
// returned cancel func is called.
func (m *Manager) OnLoaded(fn ReadyFunc) (cancel func()) {
	m.nextSubID++
	id := m.nextSubID
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})
	return func() {
		m.subscribers = slices.DeleteFunc(m.subscribers, func(s subscriber) bool { return s.id == id })
	}
}

func (m *Manager) isCurrent(id ID, attempt uint64) bool {
	return id == m.pending && attempt == m.attempt
}

func (m *Manager) setState(s LoadState) {
	if m.state == s {
		return
	}
	m.log.Debug("Load state", "from", m.state, "to", s)
	m.state = s
	metrics.SetLoadState(s.String(), loadStateNames())
}

// IsReady reports whether the current experience is fully active.
func (m *Manager) IsReady() bool { return m.state == Ready }

// HasFailed reports whether the last load attempt failed.
func (m *Manager) HasFailed() bool { return m.state == Failed }

// State returns the current load state.
func (m *Manager) State() LoadState { return m.state }

// CurrentID returns the requested experience.
func (m *Manager) CurrentID() ID { return m.current }

// PendingID returns the experience whose load is in flight, or the zero ID.
func (m *Manager) PendingID() ID { return m.pending }

// Definition returns the ready definition, or nil when not ready.
func (m *Manager) Definition() *Definition {
	if m.state != Ready {
		return nil
	}
	return m.definition
}

// Failure returns why the last attempt failed, or nil.
func (m *Manager) Failure() error { return m.failure }

// ActivatedModules returns the modules active for the current experience.
func (m *Manager) ActivatedModules() []string { return slices.Clone(m.activated) }

// IsAuthority reports whether this manager accepts RequestConfiguration.
func (m *Manager) IsAuthority() bool { return m.authority }
