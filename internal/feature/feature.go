// Package feature runs feature modules in-process. Every module has its own
// serial operation queue, so teardown issued before a new activation of the
// same module always runs first even though neither is awaited.
package feature

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tomz197/skirmish/internal/logging"
)

// ErrUnknownModule means no module with that name is registered.
var ErrUnknownModule = errors.New("unknown feature module")

// Spec describes how a module behaves when activated.
type Spec struct {
	Name          string
	ActivateDelay time.Duration
	Fail          bool   // Activation always fails
	FailReason    string // Reported when Fail is set
}

// SpecSource looks up module specs. It may change between calls.
type SpecSource interface {
	ModuleSpec(name string) (Spec, bool)
}

// Poster marshals a completion onto the session loop.
type Poster interface {
	Post(fn func())
}

// State is a module's lifecycle state.
type State int

const (
	Unloaded State = iota
	Loaded
	Active
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loaded:
		return "loaded"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type opKind int

const (
	opActivate opKind = iota
	opDeactivate
	opUnload
)

type op struct {
	kind opKind
	done func(error)
}

type module struct {
	name    string
	state   State
	queue   []op
	running bool
}

// Manager implements experience.FeatureClient.
type Manager struct {
	poster Poster
	specs  SpecSource
	log    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	modules map[string]*module
}

// NewManager creates a module manager. Completions are posted through poster.
func NewManager(poster Poster, specs SpecSource, l *log.Logger) *Manager {
	if l == nil {
		l = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		poster:  poster,
		specs:   specs,
		log:     l,
		ctx:     ctx,
		cancel:  cancel,
		modules: make(map[string]*module),
	}
}

// LoadAndActivate loads and activates name, then posts done with the result.
func (m *Manager) LoadAndActivate(name string, done func(error)) {
	m.enqueue(name, op{kind: opActivate, done: done})
}

// Deactivate deactivates name without waiting.
func (m *Manager) Deactivate(name string) {
	m.enqueue(name, op{kind: opDeactivate})
}

// Unload unloads name without waiting.
func (m *Manager) Unload(name string) {
	m.enqueue(name, op{kind: opUnload})
}

// States returns every known module's state.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.modules))
	for name, mod := range m.modules {
		out[name] = mod.state
	}
	return out
}

// State returns one module's state.
func (m *Manager) State(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mod, ok := m.modules[name]; ok {
		return mod.state
	}
	return Unloaded
}

// Close aborts pending activations and waits for the queues to drain.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// Active returns the names of active modules.
func (m *Manager) Active() []string {
	var names []string
	for name, s := range m.States() {
		if s == Active {
			names = append(names, name)
		}
	}
	return names
}

func (m *Manager) enqueue(name string, o op) {
	m.mu.Lock()
	mod, ok := m.modules[name]
	if !ok {
		mod = &module{name: name}
		m.modules[name] = mod
	}
	mod.queue = append(mod.queue, o)
	if mod.running {
		m.mu.Unlock()
		return
	}
	mod.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.drain(mod)
}

func (m *Manager) drain(mod *module) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		if len(mod.queue) == 0 {
			mod.running = false
			m.mu.Unlock()
			return
		}
		o := mod.queue[0]
		mod.queue = mod.queue[1:]
		m.mu.Unlock()

		m.run(mod, o)
	}
}

func (m *Manager) run(mod *module, o op) {
	switch o.kind {
	case opActivate:
		err := m.activate(mod)
		if o.done != nil {
			m.poster.Post(func() { o.done(err) })
		}
	case opDeactivate:
		m.transition(mod, Active, Loaded)
	case opUnload:
		if m.getState(mod) == Active {
			m.log.Warn("Unloading active module", "module", mod.name)
		}
		m.setState(mod, Unloaded)
	}
}

func (m *Manager) activate(mod *module) error {
	if m.getState(mod) == Active {
		return nil
	}

	spec, ok := m.specs.ModuleSpec(mod.name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, mod.name)
	}

	if spec.ActivateDelay > 0 {
		t := time.NewTimer(spec.ActivateDelay)
		select {
		case <-t.C:
		case <-m.ctx.Done():
			t.Stop()
			return fmt.Errorf("activate %s: %w", mod.name, m.ctx.Err())
		}
	}
	if err := m.ctx.Err(); err != nil {
		return fmt.Errorf("activate %s: %w", mod.name, err)
	}

	m.setState(mod, Loaded)
	if spec.Fail {
		reason := spec.FailReason
		if reason == "" {
			reason = "activation refused"
		}
		return fmt.Errorf("activate %s: %s", mod.name, reason)
	}
	m.setState(mod, Active)
	m.log.Debug("Feature module activated", "module", mod.name)
	return nil
}

func (m *Manager) transition(mod *module, from, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mod.state == from {
		mod.state = to
	}
}

func (m *Manager) getState(mod *module) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mod.state
}

func (m *Manager) setState(mod *module, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod.state = s
}

// StaticSpecs is a fixed SpecSource.
type StaticSpecs map[string]Spec

// ModuleSpec implements SpecSource.
func (s StaticSpecs) ModuleSpec(name string) (Spec, bool) {
	spec, ok := s[name]
	return spec, ok
}

// Names returns the registered module names.
func (s StaticSpecs) Names() []string {
	return slices.Sorted(maps.Keys(s))
}
