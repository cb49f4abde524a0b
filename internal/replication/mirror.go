package replication

import (
	"slices"
	"sync"
)

// Mirror is the read-only view of the session state on a member. It is only
// updated by Apply, the inbound state-changed callback.
type Mirror struct {
	deliver   sync.Mutex // Held across Apply so subscribers see snapshots in order
	mu        sync.RWMutex
	state     Snapshot
	have      bool
	subs      []mirrorSub
	nextSubID int
}

type mirrorSub struct {
	id int
	fn func(prev, next Snapshot)
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{}
}

// Apply installs s if it is newer than what the mirror holds. Snapshots from
// a different session replace the state regardless of sequence. Returns
// whether s was applied. Concurrent calls deliver to subscribers one at a
// time, in the order the snapshots were installed.
func (m *Mirror) Apply(s Snapshot) bool {
	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	if m.have && s.SessionID == m.state.SessionID && s.Seq <= m.state.Seq {
		m.mu.Unlock()
		return false
	}
	prev := m.state
	m.state = s
	m.have = true
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.fn(prev, s)
	}
	return true
}

// OnChange calls fn after every applied snapshot until cancel is called.
// fn runs on the goroutine that called Apply and must not call Apply.
func (m *Mirror) OnChange(fn func(prev, next Snapshot)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	id := m.nextSubID
	m.subs = append(m.subs, mirrorSub{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subs = slices.DeleteFunc(m.subs, func(s mirrorSub) bool { return s.id == id })
	}
}

// Snapshot returns the mirrored state and whether any state was received.
func (m *Mirror) Snapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.have
}

// ExperienceID returns the mirrored experience.
func (m *Mirror) ExperienceID() string {
	s, _ := m.Snapshot()
	return s.ExperienceID
}

// Phase returns the mirrored match phase.
func (m *Mirror) Phase() string {
	s, _ := m.Snapshot()
	return s.Phase
}

// RemainingSeconds returns the mirrored match timer.
func (m *Mirror) RemainingSeconds() int {
	s, _ := m.Snapshot()
	return s.RemainingSeconds
}

// CountdownText returns the mirrored banner text.
func (m *Mirror) CountdownText() string {
	s, _ := m.Snapshot()
	return s.CountdownText()
}
