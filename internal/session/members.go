package session

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tomz197/skirmish/internal/entity"
	"github.com/tomz197/skirmish/internal/loop/config"
	"github.com/tomz197/skirmish/internal/metrics"
	"github.com/tomz197/skirmish/internal/phase"
	"github.com/tomz197/skirmish/internal/replication"
	"github.com/tomz197/skirmish/internal/spawn"
)

// Host is what a member front end needs from a session.
type Host interface {
	Join(name string) (*MemberHandle, error)
	Leave(memberID string)
	SetReady(memberID string, ready bool)
	SelectTemplate(memberID, template string)
	RequestSpawn(memberID string)
	Member(memberID string) (MemberInfo, bool)
	Subscribe() (<-chan replication.Snapshot, func())
	Snapshot() replication.Snapshot
	Status() Status
}

// Compile-time checks.
var (
	_ Host          = (*Session)(nil)
	_ spawn.Members = (*Session)(nil)
	_ spawn.Creator = (*Session)(nil)
	_ phase.Roster  = (*Session)(nil)
)

// MemberHandle represents a member's connection to the session.
type MemberHandle struct {
	ID     string
	Name   string
	Events <-chan MemberEvent // Closed when the member leaves
}

// MemberEvent is sent from the session to one member.
type MemberEvent struct {
	Type     MemberEventType
	Template string // For spawn events
	Spot     int    // For spawn events
	Reason   string // For spawn failures
}

// MemberEventType identifies the type of member event.
type MemberEventType int

const (
	EventSpawned MemberEventType = iota
	EventSpawnFailed
	EventReturnToLobby
	EventServerShutdown
)

func (t MemberEventType) String() string {
	switch t {
	case EventSpawned:
		return "spawned"
	case EventSpawnFailed:
		return "spawn_failed"
	case EventReturnToLobby:
		return "return_to_lobby"
	case EventServerShutdown:
		return "server_shutdown"
	default:
		return fmt.Sprintf("MemberEventType(%d)", int(t))
	}
}

// MemberInfo is a copy of a member's state.
type MemberInfo struct {
	ID       string
	Name     string
	Ready    bool
	Template string // Selected template, empty for the experience default
	Entity   *entity.Entity
	JoinedAt time.Time
}

type member struct {
	id       string
	name     string
	ready    bool
	template string
	entity   *entity.Entity
	joinedAt time.Time
	events   chan MemberEvent
}

func (m *member) info() MemberInfo {
	info := MemberInfo{
		ID:       m.id,
		Name:     m.name,
		Ready:    m.ready,
		Template: m.template,
		JoinedAt: m.joinedAt,
	}
	if m.entity != nil {
		e := *m.entity
		info.Entity = &e
	}
	return info
}

// Join registers a member and queues its controlled entity. Safe to call
// from any goroutine.
func (s *Session) Join(name string) (*MemberHandle, error) {
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > config.MaxUsernameLength {
		name = string(r[:config.MaxUsernameLength])
	}
	if name == "" {
		name = "anonymous"
	}

	m := &member{
		id:       uuid.NewString(),
		name:     name,
		joinedAt: time.Now(),
		events:   make(chan MemberEvent, config.MemberEventBuffer),
	}

	s.mu.Lock()
	if len(s.members) >= s.cfg.StartSpots {
		s.mu.Unlock()
		return nil, ErrSessionFull
	}
	s.members[m.id] = m
	s.order = append(s.order, m.id)
	count := len(s.members)
	s.mu.Unlock()
	metrics.ConnectedMembers.Set(float64(count))

	s.log.Info("Member joined", "member", m.id, "name", m.name, "members", count)

	s.loop.Post(func() {
		// Members joining before the session flow starts are picked up by it
		if s.phases.Current() != phase.WaitingForPlayers {
			s.gate.TryCreateOrQueue(m.id)
		}
	})

	return &MemberHandle{ID: m.id, Name: m.name, Events: m.events}, nil
}

// Leave removes a member and frees its start spot.
func (s *Session) Leave(memberID string) {
	s.mu.Lock()
	m, ok := s.members[memberID]
	if ok {
		close(m.events)
		delete(s.members, memberID)
		s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == memberID })
	}
	count := len(s.members)
	s.mu.Unlock()
	if !ok {
		return
	}
	metrics.ConnectedMembers.Set(float64(count))
	s.log.Info("Member left", "member", memberID, "members", count)

	s.loop.Post(func() {
		s.spots.Release(memberID)
		// A member leaving may leave everyone else ready
		s.checkAllReady()
	})
}

// SetReady marks a member ready or not. When every member is ready during
// the warmup, the match starts early.
func (s *Session) SetReady(memberID string, ready bool) {
	s.loop.Post(func() {
		s.mu.Lock()
		m, ok := s.members[memberID]
		if ok {
			m.ready = ready
		}
		s.mu.Unlock()
		if !ok {
			return
		}
		s.log.Debug("Member ready", "member", memberID, "ready", ready)
		if ready {
			s.checkAllReady()
		}
	})
}

// SelectTemplate sets the template used for the member's next entity. An
// empty template falls back to the experience default.
func (s *Session) SelectTemplate(memberID, template string) {
	s.loop.Post(func() {
		s.mu.Lock()
		if m, ok := s.members[memberID]; ok {
			m.template = strings.TrimSpace(template)
		}
		s.mu.Unlock()
	})
}

// RequestSpawn creates the member's entity now, or once the experience is
// ready.
func (s *Session) RequestSpawn(memberID string) {
	s.loop.Post(func() {
		if !s.Connected(memberID) {
			return
		}
		s.gate.TryCreateOrQueue(memberID)
	})
}

// Member returns a copy of a member's state.
func (s *Session) Member(memberID string) (MemberInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberID]
	if !ok {
		return MemberInfo{}, false
	}
	return m.info(), true
}

// Members returns every member in join order.
func (s *Session) Members() []MemberInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MemberInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.members[id].info())
	}
	return out
}

// Connected implements spawn.Members.
func (s *Session) Connected(memberID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[memberID]
	return ok
}

// MembersWithoutEntity implements phase.Roster.
func (s *Session) MembersWithoutEntity() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, id := range s.order {
		if s.members[id].entity == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// CreateControlledEntity implements spawn.Creator. The member's selected
// template wins over the experience default. Loop only.
func (s *Session) CreateControlledEntity(memberID, template string) error {
	if !s.coord.IsReady() {
		return ErrNotReady
	}

	s.mu.Lock()
	m, ok := s.members[memberID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMember, memberID)
	}
	if m.template != "" {
		template = m.template
	}

	spot, err := s.spots.Reserve(memberID)
	if err != nil {
		notify(m, MemberEvent{Type: EventSpawnFailed, Reason: err.Error()})
		s.mu.Unlock()
		return err
	}
	m.entity = entity.New(memberID, template, spot, s.loop.Now())
	notify(m, MemberEvent{Type: EventSpawned, Template: template, Spot: spot.Index})
	s.mu.Unlock()

	s.log.Debug("Created controlled entity", "member", memberID, "template", template, "spot", spot.Index)
	return nil
}

func (s *Session) checkAllReady() {
	current := s.phases.Current()
	if current != phase.Warmup && current != phase.WaitingForPlayers {
		return
	}

	s.mu.Lock()
	if len(s.members) == 0 {
		s.mu.Unlock()
		return
	}
	for _, m := range s.members {
		if !m.ready {
			s.mu.Unlock()
			return
		}
	}
	for _, m := range s.members {
		m.ready = false
	}
	s.mu.Unlock()

	s.log.Info("All members ready, advancing", "phase", current)
	s.phases.AdvancePhase()
}

// notify sends without blocking. The caller holds s.mu so the channel
// cannot be closed underneath it.
func notify(m *member, ev MemberEvent) {
	select {
	case m.events <- ev:
	default:
	}
}

func (s *Session) broadcast(ev MemberEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		notify(m, ev)
	}
}
