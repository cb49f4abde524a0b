package session

import (
	"time"

	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/phase"
)

// Status is a loop-consistent view of the session for other goroutines.
type Status struct {
	SessionID  string
	Experience experience.ID
	LoadState  experience.LoadState
	Failure    string `json:",omitempty"`
	Phase      phase.Phase
	ExpiresAt  time.Time `json:",omitzero"`
	Modules    []string
	Members    int
	Queued     int
	Ticks      uint64
	Finished   bool
}

// Status returns the state captured at the end of the last tick.
func (s *Session) Status() Status {
	return *s.status.Load()
}

// refreshStatus runs on the loop after every tick.
func (s *Session) refreshStatus() {
	st := Status{
		SessionID:  s.id,
		Experience: s.coord.CurrentID(),
		LoadState:  s.coord.State(),
		Phase:      s.phases.Current(),
		ExpiresAt:  s.phases.ExpiresAt(),
		Modules:    s.coord.ActivatedModules(),
		Queued:     len(s.gate.Pending()),
		Ticks:      s.loop.Ticks(),
		Finished:   s.phases.Exited(),
	}
	if err := s.coord.Failure(); err != nil {
		st.Failure = err.Error()
	}
	s.mu.RLock()
	st.Members = len(s.members)
	s.mu.RUnlock()
	s.status.Store(&st)
}
