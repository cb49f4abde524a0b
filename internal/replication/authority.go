package replication

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/metrics"
)

const publishTimeout = 2 * time.Second

// Authority owns the authoritative snapshot. Setters must be called from the
// session loop; Snapshot may be read from any goroutine.
type Authority struct {
	log       *log.Logger
	transport Transport
	name      string
	state     Snapshot
	current   atomic.Pointer[Snapshot]
}

// NewAuthority creates the writer side for sessionID. name labels metrics.
func NewAuthority(sessionID string, transport Transport, name string, l *log.Logger) *Authority {
	if l == nil {
		l = logging.Discard()
	}
	a := &Authority{
		log:       l,
		transport: transport,
		name:      name,
		state:     Snapshot{SessionID: sessionID},
	}
	snap := a.state
	a.current.Store(&snap)
	return a
}

// Snapshot returns the last published state.
func (a *Authority) Snapshot() Snapshot {
	return *a.current.Load()
}

// SetExperienceID publishes the current experience.
func (a *Authority) SetExperienceID(id string) {
	if a.state.ExperienceID == id {
		return
	}
	a.state.ExperienceID = id
	a.publish()
}

// SetPhase publishes the current match phase.
func (a *Authority) SetPhase(phase string) {
	if a.state.Phase == phase {
		return
	}
	a.state.Phase = phase
	a.publish()
}

// SetRemainingSeconds publishes the match timer.
func (a *Authority) SetRemainingSeconds(n int) {
	if a.state.RemainingSeconds == n {
		return
	}
	a.state.RemainingSeconds = n
	a.publish()
}

// SetAnnouncement publishes the announcement banner.
func (a *Authority) SetAnnouncement(ann Announcement) {
	if a.state.Announcement == ann {
		return
	}
	a.state.Announcement = ann
	a.publish()
}

// Republish sends the current state again, e.g. after a transport reconnect.
func (a *Authority) Republish() {
	a.publish()
}

func (a *Authority) publish() {
	a.state.Seq++
	snap := a.state
	a.current.Store(&snap)

	if a.transport == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := a.transport.PublishState(ctx, snap); err != nil {
		metrics.StatePublishes.WithLabelValues(a.name, "error").Inc()
		a.log.Warn("Failed to publish session state", "seq", snap.Seq, "err", err)
		return
	}
	metrics.StatePublishes.WithLabelValues(a.name, "ok").Inc()
}
