// Package spawn holds back entity creation until the session's experience
// is ready.
package spawn

import (
	"slices"

	"github.com/charmbracelet/log"
	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/loop"
	"github.com/tomz197/skirmish/internal/metrics"
)

// Readiness is the experience state the gate waits on.
type Readiness interface {
	IsReady() bool
	Definition() *experience.Definition
	OnLoaded(fn experience.ReadyFunc) (cancel func())
}

// Members resolves queued member IDs. A member that left no longer resolves.
type Members interface {
	Connected(memberID string) bool
}

// Creator is the normal entity creation path.
type Creator interface {
	CreateControlledEntity(memberID, template string) error
}

// Gate queues creation requests made before the experience is ready and
// flushes them, in order, on the tick after it becomes ready.
type Gate struct {
	ready   Readiness
	sched   loop.Scheduler
	members Members
	creator Creator
	log     *log.Logger

	queue     []string // Member IDs in request order
	flushing  bool
	scheduled bool
	cancel    func()
}

// New creates a gate and subscribes it to every experience ready event.
func New(ready Readiness, sched loop.Scheduler, members Members, creator Creator, l *log.Logger) *Gate {
	if l == nil {
		l = logging.Discard()
	}
	g := &Gate{
		ready:   ready,
		sched:   sched,
		members: members,
		creator: creator,
		log:     l,
	}
	g.cancel = ready.OnLoaded(g.onExperienceReady)
	return g
}

// TryCreateOrQueue creates the member's entity now if the experience is
// ready, otherwise queues the request. Returns whether it created now.
func (g *Gate) TryCreateOrQueue(memberID string) bool {
	if g.ready.IsReady() {
		g.create(memberID, g.ready.Definition())
		return true
	}

	if slices.Contains(g.queue, memberID) {
		return false
	}
	g.queue = append(g.queue, memberID)
	metrics.SpawnResults.WithLabelValues("queued").Inc()
	metrics.SpawnQueueDepth.Set(float64(len(g.queue)))
	g.log.Debug("Queued entity creation until experience is ready", "member", memberID, "depth", len(g.queue))
	return false
}

// Pending returns queued member IDs in flush order.
func (g *Gate) Pending() []string {
	return slices.Clone(g.queue)
}

// Close stops listening for ready events and drops the queue.
func (g *Gate) Close() {
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.queue = nil
	metrics.SpawnQueueDepth.Set(0)
}

func (g *Gate) onExperienceReady(*experience.Definition) {
	if g.flushing || g.scheduled {
		return
	}
	g.scheduled = true
	// Let same-tick work settle before creating entities
	g.sched.NextTick(g.flush)
}

func (g *Gate) flush() {
	g.scheduled = false
	if !g.ready.IsReady() {
		g.log.Debug("Experience changed before flush, keeping queue", "depth", len(g.queue))
		return
	}

	g.flushing = true
	defer func() { g.flushing = false }()

	def := g.ready.Definition()
	queue := g.queue
	g.log.Info("Flushing queued entity creation", "depth", len(queue), "experience", def.ID)

	for _, memberID := range queue {
		if !g.members.Connected(memberID) {
			metrics.SpawnResults.WithLabelValues("dropped").Inc()
			g.log.Debug("Dropping request of disconnected member", "member", memberID)
			continue
		}
		g.create(memberID, def)
	}

	g.queue = nil
	metrics.SpawnQueueDepth.Set(0)
}

func (g *Gate) create(memberID string, def *experience.Definition) {
	if err := g.creator.CreateControlledEntity(memberID, def.DefaultTemplate); err != nil {
		metrics.SpawnResults.WithLabelValues("failed").Inc()
		g.log.Warn("Entity creation failed", "member", memberID, "err", err)
		return
	}
	metrics.SpawnResults.WithLabelValues("created").Inc()
}
