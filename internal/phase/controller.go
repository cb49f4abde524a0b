package phase

import (
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/loop"
	"github.com/tomz197/skirmish/internal/loop/config"
	"github.com/tomz197/skirmish/internal/metrics"
)

// Coordinator is the experience manager as seen by the controller.
type Coordinator interface {
	RequestConfiguration(id experience.ID) error
	HasFailed() bool
}

// Publisher replicates the current phase.
type Publisher interface {
	SetPhase(phase string)
}

// Announcer is the replicated timer and banner.
type Announcer interface {
	StartMatchTimer(total int)
	StopMatchTimer()
	StartText(text string, seconds int)
	StartCountdown(prefix string, from int)
	StopAnnouncement()
}

// Spawner creates or queues a member's controlled entity.
type Spawner interface {
	TryCreateOrQueue(memberID string) bool
}

// Roster lists members that do not control an entity yet.
type Roster interface {
	MembersWithoutEntity() []string
}

// Controller owns the current phase and its expiry timer. All methods must
// be called from the session loop.
type Controller struct {
	coord     Coordinator
	pub       Publisher
	announcer Announcer
	sched     loop.Scheduler
	log       *log.Logger

	table         Table
	current       Phase
	expiry        *loop.Timer
	retry         *loop.Timer
	retries       int
	maxRetries    int
	retryInterval time.Duration
	onExit        func()
	exited        bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithTable replaces the default phase table.
func WithTable(t Table) Option {
	return func(c *Controller) { c.table = t }
}

// WithExit sets what happens when Result expires.
func WithExit(fn func()) Option {
	return func(c *Controller) { c.onExit = fn }
}

// WithRetry sets how often and how many times a failed experience load is
// re-requested while a phase is active. maxRetries 0 disables retries.
func WithRetry(interval time.Duration, maxRetries int) Option {
	return func(c *Controller) {
		c.retryInterval = interval
		c.maxRetries = maxRetries
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// NewController creates a controller in WaitingForPlayers.
func NewController(coord Coordinator, pub Publisher, announcer Announcer, sched loop.Scheduler, opts ...Option) *Controller {
	c := &Controller{
		coord:         coord,
		pub:           pub,
		announcer:     announcer,
		sched:         sched,
		log:           logging.Discard(),
		table:         NewTable(DefaultDurations()),
		current:       WaitingForPlayers,
		maxRetries:    config.LoadMaxRetries,
		retryInterval: config.LoadRetryInterval,
		onExit:        func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	pub.SetPhase(c.current.String())
	return c
}

// Current returns the active phase.
func (c *Controller) Current() Phase { return c.current }

// Exited reports whether Result has expired and the exit hook ran.
func (c *Controller) Exited() bool { return c.exited }

// ExpiresAt returns when the current phase expires, or the zero time.
func (c *Controller) ExpiresAt() time.Time {
	if c.expiry == nil {
		return time.Time{}
	}
	return c.expiry.Deadline()
}

// SetPhase enters p. Entering the current phase is a no-op.
func (c *Controller) SetPhase(p Phase) error {
	if p == c.current || c.exited {
		return nil
	}
	entry, ok := c.table[p]
	if !ok {
		return ErrUnknownPhase
	}

	c.log.Info("Entering phase", "from", c.current, "to", p, "experience", entry.Experience, "duration", entry.Duration)
	c.current = p
	metrics.PhaseTransitions.WithLabelValues(p.String()).Inc()

	if err := c.coord.RequestConfiguration(entry.Experience); err != nil {
		c.log.Error("Experience request for phase failed", "phase", p, "err", err)
	}

	c.expiry.Stop()
	c.expiry = nil

	c.pub.SetPhase(p.String())

	seconds := int(math.Ceil(entry.Duration.Seconds()))
	if seconds > 0 {
		c.announcer.StartMatchTimer(seconds)
	} else {
		c.announcer.StopMatchTimer()
	}

	switch {
	case entry.Banner.Countdown:
		c.announcer.StartCountdown(entry.Banner.Text, max(1, seconds))
	case entry.Banner.Text != "":
		c.announcer.StartText(entry.Banner.Text, entry.Banner.Seconds)
	default:
		c.announcer.StopAnnouncement()
	}

	if entry.Duration > 0 {
		c.expiry = c.sched.AfterFunc(entry.Duration, c.onExpired)
	}

	c.armRetry()
	return nil
}

// AdvancePhase moves to the next phase, or runs the exit hook after Result.
func (c *Controller) AdvancePhase() {
	if c.exited {
		return
	}
	next, ok := c.current.next()
	if !ok {
		c.exit()
		return
	}
	if err := c.SetPhase(next); err != nil {
		c.log.Error("Failed to advance phase", "from", c.current, "err", err)
	}
}

// StartSessionFlow creates or queues entities for members that have none and
// starts the warmup. Called once the initial experience is ready.
func (c *Controller) StartSessionFlow(roster Roster, spawner Spawner) {
	for _, id := range roster.MembersWithoutEntity() {
		spawner.TryCreateOrQueue(id)
	}
	if err := c.SetPhase(Warmup); err != nil {
		c.log.Error("Failed to start warmup", "err", err)
	}
}

// Stop cancels the phase timers and the broadcast countdown.
func (c *Controller) Stop() {
	c.expiry.Stop()
	c.expiry = nil
	c.retry.Stop()
	c.retry = nil
	c.announcer.StopAnnouncement()
	c.announcer.StopMatchTimer()
}

func (c *Controller) onExpired() {
	c.expiry = nil
	c.log.Debug("Phase expired", "phase", c.current)
	c.AdvancePhase()
}

func (c *Controller) exit() {
	c.exited = true
	c.Stop()
	c.log.Info("Match finished, leaving session")
	c.onExit()
}

func (c *Controller) armRetry() {
	c.retry.Stop()
	c.retry = nil
	c.retries = 0
	if c.maxRetries <= 0 || c.retryInterval <= 0 {
		return
	}
	c.retry = c.sched.AfterFunc(c.retryInterval, c.checkFailed)
}

func (c *Controller) checkFailed() {
	c.retry = nil
	if c.exited {
		return
	}
	if c.coord.HasFailed() {
		if c.retries >= c.maxRetries {
			c.log.Error("Giving up on experience load", "phase", c.current, "retries", c.retries)
			return
		}
		c.retries++
		id := c.table[c.current].Experience
		c.log.Warn("Retrying failed experience load", "phase", c.current, "experience", id, "attempt", c.retries)
		if err := c.coord.RequestConfiguration(id); err != nil {
			c.log.Error("Retry request failed", "err", err)
		}
	}
	c.retry = c.sched.AfterFunc(c.retryInterval, c.checkFailed)
}
