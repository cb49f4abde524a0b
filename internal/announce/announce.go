// Package announce drives the replicated match timer and announcement banner.
package announce

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/loop"
	"github.com/tomz197/skirmish/internal/loop/config"
	"github.com/tomz197/skirmish/internal/replication"
)

// Publisher receives every change of the broadcast state.
type Publisher interface {
	SetRemainingSeconds(n int)
	SetAnnouncement(a replication.Announcement)
}

// Broadcaster counts the match timer and the announcement down once per
// second. It never drives phase changes; callers start and stop it alongside
// their own timers.
type Broadcaster struct {
	sched     loop.Scheduler
	pub       Publisher
	log       *log.Logger
	remaining int
	ann       replication.Announcement
	prefix    string
	ticker    *loop.Timer
}

// New creates a broadcaster.
func New(sched loop.Scheduler, pub Publisher, l *log.Logger) *Broadcaster {
	if l == nil {
		l = logging.Discard()
	}
	return &Broadcaster{sched: sched, pub: pub, log: l}
}

// StartMatchTimer sets the match timer to total seconds.
func (b *Broadcaster) StartMatchTimer(total int) {
	b.remaining = max(0, total)
	b.pub.SetRemainingSeconds(b.remaining)
	b.ensureTicking()
}

// StopMatchTimer zeroes the match timer.
func (b *Broadcaster) StopMatchTimer() {
	b.remaining = 0
	b.pub.SetRemainingSeconds(0)
	b.stopIfIdle()
}

// StartText shows static text for the given number of seconds.
func (b *Broadcaster) StartText(text string, seconds int) {
	seconds = max(config.MinAnnouncementDuration, seconds)
	b.prefix = ""
	b.ann = replication.Announcement{
		Active:           true,
		Text:             text,
		RemainingSeconds: seconds,
	}
	b.pub.SetAnnouncement(b.ann)
	b.ensureTicking()
}

// StartCountdown shows "prefix N" counting down from the given seconds.
func (b *Broadcaster) StartCountdown(prefix string, from int) {
	from = max(config.MinAnnouncementDuration, from)
	b.prefix = prefix
	b.ann = replication.Announcement{
		Active:           true,
		Countdown:        true,
		Text:             countdownText(prefix, from),
		RemainingSeconds: from,
	}
	b.pub.SetAnnouncement(b.ann)
	b.ensureTicking()
}

// StopAnnouncement clears the banner.
func (b *Broadcaster) StopAnnouncement() {
	b.prefix = ""
	b.ann = replication.Announcement{}
	b.pub.SetAnnouncement(b.ann)
	b.stopIfIdle()
}

// Stop clears the banner and the match timer.
func (b *Broadcaster) Stop() {
	b.StopAnnouncement()
	b.StopMatchTimer()
	b.ticker.Stop()
	b.ticker = nil
}

// RemainingSeconds returns the match timer.
func (b *Broadcaster) RemainingSeconds() int { return b.remaining }

// Announcement returns the current banner.
func (b *Broadcaster) Announcement() replication.Announcement { return b.ann }

// Ticking reports whether the 1-second tick is armed.
func (b *Broadcaster) Ticking() bool { return b.ticker != nil }

func (b *Broadcaster) active() bool {
	return b.remaining > 0 || b.ann.Active
}

func (b *Broadcaster) ensureTicking() {
	if b.ticker != nil || !b.active() {
		return
	}
	b.ticker = b.sched.AfterFunc(config.AnnouncementTick, b.tick)
}

func (b *Broadcaster) stopIfIdle() {
	if b.active() {
		return
	}
	b.ticker.Stop()
	b.ticker = nil
}

func (b *Broadcaster) tick() {
	b.ticker = nil

	if b.remaining > 0 {
		b.remaining--
		b.pub.SetRemainingSeconds(b.remaining)
	}

	if b.ann.Active {
		b.ann.RemainingSeconds--
		switch {
		case b.ann.RemainingSeconds <= 0:
			b.log.Debug("Announcement finished", "text", b.ann.Text)
			b.ann = replication.Announcement{}
			b.prefix = ""
		case b.ann.Countdown:
			b.ann.Text = countdownText(b.prefix, b.ann.RemainingSeconds)
		}
		b.pub.SetAnnouncement(b.ann)
	}

	b.ensureTicking()
}

func countdownText(prefix string, n int) string {
	return fmt.Sprintf("%s %d", prefix, n)
}
