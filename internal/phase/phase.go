// Package phase runs the match phase state machine. Each phase selects an
// experience and a duration; expiry advances to the next phase.
package phase

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/loop/config"
)

// ErrUnknownPhase means the phase has no table entry.
var ErrUnknownPhase = errors.New("unknown phase")

// Phase is a stage of the match.
type Phase int

const (
	WaitingForPlayers Phase = iota
	Warmup
	Combat
	Result
)

var phaseNames = map[Phase]string{
	WaitingForPlayers: "WaitingForPlayers",
	Warmup:            "Warmup",
	Combat:            "Combat",
	Result:            "Result",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Parse returns the phase with the given name.
func Parse(name string) (Phase, error) {
	for p, n := range phaseNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPhase, name)
}

// next returns the phase after p. Result has none; leaving it exits the session.
func (p Phase) next() (Phase, bool) {
	switch p {
	case WaitingForPlayers:
		return Warmup, true
	case Warmup:
		return Combat, true
	case Combat:
		return Result, true
	default:
		return p, false
	}
}

// Banner is the announcement shown when a phase starts.
type Banner struct {
	Text      string // Static text, or the countdown prefix
	Seconds   int    // Static text duration
	Countdown bool   // Count down over the phase duration
}

// Entry is one row of the phase table.
type Entry struct {
	Experience experience.ID
	Duration   time.Duration // Zero means no automatic expiry
	Banner     Banner
}

// Table maps every phase to its experience and duration.
type Table map[Phase]Entry

// Durations overrides the default phase lengths.
type Durations struct {
	Warmup time.Duration
	Combat time.Duration
	Result time.Duration
}

// DefaultDurations returns the standard phase lengths.
func DefaultDurations() Durations {
	return Durations{
		Warmup: config.WarmupDuration,
		Combat: config.CombatDuration,
		Result: config.ResultDuration,
	}
}

// NewTable builds the phase table.
func NewTable(d Durations) Table {
	return Table{
		WaitingForPlayers: {
			Experience: experience.MatchWarmup,
			Duration:   config.WaitingForPlayersDuration,
		},
		Warmup: {
			Experience: experience.MatchWarmup,
			Duration:   d.Warmup,
			Banner:     Banner{Text: config.WarmupBannerText, Seconds: config.PhaseBannerSeconds},
		},
		Combat: {
			Experience: experience.MatchCombat,
			Duration:   d.Combat,
			Banner:     Banner{Text: config.CombatBannerText, Seconds: config.PhaseBannerSeconds},
		},
		Result: {
			Experience: experience.MatchResult,
			Duration:   d.Result,
			Banner:     Banner{Text: config.ResultCountdownPrefix, Countdown: true},
		},
	}
}
