package client

import (
	"time"

	"github.com/tomz197/skirmish/internal/input"
	"github.com/tomz197/skirmish/internal/replication"
	"github.com/tomz197/skirmish/internal/session"
)

// Screen is what the member currently sees.
type Screen int

const (
	ScreenWaiting  Screen = iota // Joined, no controlled entity yet
	ScreenPlaying                // Controls an entity
	ScreenLobby                  // Match finished, returning to lobby
	ScreenShutdown               // Server is shutting down
)

// State holds per-member view state. Each client has its own instance.
type State struct {
	Input         input.Input
	Screen        Screen
	Snapshot      replication.Snapshot
	HasSnapshot   bool
	Member        session.MemberInfo
	Template      string // Selected template, empty for the experience default
	LastSpawnFail string
	Running       bool
	delta         time.Duration // Frame delta time
	shutdownTimer float64       // Countdown before auto-disconnect on shutdown
	lobbyTimer    float64       // Countdown before disconnect after the match
	isInactive    bool
	prevScreen    Screen
	wasInactive   bool
}

// NewState creates a new initialized client state.
func NewState() *State {
	return &State{
		Screen:  ScreenWaiting,
		Running: true,
	}
}
