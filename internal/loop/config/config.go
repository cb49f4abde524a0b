// Package config centralizes the session's tunable parameters.
package config

import "time"

// Session tick rate
const (
	SessionTickRate = 30
	SessionTickTime = time.Second / SessionTickRate
)

// Phase durations. Zero means the phase never expires on its own.
const (
	WaitingForPlayersDuration = 0
	WarmupDuration            = 30 * time.Second
	CombatDuration            = 600 * time.Second
	ResultDuration            = 30 * time.Second
)

// Announcements
const (
	AnnouncementTick        = time.Second
	PhaseBannerSeconds      = 3
	WarmupBannerText        = "Warmup started"
	CombatBannerText        = "Match started"
	ResultCountdownPrefix   = "Returning to lobby in"
	MinAnnouncementDuration = 1 // Seconds
)

// Failed load retry watchdog
const (
	LoadRetryInterval = 2 * time.Second
	LoadMaxRetries    = 3
)

// World dimensions used to lay out start spots.
const (
	WorldWidth  = 400 // Total world width
	WorldHeight = 300 // Total world height
)

// Start spots reserved for controlled entities
const (
	StartSpotCount = 16
)

// Members
const (
	MaxUsernameLength = 16 // Maximum display length for member names
	MemberEventBuffer = 16
)

// Inactivity
const (
	InactivityWarnUser       = 90  // Seconds
	InactivityDisconnectUser = 120 // Seconds
)

// Client rendering
const (
	ClientTargetFPS       = 10
	ClientTargetFrameTime = time.Second / ClientTargetFPS
)

// Shutdown
const (
	ShutdownDisplaySeconds = 5.0 // Seconds to show shutdown message before auto-disconnect
)
