// Package client runs one member's terminal view of a session.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/tomz197/skirmish/internal/draw"
	"github.com/tomz197/skirmish/internal/input"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/loop/config"
	"github.com/tomz197/skirmish/internal/replication"
	"github.com/tomz197/skirmish/internal/session"
)

// Client handles rendering and input for a single member connection.
type Client struct {
	host         session.Host
	handle       *session.MemberHandle
	state        *State
	frames       *draw.FrameWriter
	writer       io.Writer
	inputStream  *input.Stream
	snapshots    <-chan replication.Snapshot
	unsubscribe  func()
	lastInput    time.Time
	termSizeFunc draw.TermSizeFunc
	renderer     *lipgloss.Renderer
	templates    []string
	log          *log.Logger
}

// Options configures the client.
type Options struct {
	TermSizeFunc draw.TermSizeFunc
	Username     string
	Renderer     *lipgloss.Renderer // Defaults to one detecting the writer's profile
	Templates    []string           // Selectable with the digit keys
	Logger       *log.Logger
}

// New joins host as a member and creates its client.
func New(host session.Host, r *bufio.Reader, w io.Writer, opts Options) (*Client, error) {
	termSizeFunc := opts.TermSizeFunc
	if termSizeFunc == nil {
		termSizeFunc = draw.DefaultTermSizeFunc
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = lipgloss.NewRenderer(w)
	}
	l := opts.Logger
	if l == nil {
		l = logging.Discard()
	}

	handle, err := host.Join(opts.Username)
	if err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}
	snapshots, unsubscribe := host.Subscribe()

	return &Client{
		host:         host,
		handle:       handle,
		state:        NewState(),
		frames:       draw.NewFrameWriter(w),
		writer:       w,
		inputStream:  input.StartStream(r),
		snapshots:    snapshots,
		unsubscribe:  unsubscribe,
		lastInput:    time.Now(),
		termSizeFunc: termSizeFunc,
		renderer:     renderer,
		templates:    opts.Templates,
		log:          l.With("member", handle.ID, "name", handle.Name),
	}, nil
}

// MemberID returns the session member ID of this client.
func (c *Client) MemberID() string { return c.handle.ID }

// Run starts the client loop. Blocks until the member quits, the connection
// drops or the session ends.
func (c *Client) Run(ctx context.Context) error {
	defer c.unsubscribe()
	defer c.host.Leave(c.handle.ID)

	draw.HideCursor(c.writer)
	defer draw.ShowCursor(c.writer)
	draw.ClearScreen(c.writer)

	lastTime := time.Now()

	for c.state.Running {
		select {
		case <-ctx.Done():
			c.state.Running = false
			continue
		default:
		}

		frameStart := time.Now()
		c.state.delta = frameStart.Sub(lastTime)
		lastTime = frameStart

		c.processInput()
		c.processSessionEvents()
		c.processSnapshots()
		c.refreshMember()

		switch c.state.Screen {
		case ScreenShutdown:
			c.updateShutdownState()
		case ScreenLobby:
			c.updateLobbyState()
		}

		if err := c.drawFrame(); err != nil {
			return err
		}

		// Frame timing
		elapsed := time.Since(frameStart)
		if elapsed < config.ClientTargetFrameTime {
			time.Sleep(config.ClientTargetFrameTime - elapsed)
		}
	}

	draw.ClearScreen(c.writer)
	return nil
}

// processInput reads input and forwards commands to the session.
func (c *Client) processInput() {
	c.state.Input = input.ReadInput(c.inputStream)
	in := c.state.Input

	if c.inputStream.Closed() {
		c.state.Running = false
		return
	}

	if len(in.Pressed) > 0 {
		c.lastInput = time.Now()
		c.state.isInactive = false
	} else if time.Since(c.lastInput).Seconds() > config.InactivityDisconnectUser {
		c.log.Info("Disconnecting inactive member")
		c.state.Running = false
	} else if time.Since(c.lastInput).Seconds() > config.InactivityWarnUser {
		c.state.isInactive = true
	}

	if in.Quit {
		c.state.Running = false
		return
	}

	// Commands only make sense while the match is on
	if c.state.Screen != ScreenWaiting && c.state.Screen != ScreenPlaying {
		return
	}

	if in.Ready {
		c.host.SetReady(c.handle.ID, !c.state.Member.Ready)
	}
	if in.Number > 0 && in.Number <= len(c.templates) {
		c.state.Template = c.templates[in.Number-1]
		c.host.SelectTemplate(c.handle.ID, c.state.Template)
	}
	if in.Spawn {
		c.host.RequestSpawn(c.handle.ID)
	}
}

// processSessionEvents handles events from the session.
func (c *Client) processSessionEvents() {
	for {
		select {
		case event, ok := <-c.handle.Events:
			if !ok {
				// Session closed the channel
				c.state.Running = false
				return
			}
			switch event.Type {
			case session.EventSpawned:
				c.state.Screen = ScreenPlaying
				c.state.LastSpawnFail = ""
			case session.EventSpawnFailed:
				c.state.LastSpawnFail = event.Reason
			case session.EventReturnToLobby:
				c.state.Screen = ScreenLobby
				c.state.lobbyTimer = config.ShutdownDisplaySeconds
			case session.EventServerShutdown:
				c.state.Screen = ScreenShutdown
				c.state.shutdownTimer = config.ShutdownDisplaySeconds
			}
		default:
			return
		}
	}
}

// processSnapshots keeps the latest replicated state.
func (c *Client) processSnapshots() {
	for {
		select {
		case snap, ok := <-c.snapshots:
			if !ok {
				return
			}
			c.state.Snapshot = snap
			c.state.HasSnapshot = true
		default:
			return
		}
	}
}

func (c *Client) refreshMember() {
	if m, ok := c.host.Member(c.handle.ID); ok {
		c.state.Member = m
	}
}

// updateShutdownState handles the shutdown screen countdown.
func (c *Client) updateShutdownState() {
	c.state.shutdownTimer -= c.state.delta.Seconds()
	if c.state.shutdownTimer <= 0 {
		c.state.Running = false
	}
}

// updateLobbyState disconnects the member once the lobby message was shown.
func (c *Client) updateLobbyState() {
	c.state.lobbyTimer -= c.state.delta.Seconds()
	if c.state.lobbyTimer <= 0 {
		c.state.Running = false
	}
}

// drawFrame renders the current view.
func (c *Client) drawFrame() error {
	// On screen or inactivity transitions, do a full terminal clear
	if c.state.Screen != c.state.prevScreen || c.state.isInactive != c.state.wasInactive {
		c.frames.Clear()
		c.state.prevScreen = c.state.Screen
		c.state.wasInactive = c.state.isInactive
	}

	width, height, err := c.termSizeFunc()
	if err != nil {
		width, height = 0, 0
	}

	view := View{
		Name:        c.handle.Name,
		State:       c.state,
		Templates:   c.templates,
		InactiveFor: time.Since(c.lastInput),
	}
	c.frames.Frame(Render(c.renderer, view, width, height))
	return c.frames.Flush()
}
