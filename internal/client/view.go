package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tomz197/skirmish/internal/loop/config"
)

// View is everything one frame is rendered from.
type View struct {
	Name        string
	State       *State
	Templates   []string
	InactiveFor time.Duration
}

type styles struct {
	header    lipgloss.Style
	label     lipgloss.Style
	value     lipgloss.Style
	dim       lipgloss.Style
	banner    lipgloss.Style
	ready     lipgloss.Style
	notReady  lipgloss.Style
	warning   lipgloss.Style
	selected  lipgloss.Style
	container lipgloss.Style
	footerKey lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header: r.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1),
		label: r.NewStyle().Foreground(lipgloss.Color("45")),
		value: r.NewStyle().Foreground(lipgloss.Color("231")).Bold(true),
		dim:   r.NewStyle().Foreground(lipgloss.Color("245")),
		banner: r.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true).
			Padding(0, 2).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("226")),
		ready:    r.NewStyle().Foreground(lipgloss.Color("46")).Bold(true),
		notReady: r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		warning:  r.NewStyle().Foreground(lipgloss.Color("226")).Bold(true),
		selected: r.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("45")),
		container: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2),
		footerKey: r.NewStyle().Foreground(lipgloss.Color("51")).Bold(true),
	}
}

// Render draws one frame. A zero width or height skips centering.
func Render(r *lipgloss.Renderer, v View, width, height int) string {
	st := newStyles(r)

	var body string
	switch {
	case v.State.Screen == ScreenShutdown:
		body = renderShutdown(st, v)
	case v.State.isInactive:
		body = renderInactive(st, v)
	case v.State.Screen == ScreenLobby:
		body = renderLobby(st)
	default:
		body = renderMatch(st, v)
	}

	if width <= 0 || height <= 0 {
		return body
	}
	return r.Place(width, height, lipgloss.Center, lipgloss.Center, body)
}

func renderMatch(st styles, v View) string {
	s := v.State
	snap := s.Snapshot

	var lines []string
	lines = append(lines, st.header.Render("SKIRMISH"))

	if !s.HasSnapshot {
		lines = append(lines, "", st.dim.Render("Waiting for session state..."))
	} else {
		lines = append(lines, "",
			field(st, "Experience", emptyAs(snap.ExperienceID, "-")),
			field(st, "Phase", snap.Phase),
			field(st, "Time left", formatSeconds(snap.RemainingSeconds)),
		)
		if text := snap.CountdownText(); text != "" {
			lines = append(lines, "", st.banner.Render(text))
		}
	}

	lines = append(lines, "", field(st, "Player", v.Name))
	if s.Member.Ready {
		lines = append(lines, field(st, "Status", st.ready.Render("READY")))
	} else {
		lines = append(lines, field(st, "Status", st.notReady.Render("NOT READY")))
	}

	if e := s.Member.Entity; e != nil {
		lines = append(lines, field(st, "Entity", fmt.Sprintf("%s at spot %d", e.Template, e.Spot.Index)))
	} else {
		lines = append(lines, field(st, "Entity", st.dim.Render("waiting for spawn")))
	}
	if s.LastSpawnFail != "" {
		lines = append(lines, st.warning.Render("Spawn failed: "+s.LastSpawnFail))
	}

	if len(v.Templates) > 0 {
		var opts []string
		for i, t := range v.Templates {
			label := fmt.Sprintf("%d %s", i+1, t)
			if t == s.Template {
				label = st.selected.Render(label)
			}
			opts = append(opts, label)
		}
		lines = append(lines, "", st.label.Render("Templates: ")+strings.Join(opts, "  "))
	}

	lines = append(lines, "", footer(st, v))
	return st.container.Render(strings.Join(lines, "\n"))
}

func renderLobby(st styles) string {
	return st.container.Render(strings.Join([]string{
		st.header.Render("MATCH OVER"),
		"",
		"Returning to lobby.",
		st.dim.Render("Press Q to disconnect now"),
	}, "\n"))
}

func renderShutdown(st styles, v View) string {
	remaining := int(v.State.shutdownTimer) + 1
	return st.container.Render(strings.Join([]string{
		st.warning.Render("SERVER SHUTTING DOWN"),
		"",
		"The server is restarting for maintenance.",
		"Please reconnect in a moment.",
		"",
		fmt.Sprintf("Disconnecting in %d seconds...", remaining),
		st.dim.Render("Press Q to disconnect now"),
	}, "\n"))
}

func renderInactive(st styles, v View) string {
	left := max(0, int(config.InactivityDisconnectUser-v.InactiveFor.Seconds()))
	return st.container.Render(strings.Join([]string{
		st.warning.Render("INACTIVITY WARNING"),
		"",
		fmt.Sprintf("You have been inactive for too long. You will be disconnected in %d seconds.", left),
		"",
		st.dim.Render("Press any key to continue"),
	}, "\n"))
}

func footer(st styles, v View) string {
	keys := []string{
		st.footerKey.Render("r") + st.dim.Render(" ready"),
		st.footerKey.Render("space") + st.dim.Render(" spawn"),
	}
	if n := len(v.Templates); n > 0 {
		keys = append(keys, st.footerKey.Render(fmt.Sprintf("1-%d", n))+st.dim.Render(" template"))
	}
	keys = append(keys, st.footerKey.Render("q")+st.dim.Render(" quit"))
	return strings.Join(keys, st.dim.Render(" · "))
}

func field(st styles, label, value string) string {
	return st.label.Render(fmt.Sprintf("%-11s", label)) + st.value.Render(value)
}

func formatSeconds(n int) string {
	if n <= 0 {
		return "--:--"
	}
	return fmt.Sprintf("%02d:%02d", n/60, n%60)
}

func emptyAs(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
