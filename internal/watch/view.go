package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tomz197/skirmish/internal/experience"
)

// Render draws the follower status. Source names the transport being followed.
func Render(r *lipgloss.Renderer, source string, st Status) string {
	header := r.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("141")).
		Bold(true).
		Padding(0, 1)
	label := r.NewStyle().Foreground(lipgloss.Color("45")).Width(12)
	value := r.NewStyle().Foreground(lipgloss.Color("231")).Bold(true)
	dim := r.NewStyle().Foreground(lipgloss.Color("245"))
	bad := r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	good := r.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)

	row := func(name, v string) string {
		return label.Render(name) + v
	}

	var b strings.Builder
	b.WriteString(header.Render("SKIRMISH WATCH") + " " + dim.Render(source) + "\n\n")

	if !st.HasSnapshot {
		b.WriteString(dim.Render("Waiting for session state...") + "\n")
	} else {
		s := st.Snapshot
		b.WriteString(row("Session", value.Render(s.SessionID)) + "\n")
		b.WriteString(row("Sequence", value.Render(fmt.Sprint(s.Seq))) + "\n")
		b.WriteString(row("Experience", value.Render(s.ExperienceID)) + "\n")
		b.WriteString(row("Phase", value.Render(s.Phase)) + "\n")
		b.WriteString(row("Time left", value.Render(formatSeconds(s.RemainingSeconds))) + "\n")
		if text := s.CountdownText(); text != "" {
			b.WriteString(row("Banner", value.Render(text)) + "\n")
		}
	}

	b.WriteString("\n")
	state := value.Render(st.LoadState.String())
	switch st.LoadState {
	case experience.Ready:
		state = good.Render(st.LoadState.String())
	case experience.Failed:
		state = bad.Render(st.LoadState.String())
	}
	local := dim.Render("none")
	if !st.Experience.IsZero() {
		local = value.Render(st.Experience.String())
	}
	b.WriteString(row("Local", local+" "+state) + "\n")
	if st.Failure != "" {
		b.WriteString(row("Failure", bad.Render(st.Failure)) + "\n")
	}
	modules := dim.Render("none")
	if len(st.Modules) > 0 {
		modules = value.Render(strings.Join(st.Modules, ", "))
	}
	b.WriteString(row("Modules", modules) + "\n")
	b.WriteString(row("Switches", value.Render(fmt.Sprint(st.Applied))) + "\n\n")
	b.WriteString(dim.Render("q quit"))

	return b.String()
}

func formatSeconds(n int) string {
	if n <= 0 {
		return "--:--"
	}
	return fmt.Sprintf("%02d:%02d", n/60, n%60)
}
