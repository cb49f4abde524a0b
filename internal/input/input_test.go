package input

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := map[string]struct {
		in   string
		want Input
	}{
		"quit":            {"q", Input{Quit: true, Number: -1}},
		"ctrl c":          {"\x03", Input{Quit: true, Number: -1}},
		"ready":           {"r", Input{Ready: true, Number: -1}},
		"ready twice":     {"rR", Input{Number: -1}},
		"spawn":           {"\r", Input{Spawn: true, Number: -1}},
		"digit":           {"3", Input{Number: 3}},
		"last digit wins": {"38", Input{Number: 8}},
		"arrow skipped":   {"\x1b[A", Input{Number: -1}},
		"escape":          {"\x1b", Input{Escape: true, Number: -1}},
		"mixed":           {"\x1b[1;5Cr ", Input{Ready: true, Spawn: true, Number: -1}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := Parse([]byte(tt.in))
			got.Pressed = nil
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreamDrainsAndCloses(t *testing.T) {
	s := StartStream(bufio.NewReader(strings.NewReader("r2")))

	var got Input
	assert.Eventually(t, func() bool {
		in := ReadInput(s)
		if in.Ready {
			got.Ready = true
		}
		if in.Number >= 0 {
			got.Number = in.Number
		}
		return s.Closed()
	}, time.Second, 5*time.Millisecond)

	assert.True(t, got.Ready)
	assert.Equal(t, 2, got.Number)
}
