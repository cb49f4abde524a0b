package draw

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameClearsLeftovers(t *testing.T) {
	var out bytes.Buffer
	fw := NewFrameWriter(&out)

	fw.Frame("a\nb")
	require.NoError(t, fw.Flush())
	assert.Equal(t, "\033[1;1Ha\033[K\033[2;1Hb\033[K\033[J", out.String())
}

func TestClearPrecedesFrame(t *testing.T) {
	var out bytes.Buffer
	fw := NewFrameWriter(&out)

	fw.Clear()
	fw.Frame("x")
	require.NoError(t, fw.Flush())
	assert.True(t, strings.HasPrefix(out.String(), "\033[H\033[2J\033[1;1Hx"))
}

func TestFlushSplitsLargeFrames(t *testing.T) {
	var out bytes.Buffer
	fw := NewFrameWriter(&out)

	line := strings.Repeat("x", 3*maxChunkSize+10)
	fw.Frame(line)
	require.NoError(t, fw.Flush())
	assert.Contains(t, out.String(), line)

	// The buffer is reset after a flush
	n := out.Len()
	require.NoError(t, fw.Flush())
	assert.Equal(t, n, out.Len())
}

func TestTerminalHelpers(t *testing.T) {
	var out bytes.Buffer
	HideCursor(&out)
	ClearScreen(&out)
	ShowCursor(&out)
	assert.Equal(t, "\033[?25l\033[H\033[2J\033[?25h", out.String())
}

func TestRawModeIgnoresNonTerminal(t *testing.T) {
	restore, err := RawMode(-1)
	require.NoError(t, err)
	restore()
}
