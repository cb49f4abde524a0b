// Package draw writes frames to a terminal.
package draw

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Frames are written in pieces no larger than one TCP segment so a slow SSH
// channel does not stall on a single large write.
const maxChunkSize = 1400

const (
	seqClear      = "\033[H\033[2J"
	seqClearLine  = "\033[K"
	seqClearBelow = "\033[J"
)

// FrameWriter buffers one frame at a time and sends it in chunks on Flush.
type FrameWriter struct {
	buf    strings.Builder
	out    *bufio.Writer
	numBuf [20]byte
}

// NewFrameWriter creates a FrameWriter over w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{out: bufio.NewWriterSize(w, 8192)}
}

// Clear queues a full screen clear ahead of the next frame.
func (fw *FrameWriter) Clear() {
	fw.buf.WriteString(seqClear)
}

// Frame queues frame, one line per terminal row from the top. Each row is
// cleared past its end and everything below the last row is erased, so a
// shorter frame leaves nothing of the previous one behind without flicker.
func (fw *FrameWriter) Frame(frame string) {
	for i, line := range strings.Split(frame, "\n") {
		fw.buf.WriteString("\033[")
		fw.buf.Write(strconv.AppendInt(fw.numBuf[:0], int64(i+1), 10))
		fw.buf.WriteString(";1H")
		fw.buf.WriteString(line)
		fw.buf.WriteString(seqClearLine)
	}
	fw.buf.WriteString(seqClearBelow)
}

// Flush sends what was queued and resets the buffer.
func (fw *FrameWriter) Flush() error {
	data := fw.buf.String()
	fw.buf.Reset()
	for len(data) > 0 {
		n := min(len(data), maxChunkSize)
		if _, err := fw.out.WriteString(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return fw.out.Flush()
}

// TermSizeFunc reports the terminal dimensions.
type TermSizeFunc func() (width, height int, err error)

// DefaultTermSizeFunc reads the size of the terminal on os.Stdout.
var DefaultTermSizeFunc TermSizeFunc = func() (int, int, error) {
	return term.GetSize(int(os.Stdout.Fd()))
}

// ClearScreen clears the terminal and homes the cursor.
func ClearScreen(w io.Writer) {
	fmt.Fprint(w, seqClear)
}

// HideCursor hides the terminal cursor.
func HideCursor(w io.Writer) {
	fmt.Fprint(w, "\033[?25l")
}

// ShowCursor shows the terminal cursor.
func ShowCursor(w io.Writer) {
	fmt.Fprint(w, "\033[?25h")
}

// RawMode puts the terminal behind fd into raw mode and returns a func that
// restores it. When fd is not a terminal, it does nothing.
func RawMode(fd int) (restore func(), err error) {
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to enable raw mode: %w", err)
	}
	return func() { _ = term.Restore(fd, old) }, nil
}
