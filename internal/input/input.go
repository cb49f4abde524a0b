// Package input turns raw terminal bytes into member commands.
package input

import (
	"bufio"
)

// Input is the set of commands pressed since the last read.
type Input struct {
	Quit    bool
	Ready   bool // Toggle ready
	Spawn   bool // Space or Enter
	Escape  bool
	Number  int // Last digit pressed, -1 if none
	Pressed []byte
}

// Stream delivers input bytes via a channel.
type Stream struct {
	ch     chan byte
	closed bool
}

// StartStream spawns a goroutine that reads from r and sends bytes to the stream.
func StartStream(r *bufio.Reader) *Stream {
	s := &Stream{ch: make(chan byte, 128)}
	go func() {
		for {
			b, err := r.ReadByte()
			if err != nil {
				close(s.ch)
				return
			}
			s.ch <- b
		}
	}()
	return s
}

// Closed reports whether the underlying reader hit EOF or an error.
func (s *Stream) Closed() bool {
	return s.closed
}

// ReadInput drains all available bytes from the stream (non-blocking).
func ReadInput(s *Stream) Input {
	var buf []byte

drain:
	for {
		select {
		case b, ok := <-s.ch:
			if !ok {
				s.closed = true
				break drain
			}
			buf = append(buf, b)
		default:
			break drain
		}
	}

	return Parse(buf)
}

// Parse interprets a batch of bytes. CSI sequences (arrow keys and the like)
// are skipped.
func Parse(buf []byte) Input {
	in := Input{Number: -1, Pressed: buf}

	for i := 0; i < len(buf); i++ {
		b := buf[i]

		if b == '\x1b' && i+1 < len(buf) && buf[i+1] == '[' {
			// Skip to the final byte of the sequence
			i += 2
			for i < len(buf) && (buf[i] < 0x40 || buf[i] > 0x7e) {
				i++
			}
			continue
		}
		applyByte(&in, b)
	}
	return in
}

func applyByte(in *Input, b byte) {
	switch b {
	case 'q', 'Q', 0x03: // 0x03 is Ctrl+C
		in.Quit = true
	case 'r', 'R':
		// Two presses in one batch cancel out
		in.Ready = !in.Ready
	case ' ', '\n', '\r':
		in.Spawn = true
	case '\x1b':
		in.Escape = true
	case '1', '2', '3', '4', '5', '6', '7', '8', '9':
		in.Number = int(b - '0')
	}
}
